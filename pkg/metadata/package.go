package metadata

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"fmt"
	"path"

	"github.com/pkg/errors"

	"github.com/helvethink/sf-trigger-toggler/pkg/schemas"
)

const (
	// TypeApexTrigger is the metadata type name of Apex triggers.
	TypeApexTrigger = "ApexTrigger"

	// DefaultSObject is the sObject the placeholder body is declared on.
	DefaultSObject = "Account"

	manifestPath = "package.xml"
	triggersDir  = "triggers"
)

// Options controls how packages are assembled.
type Options struct {
	// APIVersion pins both the manifest and the descriptor, e.g. "61.0".
	APIVersion string

	// IncludeBody adds a placeholder trigger body. The platform requires one
	// when the trigger source does not already exist in the target org.
	IncludeBody bool

	// SObject is the object the placeholder trigger is declared on.
	SObject string
}

// File is one entry of the package archive.
type File struct {
	Path    string
	Content []byte
}

// Package is a deployable unit holding exactly one Apex trigger.
type Package struct {
	TriggerName string
	Status      schemas.TriggerStatus
	APIVersion  string
	Body        string
}

// New validates its input and assembles a Package. No network call is made.
func New(triggerName string, status schemas.TriggerStatus, opts Options) (p Package, err error) {
	if err = ValidateTriggerName(triggerName); err != nil {
		return
	}

	if status != schemas.TriggerStatusActive && status != schemas.TriggerStatusInactive {
		err = &schemas.ValidationError{Field: "status", Reason: fmt.Sprintf("unsupported trigger status %q", status)}
		return
	}

	if opts.APIVersion == "" {
		err = &schemas.ValidationError{Field: "apiVersion", Reason: "must be set"}
		return
	}

	p = Package{
		TriggerName: triggerName,
		Status:      status,
		APIVersion:  opts.APIVersion,
	}

	if opts.IncludeBody {
		sobject := opts.SObject
		if sobject == "" {
			sobject = DefaultSObject
		}

		if err = ValidateSObjectName(sobject); err != nil {
			return Package{}, err
		}

		p.Body = PlaceholderBody(triggerName, sobject)
	}

	return
}

// PlaceholderBody returns a syntactically valid trigger that does nothing.
func PlaceholderBody(triggerName, sobject string) string {
	return fmt.Sprintf("trigger %s on %s (before insert) {\n}\n", triggerName, sobject)
}

// Manifest returns the package.xml content model.
func (p Package) Manifest() Manifest {
	return Manifest{
		Types: []ManifestTypes{
			{
				Members: []string{p.TriggerName},
				Name:    TypeApexTrigger,
			},
		},
		Version: p.APIVersion,
	}
}

// Descriptor returns the trigger-meta.xml content model.
func (p Package) Descriptor() TriggerDescriptor {
	return TriggerDescriptor{
		APIVersion: p.APIVersion,
		Status:     p.Status,
	}
}

// DescriptorPath is the archive path of the trigger descriptor.
func (p Package) DescriptorPath() string {
	return path.Join(triggersDir, p.TriggerName+".trigger-meta.xml")
}

// BodyPath is the archive path of the trigger body.
func (p Package) BodyPath() string {
	return path.Join(triggersDir, p.TriggerName+".trigger")
}

// Files renders every archive entry.
func (p Package) Files() ([]File, error) {
	manifest, err := marshalDocument(p.Manifest())
	if err != nil {
		return nil, errors.Wrap(err, "rendering package.xml")
	}

	descriptor, err := marshalDocument(p.Descriptor())
	if err != nil {
		return nil, errors.Wrap(err, "rendering trigger descriptor")
	}

	files := []File{
		{Path: manifestPath, Content: manifest},
		{Path: p.DescriptorPath(), Content: descriptor},
	}

	if p.Body != "" {
		files = append(files, File{Path: p.BodyPath(), Content: []byte(p.Body)})
	}

	return files, nil
}

// Zip renders the package as a zip archive.
func (p Package) Zip() ([]byte, error) {
	files, err := p.Files()
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	for _, f := range files {
		w, err := zw.Create(f.Path)
		if err != nil {
			return nil, errors.Wrapf(err, "adding %s to archive", f.Path)
		}

		if _, err = w.Write(f.Content); err != nil {
			return nil, errors.Wrapf(err, "writing %s to archive", f.Path)
		}
	}

	if err = zw.Close(); err != nil {
		return nil, errors.Wrap(err, "closing archive")
	}

	return buf.Bytes(), nil
}

// Base64 renders the package as the base64 zip expected by the deploy call.
func (p Package) Base64() (string, error) {
	b, err := p.Zip()
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(b), nil
}
