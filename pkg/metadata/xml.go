package metadata

import (
	"encoding/xml"

	"github.com/helvethink/sf-trigger-toggler/pkg/schemas"
)

// Namespace is the Metadata API XML namespace.
const Namespace = "http://soap.sforce.com/2006/04/metadata"

// Manifest is the package.xml document.
type Manifest struct {
	XMLName xml.Name        `xml:"http://soap.sforce.com/2006/04/metadata Package"`
	Types   []ManifestTypes `xml:"types"`
	Version string          `xml:"version"`
}

// ManifestTypes lists the members of one metadata type.
type ManifestTypes struct {
	Members []string `xml:"members"`
	Name    string   `xml:"name"`
}

// TriggerDescriptor is the <name>.trigger-meta.xml document.
type TriggerDescriptor struct {
	XMLName    xml.Name              `xml:"http://soap.sforce.com/2006/04/metadata ApexTrigger"`
	APIVersion string                `xml:"apiVersion"`
	Status     schemas.TriggerStatus `xml:"status"`
}

func marshalDocument(v interface{}) ([]byte, error) {
	b, err := xml.MarshalIndent(v, "", "    ")
	if err != nil {
		return nil, err
	}

	return append([]byte(xml.Header), append(b, '\n')...), nil
}
