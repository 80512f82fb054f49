package salesforce

import (
	"context"
	"encoding/xml"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.openly.dev/pointy"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/helvethink/sf-trigger-toggler/pkg/schemas"
)

// TestLevel values accepted by the deploy call.
const (
	TestLevelNoTestRun        = "NoTestRun"
	TestLevelRunLocalTests    = "RunLocalTests"
	TestLevelRunAllTestsInOrg = "RunAllTestsInOrg"
)

// DeployOptions are the subset of Metadata API deploy options we set.
// Nil pointers are left to the server default.
type DeployOptions struct {
	CheckOnly       *bool  `xml:"ns:checkOnly,omitempty"`
	IgnoreWarnings  *bool  `xml:"ns:ignoreWarnings,omitempty"`
	PerformRetrieve *bool  `xml:"ns:performRetrieve,omitempty"`
	RollbackOnError *bool  `xml:"ns:rollbackOnError,omitempty"`
	SinglePackage   *bool  `xml:"ns:singlePackage,omitempty"`
	TestLevel       string `xml:"ns:testLevel,omitempty"`
}

// DefaultDeployOptions returns the options used to flip a single trigger.
func DefaultDeployOptions() DeployOptions {
	return DeployOptions{
		CheckOnly:       pointy.Bool(false),
		PerformRetrieve: pointy.Bool(false),
		RollbackOnError: pointy.Bool(true),
		SinglePackage:   pointy.Bool(true),
		TestLevel:       TestLevelNoTestRun,
	}
}

type deployRequest struct {
	XMLName xml.Name      `xml:"ns:deploy"`
	ZipFile string        `xml:"ns:ZipFile"`
	Options DeployOptions `xml:"ns:DeployOptions"`
}

type deployResponse struct {
	Result struct {
		ID    string `xml:"id"`
		Done  bool   `xml:"done"`
		State string `xml:"state"`
	} `xml:"result"`
}

type checkDeployStatusRequest struct {
	XMLName        xml.Name `xml:"ns:checkDeployStatus"`
	AsyncProcessID string   `xml:"ns:asyncProcessId"`
	IncludeDetails bool     `xml:"ns:includeDetails"`
}

type checkDeployStatusResponse struct {
	Result deployResult `xml:"result"`
}

type deployResult struct {
	ID                       string `xml:"id"`
	Done                     bool   `xml:"done"`
	Status                   string `xml:"status"`
	Success                  bool   `xml:"success"`
	ErrorMessage             string `xml:"errorMessage"`
	ErrorStatusCode          string `xml:"errorStatusCode"`
	NumberComponentsTotal    int    `xml:"numberComponentsTotal"`
	NumberComponentsDeployed int    `xml:"numberComponentsDeployed"`
	NumberComponentErrors    int    `xml:"numberComponentErrors"`
	Details                  struct {
		ComponentFailures []struct {
			ComponentType string `xml:"componentType"`
			FullName      string `xml:"fullName"`
			FileName      string `xml:"fileName"`
			Problem       string `xml:"problem"`
			ProblemType   string `xml:"problemType"`
			LineNumber    int    `xml:"lineNumber"`
			ColumnNumber  int    `xml:"columnNumber"`
		} `xml:"componentFailures"`
	} `xml:"details"`
}

func (r deployResult) job() schemas.DeploymentJob {
	j := schemas.DeploymentJob{
		ID:                       r.ID,
		Done:                     r.Done,
		Status:                   schemas.DeployStatus(r.Status),
		Success:                  r.Success,
		ErrorMessage:             r.ErrorMessage,
		ErrorStatusCode:          r.ErrorStatusCode,
		NumberComponentsTotal:    r.NumberComponentsTotal,
		NumberComponentsDeployed: r.NumberComponentsDeployed,
		NumberComponentErrors:    r.NumberComponentErrors,
	}

	for _, f := range r.Details.ComponentFailures {
		j.ComponentFailures = append(j.ComponentFailures, schemas.ComponentFailure{
			ComponentType: f.ComponentType,
			FullName:      f.FullName,
			FileName:      f.FileName,
			Problem:       f.Problem,
			ProblemType:   f.ProblemType,
			LineNumber:    f.LineNumber,
			ColumnNumber:  f.ColumnNumber,
		})
	}

	return j
}

// MetadataURL returns the Metadata SOAP endpoint of an instance.
func (c *Client) MetadataURL(instanceURL string) string {
	return instanceURL + "/services/Soap/m/" + c.APIVersion.String()
}

func (c *Client) callMetadata(ctx context.Context, session schemas.Session, action string, content any) (rawResponse, *responseEnvelope, error) {
	if !session.Valid() {
		return rawResponse{}, nil, &schemas.AuthenticationError{Reason: "session is incomplete"}
	}

	body, err := marshalEnvelope(newEnvelope(metadataNamespace, session.AccessToken, content))
	if err != nil {
		return rawResponse{}, nil, err
	}

	resp, err := c.post(ctx, c.MetadataURL(session.InstanceURL), soapContentType, action, body)
	if err != nil {
		return resp, nil, err
	}

	env, err := parseEnvelope(resp)
	if err != nil {
		if authErr := sessionError(resp, err); authErr != nil {
			return resp, nil, authErr
		}

		return resp, env, err
	}

	return resp, env, nil
}

// Deploy submits a base64 encoded ZIP archive and returns the id of the
// asynchronous deploy job.
func (c *Client) Deploy(ctx context.Context, session schemas.Session, zipFile string, opts DeployOptions) (string, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "salesforce:Deploy")
	defer span.End()

	_, env, err := c.callMetadata(ctx, session, "deploy", deployRequest{ZipFile: zipFile, Options: opts})
	if err != nil {
		var authErr *schemas.AuthenticationError
		if errors.As(err, &authErr) {
			return "", err
		}

		var fault *Fault
		if errors.As(err, &fault) {
			return "", &schemas.DeploySubmissionError{Reason: fault.String, Err: err}
		}

		return "", &schemas.DeploySubmissionError{Reason: "deploy call failed", Err: err}
	}

	if env.Body.DeployResponse == nil || env.Body.DeployResponse.Result.ID == "" {
		return "", &schemas.DeploySubmissionError{Reason: "response carries no job id"}
	}

	id := env.Body.DeployResponse.Result.ID
	span.SetAttributes(attribute.String("job_id", id))

	log.WithContext(ctx).
		WithFields(log.Fields{
			"job-id": id,
			"state":  env.Body.DeployResponse.Result.State,
		}).
		Info("deploy submitted")

	return id, nil
}

// CheckDeployStatus returns the current state of a deploy job.
func (c *Client) CheckDeployStatus(ctx context.Context, session schemas.Session, jobID string, includeDetails bool) (schemas.DeploymentJob, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "salesforce:CheckDeployStatus")
	defer span.End()
	span.SetAttributes(attribute.String("job_id", jobID))

	_, env, err := c.callMetadata(ctx, session, "checkDeployStatus", checkDeployStatusRequest{
		AsyncProcessID: jobID,
		IncludeDetails: includeDetails,
	})
	if err != nil {
		var authErr *schemas.AuthenticationError
		if errors.As(err, &authErr) {
			return schemas.DeploymentJob{}, err
		}

		return schemas.DeploymentJob{}, errors.Wrapf(err, "checking status of deploy %s", jobID)
	}

	if env.Body.CheckDeployStatusResponse == nil {
		return schemas.DeploymentJob{}, errors.Errorf("checkDeployStatus response for %s has no result", jobID)
	}

	j := env.Body.CheckDeployStatusResponse.Result.job()
	if j.ID == "" {
		j.ID = jobID
	}

	j.UpdatedAt = time.Now()

	log.WithContext(ctx).
		WithFields(log.Fields{
			"job-id": j.ID,
			"done":   j.Done,
			"status": j.Status,
		}).
		Debug("deploy status checked")

	return j, nil
}
