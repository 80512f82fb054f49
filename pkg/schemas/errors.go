package schemas

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrDeploymentFinalized is returned by stores when a done job would be overwritten.
var ErrDeploymentFinalized = errors.New("deployment job is already done")

// ValidationError is raised before any network call for missing or malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}

	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AuthenticationError covers rejected credentials and expired or unknown sessions.
type AuthenticationError struct {
	Reason     string
	StatusCode int
	Err        error
}

func (e *AuthenticationError) Error() string {
	msg := "salesforce authentication failed"
	if e.Reason != "" {
		msg += ": " + e.Reason
	}

	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// DeploySubmissionError is raised when the deploy call is rejected or its
// response does not carry an asynchronous job id.
type DeploySubmissionError struct {
	Reason string
	Err    error
}

func (e *DeploySubmissionError) Error() string {
	msg := "deploy submission failed: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *DeploySubmissionError) Unwrap() error {
	return e.Err
}

// PollTimeoutError means the polling budget ran out while the job was still
// running. The deploy itself may still complete server-side.
type PollTimeoutError struct {
	JobID      string
	Attempts   int
	LastStatus DeployStatus
	// DeadlineExceeded is set when the wall-clock cutoff stopped polling rather
	// than the attempt budget.
	DeadlineExceeded bool
}

func (e *PollTimeoutError) Error() string {
	cause := "attempt budget exhausted"
	if e.DeadlineExceeded {
		cause = "poll deadline exceeded"
	}

	status := string(e.LastStatus)
	if status == "" {
		status = "unknown"
	}

	return fmt.Sprintf("deploy %s not done after %d status checks, %s (last status: %s)", e.JobID, e.Attempts, cause, status)
}

// DeployFailedError is a terminal server-side failure.
type DeployFailedError struct {
	Job DeploymentJob
}

func (e *DeployFailedError) Error() string {
	var problems []string
	for _, f := range e.Job.ComponentFailures {
		if f.FullName != "" {
			problems = append(problems, fmt.Sprintf("%s: %s", f.FullName, f.Problem))
		} else {
			problems = append(problems, f.Problem)
		}
	}

	if len(problems) == 0 && e.Job.ErrorMessage != "" {
		problems = append(problems, e.Job.ErrorMessage)
	}

	msg := fmt.Sprintf("deploy %s finished with status %s", e.Job.ID, e.Job.Status)
	if len(problems) > 0 {
		msg += ": " + strings.Join(problems, "; ")
	}

	return msg
}
