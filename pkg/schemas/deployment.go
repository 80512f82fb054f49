package schemas

import "time"

// DeployStatus mirrors the DeployStatus enumeration of the Metadata API.
type DeployStatus string

const (
	DeployStatusPending          DeployStatus = "Pending"
	DeployStatusInProgress       DeployStatus = "InProgress"
	DeployStatusSucceeded        DeployStatus = "Succeeded"
	DeployStatusSucceededPartial DeployStatus = "SucceededPartial"
	DeployStatusFailed           DeployStatus = "Failed"
	DeployStatusCanceling        DeployStatus = "Canceling"
	DeployStatusCanceled         DeployStatus = "Canceled"
)

// DeployStatuses lists every known status, used for metrics.
var DeployStatuses = [...]DeployStatus{
	DeployStatusPending,
	DeployStatusInProgress,
	DeployStatusSucceeded,
	DeployStatusSucceededPartial,
	DeployStatusFailed,
	DeployStatusCanceling,
	DeployStatusCanceled,
}

// Terminal reports whether no further transition is expected.
func (s DeployStatus) Terminal() bool {
	switch s {
	case DeployStatusSucceeded, DeployStatusSucceededPartial, DeployStatusFailed, DeployStatusCanceled:
		return true
	}

	return false
}

// ComponentFailure describes why a single component of a deploy was rejected.
type ComponentFailure struct {
	ComponentType string `json:"componentType,omitempty" msgpack:"component_type"`
	FullName      string `json:"fullName,omitempty"      msgpack:"full_name"`
	FileName      string `json:"fileName,omitempty"      msgpack:"file_name"`
	Problem       string `json:"problem,omitempty"       msgpack:"problem"`
	ProblemType   string `json:"problemType,omitempty"   msgpack:"problem_type"`
	LineNumber    int    `json:"lineNumber,omitempty"    msgpack:"line_number"`
	ColumnNumber  int    `json:"columnNumber,omitempty"  msgpack:"column_number"`
}

// DeploymentJobKey identifies a DeploymentJob in the store.
type DeploymentJobKey string

// DeploymentJob is an asynchronous deploy operation as last observed.
// Once Done is true the job never changes again.
type DeploymentJob struct {
	ID           string        `json:"id"                     msgpack:"id"`
	TriggerName  string        `json:"triggerApiName"         msgpack:"trigger_name"`
	TargetStatus TriggerStatus `json:"targetStatus"           msgpack:"target_status"`

	Done            bool         `json:"done"                      msgpack:"done"`
	Status          DeployStatus `json:"status"                    msgpack:"status"`
	Success         bool         `json:"success"                   msgpack:"success"`
	ErrorMessage    string       `json:"errorMessage,omitempty"    msgpack:"error_message"`
	ErrorStatusCode string       `json:"errorStatusCode,omitempty" msgpack:"error_status_code"`

	NumberComponentsTotal    int                `json:"numberComponentsTotal"       msgpack:"number_components_total"`
	NumberComponentsDeployed int                `json:"numberComponentsDeployed"    msgpack:"number_components_deployed"`
	NumberComponentErrors    int                `json:"numberComponentErrors"       msgpack:"number_component_errors"`
	ComponentFailures        []ComponentFailure `json:"componentFailures,omitempty" msgpack:"component_failures"`

	// Attempts counts the checkDeployStatus calls made by this process.
	Attempts  int       `json:"attempts"  msgpack:"attempts"`
	CreatedAt time.Time `json:"createdAt" msgpack:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" msgpack:"updated_at"`
}

// Key returns the store key of the job.
func (j DeploymentJob) Key() DeploymentJobKey {
	return DeploymentJobKey(j.ID)
}

// Failed reports whether the job finished without deploying the trigger.
func (j DeploymentJob) Failed() bool {
	return j.Done && !j.Success
}

// Observe merges a fresh status observation into the job, keeping the
// request-side attributes (trigger, target status, creation time) intact.
// Observations on a job that is already done are ignored.
func (j *DeploymentJob) Observe(o DeploymentJob, at time.Time) {
	if j.Done {
		return
	}

	o.TriggerName = j.TriggerName
	o.TargetStatus = j.TargetStatus
	o.CreatedAt = j.CreatedAt
	o.Attempts = j.Attempts
	o.UpdatedAt = at

	if o.ID == "" {
		o.ID = j.ID
	}

	*j = o
}

// DefaultLabelsValues returns the labels used when exporting a job as metrics.
func (j DeploymentJob) DefaultLabelsValues() map[string]string {
	return map[string]string{
		"trigger":       j.TriggerName,
		"target_status": string(j.TargetStatus),
	}
}

// DeploymentJobs is a set of jobs indexed by key.
type DeploymentJobs map[DeploymentJobKey]DeploymentJob

// Count returns the number of jobs.
func (jobs DeploymentJobs) Count() int {
	return len(jobs)
}

// CountByStatus groups the jobs by their last known status.
func (jobs DeploymentJobs) CountByStatus() map[DeployStatus]int {
	counts := make(map[DeployStatus]int, len(DeployStatuses))
	for _, j := range jobs {
		counts[j.Status]++
	}

	return counts
}
