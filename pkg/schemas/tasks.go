package schemas

// TaskType represents the type of task as a string.
type TaskType string

const (
	// TaskTypeTrackDeployment keeps polling a deploy whose synchronous polling budget ran out.
	TaskTypeTrackDeployment TaskType = "TrackDeployment"

	// TaskTypeGarbageCollectDeployments removes finished deployment records past their retention.
	TaskTypeGarbageCollectDeployments TaskType = "GarbageCollectDeployments"
)

// Tasks is a map structure used to keep track of tasks.
// It maps a TaskType to another map, which associates task identifiers with empty interfaces.
type Tasks map[TaskType]map[string]interface{}

// TrackingRequest is the payload of a TaskTypeTrackDeployment task.
type TrackingRequest struct {
	JobID       string `msgpack:"job_id"`
	AccessToken string `msgpack:"access_token"`
	InstanceURL string `msgpack:"instance_url"`
}

// Session returns the session the job was submitted with.
func (t TrackingRequest) Session() Session {
	return Session{AccessToken: t.AccessToken, InstanceURL: t.InstanceURL}
}
