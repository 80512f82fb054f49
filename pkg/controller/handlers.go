package controller

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/heptiolabs/healthcheck"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/xeonx/timeago"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/helvethink/sf-trigger-toggler/pkg/config"
	"github.com/helvethink/sf-trigger-toggler/pkg/deploy"
	"github.com/helvethink/sf-trigger-toggler/pkg/schemas"
)

const maxRequestBodySize = 1 << 20

// CredentialsRequest carries either a password login or an existing session.
type CredentialsRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	SecurityToken string `json:"securityToken"`
	OrgURL        string `json:"orgUrl"`
	SessionID     string `json:"sessionId"`
}

// Credentials converts the request into schemas.Credentials.
func (r CredentialsRequest) Credentials() schemas.Credentials {
	return schemas.Credentials{
		Username:      r.Username,
		Password:      r.Password,
		SecurityToken: r.SecurityToken,
		SessionID:     r.SessionID,
		InstanceURL:   r.OrgURL,
	}
}

// ToggleTriggerRequest is the body of a toggle request. The target status is
// given either as a status string or as the active flag.
type ToggleTriggerRequest struct {
	CredentialsRequest

	TriggerName string `json:"triggerApiName" validate:"required,trigger_name"`
	Status      string `json:"status"         validate:"required_without=Active"`
	Active      *bool  `json:"active"`
}

// TargetStatus returns the requested status, the status string prevailing over the active flag.
func (r ToggleTriggerRequest) TargetStatus() string {
	if r.Status == "" && r.Active != nil {
		return schemas.TriggerStatusFromBool(*r.Active).String()
	}

	return r.Status
}

// DeploymentResponse is returned by the toggle and deployment endpoints.
type DeploymentResponse struct {
	Success  bool                   `json:"success"`
	Error    string                 `json:"error,omitempty"`
	JobID    string                 `json:"jobId,omitempty"`
	TimedOut bool                   `json:"timedOut,omitempty"`
	Age      string                 `json:"age,omitempty"`
	Response *schemas.DeploymentJob `json:"response,omitempty"`
}

var requestFields = map[string]string{
	"TriggerName": "triggerApiName",
	"Status":      "status",
}

// HealthCheckHandler creates and returns a health check handler for the controller.
func (c *Controller) HealthCheckHandler(ctx context.Context) (h healthcheck.Handler) {
	h = healthcheck.NewHandler()

	if c.Config.Salesforce.EnableHealthCheck && c.Salesforce != nil {
		h.AddReadinessCheck("salesforce-reachable", c.Salesforce.ReadinessCheck(ctx))
	} else {
		log.WithContext(ctx).
			Warn("salesforce health check has been disabled. Readiness checks won't be operated.")
	}

	return
}

// MetricsHandler serves the /metrics HTTP endpoint to expose Prometheus metrics.
func (c *Controller) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "controller:MetricsHandler")
	defer span.End()

	registry := NewRegistry(ctx, c.ToggleRequests)

	jobs, err := c.Store.DeploymentJobs(ctx)
	if err != nil {
		log.WithContext(ctx).
			WithError(err).
			Error("reading deployment jobs from the store")
	}

	if err := registry.ExportInternalMetrics(ctx, c.Salesforce, c.Store, jobs, c.TaskController.TaskSchedulingMonitoring.Statuses()); err != nil {
		log.WithContext(ctx).
			WithError(err).
			Warn("exporting internal metrics")
	}

	registry.ExportDeploymentJobs(jobs)

	otelhttp.NewHandler(
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{
			Registry:          registry,
			EnableOpenMetrics: c.Config.Server.Metrics.EnableOpenmetricsEncoding,
		}),
		"/metrics",
	).ServeHTTP(w, r.WithContext(ctx))
}

// RegisterAPIHandlers registers the deployment endpoints on mux, including the
// legacy toggle routes.
func (c *Controller) RegisterAPIHandlers(mux *http.ServeMux) {
	for _, route := range []string{"/api/toggle-trigger", "/api/toggletrigger", "/deploy-trigger"} {
		mux.Handle("POST "+route, otelhttp.NewHandler(http.HandlerFunc(c.ToggleTriggerHandler), route))
	}

	mux.Handle("POST /api/deployments/{id}/check", otelhttp.NewHandler(http.HandlerFunc(c.CheckDeploymentHandler), "/api/deployments/check"))
	mux.Handle("GET /api/deployments/{id}", otelhttp.NewHandler(http.HandlerFunc(c.GetDeploymentHandler), "/api/deployments"))
}

// ToggleTriggerHandler switches a trigger on or off and answers once the
// deploy is done or its polling budget ran out.
func (c *Controller) ToggleTriggerHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := requestLogger(r)

	var req ToggleTriggerRequest
	if err := decodeBody(w, r, &req); err != nil {
		c.countToggle(err)
		writeError(w, err, schemas.DeploymentJob{})

		return
	}

	if err := validateRequest(req); err != nil {
		c.countToggle(err)
		writeError(w, err, schemas.DeploymentJob{})

		return
	}

	logger = logger.WithField("trigger", req.TriggerName)
	logger.Debug("toggle request received")

	j, err := c.Orchestrator.Toggle(ctx, deploy.Request{
		Credentials: req.Credentials(),
		TriggerName: req.TriggerName,
		Status:      req.TargetStatus(),
	})
	c.countToggle(err)

	if err != nil {
		logger.WithError(err).Warn("toggle request failed")
		writeError(w, err, j)

		return
	}

	writeJSON(w, http.StatusOK, DeploymentResponse{Success: true, JobID: j.ID, Response: &j})
}

// CheckDeploymentHandler polls again a deploy whose polling budget ran out.
func (c *Controller) CheckDeploymentHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := r.PathValue("id")

	var req CredentialsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err, schemas.DeploymentJob{})
		return
	}

	session, err := c.Orchestrator.Authenticate(ctx, req.Credentials())
	if err != nil {
		writeError(w, err, schemas.DeploymentJob{})
		return
	}

	j, err := c.Orchestrator.PollStatus(ctx, session, jobID, c.Orchestrator.Options.Policy)
	if err != nil {
		requestLogger(r).
			WithField("job-id", jobID).
			WithError(err).
			Warn("deployment check failed")
		writeError(w, err, j)

		return
	}

	writeJSON(w, http.StatusOK, DeploymentResponse{Success: true, JobID: j.ID, Response: &j})
}

// GetDeploymentHandler returns the last known state of a deploy from the store.
func (c *Controller) GetDeploymentHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	j := schemas.DeploymentJob{ID: r.PathValue("id")}

	exists, err := c.Store.DeploymentJobExists(ctx, j.Key())
	if err != nil {
		writeError(w, err, schemas.DeploymentJob{})
		return
	}

	if !exists {
		writeJSON(w, http.StatusNotFound, DeploymentResponse{Error: "unknown deployment job", JobID: j.ID})
		return
	}

	if err = c.Store.GetDeploymentJob(ctx, &j); err != nil {
		writeError(w, err, schemas.DeploymentJob{})
		return
	}

	resp := DeploymentResponse{Success: j.Done && j.Success, JobID: j.ID, Response: &j}
	if !j.UpdatedAt.IsZero() {
		resp.Age = timeago.English.Format(j.UpdatedAt)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (c *Controller) countToggle(err error) {
	if c.ToggleRequests != nil {
		c.ToggleRequests.WithLabelValues(outcome(err)).Inc()
	}
}

// outcome names the class of err for metrics.
func outcome(err error) string {
	var (
		vErr       *schemas.ValidationError
		authErr    *schemas.AuthenticationError
		subErr     *schemas.DeploySubmissionError
		timeoutErr *schemas.PollTimeoutError
		failedErr  *schemas.DeployFailedError
	)

	switch {
	case err == nil:
		return "success"
	case errors.As(err, &vErr):
		return "invalid_request"
	case errors.As(err, &authErr):
		return "authentication_failed"
	case errors.As(err, &subErr):
		return "submission_failed"
	case errors.As(err, &timeoutErr):
		return "poll_timeout"
	case errors.As(err, &failedErr):
		return "deploy_failed"
	}

	return "error"
}

func requestLogger(r *http.Request) *log.Entry {
	return log.WithContext(r.Context()).WithFields(log.Fields{
		"ip-address": r.RemoteAddr,
		"user-agent": r.UserAgent(),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return &schemas.ValidationError{Reason: "empty request body"}
	}

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(v); err != nil {
		return &schemas.ValidationError{Reason: "malformed json body"}
	}

	return nil
}

func validateRequest(req ToggleTriggerRequest) error {
	err := config.Validator().Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
		fe := fieldErrors[0]

		reason := "is required"
		if fe.Tag() == "trigger_name" {
			reason = "must be a valid Apex trigger API name"
		}

		return &schemas.ValidationError{Field: requestFields[fe.Field()], Reason: reason}
	}

	return &schemas.ValidationError{Reason: err.Error()}
}

// writeError maps err onto a status code: 400 for invalid requests, 500 otherwise.
// Jobs that ran out of polling budget carry their id so that callers can check them later.
func writeError(w http.ResponseWriter, err error, j schemas.DeploymentJob) {
	status := http.StatusInternalServerError
	resp := DeploymentResponse{Error: err.Error()}

	var (
		vErr       *schemas.ValidationError
		timeoutErr *schemas.PollTimeoutError
		failedErr  *schemas.DeployFailedError
	)

	switch {
	case errors.As(err, &vErr):
		status = http.StatusBadRequest
	case errors.As(err, &timeoutErr):
		resp.JobID = timeoutErr.JobID
		resp.TimedOut = true
		resp.Response = &j
	case errors.As(err, &failedErr):
		resp.JobID = failedErr.Job.ID
		resp.Response = &failedErr.Job
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("writing response")
	}
}
