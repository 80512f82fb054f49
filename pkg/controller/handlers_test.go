package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/helvethink/sf-trigger-toggler/pkg/schemas"
)

func do(t *testing.T, mux *http.ServeMux, method, path, body string) (int, DeploymentResponse) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var resp DeploymentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())

	return rec.Code, resp
}

func counterValue(t *testing.T, c *Controller, outcome string) float64 {
	t.Helper()

	m := &dto.Metric{}
	require.NoError(t, c.ToggleRequests.WithLabelValues(outcome).Write(m))

	return m.GetCounter().GetValue()
}

func TestToggleTriggerHandlerSuccess(t *testing.T) {
	client := &fakeSalesforce{jobID: "0Af000000000001", statuses: []schemas.DeploymentJob{inProgress(), succeeded()}}
	c, mux := newTestController(t, client)

	code, resp := do(t, mux, http.MethodPost, "/api/toggle-trigger", `{
		"username": "john@acme.com",
		"password": "s3cret",
		"securityToken": "TOKEN",
		"triggerApiName": "AccountTrigger",
		"status": "off"
	}`)

	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	assert.Empty(t, resp.Error)
	require.NotNil(t, resp.Response)
	assert.Equal(t, "0Af000000000001", resp.Response.ID)
	assert.Equal(t, schemas.DeployStatusSucceeded, resp.Response.Status)
	assert.Equal(t, schemas.TriggerStatusInactive, resp.Response.TargetStatus)
	assert.Equal(t, 2, resp.Response.Attempts)

	assert.Equal(t, "TOKEN", client.creds.SecurityToken)
	assert.Equal(t, float64(1), counterValue(t, c, "success"))
}

func TestToggleTriggerHandlerRoutes(t *testing.T) {
	for _, route := range []string{"/api/toggle-trigger", "/api/toggletrigger", "/deploy-trigger"} {
		client := &fakeSalesforce{jobID: "X", statuses: []schemas.DeploymentJob{succeeded()}}
		_, mux := newTestController(t, client)

		code, resp := do(t, mux, http.MethodPost, route, `{
			"orgUrl": "https://acme.my.salesforce.com",
			"sessionId": "00D!abc",
			"triggerApiName": "AccountTrigger",
			"active": true
		}`)

		assert.Equal(t, http.StatusOK, code, route)
		require.NotNil(t, resp.Response, route)
		assert.Equal(t, schemas.TriggerStatusActive, resp.Response.TargetStatus, route)
	}
}

func TestToggleTriggerHandlerRejectsGet(t *testing.T) {
	_, mux := newTestController(t, &fakeSalesforce{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/toggle-trigger", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestToggleTriggerHandlerBadRequests(t *testing.T) {
	for name, tc := range map[string]struct {
		body  string
		field string
	}{
		"empty body":       {body: ""},
		"malformed json":   {body: `{"triggerApiName":`},
		"missing trigger":  {body: `{"username":"u","password":"p","status":"on"}`, field: "triggerApiName"},
		"invalid trigger":  {body: `{"username":"u","password":"p","triggerApiName":"Foo; DROP","status":"on"}`, field: "triggerApiName"},
		"missing status":   {body: `{"username":"u","password":"p","triggerApiName":"AccountTrigger"}`, field: "status"},
		"invalid status":   {body: `{"username":"u","password":"p","triggerApiName":"AccountTrigger","status":"maybe"}`, field: "status"},
		"no credentials":   {body: `{"triggerApiName":"AccountTrigger","status":"on"}`},
		"missing password": {body: `{"username":"u","triggerApiName":"AccountTrigger","status":"on"}`, field: "password"},
	} {
		t.Run(name, func(t *testing.T) {
			client := &fakeSalesforce{jobID: "X", statuses: []schemas.DeploymentJob{succeeded()}}
			c, mux := newTestController(t, client)

			code, resp := do(t, mux, http.MethodPost, "/api/toggle-trigger", tc.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)

			if tc.field != "" {
				assert.Contains(t, resp.Error, tc.field)
			}

			auth, checks := client.calls()
			assert.Zero(t, auth+checks)
			assert.Equal(t, float64(1), counterValue(t, c, "invalid_request"))
		})
	}
}

func TestToggleTriggerHandlerAuthenticationError(t *testing.T) {
	client := &fakeSalesforce{authErr: &schemas.AuthenticationError{Reason: "authentication failure", StatusCode: 400}}
	c, mux := newTestController(t, client)

	code, resp := do(t, mux, http.MethodPost, "/api/toggle-trigger",
		`{"username":"john@acme.com","password":"wrong","triggerApiName":"AccountTrigger","status":"on"}`)

	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Contains(t, resp.Error, "authentication failure")
	assert.NotContains(t, resp.Error, "wrong")
	assert.Nil(t, resp.Response)
	assert.Equal(t, float64(1), counterValue(t, c, "authentication_failed"))
}

func TestToggleTriggerHandlerDeployFailed(t *testing.T) {
	client := &fakeSalesforce{jobID: "X", statuses: []schemas.DeploymentJob{failed()}}
	_, mux := newTestController(t, client)

	code, resp := do(t, mux, http.MethodPost, "/api/toggle-trigger",
		`{"username":"john@acme.com","password":"s3cret","triggerApiName":"AccountTrigger","status":"on"}`)

	assert.Equal(t, http.StatusInternalServerError, code)
	assert.False(t, resp.Success)
	assert.Equal(t, "X", resp.JobID)
	assert.False(t, resp.TimedOut)
	require.NotNil(t, resp.Response)
	require.Len(t, resp.Response.ComponentFailures, 1)
	assert.Equal(t, "Invalid status", resp.Response.ComponentFailures[0].Problem)
}

func TestToggleTriggerHandlerPollTimeout(t *testing.T) {
	client := &fakeSalesforce{jobID: "X", statuses: []schemas.DeploymentJob{inProgress()}}
	c, mux := newTestController(t, client)

	code, resp := do(t, mux, http.MethodPost, "/api/toggle-trigger",
		`{"username":"john@acme.com","password":"s3cret","triggerApiName":"AccountTrigger","status":"on"}`)

	assert.Equal(t, http.StatusInternalServerError, code)
	assert.True(t, resp.TimedOut)
	assert.Equal(t, "X", resp.JobID)
	require.NotNil(t, resp.Response)
	assert.False(t, resp.Response.Done)

	_, checks := client.calls()
	assert.Equal(t, c.Config.Deploy.MaxPollAttempts, checks)
	assert.Equal(t, float64(1), counterValue(t, c, "poll_timeout"))
}

func TestCheckDeploymentHandler(t *testing.T) {
	client := &fakeSalesforce{statuses: []schemas.DeploymentJob{succeeded()}}
	c, mux := newTestController(t, client)

	require.NoError(t, c.Store.SetDeploymentJob(context.Background(), schemas.DeploymentJob{
		ID:           "X",
		TriggerName:  "AccountTrigger",
		TargetStatus: schemas.TriggerStatusActive,
		Status:       schemas.DeployStatusInProgress,
		Attempts:     15,
	}))

	code, resp := do(t, mux, http.MethodPost, "/api/deployments/X/check",
		`{"orgUrl":"https://acme.my.salesforce.com","sessionId":"00D!abc"}`)

	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Response)
	assert.True(t, resp.Response.Done)
	assert.Equal(t, "AccountTrigger", resp.Response.TriggerName)
	assert.Equal(t, 16, resp.Response.Attempts)
}

func TestCheckDeploymentHandlerRequiresCredentials(t *testing.T) {
	client := &fakeSalesforce{statuses: []schemas.DeploymentJob{succeeded()}}
	_, mux := newTestController(t, client)

	code, _ := do(t, mux, http.MethodPost, "/api/deployments/X/check", `{"orgUrl":"https://acme.my.salesforce.com"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	auth, checks := client.calls()
	assert.Zero(t, auth+checks)
}

func TestGetDeploymentHandler(t *testing.T) {
	c, mux := newTestController(t, &fakeSalesforce{})

	code, resp := do(t, mux, http.MethodGet, "/api/deployments/unknown", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "unknown", resp.JobID)

	j := succeeded()
	j.ID = "X"
	j.TriggerName = "AccountTrigger"
	j.UpdatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, c.Store.SetDeploymentJob(context.Background(), j))

	code, resp = do(t, mux, http.MethodGet, "/api/deployments/X", "")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	assert.Contains(t, resp.Age, "hours ago")
	require.NotNil(t, resp.Response)
	assert.Equal(t, "AccountTrigger", resp.Response.TriggerName)
}

func TestMetricsHandler(t *testing.T) {
	c, _ := newTestController(t, &fakeSalesforce{})

	j := failed()
	j.ID = "X"
	j.TriggerName = "AccountTrigger"
	j.UpdatedAt = time.Now()
	require.NoError(t, c.Store.SetDeploymentJob(context.Background(), j))

	c.ToggleRequests.WithLabelValues("deploy_failed").Inc()
	c.TaskController.TaskSchedulingMonitoring = NewTaskSchedulingMonitoring()
	c.TaskController.monitorLastTaskScheduling(schemas.TaskTypeGarbageCollectDeployments)

	rec := httptest.NewRecorder()
	c.MetricsHandler(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `sftt_deployment_status{job_id="X",status="Failed",target_status="",trigger="AccountTrigger"} 1`)
	assert.Contains(t, body, `sftt_deployments_count{status="Failed"} 1`)
	assert.Contains(t, body, `sftt_deployment_component_errors{job_id="X",target_status="",trigger="AccountTrigger"} 1`)
	assert.Contains(t, body, `sftt_toggle_requests_total{outcome="deploy_failed"} 1`)
	assert.Contains(t, body, `sftt_task_last_run_timestamp{task_type="GarbageCollectDeployments"}`)
	assert.Contains(t, body, "sftt_currently_queued_tasks_count 0")
}

func TestMetricsHandlerLeavesCallerSpanOpen(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	c, _ := newTestController(t, &fakeSalesforce{})

	ctx, parent := provider.Tracer("test").Start(context.Background(), "scrape")

	rec := httptest.NewRecorder()
	c.MetricsHandler(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil).WithContext(ctx))
	assert.Equal(t, http.StatusOK, rec.Code)

	var ended []string
	for _, s := range recorder.Ended() {
		ended = append(ended, s.Name())
	}

	assert.Contains(t, ended, "controller:MetricsHandler")
	assert.NotContains(t, ended, "scrape")

	parent.End()
}

func TestHealthCheckHandlerWithoutSalesforce(t *testing.T) {
	c, _ := newTestController(t, &fakeSalesforce{})

	h := c.HealthCheckHandler(context.Background())

	rec := httptest.NewRecorder()
	h.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "success", outcome(nil))
	assert.Equal(t, "invalid_request", outcome(&schemas.ValidationError{}))
	assert.Equal(t, "submission_failed", outcome(&schemas.DeploySubmissionError{}))
	assert.Equal(t, "deploy_failed", outcome(&schemas.DeployFailedError{}))
	assert.Equal(t, "error", outcome(context.Canceled))
}
