package controller

import "github.com/prometheus/client_golang/prometheus"

var (
	// deploymentLabels identify a deployment job in metrics.
	deploymentLabels = []string{"job_id", "trigger", "target_status"}

	// statusLabels contains labels related to job statuses.
	statusLabels = []string{"status"}

	// taskLabels identify a periodic task.
	taskLabels = []string{"task_type"}

	// outcomeLabels qualify how a toggle request ended.
	outcomeLabels = []string{"outcome"}
)

// NewInternalCollectorCurrentlyQueuedTasksCount returns a collector for the
// number of tasks currently queued.
func NewInternalCollectorCurrentlyQueuedTasksCount() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sftt_currently_queued_tasks_count",
			Help: "Number of tasks in the queue",
		},
		[]string{},
	)
}

// NewInternalCollectorExecutedTasksCount returns a collector for the number of
// tasks executed since the queue was created.
func NewInternalCollectorExecutedTasksCount() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sftt_executed_tasks_count",
			Help: "Number of tasks executed",
		},
		[]string{},
	)
}

// NewInternalCollectorSalesforceAPIRequestsCount returns a collector for the
// number of requests sent to Salesforce.
func NewInternalCollectorSalesforceAPIRequestsCount() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sftt_salesforce_api_requests_count",
			Help: "Salesforce API requests count",
		},
		[]string{},
	)
}

// NewInternalCollectorSalesforceAPIRequestsRate returns a collector for the
// number of requests sent to Salesforce during the last second.
func NewInternalCollectorSalesforceAPIRequestsRate() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sftt_salesforce_api_requests_per_second",
			Help: "Salesforce API requests sent during the last second",
		},
		[]string{},
	)
}

// NewInternalCollectorDeploymentsCount returns a collector for the number of
// deployment jobs in the store, by status.
func NewInternalCollectorDeploymentsCount() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sftt_deployments_count",
			Help: "Number of deployment jobs in the store",
		},
		statusLabels,
	)
}

// NewInternalCollectorToggleRequestsCount returns a counter of the toggle requests served, by outcome.
func NewInternalCollectorToggleRequestsCount() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sftt_toggle_requests_total",
			Help: "Number of trigger toggle requests served, by outcome",
		},
		outcomeLabels,
	)
}

// NewCollectorDeploymentStatus returns a collector for the status of each deployment job.
func NewCollectorDeploymentStatus() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sftt_deployment_status",
			Help: "Status of the deployment job, 1 for the current status",
		},
		append(deploymentLabels, statusLabels...),
	)
}

// NewCollectorDeploymentComponentErrors returns a collector for the number of
// components rejected by each deployment job.
func NewCollectorDeploymentComponentErrors() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sftt_deployment_component_errors",
			Help: "Number of components in error for the deployment job",
		},
		deploymentLabels,
	)
}

// NewCollectorDeploymentStatusChecks returns a collector for the number of
// status checks each deployment job took.
func NewCollectorDeploymentStatusChecks() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sftt_deployment_status_checks",
			Help: "Number of checkDeployStatus calls made for the deployment job",
		},
		deploymentLabels,
	)
}

// NewCollectorDeploymentTimestamp returns a collector for the last update of each deployment job.
func NewCollectorDeploymentTimestamp() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sftt_deployment_timestamp",
			Help: "Timestamp of the last update of the deployment job",
		},
		deploymentLabels,
	)
}

// NewCollectorTaskLastRunTimestamp returns a collector for the last run of the periodic tasks.
func NewCollectorTaskLastRunTimestamp() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sftt_task_last_run_timestamp",
			Help: "Timestamp of the last run of the periodic task",
		},
		taskLabels,
	)
}

// NewCollectorTaskNextRunTimestamp returns a collector for the next scheduled run of the periodic tasks.
func NewCollectorTaskNextRunTimestamp() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sftt_task_next_run_timestamp",
			Help: "Timestamp of the next scheduled run of the periodic task",
		},
		taskLabels,
	)
}
