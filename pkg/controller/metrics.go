package controller

import (
	"context"
	"fmt"
	"reflect"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/helvethink/sf-trigger-toggler/pkg/salesforce"
	"github.com/helvethink/sf-trigger-toggler/pkg/schemas"
	"github.com/helvethink/sf-trigger-toggler/pkg/store"
)

// Registry wraps a pointer to prometheus.Registry and manages metric collectors.
type Registry struct {
	*prometheus.Registry

	// InternalCollectors holds metrics about the service itself.
	InternalCollectors struct {
		CurrentlyQueuedTasksCount      prometheus.Collector
		ExecutedTasksCount             prometheus.Collector
		SalesforceAPIRequestsCount     prometheus.Collector
		SalesforceAPIRequestsPerSecond prometheus.Collector
		DeploymentsCount               prometheus.Collector
		TaskLastRunTimestamp           prometheus.Collector
		TaskNextRunTimestamp           prometheus.Collector
	}

	// Collectors maps each MetricKind to its Prometheus collector.
	Collectors RegistryCollectors
}

// RegistryCollectors defines a mapping between metric kinds and their Prometheus collectors.
type RegistryCollectors map[schemas.MetricKind]prometheus.Collector

// NewRegistry initializes and returns a new Registry instance with all the necessary collectors registered.
// Additional collectors, such as long-lived counters, are registered as well.
func NewRegistry(ctx context.Context, additional ...prometheus.Collector) *Registry {
	r := &Registry{
		Registry: prometheus.NewRegistry(),
		Collectors: RegistryCollectors{
			schemas.MetricKindDeploymentStatus:          NewCollectorDeploymentStatus(),
			schemas.MetricKindDeploymentComponentErrors: NewCollectorDeploymentComponentErrors(),
			schemas.MetricKindDeploymentStatusChecks:    NewCollectorDeploymentStatusChecks(),
			schemas.MetricKindDeploymentTimestamp:       NewCollectorDeploymentTimestamp(),
		},
	}

	r.RegisterInternalCollectors()

	if err := r.RegisterCollectors(additional...); err != nil {
		log.WithContext(ctx).
			Fatal(err)
	}

	return r
}

// RegisterInternalCollectors declares and registers the internal metrics.
func (r *Registry) RegisterInternalCollectors() {
	r.InternalCollectors.CurrentlyQueuedTasksCount = NewInternalCollectorCurrentlyQueuedTasksCount()
	r.InternalCollectors.ExecutedTasksCount = NewInternalCollectorExecutedTasksCount()
	r.InternalCollectors.SalesforceAPIRequestsCount = NewInternalCollectorSalesforceAPIRequestsCount()
	r.InternalCollectors.SalesforceAPIRequestsPerSecond = NewInternalCollectorSalesforceAPIRequestsRate()
	r.InternalCollectors.DeploymentsCount = NewInternalCollectorDeploymentsCount()
	r.InternalCollectors.TaskLastRunTimestamp = NewCollectorTaskLastRunTimestamp()
	r.InternalCollectors.TaskNextRunTimestamp = NewCollectorTaskNextRunTimestamp()

	_ = r.Register(r.InternalCollectors.CurrentlyQueuedTasksCount)
	_ = r.Register(r.InternalCollectors.ExecutedTasksCount)
	_ = r.Register(r.InternalCollectors.SalesforceAPIRequestsCount)
	_ = r.Register(r.InternalCollectors.SalesforceAPIRequestsPerSecond)
	_ = r.Register(r.InternalCollectors.DeploymentsCount)
	_ = r.Register(r.InternalCollectors.TaskLastRunTimestamp)
	_ = r.Register(r.InternalCollectors.TaskNextRunTimestamp)
}

// ExportInternalMetrics reads the internal statistics from the store, the
// Salesforce client and the scheduler, and sets the internal collectors.
func (r *Registry) ExportInternalMetrics(
	ctx context.Context,
	sf *salesforce.Client,
	s store.Store,
	jobs schemas.DeploymentJobs,
	scheduling map[schemas.TaskType]TaskSchedulingStatus,
) (err error) {
	var currentlyQueuedTasks, executedTasksCount uint64

	if currentlyQueuedTasks, err = s.CurrentlyQueuedTasksCount(ctx); err != nil {
		return
	}

	if executedTasksCount, err = s.ExecutedTasksCount(ctx); err != nil {
		return
	}

	r.InternalCollectors.CurrentlyQueuedTasksCount.(*prometheus.GaugeVec).With(prometheus.Labels{}).Set(float64(currentlyQueuedTasks))
	r.InternalCollectors.ExecutedTasksCount.(*prometheus.GaugeVec).With(prometheus.Labels{}).Set(float64(executedTasksCount))

	if sf != nil {
		r.InternalCollectors.SalesforceAPIRequestsCount.(*prometheus.GaugeVec).With(prometheus.Labels{}).Set(float64(sf.RequestsCounter.Load()))
		r.InternalCollectors.SalesforceAPIRequestsPerSecond.(*prometheus.GaugeVec).With(prometheus.Labels{}).Set(float64(sf.RateCounter.Rate()))
	}

	counts := jobs.CountByStatus()
	for _, status := range schemas.DeployStatuses {
		r.InternalCollectors.DeploymentsCount.(*prometheus.GaugeVec).
			With(prometheus.Labels{"status": string(status)}).
			Set(float64(counts[status]))
	}

	for tt, st := range scheduling {
		labels := prometheus.Labels{"task_type": string(tt)}

		if !st.Last.IsZero() {
			r.InternalCollectors.TaskLastRunTimestamp.(*prometheus.GaugeVec).With(labels).Set(float64(st.Last.Unix()))
		}

		if !st.Next.IsZero() {
			r.InternalCollectors.TaskNextRunTimestamp.(*prometheus.GaugeVec).With(labels).Set(float64(st.Next.Unix()))
		}
	}

	return
}

// RegisterCollectors adds the per-kind collectors and the additional ones to the Prometheus registry.
func (r *Registry) RegisterCollectors(additional ...prometheus.Collector) error {
	for _, c := range r.Collectors {
		if err := r.Register(c); err != nil {
			return fmt.Errorf("could not add provided collector '%v' to the Prometheus registry: %v", c, err)
		}
	}

	for _, c := range additional {
		if err := r.Register(c); err != nil {
			return fmt.Errorf("could not add provided collector '%v' to the Prometheus registry: %v", c, err)
		}
	}

	return nil
}

// GetCollector returns the Prometheus collector associated with the given metric kind.
func (r *Registry) GetCollector(kind schemas.MetricKind) prometheus.Collector {
	return r.Collectors[kind]
}

// ExportMetrics updates the corresponding Prometheus collectors with the provided metric data.
func (r *Registry) ExportMetrics(metrics schemas.Metrics) {
	for _, m := range metrics {
		switch c := r.GetCollector(m.Kind).(type) {
		case *prometheus.GaugeVec:
			c.With(m.Labels).Set(m.Value)
		case *prometheus.CounterVec:
			c.With(m.Labels).Add(m.Value)
		default:
			log.Errorf("unsupported collector type : %v", reflect.TypeOf(c))
		}
	}
}

// ExportDeploymentJobs exports the metrics of every job.
func (r *Registry) ExportDeploymentJobs(jobs schemas.DeploymentJobs) {
	for _, j := range jobs {
		r.ExportMetrics(j.Metrics())
	}
}
