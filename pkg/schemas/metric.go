package schemas

import (
	"fmt"
	"hash/crc32"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricKind is the type of a metric derived from the stored deployment jobs.
type MetricKind int32

const (
	// MetricKindDeploymentStatus is set to 1 for the current status of a job.
	MetricKindDeploymentStatus MetricKind = iota

	// MetricKindDeploymentComponentErrors is the number of rejected components.
	MetricKindDeploymentComponentErrors

	// MetricKindDeploymentStatusChecks is the number of status checks made.
	MetricKindDeploymentStatusChecks

	// MetricKindDeploymentTimestamp is the last update of a job.
	MetricKindDeploymentTimestamp
)

// Metric is a single sample of a MetricKind.
type Metric struct {
	Kind   MetricKind
	Labels prometheus.Labels
	Value  float64
}

// MetricKey identifies a Metric.
type MetricKey string

// Metrics is a set of metrics indexed by key.
type Metrics map[MetricKey]Metric

// Key returns a unique key for the metric, based on its kind and identifying labels.
func (m Metric) Key() MetricKey {
	key := strconv.Itoa(int(m.Kind))
	key += fmt.Sprintf("%v", []string{m.Labels["job_id"], m.Labels["trigger"]})

	if m.Kind == MetricKindDeploymentStatus {
		key += m.Labels["status"]
	}

	return MetricKey(strconv.Itoa(int(crc32.ChecksumIEEE([]byte(key)))))
}

// Metrics returns the samples describing the job. Every known status gets a
// status sample, 1 for the current one and 0 for the others.
func (j DeploymentJob) Metrics() Metrics {
	labels := func(extra map[string]string) prometheus.Labels {
		l := prometheus.Labels{"job_id": j.ID}
		for k, v := range j.DefaultLabelsValues() {
			l[k] = v
		}

		for k, v := range extra {
			l[k] = v
		}

		return l
	}

	metrics := make(Metrics)
	add := func(m Metric) {
		metrics[m.Key()] = m
	}

	for _, s := range DeployStatuses {
		m := Metric{Kind: MetricKindDeploymentStatus, Labels: labels(map[string]string{"status": string(s)})}
		if s == j.Status {
			m.Value = 1
		}

		add(m)
	}

	add(Metric{Kind: MetricKindDeploymentComponentErrors, Labels: labels(nil), Value: float64(j.NumberComponentErrors)})
	add(Metric{Kind: MetricKindDeploymentStatusChecks, Labels: labels(nil), Value: float64(j.Attempts)})

	if !j.UpdatedAt.IsZero() {
		add(Metric{Kind: MetricKindDeploymentTimestamp, Labels: labels(nil), Value: float64(j.UpdatedAt.Unix())})
	}

	return metrics
}
