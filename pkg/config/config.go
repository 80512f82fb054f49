package config

import (
	"fmt"
	"sync"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/helvethink/sf-trigger-toggler/pkg/metadata"
	"github.com/helvethink/sf-trigger-toggler/pkg/salesforce"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Config holds all the configuration parameters necessary for properly configuring the application.
type Config struct {
	Log            Log            `yaml:"log"`             // Log holds configuration related to logging.
	OpenTelemetry  OpenTelemetry  `yaml:"opentelemetry"`   // OpenTelemetry contains configuration settings for tracing.
	Server         Server         `yaml:"server"`          // Server holds configuration related to the HTTP server.
	Salesforce     Salesforce     `yaml:"salesforce"`      // Salesforce holds how to reach and authenticate against Salesforce.
	Deploy         Deploy         `yaml:"deploy"`          // Deploy holds how trigger packages are built, submitted and polled.
	Redis          Redis          `yaml:"redis"`           // Redis holds configuration parameters for connecting to Redis.
	GarbageCollect GarbageCollect `yaml:"garbage_collect"` // GarbageCollect contains configuration for the cleanup of stored jobs.
}

// Log holds configuration settings related to runtime logging.
type Log struct {
	// Level sets the logging verbosity level.
	// Valid values: trace, debug, info, warning, error, fatal, panic.
	Level string `default:"info" validate:"required,oneof=trace debug info warning error fatal panic" yaml:"level"`

	// Format sets the output format of the logs, "text" or "json".
	Format string `default:"text" validate:"oneof=text json" yaml:"format"`
}

// OpenTelemetry holds configuration related to OpenTelemetry integration.
type OpenTelemetry struct {
	// GRPCEndpoint is the gRPC address of the OpenTelemetry collector to send traces to.
	GRPCEndpoint string `yaml:"grpc_endpoint"`
}

// Server holds the configuration for the HTTP server.
type Server struct {
	ListenAddress string        `default:":8080" yaml:"listen_address"`
	EnablePprof   bool          `default:"false" yaml:"enable_pprof"`
	Metrics       ServerMetrics `yaml:"metrics"`

	// ShutdownTimeoutSeconds bounds how long in-flight requests are waited for on shutdown.
	ShutdownTimeoutSeconds int `default:"30" validate:"gte=1" yaml:"shutdown_timeout_seconds"`
}

// ServerMetrics holds configuration for the metrics HTTP endpoint.
type ServerMetrics struct {
	EnableOpenmetricsEncoding bool `default:"false" yaml:"enable_openmetrics_encoding"`
	Enabled                   bool `default:"true" yaml:"enabled"`
}

// Salesforce holds the configuration needed to reach a Salesforce org.
type Salesforce struct {
	// LoginURL is the base URL of the login and OAuth endpoints.
	// Use https://test.salesforce.com for sandboxes.
	LoginURL string `default:"https://login.salesforce.com" validate:"required,url" yaml:"login_url"`

	// HealthURL is requested by the readiness probe. Defaults to <login_url>/services/data/.
	HealthURL string `validate:"omitempty,url" yaml:"health_url"`

	// ClientID and ClientSecret identify the connected app used for the OAuth
	// username-password flow. Neither the soap auth mode nor caller-supplied
	// sessions need them.
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	AuthMode   string `default:"oauth" validate:"oneof=oauth soap" yaml:"auth_mode"`
	APIVersion string `default:"61.0" validate:"required,sf_api_version" yaml:"api_version"`

	EnableHealthCheck          bool `default:"true" yaml:"enable_health_check"`
	EnableTLSVerify            bool `default:"true" yaml:"enable_tls_verify"`
	MaximumRequestsPerSecond   int  `default:"10" validate:"gte=1" yaml:"maximum_requests_per_second"`
	BurstableRequestsPerSecond int  `default:"10" validate:"gte=1" yaml:"burstable_requests_per_second"`

	// TransportRetries is the number of attempts for a request failing at the
	// transport level or with a gateway error. SOAP faults are never retried.
	TransportRetries      uint `default:"3" validate:"gte=1,lte=10" yaml:"transport_retries"`
	RequestTimeoutSeconds int  `default:"60" validate:"gte=1" yaml:"request_timeout_seconds"`
}

// Deploy holds how trigger packages are built, submitted and polled.
type Deploy struct {
	PollIntervalSeconds int `default:"3" validate:"gte=1" yaml:"poll_interval_seconds"`
	MaxPollAttempts     int `default:"15" validate:"gte=1" yaml:"max_poll_attempts"`

	// PollDeadlineSeconds, when positive, is a wall-clock budget for the polling
	// done while the caller waits.
	PollDeadlineSeconds int `default:"0" validate:"gte=0" yaml:"poll_deadline_seconds"`

	// IncludeTriggerBody adds a placeholder trigger body to the package, needed
	// when the trigger does not exist yet in the target org.
	IncludeTriggerBody bool   `default:"true" yaml:"include_trigger_body"`
	PlaceholderSObject string `default:"Account" validate:"required,sobject_name" yaml:"placeholder_sobject"`

	TestLevel      string `default:"NoTestRun" validate:"oneof=NoTestRun RunLocalTests RunAllTestsInOrg" yaml:"test_level"`
	CheckOnly      bool   `default:"false" yaml:"check_only"`
	IgnoreWarnings bool   `default:"false" yaml:"ignore_warnings"`

	// TrackInBackground keeps polling jobs whose synchronous polling budget ran
	// out, so that their final state ends up in the store.
	TrackInBackground       bool `default:"true" yaml:"track_in_background"`
	TrackingIntervalSeconds int  `default:"30" validate:"gte=1" yaml:"tracking_interval_seconds"`
	TrackingMaxAttempts     int  `default:"40" validate:"gte=1" yaml:"tracking_max_attempts"`

	// MaximumJobsQueueSize bounds the number of background tasks waiting in the queue.
	MaximumJobsQueueSize int `default:"1000" validate:"gte=10" yaml:"maximum_jobs_queue_size"`
}

// Redis holds the configuration for connecting to a Redis instance.
type Redis struct {
	// URL is the connection string used to connect to the Redis server.
	// Format example: redis[s]://[:password@]host[:port][/db-number][?option=value]
	URL string `yaml:"url"`
}

// GarbageCollect holds configuration for periodic cleanup tasks.
type GarbageCollect struct {
	// Deployments configures the removal of finished deployment jobs from the store.
	Deployments struct {
		OnInit          bool `default:"false" yaml:"on_init"`
		Scheduled       bool `default:"true" yaml:"scheduled"`
		IntervalSeconds int  `default:"600" validate:"gte=1" yaml:"interval_seconds"`

		// RetentionSeconds is how long a job is kept after its last update.
		RetentionSeconds int `default:"86400" validate:"gte=1" yaml:"retention_seconds"`
	} `yaml:"deployments"`
}

// UnmarshalYAML applies the defaults before decoding so that omitted keys keep them.
func (c *Config) UnmarshalYAML(v *yaml.Node) (err error) {
	type localConfig Config

	_cfg := localConfig{}
	defaults.MustSet(&_cfg)

	if err = v.Decode(&_cfg); err != nil {
		return
	}

	*c = Config(_cfg)

	return
}

// ToYAML serializes the Config, masking secrets.
func (c Config) ToYAML() string {
	if c.Salesforce.ClientSecret != "" {
		c.Salesforce.ClientSecret = "*******"
	}

	b, err := yaml.Marshal(c)
	if err != nil {
		panic(err)
	}

	return string(b)
}

// Validator returns the validator used for the configuration. On top of the
// builtin rules it knows trigger_name, sobject_name and sf_api_version.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("trigger_name", ValidateTriggerName)
		_ = validate.RegisterValidation("sobject_name", ValidateSObjectName)
		_ = validate.RegisterValidation("sf_api_version", ValidateAPIVersion)
	})

	return validate
}

// Validate checks the Config against its validation tags.
func (c Config) Validate() error {
	return Validator().Struct(c)
}

// ValidateTriggerName accepts Apex trigger API names.
func ValidateTriggerName(fl validator.FieldLevel) bool {
	return metadata.ValidateTriggerName(fl.Field().String()) == nil
}

// ValidateSObjectName accepts standard and custom object API names.
func ValidateSObjectName(fl validator.FieldLevel) bool {
	return metadata.ValidateSObjectName(fl.Field().String()) == nil
}

// ValidateAPIVersion accepts supported Salesforce API versions.
func ValidateAPIVersion(fl validator.FieldLevel) bool {
	_, err := salesforce.NewAPIVersion(fl.Field().String())
	return err == nil
}

// SchedulerConfig defines common scheduling behavior for background tasks.
type SchedulerConfig struct {
	OnInit          bool
	Scheduled       bool
	IntervalSeconds int
}

// Log returns a structured representation of the scheduler configuration.
func (sc SchedulerConfig) Log() log.Fields {
	onInit, scheduled := "no", "no"

	if sc.OnInit {
		onInit = "yes"
	}

	if sc.Scheduled {
		scheduled = fmt.Sprintf("every %vs", sc.IntervalSeconds)
	}

	return log.Fields{
		"on-init":   onInit,
		"scheduled": scheduled,
	}
}

// New returns a new Config instance with default parameters set.
func New() (c Config) {
	defaults.MustSet(&c)
	return
}
