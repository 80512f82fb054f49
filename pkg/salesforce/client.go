package salesforce

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/heptiolabs/healthcheck"
	"github.com/paulbellamy/ratecounter"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/helvethink/sf-trigger-toggler/pkg/ratelimit"
)

const (
	userAgent  = "sf-trigger-toggler"
	tracerName = "sf-trigger-toggler"

	// DefaultTransportRetries is the number of attempts made for a request
	// failing at the transport level.
	DefaultTransportRetries uint = 3

	// maxResponseSize bounds how much of a response body is read.
	maxResponseSize = 8 << 20
)

// Client talks to the Salesforce login, OAuth and Metadata SOAP endpoints,
// adding rate limiting, request counting, readiness checks and transport retries.
type Client struct {
	HTTPClient *http.Client

	LoginURL     string
	ClientID     string
	ClientSecret string
	AuthMode     AuthMode
	APIVersion   APIVersion
	UserAgent    string

	// Readiness contains what is needed to check that the login endpoint answers.
	Readiness struct {
		URL        string
		HTTPClient *http.Client
	}

	RateLimiter      ratelimit.Limiter
	RateCounter      *ratecounter.RateCounter
	RequestsCounter  atomic.Uint64
	TransportRetries uint

	newBackOff func() backoff.BackOff
}

// ClientConfig holds configuration options needed to instantiate a new Client.
type ClientConfig struct {
	LoginURL         string
	ClientID         string
	ClientSecret     string
	AuthMode         AuthMode
	APIVersion       string
	UserAgentVersion string
	DisableTLSVerify bool
	RequestTimeout   time.Duration
	TransportRetries uint
	ReadinessURL     string
	RateLimiter      ratelimit.Limiter
}

// NewHTTPClient creates an instrumented HTTP client with optional TLS verification disabling.
func NewHTTPClient(disableTLSVerify bool, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: disableTLSVerify} // #nosec G402

	return &http.Client{
		Transport: otelhttp.NewTransport(transport),
		Timeout:   timeout,
	}
}

// NewClient returns a Client configured from cfg.
func NewClient(cfg ClientConfig) (*Client, error) {
	version, err := NewAPIVersion(cfg.APIVersion)
	if err != nil {
		return nil, err
	}

	if cfg.LoginURL == "" {
		return nil, fmt.Errorf("salesforce login url is required")
	}

	authMode := cfg.AuthMode
	if authMode == "" {
		authMode = AuthModeOAuth
	}

	if !authMode.Valid() {
		return nil, fmt.Errorf("unsupported auth mode '%s'", authMode)
	}

	retries := cfg.TransportRetries
	if retries == 0 {
		retries = DefaultTransportRetries
	}

	readinessURL := cfg.ReadinessURL
	if readinessURL == "" {
		readinessURL = strings.TrimSuffix(cfg.LoginURL, "/") + "/services/data/"
	}

	readinessCheckHTTPClient := NewHTTPClient(cfg.DisableTLSVerify, 5*time.Second)

	c := &Client{
		HTTPClient:       NewHTTPClient(cfg.DisableTLSVerify, cfg.RequestTimeout),
		LoginURL:         strings.TrimSuffix(cfg.LoginURL, "/"),
		ClientID:         cfg.ClientID,
		ClientSecret:     cfg.ClientSecret,
		AuthMode:         authMode,
		APIVersion:       version,
		UserAgent:        fmt.Sprintf("%s-%s", userAgent, cfg.UserAgentVersion),
		RateLimiter:      cfg.RateLimiter,
		RateCounter:      ratecounter.NewRateCounter(time.Second),
		TransportRetries: retries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 5 * time.Second

			return b
		},
	}

	c.Readiness.URL = readinessURL
	c.Readiness.HTTPClient = readinessCheckHTTPClient

	return c, nil
}

// ReadinessCheck returns a healthcheck.Check verifying that the login
// endpoint is reachable.
func (c *Client) ReadinessCheck(ctx context.Context) healthcheck.Check {
	return func() error {
		ctx, span := otel.Tracer(tracerName).Start(ctx, "salesforce:ReadinessCheck")
		defer span.End()

		if c.Readiness.HTTPClient == nil {
			return fmt.Errorf("readiness http client not configured")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Readiness.URL, nil)
		if err != nil {
			return err
		}

		resp, err := c.Readiness.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("HTTP error: %d", resp.StatusCode)
		}

		return nil
	}
}

// rateLimit blocks until the limiter lets a request through and accounts for it.
func (c *Client) rateLimit(ctx context.Context) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "salesforce:rateLimit")
	defer span.End()

	if _, err := ratelimit.Take(ctx, c.RateLimiter); err != nil {
		return err
	}

	c.RateCounter.Incr(1)
	c.RequestsCounter.Add(1)

	return nil
}

// transientError marks a failure worth another attempt.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

type rawResponse struct {
	StatusCode int
	Body       []byte
}

// post sends body to url, retrying transport failures and gateway errors.
// Any response carrying a SOAP fault or a 4xx status is returned as is.
func (c *Client) post(ctx context.Context, url, contentType, soapAction string, body []byte) (rawResponse, error) {
	operation := func() (rawResponse, error) {
		if err := c.rateLimit(ctx); err != nil {
			return rawResponse{}, backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return rawResponse{}, backoff.Permanent(err)
		}

		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Accept", "text/xml")
		req.Header.Set("User-Agent", c.UserAgent)

		if soapAction != "" {
			req.Header.Set("SOAPAction", soapAction)
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return rawResponse{}, backoff.Permanent(err)
			}

			return rawResponse{}, &transientError{err: err}
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return rawResponse{}, &transientError{err: err}
		}

		r := rawResponse{StatusCode: resp.StatusCode, Body: data}

		if resp.StatusCode >= http.StatusInternalServerError && !hasFault(data) {
			return r, &transientError{err: fmt.Errorf("HTTP error: %d", resp.StatusCode)}
		}

		return r, nil
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.TransportRetries),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.WithContext(ctx).
				WithFields(log.Fields{
					"action":   soapAction,
					"retry-in": next.String(),
				}).
				WithError(err).
				Warn("salesforce request failed, retrying")
		}),
	)
	if err != nil {
		return resp, errors.Wrapf(err, "calling salesforce (%s)", soapAction)
	}

	return resp, nil
}
