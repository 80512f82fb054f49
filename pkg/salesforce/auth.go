package salesforce

import (
	"context"
	"encoding/xml"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/helvethink/sf-trigger-toggler/pkg/schemas"
)

// AuthMode selects how username/password credentials are exchanged for a session.
type AuthMode string

const (
	// AuthModeOAuth uses the OAuth 2.0 username-password flow of a connected app.
	AuthModeOAuth AuthMode = "oauth"

	// AuthModeSOAP uses the login call of the partner SOAP API.
	AuthModeSOAP AuthMode = "soap"
)

// Valid reports whether the mode is supported.
func (m AuthMode) Valid() bool {
	return m == AuthModeOAuth || m == AuthModeSOAP
}

// Authenticate resolves credentials into a session. A caller-supplied session
// is used as is; otherwise a password login is made with the configured mode.
func (c *Client) Authenticate(ctx context.Context, creds schemas.Credentials) (schemas.Session, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "salesforce:Authenticate")
	defer span.End()

	switch {
	case creds.HasSession():
		span.SetAttributes(attribute.String("auth_mode", "session"))

		instanceURL, err := ValidateInstanceURL(creds.InstanceURL)
		if err != nil {
			return schemas.Session{}, err
		}

		return schemas.Session{AccessToken: creds.SessionID, InstanceURL: instanceURL}, nil

	case creds.HasPassword():
		span.SetAttributes(attribute.String("auth_mode", string(c.AuthMode)))

		if c.AuthMode == AuthModeSOAP {
			return c.soapLogin(ctx, creds)
		}

		return c.passwordGrant(ctx, creds)
	}

	return schemas.Session{}, &schemas.ValidationError{
		Reason: "either username and password or sessionId and orgUrl are required",
	}
}

// ValidateInstanceURL checks that u is an absolute http(s) URL and returns it
// without trailing slash.
func ValidateInstanceURL(u string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(u))
	if err != nil || (parsed.Scheme != "https" && parsed.Scheme != "http") || parsed.Host == "" {
		return "", &schemas.ValidationError{Field: "orgUrl", Reason: "must be an absolute http(s) url"}
	}

	return strings.TrimSuffix(parsed.String(), "/"), nil
}

func (c *Client) tokenURL() string {
	return c.LoginURL + "/services/oauth2/token"
}

func (c *Client) passwordGrant(ctx context.Context, creds schemas.Credentials) (schemas.Session, error) {
	if c.ClientID == "" || c.ClientSecret == "" {
		return schemas.Session{}, &schemas.AuthenticationError{Reason: "oauth client id and secret are not configured"}
	}

	conf := &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.tokenURL(),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	if err := c.rateLimit(ctx); err != nil {
		return schemas.Session{}, err
	}

	token, err := conf.PasswordCredentialsToken(context.WithValue(ctx, oauth2.HTTPClient, c.HTTPClient), creds.Username, creds.Secret())
	if err != nil {
		return schemas.Session{}, tokenError(err)
	}

	instanceURL, _ := token.Extra("instance_url").(string)
	if instanceURL == "" {
		return schemas.Session{}, &schemas.AuthenticationError{Reason: "token response has no instance_url"}
	}

	log.WithContext(ctx).
		WithFields(log.Fields{
			"username":     creds.Username,
			"instance-url": instanceURL,
		}).
		Debug("obtained salesforce access token")

	return schemas.Session{AccessToken: token.AccessToken, InstanceURL: strings.TrimSuffix(instanceURL, "/")}, nil
}

func tokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		ae := &schemas.AuthenticationError{Reason: re.ErrorDescription}
		if ae.Reason == "" {
			ae.Reason = re.ErrorCode
		}

		if ae.Reason == "" {
			ae.Reason = "token request rejected"
		}

		if re.Response != nil {
			ae.StatusCode = re.Response.StatusCode
		}

		return ae
	}

	// Missing access token, transport failure or cancellation.
	return &schemas.AuthenticationError{Reason: "token request failed", Err: err}
}

type loginRequest struct {
	XMLName  xml.Name `xml:"ns:login"`
	Username string   `xml:"ns:username"`
	Password string   `xml:"ns:password"`
}

type loginResponse struct {
	Result struct {
		ServerURL         string `xml:"serverUrl"`
		MetadataServerURL string `xml:"metadataServerUrl"`
		SessionID         string `xml:"sessionId"`
		PasswordExpired   bool   `xml:"passwordExpired"`
	} `xml:"result"`
}

func (c *Client) soapLogin(ctx context.Context, creds schemas.Credentials) (schemas.Session, error) {
	body, err := marshalEnvelope(newEnvelope(partnerNamespace, "", loginRequest{
		Username: creds.Username,
		Password: creds.Secret(),
	}))
	if err != nil {
		return schemas.Session{}, err
	}

	resp, err := c.post(ctx, c.LoginURL+"/services/Soap/u/"+c.APIVersion.String(), soapContentType, "login", body)
	if err != nil {
		return schemas.Session{}, &schemas.AuthenticationError{Reason: "login request failed", Err: err}
	}

	env, err := parseEnvelope(resp)
	if err != nil {
		var fault *Fault
		if errors.As(err, &fault) {
			return schemas.Session{}, &schemas.AuthenticationError{Reason: fault.String, StatusCode: resp.StatusCode}
		}

		return schemas.Session{}, &schemas.AuthenticationError{Reason: "unexpected login response", StatusCode: resp.StatusCode, Err: err}
	}

	if env.Body.LoginResponse == nil || env.Body.LoginResponse.Result.SessionID == "" {
		return schemas.Session{}, &schemas.AuthenticationError{Reason: "login response has no session id", StatusCode: resp.StatusCode}
	}

	result := env.Body.LoginResponse.Result
	if result.PasswordExpired {
		return schemas.Session{}, &schemas.AuthenticationError{Reason: "password expired", StatusCode: resp.StatusCode}
	}

	serverURL := result.MetadataServerURL
	if serverURL == "" {
		serverURL = result.ServerURL
	}

	u, err := url.Parse(serverURL)
	if err != nil || u.Host == "" {
		return schemas.Session{}, &schemas.AuthenticationError{Reason: "login response has no server url", StatusCode: resp.StatusCode}
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.String("instance_url", u.Scheme+"://"+u.Host))

	return schemas.Session{AccessToken: result.SessionID, InstanceURL: u.Scheme + "://" + u.Host}, nil
}
