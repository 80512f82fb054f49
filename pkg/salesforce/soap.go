package salesforce

import (
	"bytes"
	"encoding/xml"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/helvethink/sf-trigger-toggler/pkg/schemas"
)

const (
	soapEnvelopeNamespace = "http://schemas.xmlsoap.org/soap/envelope/"
	metadataNamespace     = "http://soap.sforce.com/2006/04/metadata"
	partnerNamespace      = "urn:partner.soap.sforce.com"

	soapContentType = "text/xml; charset=UTF-8"

	faultInvalidSessionID = "INVALID_SESSION_ID"
)

// requestEnvelope is the outgoing SOAP envelope. Content must carry its own
// XMLName so that it is rendered with the right element name.
type requestEnvelope struct {
	XMLName   xml.Name       `xml:"soapenv:Envelope"`
	SoapEnv   string         `xml:"xmlns:soapenv,attr"`
	Namespace string         `xml:"xmlns:ns,attr"`
	Header    *requestHeader `xml:"soapenv:Header,omitempty"`
	Body      requestBody    `xml:"soapenv:Body"`
}

type requestHeader struct {
	SessionHeader sessionHeader `xml:"ns:SessionHeader"`
}

type sessionHeader struct {
	SessionID string `xml:"ns:sessionId"`
}

type requestBody struct {
	Content any
}

func newEnvelope(namespace, sessionID string, content any) requestEnvelope {
	e := requestEnvelope{
		SoapEnv:   soapEnvelopeNamespace,
		Namespace: namespace,
		Body:      requestBody{Content: content},
	}

	if sessionID != "" {
		e.Header = &requestHeader{SessionHeader: sessionHeader{SessionID: sessionID}}
	}

	return e
}

func marshalEnvelope(e requestEnvelope) ([]byte, error) {
	data, err := xml.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "encoding soap envelope")
	}

	return append([]byte(xml.Header), data...), nil
}

// responseEnvelope matches on local names only, whatever prefix the server picked.
type responseEnvelope struct {
	Body struct {
		Fault                     *Fault                     `xml:"Fault"`
		LoginResponse             *loginResponse             `xml:"loginResponse"`
		DeployResponse            *deployResponse            `xml:"deployResponse"`
		CheckDeployStatusResponse *checkDeployStatusResponse `xml:"checkDeployStatusResponse"`
	} `xml:"Body"`
}

// Fault is a SOAP fault returned by Salesforce.
type Fault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

func (f *Fault) Error() string {
	return "soap fault " + f.Code + ": " + f.String
}

// ExceptionCode strips the namespace prefix of the fault code, e.g.
// "sf:INVALID_SESSION_ID" becomes "INVALID_SESSION_ID".
func (f *Fault) ExceptionCode() string {
	if i := strings.LastIndex(f.Code, ":"); i >= 0 {
		return f.Code[i+1:]
	}

	return f.Code
}

func hasFault(body []byte) bool {
	return bytes.Contains(body, []byte("Fault>"))
}

func parseEnvelope(resp rawResponse) (*responseEnvelope, error) {
	env := &responseEnvelope{}
	if err := xml.Unmarshal(resp.Body, env); err != nil {
		return nil, errors.Wrapf(err, "decoding soap response (http %d)", resp.StatusCode)
	}

	if env.Body.Fault != nil {
		return env, env.Body.Fault
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return env, errors.Errorf("unexpected http status %d", resp.StatusCode)
	}

	return env, nil
}

// sessionError turns invalid session faults and 401s into an AuthenticationError.
func sessionError(resp rawResponse, err error) error {
	var fault *Fault
	if errors.As(err, &fault) && fault.ExceptionCode() == faultInvalidSessionID {
		return &schemas.AuthenticationError{
			Reason:     fault.String,
			StatusCode: resp.StatusCode,
		}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return &schemas.AuthenticationError{
			Reason:     "session rejected",
			StatusCode: resp.StatusCode,
		}
	}

	return nil
}
