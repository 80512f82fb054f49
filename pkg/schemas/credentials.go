package schemas

import "fmt"

// Credentials holds what a caller supplies to obtain a Salesforce session.
// Either Username/Password (optionally with a SecurityToken) or an existing
// SessionID together with the InstanceURL it was issued for.
type Credentials struct {
	Username      string
	Password      string
	SecurityToken string
	SessionID     string
	InstanceURL   string
}

// HasSession reports whether the credentials carry a caller-supplied session.
func (c Credentials) HasSession() bool {
	return c.SessionID != "" && c.InstanceURL != ""
}

// HasPassword reports whether the credentials can be used for a password login.
func (c Credentials) HasPassword() bool {
	return c.Username != "" && c.Password != ""
}

// Secret returns the password with the security token appended, as expected
// by Salesforce password logins originating from untrusted networks.
func (c Credentials) Secret() string {
	return c.Password + c.SecurityToken
}

// String masks every secret so that credentials can never leak through a %v.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Username:%q, Password:%s, SecurityToken:%s, SessionID:%s, InstanceURL:%q}",
		c.Username, mask(c.Password), mask(c.SecurityToken), mask(c.SessionID), c.InstanceURL)
}

// GoString behaves like String for %#v.
func (c Credentials) GoString() string {
	return c.String()
}

// Session is an authenticated Salesforce context.
type Session struct {
	AccessToken string
	InstanceURL string
}

// Valid reports whether both the token and the instance URL are known.
func (s Session) Valid() bool {
	return s.AccessToken != "" && s.InstanceURL != ""
}

// String masks the access token.
func (s Session) String() string {
	return fmt.Sprintf("Session{AccessToken:%s, InstanceURL:%q}", mask(s.AccessToken), s.InstanceURL)
}

// GoString behaves like String for %#v.
func (s Session) GoString() string {
	return s.String()
}

func mask(v string) string {
	if v == "" {
		return `""`
	}

	return "*******"
}
