package resolver

import (
	"go.adatlab.hu/idp/internal/federation"
)

// Assertion is a verified foreign-login assertion: the provider, the profile
// it returned, the scopes it granted and the credentials it issued. Every
// request variant carries one.
type Assertion struct {
	Provider    string
	Profile     federation.ExternalUserInfo
	Scopes      []string
	Credentials federation.Credentials
}

// Request is the closed set of resolution requests. Exactly four variants
// exist; Resolve dispatches on the concrete type.
type Request interface {
	assertion() Assertion
}

// DirectAssertion is a bare foreign-login assertion with no user decision
// attached. It resolves automatically or fails with MustLink.
type DirectAssertion struct {
	Assertion
}

// PasswordLink links the asserted foreign identity to an existing local
// account identified by username and password.
type PasswordLink struct {
	Assertion
	UserName string
	Password string
}

// CreateAndLink creates a new local account with user-chosen credentials and
// links the asserted foreign identity to it.
type CreateAndLink struct {
	Assertion
	UserName     string
	Password     string
	Confirmation string
}

// SilentCreateAndLink creates a new local account with generated credentials
// and links the asserted foreign identity to it.
type SilentCreateAndLink struct {
	Assertion
}

func (a Assertion) assertion() Assertion { return a }
