package resolver

import (
	"errors"
	"fmt"

	"go.adatlab.hu/idp/domain"
	"go.adatlab.hu/idp/internal/federation"
)

// Principal is the outcome of a successful resolution: the linked local
// account and the roles it holds.
type Principal struct {
	User  *domain.User
	Roles []string
}

// MustLinkError signals that no automatic resolution was possible. It is a
// decision point, not a user-facing error: the caller re-invokes Resolve with
// PasswordLink, CreateAndLink or SilentCreateAndLink, using the surfaced
// profile to drive the prompt.
type MustLinkError struct {
	Provider string
	Profile  federation.ExternalUserInfo
}

func (e *MustLinkError) Error() string {
	return fmt.Sprintf("no local account linked to %s identity %s", e.Provider, e.Profile.ProviderUserID)
}

// ErrLoginFailed is the single failure for PasswordLink. Unknown username and
// wrong password deliberately produce the same value so account existence is
// not disclosed.
var ErrLoginFailed = errors.New("login failed")

// ErrAuthenticationFailed is the generic failure surfaced by the silent
// creation path, which must not leak validation details for values the user
// never chose.
var ErrAuthenticationFailed = errors.New("authentication failed")

// CreateFailure enumerates the validation and uniqueness failures of account
// creation.
type CreateFailure string

const (
	CreateFailureBadUserName       CreateFailure = "bad_user_name"
	CreateFailureAlreadyExists     CreateFailure = "already_exists"
	CreateFailurePasswordTooWeak   CreateFailure = "password_too_weak"
	CreateFailurePasswordsNotEqual CreateFailure = "passwords_not_equal"
)

// CreateAndLinkError reports why a CreateAndLink request was rejected.
type CreateAndLinkError struct {
	Reason CreateFailure
}

func (e *CreateAndLinkError) Error() string {
	return fmt.Sprintf("account creation failed: %s", e.Reason)
}

// AsMustLink unwraps err into a MustLinkError, if it is one.
func AsMustLink(err error) (*MustLinkError, bool) {
	var mustLink *MustLinkError
	if errors.As(err, &mustLink) {
		return mustLink, true
	}
	return nil, false
}

// AsCreateAndLinkError unwraps err into a CreateAndLinkError, if it is one.
func AsCreateAndLinkError(err error) (*CreateAndLinkError, bool) {
	var createErr *CreateAndLinkError
	if errors.As(err, &createErr) {
		return createErr, true
	}
	return nil, false
}
