package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"go.adatlab.hu/idp/domain"
	"go.adatlab.hu/idp/internal/auth"
)

// maxGenerationAttempts caps the silent-creation retry loop. Collisions on a
// 12-character random username are negligible; hitting the cap means something
// is broken and the loop must stop rather than spin.
const maxGenerationAttempts = 10

// DefaultUserRole is granted to every account created through resolution.
const DefaultUserRole = "USER"

// Resolver reconciles foreign-login assertions with local accounts. It is the
// only place identity-to-user mapping decisions are made.
type Resolver struct {
	links   domain.FederatedIdentityRepository
	users   domain.UserDirectory
	pending domain.PendingRegistrationDirectory
	hasher  auth.PasswordHasher

	// scopeRoles maps provider-declared scopes to local roles granted at
	// account creation, in addition to DefaultUserRole.
	scopeRoles map[string]string
}

// New creates a Resolver. scopeRoles may be nil.
func New(
	links domain.FederatedIdentityRepository,
	users domain.UserDirectory,
	pending domain.PendingRegistrationDirectory,
	hasher auth.PasswordHasher,
	scopeRoles map[string]string,
) *Resolver {
	return &Resolver{
		links:      links,
		users:      users,
		pending:    pending,
		hasher:     hasher,
		scopeRoles: scopeRoles,
	}
}

// Resolve turns a resolution request into a linked local principal or a typed
// failure. Every successful path writes or refreshes exactly one federated
// identity link; validation failures perform no writes.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Principal, error) {
	switch v := req.(type) {
	case *DirectAssertion:
		return r.resolveDirect(ctx, v.Assertion)
	case *PasswordLink:
		return r.resolvePasswordLink(ctx, v)
	case *CreateAndLink:
		return r.resolveCreate(ctx, v.Assertion, v.UserName, v.Password, v.Confirmation)
	case *SilentCreateAndLink:
		return r.resolveSilentCreate(ctx, v.Assertion)
	default:
		return nil, fmt.Errorf("unknown resolution request type %T", req)
	}
}

// resolveDirect handles the bare assertion: existing link wins, then ownership
// inferred by e-mail, then MustLink.
func (r *Resolver) resolveDirect(ctx context.Context, a Assertion) (*Principal, error) {
	link, err := r.links.GetByProviderUserID(ctx, a.Provider, a.Profile.ProviderUserID)
	switch {
	case err == nil:
		return r.repeatLogin(ctx, link, a)
	case errors.Is(err, domain.ErrNotFound):
		// fall through to e-mail inference
	default:
		return nil, err
	}

	if a.Profile.Email != "" {
		user, err := r.users.FindByLogin(ctx, a.Profile.Email)
		switch {
		case err == nil:
			return r.linkToUser(ctx, user, a)
		case errors.Is(err, domain.ErrNotFound):
			// no owner to infer
		default:
			return nil, err
		}
	}

	return nil, &MustLinkError{Provider: a.Provider, Profile: a.Profile}
}

// repeatLogin refreshes the cached credentials of an existing link and returns
// the linked account. The pairing is untouched, so resolving the same
// assertion twice is idempotent.
func (r *Resolver) repeatLogin(ctx context.Context, link *domain.FederatedIdentity, a Assertion) (*Principal, error) {
	link.RefreshCredentials(
		a.Credentials.AccessToken,
		a.Credentials.RefreshToken,
		a.Credentials.IDToken,
		a.Credentials.TokenType,
		a.Scopes,
		a.Credentials.ExpiresAt,
	)
	if err := r.links.Upsert(ctx, link); err != nil {
		log.Error().Err(err).Str("provider", a.Provider).Str("user_name", link.UserName).
			Msg("failed to refresh federated identity credentials")
		return nil, err
	}

	user, err := r.users.FindByUserName(ctx, link.UserName)
	if err != nil {
		log.Error().Err(err).Str("user_name", link.UserName).
			Msg("federated identity link points at a missing account")
		return nil, err
	}
	return &Principal{User: user, Roles: user.Roles}, nil
}

// linkToUser binds the asserted foreign identity to a known local account and
// fills empty profile fields from the foreign profile.
func (r *Resolver) linkToUser(ctx context.Context, user *domain.User, a Assertion) (*Principal, error) {
	link := r.newLink(user.UserName, a)
	if err := r.links.Upsert(ctx, link); err != nil {
		return nil, err
	}

	if mergeProfile(user, a.Profile) {
		if err := r.users.Update(ctx, user); err != nil {
			// The link is in place; a lost profile merge is not worth failing
			// the login over.
			log.Warn().Err(err).Str("user_name", user.UserName).
				Msg("failed to merge foreign profile into local account")
		}
	}

	return &Principal{User: user, Roles: user.Roles}, nil
}

// resolvePasswordLink verifies user-supplied local credentials and links on
// success. Unknown username and wrong password are indistinguishable.
func (r *Resolver) resolvePasswordLink(ctx context.Context, req *PasswordLink) (*Principal, error) {
	if req.UserName == "" || req.Password == "" {
		return nil, ErrLoginFailed
	}

	user, err := r.users.FindByUserName(ctx, req.UserName)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrLoginFailed
		}
		return nil, err
	}

	if err := r.hasher.Verify(user.PasswordHash, req.Password); err != nil {
		return nil, ErrLoginFailed
	}

	return r.linkToUser(ctx, user, req.Assertion)
}

// resolveCreate validates the chosen credentials, creates the account and
// links it. Uniqueness is enforced by the directory at write time; a conflict
// there is the authoritative race signal.
func (r *Resolver) resolveCreate(ctx context.Context, a Assertion, userName, password, confirmation string) (*Principal, error) {
	if userName == "" {
		return nil, &CreateAndLinkError{Reason: CreateFailureBadUserName}
	}
	if password == "" {
		return nil, &CreateAndLinkError{Reason: CreateFailurePasswordTooWeak}
	}
	if password != confirmation {
		return nil, &CreateAndLinkError{Reason: CreateFailurePasswordsNotEqual}
	}

	pendingCount, err := r.pending.CountByUserName(ctx, userName)
	if err != nil {
		return nil, err
	}
	if pendingCount > 0 {
		return nil, &CreateAndLinkError{Reason: CreateFailureAlreadyExists}
	}

	hash, err := r.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user := &domain.User{
		UserName:     userName,
		PasswordHash: hash,
		Status:       domain.UserStatusActive,
		Roles:        r.rolesForScopes(a.Scopes),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	mergeProfile(user, a.Profile)

	if err := r.users.Create(ctx, user); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, &CreateAndLinkError{Reason: CreateFailureAlreadyExists}
		}
		return nil, err
	}

	if err := r.links.Upsert(ctx, r.newLink(user.UserName, a)); err != nil {
		// Creation must not leave a half-created account: take the account
		// back out before reporting the failure.
		if delErr := r.users.Delete(ctx, user.UserName); delErr != nil {
			log.Error().Err(delErr).Str("user_name", user.UserName).
				Msg("failed to compensate account creation after link failure")
		}
		return nil, err
	}

	return &Principal{User: user, Roles: user.Roles}, nil
}

// resolveSilentCreate generates credentials and delegates to the create
// algorithm, retrying on collision up to the hard cap. Failures surface as a
// generic authentication failure since the caller never chose these values.
func (r *Resolver) resolveSilentCreate(ctx context.Context, a Assertion) (*Principal, error) {
	for attempt := 0; attempt < maxGenerationAttempts; attempt++ {
		userName, err := generateUserName()
		if err != nil {
			return nil, err
		}
		password, err := generatePassword()
		if err != nil {
			return nil, err
		}

		if taken, err := r.userNameTaken(ctx, userName); err != nil {
			return nil, err
		} else if taken {
			continue
		}

		principal, err := r.resolveCreate(ctx, a, userName, password, password)
		if err == nil {
			return principal, nil
		}
		// A conflict here means another request won the name between the
		// screen and the write; generate a fresh candidate.
		if createErr, ok := AsCreateAndLinkError(err); ok && createErr.Reason == CreateFailureAlreadyExists {
			continue
		}
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		log.Error().Err(err).Str("provider", a.Provider).
			Msg("silent account creation failed")
		return nil, ErrAuthenticationFailed
	}

	return nil, fmt.Errorf("username generation exhausted after %d attempts: %w",
		maxGenerationAttempts, ErrAuthenticationFailed)
}

func (r *Resolver) userNameTaken(ctx context.Context, userName string) (bool, error) {
	if count, err := r.users.CountByUserName(ctx, userName); err != nil {
		return false, err
	} else if count > 0 {
		return true, nil
	}
	if count, err := r.pending.CountByUserName(ctx, userName); err != nil {
		return false, err
	} else if count > 0 {
		return true, nil
	}
	return false, nil
}

func (r *Resolver) newLink(userName string, a Assertion) *domain.FederatedIdentity {
	now := time.Now().UTC()
	expiresAt := a.Credentials.ExpiresAt
	return &domain.FederatedIdentity{
		Provider:       a.Provider,
		ProviderUserID: a.Profile.ProviderUserID,
		UserName:       userName,
		Scopes:         a.Scopes,
		AccessToken:    a.Credentials.AccessToken,
		RefreshToken:   a.Credentials.RefreshToken,
		IDToken:        a.Credentials.IDToken,
		TokenType:      a.Credentials.TokenType,
		ExpiresAt:      expiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (r *Resolver) rolesForScopes(scopes []string) []string {
	roles := []string{DefaultUserRole}
	for _, scope := range scopes {
		role, ok := r.scopeRoles[scope]
		if !ok {
			continue
		}
		duplicate := false
		for _, existing := range roles {
			if existing == role {
				duplicate = true
				break
			}
		}
		if !duplicate {
			roles = append(roles, role)
		}
	}
	return roles
}
