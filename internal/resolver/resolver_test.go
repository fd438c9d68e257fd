package resolver_test

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"go.adatlab.hu/idp/domain"
	"go.adatlab.hu/idp/inmem"
	"go.adatlab.hu/idp/internal/auth"
	"go.adatlab.hu/idp/internal/federation"
	"go.adatlab.hu/idp/internal/resolver"
)

type fixture struct {
	resolver *resolver.Resolver
	links    *inmem.FederatedIdentityStore
	users    *inmem.UserDirectory
	pending  *inmem.PendingRegistrations
}

func newFixture(t *testing.T, scopeRoles map[string]string) *fixture {
	t.Helper()
	f := &fixture{
		links:   inmem.NewFederatedIdentityStore(),
		users:   inmem.NewUserDirectory(),
		pending: inmem.NewPendingRegistrations(),
	}
	f.resolver = resolver.New(f.links, f.users, f.pending,
		auth.NewBcryptPasswordHasher(bcrypt.MinCost), scopeRoles)
	return f
}

func (f *fixture) createUser(t *testing.T, userName, email, password string) *domain.User {
	t.Helper()
	hasher := auth.NewBcryptPasswordHasher(bcrypt.MinCost)
	hash, err := hasher.Hash(password)
	require.NoError(t, err)
	user := &domain.User{
		UserName:     userName,
		Email:        email,
		PasswordHash: hash,
		Status:       domain.UserStatusActive,
		Roles:        []string{resolver.DefaultUserRole},
	}
	require.NoError(t, f.users.Create(context.Background(), user))
	return user
}

func testAssertion(providerUserID, email string) resolver.Assertion {
	expiry := time.Now().Add(time.Hour)
	return resolver.Assertion{
		Provider: "google",
		Profile: federation.ExternalUserInfo{
			ProviderUserID: providerUserID,
			Email:          email,
			DisplayName:    "Jane Doe",
		},
		Scopes: []string{"openid", "profile", "email"},
		Credentials: federation.Credentials{
			AccessToken:  "at-1",
			RefreshToken: "rt-1",
			TokenType:    "Bearer",
			ExpiresAt:    &expiry,
		},
	}
}

func TestResolveDirect_MustLinkWhenUnknown(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.resolver.Resolve(context.Background(),
		&resolver.DirectAssertion{Assertion: testAssertion("g-1", "nobody@example.com")})
	require.Error(t, err)

	mustLink, ok := resolver.AsMustLink(err)
	require.True(t, ok)
	assert.Equal(t, "google", mustLink.Provider)
	assert.Equal(t, "g-1", mustLink.Profile.ProviderUserID)
	assert.Equal(t, "nobody@example.com", mustLink.Profile.Email)

	assert.Equal(t, 0, f.links.Count(), "a MustLink outcome must not write a link")
	assert.Equal(t, 0, f.users.Count())
}

func TestResolveDirect_EmailInference(t *testing.T) {
	f := newFixture(t, nil)
	f.createUser(t, "jane", "jane@example.com", "secret")

	principal, err := f.resolver.Resolve(context.Background(),
		&resolver.DirectAssertion{Assertion: testAssertion("g-1", "jane@example.com")})
	require.NoError(t, err)
	assert.Equal(t, "jane", principal.User.UserName)
	assert.Equal(t, 1, f.links.Count())

	link, err := f.links.GetByProviderUserID(context.Background(), "google", "g-1")
	require.NoError(t, err)
	assert.Equal(t, "jane", link.UserName)
	assert.Equal(t, "at-1", link.AccessToken)

	// The empty display name is filled from the foreign profile.
	user, err := f.users.FindByUserName(context.Background(), "jane")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", user.DisplayName)
}

func TestResolveDirect_RepeatLoginIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.createUser(t, "jane", "jane@example.com", "secret")

	a := testAssertion("g-1", "jane@example.com")
	_, err := f.resolver.Resolve(context.Background(), &resolver.DirectAssertion{Assertion: a})
	require.NoError(t, err)

	// Same identity again, with fresher credentials.
	a.Credentials.AccessToken = "at-2"
	a.Credentials.RefreshToken = ""
	principal, err := f.resolver.Resolve(context.Background(), &resolver.DirectAssertion{Assertion: a})
	require.NoError(t, err)
	assert.Equal(t, "jane", principal.User.UserName)

	assert.Equal(t, 1, f.links.Count(), "repeat login must not create a second link")
	link, err := f.links.GetByProviderUserID(context.Background(), "google", "g-1")
	require.NoError(t, err)
	assert.Equal(t, "at-2", link.AccessToken)
	assert.Equal(t, "rt-1", link.RefreshToken, "an absent refresh token must not clobber the cached one")
}

func TestResolvePasswordLink(t *testing.T) {
	t.Run("success links and merges", func(t *testing.T) {
		f := newFixture(t, nil)
		f.createUser(t, "jane", "jane@example.com", "secret")

		principal, err := f.resolver.Resolve(context.Background(), &resolver.PasswordLink{
			Assertion: testAssertion("g-1", "other@example.com"),
			UserName:  "jane",
			Password:  "secret",
		})
		require.NoError(t, err)
		assert.Equal(t, "jane", principal.User.UserName)
		assert.Equal(t, 1, f.links.Count())
	})

	t.Run("unknown user and wrong password are indistinguishable", func(t *testing.T) {
		f := newFixture(t, nil)
		f.createUser(t, "jane", "jane@example.com", "secret")

		_, errUnknown := f.resolver.Resolve(context.Background(), &resolver.PasswordLink{
			Assertion: testAssertion("g-1", ""),
			UserName:  "ghost",
			Password:  "secret",
		})
		_, errWrongPass := f.resolver.Resolve(context.Background(), &resolver.PasswordLink{
			Assertion: testAssertion("g-1", ""),
			UserName:  "jane",
			Password:  "nope",
		})
		assert.ErrorIs(t, errUnknown, resolver.ErrLoginFailed)
		assert.ErrorIs(t, errWrongPass, resolver.ErrLoginFailed)
		assert.Equal(t, errUnknown, errWrongPass)
		assert.Equal(t, 0, f.links.Count(), "a failed login must not write a link")
	})

	t.Run("empty fields fail closed", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.resolver.Resolve(context.Background(), &resolver.PasswordLink{
			Assertion: testAssertion("g-1", ""),
		})
		assert.ErrorIs(t, err, resolver.ErrLoginFailed)
	})
}

func TestResolveCreateAndLink(t *testing.T) {
	ctx := context.Background()

	t.Run("creates account with default role and link", func(t *testing.T) {
		f := newFixture(t, nil)

		principal, err := f.resolver.Resolve(ctx, &resolver.CreateAndLink{
			Assertion:    testAssertion("g-1", "jane@example.com"),
			UserName:     "jane",
			Password:     "secret",
			Confirmation: "secret",
		})
		require.NoError(t, err)
		assert.Equal(t, "jane", principal.User.UserName)
		assert.Contains(t, principal.Roles, resolver.DefaultUserRole)
		assert.Equal(t, "jane@example.com", principal.User.Email)
		assert.Equal(t, 1, f.users.Count())
		assert.Equal(t, 1, f.links.Count())
	})

	t.Run("scope mapped roles are granted once", func(t *testing.T) {
		f := newFixture(t, map[string]string{
			"ops":   "OPERATOR",
			"admin": "OPERATOR",
		})

		a := testAssertion("g-1", "")
		a.Scopes = []string{"ops", "admin", "openid"}
		principal, err := f.resolver.Resolve(ctx, &resolver.CreateAndLink{
			Assertion:    a,
			UserName:     "jane",
			Password:     "secret",
			Confirmation: "secret",
		})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{resolver.DefaultUserRole, "OPERATOR"}, principal.Roles)
	})

	t.Run("validation failures", func(t *testing.T) {
		f := newFixture(t, nil)
		f.createUser(t, "taken", "", "pw")
		f.pending.Reserve("reserved")

		cases := []struct {
			name   string
			req    *resolver.CreateAndLink
			reason resolver.CreateFailure
		}{
			{"empty username", &resolver.CreateAndLink{
				Assertion: testAssertion("g-1", ""), Password: "pw", Confirmation: "pw",
			}, resolver.CreateFailureBadUserName},
			{"empty password", &resolver.CreateAndLink{
				Assertion: testAssertion("g-1", ""), UserName: "jane",
			}, resolver.CreateFailurePasswordTooWeak},
			{"password mismatch", &resolver.CreateAndLink{
				Assertion: testAssertion("g-1", ""), UserName: "jane", Password: "pw", Confirmation: "other",
			}, resolver.CreateFailurePasswordsNotEqual},
			{"username taken", &resolver.CreateAndLink{
				Assertion: testAssertion("g-1", ""), UserName: "taken", Password: "pw", Confirmation: "pw",
			}, resolver.CreateFailureAlreadyExists},
			{"username reserved by pending registration", &resolver.CreateAndLink{
				Assertion: testAssertion("g-1", ""), UserName: "reserved", Password: "pw", Confirmation: "pw",
			}, resolver.CreateFailureAlreadyExists},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := f.resolver.Resolve(ctx, tc.req)
				createErr, ok := resolver.AsCreateAndLinkError(err)
				require.True(t, ok, "expected CreateAndLinkError, got %v", err)
				assert.Equal(t, tc.reason, createErr.Reason)
			})
		}
		assert.Equal(t, 0, f.links.Count(), "rejected creations must not write links")
	})

	t.Run("link failure rolls the account back", func(t *testing.T) {
		f := newFixture(t, nil)
		f.createUser(t, "owner", "", "pw")

		// The foreign identity is already bound to another account, so the
		// link write fails after the new account exists.
		require.NoError(t, f.links.Upsert(ctx, &domain.FederatedIdentity{
			Provider:       "google",
			ProviderUserID: "g-1",
			UserName:       "owner",
		}))

		_, err := f.resolver.Resolve(ctx, &resolver.CreateAndLink{
			Assertion:    testAssertion("g-1", ""),
			UserName:     "jane",
			Password:     "pw",
			Confirmation: "pw",
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrLinkReassigned)

		_, findErr := f.users.FindByUserName(ctx, "jane")
		assert.ErrorIs(t, findErr, domain.ErrNotFound, "the half-created account must be taken back out")
	})
}

// conflictingDirectory fails the first N Create calls with ErrConflict to
// exercise the silent-creation retry loop.
type conflictingDirectory struct {
	*inmem.UserDirectory
	failures int
	calls    int
}

func (d *conflictingDirectory) Create(ctx context.Context, user *domain.User) error {
	d.calls++
	if d.calls <= d.failures {
		return domain.ErrConflict
	}
	return d.UserDirectory.Create(ctx, user)
}

func TestResolveSilentCreateAndLink(t *testing.T) {
	ctx := context.Background()
	userNameShape := regexp.MustCompile(`^[a-z][0-9]{11}$`)

	t.Run("creates an account with generated credentials", func(t *testing.T) {
		f := newFixture(t, nil)

		principal, err := f.resolver.Resolve(ctx,
			&resolver.SilentCreateAndLink{Assertion: testAssertion("g-1", "jane@example.com")})
		require.NoError(t, err)
		assert.Regexp(t, userNameShape, principal.User.UserName)
		assert.Contains(t, principal.Roles, resolver.DefaultUserRole)
		assert.NotEmpty(t, principal.User.PasswordHash)
		assert.Equal(t, 1, f.users.Count())
		assert.Equal(t, 1, f.links.Count())

		link, err := f.links.GetByProviderUserID(ctx, "google", "g-1")
		require.NoError(t, err)
		assert.Equal(t, principal.User.UserName, link.UserName)
	})

	t.Run("retries on write conflict", func(t *testing.T) {
		users := &conflictingDirectory{UserDirectory: inmem.NewUserDirectory(), failures: 2}
		links := inmem.NewFederatedIdentityStore()
		r := resolver.New(links, users, inmem.NewPendingRegistrations(),
			auth.NewBcryptPasswordHasher(bcrypt.MinCost), nil)

		principal, err := r.Resolve(ctx,
			&resolver.SilentCreateAndLink{Assertion: testAssertion("g-1", "")})
		require.NoError(t, err)
		assert.Regexp(t, userNameShape, principal.User.UserName)
		assert.Equal(t, 3, users.calls)
	})

	t.Run("gives up after the retry cap", func(t *testing.T) {
		users := &conflictingDirectory{UserDirectory: inmem.NewUserDirectory(), failures: 1000}
		r := resolver.New(inmem.NewFederatedIdentityStore(), users,
			inmem.NewPendingRegistrations(), auth.NewBcryptPasswordHasher(bcrypt.MinCost), nil)

		_, err := r.Resolve(ctx,
			&resolver.SilentCreateAndLink{Assertion: testAssertion("g-1", "")})
		assert.ErrorIs(t, err, resolver.ErrAuthenticationFailed)
	})

	t.Run("concurrent resolutions leave one account and one link", func(t *testing.T) {
		f := newFixture(t, nil)

		const workers = 8
		principals := make([]*resolver.Principal, workers)
		errs := make([]error, workers)

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				principals[i], errs[i] = f.resolver.Resolve(ctx,
					&resolver.SilentCreateAndLink{Assertion: testAssertion("g-race", "")})
			}(i)
		}
		wg.Wait()

		var winners []string
		for i := 0; i < workers; i++ {
			if errs[i] == nil {
				winners = append(winners, principals[i].User.UserName)
				continue
			}
			assert.ErrorIs(t, errs[i], resolver.ErrAuthenticationFailed)
		}
		require.Len(t, winners, 1, "exactly one resolution may win the identity")

		// The losers' compensations must only take back their own accounts.
		assert.Equal(t, 1, f.users.Count())
		assert.Equal(t, 1, f.links.Count())
		link, err := f.links.GetByProviderUserID(ctx, "google", "g-race")
		require.NoError(t, err)
		assert.Equal(t, winners[0], link.UserName)
	})

	t.Run("other failures stay opaque", func(t *testing.T) {
		f := newFixture(t, nil)
		f.createUser(t, "owner", "", "pw")
		require.NoError(t, f.links.Upsert(ctx, &domain.FederatedIdentity{
			Provider:       "google",
			ProviderUserID: "g-1",
			UserName:       "owner",
		}))

		// Every generated account trips over the already-bound identity; the
		// caller only learns that authentication failed.
		_, err := f.resolver.Resolve(ctx,
			&resolver.SilentCreateAndLink{Assertion: testAssertion("g-1", "")})
		assert.ErrorIs(t, err, resolver.ErrAuthenticationFailed)
		assert.NotErrorIs(t, err, domain.ErrLinkReassigned)
	})
}
