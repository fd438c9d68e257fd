package mongodb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.adatlab.hu/idp/domain"
	"go.adatlab.hu/idp/mongodb/testutil"
)

func setupFederatedIdentityRepo(t *testing.T) (*FederatedIdentityRepository, context.Context) {
	t.Helper()
	db, cleanup := testutil.SetupTestMongoDB(t, "test_idp_links")
	t.Cleanup(cleanup)

	ctx := context.Background()
	repo, err := NewFederatedIdentityRepository(ctx, db)
	require.NoError(t, err)
	return repo, ctx
}

func testLink(provider, providerUserID, userName string) *domain.FederatedIdentity {
	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond)
	return &domain.FederatedIdentity{
		Provider:       provider,
		ProviderUserID: providerUserID,
		UserName:       userName,
		Scopes:         []string{"openid", "email"},
		AccessToken:    "at-1",
		TokenType:      "Bearer",
		ExpiresAt:      &expiry,
	}
}

func TestFederatedIdentityRepository_Integration(t *testing.T) {
	repo, ctx := setupFederatedIdentityRepo(t)

	t.Run("upsert and get", func(t *testing.T) {
		require.NoError(t, repo.Upsert(ctx, testLink("google", "g-1", "jane")))

		link, err := repo.GetByProviderUserID(ctx, "google", "g-1")
		require.NoError(t, err)
		assert.Equal(t, "jane", link.UserName)
		assert.Equal(t, int64(1), link.Version)

		byUser, err := repo.GetByProviderAndUser(ctx, "google", "jane")
		require.NoError(t, err)
		assert.Equal(t, "g-1", byUser.ProviderUserID)

		_, err = repo.GetByProviderUserID(ctx, "google", "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("upsert refreshes credentials in place", func(t *testing.T) {
		updated := testLink("google", "g-1", "jane")
		updated.AccessToken = "at-2"
		require.NoError(t, repo.Upsert(ctx, updated))

		link, err := repo.GetByProviderUserID(ctx, "google", "g-1")
		require.NoError(t, err)
		assert.Equal(t, "at-2", link.AccessToken)
		assert.Equal(t, int64(2), link.Version)
	})

	t.Run("link is never re-parented", func(t *testing.T) {
		err := repo.Upsert(ctx, testLink("google", "g-1", "bob"))
		assert.ErrorIs(t, err, domain.ErrLinkReassigned)

		link, getErr := repo.GetByProviderUserID(ctx, "google", "g-1")
		require.NoError(t, getErr)
		assert.Equal(t, "jane", link.UserName)
	})

	t.Run("one link per provider and account", func(t *testing.T) {
		err := repo.Upsert(ctx, testLink("google", "g-2", "jane"))
		assert.ErrorIs(t, err, domain.ErrConflict)

		require.NoError(t, repo.Upsert(ctx, testLink("github", "h-1", "jane")))
	})

	t.Run("list by user", func(t *testing.T) {
		links, err := repo.ListByUser(ctx, "jane")
		require.NoError(t, err)
		require.Len(t, links, 2)
	})

	t.Run("disconnect", func(t *testing.T) {
		require.NoError(t, repo.DeleteByProviderAndUser(ctx, "github", "jane"))
		assert.ErrorIs(t, repo.DeleteByProviderAndUser(ctx, "github", "jane"), domain.ErrNotFound)

		links, err := repo.ListByUser(ctx, "jane")
		require.NoError(t, err)
		assert.Len(t, links, 1)
	})
}
