package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"go.adatlab.hu/idp/domain"
)

// FederatedIdentityRepository implements domain.FederatedIdentityRepository on
// MongoDB.
type FederatedIdentityRepository struct {
	collection *mongo.Collection
}

// NewFederatedIdentityRepository creates the repository and ensures the two
// unique indexes the data model demands.
func NewFederatedIdentityRepository(ctx context.Context, db *mongo.Database) (*FederatedIdentityRepository, error) {
	repo := &FederatedIdentityRepository{
		collection: db.Collection(FederatedIdentitiesCollection),
	}
	if err := repo.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to create %s indexes: %w", FederatedIdentitiesCollection, err)
	}
	return repo, nil
}

func (r *FederatedIdentityRepository) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			// One external identity links to at most one local account.
			Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "provider_user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			// One local account holds at most one link per provider.
			Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "user_name", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			// Listing all links of a local user.
			Keys: bson.D{{Key: "user_name", Value: 1}},
		},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, indexModels)
	return err
}

func (r *FederatedIdentityRepository) GetByProviderUserID(ctx context.Context, provider, providerUserID string) (*domain.FederatedIdentity, error) {
	var link domain.FederatedIdentity
	filter := bson.M{"provider": provider, "provider_user_id": providerUserID}
	err := r.collection.FindOne(ctx, filter).Decode(&link)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		log.Error().Err(err).Str("provider", provider).Str("provider_user_id", providerUserID).
			Msg("Error getting federated identity by provider user id")
		return nil, err
	}
	return &link, nil
}

func (r *FederatedIdentityRepository) GetByProviderAndUser(ctx context.Context, provider, userName string) (*domain.FederatedIdentity, error) {
	var link domain.FederatedIdentity
	filter := bson.M{"provider": provider, "user_name": userName}
	err := r.collection.FindOne(ctx, filter).Decode(&link)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		log.Error().Err(err).Str("provider", provider).Str("user_name", userName).
			Msg("Error getting federated identity by provider and user")
		return nil, err
	}
	return &link, nil
}

// Upsert creates the link or refreshes the credentials of the existing record
// with the same (provider, provider_user_id). An existing record bound to a
// different local account fails loudly with ErrLinkReassigned; the insert path
// maps duplicate-key races to ErrConflict.
func (r *FederatedIdentityRepository) Upsert(ctx context.Context, link *domain.FederatedIdentity) error {
	now := time.Now().UTC()
	naturalKey := bson.M{"provider": link.Provider, "provider_user_id": link.ProviderUserID}

	var existing domain.FederatedIdentity
	err := r.collection.FindOne(ctx, naturalKey).Decode(&existing)
	switch {
	case err == nil:
		if existing.UserName != link.UserName {
			return domain.ErrLinkReassigned
		}
		update := bson.M{
			"$set": bson.M{
				"scopes":        link.Scopes,
				"access_token":  link.AccessToken,
				"refresh_token": link.RefreshToken,
				"id_token":      link.IDToken,
				"token_type":    link.TokenType,
				"expires_at":    link.ExpiresAt,
				"updated_at":    now,
			},
			"$inc": bson.M{"version": 1},
		}
		// Version guard: lose the race, retry through the caller.
		filter := bson.M{"_id": existing.ID, "version": existing.Version}
		result, err := r.collection.UpdateOne(ctx, filter, update)
		if err != nil {
			log.Error().Err(err).Str("provider", link.Provider).Str("user_name", link.UserName).
				Msg("Error refreshing federated identity")
			return err
		}
		if result.MatchedCount == 0 {
			return domain.ErrConflict
		}
		return nil

	case errors.Is(err, mongo.ErrNoDocuments):
		if link.ID == "" {
			link.ID = bson.NewObjectID().Hex()
		}
		if link.CreatedAt.IsZero() {
			link.CreatedAt = now
		}
		link.UpdatedAt = now
		link.Version = 1
		if _, err := r.collection.InsertOne(ctx, link); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return domain.ErrConflict
			}
			log.Error().Err(err).Str("provider", link.Provider).Str("user_name", link.UserName).
				Msg("Error creating federated identity")
			return err
		}
		return nil

	default:
		return err
	}
}

func (r *FederatedIdentityRepository) DeleteByProviderAndUser(ctx context.Context, provider, userName string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"provider": provider, "user_name": userName})
	if err != nil {
		log.Error().Err(err).Str("provider", provider).Str("user_name", userName).
			Msg("Error deleting federated identity")
		return err
	}
	if result.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *FederatedIdentityRepository) ListByUser(ctx context.Context, userName string) ([]*domain.FederatedIdentity, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"user_name": userName},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		log.Error().Err(err).Str("user_name", userName).Msg("Error listing federated identities")
		return nil, err
	}
	defer cursor.Close(ctx)

	var links []*domain.FederatedIdentity
	if err := cursor.All(ctx, &links); err != nil {
		return nil, err
	}
	return links, nil
}

var _ domain.FederatedIdentityRepository = (*FederatedIdentityRepository)(nil)
