package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"go.adatlab.hu/idp/domain"
)

// TokenRepository implements domain.TokenRepository on MongoDB. It is the
// storage extension point the external authorization server plugs into.
type TokenRepository struct {
	access  *mongo.Collection
	refresh *mongo.Collection
}

// NewTokenRepository creates the repository and ensures indexes: token values
// unique per collection, plus the grant-context lookup index on access tokens.
func NewTokenRepository(ctx context.Context, db *mongo.Database) (*TokenRepository, error) {
	repo := &TokenRepository{
		access:  db.Collection(AccessTokensCollection),
		refresh: db.Collection(RefreshTokensCollection),
	}
	if err := repo.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to create token indexes: %w", err)
	}
	return repo, nil
}

func (r *TokenRepository) createIndexes(ctx context.Context) error {
	accessIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "value", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_name", Value: 1}, {Key: "client_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "user_name", Value: 1}, {Key: "client_id", Value: 1}, {Key: "scope", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "refresh_token_value", Value: 1}},
		},
	}
	if _, err := r.access.Indexes().CreateMany(ctx, accessIndexes); err != nil {
		return err
	}
	refreshIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "value", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	_, err := r.refresh.Indexes().CreateMany(ctx, refreshIndexes)
	return err
}

// StoreAccessToken upserts by token value. An existing document keeps its _id
// and created_at; only the grant fields are replaced.
func (r *TokenRepository) StoreAccessToken(ctx context.Context, token *domain.AccessToken) error {
	if token.ID == "" {
		token.ID = bson.NewObjectID().Hex()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	update := bson.M{
		"$set": bson.M{
			"user_name":           token.UserName,
			"client_id":           token.ClientID,
			"scope":               token.Scope,
			"grant_context":       token.GrantContext,
			"token_type":          token.TokenType,
			"expires_at":          token.ExpiresAt,
			"refresh_token_value": token.RefreshTokenValue,
		},
		"$setOnInsert": bson.M{
			"_id":        token.ID,
			"value":      token.Value,
			"created_at": token.CreatedAt,
		},
	}
	_, err := r.access.UpdateOne(ctx, bson.M{"value": token.Value}, update,
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrConflict
		}
		log.Error().Err(err).Str("client_id", token.ClientID).Msg("Error storing access token")
		return err
	}
	return nil
}

func (r *TokenRepository) GetAccessToken(ctx context.Context, value string) (*domain.AccessToken, error) {
	var token domain.AccessToken
	err := r.access.FindOne(ctx, bson.M{"value": value}).Decode(&token)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &token, nil
}

func (r *TokenRepository) GetGrantContext(ctx context.Context, value string) (*domain.GrantContext, error) {
	token, err := r.GetAccessToken(ctx, value)
	if err != nil {
		return nil, err
	}
	grant := &domain.GrantContext{
		UserName:   token.UserName,
		ClientID:   token.ClientID,
		Serialized: token.GrantContext,
	}
	if token.Scope != "" {
		grant.Scopes = strings.Split(token.Scope, " ")
	}
	return grant, nil
}

// FindAccessToken returns the earliest-expiring token matching the grant
// context key. Concurrent issuance can leave several candidates; the sort
// alone defines the winner, no unique constraint is assumed.
func (r *TokenRepository) FindAccessToken(ctx context.Context, grant *domain.GrantContext) (*domain.AccessToken, error) {
	filter := bson.M{
		"client_id": grant.ClientID,
		"scope":     grant.ScopeKey(),
	}
	if grant.UserName != "" {
		filter["user_name"] = grant.UserName
	} else {
		filter["user_name"] = bson.M{"$in": bson.A{nil, ""}}
	}

	var token domain.AccessToken
	err := r.access.FindOne(ctx, filter,
		options.FindOne().SetSort(bson.D{{Key: "expires_at", Value: 1}})).Decode(&token)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &token, nil
}

func (r *TokenRepository) RemoveAccessToken(ctx context.Context, value string) error {
	_, err := r.access.DeleteOne(ctx, bson.M{"value": value})
	return err
}

func (r *TokenRepository) RemoveAccessTokensByRefreshToken(ctx context.Context, refreshValue string) error {
	_, err := r.access.DeleteMany(ctx, bson.M{"refresh_token_value": refreshValue})
	return err
}

// StoreRefreshToken upserts by token value, preserving _id and created_at on
// the update path like StoreAccessToken.
func (r *TokenRepository) StoreRefreshToken(ctx context.Context, token *domain.RefreshToken) error {
	if token.ID == "" {
		token.ID = bson.NewObjectID().Hex()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	update := bson.M{
		"$set": bson.M{
			"user_name":     token.UserName,
			"client_id":     token.ClientID,
			"scope":         token.Scope,
			"grant_context": token.GrantContext,
		},
		"$setOnInsert": bson.M{
			"_id":        token.ID,
			"value":      token.Value,
			"created_at": token.CreatedAt,
		},
	}
	_, err := r.refresh.UpdateOne(ctx, bson.M{"value": token.Value}, update,
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrConflict
		}
		log.Error().Err(err).Str("client_id", token.ClientID).Msg("Error storing refresh token")
		return err
	}
	return nil
}

func (r *TokenRepository) GetRefreshToken(ctx context.Context, value string) (*domain.RefreshToken, error) {
	var token domain.RefreshToken
	err := r.refresh.FindOne(ctx, bson.M{"value": value}).Decode(&token)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &token, nil
}

// RemoveRefreshToken deletes the refresh token and cascades to every access
// token referencing it.
func (r *TokenRepository) RemoveRefreshToken(ctx context.Context, value string) error {
	if _, err := r.refresh.DeleteOne(ctx, bson.M{"value": value}); err != nil {
		return err
	}
	return r.RemoveAccessTokensByRefreshToken(ctx, value)
}

func (r *TokenRepository) FindTokensByClient(ctx context.Context, clientID string) ([]*domain.AccessToken, error) {
	return r.findAccessTokens(ctx, bson.M{"client_id": clientID})
}

func (r *TokenRepository) FindTokensByClientAndUser(ctx context.Context, clientID, userName string) ([]*domain.AccessToken, error) {
	return r.findAccessTokens(ctx, bson.M{"client_id": clientID, "user_name": userName})
}

func (r *TokenRepository) findAccessTokens(ctx context.Context, filter bson.M) ([]*domain.AccessToken, error) {
	cursor, err := r.access.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var tokens []*domain.AccessToken
	if err := cursor.All(ctx, &tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

func (r *TokenRepository) DeleteExpiredTokens(ctx context.Context) error {
	_, err := r.access.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": time.Now().UTC()}})
	return err
}

var _ domain.TokenRepository = (*TokenRepository)(nil)
