package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/aman-churiwal/indicator-gateway/internal/models"
	"github.com/aman-churiwal/indicator-gateway/internal/ratelimit"
	"github.com/aman-churiwal/indicator-gateway/internal/registry"
	"github.com/aman-churiwal/indicator-gateway/internal/repository"
	"github.com/aman-churiwal/indicator-gateway/internal/storage"
	"go.uber.org/zap"
)

const (
	keyPrefix = "ek_"

	// KeysChangedChannel tells every gateway instance sharing the redis to
	// rebuild its registry snapshot.
	KeysChangedChannel = "indicator-gateway:keys:changed"
)

var (
	ErrKeyNotFound  = errors.New("api key not found")
	ErrInvalidTier  = errors.New("tier must be one of free, pro, enterprise")
	ErrNothingToSet = errors.New("no fields to update")
)

// APIKeyService provisions keys. Every mutation rebuilds the registry
// snapshot the gateway reads from; request handling never writes here.
type APIKeyService struct {
	repository *repository.APIKeyRepository
	registry   *registry.Registry
	policies   ratelimit.PolicyTable
	seeds      []registry.Record
	redis      *storage.RedisClient
	logger     *zap.Logger
}

// NewAPIKeyService wires provisioning. redis may be nil, in which case
// changes are only visible to this instance.
func NewAPIKeyService(repo *repository.APIKeyRepository, reg *registry.Registry, policies ratelimit.PolicyTable, seeds []registry.Record, redis *storage.RedisClient, logger *zap.Logger) *APIKeyService {
	return &APIKeyService{
		repository: repo,
		registry:   reg,
		policies:   policies,
		seeds:      seeds,
		redis:      redis,
		logger:     logger.Named("apikeys"),
	}
}

type UpdateKeyRequest struct {
	Name     *string
	Tier     *models.Tier
	IsActive *bool
}

// Create stores a new key and returns the plain key. It is the only time
// the plain key is visible.
func (s *APIKeyService) Create(ctx context.Context, name, createdBy string, tier models.Tier) (string, *models.APIKey, error) {
	if !tier.Assignable() {
		return "", nil, ErrInvalidTier
	}

	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", nil, fmt.Errorf("failed to generate random key: %w", err)
	}

	key := keyPrefix + base64.RawURLEncoding.EncodeToString(keyBytes)

	apiKey := &models.APIKey{
		KeyHash:        registry.HashKey(key),
		Name:           name,
		CreatedBy:      createdBy,
		Tier:           tier,
		RequestCeiling: s.policies.For(tier).MaxRequests,
		IsActive:       true,
	}

	if err := s.repository.Create(ctx, apiKey); err != nil {
		return "", nil, fmt.Errorf("failed to create API key: %w", err)
	}

	s.changed(ctx)

	return key, apiKey, nil
}

func (s *APIKeyService) Get(ctx context.Context, id string) (*models.APIKey, error) {
	apiKey, err := s.repository.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if apiKey == nil {
		return nil, ErrKeyNotFound
	}
	return apiKey, nil
}

func (s *APIKeyService) List(ctx context.Context) ([]models.APIKey, error) {
	return s.repository.List(ctx)
}

// Update changes a key. A tier change reaches callers on their next window:
// the counter already open keeps its ceiling.
func (s *APIKeyService) Update(ctx context.Context, id string, req UpdateKeyRequest) error {
	updates := make(map[string]interface{})

	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Tier != nil {
		if !req.Tier.Assignable() {
			return ErrInvalidTier
		}
		updates["tier"] = *req.Tier
		updates["request_ceiling"] = s.policies.For(*req.Tier).MaxRequests
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	if len(updates) == 0 {
		return ErrNothingToSet
	}

	found, err := s.repository.Update(ctx, id, updates)
	if err != nil {
		return fmt.Errorf("failed to update API key: %w", err)
	}
	if !found {
		return ErrKeyNotFound
	}

	s.changed(ctx)
	return nil
}

func (s *APIKeyService) Delete(ctx context.Context, id string) error {
	found, err := s.repository.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete API key: %w", err)
	}
	if !found {
		return ErrKeyNotFound
	}

	s.changed(ctx)
	return nil
}

// CountByTier returns the number of active provisioned keys per tier.
func (s *APIKeyService) CountByTier(ctx context.Context) (map[models.Tier]int64, error) {
	counts := make(map[models.Tier]int64)
	for _, tier := range models.Tiers() {
		if !tier.Assignable() {
			continue
		}

		n, err := s.repository.CountByTier(ctx, tier)
		if err != nil {
			return nil, err
		}
		counts[tier] = n
	}
	return counts, nil
}

// Reload rebuilds the registry from the database plus the configured seed
// keys.
func (s *APIKeyService) Reload(ctx context.Context) error {
	return s.registry.Refresh(ctx, s.repository, s.seeds)
}

func (s *APIKeyService) changed(ctx context.Context) {
	if err := s.Reload(ctx); err != nil {
		s.logger.Error("failed to reload key registry", zap.Error(err))
	}

	if s.redis == nil {
		return
	}

	if err := s.redis.Client().Publish(ctx, KeysChangedChannel, "reload").Err(); err != nil {
		s.logger.Warn("failed to publish key change", zap.Error(err))
	}
}

// Watch reloads the registry whenever another instance publishes a key
// change. It blocks until ctx is cancelled.
func (s *APIKeyService) Watch(ctx context.Context) {
	if s.redis == nil {
		return
	}

	sub := s.redis.Client().Subscribe(ctx, KeysChangedChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		s.logger.Warn("key change subscription failed", zap.Error(err))
		return
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			if err := s.Reload(ctx); err != nil {
				s.logger.Error("failed to reload key registry", zap.Error(err))
			}
		}
	}
}
