package repository

import (
	"context"
	"errors"

	"github.com/aman-churiwal/indicator-gateway/internal/models"
	"github.com/aman-churiwal/indicator-gateway/internal/storage"
	"gorm.io/gorm"
)

type APIKeyRepository struct {
	db *storage.Database
}

func NewAPIKeyRepository(db *storage.Database) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) Create(ctx context.Context, apiKey *models.APIKey) error {
	return r.db.DB.WithContext(ctx).Create(apiKey).Error
}

func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	var apiKey models.APIKey
	err := r.db.DB.WithContext(ctx).
		Where("key_hash = ? AND is_active = ?", hash, true).
		First(&apiKey).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &apiKey, nil
}

func (r *APIKeyRepository) FindByID(ctx context.Context, id string) (*models.APIKey, error) {
	var apiKey models.APIKey
	err := r.db.DB.WithContext(ctx).
		Where("id = ?", id).
		First(&apiKey).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &apiKey, nil
}

func (r *APIKeyRepository) List(ctx context.Context) ([]models.APIKey, error) {
	var keys []models.APIKey
	err := r.db.DB.WithContext(ctx).
		Order("created_at DESC").
		Find(&keys).Error

	return keys, err
}

// ListActive feeds the key registry.
func (r *APIKeyRepository) ListActive(ctx context.Context) ([]models.APIKey, error) {
	var keys []models.APIKey
	err := r.db.DB.WithContext(ctx).
		Where("is_active = ?", true).
		Find(&keys).Error

	return keys, err
}

// Update applies the given column updates and reports whether a row matched.
func (r *APIKeyRepository) Update(ctx context.Context, id string, updates map[string]interface{}) (bool, error) {
	result := r.db.DB.WithContext(ctx).
		Model(&models.APIKey{}).
		Where("id = ?", id).
		Updates(updates)

	return result.RowsAffected > 0, result.Error
}

func (r *APIKeyRepository) Delete(ctx context.Context, id string) (bool, error) {
	result := r.db.DB.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.APIKey{})

	return result.RowsAffected > 0, result.Error
}

func (r *APIKeyRepository) CountByTier(ctx context.Context, tier models.Tier) (int64, error) {
	var count int64
	err := r.db.DB.WithContext(ctx).
		Model(&models.APIKey{}).
		Where("tier = ? AND is_active = ?", tier, true).
		Count(&count).Error

	return count, err
}
