package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// APIKey is a provisioned caller. The plain key is never stored, only its
// SHA-256 hash.
type APIKey struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	KeyHash        string    `gorm:"uniqueIndex;not null" json:"-"`
	Name           string    `gorm:"not null" json:"name"`
	CreatedBy      string    `json:"created_by"`
	Tier           Tier      `gorm:"type:varchar(16);default:'free'" json:"tier"`
	RequestCeiling int       `json:"request_ceiling"`
	IsActive       bool      `gorm:"default:true" json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (a *APIKey) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (APIKey) TableName() string {
	return "api_keys"
}
