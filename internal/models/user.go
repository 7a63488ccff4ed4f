package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role decides which admin routes a user reaches.
type Role string

const (
	// RoleAdmin manages users, resets quotas and breakers, and provisions
	// keys of any tier.
	RoleAdmin Role = "admin"

	// RoleOperator provisions keys up to its MaxTier and reads analytics.
	RoleOperator Role = "operator"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleOperator
}

// User is a person allowed into the admin API.
type User struct {
	ID           uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	Email        string     `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string     `gorm:"not null" json:"-"`
	Name         string     `json:"name"`
	Role         Role       `gorm:"type:varchar(16);default:'admin'" json:"role"`
	MaxTier      Tier       `gorm:"type:varchar(16)" json:"max_tier,omitempty"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// CanProvision reports whether u may issue a key at tier or move a key to
// it. Operators without a MaxTier cannot provision at all.
func (u User) CanProvision(tier Tier) bool {
	if u.Role == RoleAdmin {
		return true
	}
	return u.Role == RoleOperator && u.MaxTier != "" && u.MaxTier.AtLeast(tier)
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}

	return nil
}

func (User) TableName() string {
	return "users"
}
