package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"github.com/genesis-provenance/genesis/internal/pkg/keygen"
)

// Organization is the tenant. Every quota is evaluated per organization.
type Organization struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	Name             string         `gorm:"type:varchar(255);not null" json:"name" validate:"required,min=1,max=255"`
	BillingEmail     string         `gorm:"type:varchar(255);default:''" json:"billing_email" validate:"omitempty,email,max=255"`
	APIKeyHash       string         `gorm:"type:char(64);default:'';index" json:"-"`
	APIKeyPrefix     string         `gorm:"type:varchar(20);default:''" json:"api_key_prefix"`
	APIKeyCreatedAt  *time.Time     `json:"api_key_created_at"`
	APIKeyLastUsedAt *time.Time     `json:"api_key_last_used_at"`
	APIKeyRevokedAt  *time.Time     `json:"api_key_revoked_at"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}

const apiKeyPrefix = "gpv_"

func (o *Organization) Validate() error {
	v := validator.New()
	return v.Struct(o)
}

// HasActiveAPIKey reports whether the organization can authenticate API calls.
func (o *Organization) HasActiveAPIKey() bool {
	return o != nil && o.APIKeyHash != "" && o.APIKeyRevokedAt == nil
}

// IssueAPIKey rotates the organization key and returns the raw secret. Only
// the hash is kept; callers persist the struct afterwards.
func (o *Organization) IssueAPIKey() (string, error) {
	rawKey, prefix, hash, err := generateAPIKeyMaterial()
	if err != nil {
		return "", err
	}
	now := time.Now()
	o.APIKeyHash = hash
	o.APIKeyPrefix = prefix
	o.APIKeyCreatedAt = &now
	o.APIKeyRevokedAt = nil
	o.APIKeyLastUsedAt = nil
	return rawKey, nil
}

func (o *Organization) RevokeAPIKey() {
	now := time.Now()
	o.APIKeyHash = ""
	o.APIKeyPrefix = ""
	o.APIKeyRevokedAt = &now
}

// HashAPIKey returns the SHA-256 hash for the provided API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

func generateAPIKeyMaterial() (string, string, string, error) {
	secret, err := keygen.Base62(43)
	if err != nil {
		return "", "", "", err
	}
	rawKey := apiKeyPrefix + secret
	if len(rawKey) < 16 {
		return "", "", "", fmt.Errorf("api key generation failed: key too short")
	}
	return rawKey, rawKey[:16], HashAPIKey(rawKey), nil
}
