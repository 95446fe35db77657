/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/cliploop/internal/models"
)

const (
	APIKeyPrefix      = "cl_"
	apiKeyRandomBytes = 24
)

var (
	ErrAPIKeyNotFound = errors.New("api key not found")
	ErrUserNotFound   = errors.New("user not found")
)

// GenerateAPIKey creates a new API key for a user. Returns the plaintext key,
// shown to the user exactly once, and the model to store.
func GenerateAPIKey(userID, name string) (string, *models.APIKey, error) {
	randomBytes := make([]byte, apiKeyRandomBytes)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", nil, err
	}
	plaintext := APIKeyPrefix + hex.EncodeToString(randomBytes)

	hash := sha256.Sum256([]byte(plaintext))
	key := &models.APIKey{
		ID:     uuid.NewString(),
		UserID: userID,
		Name:   name,
		Prefix: plaintext[:11],
		Hash:   hex.EncodeToString(hash[:]),
	}
	return plaintext, key, nil
}

// ValidateAPIKey resolves an API key to claims and touches LastUsedAt.
func ValidateAPIKey(database *gorm.DB, plaintext string) (*Claims, error) {
	hash := sha256.Sum256([]byte(plaintext))
	keyHash := hex.EncodeToString(hash[:])

	var key models.APIKey
	result := database.Where("hash = ?", keyHash).First(&key)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrAPIKeyNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}

	var user models.User
	result = database.First(&user, "id = ?", key.UserID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}

	now := time.Now()
	go database.Model(&key).Update("last_used_at", now)

	return &Claims{UserID: user.ID, Role: user.Role}, nil
}

// ListAPIKeys returns all API keys for a user, newest first.
func ListAPIKeys(database *gorm.DB, userID string) ([]models.APIKey, error) {
	var keys []models.APIKey
	err := database.Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&keys).Error
	return keys, err
}

// DeleteAPIKey permanently deletes an API key owned by userID.
func DeleteAPIKey(database *gorm.DB, keyID, userID string) error {
	result := database.Where("id = ? AND user_id = ?", keyID, userID).
		Delete(&models.APIKey{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}
