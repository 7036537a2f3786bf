package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/karripar/va-hybrid-api/internal/models"
)

const (
	validationKeyPrefix = "docval:"
	validationDedupKey  = "docval:key:"
)

// ErrValidationNotFound is returned for unknown or expired validations.
var ErrValidationNotFound = errors.New("validation not found")

// ValidationRepository keeps asynchronous link validation results in Redis with a TTL.
type ValidationRepository struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewValidationRepository constructs the store.
func NewValidationRepository(client redis.UniversalClient, ttl time.Duration) *ValidationRepository {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ValidationRepository{client: client, ttl: ttl}
}

// Reserve claims dedupKey for validationID while a probe for the same target is pending.
// When another validation already holds the key its id is returned with claimed == false.
func (r *ValidationRepository) Reserve(ctx context.Context, dedupKey, validationID string, hold time.Duration) (existingID string, claimed bool, err error) {
	key := validationDedupKey + dedupKey
	ok, err := r.client.SetNX(ctx, key, validationID, hold).Result()
	if err != nil {
		return "", false, fmt.Errorf("reserve validation %s: %w", dedupKey, err)
	}
	if ok {
		return validationID, true, nil
	}
	existing, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; retry once
		ok, err = r.client.SetNX(ctx, key, validationID, hold).Result()
		if err != nil {
			return "", false, fmt.Errorf("reserve validation %s: %w", dedupKey, err)
		}
		return validationID, ok, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read validation reservation %s: %w", dedupKey, err)
	}
	return existing, false, nil
}

// Release drops the dedup reservation.
func (r *ValidationRepository) Release(ctx context.Context, dedupKey string) error {
	if err := r.client.Del(ctx, validationDedupKey+dedupKey).Err(); err != nil {
		return fmt.Errorf("release validation %s: %w", dedupKey, err)
	}
	return nil
}

// Save stores the validation under its id.
func (r *ValidationRepository) Save(ctx context.Context, v *models.DocumentLinkValidation) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal validation %s: %w", v.ID, err)
	}
	if err := r.client.Set(ctx, validationKeyPrefix+v.ID, payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("save validation %s: %w", v.ID, err)
	}
	return nil
}

// Get loads a validation by id.
func (r *ValidationRepository) Get(ctx context.Context, id string) (*models.DocumentLinkValidation, error) {
	raw, err := r.client.Get(ctx, validationKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrValidationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get validation %s: %w", id, err)
	}
	var v models.DocumentLinkValidation
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("unmarshal validation %s: %w", id, err)
	}
	return &v, nil
}
