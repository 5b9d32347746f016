package security

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hasher compares and hashes client secrets. The provider core never sees a
// plaintext secret outside this boundary; swapping the algorithm is a matter
// of injecting a different Hasher.
type Hasher interface {
	// Compare returns nil when data matches hash
	Compare(ctx context.Context, hash, data []byte) error

	// Hash derives a hash suitable for Compare
	Hash(ctx context.Context, data []byte) ([]byte, error)
}

// BCryptHasher is the default Hasher, backed by bcrypt.
type BCryptHasher struct {
	// Cost is the bcrypt work factor. Zero selects bcrypt.DefaultCost.
	Cost int
}

// Compare returns nil when data matches hash
func (h *BCryptHasher) Compare(_ context.Context, hash, data []byte) error {
	if err := bcrypt.CompareHashAndPassword(hash, data); err != nil {
		return fmt.Errorf("secret comparison failed: %w", err)
	}
	return nil
}

// Hash derives a bcrypt hash of data
func (h *BCryptHasher) Hash(_ context.Context, data []byte) ([]byte, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	hash, err := bcrypt.GenerateFromPassword(data, cost)
	if err != nil {
		return nil, fmt.Errorf("hashing secret: %w", err)
	}
	return hash, nil
}
