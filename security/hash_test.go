package security

import (
	"context"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestBCryptHasher(t *testing.T) {
	h := &BCryptHasher{Cost: bcrypt.MinCost}
	ctx := context.Background()

	hash, err := h.Hash(ctx, []byte("secret"))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	if err := h.Compare(ctx, hash, []byte("secret")); err != nil {
		t.Errorf("the matching secret must compare: %v", err)
	}
	if err := h.Compare(ctx, hash, []byte("wrong")); err == nil {
		t.Error("a wrong secret must not compare")
	}
	if err := h.Compare(ctx, []byte("not a bcrypt hash"), []byte("secret")); err == nil {
		t.Error("a malformed hash must not compare")
	}
}

func TestBCryptHasherDefaultCost(t *testing.T) {
	h := &BCryptHasher{}
	hash, err := h.Hash(context.Background(), []byte("secret"))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	cost, err := bcrypt.Cost(hash)
	if err != nil {
		t.Fatalf("Cost: %v", err)
	}
	if cost != bcrypt.DefaultCost {
		t.Errorf("cost = %d, want %d", cost, bcrypt.DefaultCost)
	}
}
