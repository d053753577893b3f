package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
)

// Verification codes live in Redis keyed by email, so state survives restarts
// and is shared across server instances.
const (
	codeTTL    = 10 * time.Minute
	codeDigits = 6
)

var (
	ErrNotFound = errors.New("otp not found or expired")
	ErrMismatch = errors.New("otp mismatch")
)

type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Generate produces a random 6-digit code and stores it under the email
// with a 10-minute expiry, replacing any previous code.
func (s *Store) Generate(ctx context.Context, email string) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("otp generation failed: %w", err)
	}
	code := fmt.Sprintf("%0*d", codeDigits, n)

	if err := s.client.Set(ctx, key(email), code, codeTTL).Err(); err != nil {
		return "", fmt.Errorf("otp store failed: %w", err)
	}
	return code, nil
}

// Verify compares the submitted code against the stored one and consumes it
// on success. A missing key covers both "never requested" and "expired".
func (s *Store) Verify(ctx context.Context, email, code string) error {
	stored, err := s.client.Get(ctx, key(email)).Result()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("otp lookup failed: %w", err)
	}
	if stored != code {
		return ErrMismatch
	}
	if err := s.client.Del(ctx, key(email)).Err(); err != nil {
		return fmt.Errorf("otp consume failed: %w", err)
	}
	return nil
}

func key(email string) string {
	return "otp:" + email
}
