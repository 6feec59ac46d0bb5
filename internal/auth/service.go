package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrKeyNotFound  = errors.New("api key not found")
)

// DefaultTokenTTL is the session lifetime when the config leaves it unset.
const DefaultTokenTTL = 24 * time.Hour

// Service issues and verifies operator credentials for the gateway. Sessions
// are stateless JWTs; API keys are long-lived credentials stored hashed in
// the database.
type Service struct {
	db       *sql.DB
	secret   []byte
	tokenTTL time.Duration
}

// Claims identifies the principal behind a session token.
type Claims struct {
	Principal string   `json:"principal"`
	Perms     []string `json:"perms,omitempty"`
	jwt.RegisteredClaims
}

// APIKey is a long-lived credential for a principal. Key carries the plain
// secret only on creation; verification returns it empty.
type APIKey struct {
	ID        string    `json:"id"`
	Principal string    `json:"principal"`
	Key       string    `json:"key,omitempty"`
	Name      string    `json:"name"`
	Perms     []string  `json:"perms,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewService creates an auth service. db may be nil when only session tokens
// are needed.
func NewService(db *sql.DB, secret string, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	return &Service{
		db:       db,
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
	}
}

// IssueToken mints a session token for the principal.
func (s *Service) IssueToken(principal string, perms []string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Principal: principal,
		Perms:     perms,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// VerifyToken parses and validates a session token. A "Bearer " prefix is
// tolerated.
func (s *Service) VerifyToken(tokenString string) (*Claims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// CreateAPIKey mints a long-lived key for a principal. Only the hash is
// stored.
func (s *Service) CreateAPIKey(ctx context.Context, principal, name string, perms []string) (*APIKey, error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return nil, err
	}
	key := hex.EncodeToString(keyBytes)

	id := uuid.New().String()
	now := time.Now()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO api_keys (id, principal, key_hash, name, perms, created_at) VALUES ($1, $2, $3, $4, $5, $6)",
		id, principal, hashKey(key), name, strings.Join(perms, ","), now,
	)
	if err != nil {
		return nil, err
	}

	return &APIKey{
		ID:        id,
		Principal: principal,
		Key:       key,
		Name:      name,
		Perms:     perms,
		CreatedAt: now,
	}, nil
}

// VerifyAPIKey resolves a plain key back to its principal.
func (s *Service) VerifyAPIKey(ctx context.Context, key string) (*APIKey, error) {
	var (
		apiKey   APIKey
		permsStr string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, principal, name, perms, created_at FROM api_keys WHERE key_hash = $1",
		hashKey(key),
	).Scan(&apiKey.ID, &apiKey.Principal, &apiKey.Name, &permsStr, &apiKey.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}

	if permsStr != "" {
		apiKey.Perms = strings.Split(permsStr, ",")
	}
	return &apiKey, nil
}

// RevokeAPIKey deletes a key by id.
func (s *Service) RevokeAPIKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM api_keys WHERE id = $1", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrKeyNotFound
	}
	return nil
}

func hashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
