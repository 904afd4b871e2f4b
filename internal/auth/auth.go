// Package auth resolves bearer tokens to clinic users.
package auth

import (
	"clinicmsg/backend/internal/config"
	"clinicmsg/backend/internal/models"
	"clinicmsg/backend/internal/storage"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMissingToken = errors.New("auth: missing token")
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrUserNotFound = errors.New("auth: user not found")
)

// Claims is the JWT payload. RegisteredClaims.ID carries the jti used for revocation.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Identity is an authenticated user together with the token that proved it.
type Identity struct {
	User   *models.User
	Claims *Claims
}

func (i *Identity) UserID() string { return i.User.ID }

// Directory is the read side the resolver needs.
type Directory interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// Resolver validates tokens and loads the referenced user.
type Resolver struct {
	secret []byte
	dir    Directory
	now    func() time.Time
}

func NewResolver(secret string, dir Directory) *Resolver {
	return &Resolver{secret: []byte(secret), dir: dir, now: time.Now}
}

// IssueToken signs a token for userID that expires after ttl.
func (r *Resolver) IssueToken(userID string, ttl time.Duration) (string, *Claims, error) {
	now := r.now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   userID,
			Issuer:    config.TokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(r.secret)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Parse checks signature and expiry only.
func (r *Resolver) Parse(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return r.secret, nil
	},
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(config.TokenIssuer),
		jwt.WithTimeFunc(r.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Authenticate validates the token, rejects revoked ones and resolves the user.
func (r *Resolver) Authenticate(ctx context.Context, tokenString string) (*Identity, error) {
	claims, err := r.Parse(tokenString)
	if err != nil {
		return nil, err
	}

	revoked, err := r.dir.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, fmt.Errorf("%w: revoked", ErrInvalidToken)
	}

	user, err := r.dir.GetUserByID(ctx, claims.UserID)
	if errors.Is(err, storage.ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	return &Identity{User: user, Claims: claims}, nil
}

// RemainingTTL is how long the token stays valid.
func (r *Resolver) RemainingTTL(c *Claims) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Sub(r.now())
}
