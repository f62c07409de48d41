package auth

import (
	"context"
	"errors"
	"time"

	"github.com/featurehub-ai/platform/pkg/common/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const jwtIssuer = "featurehub"

type Claims struct {
	Name  string `json:"name"`
	Admin bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator accepts HS256 tokens it issued itself. It stands in for
// the hub when the evaluation server runs without one. Cookies carry the
// same token.
type JWTAuthenticator struct {
	signingKey []byte
	ttl        time.Duration
	nowFunc    func() time.Time
}

func NewJWTAuthenticator(secret string, ttl time.Duration) (*JWTAuthenticator, error) {
	if len(secret) < 16 {
		return nil, errors.New("jwt secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTAuthenticator{signingKey: []byte(secret), ttl: ttl, nowFunc: time.Now}, nil
}

func (a *JWTAuthenticator) IssueToken(user models.HubUser) (string, error) {
	now := a.nowFunc()
	claims := Claims{
		Name:  user.Name,
		Admin: user.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    jwtIssuer,
			Subject:   user.Name,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.signingKey)
}

func (a *JWTAuthenticator) UserForToken(_ context.Context, token string) (*models.HubUser, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return a.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(jwtIssuer),
		jwt.WithTimeFunc(a.nowFunc),
	)
	if err != nil || claims.Name == "" {
		return nil, ErrUnauthenticated
	}
	return &models.HubUser{Name: claims.Name, Admin: claims.Admin, Kind: "user"}, nil
}

func (a *JWTAuthenticator) UserForCookie(ctx context.Context, _, value string) (*models.HubUser, error) {
	return a.UserForToken(ctx, value)
}
