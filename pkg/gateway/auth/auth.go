package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/featurehub-ai/platform/pkg/common/models"
)

var ErrUnauthenticated = errors.New("request is not authenticated")

// Authenticator resolves request credentials to a hub user. Both methods
// return ErrUnauthenticated when the credential is unknown.
type Authenticator interface {
	UserForToken(ctx context.Context, token string) (*models.HubUser, error)
	UserForCookie(ctx context.Context, name, value string) (*models.HubUser, error)
}

// Authenticate checks the "Authorization: token <t>" header first and falls
// back to the hub cookie.
func Authenticate(r *http.Request, a Authenticator, cookieName string) (*models.HubUser, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "token") && !strings.EqualFold(scheme, "bearer") {
			return nil, ErrUnauthenticated
		}
		return a.UserForToken(r.Context(), strings.TrimSpace(token))
	}
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return a.UserForCookie(r.Context(), cookieName, c.Value)
		}
	}
	return nil, ErrUnauthenticated
}

type userKey struct{}

func WithUser(ctx context.Context, user *models.HubUser) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

func UserFromContext(ctx context.Context) (*models.HubUser, bool) {
	user, ok := ctx.Value(userKey{}).(*models.HubUser)
	return user, ok && user != nil
}

// cache remembers lookups for maxAge so a burst of requests from one
// session costs a single hub round trip.
type cache struct {
	maxAge time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	user    *models.HubUser
	expires time.Time
}

func newCache(maxAge time.Duration) *cache {
	return &cache{maxAge: maxAge, now: time.Now, entries: make(map[string]cacheEntry)}
}

func (c *cache) get(key string) (*models.HubUser, bool) {
	if c.maxAge <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return e.user, true
}

func (c *cache) put(key string, user *models.HubUser) {
	if c.maxAge <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cacheEntry{user: user, expires: now.Add(c.maxAge)}
}
