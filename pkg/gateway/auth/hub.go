package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/featurehub-ai/platform/pkg/common/httpclient"
	"github.com/featurehub-ai/platform/pkg/common/logger"
	"github.com/featurehub-ai/platform/pkg/common/models"
	"golang.org/x/oauth2"
)

// HubAuthenticator asks the hub's authorization API who owns a token or
// cookie. The service authenticates itself with its own API token.
type HubAuthenticator struct {
	baseURL string
	client  *http.Client
	cache   *cache
}

func NewHubAuthenticator(apiURL, serviceToken string, cacheMaxAge time.Duration) (*HubAuthenticator, error) {
	if apiURL == "" || serviceToken == "" {
		return nil, fmt.Errorf("hub auth configuration incomplete")
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpclient.New(10*time.Second))
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: serviceToken, TokenType: "token"})
	return &HubAuthenticator{
		baseURL: strings.TrimRight(apiURL, "/"),
		client:  oauth2.NewClient(ctx, src),
		cache:   newCache(cacheMaxAge),
	}, nil
}

func (h *HubAuthenticator) UserForToken(ctx context.Context, token string) (*models.HubUser, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	return h.lookup(ctx, "token", token, "/authorizations/token/"+url.PathEscape(token))
}

func (h *HubAuthenticator) UserForCookie(ctx context.Context, name, value string) (*models.HubUser, error) {
	if value == "" {
		return nil, ErrUnauthenticated
	}
	return h.lookup(ctx, "cookie", name+"="+value, "/authorizations/cookie/"+url.PathEscape(name)+"/"+url.PathEscape(value))
}

func (h *HubAuthenticator) lookup(ctx context.Context, kind, credential, path string) (*models.HubUser, error) {
	key := kind + ":" + credential
	if user, ok := h.cache.get(key); ok {
		return user, nil
	}

	var user models.HubUser
	err := httpclient.Retry(ctx, 3, 100*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+path, nil)
		if err != nil {
			return err
		}
		resp, err := h.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden {
			return ErrUnauthenticated
		}
		if err := httpclient.CheckStatus(resp); err != nil {
			return err
		}
		return json.NewDecoder(resp.Body).Decode(&user)
	})
	if err != nil {
		if !errors.Is(err, ErrUnauthenticated) {
			logger.WithField("credential", kind).WithError(err).Warn("Hub authorization lookup failed")
		}
		return nil, err
	}
	if user.Name == "" {
		return nil, ErrUnauthenticated
	}
	h.cache.put(key, &user)
	return &user, nil
}
