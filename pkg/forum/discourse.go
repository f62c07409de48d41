package forum

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/featurehub-ai/platform/pkg/common/httpclient"
	"github.com/featurehub-ai/platform/pkg/common/logger"
	"github.com/featurehub-ai/platform/pkg/common/models"
	"github.com/sirupsen/logrus"
)

// DiscourseClient posts registered features as new topics in one category.
type DiscourseClient struct {
	baseURL  string
	username string
	apiKey   string
	category string
	client   *http.Client

	mu         sync.Mutex
	categoryID int
}

func NewDiscourseClient(domain, username, apiKey, category string) (*DiscourseClient, error) {
	if domain == "" || username == "" || apiKey == "" {
		return nil, fmt.Errorf("discourse configuration incomplete")
	}
	base := domain
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	return &DiscourseClient{
		baseURL:  strings.TrimRight(base, "/"),
		username: username,
		apiKey:   apiKey,
		category: category,
		client:   httpclient.New(15 * time.Second),
	}, nil
}

type createPostRequest struct {
	Title    string `json:"title"`
	Raw      string `json:"raw"`
	Category int    `json:"category,omitempty"`
}

type createPostResponse struct {
	ID        int    `json:"id"`
	TopicID   int    `json:"topic_id"`
	TopicSlug string `json:"topic_slug"`
}

type categoriesResponse struct {
	CategoryList struct {
		Categories []struct {
			ID   int    `json:"id"`
			Name string `json:"name"`
			Slug string `json:"slug"`
		} `json:"categories"`
	} `json:"category_list"`
}

// PostFeature creates the topic and returns its URL.
func (d *DiscourseClient) PostFeature(ctx context.Context, feature models.RegisteredFeature) (string, error) {
	categoryID, err := d.resolveCategory(ctx)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(createPostRequest{
		Title:    Title(feature),
		Raw:      Render(feature),
		Category: categoryID,
	})
	if err != nil {
		return "", err
	}

	var created createPostResponse
	err = httpclient.Retry(ctx, 3, 500*time.Millisecond, func() error {
		return d.do(ctx, http.MethodPost, "/posts.json", body, &created)
	})
	if err != nil {
		return "", fmt.Errorf("create discourse post: %w", err)
	}
	url := fmt.Sprintf("%s/t/%s/%d", d.baseURL, created.TopicSlug, created.TopicID)
	logger.WithFields(logrus.Fields{
		"feature_id": feature.FeatureID,
		"topic_id":   created.TopicID,
	}).Info("Posted feature to forum")
	return url, nil
}

// resolveCategory looks up the configured category by name or slug once.
// An empty category posts uncategorized.
func (d *DiscourseClient) resolveCategory(ctx context.Context) (int, error) {
	if d.category == "" {
		return 0, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.categoryID != 0 {
		return d.categoryID, nil
	}
	var resp categoriesResponse
	err := httpclient.Retry(ctx, 3, 500*time.Millisecond, func() error {
		return d.do(ctx, http.MethodGet, "/categories.json", nil, &resp)
	})
	if err != nil {
		return 0, fmt.Errorf("list discourse categories: %w", err)
	}
	for _, c := range resp.CategoryList.Categories {
		if strings.EqualFold(c.Name, d.category) || strings.EqualFold(c.Slug, d.category) {
			d.categoryID = c.ID
			return c.ID, nil
		}
	}
	return 0, fmt.Errorf("discourse category %q not found", d.category)
}

func (d *DiscourseClient) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Api-Key", d.apiKey)
	req.Header.Set("Api-Username", d.username)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := httpclient.CheckStatus(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
