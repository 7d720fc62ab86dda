package blizzard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"wow-auction-collector/internal/monitoring"
)

// ErrNotFound is returned for upstream 404s. Never retried; the caller
// decides what absence means (skip the realm, mark the item as having no
// metadata).
var ErrNotFound = errors.New("not found upstream")

// ErrAuth is returned when the bearer credential is rejected even after one
// forced refresh.
var ErrAuth = errors.New("upstream rejected credentials")

// APIError carries a non-retryable upstream HTTP status.
type APIError struct {
	Status int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream status %d", e.Status)
}

// Config holds everything the client needs to talk to the game-data API.
type Config struct {
	Region       string
	Namespace    string
	Locale       string
	ClientID     string
	ClientSecret string

	CallInterval time.Duration // minimum spacing between outbound calls
	Timeout      time.Duration // per-call timeout
	MaxAttempts  int           // total attempts per call, including the first
	RetryBase    time.Duration // backoff base, doubled per retry

	// APIBase and OAuthBase override the region-derived URLs; used by tests.
	APIBase   string
	OAuthBase string
}

func (c Config) withDefaults() Config {
	if c.CallInterval <= 0 {
		c.CallInterval = time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.APIBase == "" {
		c.APIBase = fmt.Sprintf("https://%s.api.blizzard.com", c.Region)
	}
	if c.OAuthBase == "" {
		c.OAuthBase = fmt.Sprintf("https://%s.battle.net", c.Region)
	}
	return c
}

// Client wraps all game-data API calls with token handling, a minimum
// inter-call spacing, and bounded retry on transient upstream failures.
type Client struct {
	http      *resty.Client
	tokens    *TokenBroker
	limiter   *rate.Limiter
	namespace string
	locale    string
	stats     *monitoring.Stats
	log       *logrus.Entry
}

func NewClient(cfg Config, stats *monitoring.Stats, log *logrus.Entry) *Client {
	cfg = cfg.withDefaults()

	httpClient := resty.New().
		SetBaseURL(cfg.APIBase).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxAttempts - 1).
		SetRetryWaitTime(cfg.RetryBase).
		SetRetryMaxWaitTime(10 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			switch r.StatusCode() {
			case http.StatusTooManyRequests,
				http.StatusInternalServerError,
				http.StatusBadGateway,
				http.StatusServiceUnavailable,
				http.StatusGatewayTimeout:
				return true
			}
			return false
		})

	return &Client{
		http:      httpClient,
		tokens:    NewTokenBroker(cfg.OAuthBase+"/oauth/token", cfg.ClientID, cfg.ClientSecret, cfg.Timeout, log),
		limiter:   rate.NewLimiter(rate.Every(cfg.CallInterval), 1),
		namespace: cfg.Namespace,
		locale:    cfg.Locale,
		stats:     stats,
		log:       log,
	}
}

// getJSON performs one rate-limited, authenticated GET and decodes the body
// into out. A rejected credential is refreshed and retried exactly once.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	resp, err := c.do(ctx, path, out)
	if err != nil {
		c.stats.APIError()
		return err
	}
	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
		c.tokens.Invalidate()
		c.log.WithField("path", path).Warn("credential rejected, refreshing token")
		resp, err = c.do(ctx, path, out)
		if err != nil {
			c.stats.APIError()
			return err
		}
		if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
			c.stats.APIError()
			return fmt.Errorf("%s: %w", path, ErrAuth)
		}
	}
	if resp.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if resp.IsError() {
		c.stats.APIError()
		return fmt.Errorf("%s: %w", path, &APIError{Status: resp.StatusCode()})
	}
	return nil
}

func (c *Client) do(ctx context.Context, path string, out any) (*resty.Response, error) {
	token, err := c.tokens.Get(ctx)
	if err != nil {
		return nil, err
	}
	c.stats.APICall()
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetQueryParams(map[string]string{
			"namespace": c.namespace,
			"locale":    c.locale,
		}).
		SetResult(out).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return resp, nil
}

// ConnectedRealmIDs lists every connected realm the region exposes.
func (c *Client) ConnectedRealmIDs(ctx context.Context) ([]int64, error) {
	var out ConnectedRealmIndex
	if err := c.getJSON(ctx, "/data/wow/connected-realm/index", &out); err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(out.ConnectedRealms))
	for _, ref := range out.ConnectedRealms {
		id, ok := ref.ID()
		if !ok {
			c.log.WithField("href", ref.Href).Warn("unparseable connected-realm href")
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Auctions fetches the full current listing set of one connected realm.
func (c *Client) Auctions(ctx context.Context, realmID int64) (*AuctionsResponse, error) {
	var out AuctionsResponse
	path := fmt.Sprintf("/data/wow/connected-realm/%d/auctions", realmID)
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Commodities fetches the region-wide commodity listing set.
func (c *Client) Commodities(ctx context.Context) (*AuctionsResponse, error) {
	var out AuctionsResponse
	if err := c.getJSON(ctx, "/data/wow/auctions/commodities", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Item(ctx context.Context, itemID int64) (*ItemResponse, error) {
	var out ItemResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/data/wow/item/%d", itemID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ItemMedia(ctx context.Context, itemID int64) (*MediaResponse, error) {
	var out MediaResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/data/wow/media/item/%d", itemID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ItemClassIndex(ctx context.Context) (*ItemClassIndexResponse, error) {
	var out ItemClassIndexResponse
	if err := c.getJSON(ctx, "/data/wow/item-class/index", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ItemClass(ctx context.Context, classID int64) (*ItemClassResponse, error) {
	var out ItemClassResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/data/wow/item-class/%d", classID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}
