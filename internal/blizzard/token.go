package blizzard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// refreshMargin is subtracted from the upstream expiry so a token is never
// handed out moments before it lapses mid-request.
const refreshMargin = 60 * time.Second

// TokenBroker exchanges client credentials for a bearer token and caches it
// until close to expiry. Refresh is single-flight: concurrent callers block
// on the same mutex and the first one through does the exchange.
type TokenBroker struct {
	http         *resty.Client
	tokenURL     string
	clientID     string
	clientSecret string
	log          *logrus.Entry

	mu      sync.Mutex
	token   string
	expires time.Time

	now func() time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// NewTokenBroker takes the full token endpoint URL, normally
// https://<region>.battle.net/oauth/token.
func NewTokenBroker(tokenURL, clientID, clientSecret string, timeout time.Duration, log *logrus.Entry) *TokenBroker {
	return &TokenBroker{
		http:         resty.New().SetTimeout(timeout),
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		log:          log,
		now:          time.Now,
	}
}

// Get returns a valid bearer token, refreshing it when the cached one is
// absent or within refreshMargin of expiry.
func (b *TokenBroker) Get(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.token != "" && b.now().Add(refreshMargin).Before(b.expires) {
		return b.token, nil
	}
	return b.refreshLocked(ctx)
}

// Invalidate drops the cached token so the next Get performs a fresh
// exchange. Called when the upstream rejects the credential.
func (b *TokenBroker) Invalidate() {
	b.mu.Lock()
	b.token = ""
	b.mu.Unlock()
}

func (b *TokenBroker) refreshLocked(ctx context.Context) (string, error) {
	var out tokenResponse
	resp, err := b.http.R().
		SetContext(ctx).
		SetBasicAuth(b.clientID, b.clientSecret).
		SetFormData(map[string]string{"grant_type": "client_credentials"}).
		SetResult(&out).
		Post(b.tokenURL)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("token exchange: %w", &APIError{Status: resp.StatusCode()})
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("token exchange: empty access_token")
	}

	b.token = out.AccessToken
	b.expires = b.now().Add(time.Duration(out.ExpiresIn) * time.Second)
	b.log.WithField("expires_in", out.ExpiresIn).Debug("access token refreshed")
	return b.token, nil
}
