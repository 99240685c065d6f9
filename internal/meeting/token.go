package meeting

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// expirySlack is subtracted from the provider's expires_in so a token is
// refreshed before it actually lapses mid-request.
const expirySlack = 60 * time.Second

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// token returns the cached bearer token, exchanging client credentials for a
// fresh one when the cache is empty or expired.
func (c *Client) token(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}
	return c.exchangeLocked(ctx)
}

// forceRefresh discards the cached token (if it still matches stale) and
// performs a fresh exchange. Used after a 401.
func (c *Client) forceRefresh(ctx context.Context, stale string) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	// Another goroutine may have refreshed already.
	if c.accessToken != "" && c.accessToken != stale && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}
	c.accessToken = ""
	return c.exchangeLocked(ctx)
}

func (c *Client) exchangeLocked(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type": {"account_credentials"},
		"account_id": {c.cfg.AccountID},
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token endpoint returned %d", ErrProviderAuth, resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrProviderAuth)
	}

	c.accessToken = tr.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tr.ExpiresIn)*time.Second - expirySlack)
	return c.accessToken, nil
}
