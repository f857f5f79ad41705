package credential

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// CookieExchangeResult is the API key iFlow hands back in exchange for
// a browser session cookie, with its own expiry.
type CookieExchangeResult struct {
	APIKey    string
	ExpiresAt time.Time
}

// CookieExchanger exchanges an iFlow session cookie for a short-lived
// API key, caching the result per cookie until it expires.
type CookieExchanger struct {
	mu       sync.Mutex
	cache    map[string]CookieExchangeResult
	client   *http.Client
	endpoint string
}

// NewCookieExchanger builds an exchanger that POSTs to endpoint.
func NewCookieExchanger(client *http.Client, endpoint string) *CookieExchanger {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &CookieExchanger{cache: make(map[string]CookieExchangeResult), client: client, endpoint: endpoint}
}

// Exchange returns a cached API key for cookie if still valid, else
// performs the exchange HTTP call.
func (c *CookieExchanger) Exchange(ctx context.Context, cookie string) (string, error) {
	c.mu.Lock()
	if cached, ok := c.cache[cookie]; ok && time.Now().Before(cached.ExpiresAt) {
		c.mu.Unlock()
		return cached.APIKey, nil
	}
	c.mu.Unlock()

	body, _ := json.Marshal(map[string]string{"cookie": cookie})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("iflow cookie exchange failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var parsed struct {
		APIKey    string `json:"apiKey"`
		ExpiresIn int64  `json:"expiresIn"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("iflow cookie exchange: decode response: %w", err)
	}

	result := CookieExchangeResult{
		APIKey:    parsed.APIKey,
		ExpiresAt: time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second),
	}

	c.mu.Lock()
	c.cache[cookie] = result
	c.mu.Unlock()

	return result.APIKey, nil
}

// SignRequest computes iFlow's HMAC-SHA256 request signature:
// hex(HMAC(apiKey, "ua:sessionId:ts")).
func SignRequest(apiKey, userAgent, sessionID string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(apiKey))
	mac.Write([]byte(fmt.Sprintf("%s:%s:%d", userAgent, sessionID, ts)))
	return hex.EncodeToString(mac.Sum(nil))
}

// IsBusinessTokenExpired reports whether an iFlow business-layer error
// body indicates the token is expired even though HTTP status was 200.
// iFlow encodes this as status="439" plus a "token expired" message
// inside an otherwise-200 JSON envelope.
func IsBusinessTokenExpired(body []byte) bool {
	var parsed struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return false
	}
	return parsed.Status == "439" && strings.Contains(strings.ToLower(parsed.Message), "token expired")
}
