package issuer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/segurotech/emisor/errors"
)

// tokenSource caches the API bearer token and refreshes it when it nears
// expiry. Safe for concurrent use.
type tokenSource struct {
	baseURL  string
	username string
	password string
	client   *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

// refreshMargin renews tokens slightly before the server-side expiry.
const refreshMargin = 30 * time.Second

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Token returns a valid bearer token, logging in again if the cached one
// expired.
func (ts *tokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && time.Now().Before(ts.expires.Add(-refreshMargin)) {
		return ts.token, nil
	}

	body, err := json.Marshal(loginRequest{Username: ts.username, Password: ts.password})
	if err != nil {
		return "", errors.Wrap(err, "failed to encode login request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.baseURL+"/api/login", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "failed to create login request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "login request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "failed to read login response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Newf("login rejected with status %d: %s", resp.StatusCode, string(respBody))
	}

	var lr loginResponse
	if err := json.Unmarshal(respBody, &lr); err != nil {
		return "", errors.Wrap(err, "failed to decode login response")
	}
	if lr.AccessToken == "" {
		return "", errors.New("login response carried no access token")
	}

	ts.token = lr.AccessToken
	ts.expires = time.Now().Add(time.Duration(lr.ExpiresIn) * time.Second)
	return ts.token, nil
}

// Invalidate drops the cached token so the next call logs in again.
func (ts *tokenSource) Invalidate() {
	ts.mu.Lock()
	ts.token = ""
	ts.mu.Unlock()
}
