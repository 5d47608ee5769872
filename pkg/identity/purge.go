package identity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Purger erases every server-side record filed under a token.
type Purger interface {
	Purge(ctx context.Context, token string) error
}

// PurgeFunc adapts a function to Purger.
type PurgeFunc func(ctx context.Context, token string) error

func (f PurgeFunc) Purge(ctx context.Context, token string) error { return f(ctx, token) }

// HTTPPurger calls DELETE {BaseURL}/api/guest/delete-data/{token}.
type HTTPPurger struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPPurger(baseURL string) *HTTPPurger {
	return &HTTPPurger{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *HTTPPurger) Purge(ctx context.Context, token string) error {
	endpoint := p.BaseURL + "/api/guest/delete-data/" + url.PathEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Guest-Id", token)

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 404: nothing was ever stored for this token, which is a successful purge
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode/100 == 2 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("purge: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
