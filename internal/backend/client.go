// Package backend is the REST client for the dispatch API's active
// journeys and active vehicles snapshots.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"fleettrack/internal/buildinfo"
	"fleettrack/internal/channel"
	"fleettrack/internal/model"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Body)
}

type Client struct {
	BaseURL     string
	WorkspaceID string
	HTTP        *http.Client
	Token       channel.TokenSource
	limiter     *rate.Limiter
}

// New builds a client. ratePerSec <= 0 disables client-side rate limiting.
func New(baseURL, workspaceID string, token channel.TokenSource, ratePerSec float64) *Client {
	lim := rate.NewLimiter(rate.Inf, 0)
	if ratePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(ratePerSec), 2)
	}
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		WorkspaceID: workspaceID,
		HTTP:        &http.Client{Timeout: 15 * time.Second},
		Token:       token,
		limiter:     lim,
	}
}

func (c *Client) FetchActiveJourneys(ctx context.Context) ([]model.TrackedJourney, error) {
	var out []model.TrackedJourney
	if err := c.get(ctx, "journeys/active", &out); err != nil {
		return nil, fmt.Errorf("fetch active journeys: %w", err)
	}
	return out, nil
}

func (c *Client) FetchActiveVehicles(ctx context.Context) ([]model.ActiveVehicle, error) {
	var out []model.ActiveVehicle
	if err := c.get(ctx, "vehicles/active", &out); err != nil {
		return nil, fmt.Errorf("fetch active vehicles: %w", err)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, resource string, into any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	u := c.BaseURL + "/v1/workspaces/" + url.PathEscape(c.WorkspaceID) + "/" + resource
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	if c.Token != nil {
		tok, err := c.Token.Token(ctx)
		if err != nil {
			return fmt.Errorf("token: %w", err)
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return &StatusError{Code: resp.StatusCode, Body: snippet}
	}
	return decodeList(body, into)
}

// decodeList accepts a bare JSON array or an object wrapping it in "data".
func decodeList(body []byte, into any) error {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || string(body) == "null" {
		return nil
	}
	if body[0] == '{' {
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return fmt.Errorf("decode envelope: %w", err)
		}
		if len(env.Data) == 0 || string(env.Data) == "null" {
			return nil
		}
		body = env.Data
	}
	if err := json.Unmarshal(body, into); err != nil {
		return fmt.Errorf("decode list: %w", err)
	}
	return nil
}
