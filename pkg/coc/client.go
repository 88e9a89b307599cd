package coc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/clashwithnaro/pushbot/pkg/retry"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
)

// ErrNotFound is returned for unknown clan or player tags.
var ErrNotFound = errors.New("coc: not found")

// Member is one entry of a clan roster.
type Member struct {
	Tag      string `json:"tag"`
	Name     string `json:"name"`
	Trophies int    `json:"trophies"`
}

// Clan is a clan with its live roster.
type Clan struct {
	Tag     string   `json:"tag"`
	Name    string   `json:"name"`
	Members []Member `json:"memberList"`
}

// ClanRef is the clan summary embedded in a player profile.
type ClanRef struct {
	Tag  string `json:"tag"`
	Name string `json:"name"`
}

// Player is a player profile.
type Player struct {
	Tag        string   `json:"tag"`
	Name       string   `json:"name"`
	Trophies   int      `json:"trophies"`
	AttackWins int      `json:"attackWins"`
	Clan       *ClanRef `json:"clan,omitempty"`
}

// Client reads clan rosters and player profiles.
type Client interface {
	GetClan(ctx context.Context, tag string) (*Clan, error)
	// GetClans fetches the clans concurrently. Unknown tags are skipped.
	GetClans(ctx context.Context, tags []string) ([]*Clan, error)
	GetPlayer(ctx context.Context, tag string) (*Player, error)
}

// Config holds the API client settings
type Config struct {
	BaseURL     string
	Token       string
	Timeout     time.Duration
	MinInterval time.Duration
	Concurrency int
}

// HTTPClient talks to the official API with a bearer token and a simple
// spacing between requests.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retryOpts  retry.RetryOptions
	fanOut     int

	mu          sync.Mutex
	lastRequest time.Time
	minInterval time.Duration
}

// NewHTTPClient creates a new API client
func NewHTTPClient(cfg Config) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	fanOut := cfg.Concurrency
	if fanOut <= 0 {
		fanOut = 5
	}
	opts := retry.DefaultOptions()
	opts.MaxAttempts = 3
	opts.InitialInterval = 500 * time.Millisecond
	opts.MaxInterval = 5 * time.Second
	opts.Jitter = true
	opts.Classifier = isRetryable

	return &HTTPClient{
		baseURL:     cfg.BaseURL,
		token:       cfg.Token,
		httpClient:  &http.Client{Timeout: timeout},
		retryOpts:   opts,
		fanOut:      fanOut,
		minInterval: cfg.MinInterval,
	}
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("coc api: status %d: %s", e.code, e.body)
}

func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	// transport errors
	return !errors.Is(err, context.Canceled)
}

func (c *HTTPClient) wait(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elapsed := time.Since(c.lastRequest); elapsed < c.minInterval {
		t := time.NewTimer(c.minInterval - elapsed)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	c.lastRequest = time.Now()
	return nil
}

func (c *HTTPClient) get(ctx context.Context, path string, out interface{}) error {
	return retry.Do(ctx, func() error {
		if err := c.wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return retry.Permanent(ErrNotFound)
		case resp.StatusCode != http.StatusOK:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return &statusError{code: resp.StatusCode, body: string(body)}
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return retry.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	}, c.retryOpts)
}

// GetClan fetches one clan with its roster.
func (c *HTTPClient) GetClan(ctx context.Context, tag string) (*Clan, error) {
	var clan Clan
	if err := c.get(ctx, "/clans/"+url.PathEscape(tag), &clan); err != nil {
		return nil, err
	}
	return &clan, nil
}

// GetClans fetches several clans, keeping the input order.
func (c *HTTPClient) GetClans(ctx context.Context, tags []string) ([]*Clan, error) {
	results := make([]*Clan, len(tags))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.fanOut)
	for i, tag := range tags {
		i, tag := i, tag
		g.Go(func() error {
			clan, err := c.GetClan(gctx, tag)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("clan %s: %w", tag, err)
			}
			results[i] = clan
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	clans := make([]*Clan, 0, len(results))
	for _, clan := range results {
		if clan != nil {
			clans = append(clans, clan)
		}
	}
	return clans, nil
}

// GetPlayer fetches a player profile.
func (c *HTTPClient) GetPlayer(ctx context.Context, tag string) (*Player, error) {
	var p Player
	if err := c.get(ctx, "/players/"+url.PathEscape(tag), &p); err != nil {
		return nil, err
	}
	return &p, nil
}
