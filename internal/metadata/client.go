package metadata

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL       = "https://musicbrainz.org/ws/2/"
	DefaultUserAgent     = "RecordStore/1.0 ( https://github.com/MarcoPoloResearchLab/recordstore )"
	DefaultTimeout       = 5 * time.Second
	DefaultRatePerSecond = 1.0

	searchResultLimit = 5
	retryDelay        = 500 * time.Millisecond
	maxResponseBytes  = 4 << 20
)

var (
	ErrReleaseNotFound  = errors.New("release not found")
	errUnexpectedStatus = errors.New("unexpected status")
)

type ClientConfig struct {
	BaseURL       string
	UserAgent     string
	Timeout       time.Duration
	RatePerSecond float64
	HTTPClient    *http.Client
	Logger        *zap.Logger
}

// Client talks to the MusicBrainz XML web service. Every outbound request waits on a
// shared rate limiter. The configured timeout bounds a whole call, including the limiter
// wait and the retry.
type Client struct {
	baseURL    string
	userAgent  string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  userAgent,
		timeout:    timeout,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger.With(zap.String("adapter", "musicbrainz")),
	}
}

// Release is the subset of a MusicBrainz release the store keeps.
type Release struct {
	ID     string
	Date   string
	Tracks []Track
}

type Track struct {
	Title    string
	LengthMS int64
	HasVideo bool
}

// LookupRelease fetches a release with its recordings. The returned ID is the canonical
// one, which differs from the requested id when MusicBrainz followed a merge redirect.
func (c *Client) LookupRelease(ctx context.Context, id string) (Release, error) {
	query := url.Values{}
	query.Set("inc", "recordings")
	query.Set("fmt", "xml")
	endpoint := c.baseURL + "/release/" + url.PathEscape(id) + "?" + query.Encode()

	var document metadataDocument
	if err := c.getXML(ctx, endpoint, &document); err != nil {
		return Release{}, err
	}
	if document.Release == nil {
		return Release{}, ErrReleaseNotFound
	}
	return document.Release.toRelease(), nil
}

// SearchRelease returns the id of the highest scoring release for artist and album, or
// ErrReleaseNotFound when the search has no hits.
func (c *Client) SearchRelease(ctx context.Context, artist, album string) (string, error) {
	query := url.Values{}
	query.Set("query", fmt.Sprintf("artist:%s AND release:%s", quoteLucene(artist), quoteLucene(album)))
	query.Set("limit", fmt.Sprint(searchResultLimit))
	query.Set("fmt", "xml")
	endpoint := c.baseURL + "/release?" + query.Encode()

	var document metadataDocument
	if err := c.getXML(ctx, endpoint, &document); err != nil {
		return "", err
	}
	best, ok := document.ReleaseList.best()
	if !ok {
		return "", ErrReleaseNotFound
	}
	return best.ID, nil
}

func (c *Client) getXML(ctx context.Context, endpoint string, target any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.doWithRetry(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("musicbrainz: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrReleaseNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("musicbrainz: %w %d", errUnexpectedStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("musicbrainz: read body: %w", err)
	}
	if err := xml.Unmarshal(body, target); err != nil {
		return fmt.Errorf("musicbrainz: decode xml: %w", err)
	}
	return nil
}

// doWithRetry executes the request with a single retry on 5xx or network errors.
func (c *Client) doWithRetry(ctx context.Context, endpoint string) (*http.Response, error) {
	resp, err := c.do(ctx, endpoint)

	shouldRetry := err != nil || (resp != nil && resp.StatusCode >= http.StatusInternalServerError)
	if !shouldRetry || ctx.Err() != nil {
		return resp, err
	}

	reason := "network error"
	if err == nil {
		reason = fmt.Sprintf("status %d", resp.StatusCode)
	}
	c.logger.Warn("musicbrainz retry", zap.String("url", endpoint), zap.String("reason", reason))

	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	timer := time.NewTimer(retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	return c.do(ctx, endpoint)
}

func (c *Client) do(ctx context.Context, endpoint string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/xml")

	c.logger.Debug("musicbrainz request", zap.String("url", endpoint))
	return c.httpClient.Do(req)
}

func quoteLucene(value string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(strings.TrimSpace(value))
	return `"` + escaped + `"`
}
