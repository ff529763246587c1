package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pricelens/backend/internal/domain"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// maxResponseBytes caps one scraper response
const maxResponseBytes = 32 << 20

// ScraperClientConfig holds configuration for the scraper client
type ScraperClientConfig struct {
	BaseURL           string
	RequestsPerSecond float64
	Timeout           time.Duration
	MaxAttempts       int
	Backoff           Backoff
}

// ScraperClient pulls the latest observations for a retailer from the scraper service.
type ScraperClient struct {
	httpClient  *http.Client
	baseURL     string
	rateLimiter *rate.Limiter
	maxAttempts int
	backoff     Backoff
	logger      *logrus.Logger
}

// NewScraperClient creates a new scraper client
func NewScraperClient(cfg ScraperClientConfig, logger *logrus.Logger) *ScraperClient {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoff()
	}

	return &ScraperClient{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		logger:      logger,
	}
}

// FetchObservations returns what the scraper collected for retailer.
// Network failures, 429 and 5xx are retried; other statuses fail at once.
func (c *ScraperClient) FetchObservations(ctx context.Context, retailer string) ([]domain.RawObservation, error) {
	params := url.Values{}
	params.Set("supermercado", retailer)
	reqURL := fmt.Sprintf("%s/v1/observations?%s", c.baseURL, params.Encode())
	log := c.logger.WithField("retailer", retailer)

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.backoff.Delay(attempt - 1)
			log.WithError(lastErr).Warnf("Scraper request failed (attempt %d), retrying in %v", attempt-1, delay)
			if err := sleepContext(ctx, delay); err != nil {
				return nil, err
			}
		}

		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		body, retry, err := c.get(ctx, reqURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if retry {
				continue
			}
			return nil, err
		}

		observations, err := DecodeObservations(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrFeedUnavailable, err)
		}
		log.WithField("observations", len(observations)).Info("Fetched observations from scraper")
		return observations, nil
	}

	log.WithError(lastErr).Errorf("All %d scraper attempts failed", c.maxAttempts)
	return nil, lastErr
}

// get performs one request and reports whether a failure is worth retrying.
func (c *ScraperClient) get(ctx context.Context, reqURL string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "PriceLens/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", domain.ErrFeedUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := readLimitedBody(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", domain.ErrFeedUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, false, nil
	case resp.StatusCode == http.StatusNoContent:
		return []byte("[]"), false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("%w: status %d", domain.ErrFeedUnavailable, resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("%w: status %d: %s", domain.ErrFeedUnavailable, resp.StatusCode, snippet(body))
	}
}

var errResponseTooLarge = errors.New("response body too large")

func readLimitedBody(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxResponseBytes {
		return nil, errResponseTooLarge
	}
	return body, nil
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
