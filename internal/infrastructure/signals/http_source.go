// Package signals provides the production DataSource: an HTTP client for the
// upstream fraud-signal API the analysis agents read from.
package signals

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fraudlens/investigation-backend/internal/infrastructure/config"
	"github.com/fraudlens/investigation-backend/internal/service/agents"
)

const defaultRecordLimit = 1000

// HTTPSource queries the signal API over HTTP. Transient upstream failures
// are retried with a short linear backoff; 4xx responses are not, since the
// request will not get better on its own.
type HTTPSource struct {
	baseURL     string
	apiKey      string
	maxRetries  int
	recordLimit int
	client      *http.Client
	logger      *zap.Logger
}

// NewHTTPSource builds a source from configuration
func NewHTTPSource(cfg *config.SignalsConfig, logger *zap.Logger) (*HTTPSource, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("signals base url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := cfg.RecordLimit
	if limit <= 0 {
		limit = defaultRecordLimit
	}

	return &HTTPSource{
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		maxRetries:  cfg.MaxRetries,
		recordLimit: limit,
		client:      &http.Client{Timeout: cfg.Timeout},
		logger:      logger,
	}, nil
}

type queryPayload struct {
	Dataset    string                 `json:"dataset"`
	EntityID   string                 `json:"entity_id"`
	EntityType string                 `json:"entity_type"`
	TimeStart  time.Time              `json:"time_start"`
	TimeEnd    time.Time              `json:"time_end"`
	Limit      int                    `json:"limit"`
	Params     map[string]interface{} `json:"params,omitempty"`
}

type queryResponse struct {
	Records []agents.Record `json:"records"`
}

// Query fetches the dataset rows for one entity and time range
func (s *HTTPSource) Query(ctx context.Context, req agents.QueryRequest) ([]agents.Record, error) {
	limit := req.Limit
	if limit <= 0 || limit > s.recordLimit {
		limit = s.recordLimit
	}

	body, err := json.Marshal(queryPayload{
		Dataset:    req.Dataset,
		EntityID:   req.EntityID,
		EntityType: req.EntityType.String(),
		TimeStart:  req.TimeRange.Start,
		TimeEnd:    req.TimeRange.End,
		Limit:      limit,
		Params:     req.Params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal signal query: %w", err)
	}

	url := s.baseURL + "/v1/signals/" + req.Domain + "/query"

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
			}
		}

		records, retryable, err := s.doQuery(ctx, url, body)
		if err == nil {
			return records, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		s.logger.Warn("signal query attempt failed",
			zap.String("domain", req.Domain),
			zap.String("dataset", req.Dataset),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	return nil, fmt.Errorf("signal query exhausted retries: %w", lastErr)
}

func (s *HTTPSource) doQuery(ctx context.Context, url string, body []byte) ([]agents.Record, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build signal request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// Handled below
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return nil, true, fmt.Errorf("signal api returned %d", resp.StatusCode)
	default:
		io.Copy(io.Discard, resp.Body)
		return nil, false, fmt.Errorf("signal api returned %d", resp.StatusCode)
	}

	var decoded queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, false, fmt.Errorf("decode signal response: %w", err)
	}

	return decoded.Records, false, nil
}
