package bulk

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	opensearch "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/hyperjump/codeingest/internal/models"
	"github.com/hyperjump/codeingest/pkg/utils"
)

// OpenSearchConfig configures the OpenSearch backend.
type OpenSearchConfig struct {
	URL      string
	Username string
	Password string
	// InsecureSkipVerify disables certificate verification. Off by default.
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// OpenSearch delivers batches to the _bulk endpoint as NDJSON.
type OpenSearch struct {
	client  *opensearch.Client
	timeout time.Duration
}

// NewOpenSearch creates a client for cfg.URL. No request is made until the first batch.
func NewOpenSearch(cfg OpenSearchConfig) (*OpenSearch, error) {
	if cfg.URL == "" {
		return nil, errors.New("opensearch url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // explicit opt-in for self-signed clusters
	}
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
		// Retries are the submitter's job so they are counted and logged once.
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating opensearch client: %w", err)
	}
	return &OpenSearch{client: client, timeout: cfg.Timeout}, nil
}

// Name implements Backend.
func (o *OpenSearch) Name() string { return "opensearch" }

// RequiresEmbeddings implements Backend. OpenSearch accepts documents with or without vectors.
func (o *OpenSearch) RequiresEmbeddings() bool { return false }

// Bulk implements Backend.
func (o *OpenSearch) Bulk(ctx context.Context, pairs []models.BulkPair) ([]ItemError, error) {
	var body bytes.Buffer
	if err := EncodeNDJSON(&body, pairs); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req := opensearchapi.BulkRequest{Body: bytes.NewReader(body.Bytes())}
	res, err := req.Do(ctx, o.client)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		text := strings.TrimSpace(string(msg))
		if text == "" {
			text = http.StatusText(res.StatusCode)
		}
		return nil, &TransportError{Status: res.StatusCode, Err: errors.New(utils.Truncate(text, maxReasonLen))}
	}
	return parseBulkResponse(res.Body, pairs)
}

// Close implements Backend. The HTTP client keeps no state worth releasing.
func (o *OpenSearch) Close() error { return nil }
