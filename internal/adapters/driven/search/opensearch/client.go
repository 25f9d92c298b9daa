// Package opensearch provides a driven.SearchIndex backed by a remote
// OpenSearch cluster. Each image gets its own index named after the image
// hash; requests are retried by go-retryablehttp.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	rhttp "github.com/hashicorp/go-retryablehttp"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
	"github.com/custodia-labs/dfdewey/internal/core/ports/driven"
)

// Ensure Index implements the interface.
var _ driven.SearchIndex = (*Index)(nil)

// Default configuration values.
const (
	DefaultURL      = "http://127.0.0.1:9200"
	DefaultTimeout  = 30 * time.Second
	DefaultRetryMax = 4
	IndexPrefix     = "es"
)

// Config holds configuration for the OpenSearch index.
type Config struct {
	// URL is the cluster base URL (default: http://127.0.0.1:9200).
	URL string

	// Timeout bounds each HTTP attempt (default: 30s).
	Timeout time.Duration

	// RetryMax is how often a failed request is retried (default: 4).
	RetryMax int

	// RetryWaitMin is the first retry delay. Zero keeps the client default.
	RetryWaitMin time.Duration
}

// Index talks to OpenSearch over its REST API.
type Index struct {
	client  *rhttp.Client
	baseURL string

	mu      sync.Mutex
	created map[string]bool
}

// NewIndex creates a new OpenSearch index client.
func NewIndex(cfg Config) *Index {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryMax == 0 {
		cfg.RetryMax = DefaultRetryMax
	}

	client := rhttp.NewClient()
	client.Logger = nil // disable logging every request
	client.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		client.RetryWaitMin = cfg.RetryWaitMin
		client.RetryWaitMax = 8 * cfg.RetryWaitMin
	}
	client.HTTPClient.Timeout = cfg.Timeout

	return &Index{
		client:  client,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		created: make(map[string]bool),
	}
}

// IndexName returns the index holding an image's documents.
func IndexName(imageID string) string {
	return IndexPrefix + strings.ToLower(imageID)
}

// Close releases idle connections.
func (ix *Index) Close() error {
	ix.client.HTTPClient.CloseIdleConnections()
	return nil
}

// source is the stored form of a document.
type source struct {
	ImageID    string `json:"image_id"`
	Offset     int64  `json:"offset"`
	DecodePath string `json:"decode_path,omitempty"`
	Provenance string `json:"provenance,omitempty"`
	Data       string `json:"data"`
	Allocated  bool   `json:"allocated"`
	Location   string `json:"location,omitempty"`
	Inode      uint64 `json:"inode,omitempty"`
	FileOffset int64  `json:"file_offset,omitempty"`
}

var indexMapping = map[string]any{
	"mappings": map[string]any{
		"properties": map[string]any{
			"image_id":    map[string]string{"type": "keyword"},
			"offset":      map[string]string{"type": "long"},
			"decode_path": map[string]string{"type": "keyword"},
			"provenance":  map[string]string{"type": "keyword"},
			"data":        map[string]string{"type": "text"},
			"allocated":   map[string]string{"type": "boolean"},
			"location":    map[string]string{"type": "keyword"},
			"inode":       map[string]string{"type": "long"},
			"file_offset": map[string]string{"type": "long"},
		},
	},
}

// IndexBatch writes documents through the bulk API.
func (ix *Index) IndexBatch(ctx context.Context, docs []domain.IndexedDocument) error {
	if len(docs) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, d := range docs {
		if err := ix.ensureIndex(ctx, d.ImageID); err != nil {
			return err
		}
		action := map[string]any{"index": map[string]string{"_index": IndexName(d.ImageID), "_id": d.ID}}
		if err := enc.Encode(action); err != nil {
			return fmt.Errorf("marshal bulk action: %w", err)
		}
		if err := enc.Encode(toSource(d)); err != nil {
			return fmt.Errorf("marshal document: %w", err)
		}
	}

	var resp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  any `json:"error"`
		} `json:"items"`
	}
	if _, err := ix.do(ctx, http.MethodPost, "/_bulk", "application/x-ndjson", body.Bytes(), &resp); err != nil {
		return err
	}
	if resp.Errors {
		for _, item := range resp.Items {
			for _, r := range item {
				if r.Error != nil {
					return fmt.Errorf("bulk item failed (status %d): %v", r.Status, r.Error)
				}
			}
		}
		return errors.New("bulk request reported errors")
	}
	return nil
}

// DeleteImage removes the image's index.
func (ix *Index) DeleteImage(ctx context.Context, imageID string) error {
	status, err := ix.do(ctx, http.MethodDelete, "/"+IndexName(imageID), "", nil, nil)
	if err != nil && status != http.StatusNotFound {
		return err
	}

	ix.mu.Lock()
	delete(ix.created, imageID)
	ix.mu.Unlock()
	return nil
}

// Search returns up to limit documents ordered by offset.
func (ix *Index) Search(ctx context.Context, imageID string, query driven.Query, limit int) (*driven.SearchResult, error) {
	req := map[string]any{
		"query":            boolQuery(query),
		"size":             limit,
		"sort":             []any{map[string]string{"offset": "asc"}},
		"track_total_hits": true,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var resp struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
			Hits []struct {
				ID     string `json:"_id"`
				Source source `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	status, err := ix.do(ctx, http.MethodPost, "/"+IndexName(imageID)+"/_search", "application/json", body, &resp)
	if status == http.StatusNotFound {
		return &driven.SearchResult{}, nil
	}
	if err != nil {
		return nil, err
	}

	result := &driven.SearchResult{Total: resp.Hits.Total.Value}
	for _, h := range resp.Hits.Hits {
		result.Documents = append(result.Documents, fromSource(h.ID, h.Source))
	}
	return result, nil
}

// Count returns the number of documents matching the query.
func (ix *Index) Count(ctx context.Context, imageID string, query driven.Query) (int, error) {
	body, err := json.Marshal(map[string]any{"query": boolQuery(query)})
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	var resp struct {
		Count int `json:"count"`
	}
	status, err := ix.do(ctx, http.MethodPost, "/"+IndexName(imageID)+"/_count", "application/json", body, &resp)
	if status == http.StatusNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (ix *Index) ensureIndex(ctx context.Context, imageID string) error {
	ix.mu.Lock()
	done := ix.created[imageID]
	ix.mu.Unlock()
	if done {
		return nil
	}

	body, err := json.Marshal(indexMapping)
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}
	status, err := ix.do(ctx, http.MethodPut, "/"+IndexName(imageID), "application/json", body, nil)
	// 400 is resource_already_exists_exception.
	if err != nil && status != http.StatusBadRequest {
		return err
	}

	ix.mu.Lock()
	ix.created[imageID] = true
	ix.mu.Unlock()
	return nil
}

// do sends one request and decodes a successful JSON response into out.
// Connection failures and exhausted retries wrap domain.ErrTransientIO.
func (ix *Index) do(ctx context.Context, method, path, contentType string, body []byte, out any) (int, error) {
	var reqBody any
	if body != nil {
		reqBody = body
	}
	req, err := rhttp.NewRequestWithContext(ctx, method, ix.baseURL+path, reqBody)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := ix.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, fmt.Errorf("%w: opensearch %s %s: %v", domain.ErrTransientIO, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, fmt.Errorf("opensearch error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func boolQuery(query driven.Query) map[string]any {
	must := make([]any, 0, len(query.Clauses))
	for _, c := range query.Clauses {
		switch {
		case c.Prefix:
			must = append(must, map[string]any{"match_phrase_prefix": map[string]string{"data": c.Text}})
		case c.Phrase:
			must = append(must, map[string]any{"match_phrase": map[string]string{"data": c.Text}})
		default:
			must = append(must, map[string]any{"match": map[string]any{
				"data": map[string]string{"query": c.Text, "operator": "and"},
			}})
		}
	}
	return map[string]any{"bool": map[string]any{"must": must}}
}

func toSource(d domain.IndexedDocument) source {
	return source{
		ImageID:    d.ImageID,
		Offset:     d.Offset,
		DecodePath: d.DecodePath,
		Provenance: string(d.Provenance),
		Data:       d.Data,
		Allocated:  d.Allocated,
		Location:   d.Location,
		Inode:      d.Inode,
		FileOffset: d.FileOffset,
	}
}

func fromSource(id string, s source) domain.IndexedDocument {
	return domain.IndexedDocument{
		ID:         id,
		ImageID:    s.ImageID,
		Offset:     s.Offset,
		DecodePath: s.DecodePath,
		Provenance: domain.Provenance(s.Provenance),
		Data:       s.Data,
		Allocated:  s.Allocated,
		Location:   s.Location,
		Inode:      s.Inode,
		FileOffset: s.FileOffset,
	}
}
