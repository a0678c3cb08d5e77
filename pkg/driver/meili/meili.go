// Package meili implements the full-text driver contract against the
// Meilisearch HTTP API. No SDK is used; the API surface needed here is
// small enough that a thin client keeps the dependency graph flat.
package meili

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/open-mercato/open-mercato-sub000/pkg/strategy"
	"github.com/open-mercato/open-mercato-sub000/pkg/strategy/fulltext"
)

// Driver is a Meilisearch-backed fulltext.Driver
type Driver struct {
	host   string
	apiKey string
	client *http.Client
}

// New creates a driver for the given Meilisearch host
func New(host, apiKey string) *Driver {
	return &Driver{
		host:   host,
		apiKey: apiKey,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Healthy implements fulltext.Driver
func (d *Driver) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var out struct {
		Status string `json:"status"`
	}
	if err := d.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return false
	}
	return out.Status == "available"
}

// indexSettings is applied to every tenant index: all attributes
// searchable, filters on entity and organization, sort on indexing time,
// typo tolerance from word length 4 (one typo) and 8 (two typos)
var indexSettings = map[string]any{
	"searchableAttributes": []string{"*"},
	"filterableAttributes": []string{"_entityId", "_organizationId"},
	"sortableAttributes":   []string{"_indexedAt"},
	"typoTolerance": map[string]any{
		"enabled": true,
		"minWordSizeForTypos": map[string]int{
			"oneTypo":  4,
			"twoTypos": 8,
		},
	},
}

// EnsureIndex implements fulltext.Driver
func (d *Driver) EnsureIndex(ctx context.Context, indexName string) error {
	body := map[string]any{"uid": indexName, "primaryKey": "_id"}
	err := d.do(ctx, http.MethodPost, "/indexes", body, nil)
	if err != nil && !isErrorCode(err, "index_already_exists") {
		return err
	}
	return d.do(ctx, http.MethodPatch, "/indexes/"+indexName+"/settings", indexSettings, nil)
}

type searchResponse struct {
	Hits []map[string]any `json:"hits"`
}

// Search implements fulltext.Driver
func (d *Driver) Search(ctx context.Context, indexName string, req fulltext.SearchRequest) ([]fulltext.Hit, error) {
	body := map[string]any{
		"q":                req.Query,
		"limit":            req.Limit,
		"showRankingScore": true,
	}
	if req.Filter != "" {
		body["filter"] = req.Filter
	}

	var out searchResponse
	if err := d.do(ctx, http.MethodPost, "/indexes/"+indexName+"/search", body, &out); err != nil {
		return nil, err
	}

	hits := make([]fulltext.Hit, 0, len(out.Hits))
	for rank, h := range out.Hits {
		score := 1.0 / float64(rank+1)
		if rs, ok := h["_rankingScore"].(float64); ok {
			score = rs
			delete(h, "_rankingScore")
		}
		hits = append(hits, fulltext.Hit{Document: fulltext.Document(h), Score: score})
	}
	return hits, nil
}

// Index implements fulltext.Driver
func (d *Driver) Index(ctx context.Context, indexName string, docs []fulltext.Document) error {
	if len(docs) == 0 {
		return nil
	}
	return d.do(ctx, http.MethodPost, "/indexes/"+indexName+"/documents", docs, nil)
}

// Delete implements fulltext.Driver
func (d *Driver) Delete(ctx context.Context, indexName, docID string) error {
	return d.do(ctx, http.MethodDelete, "/indexes/"+indexName+"/documents/"+url.PathEscape(docID), nil, nil)
}

// DeleteByFilter implements fulltext.Driver
func (d *Driver) DeleteByFilter(ctx context.Context, indexName, filter string) error {
	body := map[string]any{"filter": filter}
	return d.do(ctx, http.MethodPost, "/indexes/"+indexName+"/documents/delete", body, nil)
}

// ClearIndex implements fulltext.Driver
func (d *Driver) ClearIndex(ctx context.Context, indexName string) error {
	return d.do(ctx, http.MethodDelete, "/indexes/"+indexName+"/documents", nil, nil)
}

// RecreateIndex implements fulltext.Driver
func (d *Driver) RecreateIndex(ctx context.Context, indexName string) error {
	err := d.do(ctx, http.MethodDelete, "/indexes/"+indexName, nil, nil)
	if err != nil && !strategy.IsIndexNotFound(err) {
		return err
	}
	return d.EnsureIndex(ctx, indexName)
}

// GetDocuments implements fulltext.Driver
func (d *Driver) GetDocuments(ctx context.Context, indexName string, limit, offset int) ([]fulltext.Document, error) {
	path := "/indexes/" + indexName + "/documents?limit=" + strconv.Itoa(limit) + "&offset=" + strconv.Itoa(offset)

	var out struct {
		Results []fulltext.Document `json:"results"`
	}
	if err := d.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// GetIndexStats implements fulltext.Driver
func (d *Driver) GetIndexStats(ctx context.Context, indexName string) (fulltext.IndexStats, error) {
	var out struct {
		NumberOfDocuments int64 `json:"numberOfDocuments"`
		IsIndexing        bool  `json:"isIndexing"`
	}
	if err := d.do(ctx, http.MethodGet, "/indexes/"+indexName+"/stats", nil, &out); err != nil {
		return fulltext.IndexStats{}, err
	}
	return fulltext.IndexStats{NumberOfDocuments: out.NumberOfDocuments, IsIndexing: out.IsIndexing}, nil
}

// GetEntityCounts implements fulltext.Driver using facet distribution
func (d *Driver) GetEntityCounts(ctx context.Context, indexName string) (map[string]int64, error) {
	body := map[string]any{
		"q":      "",
		"limit":  0,
		"facets": []string{"_entityId"},
	}

	var out struct {
		FacetDistribution map[string]map[string]int64 `json:"facetDistribution"`
	}
	if err := d.do(ctx, http.MethodPost, "/indexes/"+indexName+"/search", body, &out); err != nil {
		return nil, err
	}
	return out.FacetDistribution["_entityId"], nil
}

type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("meilisearch returned %d (%s): %s", e.Status, e.Code, e.Message)
}

func isErrorCode(err error, code string) bool {
	ae, ok := err.(*apiError)
	return ok && ae.Code == code
}

// do runs one API call. Missing indexes surface as
// strategy.ErrIndexNotFound, transport failures as
// strategy.ErrUnavailable.
func (d *Driver) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.host+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", strategy.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 50<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var parsed struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &parsed)
		if parsed.Code == "index_not_found" {
			return fmt.Errorf("%w: %s", strategy.ErrIndexNotFound, parsed.Message)
		}
		return &apiError{Status: resp.StatusCode, Code: parsed.Code, Message: parsed.Message}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
