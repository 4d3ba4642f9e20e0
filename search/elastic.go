package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ElasticConfig holds connection settings for Elasticsearch.
type ElasticConfig struct {
	// Addresses lists cluster nodes.
	// Default: http://localhost:9200
	Addresses []string

	Username string
	Password string
	APIKey   string

	// Refresh makes writes visible to search before they return. Useful in tests.
	Refresh bool

	// Transport overrides the HTTP transport.
	Transport http.RoundTripper
}

// Elastic is an Index backed by Elasticsearch.
type Elastic struct {
	client  *elasticsearch.Client
	refresh bool
}

// NewElastic creates an Elasticsearch client. It does not contact the cluster.
func NewElastic(cfg ElasticConfig) (*Elastic, error) {
	addresses := cfg.Addresses
	if len(addresses) == 0 {
		addresses = []string{"http://localhost:9200"}
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &Elastic{client: client, refresh: cfg.Refresh}, nil
}

// EnsureIndex creates spec's index with its mapping unless it exists.
func (e *Elastic) EnsureIndex(ctx context.Context, spec IndexSpec) (bool, error) {
	res, err := esapi.IndicesExistsRequest{
		Index: []string{spec.Name},
	}.Do(ctx, e.client)
	if err != nil {
		return false, fmt.Errorf("check index %s: %w", spec.Name, err)
	}
	drain(res)
	if res.StatusCode == http.StatusOK {
		return false, nil
	}
	if res.StatusCode != http.StatusNotFound {
		return false, fmt.Errorf("%w: check index %s: %s", ErrIndex, spec.Name, res.Status())
	}

	body, err := json.Marshal(Mapping(spec))
	if err != nil {
		return false, fmt.Errorf("encode mapping: %w", err)
	}
	res, err = esapi.IndicesCreateRequest{
		Index: spec.Name,
		Body:  bytes.NewReader(body),
	}.Do(ctx, e.client)
	if err != nil {
		return false, fmt.Errorf("create index %s: %w", spec.Name, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		msg := readError(res)
		// Another process created it between the two calls.
		if strings.Contains(msg, "resource_already_exists_exception") {
			return false, nil
		}
		return false, fmt.Errorf("%w: create index %s: %s", ErrIndex, spec.Name, msg)
	}
	return true, nil
}

// IndexDocument stores doc under its id with its routing value.
func (e *Elastic) IndexDocument(ctx context.Context, doc Document) error {
	body, err := doc.Body.Marshal()
	if err != nil {
		return fmt.Errorf("encode %s: %w", doc.ID, err)
	}
	req := esapi.IndexRequest{
		Index:      doc.Index,
		DocumentID: doc.ID,
		Routing:    doc.Routing,
		Body:       bytes.NewReader(body),
	}
	if e.refresh {
		req.Refresh = "true"
	}
	res, err := req.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("index %s: %w", doc.ID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("%w: index %s: %s", ErrIndex, doc.ID, readError(res))
	}
	return nil
}

// DeleteByRouting deletes every document whose _routing equals routing.
// A missing index counts as nothing to delete.
func (e *Elastic) DeleteByRouting(ctx context.Context, index, routing string) (int64, error) {
	query, err := json.Marshal(map[string]any{
		"query": map[string]any{
			"term": map[string]any{"_routing": routing},
		},
	})
	if err != nil {
		return 0, err
	}
	refresh := e.refresh
	res, err := esapi.DeleteByQueryRequest{
		Index:     []string{index},
		Body:      bytes.NewReader(query),
		Routing:   []string{routing},
		Conflicts: "proceed",
		Refresh:   &refresh,
	}.Do(ctx, e.client)
	if err != nil {
		return 0, fmt.Errorf("delete by routing %s: %w", routing, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if res.IsError() {
		return 0, fmt.Errorf("%w: delete by routing %s: %s", ErrIndex, routing, readError(res))
	}

	var out struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode delete response: %w", err)
	}
	return out.Deleted, nil
}

func readError(res *esapi.Response) string {
	data, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	if len(data) == 0 {
		return res.Status()
	}
	return res.Status() + " " + string(data)
}

func drain(res *esapi.Response) {
	if res.Body != nil {
		_, _ = io.Copy(io.Discard, res.Body)
		_ = res.Body.Close()
	}
}
