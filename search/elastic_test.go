package search_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/jacentio/espalier/document"
	"github.com/jacentio/espalier/search"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  map[string]string
	Body   []byte
}

// fakeCluster answers Elasticsearch requests from a handler table keyed by method
// and path, recording every request.
type fakeCluster struct {
	mu       sync.Mutex
	requests []recordedRequest
	respond  func(method, path string) (int, string)
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	query := make(map[string]string)
	for k := range r.URL.Query() {
		query[k] = r.URL.Query().Get(k)
	}
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Query: query, Body: body})
	f.mu.Unlock()

	status, payload := f.respond(r.Method, r.URL.Path)
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = io.WriteString(w, payload)
	}
}

func (f *fakeCluster) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func newElastic(t *testing.T, respond func(method, path string) (int, string), refresh bool) (*search.Elastic, *fakeCluster) {
	t.Helper()
	cluster := &fakeCluster{respond: respond}
	srv := httptest.NewServer(cluster)
	t.Cleanup(srv.Close)

	es, err := search.NewElastic(search.ElasticConfig{Addresses: []string{srv.URL}, Refresh: refresh})
	if err != nil {
		t.Fatalf("NewElastic: %v", err)
	}
	return es, cluster
}

func planSpec() search.IndexSpec {
	return search.IndexSpec{
		Name:      "indexplan",
		Shards:    3,
		Replicas:  2,
		JoinField: "plan_join",
		Relations: document.PlanSchema().JoinRelations(),
	}
}

func TestElastic_EnsureIndexCreates(t *testing.T) {
	es, cluster := newElastic(t, func(method, _ string) (int, string) {
		if method == http.MethodHead {
			return http.StatusNotFound, ""
		}
		return http.StatusOK, `{"acknowledged":true}`
	}, false)

	created, err := es.EnsureIndex(context.Background(), planSpec())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("expected index to be created")
	}

	reqs := cluster.recorded()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	if reqs[0].Method != http.MethodHead || reqs[0].Path != "/indexplan" {
		t.Errorf("expected HEAD /indexplan, got %s %s", reqs[0].Method, reqs[0].Path)
	}
	if reqs[1].Method != http.MethodPut || reqs[1].Path != "/indexplan" {
		t.Errorf("expected PUT /indexplan, got %s %s", reqs[1].Method, reqs[1].Path)
	}

	var body struct {
		Settings struct {
			Shards   int `json:"number_of_shards"`
			Replicas int `json:"number_of_replicas"`
		} `json:"settings"`
		Mappings struct {
			Properties map[string]struct {
				Type      string              `json:"type"`
				Relations map[string][]string `json:"relations"`
			} `json:"properties"`
		} `json:"mappings"`
	}
	if err := json.Unmarshal(reqs[1].Body, &body); err != nil {
		t.Fatalf("decode create body: %v", err)
	}
	if body.Settings.Shards != 3 || body.Settings.Replicas != 2 {
		t.Errorf("expected 3 shards and 2 replicas, got %+v", body.Settings)
	}
	join := body.Mappings.Properties["plan_join"]
	if join.Type != "join" || len(join.Relations["plan"]) != 2 {
		t.Errorf("unexpected join mapping %+v", join)
	}
}

func TestElastic_EnsureIndexSkipsExisting(t *testing.T) {
	es, cluster := newElastic(t, func(string, string) (int, string) {
		return http.StatusOK, ""
	}, false)

	created, err := es.EnsureIndex(context.Background(), planSpec())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("expected existing index to be left alone")
	}
	if n := len(cluster.recorded()); n != 1 {
		t.Errorf("expected only the existence check, got %d requests", n)
	}
}

func TestElastic_EnsureIndexCreatedConcurrently(t *testing.T) {
	es, _ := newElastic(t, func(method, _ string) (int, string) {
		if method == http.MethodHead {
			return http.StatusNotFound, ""
		}
		return http.StatusBadRequest, `{"error":{"type":"resource_already_exists_exception"},"status":400}`
	}, false)

	created, err := es.EnsureIndex(context.Background(), planSpec())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("expected created to be false")
	}
}

func TestElastic_EnsureIndexRejected(t *testing.T) {
	es, _ := newElastic(t, func(method, _ string) (int, string) {
		if method == http.MethodHead {
			return http.StatusNotFound, ""
		}
		return http.StatusBadRequest, `{"error":{"type":"mapper_parsing_exception"},"status":400}`
	}, false)

	_, err := es.EnsureIndex(context.Background(), planSpec())
	if !errors.Is(err, search.ErrIndex) {
		t.Errorf("expected ErrIndex, got %v", err)
	}
}

func TestElastic_IndexDocument(t *testing.T) {
	es, cluster := newElastic(t, func(string, string) (int, string) {
		return http.StatusCreated, `{"result":"created"}`
	}, true)

	doc := search.Document{
		Index:   "indexplan",
		ID:      "id_membercostshare_c1",
		Routing: "p1",
		Body: document.Node{
			"objectId":   "c1",
			"objectType": "membercostshare",
			"plan_join":  map[string]any{"name": "planCostShares", "parent": "id_plan_p1"},
		},
	}
	if err := es.IndexDocument(context.Background(), doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reqs := cluster.recorded()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	req := reqs[0]
	if req.Method != http.MethodPut || req.Path != "/indexplan/_doc/id_membercostshare_c1" {
		t.Errorf("expected PUT /indexplan/_doc/id_membercostshare_c1, got %s %s", req.Method, req.Path)
	}
	if req.Query["routing"] != "p1" {
		t.Errorf("expected routing p1, got %q", req.Query["routing"])
	}
	if req.Query["refresh"] != "true" {
		t.Errorf("expected refresh=true, got %q", req.Query["refresh"])
	}

	var body map[string]any
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatal(err)
	}
	join, _ := body["plan_join"].(map[string]any)
	if join["parent"] != "id_plan_p1" {
		t.Errorf("expected parent id_plan_p1, got %v", join["parent"])
	}
}

func TestElastic_IndexDocumentRejected(t *testing.T) {
	es, _ := newElastic(t, func(string, string) (int, string) {
		return http.StatusBadRequest, `{"error":{"type":"document_parsing_exception"}}`
	}, false)

	err := es.IndexDocument(context.Background(), search.Document{
		Index: "indexplan", ID: "id_plan_p1", Routing: "p1", Body: document.Node{"objectId": "p1"},
	})
	if !errors.Is(err, search.ErrIndex) {
		t.Errorf("expected ErrIndex, got %v", err)
	}
}

func TestElastic_DeleteByRouting(t *testing.T) {
	es, cluster := newElastic(t, func(string, string) (int, string) {
		return http.StatusOK, `{"took":4,"deleted":3,"failures":[]}`
	}, false)

	n, err := es.DeleteByRouting(context.Background(), "indexplan", "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 deleted, got %d", n)
	}

	reqs := cluster.recorded()
	if len(reqs) != 1 {
		t.Fatalf("expected a single request, got %d", len(reqs))
	}
	req := reqs[0]
	if req.Method != http.MethodPost || req.Path != "/indexplan/_delete_by_query" {
		t.Errorf("expected POST /indexplan/_delete_by_query, got %s %s", req.Method, req.Path)
	}
	if req.Query["routing"] != "p1" || req.Query["conflicts"] != "proceed" {
		t.Errorf("unexpected query parameters %v", req.Query)
	}

	var body struct {
		Query struct {
			Term map[string]string `json:"term"`
		} `json:"query"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatal(err)
	}
	if body.Query.Term["_routing"] != "p1" {
		t.Errorf("expected a _routing term on p1, got %v", body.Query.Term)
	}
}

func TestElastic_DeleteByRoutingMissingIndex(t *testing.T) {
	es, _ := newElastic(t, func(string, string) (int, string) {
		return http.StatusNotFound, `{"error":{"type":"index_not_found_exception"},"status":404}`
	}, false)

	n, err := es.DeleteByRouting(context.Background(), "indexplan", "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 deleted, got %d", n)
	}
}

func TestElastic_ImplementsIndex(t *testing.T) {
	var _ search.Index = (*search.Elastic)(nil)
	var _ search.Index = (*search.Memory)(nil)
}
