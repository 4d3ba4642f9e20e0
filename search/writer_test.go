package search_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jacentio/espalier/document"
	"github.com/jacentio/espalier/internal/testutil"
	"github.com/jacentio/espalier/replication"
	"github.com/jacentio/espalier/search"
)

const threeNodePlan = `{
  "objectId": "p1",
  "objectType": "plan",
  "planType": "inNetwork",
  "planCostShares": {"objectId": "c1", "objectType": "membercostshare", "copay": 20},
  "linkedPlanServices": [{"objectId": "s1", "objectType": "planservice"}]
}`

// countingIndex wraps Memory and counts delete-by-routing calls.
type countingIndex struct {
	*search.Memory
	deletes int
}

func (c *countingIndex) DeleteByRouting(ctx context.Context, index, routing string) (int64, error) {
	c.deletes++
	return c.Memory.DeleteByRouting(ctx, index, routing)
}

func newWriter(idx search.Index) *search.Writer {
	return search.NewWriter(idx, document.PlanSchema(), search.DefaultWriterConfig(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestWriter_Spec(t *testing.T) {
	spec := newWriter(search.NewMemory()).Spec()

	if spec.Name != "indexplan" || spec.JoinField != "plan_join" {
		t.Errorf("unexpected spec names %+v", spec)
	}
	if spec.Shards != 3 || spec.Replicas != 2 {
		t.Errorf("expected 3 shards and 2 replicas, got %d and %d", spec.Shards, spec.Replicas)
	}
	if diff := cmp.Diff(document.PlanSchema().JoinRelations(), spec.Relations); diff != "" {
		t.Errorf("relations mismatch (-want +got):\n%s", diff)
	}
}

func TestWriter_EnsureIndexIsIdempotent(t *testing.T) {
	mem := search.NewMemory()
	w := newWriter(mem)
	ctx := context.Background()

	if err := w.EnsureIndex(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.EnsureIndex(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := mem.Spec("indexplan"); !ok {
		t.Error("expected index to be created")
	}
}

func TestWriter_Documents(t *testing.T) {
	w := newWriter(search.NewMemory())
	docs, err := w.Documents(testutil.MustParse(t, threeNodePlan))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(docs))
	}

	root := docs[0]
	if root.ID != "id_plan_p1" || root.Routing != "p1" {
		t.Errorf("unexpected root %+v", root)
	}
	if _, ok := root.Body["planCostShares"]; ok {
		t.Error("expected child fields to be dropped from the root body")
	}
	if diff := cmp.Diff(map[string]any{"name": "plan"}, root.Body["plan_join"]); diff != "" {
		t.Errorf("root join mismatch (-want +got):\n%s", diff)
	}

	byID := make(map[string]search.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
		if d.Routing != "p1" {
			t.Errorf("expected routing p1 for %s, got %q", d.ID, d.Routing)
		}
	}
	wantJoin := map[string]any{"name": "planCostShares", "parent": "id_plan_p1"}
	if diff := cmp.Diff(wantJoin, byID["id_membercostshare_c1"].Body["plan_join"]); diff != "" {
		t.Errorf("cost share join mismatch (-want +got):\n%s", diff)
	}
	wantJoin = map[string]any{"name": "linkedPlanServices", "parent": "id_plan_p1"}
	if diff := cmp.Diff(wantJoin, byID["id_planservice_s1"].Body["plan_join"]); diff != "" {
		t.Errorf("plan service join mismatch (-want +got):\n%s", diff)
	}
}

func TestWriter_DocumentsSamplePlan(t *testing.T) {
	w := newWriter(search.NewMemory())
	docs, err := w.Documents(testutil.MustParse(t, testutil.SamplePlan))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var ids []string
	parents := make(map[string]any)
	for _, d := range docs {
		ids = append(ids, d.ID)
		join, _ := document.AsNode(d.Body["plan_join"])
		parents[d.ID] = join["parent"]
	}
	sort.Strings(ids)
	want := append([]string(nil), testutil.SamplePlanKeys...)
	sort.Strings(want)
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("indexed ids mismatch (-want +got):\n%s", diff)
	}
	if parents["id_service_1234520xvc30asdf-502"] != "id_planservice_27283xvx9asdff-504" {
		t.Errorf("expected grandchild to point at its plan service, got %v", parents["id_service_1234520xvc30asdf-502"])
	}
}

func TestWriter_DocumentsSkipsEmptyChildren(t *testing.T) {
	w := newWriter(search.NewMemory())
	docs, err := w.Documents(testutil.MustParse(t, `{"objectId":"p1","objectType":"plan","planCostShares":{}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("expected only the root, got %d documents", len(docs))
	}
}

func TestWriter_DocumentsRejectsAnonymousChild(t *testing.T) {
	w := newWriter(search.NewMemory())
	_, err := w.Documents(testutil.MustParse(t, `{"objectId":"p1","objectType":"plan","planCostShares":{"copay":1}}`))
	if !errors.Is(err, replication.ErrInvalidMessage) {
		t.Errorf("expected ErrInvalidMessage, got %v", err)
	}
}

func TestWriter_ReplicationDelete(t *testing.T) {
	idx := &countingIndex{Memory: search.NewMemory()}
	w := newWriter(idx)
	ctx := context.Background()

	create, err := replication.NewMessage(replication.OpCreate, testutil.MustParse(t, threeNodePlan))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Apply(ctx, create); err != nil {
		t.Fatalf("apply create: %v", err)
	}
	if got := len(idx.Routed("indexplan", "p1")); got != 3 {
		t.Fatalf("expected 3 documents routed to p1, got %d", got)
	}

	if err := w.Apply(ctx, replication.NewDeleteMessage("p1")); err != nil {
		t.Fatalf("apply delete: %v", err)
	}
	if idx.deletes != 1 {
		t.Errorf("expected one delete-by-routing call, got %d", idx.deletes)
	}
	if idx.Count("indexplan") != 0 {
		t.Errorf("expected an empty index, %d documents remain", idx.Count("indexplan"))
	}
}

func TestWriter_ApplyUpdateOverwrites(t *testing.T) {
	mem := search.NewMemory()
	w := newWriter(mem)
	ctx := context.Background()

	doc := testutil.MustParse(t, threeNodePlan)
	create, _ := replication.NewMessage(replication.OpCreate, doc)
	_ = w.Apply(ctx, create)

	doc["planType"] = "outOfNetwork"
	update, _ := replication.NewMessage(replication.OpUpdate, doc)
	if err := w.Apply(ctx, update); err != nil {
		t.Fatal(err)
	}

	got, ok := mem.Get("indexplan", "id_plan_p1")
	if !ok || got.Body["planType"] != "outOfNetwork" {
		t.Errorf("expected updated root, got %+v", got)
	}
	if mem.Count("indexplan") != 3 {
		t.Errorf("expected 3 documents, got %d", mem.Count("indexplan"))
	}
}

func TestWriter_ApplyUpdateDropsReplacedChildren(t *testing.T) {
	mem := search.NewMemory()
	w := newWriter(mem)
	ctx := context.Background()

	doc := testutil.MustParse(t, threeNodePlan)
	create, _ := replication.NewMessage(replication.OpCreate, doc)
	if err := w.Apply(ctx, create); err != nil {
		t.Fatal(err)
	}

	doc["planCostShares"] = map[string]any{"objectId": "c2", "objectType": "membercostshare", "copay": 30}
	update, _ := replication.NewMessage(replication.OpUpdate, doc)
	if err := w.Apply(ctx, update); err != nil {
		t.Fatal(err)
	}

	if _, ok := mem.Get("indexplan", "id_membercostshare_c1"); ok {
		t.Error("expected the replaced cost share to leave the index")
	}
	if _, ok := mem.Get("indexplan", "id_membercostshare_c2"); !ok {
		t.Error("expected the new cost share to be indexed")
	}
	ids := mem.Routed("indexplan", "p1")
	sort.Strings(ids)
	want := []string{"id_membercostshare_c2", "id_plan_p1", "id_planservice_s1"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("routed documents mismatch (-want +got):\n%s", diff)
	}
}

func TestWriter_ApplyUpdateRejectsInvalidTreeWithoutDeleting(t *testing.T) {
	idx := &countingIndex{Memory: search.NewMemory()}
	w := newWriter(idx)
	ctx := context.Background()

	doc := testutil.MustParse(t, threeNodePlan)
	create, _ := replication.NewMessage(replication.OpCreate, doc)
	_ = w.Apply(ctx, create)

	doc["planCostShares"] = map[string]any{"copay": 30}
	update, _ := replication.NewMessage(replication.OpUpdate, doc)
	if err := w.Apply(ctx, update); !errors.Is(err, replication.ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
	if idx.deletes != 0 || idx.Count("indexplan") != 3 {
		t.Errorf("expected the index untouched, got %d deletes and %d documents", idx.deletes, idx.Count("indexplan"))
	}
}

func TestWriter_ApplyRejectsUnknownOperation(t *testing.T) {
	w := newWriter(search.NewMemory())
	err := w.Apply(context.Background(), replication.Message{Operation: "merge", DocumentID: "p1"})
	if !errors.Is(err, replication.ErrInvalidMessage) {
		t.Errorf("expected ErrInvalidMessage, got %v", err)
	}
}

func TestMapping(t *testing.T) {
	spec := search.IndexSpec{
		Name:      "indexplan",
		Shards:    3,
		Replicas:  2,
		JoinField: "plan_join",
		Relations: map[string][]string{"plan": {"planCostShares"}},
	}
	m := search.Mapping(spec)

	settings := m["settings"].(map[string]any)
	if settings["number_of_shards"] != 3 || settings["number_of_replicas"] != 2 {
		t.Errorf("unexpected settings %v", settings)
	}
	props := m["mappings"].(map[string]any)["properties"].(map[string]any)
	join := props["plan_join"].(map[string]any)
	if join["type"] != "join" {
		t.Errorf("expected join type, got %v", join["type"])
	}
	if diff := cmp.Diff(map[string]any{"plan": []string{"planCostShares"}}, join["relations"]); diff != "" {
		t.Errorf("relations mismatch (-want +got):\n%s", diff)
	}
}
