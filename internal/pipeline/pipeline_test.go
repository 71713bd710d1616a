package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type stubFetcher struct {
	recs []Record
	err  error
}

func (f *stubFetcher) Fetch(ctx context.Context, _ map[string]any, _ map[string]string) ([]Record, error) {
	return f.recs, f.err
}
func (f *stubFetcher) Stats() Stats { return Stats{} }

type stubEnricher struct {
	name   string
	err    error
	called *[]string
	apply  func([]Record)
}

func (e *stubEnricher) Name() string { return e.name }
func (e *stubEnricher) Enrich(ctx context.Context, recs []Record) error {
	*e.called = append(*e.called, e.name)
	if e.apply != nil {
		e.apply(recs)
	}
	return e.err
}
func (e *stubEnricher) Stats() Stats { return Stats{Calls: 1} }

type stubTransformer struct {
	headers []string
}

func (t *stubTransformer) Transform(recs []Record) ([]string, [][]string) {
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		row := make([]string, len(t.headers))
		for i, h := range t.headers {
			row[i] = Str(r.Get(h))
		}
		rows = append(rows, row)
	}
	return t.headers, rows
}

func TestExecuteRunsPhasesInOrder(t *testing.T) {
	var called []string
	o := NewOrchestrator(
		&stubFetcher{recs: []Record{{"order_id": 101}}},
		[]Enricher{
			&stubEnricher{name: "packages", called: &called},
			&stubEnricher{name: "tracking", called: &called},
		},
		&stubTransformer{headers: []string{"order_id"}},
		nil, nil, zerolog.Nop(),
	)

	res, err := o.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(called) != 2 || called[0] != "packages" || called[1] != "tracking" {
		t.Fatalf("enricher order: %v", called)
	}
	if len(res.Rows) != 1 || res.Rows[0][0] != "101" {
		t.Fatalf("rows: %v", res.Rows)
	}
	if len(res.Stats.Phases) != 3 {
		t.Fatalf("expected 3 phase stats, got %d", len(res.Stats.Phases))
	}
}

func TestExecuteEmptyFetchSkipsEnrich(t *testing.T) {
	var called []string
	o := NewOrchestrator(
		&stubFetcher{recs: nil},
		[]Enricher{&stubEnricher{name: "packages", called: &called}},
		&stubTransformer{headers: []string{"order_id"}},
		nil, nil, zerolog.Nop(),
	)

	res, err := o.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(called) != 0 {
		t.Fatalf("enrichers should be skipped on empty fetch, ran %v", called)
	}
	if len(res.Headers) != 1 || len(res.Rows) != 0 {
		t.Fatalf("expected (headers, []), got %v %v", res.Headers, res.Rows)
	}
}

func TestExecuteFetchErrorIsFatal(t *testing.T) {
	o := NewOrchestrator(
		&stubFetcher{err: errors.New("boom")},
		nil,
		&stubTransformer{},
		nil, nil, zerolog.Nop(),
	)
	_, err := o.Execute(context.Background())
	if err == nil {
		t.Fatal("expected fetch error to fail the run")
	}
}

func TestExecuteEnricherFailureIsSoft(t *testing.T) {
	var called []string
	o := NewOrchestrator(
		&stubFetcher{recs: []Record{{"order_id": 101}}},
		[]Enricher{
			&stubEnricher{name: "documents", called: &called, err: errors.New("upstream down")},
			&stubEnricher{name: "payments", called: &called, apply: func(recs []Record) {
				recs[0].SetIfAbsent("payments_sum", 10.5)
			}},
		},
		&stubTransformer{headers: []string{"order_id", "payments_sum"}},
		nil, nil, zerolog.Nop(),
	)

	res, err := o.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.SoftErrors) != 1 || res.SoftErrors[0].Source != "documents" {
		t.Fatalf("soft errors: %+v", res.SoftErrors)
	}
	if len(called) != 2 {
		t.Fatalf("second enricher must still run, ran %v", called)
	}
	if res.Rows[0][1] != "10.5" {
		t.Fatalf("payments enrichment lost: %v", res.Rows)
	}
}

func TestExecuteCancelledBetweenEnrichers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var called []string
	o := NewOrchestrator(
		&stubFetcher{recs: []Record{{"order_id": 1}}},
		[]Enricher{
			&stubEnricher{name: "first", called: &called, apply: func([]Record) { cancel() }},
			&stubEnricher{name: "second", called: &called},
		},
		&stubTransformer{headers: []string{"order_id"}},
		nil, nil, zerolog.Nop(),
	)

	_, err := o.Execute(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(called) != 1 {
		t.Fatalf("second enricher ran after cancellation: %v", called)
	}
}

func TestSetIfAbsentKeepsExistingValues(t *testing.T) {
	r := Record{"a": 1, "b": nil}
	if r.SetIfAbsent("a", 2) {
		t.Error("must not overwrite non-null value")
	}
	if !r.SetIfAbsent("b", 3) {
		t.Error("null value should be fillable")
	}
	if !r.SetIfAbsent("c", 4) {
		t.Error("absent key should be fillable")
	}
	if r["a"] != 1 || r["b"] != 3 || r["c"] != 4 {
		t.Errorf("record: %v", r)
	}
}

func TestRecordGetDotted(t *testing.T) {
	r := Record{"delivery": map[string]any{"address": map[string]any{"city": "Poznan"}}}
	if got := Str(r.Get("delivery.address.city")); got != "Poznan" {
		t.Errorf("dotted get: %q", got)
	}
	if r.Get("delivery.missing.city") != nil {
		t.Error("missing path should be nil")
	}
}
