package rag

import (
	"encoding/json"
	"testing"

	"github.com/qdrant/go-client/qdrant"
)

func TestPointID_Deterministic(t *testing.T) {
	t.Parallel()

	a := pointID("guide_chunk0_1a2b3c4d").GetUuid()
	b := pointID("guide_chunk0_1a2b3c4d").GetUuid()
	c := pointID("guide_chunk1_1a2b3c4d").GetUuid()
	if a == "" || a != b {
		t.Errorf("same chunk id must map to the same point id: %q vs %q", a, b)
	}
	if a == c {
		t.Errorf("different chunk ids must map to different point ids")
	}
}

func TestQdrantFilter(t *testing.T) {
	t.Parallel()

	if f := qdrantFilter(nil); f != nil {
		t.Errorf("nil filters should produce nil filter, got %v", f)
	}

	f := qdrantFilter(Filters{"source": "a.pdf", "chunk_index": 2, "draft": false})
	if f == nil || len(f.GetMust()) != 3 {
		t.Fatalf("want 3 must conditions, got %v", f)
	}
	// Keys are sorted: chunk_index, draft, source.
	keys := []string{"chunk_index", "draft", "source"}
	for i, cond := range f.GetMust() {
		if got := cond.GetField().GetKey(); got != keys[i] {
			t.Errorf("condition %d key: got %q, want %q", i, got, keys[i])
		}
	}
}

func TestQdrantFilter_ValueKinds(t *testing.T) {
	t.Parallel()

	var decoded Filters
	if err := json.Unmarshal([]byte(`{"chunk_index":3}`), &decoded); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		value     any
		wantInt   *int64
		wantKW    string
		wantBool  *bool
		wantRange float64
	}{
		{name: "int", value: 3, wantInt: ptr(int64(3))},
		{name: "int64", value: int64(7), wantInt: ptr(int64(7))},
		{name: "json number", value: decoded["chunk_index"], wantInt: ptr(int64(3))},
		{name: "whole float", value: 12.0, wantInt: ptr(int64(12))},
		{name: "fractional float", value: 0.25, wantRange: 0.25},
		{name: "string", value: "guide.md", wantKW: "guide.md"},
		{name: "bool", value: true, wantBool: ptr(true)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := qdrantFilter(Filters{"k": tc.value})
			field := f.GetMust()[0].GetField()
			match := field.GetMatch()
			switch {
			case tc.wantInt != nil:
				if _, ok := match.GetMatchValue().(*qdrant.Match_Integer); !ok || match.GetInteger() != *tc.wantInt {
					t.Errorf("want integer match %d, got %v", *tc.wantInt, match)
				}
			case tc.wantBool != nil:
				if _, ok := match.GetMatchValue().(*qdrant.Match_Boolean); !ok || match.GetBoolean() != *tc.wantBool {
					t.Errorf("want bool match %v, got %v", *tc.wantBool, match)
				}
			case tc.wantKW != "":
				if match.GetKeyword() != tc.wantKW {
					t.Errorf("want keyword %q, got %v", tc.wantKW, match)
				}
			default:
				r := field.GetRange()
				if r.GetGte() != tc.wantRange || r.GetLte() != tc.wantRange {
					t.Errorf("want range [%v, %v], got %v", tc.wantRange, tc.wantRange, r)
				}
			}
		})
	}
}

func TestDenseVector(t *testing.T) {
	t.Parallel()

	dense := &qdrant.VectorsOutput{VectorsOptions: &qdrant.VectorsOutput_Vector{
		Vector: &qdrant.VectorOutput{Vector: &qdrant.VectorOutput_Dense{Dense: &qdrant.DenseVector{Data: []float32{1, 2}}}},
	}}
	if got := denseVector(dense); len(got) != 2 || got[1] != 2 {
		t.Errorf("dense: got %v", got)
	}

	legacy := &qdrant.VectorsOutput{VectorsOptions: &qdrant.VectorsOutput_Vector{
		Vector: &qdrant.VectorOutput{Data: []float32{3, 4, 5}},
	}}
	if got := denseVector(legacy); len(got) != 3 || got[0] != 3 {
		t.Errorf("legacy: got %v", got)
	}

	if got := denseVector(nil); got != nil {
		t.Errorf("nil: got %v", got)
	}
}

func ptr[T any](v T) *T { return &v }

func TestFromPayload(t *testing.T) {
	t.Parallel()

	payload := qdrant.NewValueMap(map[string]any{
		payloadIDKey:  "doc_chunk0_deadbeef",
		"text":        "hello",
		"chunk_index": int64(4),
		"ratio":       0.5,
		"draft":       true,
	})
	md, id := fromPayload(payload)
	if id != "doc_chunk0_deadbeef" {
		t.Errorf("id: got %q", id)
	}
	if _, ok := md[payloadIDKey]; ok {
		t.Error("chunk id must not leak into metadata")
	}
	if md["text"] != "hello" || md["chunk_index"] != 4 || md["ratio"] != 0.5 || md["draft"] != true {
		t.Errorf("unexpected metadata: %#v", md)
	}
}

func TestQdrantDistance(t *testing.T) {
	t.Parallel()

	for m, want := range map[Metric]qdrant.Distance{
		MetricCosine:       qdrant.Distance_Cosine,
		MetricL2:           qdrant.Distance_Euclid,
		MetricInnerProduct: qdrant.Distance_Dot,
	} {
		got, err := qdrantDistance(m)
		if err != nil || got != want {
			t.Errorf("qdrantDistance(%q) = %v, %v", m, got, err)
		}
		if back := metricFromQdrant(got); back != m {
			t.Errorf("metricFromQdrant(%v) = %q, want %q", got, back, m)
		}
	}
	if _, err := qdrantDistance("hamming"); err == nil {
		t.Error("expected error for unsupported metric")
	}
}

func TestPayloadValue(t *testing.T) {
	t.Parallel()

	if v := payloadValue(3); v != int64(3) {
		t.Errorf("int: got %#v", v)
	}
	if v := payloadValue(float32(0.5)); v != float64(0.5) {
		t.Errorf("float32: got %#v", v)
	}
	if v := payloadValue([]string{"a"}); v != "[a]" {
		t.Errorf("slice: got %#v", v)
	}
}
