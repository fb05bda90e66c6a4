package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func fakeOllama(t *testing.T, dim int, calls *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			*calls++
		}
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
			return
		}
		n := 1
		if batch, ok := req.Input.([]interface{}); ok {
			n = len(batch)
		}
		out := make([][]float32, n)
		for i := range out {
			vec := make([]float32, dim)
			for j := range vec {
				vec[j] = float32(i+j) * 0.25
			}
			out[i] = vec
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(embedResponse{Model: req.Model, Embeddings: out})
	}))
}

func TestOllamaEmbedderProbesDimension(t *testing.T) {
	server := fakeOllama(t, 6, nil)
	defer server.Close()

	e, err := NewOllamaEmbedder(server.URL, "nomic-embed-text", nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if e.Dimension() != 6 {
		t.Errorf("dimension = %d, want 6", e.Dimension())
	}

	vec, err := e.Embed(context.Background(), "季度目标")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 6 {
		t.Errorf("vector length = %d", len(vec))
	}
}

func TestOllamaEmbedderBatchIsOneCall(t *testing.T) {
	calls := 0
	server := fakeOllama(t, 4, &calls)
	defer server.Close()

	e, err := NewOllamaEmbedder(server.URL, "nomic-embed-text", nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	calls = 0 // 忽略初始化探测

	vecs, err := e.EmbedBatch(context.Background(), []string{"目标一", "目标二", "目标三"})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(vecs) != 3 {
		t.Errorf("vectors = %d, want 3", len(vecs))
	}
	if calls != 1 {
		t.Errorf("api calls = %d, batch should be one request", calls)
	}

	empty, err := e.EmbedBatch(context.Background(), nil)
	if err != nil || empty != nil {
		t.Errorf("empty batch = %v, %v; want nil, nil", empty, err)
	}
}

func TestOllamaEmbedderUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusInternalServerError)
	}))
	defer server.Close()

	if _, err := NewOllamaEmbedder(server.URL, "missing-model", nil); err == nil {
		t.Fatal("init against a broken upstream should fail")
	}
}

func TestCosine(t *testing.T) {
	a := []float32{1, 0, 0}
	if got := Cosine(a, a); math.Abs(got-1) > 1e-6 {
		t.Errorf("identical vectors cosine = %f, want 1", got)
	}
	if got := Cosine(a, []float32{0, 1, 0}); math.Abs(got) > 1e-6 {
		t.Errorf("orthogonal vectors cosine = %f, want 0", got)
	}
	if got := Cosine(a, []float32{0, 0}); got != 0 {
		t.Errorf("mismatched lengths cosine = %f, want 0", got)
	}
}
