package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vectorforge/embedcore/services/embed/cache"
	"github.com/vectorforge/embedcore/services/embed/embedder"
	"github.com/vectorforge/embedcore/services/embed/pool"
	"github.com/vectorforge/embedcore/services/embed/registry"
	"github.com/vectorforge/embedcore/services/embed/vector"
)

type fakeSubmitter struct{}

func (fakeSubmitter) Submit(ctx context.Context, batchID string, texts []string) (<-chan pool.Result, error) {
	vecs := make([]vector.Vector, len(texts))
	for i := range texts {
		vecs[i] = vector.Normalize(vector.Vector{1, 2, 3, 4})
	}
	c := make(chan pool.Result, 1)
	c <- pool.Result{Vectors: vecs}
	return c, nil
}

type fakePoolView struct{}

func (fakePoolView) Ready() bool    { return true }
func (fakePoolView) QueueDepth() int { return 0 }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := cache.Open(t.TempDir(), 64, 4, "test-model")
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	e := embedder.New(store, nil, fakeSubmitter{}, 10, "test-model")
	reg := registry.New()
	return New(e, reg, fakePoolView{}, nil, "test-model", 4, 1, nil, nil, "/tmp/test-project")
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s.Handler(false), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.PoolReady {
		t.Error("PoolReady = false, want true")
	}
}

func TestRegisterDeregisterClient(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler(false)

	rec := doRequest(t, h, http.MethodPost, "/register-client", registerClientRequest{ClientID: "c1", Project: "proj"})
	if rec.Code != http.StatusOK {
		t.Fatalf("register status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var regResp registerClientResponse
	json.Unmarshal(rec.Body.Bytes(), &regResp)
	if !regResp.OK || regResp.TotalClients != 1 {
		t.Fatalf("register response = %+v", regResp)
	}

	rec = doRequest(t, h, http.MethodPost, "/deregister-client", deregisterClientRequest{ClientID: "c1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("deregister status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var deregResp deregisterClientResponse
	json.Unmarshal(rec.Body.Bytes(), &deregResp)
	if !deregResp.WasRegistered || deregResp.TotalClients != 0 {
		t.Fatalf("deregister response = %+v", deregResp)
	}
}

func TestEmbedEndpoint(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler(false)

	rec := doRequest(t, h, http.MethodPost, "/embed", embedRequest{Texts: []string{"alpha", "beta"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp embedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Embeddings) != 2 {
		t.Fatalf("got %d embeddings, want 2", len(resp.Embeddings))
	}
	if resp.Metadata.ModelID != "test-model" {
		t.Errorf("ModelID = %q, want test-model", resp.Metadata.ModelID)
	}
}

func TestEmbedEndpointEmptyTexts(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler(false)

	// spec §8 boundary: texts=[] succeeds with an empty response and no
	// worker dispatch, distinct from an absent "texts" key entirely.
	rec := doRequest(t, h, http.MethodPost, "/embed", map[string]any{"texts": []string{}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp embedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Embeddings) != 0 {
		t.Fatalf("got %d embeddings, want 0", len(resp.Embeddings))
	}
}

func TestEmbedEndpointInvalidInput(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler(false)

	rec := doRequest(t, h, http.MethodPost, "/embed", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
}
