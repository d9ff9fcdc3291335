package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/example/go-tiktoken/internal/encoding"
	"github.com/example/go-tiktoken/internal/provider"
	"github.com/example/go-tiktoken/internal/server"
	"github.com/example/go-tiktoken/internal/tokenizer"
	"github.com/example/go-tiktoken/internal/vocab"
)

// stubSource implements server.Source for tests.
type stubSource struct {
	encoders map[string]provider.Encoder
	err      error
}

func (s *stubSource) Get(_ context.Context, name string) (provider.Encoder, error) {
	if s.err != nil {
		return nil, s.err
	}
	e, ok := s.encoders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", encoding.ErrUnknownEncoding, name)
	}
	return e, nil
}

func (s *stubSource) Loaded() []string {
	names := make([]string, 0, len(s.encoders))
	for name := range s.encoders {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// newEngine builds a real engine over all single bytes plus "ab" at 256.
func newEngine(t *testing.T, name string) *tokenizer.BPE {
	t.Helper()

	m := make(map[string]vocab.Rank, 257)
	for i := range 256 {
		m[string([]byte{byte(i)})] = vocab.Rank(i)
	}
	m["ab"] = 256

	v, err := vocab.FromMap(m)
	if err != nil {
		t.Fatalf("FromMap: %v", err)
	}

	e, err := tokenizer.NewFromVocabulary(`\S+|\s+`, v, tokenizer.WithName(name))
	if err != nil {
		t.Fatalf("NewFromVocabulary: %v", err)
	}
	return e
}

func newTestSource(t *testing.T) *stubSource {
	t.Helper()
	return &stubSource{encoders: map[string]provider.Encoder{
		"cl100k_base": newEngine(t, "cl100k_base"),
	}}
}

func newTestHandler(src server.Source, opts ...server.Option) http.Handler {
	return server.NewHandler(src, opts...)
}

func post(h http.Handler, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

// ---------------------------------------------------------------------------
// GET /health
// ---------------------------------------------------------------------------

func TestHealth_Returns200WithStatusOK(t *testing.T) {
	h := newTestHandler(newTestSource(t))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	var body map[string]string
	decodeBody(t, rec, &body)

	if body["status"] != "ok" {
		t.Errorf("want status=ok, got %q", body["status"])
	}

	if _, ok := body["version"]; !ok {
		t.Error("want version field in response")
	}
}

func TestHealth_SetsRequestID(t *testing.T) {
	h := newTestHandler(newTestSource(t))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	h.ServeHTTP(rec, req)

	if rec.Header().Get(server.RequestIDHeader) == "" {
		t.Error("want a generated request id header")
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(server.RequestIDHeader, "abc-123")
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(server.RequestIDHeader); got != "abc-123" {
		t.Errorf("request id = %q; want the client's abc-123", got)
	}
}

// ---------------------------------------------------------------------------
// GET /encodings
// ---------------------------------------------------------------------------

func TestEncodings_ListsRegistryAndLoadedFlag(t *testing.T) {
	src := newTestSource(t)
	src.encoders["local"] = newEngine(t, "local")
	h := newTestHandler(src)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/encodings", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	var got []struct {
		Name   string `json:"name"`
		Loaded bool   `json:"loaded"`
	}
	decodeBody(t, rec, &got)

	if len(got) != len(encoding.Names())+1 {
		t.Fatalf("want %d entries, got %d", len(encoding.Names())+1, len(got))
	}

	loaded := map[string]bool{}
	for _, e := range got {
		loaded[e.Name] = e.Loaded
	}
	if !loaded["cl100k_base"] || loaded["r50k_base"] || !loaded["local"] {
		t.Errorf("unexpected loaded flags: %v", loaded)
	}

	if got[len(got)-1].Name != "local" {
		t.Errorf("unregistered encodings should come last, got %q", got[len(got)-1].Name)
	}
}

func TestEncodings_RejectsPost(t *testing.T) {
	h := newTestHandler(newTestSource(t))

	rec := post(h, "/encodings", `{}`)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("want 405, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// POST /encode
// ---------------------------------------------------------------------------

func TestEncode_ReturnsTokens(t *testing.T) {
	h := newTestHandler(newTestSource(t))

	rec := post(h, "/encode", `{"text":"ab ab"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Encoding string       `json:"encoding"`
		Tokens   []vocab.Rank `json:"tokens"`
		Count    int          `json:"count"`
	}
	decodeBody(t, rec, &body)

	if body.Encoding != "cl100k_base" {
		t.Errorf("encoding = %q; want the default cl100k_base", body.Encoding)
	}

	want := []vocab.Rank{256, 32, 256}
	if !slices.Equal(body.Tokens, want) || body.Count != 3 {
		t.Errorf("tokens = %v, count = %d; want %v, 3", body.Tokens, body.Count, want)
	}
}

func TestEncode_EmptyTextReturnsEmptyArray(t *testing.T) {
	h := newTestHandler(newTestSource(t))

	rec := post(h, "/encode", `{"text":""}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	var body map[string]json.RawMessage
	decodeBody(t, rec, &body)

	if string(body["tokens"]) != "[]" {
		t.Errorf("tokens = %s; want []", body["tokens"])
	}
}

func TestEncode_BatchKeepsOrder(t *testing.T) {
	h := newTestHandler(newTestSource(t), server.WithWorkers(2))

	rec := post(h, "/encode", `{"texts":["ab","b a","","abab"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Batch [][]vocab.Rank `json:"batch"`
		Count int            `json:"count"`
	}
	decodeBody(t, rec, &body)

	want := [][]vocab.Rank{{256}, {'b', ' ', 'a'}, {}, {256, 256}}
	if len(body.Batch) != len(want) {
		t.Fatalf("batch = %v; want %v", body.Batch, want)
	}
	for i := range want {
		if !slices.Equal(body.Batch[i], want[i]) {
			t.Errorf("batch[%d] = %v; want %v", i, body.Batch[i], want[i])
		}
	}

	if body.Count != 6 {
		t.Errorf("count = %d; want 6", body.Count)
	}
}

func TestEncode_NamedEncoding(t *testing.T) {
	src := newTestSource(t)
	src.encoders["o200k_base"] = newEngine(t, "o200k_base")
	h := newTestHandler(src)

	rec := post(h, "/encode", `{"encoding":"o200k_base","text":"ab"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	var body map[string]any
	decodeBody(t, rec, &body)

	if body["encoding"] != "o200k_base" {
		t.Errorf("encoding = %v; want o200k_base", body["encoding"])
	}
}

func TestEncode_UnknownEncodingReturns400(t *testing.T) {
	h := newTestHandler(newTestSource(t))

	rec := post(h, "/encode", `{"encoding":"nope","text":"ab"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rec.Code)
	}
}

func TestEncode_LoadFailureReturns500(t *testing.T) {
	h := newTestHandler(&stubSource{err: errors.New("download failed")})

	rec := post(h, "/encode", `{"text":"ab"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("want 500, got %d", rec.Code)
	}
}

func TestEncode_ReturnsMissingBodyAs400(t *testing.T) {
	h := newTestHandler(newTestSource(t))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/encode", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rec.Code)
	}

	var body map[string]string
	decodeBody(t, rec, &body)

	if body["error"] == "" {
		t.Error("want non-empty error field")
	}
}

func TestEncode_InvalidJSONReturns400(t *testing.T) {
	h := newTestHandler(newTestSource(t))

	rec := post(h, "/encode", `{"text":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rec.Code)
	}
}

func TestEncode_RejectsGet(t *testing.T) {
	h := newTestHandler(newTestSource(t))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/encode", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("want 405, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// POST /decode
// ---------------------------------------------------------------------------

func TestDecode_ReturnsText(t *testing.T) {
	h := newTestHandler(newTestSource(t))

	rec := post(h, "/decode", `{"tokens":[256,32,256]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]string
	decodeBody(t, rec, &body)

	if body["text"] != "ab ab" {
		t.Errorf("text = %q; want %q", body["text"], "ab ab")
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing tokens", `{}`, http.StatusBadRequest},
		{"unknown token", `{"tokens":[999]}`, http.StatusUnprocessableEntity},
		{"invalid utf8", `{"tokens":[195]}`, http.StatusUnprocessableEntity},
	}

	h := newTestHandler(newTestSource(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(h, "/decode", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("want %d, got %d (body: %s)", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestDecode_EmptyTokensReturnsEmptyText(t *testing.T) {
	h := newTestHandler(newTestSource(t))

	rec := post(h, "/decode", `{"tokens":[]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// POST /count
// ---------------------------------------------------------------------------

func TestCount_ReturnsTokenCount(t *testing.T) {
	h := newTestHandler(newTestSource(t))

	rec := post(h, "/count", `{"text":"ab ab b"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	var body struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &body)

	if body.Count != 5 {
		t.Errorf("count = %d; want 5", body.Count)
	}
}
