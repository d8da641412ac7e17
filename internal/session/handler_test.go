package session

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func newTestRouter(t *testing.T) (*chi.Mux, *Service) {
	t.Helper()
	svc := newTestService(t, &fakeBackend{}, Config{})
	r := chi.NewRouter()
	NewHandler(svc, testLogger()).Register(r)
	return r, svc
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch v := body.(type) {
	case nil:
	case string:
		buf.WriteString(v)
	default:
		json.NewEncoder(&buf).Encode(v)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) Status {
	t.Helper()
	var st Status
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	return st
}

func TestHandler_Open(t *testing.T) {
	r, _ := newTestRouter(t)
	meta := testMetadata()

	rec := do(r, http.MethodPost, "/sessions", meta)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	st := decodeStatus(t, rec)
	if st.UUID != meta.UUID || st.Stream.Duration != testDuration {
		t.Errorf("status = %+v", st)
	}
}

func TestHandler_Open_bad_request(t *testing.T) {
	r, _ := newTestRouter(t)

	if rec := do(r, http.MethodPost, "/sessions", "not json"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad json: expected 400, got %d", rec.Code)
	}

	meta := testMetadata()
	meta.UUID = "not-a-uuid"
	if rec := do(r, http.MethodPost, "/sessions", meta); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid metadata: expected 400, got %d", rec.Code)
	}
}

func TestHandler_session_routes(t *testing.T) {
	r, _ := newTestRouter(t)
	meta := testMetadata()
	base := "/sessions/" + meta.UUID

	if rec := do(r, http.MethodPost, "/sessions", meta); rec.Code != http.StatusCreated {
		t.Fatalf("setup: expected 201, got %d", rec.Code)
	}

	t.Run("get", func(t *testing.T) {
		rec := do(r, http.MethodGet, base, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if st := decodeStatus(t, rec); st.UUID != meta.UUID {
			t.Errorf("uuid = %q", st.UUID)
		}
	})

	t.Run("list", func(t *testing.T) {
		rec := do(r, http.MethodGet, "/sessions", nil)
		var list []Status
		if err := json.NewDecoder(rec.Body).Decode(&list); err != nil || len(list) != 1 {
			t.Errorf("list = %v, %v", list, err)
		}
	})

	t.Run("pause_and_play", func(t *testing.T) {
		if st := decodeStatus(t, do(r, http.MethodPost, base+"/pause", nil)); !st.Paused {
			t.Error("expected paused")
		}
		if st := decodeStatus(t, do(r, http.MethodPost, base+"/play", nil)); st.Paused {
			t.Error("expected playing")
		}
	})

	t.Run("seek", func(t *testing.T) {
		rec := do(r, http.MethodPost, base+"/seek", map[string]any{"time": 4.5})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if st := decodeStatus(t, rec); st.Position < 4.5 {
			t.Errorf("position = %v, want >= 4.5", st.Position)
		}
		if rec := do(r, http.MethodPost, base+"/seek", map[string]any{}); rec.Code != http.StatusBadRequest {
			t.Errorf("seek without time: expected 400, got %d", rec.Code)
		}
	})

	t.Run("tier", func(t *testing.T) {
		rec := do(r, http.MethodPut, base+"/tier", map[string]any{"index": 2})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if st := decodeStatus(t, rec); !st.Stream.ManualTier || st.Stream.Resolution != 720 {
			t.Errorf("stream = %+v", st.Stream)
		}

		rec = do(r, http.MethodPut, base+"/tier", map[string]any{"auto": true})
		if st := decodeStatus(t, rec); st.Stream.ManualTier {
			t.Error("auto should release the pinned tier")
		}

		if rec := do(r, http.MethodPut, base+"/tier", map[string]any{}); rec.Code != http.StatusBadRequest {
			t.Errorf("empty tier body: expected 400, got %d", rec.Code)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if rec := do(r, http.MethodDelete, base, nil); rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rec.Code)
		}
		if rec := do(r, http.MethodDelete, base, nil); rec.Code != http.StatusNotFound {
			t.Errorf("second delete: expected 404, got %d", rec.Code)
		}
	})
}

func TestHandler_not_found(t *testing.T) {
	r, _ := newTestRouter(t)
	base := "/sessions/missing"

	tests := []struct {
		method, path string
		body         any
	}{
		{http.MethodGet, base, nil},
		{http.MethodPost, base + "/play", nil},
		{http.MethodPost, base + "/pause", nil},
		{http.MethodPost, base + "/seek", map[string]any{"time": 1}},
		{http.MethodPut, base + "/tier", map[string]any{"index": 1}},
		{http.MethodDelete, base, nil},
	}
	for _, tt := range tests {
		if rec := do(r, tt.method, tt.path, tt.body); rec.Code != http.StatusNotFound {
			t.Errorf("%s %s: expected 404, got %d", tt.method, tt.path, rec.Code)
		}
	}
}
