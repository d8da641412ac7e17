package session

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"adaptive-stream/internal/abr"
	"adaptive-stream/internal/fetch"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const testDuration = 10.0

// fakeBackend serves thumbnails and echoes requested ranges with a fixed
// amount of bytes per segment.
type fakeBackend struct {
	thumbnailStatus int
	segments        atomic.Int64
	firstResolution atomic.Int64
}

func (b *fakeBackend) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/thumbnail/{uuid}", func(w http.ResponseWriter, r *http.Request) {
		if b.thumbnailStatus != 0 {
			http.Error(w, "no thumbnail", b.thumbnailStatus)
			return
		}
		w.Write(make([]byte, 4096))
	})
	r.Get("/video/{uuid}/{resolution}/{start}/{end}", func(w http.ResponseWriter, r *http.Request) {
		start, err1 := strconv.ParseInt(chi.URLParam(r, "start"), 10, 64)
		end, err2 := strconv.ParseInt(chi.URLParam(r, "end"), 10, 64)
		if err1 != nil || err2 != nil || end <= start {
			http.Error(w, "bad range", http.StatusBadRequest)
			return
		}
		if res, err := strconv.ParseInt(chi.URLParam(r, "resolution"), 10, 64); err == nil {
			b.firstResolution.CompareAndSwap(0, res)
		}
		b.segments.Add(1)
		total := int64(testDuration * 1e9)
		w.Header().Set(fetch.HeaderContentRange, fmt.Sprintf("%d-%d/%d", start, min(end, total), total))
		w.Write(make([]byte, 2048))
	})
	return r
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestService(t *testing.T, b *fakeBackend, cfg Config) *Service {
	t.Helper()
	srv := httptest.NewServer(b.router())
	t.Cleanup(srv.Close)

	client, err := fetch.New(fetch.Config{BaseURL: srv.URL, Logger: testLogger()})
	if err != nil {
		t.Fatalf("fetch.New: %v", err)
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 10 * time.Millisecond
	}
	svc := NewService(NewInMemoryRepository(), client, testLogger(), nil, cfg)
	t.Cleanup(svc.CloseAll)
	return svc
}

func testMetadata() abr.VideoMetadata {
	return abr.VideoMetadata{
		UUID:        uuid.NewString(),
		Duration:    testDuration,
		Resolutions: []int{144, 360, 720},
		Bitrates:    []float64{400_000, 1_500_000, 4_000_000},
		Lengths:     []float64{1e9, 1e9, 1e9},
	}
}

// waitStatus polls the session until cond holds.
func waitStatus(t *testing.T, svc *Service, id ID, what string, cond func(Status) bool) Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		st, err := svc.Status(id)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if cond(st) {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s: %+v", what, st)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
