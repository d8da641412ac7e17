package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"adaptive-stream/internal/platform/logger"
	"adaptive-stream/internal/platform/metrics"
	"adaptive-stream/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session control API",
	Long: `Run an HTTP API that opens and controls playback sessions.

Routes:
  POST   /sessions                body: video metadata JSON
  GET    /sessions
  GET    /sessions/{uuid}
  POST   /sessions/{uuid}/seek    body: {"time": 42.5}
  POST   /sessions/{uuid}/play
  POST   /sessions/{uuid}/pause
  PUT    /sessions/{uuid}/tier    body: {"index": 2} or {"auto": true}
  DELETE /sessions/{uuid}
  GET    /metrics

Environment: PORT, OUTPUT_DIR (write each session's media to {uuid}.webm).`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("port", "8080", "listen port")
	serveCmd.Flags().String("output-dir", "", "directory for session media files (empty disables)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	fs := cmd.Flags()
	log := newLogger(fs, os.Stdout)

	client, err := newClient(fs, log)
	if err != nil {
		return err
	}

	met := metrics.New()
	svc := session.NewService(session.NewInMemoryRepository(), client, log, met, session.Config{
		TickInterval:  durationSetting(fs, "tick-interval", "TICK_INTERVAL"),
		OutputDir:     stringSetting(fs, "output-dir", "OUTPUT_DIR"),
		SourceOptions: sourceOptions(fs),
	})
	h := session.NewHandler(svc, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get(metrics.ScrapePath, func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveSessions(svc.ActiveCount()) }).ServeHTTP(w, r)
	})
	h.Register(r)

	port := stringSetting(fs, "port", "PORT")
	srv := &http.Server{Addr: ":" + port, Handler: r}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.Info("server starting",
		slog.String("port", port),
		slog.String("backend_url", stringSetting(fs, "backend-url", "BACKEND_URL")),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		log.Error("server error", slog.String("error", err.Error()))
		svc.CloseAll()
		return err
	case <-ctx.Done():
	}

	log.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = srv.Shutdown(shutdownCtx)
	svc.CloseAll()
	if err != nil {
		log.Error("shutdown error", slog.String("error", err.Error()))
		return err
	}

	log.Info("server stopped")
	return nil
}
