// Package cmd implements the CLI commands for streamer.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"adaptive-stream/internal/abr"
	"adaptive-stream/internal/fetch"
	"adaptive-stream/internal/platform/config"
	"adaptive-stream/internal/platform/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "streamer",
	Short: "Headless adaptive streaming client",
	Long: `streamer plays videos from a segment backend, adapting the resolution
to the observed throughput.

Settings come from flags, then environment variables (a .env file in the
working directory is loaded first), then defaults:
  BACKEND_URL          - backend origin, e.g. http://localhost:8000
  LOG_LEVEL            - debug, info, warn, error
  LOG_FORMAT           - json or text
  LOOKAHEAD_SECONDS    - how far ahead of playback to buffer
  MIN_CHUNK_SECONDS    - smallest range a request asks for
  BITRATE_COEFFICIENT  - throughput margin required per tier
  TICK_INTERVAL        - player clock period
  USER_AGENT           - User-Agent sent to the backend`,
	SilenceUsage: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// A missing .env is fine; the process environment still applies.
		_ = config.Load()
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	// Flags are not read at init time: their defaults apply only when neither
	// the flag nor its environment variable is set.
	fs := rootCmd.PersistentFlags()
	fs.String("backend-url", "http://localhost:8000", "video backend origin")
	fs.String("user-agent", fetch.DefaultUserAgent, "User-Agent sent to the backend")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("log-format", "json", "log format (text, json)")
	fs.Float64("lookahead", abr.DefaultLookahead, "seconds to buffer ahead of playback")
	fs.Float64("min-chunk", abr.DefaultMinChunk, "smallest requested range in seconds")
	fs.Float64("coefficient", abr.DefaultCoefficient, "throughput margin required per tier")
	fs.Duration("tick-interval", 250*time.Millisecond, "player clock period")
}

// stringSetting resolves a flag: explicit flag, then env, then flag default.
func stringSetting(fs *pflag.FlagSet, name, env string) string {
	v, _ := fs.GetString(name)
	if fs.Changed(name) {
		return v
	}
	return config.GetEnv(env, v)
}

func floatSetting(fs *pflag.FlagSet, name, env string) float64 {
	v, _ := fs.GetFloat64(name)
	if fs.Changed(name) {
		return v
	}
	return config.GetEnvFloat(env, v)
}

func durationSetting(fs *pflag.FlagSet, name, env string) time.Duration {
	v, _ := fs.GetDuration(name)
	if fs.Changed(name) {
		return v
	}
	return config.GetEnvDuration(env, v)
}

func newLogger(fs *pflag.FlagSet, w io.Writer) *slog.Logger {
	return logger.NewWithWriter(
		stringSetting(fs, "log-level", "LOG_LEVEL"),
		stringSetting(fs, "log-format", "LOG_FORMAT"),
		w,
	)
}

func newClient(fs *pflag.FlagSet, log *slog.Logger) (*fetch.Client, error) {
	return fetch.New(fetch.Config{
		BaseURL:   stringSetting(fs, "backend-url", "BACKEND_URL"),
		UserAgent: stringSetting(fs, "user-agent", "USER_AGENT"),
		Logger:    log,
	})
}

func sourceOptions(fs *pflag.FlagSet) []abr.Option {
	return []abr.Option{
		abr.WithLookahead(floatSetting(fs, "lookahead", "LOOKAHEAD_SECONDS")),
		abr.WithMinChunk(floatSetting(fs, "min-chunk", "MIN_CHUNK_SECONDS")),
		abr.WithCoefficient(floatSetting(fs, "coefficient", "BITRATE_COEFFICIENT")),
	}
}
