package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"adaptive-stream/internal/abr"
	"adaptive-stream/internal/fetch"
	"adaptive-stream/internal/session"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play one video to the end",
	Long: `Play one video headlessly and write the appended media to a file.

The video metadata comes from a local JSON file (--metadata) or from a URL,
absolute or relative to the backend (--metadata-url). Logs go to stderr.

Examples:
  streamer play --metadata video.json --output-dir /tmp
  streamer play --metadata-url /metadata/6f1c... --tier 1`,
	RunE: runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)

	playCmd.Flags().String("metadata", "", "path to a video metadata JSON file")
	playCmd.Flags().String("metadata-url", "", "URL of the video metadata JSON")
	playCmd.Flags().String("output-dir", ".", "directory for the {uuid}.webm output (empty disables)")
	playCmd.Flags().Float64("start", 0, "start position in seconds")
	playCmd.Flags().Int("tier", -1, "pin a tier index (-1 adapts to throughput)")
	playCmd.MarkFlagsMutuallyExclusive("metadata", "metadata-url")
	playCmd.MarkFlagsOneRequired("metadata", "metadata-url")
}

func runPlay(cmd *cobra.Command, _ []string) error {
	fs := cmd.Flags()
	log := newLogger(fs, os.Stderr)

	client, err := newClient(fs, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	meta, err := loadMetadata(ctx, cmd, client)
	if err != nil {
		return err
	}

	tick := durationSetting(fs, "tick-interval", "TICK_INTERVAL")
	outputDir, _ := fs.GetString("output-dir")
	svc := session.NewService(session.NewInMemoryRepository(), client, log, nil, session.Config{
		TickInterval:  tick,
		OutputDir:     outputDir,
		SourceOptions: sourceOptions(fs),
	})
	defer svc.CloseAll()

	id := session.ID(meta.UUID)
	if _, err := svc.Open(ctx, meta); err != nil {
		return err
	}
	if start, _ := fs.GetFloat64("start"); start > 0 {
		if _, err := svc.Seek(id, start); err != nil {
			return fmt.Errorf("seeking to %v: %w", start, err)
		}
	}
	if tier, _ := fs.GetInt("tier"); tier >= 0 {
		if _, err := svc.SetTier(id, tier); err != nil {
			return fmt.Errorf("selecting tier %d: %w", tier, err)
		}
	}

	started := time.Now()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("playback interrupted")
			return nil
		case <-ticker.C:
		}

		st, err := svc.Status(id)
		if err != nil {
			return err
		}
		if st.Ended {
			log.Info("playback finished",
				slog.Float64("duration", st.Stream.Duration),
				slog.Int("final_resolution", st.Stream.Resolution),
				slog.Int64("bytes_written", st.BytesWritten),
				slog.Duration("elapsed", time.Since(started)),
			)
			return nil
		}
	}
}

func loadMetadata(ctx context.Context, cmd *cobra.Command, client *fetch.Client) (abr.VideoMetadata, error) {
	var meta abr.VideoMetadata

	if u, _ := cmd.Flags().GetString("metadata-url"); u != "" {
		if err := client.GetJSON(ctx, u, &meta); err != nil {
			return meta, fmt.Errorf("loading metadata: %w", err)
		}
		return meta, nil
	}

	path, _ := cmd.Flags().GetString("metadata")
	data, err := os.ReadFile(path)
	if err != nil {
		return meta, fmt.Errorf("reading metadata: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("parsing metadata %s: %w", path, err)
	}
	if meta.UUID == "" {
		return meta, errors.New("metadata has no uuid")
	}
	return meta, nil
}
