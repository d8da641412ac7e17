// Package main is the entry point for the streamer CLI.
//
// streamer is a headless adaptive streaming client. It plays videos from a
// backend that serves time-ranged webm segments, choosing the resolution
// from observed throughput.
package main

import (
	"os"

	"adaptive-stream/cmd/streamer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
