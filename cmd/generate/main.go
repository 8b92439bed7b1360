// Command generate produces the ranked players.json once and exits: the
// server-less path for static hosting, typically run from cron before a git
// publish step.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"backend/internal/config"
	"backend/internal/fetcher"
	"backend/internal/lichess"
	"backend/internal/ranking"
	"backend/internal/snapshot"

	"github.com/sirupsen/logrus"
)

func main() {
	output := flag.String("output", "", "output path (default: SNAPSHOT_PATH from config)")
	stdout := flag.Bool("stdout", false, "print the JSON to stdout instead of writing the file")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	path := cfg.Snapshot.Path
	if *output != "" {
		path = *output
	}

	client := lichess.NewClient(cfg.Team.LichessURL, cfg.Team.UserAgent, logger)
	coord := fetcher.New(client.PlayerFetchFunc(cfg.Fetch.FetchHistory), fetcher.Config{
		MaxWorkers:  cfg.Fetch.MaxWorkers,
		Attempts:    cfg.Fetch.RetryAttempts,
		BaseTimeout: cfg.Fetch.RequestTimeout,
		Backoff:     cfg.Fetch.RetryBackoff,
	}, logger)

	ctx := context.Background()

	members, err := client.ListTeamMembers(ctx, cfg.Team.ID)
	if err != nil {
		logger.Fatalf("Failed to list team members: %v", err)
	}
	logger.WithField("members", len(members)).Info("Roster loaded")

	players := coord.FetchAll(ctx, members)

	// Deltas are computed against the file being overwritten, when present
	prevSnap, err := snapshot.Load(path)
	if err != nil {
		prevSnap = nil
	}

	snap := ranking.Rank(players, prevSnap, time.Now(), cfg.ActivityWindow())

	if *stdout {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			logger.Fatalf("Failed to marshal snapshot: %v", err)
		}
		fmt.Println(string(data))
		return
	}

	if err := snapshot.Write(path, snap); err != nil {
		logger.Fatalf("Failed to write snapshot: %v", err)
	}
	logger.WithFields(logrus.Fields{
		"path":    path,
		"players": snap.Count,
	}).Info("Snapshot written")
}
