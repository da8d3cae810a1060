package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/clip-engine/internal/batch"
	"github.com/snarg/clip-engine/internal/database"
)

var states = []batch.State{
	batch.StateQueued, batch.StateDownloading, batch.StateParsing, batch.StateAligning,
	batch.StateExtracting, batch.StateExporting, batch.StateDone, batch.StateFailed,
}

func main() {
	ctx := context.Background()
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)

	db, err := database.Connect(ctx, os.Getenv("DATABASE_URL"), log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		os.Exit(1)
	}
	defer db.Close()
	store := database.NewJobStore(db)

	if len(os.Args) > 1 && os.Args[1] == "failed" {
		runID := ""
		if len(os.Args) > 2 {
			runID = os.Args[2]
		}
		listFailed(ctx, store, runID)
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "purge" {
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: jobcheck purge <retention> [apply]")
			os.Exit(2)
		}
		retention, err := time.ParseDuration(os.Args[2])
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad retention:", err)
			os.Exit(2)
		}
		dryRun := !(len(os.Args) > 3 && os.Args[3] == "apply")
		purge(ctx, db, store, retention, dryRun)
		return
	}

	// Default: job counts and recent runs
	counts, err := store.StateCounts(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "state counts:", err)
		os.Exit(1)
	}
	fmt.Println("State          Jobs")
	fmt.Println("────────────────────")
	for _, s := range states {
		fmt.Printf("%-14s %d\n", s, counts[s])
	}

	limit := 20
	if v := os.Getenv("JOBCHECK_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list runs:", err)
		os.Exit(1)
	}
	fmt.Println()
	fmt.Println("── Recent Runs ──")
	for _, r := range runs {
		fmt.Printf("  %s  %-10s %-24s %s\n", r.ID, r.Status, r.Name, r.UpdatedAt.Format(time.RFC3339))
		if r.HaltReason != "" {
			fmt.Printf("      halted: %s\n", r.HaltReason)
		}
	}
}

func listFailed(ctx context.Context, store *database.JobStore, runID string) {
	jobs, err := store.ListJobs(ctx, database.JobFilter{RunID: runID, State: string(batch.StateFailed), Limit: 500})
	if err != nil {
		fmt.Fprintln(os.Stderr, "list jobs:", err)
		os.Exit(1)
	}
	byKind := map[string]int{}
	for _, j := range jobs {
		byKind[j.ErrorKind]++
		fmt.Printf("  %s  run=%s video=%s attempts=%d [%s/%s] %s\n",
			j.ID, j.RunID, j.VideoID, j.Attempts, j.ErrorClass, j.ErrorKind, j.Error)
	}
	fmt.Println()
	fmt.Println("── Failures by Kind ──")
	for k, n := range byKind {
		fmt.Printf("  %-20s %d\n", k, n)
	}
}

func purge(ctx context.Context, db *database.DB, store *database.JobStore, retention time.Duration, dryRun bool) {
	if dryRun {
		runs, err := store.ListRuns(ctx, 10000)
		if err != nil {
			fmt.Fprintln(os.Stderr, "list runs:", err)
			os.Exit(1)
		}
		cutoff := time.Now().Add(-retention)
		n := 0
		for _, r := range runs {
			if r.UpdatedAt.Before(cutoff) {
				n++
				fmt.Printf("  candidate %s (%s, updated %s)\n", r.ID, r.Status, r.UpdatedAt.Format(time.RFC3339))
			}
		}
		fmt.Printf("%d run(s) older than %s; runs with unfinished jobs are kept. Re-run with 'apply' to delete.\n", n, retention)
		return
	}
	deleted, err := db.PurgeFinishedRuns(ctx, retention)
	if err != nil {
		fmt.Fprintln(os.Stderr, "purge:", err)
		os.Exit(1)
	}
	fmt.Printf("Deleted %d finished run(s)\n", deleted)
}
