package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"sysmetrics-app/internal/domain"
	"sysmetrics-app/internal/repository"
	"sysmetrics-app/internal/util"
)

const totalKB = 16 * 1024 * 1024

func main() {
	var (
		dbPath string
		window time.Duration
		step   time.Duration
	)

	root := &cobra.Command{
		Use:          "sysmetrics-ingest",
		Short:        "Seed the sqlite store with synthetic metric history",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateWindow(window, step); err != nil {
				return err
			}
			if err := util.CheckAndCreateLogFolder(filepath.Dir(dbPath)); err != nil {
				return err
			}

			sqliteStore := repository.NewSQLiteStore(dbPath, repository.DefaultSQLiteOptions())
			if err := sqliteStore.Init(); err != nil {
				return fmt.Errorf("failed to initialize SQLite store for ingestion: %w", err)
			}
			defer sqliteStore.Close()

			n := generateAndIngest(cmd.Context(), sqliteStore, time.Now(), window, step)
			log.Printf("Data ingestion complete, %d samples stored.", n)
			return nil
		},
	}

	root.Flags().StringVar(&dbPath, "db", "../db/metrics.db", "sqlite database path")
	root.Flags().DurationVar(&window, "window", 5*time.Minute, "how far back to generate samples")
	root.Flags().DurationVar(&step, "step", 10*time.Second, "spacing between samples")

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func validateWindow(window, step time.Duration) error {
	if step <= 0 {
		return fmt.Errorf("--step must be positive, got %s", step)
	}
	if window < 0 {
		return fmt.Errorf("--window must not be negative, got %s", window)
	}
	return nil
}

func generateAndIngest(ctx context.Context, s domain.MetricStore, endTime time.Time, window, step time.Duration) int {
	rng := rand.New(rand.NewSource(endTime.UnixNano()))
	startTime := endTime.Add(-window)

	log.Printf("Ingesting data from %s to %s...", startTime.Format(time.RFC3339), endTime.Format(time.RFC3339))

	stored := 0
	for t := startTime; !t.After(endTime); t = t.Add(step) {
		sample := syntheticSample(rng, t)
		if _, err := s.Append(ctx, sample); err != nil {
			log.Printf("Error inserting data for timestamp %d: %v", sample.CollectedAt, err)
			continue
		}
		stored++
	}
	return stored
}

func syntheticSample(rng *rand.Rand, t time.Time) domain.MetricSample {
	ramPercent := 20 + rng.Float64()*60
	used := uint64(float64(totalKB) * ramPercent / 100)

	running := uint64(rng.Intn(8) + 1)
	sleeping := uint64(rng.Intn(300) + 100)
	zombie := uint64(rng.Intn(2))
	stopped := uint64(rng.Intn(2))

	return domain.MetricSample{
		CollectedAt: t.Unix(),
		CPU:         &domain.CPU{UsagePercent: rng.Float64() * 100.0},
		Memory: &domain.Memory{
			TotalKB:      totalKB,
			UsedKB:       used,
			FreeKB:       totalKB - used,
			UsagePercent: ramPercent,
		},
		Processes: &domain.ProcessCounts{
			Running:  running,
			Sleeping: sleeping,
			Zombie:   zombie,
			Stopped:  stopped,
			Total:    running + sleeping + zombie + stopped,
		},
	}
}
