// run_export executes a single export configuration from the command line,
// bypassing the API server. Useful for smoke-testing a new config before
// scheduling it.
//
// Usage:
//
//	run_export -config engine.yaml -id cfg-orders-daily
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rs/zerolog"

	"sheetbridge/internal/config"
	"sheetbridge/internal/dispatch"
	"sheetbridge/internal/eventbus"
	"sheetbridge/internal/models"
	"sheetbridge/internal/rates"
	"sheetbridge/internal/upstream"
	"sheetbridge/internal/writer"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to the engine config file")
	exportID := flag.String("id", "", "export configuration id to run")
	flag.Parse()

	if *exportID == "" {
		log.Fatal("missing -id")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	source, err := dispatch.LoadConfigs(cfg.ConfigsPath)
	if err != nil {
		log.Fatalf("Failed to load export configs: %v", err)
	}

	logger := zerolog.New(os.Stderr).Level(zerolog.WarnLevel).With().Timestamp().Logger()
	bus := eventbus.New()
	defer bus.Close()

	ratesSvc := rates.NewService(rates.NewProvider(cfg.RatesBaseURL))
	budget := upstream.NewBudget(cfg.RateBudgetCalls, time.Duration(cfg.RateBudgetWindow)*time.Second)
	sink := writer.NewCSVWriter(cfg.WriterOutputDir, logger)

	// One-shot run; the in-memory store is enough to carry the result back.
	store := dispatch.NewMemoryStore()
	dispatcher := dispatch.NewDispatcher(store, source, bus,
		ratesSvc, budget, sink, cfg, logger)

	res, err := dispatcher.RunExport(context.Background(), *exportID, dispatch.RunRequest{
		Trigger: models.TriggerManual,
	})
	if err != nil {
		log.Fatalf("Dispatch failed: %v", err)
	}
	dispatcher.Wait()

	run, err := store.Get(context.Background(), res.Run.RunID)
	if err != nil {
		log.Fatalf("Failed to read run result: %v", err)
	}

	out, _ := json.MarshalIndent(run, "", "  ")
	fmt.Println(string(out))
	if run.State != models.RunSucceeded {
		os.Exit(1)
	}
}
