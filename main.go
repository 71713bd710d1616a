package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"sheetbridge/internal/api"
	"sheetbridge/internal/config"
	"sheetbridge/internal/dispatch"
	"sheetbridge/internal/eventbus"
	"sheetbridge/internal/models"
	"sheetbridge/internal/rates"
	"sheetbridge/internal/upstream"
	"sheetbridge/internal/writer"
)

// BuildCommit is set at build time via -ldflags.
var BuildCommit = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to the engine config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().
		Timestamp().
		Str("commit", BuildCommit).
		Logger()

	log.Info().
		Str("db", redactDatabaseURL(cfg.DatabaseURL)).
		Str("upstream", cfg.UpstreamBaseURL).
		Int("port", cfg.APIPort).
		Msg("starting export engine")

	// Run store: Postgres when configured, in-memory otherwise.
	var store dispatch.RunStore
	if cfg.DatabaseURL != "" {
		pgStore, err := dispatch.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to run store")
		}
		defer pgStore.Close()
		store = pgStore
	} else {
		log.Warn().Msg("no database configured, run history is in-memory only")
		store = dispatch.NewMemoryStore()
	}

	source, err := dispatch.LoadConfigs(cfg.ConfigsPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.ConfigsPath).Msg("failed to load export configs")
	}
	log.Info().Int("configs", len(source.List())).Msg("export configs loaded")

	bus := eventbus.New()
	defer bus.Close()

	ratesSvc := rates.NewService(rates.NewProvider(cfg.RatesBaseURL))
	budget := upstream.NewBudget(cfg.RateBudgetCalls, time.Duration(cfg.RateBudgetWindow)*time.Second)
	sink := writer.NewCSVWriter(cfg.WriterOutputDir, log)

	dispatcher := dispatch.NewDispatcher(store, source, bus, ratesSvc, budget, sink, cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if os.Getenv("ENABLE_SCHEDULER") != "false" {
		scheduler := dispatch.NewScheduler(dispatcher, source, store,
			time.Duration(cfg.SchedulerTickSecs)*time.Second, log)
		go scheduler.Start(ctx)
	} else {
		log.Info().Msg("scheduler is DISABLED (ENABLE_SCHEDULER=false)")
	}

	if os.Getenv("ENABLE_SWEEPER") != "false" {
		sweeper := dispatch.NewSweeper(store, bus, cfg.StaleAfter(),
			time.Duration(cfg.SweeperTickSecs)*time.Second, log)
		go sweeper.Start(ctx)
	} else {
		log.Info().Msg("sweeper is DISABLED (ENABLE_SWEEPER=false)")
	}

	stale := func(run *models.RunRecord) bool {
		return run.Stale(cfg.StaleAfter(), time.Now())
	}
	apiServer := api.NewServer(dispatcher, store, source, cfg.JWTSecret, cfg.APIPort, stale, log)

	go func() {
		if err := apiServer.Start(ctx, bus); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("api server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("api shutdown error")
	}
	cancel()

	// In-flight runs keep their own detached deadline; wait for them so
	// terminal states get persisted.
	dispatcher.Wait()
}

func redactDatabaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err == nil && u.Scheme != "" {
		if u.User != nil {
			user := u.User.Username()
			if user == "" {
				user = "user"
			}
			u.User = url.UserPassword(user, "****")
		}
		u.RawQuery = ""
		return u.String()
	}

	re := regexp.MustCompile(`(?i)(postgres(?:ql)?://[^:/?#]+):([^@]+)@`)
	if re.MatchString(raw) {
		return re.ReplaceAllString(raw, `$1:****@`)
	}
	re = regexp.MustCompile(`(?i)(password=)([^\s]+)`)
	return re.ReplaceAllString(raw, `$1****`)
}
