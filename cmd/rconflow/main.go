package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"rconflow/internal/api"
	"rconflow/internal/config"
	"rconflow/internal/dispatch"
	"rconflow/internal/remote"
	"rconflow/internal/schedule"
	"rconflow/internal/secret"
	"rconflow/internal/store"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "YAML config file (optional)")
		addr    = flag.String("addr", "", "HTTP bind address (overrides config)")
		dbPath  = flag.String("db", "", "SQLite DB path (overrides config)")
		keyPath = flag.String("key", "", "credential key file (overrides config)")
		tick    = flag.String("tick", "", "dispatcher tick interval (overrides config)")
		debug   = flag.Bool("debug", false, "enable pprof debug routes")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *keyPath != "" {
		cfg.KeyPath = *keyPath
	}
	if *tick != "" {
		cfg.TickInterval = *tick
	}
	if *debug {
		cfg.Debug = true
	}
	if err := cfg.Finish(); err != nil {
		log.Fatal().Err(err).Msg("resolve config")
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := store.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}
	repo := store.New(db)

	key, err := secret.LoadOrGenerateKey(cfg.KeyPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load credential key")
	}
	cipher, err := secret.NewCipher(key)
	if err != nil {
		log.Fatal().Err(err).Msg("init credential cipher")
	}

	pool := remote.NewPool(cipher.Decrypt, remote.Options{
		DialTimeout: cfg.DialTO(),
		RetryLimit:  cfg.RetryLimit,
		RetryDelay:  cfg.RetryPause(),
	})
	table := schedule.NewTable()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Restore persisted slots and entries, then connect.
	slots, entries, err := repo.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load persisted state")
	}
	now := time.Now().UTC()
	for _, e := range entries {
		if _, err := table.Restore(e.ID, e.Command, e.Rule, now); err != nil {
			log.Warn().Err(err).Str("entry_id", e.ID).Msg("skipping persisted entry")
		}
	}
	for _, st := range pool.Configure(slots) {
		log.Info().Int("slot", st.Slot).Str("state", string(st.State)).Str("reason", st.Reason).Msg("slot configured")
	}
	log.Info().Int("entries", table.Len()).Int("slots", len(slots)).Msg("state restored")

	dispatcher := dispatch.NewService(table, pool, cfg.Tick())
	go dispatcher.Start(ctx)

	srv := &http.Server{Addr: cfg.Addr, Handler: api.NewServerWithDebug(pool, table, cipher, repo, cfg.Debug)}
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	cancel()
	dispatcher.Stop(5 * time.Second)

	// Final snapshot before the connections go away.
	saveCtx, cancelSave := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelSave()
	final := table.Entries()
	stored := make([]store.Entry, 0, len(final))
	for _, e := range final {
		stored = append(stored, store.Entry{ID: e.ID, Command: e.Command, Rule: e.Rule})
	}
	if err := repo.Save(saveCtx, pool.Configs(), stored); err != nil {
		log.Error().Err(err).Msg("failed to save final state")
	}
	pool.DisconnectAll()

	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}
