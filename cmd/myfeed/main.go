package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"
	"golang.org/x/sync/errgroup"

	"github.com/umputun/myfeed/pkg/blur"
	"github.com/umputun/myfeed/pkg/config"
	"github.com/umputun/myfeed/pkg/domain"
	"github.com/umputun/myfeed/pkg/extract"
	"github.com/umputun/myfeed/pkg/feed"
	"github.com/umputun/myfeed/pkg/repository"
	"github.com/umputun/myfeed/pkg/scheduler"
	"github.com/umputun/myfeed/pkg/staging"
	"github.com/umputun/myfeed/pkg/syncer"
	"github.com/umputun/myfeed/pkg/timeshift"
	"github.com/umputun/myfeed/pkg/transform"
	"github.com/umputun/myfeed/server"
)

// Opts with all CLI options
type Opts struct {
	Config  string `short:"f" long:"config" env:"CONFIG" default:"config.yml" description:"configuration file"`
	Debug   bool   `long:"dbg" env:"DEBUG" description:"debug mode"`
	Version bool   `short:"V" long:"version" description:"show version info"`
	NoColor bool   `long:"no-color" env:"NO_COLOR" description:"disable color output"`

	ExtractCmd  ExtractCommand  `command:"extract" description:"run configured sources and write a staging batch"`
	UpdateDBCmd UpdateDBCommand `command:"update-db" description:"merge pending staging batches into the item store"`
	ServerCmd   ServerCommand   `command:"server" description:"serve the read API with periodic staging sync"`
}

var (
	opts     Opts
	revision = "unknown"
)

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	parser.CommandHandler = func(command flags.Commander, args []string) error {
		setupLog(opts.Debug)
		log.Printf("[INFO] myfeed %s, revision %s", parser.Active.Name, revision)
		return command.Execute(args)
	}

	if _, err := parser.Parse(); err != nil {
		if opts.Version {
			fmt.Printf("Version: %s\nGolang: %s\n", revision, runtime.Version())
			os.Exit(0)
		}
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
			os.Exit(1)
		}
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

// ExtractCommand runs all selected sources through the blur, timeshift and
// transform stages, producing one immutable staging batch.
type ExtractCommand struct {
	Include      []string `short:"i" long:"include" description:"only run sources whose name contains this substring, repeatable"`
	Exclude      []string `short:"x" long:"exclude" description:"skip sources whose name contains this substring, repeatable"`
	BlurFile     string   `long:"blur-file" description:"blur rules file, overrides the configured one"`
	ExcludeIDs   string   `long:"exclude-id-file" description:"file with already-synced ids to skip, one per line"`
	WriteCountTo string   `long:"write-count-to" description:"write the emitted item count to this file"`
	Echo         bool     `long:"echo" description:"print items to stdout instead of writing a staging batch"`
}

// Execute runs the extraction
func (c *ExtractCommand) Execute(_ []string) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	ex, err := buildExtractor(cfg, c)
	if err != nil {
		return err
	}

	var items []domain.FeedItem
	for item, runErr := range ex.Run(ctx) {
		if runErr != nil {
			return fmt.Errorf("extraction aborted: %w", runErr)
		}
		items = append(items, item)
	}

	for _, st := range ex.Stats() {
		log.Printf("[INFO] source %s: produced %d, emitted %d in %v", st.Name, st.Produced, st.Emitted, st.Took)
	}

	if c.Echo {
		enc := json.NewEncoder(os.Stdout)
		for i := range items {
			rec := staging.NewRecord(&items[i])
			if err := enc.Encode(rec); err != nil {
				return err
			}
		}
	} else {
		store, sErr := staging.NewStore(cfg.Staging.Dir)
		if sErr != nil {
			return sErr
		}
		path, n, wErr := store.Write(items)
		if wErr != nil {
			return wErr
		}
		if path != "" {
			log.Printf("[INFO] wrote %d items to %s", n, path)
		}
	}

	if c.WriteCountTo != "" {
		if err := os.WriteFile(c.WriteCountTo, fmt.Appendf(nil, "%d\n", len(items)), 0o600); err != nil {
			return fmt.Errorf("write count file: %w", err)
		}
	}
	return nil
}

// buildExtractor assembles the extraction pipeline from configuration and
// command flags.
func buildExtractor(cfg *config.Config, c *ExtractCommand) (*extract.Extractor, error) {
	sources := buildSources(cfg)
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources configured")
	}

	ex := &extract.Extractor{
		Sources:    sources,
		Include:    c.Include,
		Exclude:    c.Exclude,
		Transforms: transform.Chain{},
	}

	blurFile := cfg.Blur.File
	if c.BlurFile != "" {
		blurFile = c.BlurFile
	}
	if blurFile != "" {
		set, err := blur.ParseFile(blurFile)
		if err != nil {
			return nil, fmt.Errorf("load blur rules: %w", err)
		}
		ex.Blur = set
		log.Printf("[INFO] loaded %d blur rules from %s", len(set.Rules()), blurFile)
	}

	if cfg.Timeshift.Enabled() {
		anchor, start, end, err := cfg.Timeshift.Dates()
		if err != nil {
			return nil, err
		}
		shifter, err := timeshift.New(anchor, start, end, cfg.Timeshift.Types)
		if err != nil {
			return nil, err
		}
		ex.Shift = shifter
	}

	if c.ExcludeIDs != "" {
		ids, err := readIDFile(c.ExcludeIDs)
		if err != nil {
			return nil, fmt.Errorf("load exclude ids: %w", err)
		}
		ex.ExcludeIDs = ids
		log.Printf("[INFO] excluding %d already-synced ids", len(ids))
	}

	return ex, nil
}

// buildSources creates source adapters from configuration
func buildSources(cfg *config.Config) []feed.Source {
	var sources []feed.Source
	for _, rc := range cfg.Sources.RSS {
		sources = append(sources, feed.NewRSSSource(rc.Name, rc.URL, rc.Ftype, cfg.Sources.UserAgent, cfg.Sources.Timeout))
	}
	for _, nc := range cfg.Sources.NDJSON {
		sources = append(sources, &feed.NDJSONSource{SourceName: nc.Name, Path: nc.Path})
	}
	return sources
}

// readIDFile loads already-synced ids from a file: either the JSON response
// of the read API's /data/ids endpoint, a bare JSON array, or one id per line.
func readIDFile(path string) (map[string]struct{}, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from CLI flag
	if err != nil {
		return nil, err
	}

	var list []string
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) > 0 && trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("parse id list: %w", err)
		}
	case len(trimmed) > 0 && trimmed[0] == '{':
		var resp struct {
			IDs []string `json:"ids"`
		}
		if err := json.Unmarshal(trimmed, &resp); err != nil {
			return nil, fmt.Errorf("parse id list: %w", err)
		}
		list = resp.IDs
	default:
		list = strings.Split(string(trimmed), "\n")
	}

	ids := make(map[string]struct{}, len(list))
	for _, id := range list {
		if id = strings.TrimSpace(id); id != "" {
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}

// UpdateDBCommand merges pending staging batches into the item store.
type UpdateDBCommand struct {
	DeleteFirst  bool   `long:"delete-first" description:"wipe the item store before merging"`
	PruneAll     bool   `long:"prune-all" description:"remove every staging batch after a successful merge"`
	KeepStaging  bool   `long:"keep-staging" description:"leave staging batches in place after merge"`
	WriteCountTo string `long:"write-count-to" description:"write the added item count to this file"`
}

// Execute runs the merge
func (c *UpdateDBCommand) Execute(_ []string) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer repo.Close() //nolint:errcheck // closing on exit

	if c.DeleteFirst {
		if err := repo.DeleteAll(ctx); err != nil {
			return fmt.Errorf("delete items: %w", err)
		}
		log.Printf("[WARN] deleted all items from the store")
	}

	store, err := staging.NewStore(cfg.Staging.Dir)
	if err != nil {
		return err
	}

	sync := syncer.New(store, repo)
	sync.PruneAll = c.PruneAll
	sync.KeepAll = c.KeepStaging

	added, err := sync.Sync(ctx)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	log.Printf("[INFO] sync complete, %d items added", added)

	if c.WriteCountTo != "" {
		if err := os.WriteFile(c.WriteCountTo, fmt.Appendf(nil, "%d\n", added), 0o600); err != nil {
			return fmt.Errorf("write count file: %w", err)
		}
	}
	return nil
}

// ServerCommand serves the read API and runs the sync scheduler.
type ServerCommand struct{}

// Execute runs the server until terminated
func (c *ServerCommand) Execute(_ []string) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer repo.Close() //nolint:errcheck // closing on exit

	store, err := staging.NewStore(cfg.Staging.Dir)
	if err != nil {
		return err
	}

	sync := syncer.New(store, repo)
	sched := scheduler.New(sync, cfg.Schedule.SyncInterval)
	srv := server.New(cfg, repo, sync, revision, opts.Debug)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Print("[INFO] shutdown complete")
	return nil
}

// openRepository opens the item store with configured connection limits
func openRepository(ctx context.Context, cfg *config.Config) (*repository.ItemRepository, error) {
	return repository.New(ctx, repository.Config{
		DSN:              cfg.Database.DSN,
		MaxOpenConns:     cfg.Database.MaxOpenConns,
		MaxIdleConns:     cfg.Database.MaxIdleConns,
		ConnMaxLifetime:  time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
		CurationDenylist: cfg.Curation.Denylist,
	})
}

// signalContext returns a context cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Print("[INFO] termination signal received")
		cancel()
	}()
	return ctx, cancel
}

func setupLog(dbg bool, secrets ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	if !opts.NoColor {
		colorizer := lgr.Mapper{
			ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
			WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
			InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
			DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
			CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
			TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
		}
		logOpts = append(logOpts, lgr.Map(colorizer))
	}
	if len(secrets) > 0 {
		logOpts = append(logOpts, lgr.Secret(secrets...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
