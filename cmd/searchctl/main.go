// Command searchctl builds the search index and queries it.
//
//	searchctl [-config path] build-index [-input path|-] [-dir path]
//	searchctl [-config path] build-vectors
//	searchctl [-config path] query [-vector] [-limit n] <text...>
//	searchctl [-config path] serve
//	searchctl [-config path] migrate
//	searchctl map | reduce | load       (single stages over stdin/stdout)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/search-index/internal/store"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/store/memory"
	pgstore "github.com/Adithya-Monish-Kumar-K/search-index/internal/store/postgres"
	"github.com/Adithya-Monish-Kumar-K/search-index/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-index/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/search-index/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/search-index/pkg/postgres"
)

type command func(ctx context.Context, env *env, args []string) error

var commands = map[string]command{
	"build-index":   runBuildIndex,
	"build-vectors": runBuildVectors,
	"query":         runQuery,
	"serve":         runServe,
	"migrate":       runMigrate,
	"map":           runMap,
	"reduce":        runReduce,
	"load":          runLoad,
}

// env is what every command gets: configuration and the standard streams.
type env struct {
	cfg     *config.Config
	stdin   io.Reader
	stdout  io.Writer
	metrics *metrics.Metrics
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) int {
	fs := flag.NewFlagSet("searchctl", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Usage = func() { usage(fs.Output()) }
	if err := fs.Parse(args); err != nil {
		return apperrors.ExitFailure
	}
	if fs.NArg() == 0 {
		usage(os.Stderr)
		return apperrors.ExitFailure
	}
	name, rest := fs.Arg(0), fs.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", name)
		usage(os.Stderr)
		return apperrors.ExitFailure
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return apperrors.ExitFailure
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	e := &env{cfg: cfg, stdin: stdin, stdout: stdout}
	if cfg.Metrics.Enabled {
		e.metrics = metrics.New()
		shutdown := metrics.StartServer(cfg.Metrics.Port)
		defer shutdown(context.Background())
	}

	if err := cmd(ctx, e, rest); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return apperrors.ExitOK
		}
		slog.Error("command failed", "command", name, "error", err)
		return apperrors.ExitCode(err)
	}
	return apperrors.ExitOK
}

// openStore connects the configured backend. The returned store must be
// closed; for the file driver Close writes the snapshot.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "file":
		s, err := memory.Open(cfg.Store.Path)
		if err != nil {
			return nil, apperrors.Storage("opening snapshot", err)
		}
		return s, nil
	default:
		client, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, apperrors.Storage("connecting to postgres", err)
		}
		return pgstore.New(client), nil
	}
}

func closeStore(s store.Store) {
	if err := s.Close(); err != nil {
		slog.Error("closing store", "error", err)
	}
}

func usage(w io.Writer) {
	fmt.Fprint(w, `usage: searchctl [-config path] <command> [flags]

commands:
  build-index    build postings, vocabulary and corpus stats from a corpus
  build-vectors  build TF-IDF document vectors for the current index
  query          rank documents for a query (BM25, or cosine with -vector)
  serve          run the HTTP search API
  migrate        apply the PostgreSQL schema
  map            stdin corpus -> stdout term records
  reduce         stdin sorted term records -> stdout postings and df
  load           stdin reduce output -> store
`)
}
