package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Adithya-Monish-Kumar-K/search-index/internal/events"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/indexer/corpus"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/store"
	pgstore "github.com/Adithya-Monish-Kumar-K/search-index/internal/store/postgres"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/vector"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-index/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/search-index/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/search-index/pkg/redis"
)

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func openSource(e *env, input, dir string) (corpus.Source, error) {
	switch {
	case dir != "":
		return corpus.OpenDir(dir)
	case input == "-":
		return corpus.NewTSV(e.stdin, nil), nil
	default:
		return corpus.OpenTSV(input)
	}
}

func newPublisher(e *env) (events.Publisher, func()) {
	pub := events.NewPublisher(e.cfg.Kafka)
	if kp, ok := pub.(*events.KafkaPublisher); ok {
		return pub, func() {
			if err := kp.Close(); err != nil {
				slog.Warn("closing kafka publisher", "error", err)
			}
		}
	}
	return pub, func() {}
}

func runBuildIndex(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("build-index")
	input := fs.String("input", "-", "TSV corpus (doc_id, title, text); - for stdin")
	dir := fs.String("dir", "", "directory of <doc_id>_<title>.txt files (overrides -input)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	src, err := openSource(e, *input, *dir)
	if err != nil {
		return err
	}
	defer src.Close()

	st, err := openStore(ctx, e.cfg)
	if err != nil {
		return err
	}
	defer closeStore(st)

	pub, closePub := newPublisher(e)
	defer closePub()

	b := indexer.NewBuilder(st, e.cfg.Indexer, indexer.WithPublisher(pub), indexer.WithMetrics(e.metrics))
	report, err := b.Build(ctx, src)
	if err != nil {
		return err
	}
	printBuildReport(e, report)
	return nil
}

func printBuildReport(e *env, r *indexer.Report) {
	fmt.Fprintf(e.stdout, "generation:        %s\n", r.Generation)
	fmt.Fprintf(e.stdout, "documents read:    %d\n", r.DocumentsRead)
	fmt.Fprintf(e.stdout, "documents skipped: %d\n", r.DocumentsSkipped)
	fmt.Fprintf(e.stdout, "records emitted:   %d\n", r.RecordsEmitted)
	fmt.Fprintf(e.stdout, "records rejected:  %d\n", r.RecordsRejected)
	fmt.Fprintf(e.stdout, "postings:          %d\n", r.Postings)
	fmt.Fprintf(e.stdout, "terms:             %d\n", r.Terms)
	fmt.Fprintf(e.stdout, "avg doc length:    %.4f\n", r.AvgDocLength)
	fmt.Fprintf(e.stdout, "duration:          %s\n", r.Duration)
}

func runBuildVectors(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("build-vectors")
	if err := fs.Parse(args); err != nil {
		return err
	}
	st, err := openStore(ctx, e.cfg)
	if err != nil {
		return err
	}
	defer closeStore(st)

	pub, closePub := newPublisher(e)
	defer closePub()

	report, err := vector.NewBuilder(st, e.cfg.Vectors, pub, e.metrics).Build(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "generation:   %s\n", report.Generation)
	fmt.Fprintf(e.stdout, "dimension:    %d\n", report.Dimension)
	fmt.Fprintf(e.stdout, "vectors:      %d\n", report.Documents)
	fmt.Fprintf(e.stdout, "zero vectors: %d\n", report.ZeroVectors)
	if report.Orphaned > 0 {
		fmt.Fprintf(e.stdout, "orphaned:     %d\n", report.Orphaned)
	}
	fmt.Fprintf(e.stdout, "duration:     %s\n", report.Duration)
	return nil
}

func runQuery(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("query")
	useVector := fs.Bool("vector", false, "rank by TF-IDF cosine similarity instead of BM25")
	limit := fs.Int("limit", e.cfg.Search.DefaultLimit, "number of results")
	if err := fs.Parse(args); err != nil {
		return err
	}
	text := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: query text is required", apperrors.ErrInvalidInput)
	}

	st, err := openStore(ctx, e.cfg)
	if err != nil {
		return err
	}
	defer closeStore(st)

	mode := searcher.ModeBM25
	if *useVector {
		mode = searcher.ModeVector
	}
	svc := searcher.NewService(st, e.cfg.Search, nil, e.metrics)
	res, err := svc.Search(ctx, text, mode, *limit)
	if err != nil {
		return err
	}
	if len(res.Results) == 0 {
		fmt.Fprintln(e.stdout, "no results")
		return nil
	}
	for i, hit := range res.Results {
		fmt.Fprintf(e.stdout, "%d. %s | %s | %.4f\n", i+1, hit.DocID, hit.Title, hit.Score)
	}
	return nil
}

func runServe(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("serve")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg := e.cfg
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(st)

	checker := health.NewChecker()
	checker.Register("store", health.PingCheck(st, true))
	checker.Register("index", indexCheck(st))

	var queryCache *cache.QueryCache
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, e.metrics)
			if cfg.Search.Timeout > 0 {
				queryCache.ComputeTimeout = cfg.Search.Timeout
			}
			checker.Register("redis", health.PingCheck(redisClient, false))
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	svc := searcher.NewService(st, cfg.Search, queryCache, e.metrics)
	if cfg.Kafka.Enabled {
		go func() {
			if err := events.Listen(ctx, cfg.Kafka, svc.HandleEvent); err != nil {
				slog.Error("index event listener stopped", "error", err)
			}
		}()
		slog.Info("listening for index events", "topic", cfg.Kafka.Topics.IndexEvents)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler.SetupRoutes(router, handler.New(svc), checker)

	var limiter *middleware.Limiter
	if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
		go limiter.RunSweeper(ctx, 5*time.Minute)
	}

	chain := middleware.Chain(router,
		middleware.RequestID,
		middleware.CORS(cfg.Server.CORSOrigins),
		middleware.Metrics(e.metrics),
		middleware.RateLimit(limiter),
		middleware.Timeout(cfg.Server.WriteTimeout),
	)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search server listening", "addr", server.Addr, "store", cfg.Store.Driver)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving http: %w", err)
	}
	slog.Info("search server stopped")
	return nil
}

// indexCheck degrades readiness until a build has been persisted; queries
// would all answer EMPTY_INDEX before that.
func indexCheck(st store.IndexReader) health.Check {
	return func(ctx context.Context) health.ComponentHealth {
		cs, ok, err := st.CorpusStats(ctx)
		switch {
		case err != nil:
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		case !ok:
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "no index built"}
		}
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("generation %s, %d documents", cs.Generation, cs.TotalDocs),
		}
	}
}

func runMigrate(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("migrate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if e.cfg.Store.Driver != "postgres" {
		return fmt.Errorf("%w: migrate needs the postgres store driver", apperrors.ErrInvalidInput)
	}
	st, err := openStore(ctx, e.cfg)
	if err != nil {
		return err
	}
	defer closeStore(st)
	pg, ok := st.(*pgstore.Store)
	if !ok {
		return fmt.Errorf("%w: store is not postgres", apperrors.ErrInvalidInput)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, "schema applied")
	return nil
}

func runMap(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("map")
	dir := fs.String("dir", "", "read <doc_id>_<title>.txt files instead of stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var src corpus.Source
	if *dir != "" {
		var err error
		if src, err = corpus.OpenDir(*dir); err != nil {
			return err
		}
	} else {
		src = corpus.NewTSV(e.stdin, nil)
	}
	defer src.Close()

	st, err := indexer.MapStream(src, e.stdout)
	if err != nil {
		return err
	}
	slog.Info("map complete", "documents", st.Documents, "skipped", st.Skipped, "records", st.Records)
	return nil
}

func runReduce(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("reduce")
	if err := fs.Parse(args); err != nil {
		return err
	}
	st, err := indexer.ReduceStream(e.stdin, e.stdout)
	if err != nil {
		return err
	}
	slog.Info("reduce complete",
		"consumed", st.Consumed,
		"rejected", st.Rejected,
		"postings", st.Postings,
		"terms", st.Groups,
		"duplicates", st.Duplicates,
	)
	return nil
}

func runLoad(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("load")
	if err := fs.Parse(args); err != nil {
		return err
	}
	st, err := openStore(ctx, e.cfg)
	if err != nil {
		return err
	}
	defer closeStore(st)

	pub, closePub := newPublisher(e)
	defer closePub()

	b := indexer.NewBuilder(st, e.cfg.Indexer, indexer.WithPublisher(pub), indexer.WithMetrics(e.metrics))
	report, err := b.Load(ctx, e.stdin)
	if err != nil {
		return err
	}
	printBuildReport(e, report)
	return nil
}
