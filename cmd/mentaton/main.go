package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/conorfennell/mentaton/internal/config"
	"github.com/conorfennell/mentaton/internal/gitsource"
	"github.com/conorfennell/mentaton/internal/ledger"
	"github.com/conorfennell/mentaton/internal/logging"
	"github.com/conorfennell/mentaton/internal/quiz"
	"github.com/conorfennell/mentaton/internal/remote"
	"github.com/conorfennell/mentaton/internal/storage"
	"github.com/conorfennell/mentaton/internal/sync"
	"github.com/conorfennell/mentaton/internal/web"
)

const usage = `Usage: mentaton [flags] <command>

Commands:
  sync        Check for a newer question set and install it
  ask         Show a random question (use --category, --difficulty, --language)
  categories  List the available categories
  status      Show the installed version and question count
  serve       Serve questions over a JSON HTTP API

Flags:
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	// 1. Define and parse command-line flags
	fs := pflag.NewFlagSet("mentaton", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	config.RegisterFlags(fs)
	category := fs.String("category", "", "Question category (ask)")
	difficulty := fs.String("difficulty", "", "Question difficulty (ask)")
	language := fs.String("language", "es", "Question language (ask, categories)")
	reveal := fs.Bool("reveal", false, "Print the answer without waiting for Enter (ask)")
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	command := fs.Arg(0)
	switch command {
	case "sync", "ask", "categories", "status", "serve":
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	logger := logging.New(stderr, cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Bring the local store up to date before anything is served
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("Failed to create data directory", "path", cfg.DataDir, "error", err)
		return 1
	}
	source, err := newSource(cfg, logger)
	if err != nil {
		logger.Error("Failed to configure remote source", "error", err)
		return 1
	}
	l := ledger.New(cfg.LedgerPath())
	controller := sync.NewController(cfg.DBPath(), source, l,
		sync.WithTimeout(cfg.Remote.Timeout),
		sync.WithLogger(logger),
	)
	db, outcome, err := controller.Run(ctx)
	if err != nil {
		logger.Error("Failed to open question store", "path", cfg.DBPath(), "error", err)
		return 1
	}
	defer db.Close()

	svc := quiz.NewService(db, logger)

	// 3. Run the command
	switch command {
	case "sync":
		fmt.Fprintf(stdout, "%s: version %v (remote %v), %d inserted, %d skipped, %d rejected\n",
			outcome.Status, outcome.Version, outcome.RemoteVersion, outcome.Inserted, outcome.Skipped, outcome.Rejected)
		if outcome.Err != nil {
			fmt.Fprintf(stdout, "remote update failed (%s): %v\n", sync.FailureKind(outcome.Err), outcome.Err)
		}
	case "ask":
		ask(ctx, svc, *category, *difficulty, *language, *reveal, stdin, stdout)
	case "categories":
		cats, err := svc.Categories(ctx, *language)
		if err != nil {
			logger.Error("Failed to list categories", "error", err)
			return 1
		}
		for _, c := range cats {
			fmt.Fprintf(stdout, "%s\t%d\n", c.Category, c.Count)
		}
	case "status":
		return status(ctx, db, l, stdout, logger)
	case "serve":
		return serve(ctx, cfg.HTTP.Addr, web.NewServer(svc, db, l, outcome, logger), logger)
	}
	return 0
}

func newSource(cfg *config.Config, logger *slog.Logger) (sync.Source, error) {
	httpSource := remote.New(cfg.Remote.VersionURL, cfg.Remote.QuestionsURL)
	if cfg.Remote.GitURL == "" {
		return httpSource, nil
	}
	return gitsource.New(cfg.Remote.GitURL, cfg.ReposDir(),
		gitsource.WithRef(cfg.Remote.GitRef),
		gitsource.WithManifestPath(cfg.Remote.GitManifestPath),
		gitsource.WithDefaultDataset(cfg.Remote.QuestionsURL),
		gitsource.WithHTTPClient(httpSource),
		gitsource.WithLogger(logger),
	)
}

func ask(ctx context.Context, svc *quiz.Service, category, difficulty, language string, reveal bool, stdin io.Reader, stdout io.Writer) {
	q := svc.GetRandomQuestion(ctx, category, difficulty, language)
	if q == nil {
		fmt.Fprintln(stdout, "No question available")
		return
	}
	fmt.Fprintf(stdout, "Question: %s\n", q.Question)
	if !reveal {
		fmt.Fprint(stdout, "Press Enter to show the answer...")
		bufio.NewReader(stdin).ReadString('\n')
		fmt.Fprintln(stdout)
	}
	fmt.Fprintf(stdout, "Answer: %s\n", q.Answer)
}

func status(ctx context.Context, db *storage.DB, l *ledger.Ledger, stdout io.Writer, logger *slog.Logger) int {
	entry, err := l.Snapshot()
	if err != nil {
		logger.Error("Failed to read version ledger", "error", err)
		return 1
	}
	n, err := db.Count(ctx)
	if err != nil {
		logger.Error("Failed to count questions", "error", err)
		return 1
	}
	fmt.Fprintf(stdout, "version:   %v\n", entry.Version)
	fmt.Fprintf(stdout, "questions: %d\n", n)
	if entry.Digest != "" {
		fmt.Fprintf(stdout, "sha256:    %s\n", entry.Digest)
	}
	if !entry.UpdatedAt.IsZero() {
		fmt.Fprintf(stdout, "updated:   %s\n", entry.UpdatedAt.Format(time.RFC3339))
	}
	return 0
}

func serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) int {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving questions", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			return 1
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown failed", "error", err)
			return 1
		}
		logger.Info("Server stopped")
	}
	return 0
}
