package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/conorfennell/mentaton/internal/digest"
	"github.com/conorfennell/mentaton/internal/domain"
	"github.com/conorfennell/mentaton/internal/parser"
	"github.com/conorfennell/mentaton/internal/remote"
	"github.com/conorfennell/mentaton/internal/storage"
)

const (
	// PlaceholderVersion is recorded when an empty store is bootstrapped
	// offline, so the bootstrap does not repeat on every start.
	PlaceholderVersion = 0.1

	// DefaultTimeout bounds each remote fetch.
	DefaultTimeout = 8 * time.Second
)

// Source provides the remote manifest and dataset.
type Source interface {
	FetchManifest(ctx context.Context) (domain.Manifest, error)
	FetchDataset(ctx context.Context, location string) ([]byte, error)
}

// Ledger records the installed content version.
type Ledger interface {
	Get() (float64, error)
	Set(version float64) error
	SetApplied(version float64, digest string) error
}

// Status describes what a Run did to the local store.
type Status int

const (
	Unchanged Status = iota
	Updated
	Bootstrapped
	Recovered
)

func (s Status) String() string {
	switch s {
	case Updated:
		return "updated"
	case Bootstrapped:
		return "bootstrapped"
	case Recovered:
		return "recovered"
	default:
		return "unchanged"
	}
}

// Outcome reports the result of a Run.
type Outcome struct {
	Status        Status
	StoredVersion float64
	RemoteVersion float64
	Version       float64
	Inserted      int
	Skipped       int
	Rejected      int
	// Err is the failure that made the run fall back to local state, if any.
	Err error
}

// Controller decides on each start whether to refresh the local store from
// the remote source, and hands back a usable store either way.
type Controller struct {
	dbPath    string
	source    Source
	ledger    Ledger
	timeout   time.Duration
	logger    *slog.Logger
	storeOpts []storage.Option
}

// Option configures a Controller.
type Option func(*Controller)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithStoreOptions passes options through to storage.Open.
func WithStoreOptions(opts ...storage.Option) Option {
	return func(c *Controller) {
		c.storeOpts = append(c.storeOpts, opts...)
	}
}

// NewController returns a controller for the store at dbPath.
func NewController(dbPath string, source Source, ledger Ledger, opts ...Option) *Controller {
	c := &Controller{
		dbPath:  dbPath,
		source:  source,
		ledger:  ledger,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.storeOpts = append(c.storeOpts, storage.WithLogger(c.logger))
	return c
}

// Run executes the start-up protocol and returns an open store. Network and
// parse failures never fail the run; an error is returned only when no
// usable store could be produced at all.
func (c *Controller) Run(ctx context.Context) (*storage.DB, Outcome, error) {
	exists := storage.Exists(c.dbPath)
	stored, err := c.ledger.Get()
	if err != nil {
		c.logger.Warn("Failed to read version ledger, assuming no version", "error", err)
		stored = 0
	}

	out := Outcome{StoredVersion: stored, Version: stored}
	c.logger.Info("Checking question store", "path", c.dbPath, "exists", exists, "stored_version", stored)

	db, err := c.refresh(ctx, stored, &out)
	if err != nil {
		out.Err = err
		c.logger.Warn("Remote update failed, using local questions",
			"kind", FailureKind(err), "error", err)
	}
	if db != nil {
		return db, out, nil
	}

	if !exists && stored == 0 {
		db, _, err := c.open(ctx)
		if err != nil {
			return nil, out, err
		}
		if err := c.ledger.Set(PlaceholderVersion); err != nil {
			c.logger.Warn("Failed to record placeholder version", "error", err)
		} else {
			out.Version = PlaceholderVersion
		}
		out.Status = Bootstrapped
		c.logger.Info("Created empty question store", "path", c.dbPath, "version", out.Version)
		return db, out, nil
	}

	db, recovered, err := c.open(ctx)
	if err != nil {
		return nil, out, err
	}
	if recovered {
		c.markRecovered(&out)
		return db, out, nil
	}

	if _, err := db.Normalize(ctx); err != nil {
		c.logger.Warn("Failed to normalize question store", "error", err)
	}
	c.logger.Info("Question store is up to date", "version", out.Version)
	return db, out, nil
}

// refresh downloads and installs a newer dataset. It returns a nil store when
// nothing was installed.
func (c *Controller) refresh(ctx context.Context, stored float64, out *Outcome) (*storage.DB, error) {
	manifestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	m, err := c.source.FetchManifest(manifestCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}
	out.RemoteVersion = m.Version
	c.logger.Info("Fetched remote manifest", "remote_version", m.Version, "questions_url", m.QuestionsURL)

	if m.Version <= stored {
		return nil, nil
	}

	datasetCtx, cancel := context.WithTimeout(ctx, c.timeout)
	body, err := c.source.FetchDataset(datasetCtx, m.QuestionsURL)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch dataset: %w", err)
	}

	ds, err := parser.ParseDatasetBytes(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dataset: %w", err)
	}
	for _, r := range ds.Rejected {
		c.logger.Warn("Skipping malformed question", "index", r.Index, "reason", r.Reason)
	}
	out.Rejected = len(ds.Rejected)

	db, recovered, err := c.open(ctx)
	if err != nil {
		return nil, err
	}
	if recovered {
		c.markRecovered(out)
	}

	stats, err := db.ReplaceAll(ctx, ds.Questions)
	if err != nil {
		if recovered {
			// The recreated store is empty but valid; hand it back as is.
			return db, fmt.Errorf("failed to rebuild question store: %w", err)
		}
		db.Close()
		return nil, fmt.Errorf("failed to rebuild question store: %w", err)
	}
	out.Inserted = stats.Inserted
	out.Skipped = stats.Skipped

	if _, err := db.Normalize(ctx); err != nil {
		c.logger.Warn("Failed to normalize question store", "error", err)
	}

	sum := digest.Sum(body)
	if err := c.ledger.SetApplied(m.Version, sum); err != nil {
		c.logger.Error("Failed to record new version", "version", m.Version, "error", err)
	} else {
		out.Version = m.Version
	}
	out.Status = Updated

	c.logger.Info("Question store updated",
		"version", m.Version,
		"inserted", stats.Inserted,
		"skipped", stats.Skipped,
		"rejected", len(ds.Rejected),
		"sha256", digest.Short(sum),
	)
	return db, nil
}

// markRecovered resets the ledger after the store was recreated empty, since
// the recorded version no longer describes it.
func (c *Controller) markRecovered(out *Outcome) {
	if err := c.ledger.Set(0); err != nil {
		c.logger.Warn("Failed to reset version ledger", "error", err)
	} else {
		out.Version = 0
	}
	out.Status = Recovered
}

// open opens the store, replacing it with an empty one when the existing
// file cannot be used. The boolean reports whether that happened. A canceled
// ctx never makes a healthy store look unusable.
func (c *Controller) open(ctx context.Context) (*storage.DB, bool, error) {
	ctx = context.WithoutCancel(ctx)
	db, err := storage.Open(c.dbPath, c.storeOpts...)
	if err == nil {
		if err = db.Ping(ctx); err == nil {
			return db, false, nil
		}
		db.Close()
	}

	c.logger.Warn("Question store is unusable, recreating it", "path", c.dbPath, "error", err)
	if err := storage.Remove(c.dbPath); err != nil {
		return nil, false, err
	}
	db, err = storage.Open(c.dbPath, c.storeOpts...)
	if err != nil {
		return nil, false, fmt.Errorf("failed to recreate question store: %w", err)
	}
	return db, true, nil
}

// FailureKind classifies a sync failure for logging.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, parser.ErrMalformed):
		return "parse"
	case errors.Is(err, remote.ErrNetwork), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "network"
	default:
		return "store"
	}
}
