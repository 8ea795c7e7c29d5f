// Command coupon-ingest bulk loads coupon campaign files into PostgreSQL.
//
// Each *.gz file in the data directory is one campaign: an optional rule
// header followed by one code per line. A code listed by several campaigns is
// written once, with the rule of the campaign whose file name sorts first.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/storage/postgres"
)

type upserter interface {
	Upsert(ctx context.Context, rule coupon.Rule) error
}

type stats struct {
	written int
	skipped int
}

func main() {
	var (
		dataDir     string
		databaseURL string
		expected    uint
		workers     int
		dryRun      bool
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing campaign *.gz files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&expected, "expected-codes", 10_000_000, "expected codes per campaign, sizes the bloom filters")
	flag.IntVar(&workers, "workers", 4, "concurrent upsert workers")
	flag.BoolVar(&dryRun, "dry-run", false, "resolve duplicates and report counts without writing")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL, expected, workers, dryRun); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string, expected uint, workers int, dryRun bool) error {
	campaigns, err := findCampaigns(ctx, dataDir)
	if err != nil {
		return err
	}
	if len(campaigns) == 0 {
		slog.Info("no campaign files found", slog.String("dir", dataDir))
		return nil
	}
	slog.Info("campaigns found", slog.Int("count", len(campaigns)))

	dups, err := findDuplicates(ctx, campaigns, expected)
	if err != nil {
		return errors.Wrap(err, "find duplicates")
	}
	slog.Info("duplicate codes resolved", slog.Int("count", len(dups)))

	var store upserter = discard{}
	if !dryRun {
		pool, err := postgres.NewPool(ctx, databaseURL)
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
		store = postgres.NewCouponRepository(pool)
	}

	for i, c := range campaigns {
		st, err := writeCampaign(ctx, store, c, i, dups, workers)
		if err != nil {
			return errors.Wrapf(err, "write campaign %s", c.name)
		}
		slog.Info("campaign written",
			slog.String("campaign", c.name),
			slog.Int("written", st.written),
			slog.Int("skipped", st.skipped),
		)
	}
	return nil
}

// writeCampaign upserts the codes campaign idx owns.
func writeCampaign(ctx context.Context, store upserter, c campaign, idx int, dups owners, workers int) (stats, error) {
	var st stats

	g, gctx := errgroup.WithContext(ctx)

	codes := make(chan string)
	g.Go(func() error {
		defer close(codes)
		return streamCodes(gctx, c.path, func(code string) {
			if dups.skip(code, idx) {
				st.skipped++
				return
			}
			select {
			case codes <- code:
				st.written++
			case <-gctx.Done():
			}
		})
	})

	for range max(workers, 1) {
		g.Go(func() error {
			for code := range codes {
				rule := c.rule
				rule.Code = code
				if err := store.Upsert(gctx, rule); err != nil {
					return errors.Wrapf(err, "upsert coupon %s", code)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return stats{}, err
	}
	return st, nil
}

type discard struct{}

func (discard) Upsert(context.Context, coupon.Rule) error { return nil }
