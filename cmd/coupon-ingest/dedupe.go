package main

import (
	"context"
	"log/slog"
	"math/bits"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"
)

const (
	filterFPR     = 0.001
	progressEvery = 1_000_000
	// maxCampaigns bounds the per-code campaign bitmask.
	maxCampaigns = 64
)

// owners maps every code that occurs in more than one campaign to the index
// of the first campaign holding it.
type owners map[string]int

// skip reports whether campaign idx must not write code.
func (o owners) skip(code string, idx int) bool {
	owner, dup := o[code]
	return dup && owner != idx
}

// findDuplicates resolves codes shared across campaigns in two concurrent
// passes. Pass one builds a bloom filter per campaign. Pass two streams each
// campaign again and records the codes that hit another campaign's filter.
// Only codes reported by two or more campaigns are kept, which drops filter
// false positives.
func findDuplicates(ctx context.Context, campaigns []campaign, expected uint) (owners, error) {
	if len(campaigns) > maxCampaigns {
		return nil, errors.Errorf("too many campaign files: %d > %d", len(campaigns), maxCampaigns)
	}
	if len(campaigns) < 2 {
		return owners{}, nil
	}

	filters := make([]*bloom.BloomFilter, len(campaigns))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range campaigns {
		g.Go(func() error {
			f := bloom.NewWithEstimates(expected, filterFPR)
			n := 0
			if err := streamCodes(gctx, c.path, func(code string) {
				f.AddString(code)
				n++
				if n%progressEvery == 0 {
					slog.Info("filter progress", slog.String("campaign", c.name), slog.Int("codes", n))
				}
			}); err != nil {
				return errors.Wrapf(err, "build filter for %s", c.name)
			}
			slog.Info("filter built", slog.String("campaign", c.name), slog.Int("codes", n))
			filters[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	found := make([]map[string]uint64, len(campaigns))
	g, gctx = errgroup.WithContext(ctx)
	for i, c := range campaigns {
		g.Go(func() error {
			candidates := make(map[string]uint64)
			bit := uint64(1) << uint(i)
			if err := streamCodes(gctx, c.path, func(code string) {
				for j, f := range filters {
					if j != i && f.TestString(code) {
						candidates[code] |= bit
						return
					}
				}
			}); err != nil {
				return errors.Wrapf(err, "scan %s for duplicates", c.name)
			}
			found[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint64)
	for _, candidates := range found {
		for code, mask := range candidates {
			merged[code] |= mask
		}
	}

	dups := make(owners)
	for code, mask := range merged {
		if bits.OnesCount64(mask) >= 2 {
			dups[code] = bits.TrailingZeros64(mask)
		}
	}
	return dups, nil
}
