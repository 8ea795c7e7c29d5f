package main

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
)

const (
	minCodeLen = 4
	maxCodeLen = 16
	headerMark = "#rule"
)

// campaign is one gzip file of coupon codes sharing a discount rule. The
// first line may be a rule header:
//
//	#rule discount_type=percentage value=15 min_items=2 max_uses=1 valid_until=2026-12-31 description=Spring sale
//
// description must be the last key. Every other line is one code.
type campaign struct {
	name string
	path string
	rule coupon.Rule
}

func defaultRule() coupon.Rule {
	return coupon.Rule{
		DiscountType: coupon.DiscountPercentage,
		Value:        decimal.NewFromInt(10),
		Active:       true,
	}
}

// findCampaigns lists the *.gz files of dir sorted by name. Earlier files own
// codes repeated in later ones.
func findCampaigns(ctx context.Context, dir string) ([]campaign, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.gz"))
	if err != nil {
		return nil, errors.Wrap(err, "list campaign files")
	}
	sort.Strings(paths)

	campaigns := make([]campaign, 0, len(paths))
	for _, p := range paths {
		c := campaign{
			name: strings.TrimSuffix(filepath.Base(p), ".gz"),
			path: p,
			rule: defaultRule(),
		}
		header, err := readHeader(ctx, p)
		if err != nil {
			return nil, err
		}
		if header != "" {
			if c.rule, err = parseRule(header); err != nil {
				return nil, errors.Wrapf(err, "campaign %s", c.name)
			}
		}
		if c.rule.Description == "" {
			c.rule.Description = "Campaign " + c.name
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, nil
}

func readHeader(ctx context.Context, path string) (string, error) {
	var header string
	err := streamLines(ctx, path, func(line string) bool {
		if strings.HasPrefix(line, headerMark) {
			header = strings.TrimSpace(strings.TrimPrefix(line, headerMark))
		}
		return false
	})
	return header, err
}

// parseRule parses the key=value pairs of a rule header.
func parseRule(header string) (coupon.Rule, error) {
	rule := defaultRule()

	if i := strings.Index(header, "description="); i >= 0 {
		rule.Description = strings.TrimSpace(header[i+len("description="):])
		header = header[:i]
	}

	for _, field := range strings.Fields(header) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			return coupon.Rule{}, errors.Errorf("malformed field %q", field)
		}

		var err error
		switch key {
		case "discount_type":
			rule.DiscountType = coupon.DiscountType(strings.ToLower(value))
			switch rule.DiscountType {
			case coupon.DiscountPercentage, coupon.DiscountFixed, coupon.DiscountFreeLowest:
			default:
				err = errors.Errorf("unknown discount type %q", value)
			}
		case "value":
			rule.Value, err = decimal.NewFromString(value)
		case "max_discount":
			rule.MaxDiscount, err = decimal.NewFromString(value)
		case "min_items":
			rule.MinItems, err = strconv.Atoi(value)
		case "max_uses":
			rule.MaxUses, err = strconv.Atoi(value)
		case "valid_from", "valid_until":
			var t time.Time
			if t, err = time.Parse(time.DateOnly, value); err == nil {
				if key == "valid_from" {
					rule.ValidFrom = &t
				} else {
					end := t.Add(24*time.Hour - time.Nanosecond)
					rule.ValidUntil = &end
				}
			}
		default:
			err = errors.Errorf("unknown key %q", key)
		}
		if err != nil {
			return coupon.Rule{}, errors.Wrapf(err, "field %s", key)
		}
	}
	return rule, nil
}

// normalizeCode upper-cases a code line and reports whether it is a valid
// code: 4 to 16 ASCII letters or digits.
func normalizeCode(line string) (string, bool) {
	code := strings.ToUpper(strings.TrimSpace(line))
	if len(code) < minCodeLen || len(code) > maxCodeLen || strings.HasPrefix(code, "#") {
		return "", false
	}
	for _, c := range []byte(code) {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return "", false
		}
	}
	return code, true
}

// streamCodes calls fn for every valid code of a campaign file.
func streamCodes(ctx context.Context, path string, fn func(code string)) error {
	return streamLines(ctx, path, func(line string) bool {
		if code, ok := normalizeCode(line); ok {
			fn(code)
		}
		return true
	})
}

// streamLines calls fn for each line of a gzip file until fn returns false.
func streamLines(ctx context.Context, path string, fn func(line string) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(scanner.Text()) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
