package summary

import (
	"context"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/rs/zerolog"
)

const (
	DateLayout = "2006-01-02"

	// DefaultWindowDays is how far back a report reaches when no dates are given.
	DefaultWindowDays = 7
)

// Range is an inclusive [Start, End] interval over orders.created_at.
type Range struct {
	Start time.Time
	End   time.Time
}

// Source reads the rows a report is folded from. Both result sets must come
// from the same snapshot and cover exactly the orders in r.
type Source interface {
	SalesFacts(ctx context.Context, r Range) ([]OrderFact, []ItemTally, error)
}

// Cache stores finished reports. Get returns the generation it looked under;
// Put must store under that generation so a concurrent invalidation wins.
type Cache interface {
	Get(ctx context.Context, r Range) (*Report, int64, error)
	Put(ctx context.Context, r Range, generation int64, rep *Report) error
}

type Engine struct {
	Source   Source
	Cache    Cache // optional
	Location *time.Location
	Timeout  time.Duration
	Now      func() time.Time
}

// Summarize parses the optional YYYY-MM-DD bounds and builds the report.
func (e *Engine) Summarize(ctx context.Context, startDate, endDate string) (*Report, Range, error) {
	r, err := ParseRange(startDate, endDate, e.now(), e.location())
	if err != nil {
		return nil, Range{}, err
	}
	rep, err := e.Report(ctx, r)
	return rep, r, err
}

// Report aggregates the orders created within r. An empty window yields a
// zero-valued report, not an error.
func (e *Engine) Report(ctx context.Context, r Range) (*Report, error) {
	log := zerolog.Ctx(ctx)

	var generation int64
	if e.Cache != nil {
		rep, gen, err := e.Cache.Get(ctx, r)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("summary cache read failed")
		case rep != nil:
			return rep, nil
		}
		generation = gen
	}

	tctx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	facts, tallies, err := e.Source.SalesFacts(tctx, r)
	if err != nil {
		return nil, &orders.Error{Kind: orders.KindPersistence, Message: "read sales failed", Err: err}
	}
	rep := Fold(facts, tallies)

	if e.Cache != nil {
		if err := e.Cache.Put(ctx, r, generation, rep); err != nil {
			log.Warn().Err(err).Msg("summary cache write failed")
		}
	}
	return rep, nil
}

// ParseRange applies the both-or-neither rule and normalizes the bounds to
// start and end of day in loc.
func ParseRange(startDate, endDate string, now time.Time, loc *time.Location) (Range, error) {
	if loc == nil {
		loc = time.UTC
	}
	if (startDate == "") != (endDate == "") {
		return Range{}, orders.Validation("both start_date and end_date are required", map[string]string{
			"date": "provide both start_date and end_date, or neither",
		})
	}
	if startDate == "" {
		start, _ := orders.DayBounds(now.AddDate(0, 0, -DefaultWindowDays), loc)
		_, end := orders.DayBounds(now, loc)
		return Range{Start: start, End: end}, nil
	}

	fields := map[string]string{}
	s, err := time.ParseInLocation(DateLayout, startDate, loc)
	if err != nil {
		fields["start_date"] = "start_date must be formatted as YYYY-MM-DD"
	}
	en, err := time.ParseInLocation(DateLayout, endDate, loc)
	if err != nil {
		fields["end_date"] = "end_date must be formatted as YYYY-MM-DD"
	}
	if len(fields) > 0 {
		return Range{}, orders.Validation("invalid date range", fields)
	}
	if s.After(en) {
		return Range{}, orders.Validation("invalid date range", map[string]string{
			"start_date": "start_date must not be after end_date",
		})
	}

	start, _ := orders.DayBounds(s, loc)
	_, end := orders.DayBounds(en, loc)
	return Range{Start: start, End: end}, nil
}

func (e *Engine) location() *time.Location {
	if e.Location != nil {
		return e.Location
	}
	return time.UTC
}

func (e *Engine) timeout() time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	return orders.DefaultTimeout
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}
