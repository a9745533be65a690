// Package budget is a thin domain layer over the store's budget_tracking
// rows: it derives the canonical period key for "now", upserts spend, and
// fires each warning threshold at most once per period.
package budget

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ShayCichocki/coordex/internal/coordexerr"
	"github.com/ShayCichocki/coordex/internal/store"
	"github.com/ShayCichocki/coordex/pkg/models"
)

// WarningThresholds are the spend-fraction-of-limit points a Tracker fires
// a warning at, each at most once per period.
var WarningThresholds = []float64{0.5, 0.8, 1.0}

// Warning is emitted when recording spend crosses a threshold that hasn't
// already fired for its period.
type Warning struct {
	Period       models.BudgetPeriodKind
	PeriodStart  string
	Spent        string // humanized, e.g. "$12.34"
	Limit        string
	FractionUsed float64
}

// Tracker wraps store's budget CRUD with threshold-crossing-fires-once
// semantics, keyed per (period, periodStart).
type Tracker struct {
	db  *store.DB
	log *slog.Logger

	mu   sync.Mutex
	hits map[string]map[float64]bool // key(period,periodStart) -> threshold -> fired
}

// New builds a Tracker.
func New(db *store.DB, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{db: db, log: log, hits: make(map[string]map[float64]bool)}
}

// PeriodStart returns the canonical ISO period-start string for t under
// kind: today for daily, the Monday of this ISO week for weekly, the first
// of this month for monthly.
func PeriodStart(kind models.BudgetPeriodKind, t time.Time) (string, error) {
	t = t.UTC()
	switch kind {
	case models.PeriodDaily:
		return t.Format("2006-01-02"), nil
	case models.PeriodWeekly:
		weekday := int(t.Weekday())
		if weekday == 0 { // Sunday
			weekday = 7
		}
		monday := t.AddDate(0, 0, -(weekday - 1))
		return monday.Format("2006-01-02"), nil
	case models.PeriodMonthly:
		firstOfMonth := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		return firstOfMonth.Format("2006-01-02"), nil
	default:
		return "", coordexerr.Validation("unknown budget period kind %q", kind)
	}
}

func periodKey(kind models.BudgetPeriodKind, periodStart string) string {
	return string(kind) + ":" + periodStart
}

// RecordCost upserts amount into the current period's accumulator and
// returns a Warning if recording this amount crossed a threshold that
// hasn't already fired this period. Negative amounts are rejected.
func (t *Tracker) RecordCost(ctx context.Context, amount float64, kind models.BudgetPeriodKind, budgetLimit float64) (*Warning, error) {
	if amount < 0 {
		return nil, coordexerr.Validation("cost amount must be non-negative, got %v", amount)
	}

	periodStart, err := PeriodStart(kind, store.Now())
	if err != nil {
		return nil, err
	}

	var period *models.BudgetPeriod
	txErr := t.db.Transaction(ctx, func(tx *sql.Tx) error {
		p, err := store.UpsertBudgetSpend(ctx, tx, kind, periodStart, budgetLimit, amount)
		if err != nil {
			return err
		}
		period = p
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	if period.BudgetLimit <= 0 {
		return nil, nil
	}
	fraction := period.Spent / period.BudgetLimit

	key := periodKey(kind, periodStart)
	t.mu.Lock()
	defer t.mu.Unlock()
	hits, ok := t.hits[key]
	if !ok {
		hits = make(map[float64]bool)
		t.hits[key] = hits
	}

	var fired float64 = -1
	for _, threshold := range WarningThresholds {
		if fraction >= threshold && !hits[threshold] {
			hits[threshold] = true
			fired = threshold
		}
	}
	if fired < 0 {
		return nil, nil
	}

	return &Warning{
		Period:       kind,
		PeriodStart:  periodStart,
		Spent:        humanize.FormatFloat("$#,###.##", period.Spent),
		Limit:        humanize.FormatFloat("$#,###.##", period.BudgetLimit),
		FractionUsed: fraction,
	}, nil
}

// Status returns the current accumulator row for (kind, now), or nil if no
// spend has been recorded this period yet.
func (t *Tracker) Status(ctx context.Context, kind models.BudgetPeriodKind) (*models.BudgetPeriod, error) {
	periodStart, err := PeriodStart(kind, store.Now())
	if err != nil {
		return nil, err
	}

	var period *models.BudgetPeriod
	txErr := t.db.Transaction(ctx, func(tx *sql.Tx) error {
		p, err := store.GetBudgetPeriod(ctx, tx, kind, periodStart)
		if err != nil {
			return err
		}
		period = p
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return period, nil
}

// Summary renders a human-readable one-line summary of a period row.
func Summary(p *models.BudgetPeriod) string {
	if p == nil {
		return "no spend recorded"
	}
	return fmt.Sprintf("%s %s: spent %s of %s", p.Period, p.PeriodStart,
		humanize.FormatFloat("$#,###.##", p.Spent), humanize.FormatFloat("$#,###.##", p.BudgetLimit))
}
