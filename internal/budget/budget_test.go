package budget

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/coordex/internal/store"
	"github.com/ShayCichocki/coordex/pkg/models"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	db, err := store.Open(context.Background(), ":memory:", nil)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, nil)
}

func TestPeriodStartDaily(t *testing.T) {
	ts := time.Date(2026, 7, 31, 15, 0, 0, 0, time.UTC)
	got, err := PeriodStart(models.PeriodDaily, ts)
	if err != nil {
		t.Fatalf("PeriodStart() error = %v", err)
	}
	if got != "2026-07-31" {
		t.Errorf("PeriodStart(daily) = %q, want 2026-07-31", got)
	}
}

func TestPeriodStartWeeklyMondayAnchor(t *testing.T) {
	// 2026-07-31 is a Friday; the ISO week's Monday is 2026-07-27.
	ts := time.Date(2026, 7, 31, 15, 0, 0, 0, time.UTC)
	got, err := PeriodStart(models.PeriodWeekly, ts)
	if err != nil {
		t.Fatalf("PeriodStart() error = %v", err)
	}
	if got != "2026-07-27" {
		t.Errorf("PeriodStart(weekly) = %q, want 2026-07-27", got)
	}
}

func TestPeriodStartWeeklySunday(t *testing.T) {
	// 2026-08-02 is a Sunday; belongs to the week starting 2026-07-27.
	ts := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)
	got, err := PeriodStart(models.PeriodWeekly, ts)
	if err != nil {
		t.Fatalf("PeriodStart() error = %v", err)
	}
	if got != "2026-07-27" {
		t.Errorf("PeriodStart(sunday) = %q, want 2026-07-27", got)
	}
}

func TestPeriodStartMonthly(t *testing.T) {
	ts := time.Date(2026, 7, 31, 15, 0, 0, 0, time.UTC)
	got, err := PeriodStart(models.PeriodMonthly, ts)
	if err != nil {
		t.Fatalf("PeriodStart() error = %v", err)
	}
	if got != "2026-07-01" {
		t.Errorf("PeriodStart(monthly) = %q, want 2026-07-01", got)
	}
}

func TestPeriodStartUnknownKind(t *testing.T) {
	_, err := PeriodStart("bogus", time.Now())
	if err == nil {
		t.Fatal("expected an error for an unknown period kind")
	}
}

func TestRecordCostRejectsNegative(t *testing.T) {
	tr := newTestTracker(t)
	_, err := tr.RecordCost(context.Background(), -1, models.PeriodDaily, 100)
	if err == nil {
		t.Fatal("expected an error for a negative cost amount")
	}
}

func TestRecordCostNoLimitNoWarning(t *testing.T) {
	tr := newTestTracker(t)
	warning, err := tr.RecordCost(context.Background(), 50, models.PeriodDaily, 0)
	if err != nil {
		t.Fatalf("RecordCost() error = %v", err)
	}
	if warning != nil {
		t.Errorf("expected no warning when budgetLimit is 0, got %+v", warning)
	}
}

func TestRecordCostFiresThresholdOnce(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	// 60 of 100 crosses the 0.5 threshold.
	w, err := tr.RecordCost(ctx, 60, models.PeriodDaily, 100)
	if err != nil {
		t.Fatalf("RecordCost() error = %v", err)
	}
	if w == nil || w.FractionUsed < 0.5 {
		t.Fatalf("expected a 0.5 threshold warning, got %+v", w)
	}

	// Another small amount that stays under 0.8 should not re-fire 0.5.
	w, err = tr.RecordCost(ctx, 1, models.PeriodDaily, 100)
	if err != nil {
		t.Fatalf("RecordCost() error = %v", err)
	}
	if w != nil {
		t.Errorf("expected no warning for a repeat within the same threshold band, got %+v", w)
	}
}

func TestRecordCostFiresHigherThreshold(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	if _, err := tr.RecordCost(ctx, 60, models.PeriodDaily, 100); err != nil {
		t.Fatalf("RecordCost() error = %v", err)
	}

	w, err := tr.RecordCost(ctx, 25, models.PeriodDaily, 100) // 85/100 crosses 0.8
	if err != nil {
		t.Fatalf("RecordCost() error = %v", err)
	}
	if w == nil || w.FractionUsed < 0.8 {
		t.Fatalf("expected a 0.8 threshold warning, got %+v", w)
	}
}

func TestStatusReflectsRecordedCost(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	if _, err := tr.RecordCost(ctx, 42, models.PeriodDaily, 100); err != nil {
		t.Fatalf("RecordCost() error = %v", err)
	}

	period, err := tr.Status(ctx, models.PeriodDaily)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if period == nil {
		t.Fatal("expected a non-nil period after recording cost")
	}
	if period.Spent != 42 {
		t.Errorf("Spent = %v, want 42", period.Spent)
	}
}

func TestStatusNilWhenNoSpend(t *testing.T) {
	tr := newTestTracker(t)
	period, err := tr.Status(context.Background(), models.PeriodWeekly)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if period != nil {
		t.Errorf("expected nil period for an untouched budget, got %+v", period)
	}
}

func TestSummaryNilPeriod(t *testing.T) {
	if got := Summary(nil); got != "no spend recorded" {
		t.Errorf("Summary(nil) = %q", got)
	}
}

func TestSummaryFormatsSpendAndLimit(t *testing.T) {
	p := &models.BudgetPeriod{
		Period:      models.PeriodDaily,
		PeriodStart: "2026-07-31",
		Spent:       12.5,
		BudgetLimit: 100,
	}
	summary := Summary(p)
	if !strings.Contains(summary, "2026-07-31") {
		t.Errorf("Summary() = %q, missing period start", summary)
	}
	if !strings.Contains(summary, "$12.5") {
		t.Errorf("Summary() = %q, missing formatted spend", summary)
	}
}
