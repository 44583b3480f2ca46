package briefing

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ham12-3/news-bot/internal/db"
)

type rowScanFunc func(dest ...any) error

func (f rowScanFunc) Scan(dest ...any) error { return f(dest...) }

type emptyRows struct{}

func (emptyRows) Next() bool        { return false }
func (emptyRows) Scan(...any) error { return db.ErrNoRows }
func (emptyRows) Err() error        { return nil }
func (emptyRows) Close() error      { return nil }

type stubBriefingTx struct {
	t        *testing.T
	existing *Result
	nextID   string

	selectCalls int
	insertCalls int
	itemInserts int
	committed   bool
}

func (s *stubBriefingTx) QueryRow(_ context.Context, query string, _ ...any) *db.Row {
	switch {
	case strings.Contains(query, "INSERT INTO news.briefings"):
		s.insertCalls++
		return db.RowOf(rowScanFunc(func(dest ...any) error {
			*(dest[0].(*string)) = s.nextID
			return nil
		}))
	case strings.Contains(query, "FROM news.briefings"):
		s.selectCalls++
		if s.existing == nil {
			return db.RowOf(rowScanFunc(func(...any) error { return db.ErrNoRows }))
		}
		existing := *s.existing
		return db.RowOf(rowScanFunc(func(dest ...any) error {
			*(dest[0].(*string)) = existing.BriefingID
			*(dest[1].(*string)) = existing.Scope
			*(dest[2].(*time.Time)) = existing.PeriodStart
			*(dest[3].(*time.Time)) = existing.PeriodEnd
			*(dest[4].(*int)) = existing.ItemCount
			return nil
		}))
	}
	s.t.Fatalf("unexpected QueryRow: %s", query)
	return nil
}

func (s *stubBriefingTx) Query(_ context.Context, _ string, _ ...any) (*db.Rows, error) {
	return db.RowsOf(emptyRows{}), nil
}

func (s *stubBriefingTx) Exec(_ context.Context, query string, _ ...any) (db.CommandTag, error) {
	if strings.Contains(query, "news.briefing_items") {
		s.itemInserts++
	}
	return db.NewCommandTag(1), nil
}

func (s *stubBriefingTx) Commit(context.Context) error   { s.committed = true; return nil }
func (s *stubBriefingTx) Rollback(context.Context) error { return nil }

type stubBriefingPool struct {
	tx db.Tx
}

func (p stubBriefingPool) BeginTx(context.Context, db.TxOptions) (db.Tx, error) {
	return p.tx, nil
}

func newStubService(tx db.Tx) *Service {
	return &Service{
		pool:   stubBriefingPool{tx: tx},
		logger: zerolog.Nop(),
		opts:   Options{}.withDefaults(),
	}
}

func TestGenerate_SameDayReturnsExistingUntouched(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	existing := Result{
		BriefingID:  "b-1",
		Scope:       ScopeGlobal,
		PeriodStart: day,
		PeriodEnd:   day.Add(24 * time.Hour),
		ItemCount:   4,
	}
	tx := &stubBriefingTx{t: t, existing: &existing}
	svc := newStubService(tx)

	res, err := svc.Generate(context.Background(), "global", day.Add(9*time.Hour), false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Generated {
		t.Fatalf("second same-day call must not regenerate")
	}
	if res.BriefingID != "b-1" || res.ItemCount != 4 {
		t.Fatalf("expected the existing briefing back untouched, got %+v", res)
	}
	if tx.insertCalls != 0 || tx.itemInserts != 0 {
		t.Fatalf("no-op path must not insert, got %d briefings %d items", tx.insertCalls, tx.itemInserts)
	}
	if tx.committed {
		t.Fatalf("no-op path must not commit")
	}
}

func TestGenerate_ForceSkipsSameDayLookup(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	existing := Result{BriefingID: "b-1", Scope: ScopeGlobal, PeriodStart: day, PeriodEnd: day.Add(24 * time.Hour)}
	tx := &stubBriefingTx{t: t, existing: &existing, nextID: "b-2"}
	svc := newStubService(tx)

	res, err := svc.Generate(context.Background(), "global", day, true)
	if err != nil {
		t.Fatalf("Generate force: %v", err)
	}
	if !res.Generated {
		t.Fatalf("force must generate a fresh briefing")
	}
	if res.BriefingID != "b-2" {
		t.Fatalf("expected new briefing id b-2, got %s", res.BriefingID)
	}
	if tx.selectCalls != 0 {
		t.Fatalf("force must skip the same-day lookup, got %d", tx.selectCalls)
	}
	if !tx.committed {
		t.Fatalf("generated briefing must commit")
	}
}

func TestGenerate_RejectsMalformedScope(t *testing.T) {
	t.Parallel()

	tx := &stubBriefingTx{t: t}
	svc := newStubService(tx)

	if _, err := svc.Generate(context.Background(), "team:42", time.Now(), false); err == nil {
		t.Fatalf("expected scope error")
	}
}
