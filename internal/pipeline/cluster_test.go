package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ham12-3/news-bot/internal/db"
)

// clusterRaceTxStub scripts the cascade for an item whose exact match keeps
// pointing at a cluster that closes between lookup and lock.
type clusterRaceTxStub struct {
	t *testing.T

	exactMatches []string

	exactCalls      int
	newClusterCalls int
}

func (s *clusterRaceTxStub) QueryRow(_ context.Context, query string, _ ...any) *db.Row {
	switch {
	case strings.Contains(query, "r.content_hash = $1"):
		s.exactCalls++
		if s.exactCalls > len(s.exactMatches) || s.exactMatches[s.exactCalls-1] == "" {
			return db.RowOf(rowScanFunc(func(...any) error { return db.ErrNoRows }))
		}
		match := s.exactMatches[s.exactCalls-1]
		return db.RowOf(rowScanFunc(func(dest ...any) error {
			*(dest[0].(*string)) = match
			return nil
		}))
	case strings.Contains(query, "merged_into_id"):
		return db.RowOf(rowScanFunc(func(dest ...any) error {
			*(dest[0].(*string)) = "open"
			*(dest[1].(**string)) = nil
			return nil
		}))
	case strings.Contains(query, "FOR UPDATE"):
		// The lock sees the cluster already closed by a concurrent merge.
		return db.RowOf(rowScanFunc(func(dest ...any) error {
			*(dest[0].(*string)) = "archived"
			return nil
		}))
	case strings.Contains(query, "RETURNING cluster_id"):
		s.newClusterCalls++
		return db.RowOf(rowScanFunc(func(dest ...any) error {
			*(dest[0].(*string)) = "c-new"
			return nil
		}))
	}
	s.t.Fatalf("unexpected QueryRow: %s", query)
	return nil
}

func (s *clusterRaceTxStub) Query(_ context.Context, _ string, _ ...any) (*db.Rows, error) {
	return db.RowsOf(&memberRowsStub{}), nil
}

func (s *clusterRaceTxStub) Exec(_ context.Context, _ string, _ ...any) (db.CommandTag, error) {
	return db.NewCommandTag(1), nil
}

func (s *clusterRaceTxStub) Commit(context.Context) error   { return nil }
func (s *clusterRaceTxStub) Rollback(context.Context) error { return nil }

func raceTestItem() pendingItem {
	return pendingItem{
		RawItemID:   "i-1",
		SourceID:    "s-1",
		Title:       "quantum breakthrough announced",
		ContentHash: "abc123",
		FetchedAt:   time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC),
	}
}

func TestClusterItemTx_RetriesOnceWhenClusterCloses(t *testing.T) {
	t.Parallel()

	// First lookup hits a cluster that closes before the lock; the
	// re-fetch finds no open match, so the item seeds a fresh cluster.
	tx := &clusterRaceTxStub{t: t, exactMatches: []string{"c-1", ""}}
	svc := &Service{logger: zerolog.Nop(), opts: Options{}.withDefaults()}

	decision, err := svc.clusterItemTx(context.Background(), tx, raceTestItem())
	if err != nil {
		t.Fatalf("clusterItemTx: %v", err)
	}
	if decision.kind != assignNewCluster {
		t.Fatalf("expected a new cluster after the retry, got %q", decision.kind)
	}
	if tx.exactCalls != 2 {
		t.Fatalf("expected the exact lookup to re-run once, got %d calls", tx.exactCalls)
	}
	if !decision.embedPending {
		t.Fatalf("item without a vector must be flagged embed_pending")
	}
}

func TestClusterItemTx_FatalWhenStillNotOpenAfterRetry(t *testing.T) {
	t.Parallel()

	tx := &clusterRaceTxStub{t: t, exactMatches: []string{"c-1", "c-1"}}
	svc := &Service{logger: zerolog.Nop(), opts: Options{}.withDefaults()}

	_, err := svc.clusterItemTx(context.Background(), tx, raceTestItem())
	if !errors.Is(err, ErrClusterNotOpen) {
		t.Fatalf("expected ErrClusterNotOpen after the second failed join, got %v", err)
	}
	if tx.newClusterCalls != 0 {
		t.Fatalf("a persistent join race must not fork a duplicate cluster")
	}
}
