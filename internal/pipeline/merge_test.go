package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Ham12-3/news-bot/internal/db"
)

type rowScanFunc func(dest ...any) error

func (f rowScanFunc) Scan(dest ...any) error { return f(dest...) }

type memberRowsStub struct {
	members []memberKey
	idx     int
}

func (r *memberRowsStub) Next() bool {
	r.idx++
	return r.idx <= len(r.members)
}

func (r *memberRowsStub) Scan(dest ...any) error {
	m := r.members[r.idx-1]
	*(dest[0].(*string)) = m.ItemID
	*(dest[1].(**time.Time)) = m.PublishedAt
	*(dest[2].(*time.Time)) = m.FetchedAt
	return nil
}

func (r *memberRowsStub) Err() error   { return nil }
func (r *memberRowsStub) Close() error { return nil }

type execCall struct {
	query string
	args  []any
}

type mergeTxStub struct {
	t       *testing.T
	heads   map[string]clusterHead
	members []memberKey
	execs   []execCall
}

func (s *mergeTxStub) QueryRow(_ context.Context, query string, args ...any) *db.Row {
	if strings.Contains(query, "FOR UPDATE OF c") {
		head, ok := s.heads[args[0].(string)]
		if !ok {
			return db.RowOf(rowScanFunc(func(...any) error { return db.ErrNoRows }))
		}
		return db.RowOf(rowScanFunc(func(dest ...any) error {
			*(dest[0].(*string)) = head.ClusterID
			*(dest[1].(*string)) = head.Status
			*(dest[2].(*string)) = head.Canonical.ItemID
			*(dest[3].(**time.Time)) = head.Canonical.PublishedAt
			*(dest[4].(*time.Time)) = head.Canonical.FetchedAt
			return nil
		}))
	}
	s.t.Fatalf("unexpected QueryRow: %s", query)
	return nil
}

func (s *mergeTxStub) Query(_ context.Context, _ string, _ ...any) (*db.Rows, error) {
	return db.RowsOf(&memberRowsStub{members: s.members}), nil
}

func (s *mergeTxStub) Exec(_ context.Context, query string, args ...any) (db.CommandTag, error) {
	s.execs = append(s.execs, execCall{query: query, args: args})
	return db.NewCommandTag(1), nil
}

func (s *mergeTxStub) Commit(context.Context) error   { return nil }
func (s *mergeTxStub) Rollback(context.Context) error { return nil }

func findExec(t *testing.T, execs []execCall, fragment string) execCall {
	t.Helper()
	for _, call := range execs {
		if strings.Contains(call.query, fragment) {
			return call
		}
	}
	t.Fatalf("no exec matching %q", fragment)
	return execCall{}
}

func TestMergeClustersTx_UnionsIntoEarliestCanonical(t *testing.T) {
	t.Parallel()

	early := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)
	late := early.Add(3 * time.Hour)

	tx := &mergeTxStub{
		t: t,
		heads: map[string]clusterHead{
			"c-1": {ClusterID: "c-1", Status: "open", Canonical: memberKey{ItemID: "i-late", PublishedAt: &late, FetchedAt: late}},
			"c-2": {ClusterID: "c-2", Status: "open", Canonical: memberKey{ItemID: "i-early", PublishedAt: &early, FetchedAt: early}},
		},
		members: []memberKey{
			{ItemID: "i-late", PublishedAt: &late, FetchedAt: late},
			{ItemID: "i-early", PublishedAt: &early, FetchedAt: early},
		},
	}

	survivor, err := mergeClustersTx(context.Background(), tx, "c-1", "c-2", late.Add(time.Hour))
	if err != nil {
		t.Fatalf("mergeClustersTx: %v", err)
	}
	if survivor != "c-2" {
		t.Fatalf("cluster with the earliest canonical must survive, got %s", survivor)
	}

	move := findExec(t, tx.execs, "SET cluster_id = $2")
	if move.args[0] != "c-1" || move.args[1] != "c-2" {
		t.Fatalf("members must move from loser to survivor, got %v", move.args)
	}

	merged := findExec(t, tx.execs, "SET status = 'merged'")
	if merged.args[0] != "c-1" || merged.args[1] != "c-2" {
		t.Fatalf("loser must be marked merged into survivor, got %v", merged.args)
	}

	canonical := findExec(t, tx.execs, "SET canonical_item_id = $2")
	if canonical.args[0] != "c-2" || canonical.args[1] != "i-early" {
		t.Fatalf("survivor canonical must be the earliest member, got %v", canonical.args)
	}
}

func TestMergeClustersTx_RejectsNonOpenCluster(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	tx := &mergeTxStub{
		t: t,
		heads: map[string]clusterHead{
			"c-1": {ClusterID: "c-1", Status: "merged", Canonical: memberKey{ItemID: "i-1", FetchedAt: now}},
			"c-2": {ClusterID: "c-2", Status: "open", Canonical: memberKey{ItemID: "i-2", FetchedAt: now}},
		},
	}

	if _, err := mergeClustersTx(context.Background(), tx, "c-1", "c-2", now); !errors.Is(err, ErrClusterNotOpen) {
		t.Fatalf("expected ErrClusterNotOpen, got %v", err)
	}
	if len(tx.execs) != 0 {
		t.Fatalf("no writes expected after a non-open head, got %d", len(tx.execs))
	}
}
