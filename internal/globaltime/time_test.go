package globaltime

import (
	"testing"
	"time"
)

func TestFreezeAndRestore(t *testing.T) {
	pinned := time.Date(2026, 8, 27, 10, 30, 0, 0, time.FixedZone("CET", 3600))
	restore := Freeze(pinned)
	defer restore()

	got := UTC()
	if !got.Equal(pinned) {
		t.Fatalf("frozen clock = %v, want %v", got, pinned)
	}
	if got.Location() != time.UTC {
		t.Fatalf("UTC must normalize the location, got %v", got.Location())
	}

	restore()
	if UTC().Equal(pinned) {
		t.Fatalf("clock still frozen after restore")
	}
}
