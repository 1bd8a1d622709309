package banlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"itemward.dev/internal/ban/engine"
)

func TestWriteReadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	ts := time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC)
	recs := []engine.Record{
		{Time: ts, PlayerID: "u1", Player: "alex", World: "arena", ItemType: "STONE", Action: "BREAK", Source: engine.SourceBlacklist},
		{Time: ts.Add(time.Minute), World: "arena", ItemType: "TNT", Action: "DISPENSE", Source: engine.SourceBlacklist},
	}
	for _, r := range recs {
		if err := w.Write(r); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	path := filepath.Join(dir, "bans-2026-03-01-14.jsonl.zst")
	got, err := ReadAll(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records", len(got))
	}
	if got[0].Player != "alex" || got[0].Action != "BREAK" {
		t.Fatalf("record 0: %+v", got[0])
	}
	if got[1].PlayerID != "" || got[1].ItemType != "TNT" {
		t.Fatalf("record 1: %+v", got[1])
	}
}

func TestHourRotation(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	ts := time.Date(2026, 3, 1, 14, 59, 0, 0, time.UTC)
	if err := w.Write(engine.Record{Time: ts, World: "arena", ItemType: "STONE", Action: "BREAK", Source: engine.SourceBlacklist}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Write(engine.Record{Time: ts.Add(2 * time.Minute), World: "arena", ItemType: "STONE", Action: "BREAK", Source: engine.SourceBlacklist}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	for _, hour := range []string{"2026-03-01-14", "2026-03-01-15"} {
		if _, err := os.Stat(filepath.Join(dir, "bans-"+hour+".jsonl.zst")); err != nil {
			t.Fatalf("missing file for hour %s: %v", hour, err)
		}
	}
}

func TestHourOf(t *testing.T) {
	loc := time.FixedZone("plus2", 2*3600)
	ts := time.Date(2026, 3, 1, 1, 0, 0, 0, loc)
	if got := HourOf(ts); got != "2026-02-28-23" {
		t.Fatalf("HourOf = %q", got)
	}
}
