package log

import (
	"path/filepath"
	"testing"

	"rideloop/internal/protocol"
	"rideloop/internal/sim/ride"
)

func TestTickLogger_WriteReadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	l := NewTickLogger(dir)

	entries := []ride.TickLogEntry{
		{Tick: 0, Mode: "NORMAL", Digest: "d0"},
		{Tick: 1, Mode: "NORMAL", Digest: "d1",
			Commands: []ride.Command{{ReqID: "c1", Kind: ride.CmdStart}},
			Events: []protocol.Event{
				{"t": float64(1), "type": protocol.EvTrainDispatched, "run_id": "R1", "vehicle": "V1"},
			}},
		{Tick: 2, Mode: "EMERGENCY", Digest: "d2"},
	}
	for _, e := range entries {
		if err := l.WriteTick(e); err != nil {
			t.Fatalf("write tick %d: %v", e.Tick, err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "ticks", "ticks-*.jsonl.zst"))
	if err != nil || len(files) != 1 {
		t.Fatalf("tick log files: %v (%v)", files, err)
	}

	got, err := ReadTicks(files[0])
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("entries: got %d want %d", len(got), len(entries))
	}
	for i, e := range entries {
		g := got[i]
		if g.Tick != e.Tick || g.Mode != e.Mode || g.Digest != e.Digest {
			t.Fatalf("entry %d: got %+v want %+v", i, g, e)
		}
	}
	if got[1].Commands[0].Kind != ride.CmdStart {
		t.Fatalf("command lost in roundtrip: %+v", got[1].Commands)
	}
	if got[1].Events[0]["run_id"] != "R1" {
		t.Fatalf("event lost in roundtrip: %+v", got[1].Events)
	}
}

func TestJSONLZstdWriter_CloseWithoutWrites(t *testing.T) {
	w := NewJSONLZstdWriter(t.TempDir(), "idle")
	if err := w.Close(); err != nil {
		t.Fatalf("close idle writer: %v", err)
	}
}
