package dispatch

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

type fakeRecord struct{ name string }

func (f fakeRecord) RecordType() string { return "fake" }

func TestRecorder_KeepsOrder(t *testing.T) {
	rec := NewRecorder()
	rec.Dispatch([]Record{fakeRecord{"a"}, fakeRecord{"b"}})
	rec.Dispatch([]Record{fakeRecord{"c"}})

	got := rec.Records()
	if len(got) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(got))
	}
	for i, want := range []string{"a", "b", "c"} {
		if got[i].(fakeRecord).name != want {
			t.Errorf("Record %d: got %s, want %s", i, got[i].(fakeRecord).name, want)
		}
	}

	select {
	case <-rec.Notify():
	default:
		t.Error("Expected a notification after Dispatch")
	}
}

func TestMulti_FansOut(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	var calls int
	m := Multi{a, b, Func(func(records []Record) { calls += len(records) })}

	m.Dispatch([]Record{fakeRecord{"x"}})

	if a.Len() != 1 || b.Len() != 1 || calls != 1 {
		t.Errorf("Expected every dispatcher to receive the record, got %d %d %d", a.Len(), b.Len(), calls)
	}
}

func TestLogDispatcher(t *testing.T) {
	var buf bytes.Buffer
	d := NewLogDispatcher(slog.New(slog.NewTextHandler(&buf, nil)))
	d.Dispatch([]Record{fakeRecord{"x"}})

	out := buf.String()
	if !strings.Contains(out, "hit dispatched") || !strings.Contains(out, "type=fake") {
		t.Errorf("Unexpected log output: %s", out)
	}
}
