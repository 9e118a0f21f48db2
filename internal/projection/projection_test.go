package projection

import (
	"strings"
	"testing"
	"time"

	"github.com/lumenflow/lumenflow/internal/eventlog"
	"github.com/lumenflow/lumenflow/internal/indexer"
	"github.com/lumenflow/lumenflow/internal/wuspec"
)

func TestGenerateBacklogGroupsByStatus(t *testing.T) {
	idx := indexer.New()
	events := []eventlog.Event{
		mustEvent(t, eventlog.TypeCreate, "WU-1", eventlog.CreatePayload{Lane: "Ops", Title: "First"}),
		mustEvent(t, eventlog.TypeCreate, "WU-2", eventlog.CreatePayload{Lane: "Ops: Sub", Title: "Second"}),
		mustEvent(t, eventlog.TypeBlock, "WU-2", eventlog.BlockPayload{Reason: "waiting on deps"}),
	}
	if err := idx.Load(events); err != nil {
		t.Fatal(err)
	}
	specs := map[string]wuspec.WorkUnit{
		"WU-1": {ID: "WU-1", Title: "First", Lane: "Ops", Priority: "p1", Status: wuspec.StatusInProgress},
		"WU-2": {ID: "WU-2", Title: "Second", Lane: "Ops: Sub", Priority: "p2", Status: wuspec.StatusBlocked},
	}

	backlog, status, err := Generate(idx, specs)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(string(backlog), "lumenflow:") {
		t.Fatal("expected lumenflow front matter in backlog output")
	}
	if !strings.Contains(string(backlog), "WU-1") || !strings.Contains(string(backlog), "WU-2") {
		t.Fatalf("expected both WUs to appear in backlog:\n%s", backlog)
	}
	if !strings.Contains(string(status), "Ops: Sub") {
		t.Fatalf("expected lane heading in status output:\n%s", status)
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	idx := indexer.New()
	events := []eventlog.Event{
		mustEvent(t, eventlog.TypeCreate, "WU-1", eventlog.CreatePayload{Lane: "Ops", Title: "A"}),
	}
	if err := idx.Load(events); err != nil {
		t.Fatal(err)
	}
	specs := map[string]wuspec.WorkUnit{"WU-1": {ID: "WU-1", Title: "A", Lane: "Ops", Status: wuspec.StatusInProgress}}

	b1, s1, err := Generate(idx, specs)
	if err != nil {
		t.Fatal(err)
	}
	b2, s2, err := Generate(idx, specs)
	if err != nil {
		t.Fatal(err)
	}
	if string(b1) != string(b2) || string(s1) != string(s2) {
		t.Fatal("expected byte-for-byte deterministic output across repeated generation")
	}
}

func mustEvent(t *testing.T, typ eventlog.Type, id string, payload any) eventlog.Event {
	t.Helper()
	ev, err := eventlog.New(typ, id, time.Now(), payload)
	if err != nil {
		t.Fatal(err)
	}
	return ev
}
