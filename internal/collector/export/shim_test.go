package export

import (
	"context"
	"errors"
	"testing"

	"sampler/internal/collector/core"
)

type fakeIdemExporter struct {
	batches []Batch
	retErr  error
}

func (f *fakeIdemExporter) ExportBatch(ctx context.Context, batch Batch) error {
	cp := batch
	cp.Records = append([]RecordEntry(nil), batch.Records...)
	f.batches = append(f.batches, cp)
	return f.retErr
}

func TestIdemShim_ExportBatch_MapsCoreRecords(t *testing.T) {
	impl := &fakeIdemExporter{}
	s := NewIdemShim(impl)
	records := []core.Record{
		{App: "checkout", Name: "txn-0", ResourceID: "r1", MonitorID: "m1", JobID: "j1", Priority: 6.5, DurationMs: 12, HarvestedAt: 111},
		{App: "search", Name: "txn-1", Priority: 5, DurationMs: 3, HarvestedAt: 222},
	}
	if err := s.ExportBatch(records); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(impl.batches) != 1 {
		t.Fatalf("expected one call, got %d", len(impl.batches))
	}
	got := impl.batches[0]
	if got.BatchID == "" {
		t.Fatalf("batch id must be set")
	}
	if len(got.BatchID) != 32 {
		t.Fatalf("expected 32 hex chars, got %d: %q", len(got.BatchID), got.BatchID)
	}
	if len(got.Records) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got.Records))
	}
	e := got.Records[0]
	if e.App != "checkout" || e.Name != "txn-0" || e.ResourceID != "r1" || e.MonitorID != "m1" ||
		e.JobID != "j1" || e.Priority != 6.5 || e.DurationMs != 12 || e.HarvestedAt != 111 {
		t.Fatalf("bad map: %+v", e)
	}
	if got.Records[1].Name != "txn-1" {
		t.Fatalf("bad map: %+v", got.Records[1])
	}
}

func TestIdemShim_ExportBatch_Empty(t *testing.T) {
	impl := &fakeIdemExporter{}
	s := NewIdemShim(impl)
	if err := s.ExportBatch(nil); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(impl.batches) != 0 {
		t.Fatalf("expected no calls")
	}
}

func TestIdemShim_ExportBatch_FreshIDPerBatch(t *testing.T) {
	impl := &fakeIdemExporter{}
	s := NewIdemShim(impl)
	for i := 0; i < 2; i++ {
		if err := s.ExportBatch([]core.Record{{App: "a", Name: "n"}}); err != nil {
			t.Fatalf("unexpected: %v", err)
		}
	}
	if impl.batches[0].BatchID == impl.batches[1].BatchID {
		t.Fatalf("expected distinct batch ids, got %q twice", impl.batches[0].BatchID)
	}
}

func TestIdemShim_ExportBatch_ErrorPropagates(t *testing.T) {
	impl := &fakeIdemExporter{retErr: errors.New("x")}
	s := NewIdemShim(impl)
	err := s.ExportBatch([]core.Record{{App: "a", Name: "n"}})
	if err == nil || err.Error() != "x" {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestIdemShim_PrintFinalSummary_NoOp(t *testing.T) {
	impl := &fakeIdemExporter{}
	s := NewIdemShim(impl)
	s.PrintFinalSummary() // should not panic or do anything
}
