package train

import (
	"context"
	"path/filepath"
	"testing"

	"ganflow/flow"
)

func TestLedgerRecordsRuns(t *testing.T) {
	f := newFixture(t, 2)
	l, err := OpenLedger(filepath.Join(t.TempDir(), "runs.sqlite3"))
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	if err := l.RecordScore(1); !flow.IsKind(err, flow.KindConfig) {
		t.Fatalf("score before a run should be a config error, got %v", err)
	}

	tr, err := New(f.cfg, f.strategy, f.loader, f.logger, l)
	if err != nil {
		t.Fatal(err)
	}
	h, err := tr.Train(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := l.RecordScore(12.5); err != nil {
		t.Fatal(err)
	}

	runs, err := l.Runs("GAN", "synthetic")
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	r := runs[0]
	if r.ID != l.RunID() || r.Epochs != 2 || r.BatchSize != 32 || r.Iterations != 4 {
		t.Fatalf("unexpected run %+v", r)
	}
	if !r.Finished.Valid || !r.FID.Valid || r.FID.Float64 != 12.5 {
		t.Fatalf("run not finalised: %+v", r)
	}
	if len(r.EpochLosses) != 2 {
		t.Fatalf("expected 2 epoch rows, got %d", len(r.EpochLosses))
	}
	if r.EpochLosses[1][0] != h.DLoss[3] || r.EpochLosses[1][1] != h.GLoss[3] {
		t.Fatalf("epoch losses %v do not match history", r.EpochLosses[1])
	}

	if other, err := l.Runs("WGAN", "synthetic"); err != nil || len(other) != 0 {
		t.Fatalf("unexpected runs for WGAN: %v, %v", other, err)
	}
}
