package train

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMonitorTracksRun(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t, 2)
	m := NewMonitor(3)
	tr, err := New(f.cfg, f.strategy, f.loader, f.logger, m)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Train(context.Background()); err != nil {
		t.Fatal(err)
	}

	s := m.Snapshot()
	if s.Running || s.FinishedAt == nil {
		t.Fatalf("run should be finished: %+v", s)
	}
	if s.GAN != "GAN" || s.Dataset != "synthetic" || s.Epoch != 2 || s.Epochs != 2 || s.Iteration != 4 {
		t.Fatalf("unexpected status %+v", s)
	}
	if got := m.Recent(0); len(got) != 3 {
		t.Fatalf("window should hold 3 losses, got %d", len(got))
	}
	if got := m.Recent(1); len(got) != 1 || got[0].D != s.DLoss {
		t.Fatalf("latest loss mismatch: %+v vs %g", got, s.DLoss)
	}

	h := m.Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code %d", rec.Code)
	}
	var got Status
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Iteration != 4 || got.GAN != "GAN" {
		t.Fatalf("served status %+v", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/losses?limit=2", nil))
	var losses []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &losses); err != nil {
		t.Fatal(err)
	}
	if len(losses) != 2 {
		t.Fatalf("expected 2 losses, got %d", len(losses))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/losses?limit=x", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit should be rejected, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health code %d", rec.Code)
	}
}
