package train

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"

	"ganflow/gan"
)

// Resources is a sample of this process's resource usage.
type Resources struct {
	RSS        uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	Threads    int32   `json:"threads"`
}

// Status is a point-in-time view of a run.
type Status struct {
	GAN        string             `json:"gan"`
	Dataset    string             `json:"dataset"`
	Running    bool               `json:"running"`
	Epoch      int                `json:"epoch"`
	Epochs     int                `json:"epochs"`
	Iteration  int                `json:"iteration"`
	DLoss      float64            `json:"D_loss"`
	GLoss      float64            `json:"G_loss"`
	Extra      map[string]float64 `json:"extra,omitempty"`
	Elapsed    float64            `json:"elapsed"`
	Resources  *Resources         `json:"resources,omitempty"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
}

// Monitor is a callback that keeps a Status and a window of recent losses
// for readers on other goroutines. It samples process resources at the end
// of every epoch and logs them.
type Monitor struct {
	base
	window int

	mu     sync.RWMutex
	status Status
	start  time.Time
	recent []gan.Losses
	proc   *process.Process
}

// NewMonitor keeps the losses of the last window iterations.
func NewMonitor(window int) *Monitor {
	if window <= 0 {
		window = 100
	}
	return &Monitor{window: window}
}

func (m *Monitor) onTrainBegin(t *Trainer) error {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		t.logger.WithError(err).Debug("train: resource sampling disabled")
		proc = nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proc = proc
	m.start = time.Now()
	m.recent = m.recent[:0]
	m.status = Status{
		GAN:     t.strategy.Name(),
		Dataset: t.cfg.Dataset,
		Epochs:  t.cfg.Epochs,
		Running: true,
	}
	return nil
}

func (m *Monitor) onEpochBegin(t *Trainer, epoch int) error {
	m.mu.Lock()
	m.status.Epoch = epoch
	m.mu.Unlock()
	return nil
}

func (m *Monitor) onIteration(t *Trainer, l gan.Losses) error {
	extra := make(map[string]float64, len(l.Extra))
	for k, v := range l.Extra {
		extra[k] = v
	}
	l.Extra = extra

	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Iteration = t.iteration
	m.status.DLoss = l.D
	m.status.GLoss = l.G
	m.status.Extra = extra
	m.status.Elapsed = time.Since(m.start).Seconds()
	if len(m.recent) == m.window {
		copy(m.recent, m.recent[1:])
		m.recent = m.recent[:m.window-1]
	}
	m.recent = append(m.recent, l)
	return nil
}

func (m *Monitor) onEpochEnd(t *Trainer, epoch int) error {
	m.mu.RLock()
	proc := m.proc
	m.mu.RUnlock()
	if proc == nil {
		return nil
	}
	r, err := sample(proc)
	if err != nil {
		t.logger.WithError(err).Debug("train: resource sample failed")
		return nil
	}
	t.logger.WithFields(logrus.Fields{
		"epoch":       epoch,
		"rss_mb":      r.RSS >> 20,
		"cpu_percent": r.CPUPercent,
		"threads":     r.Threads,
	}).Info("train: resource usage")
	m.mu.Lock()
	m.status.Resources = r
	m.mu.Unlock()
	return nil
}

func (m *Monitor) onTrainEnd(t *Trainer) error {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Running = false
	m.status.Elapsed = now.Sub(m.start).Seconds()
	m.status.FinishedAt = &now
	return nil
}

func (m *Monitor) name() string { return "monitor" }

func sample(proc *process.Process) (*Resources, error) {
	mem, err := proc.MemoryInfo()
	if err != nil {
		return nil, err
	}
	cpu, err := proc.CPUPercent()
	if err != nil {
		return nil, err
	}
	threads, err := proc.NumThreads()
	if err != nil {
		return nil, err
	}
	return &Resources{RSS: mem.RSS, CPUPercent: cpu, Threads: threads}, nil
}

// Snapshot returns a copy of the current status.
func (m *Monitor) Snapshot() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.status
	if s.Extra != nil {
		s.Extra = make(map[string]float64, len(m.status.Extra))
		for k, v := range m.status.Extra {
			s.Extra[k] = v
		}
	}
	if s.Resources != nil {
		r := *s.Resources
		s.Resources = &r
	}
	return s
}

// Recent returns up to n of the most recent losses, oldest first.
func (m *Monitor) Recent(n int) []gan.Losses {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 || n > len(m.recent) {
		n = len(m.recent)
	}
	return append([]gan.Losses(nil), m.recent[len(m.recent)-n:]...)
}

// Handler serves the monitor over HTTP:
//
//	GET /health          liveness
//	GET /status          the current Status
//	GET /losses?limit=N  the most recent losses
func (m *Monitor) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, m.Snapshot())
	})
	r.GET("/losses", func(c *gin.Context) {
		limit := 0
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			limit = n
		}
		recent := m.Recent(limit)
		out := make([]gin.H, len(recent))
		for i, l := range recent {
			out[i] = gin.H{"D_loss": l.D, "G_loss": l.G, "G_stepped": l.GStepped, "extra": l.Extra}
		}
		c.JSON(http.StatusOK, out)
	})
	return r
}

// Serve runs the monitor's handler on addr until ctx is done.
func Serve(ctx context.Context, addr string, m *Monitor, logger *logrus.Logger) error {
	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:    addr,
		Handler: m.Handler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("train: status server shutdown")
		}
	}()
	logger.WithField("addr", addr).Info("train: status server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
