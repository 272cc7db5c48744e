package train

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"ganflow/flow"
)

// Run is one row of the ledger's run table.
type Run struct {
	ID         int64
	GAN        string
	Dataset    string
	Epochs     int
	BatchSize  int
	Started    float64
	Finished   sql.NullFloat64
	Iterations int
	FID        sql.NullFloat64
	// EpochLosses holds the last D and G loss of every finished epoch.
	EpochLosses [][2]float64
}

// Ledger is a callback that records every run, one row per epoch, and the
// final score in a SQLite database shared across runs.
type Ledger struct {
	base
	db    *sql.DB
	runID int64
}

func unixSeconds() float64 { return float64(time.Now().UnixMilli()) / 1000.0 }

// OpenLedger opens or creates the database at path.
func OpenLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, flow.IOError("ledger", "open", err)
	}
	for _, stmt := range []string{
		`PRAGMA journal_mode=WAL`,
		`CREATE TABLE IF NOT EXISTS runs(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			gan TEXT NOT NULL,
			dataset TEXT NOT NULL,
			epochs INTEGER NOT NULL,
			batch_size INTEGER NOT NULL,
			started REAL NOT NULL,
			finished REAL,
			iterations INTEGER NOT NULL DEFAULT 0,
			fid REAL
		)`,
		`CREATE TABLE IF NOT EXISTS epochs(
			run_id INTEGER NOT NULL REFERENCES runs(id),
			epoch INTEGER NOT NULL,
			iteration INTEGER NOT NULL,
			d_loss REAL,
			g_loss REAL,
			seconds REAL,
			PRIMARY KEY(run_id, epoch)
		)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, flow.IOError("ledger", "schema", err)
		}
	}
	return &Ledger{db: db}, nil
}

// Close releases the database.
func (l *Ledger) Close() error { return l.db.Close() }

// RunID is the row of the current run, 0 before training begins.
func (l *Ledger) RunID() int64 { return l.runID }

func (l *Ledger) onTrainBegin(t *Trainer) error {
	res, err := l.db.Exec(`INSERT INTO runs(gan, dataset, epochs, batch_size, started) VALUES(?,?,?,?,?)`,
		t.strategy.Name(), t.cfg.Dataset, t.cfg.Epochs, t.cfg.BatchSize, unixSeconds())
	if err != nil {
		return flow.IOError("ledger", "run", err)
	}
	if l.runID, err = res.LastInsertId(); err != nil {
		return flow.IOError("ledger", "run", err)
	}
	return nil
}

func (l *Ledger) onEpochEnd(t *Trainer, epoch int) error {
	if l.runID == 0 {
		return nil
	}
	h := t.history
	var d, g, secs sql.NullFloat64
	if n := len(h.DLoss); n > 0 {
		d = sql.NullFloat64{Float64: h.DLoss[n-1], Valid: true}
		g = sql.NullFloat64{Float64: h.GLoss[n-1], Valid: true}
	}
	if n := len(h.PerEpochTime); n > 0 {
		secs = sql.NullFloat64{Float64: h.PerEpochTime[n-1], Valid: true}
	}
	_, err := l.db.Exec(`INSERT INTO epochs(run_id, epoch, iteration, d_loss, g_loss, seconds) VALUES(?,?,?,?,?,?)`,
		l.runID, epoch, t.iteration, d, g, secs)
	if err != nil {
		return flow.IOError("ledger", "epoch", err)
	}
	return nil
}

func (l *Ledger) onTrainEnd(t *Trainer) error {
	if l.runID == 0 {
		return nil
	}
	if _, err := l.db.Exec(`UPDATE runs SET finished = ?, iterations = ? WHERE id = ?`, unixSeconds(), t.iteration, l.runID); err != nil {
		return flow.IOError("ledger", "finish", err)
	}
	return nil
}

func (l *Ledger) name() string { return "ledger" }

// RecordScore stores the final score of the current run.
func (l *Ledger) RecordScore(score float64) error {
	if l.runID == 0 {
		return flow.ConfigError("ledger", "no run has started")
	}
	if _, err := l.db.Exec(`UPDATE runs SET fid = ? WHERE id = ?`, score, l.runID); err != nil {
		return flow.IOError("ledger", "score", err)
	}
	return nil
}

// Runs lists the recorded runs of a variant on a dataset, newest first.
func (l *Ledger) Runs(ganType, dataset string) ([]Run, error) {
	rows, err := l.db.Query(`SELECT id, gan, dataset, epochs, batch_size, started, finished, iterations, fid
		FROM runs WHERE gan = ? AND dataset = ? ORDER BY id DESC`, ganType, dataset)
	if err != nil {
		return nil, flow.IOError("ledger", "query", err)
	}
	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.GAN, &r.Dataset, &r.Epochs, &r.BatchSize, &r.Started, &r.Finished, &r.Iterations, &r.FID); err != nil {
			rows.Close()
			return nil, flow.IOError("ledger", "query", err)
		}
		runs = append(runs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, flow.IOError("ledger", "query", err)
	}

	for i := range runs {
		losses, err := l.epochLosses(runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].EpochLosses = losses
	}
	return runs, nil
}

func (l *Ledger) epochLosses(runID int64) ([][2]float64, error) {
	rows, err := l.db.Query(`SELECT d_loss, g_loss FROM epochs WHERE run_id = ? ORDER BY epoch`, runID)
	if err != nil {
		return nil, flow.IOError("ledger", "query", err)
	}
	defer rows.Close()
	var out [][2]float64
	for rows.Next() {
		var d, g sql.NullFloat64
		if err := rows.Scan(&d, &g); err != nil {
			return nil, flow.IOError("ledger", "query", err)
		}
		out = append(out, [2]float64{d.Float64, g.Float64})
	}
	if err := rows.Err(); err != nil {
		return nil, flow.IOError("ledger", "query", err)
	}
	return out, nil
}
