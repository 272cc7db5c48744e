package train

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/pkg/errors"

	"ganflow/flow"
	"ganflow/gan"
)

// History is the per-iteration loss record of a run plus its timings in
// seconds.
type History struct {
	DLoss        []float64            `json:"D_loss"`
	GLoss        []float64            `json:"G_loss"`
	Extra        map[string][]float64 `json:"extra,omitempty"`
	PerEpochTime []float64            `json:"per_epoch_time"`
	TotalTime    float64              `json:"total_time"`
}

func newHistory() *History {
	return &History{Extra: map[string][]float64{}}
}

func (h *History) record(l gan.Losses) {
	h.DLoss = append(h.DLoss, l.D)
	h.GLoss = append(h.GLoss, l.G)
	keys := make([]string, 0, len(l.Extra))
	for k := range l.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Extra[k] = append(h.Extra[k], l.Extra[k])
	}
}

// Save writes the history as JSON.
func (h *History) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return flow.IOError("train", "history", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(h); err != nil {
		f.Close()
		return flow.IOError("train", "history", errors.Wrap(err, path))
	}
	if err := f.Close(); err != nil {
		return flow.IOError("train", "history", err)
	}
	return nil
}

// LoadHistory reads a history written by Save.
func LoadHistory(path string) (*History, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, flow.IOError("train", "history", err)
	}
	defer f.Close()
	h := newHistory()
	if err := json.NewDecoder(f).Decode(h); err != nil {
		return nil, flow.IOError("train", "history", errors.Wrap(err, path))
	}
	return h, nil
}
