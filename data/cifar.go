package data

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"ganflow/flow"
)

const (
	cifarSide   = 32
	cifarRecord = 1 + 3*cifarSide*cifarSide
)

// LoadCIFAR10 reads the binary training batches data_batch_1.bin ..
// data_batch_5.bin from dir. Missing batches after the first are skipped.
func LoadCIFAR10(dir string, opts Options) (*Dataset, error) {
	var records []byte
	for i := 1; i <= 5; i++ {
		path := filepath.Join(dir, fmt.Sprintf("data_batch_%d.bin", i))
		f, err := os.Open(path)
		if err != nil {
			if i > 1 && os.IsNotExist(err) {
				break
			}
			return nil, flow.IOError("cifar10", "load", err)
		}
		buf, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, flow.IOError("cifar10", "load", errors.Wrap(err, path))
		}
		if len(buf)%cifarRecord != 0 {
			return nil, flow.IOError("cifar10", "load", errors.Errorf("%s: truncated record", path))
		}
		records = append(records, buf...)
		if opts.Limit > 0 && len(records)/cifarRecord >= opts.Limit {
			break
		}
	}

	n := opts.limit(len(records) / cifarRecord)
	size := opts.size(cifarSide)
	ds := &Dataset{
		Name:    "cifar10",
		Images:  flow.NewTensor(n, 3*size*size),
		Labels:  make([]int, n),
		Classes: 10,
		Shape:   ImageShape{Channels: 3, Height: size, Width: size},
	}
	for i := 0; i < n; i++ {
		rec := records[i*cifarRecord : (i+1)*cifarRecord]
		ds.Labels[i] = int(rec[0])
		pix := rec[1:]
		if size == cifarSide {
			writeRaw(ds.Images.Row(i), pix)
			continue
		}
		writeScaled(ds.Images.Row(i), toImage(pix, 3, cifarSide, cifarSide), 3, size)
	}
	return ds, nil
}
