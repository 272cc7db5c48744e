package data

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"ganflow/flow"
)

const (
	idxImageMagic = 0x00000803
	idxLabelMagic = 0x00000801
)

// openMaybeGzip opens path, or path+".gz" through a gzip reader.
func openMaybeGzip(path string) (io.ReadCloser, error) {
	if f, err := os.Open(path); err == nil {
		return f, nil
	}
	f, err := os.Open(path + ".gz")
	if err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, path+".gz")
	}
	return struct {
		io.Reader
		io.Closer
	}{zr, f}, nil
}

func readIDXImages(path string) (pix []uint8, n, rows, cols int, err error) {
	r, err := openMaybeGzip(path)
	if err != nil {
		return nil, 0, 0, 0, err
	}
	defer r.Close()

	var header [4]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, 0, 0, 0, errors.Wrapf(err, "%s: header", path)
	}
	if header[0] != idxImageMagic {
		return nil, 0, 0, 0, errors.Errorf("%s: bad image magic %#x", path, header[0])
	}
	n, rows, cols = int(header[1]), int(header[2]), int(header[3])
	pix = make([]uint8, n*rows*cols)
	if _, err := io.ReadFull(r, pix); err != nil {
		return nil, 0, 0, 0, errors.Wrapf(err, "%s: pixels", path)
	}
	return pix, n, rows, cols, nil
}

func readIDXLabels(path string) ([]int, error) {
	r, err := openMaybeGzip(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var header [2]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrapf(err, "%s: header", path)
	}
	if header[0] != idxLabelMagic {
		return nil, errors.Errorf("%s: bad label magic %#x", path, header[0])
	}
	raw := make([]uint8, header[1])
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrapf(err, "%s: labels", path)
	}
	labels := make([]int, len(raw))
	for i, v := range raw {
		labels[i] = int(v)
	}
	return labels, nil
}

// LoadIDX reads an MNIST-layout training set (train-images-idx3-ubyte and
// train-labels-idx1-ubyte, optionally gzipped) from dir.
func LoadIDX(name, dir string, opts Options) (*Dataset, error) {
	pix, n, rows, cols, err := readIDXImages(filepath.Join(dir, "train-images-idx3-ubyte"))
	if err != nil {
		return nil, flow.IOError(name, "load", err)
	}
	labels, err := readIDXLabels(filepath.Join(dir, "train-labels-idx1-ubyte"))
	if err != nil {
		return nil, flow.IOError(name, "load", err)
	}
	if len(labels) != n {
		return nil, flow.DimensionError(name, "%d images but %d labels", n, len(labels))
	}
	n = opts.limit(n)

	size := opts.size(rows)
	ds := &Dataset{
		Name:    name,
		Images:  flow.NewTensor(n, size*size),
		Labels:  labels[:n],
		Classes: 10,
		Shape:   ImageShape{Channels: 1, Height: size, Width: size},
	}
	plane := rows * cols
	for i := 0; i < n; i++ {
		src := pix[i*plane : (i+1)*plane]
		if size == rows && size == cols {
			writeRaw(ds.Images.Row(i), src)
			continue
		}
		writeScaled(ds.Images.Row(i), toImage(src, 1, rows, cols), 1, size)
	}
	return ds, nil
}
