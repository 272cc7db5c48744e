package data

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"ganflow/flow"
)

// LoadFolder reads an image-folder dataset: one sub-directory per class,
// each holding PNG or JPEG files. Classes are numbered in sorted
// directory order and every image is resampled to a square RGB sample.
func LoadFolder(name, dir string, opts Options) (*Dataset, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, flow.IOError(name, "load", err)
	}
	var classes []string
	for _, e := range entries {
		if e.IsDir() {
			classes = append(classes, e.Name())
		}
	}
	sort.Strings(classes)
	if len(classes) == 0 {
		return nil, flow.IOError(name, "load", errors.Errorf("%s: no class directories", dir))
	}

	type item struct {
		path  string
		label int
	}
	var items []item
	for label, c := range classes {
		files, err := os.ReadDir(filepath.Join(dir, c))
		if err != nil {
			return nil, flow.IOError(name, "load", err)
		}
		for _, f := range files {
			ext := strings.ToLower(filepath.Ext(f.Name()))
			if f.IsDir() || (ext != ".png" && ext != ".jpg" && ext != ".jpeg") {
				continue
			}
			items = append(items, item{path: filepath.Join(dir, c, f.Name()), label: label})
		}
	}
	if len(items) == 0 {
		return nil, flow.IOError(name, "load", errors.Errorf("%s: no images", dir))
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		// keep classes balanced by striding through the sorted list
		stride := float64(len(items)) / float64(opts.Limit)
		picked := make([]item, opts.Limit)
		for i := range picked {
			picked[i] = items[int(float64(i)*stride)]
		}
		items = picked
	}

	size := opts.size(64)
	ds := &Dataset{
		Name:    name,
		Images:  flow.NewTensor(len(items), 3*size*size),
		Labels:  make([]int, len(items)),
		Classes: len(classes),
		Shape:   ImageShape{Channels: 3, Height: size, Width: size},
	}
	for i, it := range items {
		img, err := decodeImage(it.path)
		if err != nil {
			return nil, flow.IOError(name, "load", err)
		}
		writeScaled(ds.Images.Row(i), img, 3, size)
		ds.Labels[i] = it.label
	}
	return ds, nil
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return img, nil
}
