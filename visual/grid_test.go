package visual

import (
	"fmt"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"ganflow/data"
	"ganflow/flow"
)

type recordingSampler struct {
	shape  data.ImageShape
	noise  int
	labels [][]int
}

func (s *recordingSampler) Noise(n int) *flow.Tensor {
	s.noise++
	z := flow.NewTensor(n, 3)
	z.FillUniform(0, 1, rand.New(rand.NewSource(1)))
	return z
}

func (s *recordingSampler) Sample(z *flow.Tensor, labels []int) (*flow.Tensor, error) {
	s.labels = append(s.labels, labels)
	x := flow.NewTensor(z.Rows(), s.shape.Size())
	x.FillUniform(-1, 1, rand.New(rand.NewSource(2)))
	return x, nil
}

func TestComposeLayout(t *testing.T) {
	shape := data.ImageShape{Channels: 3, Height: 4, Width: 5}
	x := flow.NewTensor(10, shape.Size())
	x.Fill(1)
	img, err := Compose(x, shape, 2, "")
	if err != nil {
		t.Fatal(err)
	}
	// 10 samples on a 4x3 grid of 10x8 tiles
	b := img.Bounds()
	if b.Dx() != 4*(10+gap)+gap || b.Dy() != 3*(8+gap)+gap {
		t.Fatalf("unexpected bounds %v", b)
	}
	if c := img.RGBAAt(gap, gap); c.R != 255 || c.G != 255 || c.B != 255 {
		t.Fatalf("expected a white pixel, got %v", c)
	}
	if c := img.RGBAAt(0, 0); c.R != 0 {
		t.Fatalf("expected a black border, got %v", c)
	}

	captioned, err := Compose(x, shape, 2, "GAN epoch 1")
	if err != nil {
		t.Fatal(err)
	}
	if captioned.Bounds().Dy() != b.Dy()+captionHeight {
		t.Fatalf("expected a caption band, got %v", captioned.Bounds())
	}
}

func TestComposeRejectsWrongWidth(t *testing.T) {
	shape := data.ImageShape{Channels: 1, Height: 4, Width: 4}
	if _, err := Compose(flow.NewTensor(2, 15), shape, 1, ""); !flow.IsKind(err, flow.KindDimension) {
		t.Fatalf("expected a dimension error, got %v", err)
	}
}

func TestGridRendersFixedNoise(t *testing.T) {
	dir := t.TempDir()
	shape := data.ImageShape{Channels: 1, Height: 6, Width: 6}
	g, err := NewGrid(GridConfig{Dir: dir, Prefix: "CGAN", Shape: shape, Samples: 9, Scale: 1, Classes: 3, Caption: true})
	if err != nil {
		t.Fatal(err)
	}
	s := &recordingSampler{shape: shape}
	for epoch := 1; epoch <= 2; epoch++ {
		path, err := g.Render(s, epoch)
		if err != nil {
			t.Fatal(err)
		}
		if want := filepath.Join(dir, fmt.Sprintf("CGAN_epoch%03d.png", epoch)); path != want {
			t.Fatalf("expected %s, got %s", want, path)
		}
		f, err := os.Open(path)
		if err != nil {
			t.Fatal(err)
		}
		img, err := png.Decode(f)
		f.Close()
		if err != nil {
			t.Fatal(err)
		}
		if img.Bounds().Dx() != 3*(6+gap)+gap {
			t.Fatalf("unexpected width %d", img.Bounds().Dx())
		}
	}
	if s.noise != 1 {
		t.Fatalf("expected noise to be drawn once, got %d", s.noise)
	}
	for _, ls := range s.labels {
		if len(ls) != 9 || ls[4] != 1 {
			t.Fatalf("unexpected labels %v", ls)
		}
	}
}

func TestRenderReportsIOError(t *testing.T) {
	shape := data.ImageShape{Channels: 1, Height: 2, Width: 2}
	g, err := NewGrid(GridConfig{Dir: filepath.Join(t.TempDir(), "missing"), Prefix: "GAN", Shape: shape, Samples: 4})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Render(&recordingSampler{shape: shape}, 1); !flow.IsKind(err, flow.KindIO) {
		t.Fatalf("expected an IO error, got %v", err)
	}
}
