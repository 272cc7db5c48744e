// Package visual renders generator samples as PNG grids.
package visual

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"ganflow/data"
	"ganflow/flow"
)

const (
	gap           = 2
	captionHeight = 16
)

// Sampler produces samples from noise. Every gan.Strategy is one.
type Sampler interface {
	Noise(n int) *flow.Tensor
	Sample(z *flow.Tensor, labels []int) (*flow.Tensor, error)
}

// GridConfig - ALL fields required except Classes and Caption
type GridConfig struct {
	Dir     string
	Prefix  string
	Shape   data.ImageShape
	Samples int
	Scale   int
	// Classes fixes the labels of conditional generators to cycle through
	// 0..Classes-1 across the grid.
	Classes int
	Caption bool
}

// Grid renders the same noise at every epoch so grids are comparable.
type Grid struct {
	cfg    GridConfig
	z      *flow.Tensor
	labels []int
}

// NewGrid validates cfg.
func NewGrid(cfg GridConfig) (*Grid, error) {
	if cfg.Samples <= 0 {
		return nil, flow.ConfigError("visual", "sample count must be > 0, got %d", cfg.Samples)
	}
	if c := cfg.Shape.Channels; c != 1 && c != 3 {
		return nil, flow.ConfigError("visual", "cannot render %d channels", c)
	}
	if cfg.Shape.Height <= 0 || cfg.Shape.Width <= 0 {
		return nil, flow.ConfigError("visual", "image shape %+v is empty", cfg.Shape)
	}
	if cfg.Scale <= 0 {
		cfg.Scale = 1
	}
	g := &Grid{cfg: cfg}
	if cfg.Classes > 0 {
		g.labels = make([]int, cfg.Samples)
		for i := range g.labels {
			g.labels[i] = i % cfg.Classes
		}
	}
	return g, nil
}

// Path is the file Render writes for epoch.
func (g *Grid) Path(epoch int) string {
	return filepath.Join(g.cfg.Dir, fmt.Sprintf("%s_epoch%03d.png", g.cfg.Prefix, epoch))
}

// Render samples s on the grid's fixed noise and writes the PNG for epoch.
func (g *Grid) Render(s Sampler, epoch int) (string, error) {
	if g.z == nil {
		g.z = s.Noise(g.cfg.Samples)
	}
	x, err := s.Sample(g.z, g.labels)
	if err != nil {
		return "", err
	}
	caption := ""
	if g.cfg.Caption {
		caption = fmt.Sprintf("%s epoch %d", g.cfg.Prefix, epoch)
	}
	img, err := Compose(x, g.cfg.Shape, g.cfg.Scale, caption)
	if err != nil {
		return "", err
	}
	path := g.Path(epoch)
	if err := Save(img, path); err != nil {
		return "", err
	}
	return path, nil
}

// Compose tiles the rows of x on a near-square grid, each upscaled by
// scale, with an optional caption band underneath. Values in [-1, 1] map
// to [0, 255].
func Compose(x *flow.Tensor, shape data.ImageShape, scale int, caption string) (*image.RGBA, error) {
	if x.Cols() != shape.Size() {
		return nil, flow.DimensionError("visual", "samples have %d values, shape %+v needs %d", x.Cols(), shape, shape.Size())
	}
	n := x.Rows()
	cols := int(math.Ceil(math.Sqrt(float64(n))))
	if cols == 0 {
		cols = 1
	}
	rows := (n + cols - 1) / cols
	tw, th := shape.Width*scale, shape.Height*scale
	width := cols*(tw+gap) + gap
	height := rows*(th+gap) + gap
	if caption != "" {
		height += captionHeight
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	plane := shape.Height * shape.Width
	for i := 0; i < n; i++ {
		row := x.Row(i)
		ox := gap + (i%cols)*(tw+gap)
		oy := gap + (i/cols)*(th+gap)
		for y := 0; y < th; y++ {
			for xx := 0; xx < tw; xx++ {
				p := (y/scale)*shape.Width + xx/scale
				r := toByte(row[p])
				gr, b := r, r
				if shape.Channels == 3 {
					gr = toByte(row[plane+p])
					b = toByte(row[2*plane+p])
				}
				img.SetRGBA(ox+xx, oy+y, color.RGBA{R: r, G: gr, B: b, A: 255})
			}
		}
	}
	if caption != "" {
		d := &font.Drawer{
			Dst:  img,
			Src:  image.NewUniform(color.White),
			Face: basicfont.Face7x13,
			Dot:  fixed.P(gap, height-4),
		}
		d.DrawString(caption)
	}
	return img, nil
}

// Save writes img as a PNG file.
func Save(img image.Image, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return flow.IOError("visual", "save", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return flow.IOError("visual", "encode", err)
	}
	if err := f.Close(); err != nil {
		return flow.IOError("visual", "save", err)
	}
	return nil
}

func toByte(v float64) uint8 {
	v = (v + 1) * 127.5
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}
