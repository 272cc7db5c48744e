package data

import (
	"image"

	"golang.org/x/image/draw"
)

// pixelScale maps a byte intensity to [-1, 1].
func pixelScale(v uint8) float64 {
	return float64(v)/127.5 - 1
}

// toImage packs channel-major bytes into an image. One channel gives a
// Gray image, three an RGBA one.
func toImage(pix []uint8, channels, height, width int) image.Image {
	if channels == 1 {
		img := image.NewGray(image.Rect(0, 0, width, height))
		copy(img.Pix, pix)
		return img
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	plane := height * width
	for i := 0; i < plane; i++ {
		img.Pix[i*4] = pix[i]
		img.Pix[i*4+1] = pix[plane+i]
		img.Pix[i*4+2] = pix[2*plane+i]
		img.Pix[i*4+3] = 0xff
	}
	return img
}

// writeScaled resamples img to size x size with bilinear filtering and
// writes it channel-major into dst, scaled to [-1, 1].
func writeScaled(dst []float64, img image.Image, channels, size int) {
	rect := image.Rect(0, 0, size, size)
	if channels == 1 {
		out := image.NewGray(rect)
		draw.BiLinear.Scale(out, rect, img, img.Bounds(), draw.Src, nil)
		for i, v := range out.Pix {
			dst[i] = pixelScale(v)
		}
		return
	}
	out := image.NewRGBA(rect)
	draw.BiLinear.Scale(out, rect, img, img.Bounds(), draw.Src, nil)
	plane := size * size
	for i := 0; i < plane; i++ {
		dst[i] = pixelScale(out.Pix[i*4])
		dst[plane+i] = pixelScale(out.Pix[i*4+1])
		dst[2*plane+i] = pixelScale(out.Pix[i*4+2])
	}
}

// writeRaw scales channel-major bytes to [-1, 1] without resampling.
func writeRaw(dst []float64, pix []uint8) {
	for i, v := range pix {
		dst[i] = pixelScale(v)
	}
}
