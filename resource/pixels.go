// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

import (
	"image"
	"image/draw"
)

// GetPixels transforms a given image into right arrangement of pixels
// by drawing the decoded image onto a controlled RGBA canvas.
// A rowPitch smaller than a tightly packed row is ignored.
func GetPixels(img image.Image, rowPitch int) ([]uint8, error) {
	bounds := img.Bounds()
	stride := 4 * bounds.Dx()
	if rowPitch > stride {
		// apply the proposed row pitch only if it fits a row,
		// drivers may ask for padded rows on linear tiling.
		stride = rowPitch
	}
	canvas := &image.RGBA{
		Pix:    make([]uint8, stride*bounds.Dy()),
		Stride: stride,
		Rect:   bounds,
	}
	draw.Draw(canvas, bounds, img, bounds.Min, draw.Src)
	return canvas.Pix, nil
}
