// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package soft

import (
	"encoding/binary"
	"math"

	"github.com/devblok/korurt/gfx"
	glm "github.com/go-gl/mathgl/mgl32"
)

// Surface is a view of image pixels with normalized colour access.
type Surface struct {
	Extent gfx.Extent
	Format gfx.Format
	Pix    []byte
}

// Offset returns the index of the first byte of pixel (x, y).
func (s Surface) Offset(x, y int) int {
	return (y*s.Extent.Width + x) * s.Format.BytesPerPixel()
}

// At returns the colour of pixel (x, y).
func (s Surface) At(x, y int) glm.Vec4 {
	return decode(s.Format, s.Pix[s.Offset(x, y):])
}

// Set sets pixel (x, y) to c.
func (s Surface) Set(x, y int, c glm.Vec4) {
	encode(s.Format, s.Pix[s.Offset(x, y):], c)
}

// Fill sets every pixel to c.
func (s Surface) Fill(c glm.Vec4) {
	bpp := s.Format.BytesPerPixel()
	if bpp == 0 || len(s.Pix) < bpp {
		return
	}
	encode(s.Format, s.Pix, c)
	for i := bpp; i < len(s.Pix); i *= 2 {
		copy(s.Pix[i:], s.Pix[:i])
	}
}

// Sample returns the nearest pixel to the normalized coordinate (u, v).
func (s Surface) Sample(u, v float32, sampler gfx.Sampler) glm.Vec4 {
	x := address(int(u*float32(s.Extent.Width)), s.Extent.Width, sampler.AddressU)
	y := address(int(v*float32(s.Extent.Height)), s.Extent.Height, sampler.AddressV)
	return s.At(x, y)
}

func address(i, n int, mode gfx.AddressMode) int {
	switch mode {
	case gfx.AddressClampToEdge:
		if i < 0 {
			return 0
		}
		if i >= n {
			return n - 1
		}
		return i
	case gfx.AddressMirroredRepeat:
		period := 2 * n
		i = ((i % period) + period) % period
		if i >= n {
			return period - 1 - i
		}
		return i
	}
	return ((i % n) + n) % n
}

func unorm(v float32) byte {
	return byte(glm.Clamp(v, 0, 1)*255 + 0.5)
}

func encode(f gfx.Format, dst []byte, c glm.Vec4) {
	switch f {
	case gfx.FormatRGBA8:
		dst[0], dst[1], dst[2], dst[3] = unorm(c[0]), unorm(c[1]), unorm(c[2]), unorm(c[3])
	case gfx.FormatBGRA8:
		dst[0], dst[1], dst[2], dst[3] = unorm(c[2]), unorm(c[1]), unorm(c[0]), unorm(c[3])
	case gfx.FormatR8:
		dst[0] = unorm(c[0])
	case gfx.FormatRG8:
		dst[0], dst[1] = unorm(c[0]), unorm(c[1])
	case gfx.FormatR32F:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(c[0]))
	case gfx.FormatRGBA16F:
		for i := 0; i < 4; i++ {
			binary.LittleEndian.PutUint16(dst[i*2:], toHalf(c[i]))
		}
	case gfx.FormatRGBA32F:
		for i := 0; i < 4; i++ {
			binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(c[i]))
		}
	}
}

func decode(f gfx.Format, src []byte) glm.Vec4 {
	switch f {
	case gfx.FormatRGBA8:
		return glm.Vec4{float32(src[0]) / 255, float32(src[1]) / 255, float32(src[2]) / 255, float32(src[3]) / 255}
	case gfx.FormatBGRA8:
		return glm.Vec4{float32(src[2]) / 255, float32(src[1]) / 255, float32(src[0]) / 255, float32(src[3]) / 255}
	case gfx.FormatR8:
		return glm.Vec4{float32(src[0]) / 255, 0, 0, 1}
	case gfx.FormatRG8:
		return glm.Vec4{float32(src[0]) / 255, float32(src[1]) / 255, 0, 1}
	case gfx.FormatR32F:
		return glm.Vec4{math.Float32frombits(binary.LittleEndian.Uint32(src)), 0, 0, 1}
	case gfx.FormatRGBA16F:
		var c glm.Vec4
		for i := 0; i < 4; i++ {
			c[i] = fromHalf(binary.LittleEndian.Uint16(src[i*2:]))
		}
		return c
	case gfx.FormatRGBA32F:
		var c glm.Vec4
		for i := 0; i < 4; i++ {
			c[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
		}
		return c
	}
	return glm.Vec4{}
}

// toHalf converts to IEEE 754 binary16, flushing subnormals to zero.
func toHalf(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int((bits>>23)&0xff) - 127 + 15
	mant := bits & 0x7fffff

	switch {
	case (bits>>23)&0xff == 0xff:
		if mant != 0 {
			return sign | 0x7e00
		}
		return sign | 0x7c00
	case exp >= 0x1f:
		return sign | 0x7c00
	case exp <= 0:
		return sign
	}
	return sign | uint16(exp)<<10 | uint16(mant>>13)
}

func fromHalf(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h & 0x3ff)

	switch exp {
	case 0:
		if mant == 0 {
			return math.Float32frombits(sign)
		}
		return float32(math.Ldexp(float64(mant), -24)) * signOf(sign)
	case 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | mant<<13)
	}
	return math.Float32frombits(sign | (exp+127-15)<<23 | mant<<13)
}

func signOf(sign uint32) float32 {
	if sign != 0 {
		return -1
	}
	return 1
}
