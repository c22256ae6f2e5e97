// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package opengl

import (
	"unsafe"

	"github.com/devblok/korurt/gfx"
	"github.com/go-gl/gl/v4.5-core/gl"
)

// pixelFormat is the GL triple describing a gfx.Format.
type pixelFormat struct {
	internal uint32
	format   uint32
	xtype    uint32
}

var formats = map[gfx.Format]pixelFormat{
	gfx.FormatRGBA8:   {gl.RGBA8, gl.RGBA, gl.UNSIGNED_BYTE},
	gfx.FormatBGRA8:   {gl.RGBA8, gl.BGRA, gl.UNSIGNED_BYTE},
	gfx.FormatR8:      {gl.R8, gl.RED, gl.UNSIGNED_BYTE},
	gfx.FormatRG8:     {gl.RG8, gl.RG, gl.UNSIGNED_BYTE},
	gfx.FormatR32F:    {gl.R32F, gl.RED, gl.FLOAT},
	gfx.FormatRGBA16F: {gl.RGBA16F, gl.RGBA, gl.HALF_FLOAT},
	gfx.FormatRGBA32F: {gl.RGBA32F, gl.RGBA, gl.FLOAT},
}

func filter(f gfx.Filter) int32 {
	if f == gfx.FilterNearest {
		return gl.NEAREST
	}
	return gl.LINEAR
}

func wrap(m gfx.AddressMode) int32 {
	switch m {
	case gfx.AddressMirroredRepeat:
		return gl.MIRRORED_REPEAT
	case gfx.AddressClampToEdge:
		return gl.CLAMP_TO_EDGE
	}
	return gl.REPEAT
}

// bufferTarget picks the indexed binding point a buffer is bound to.
// Vertex and index data are pulled from storage buffers.
func bufferTarget(u gfx.Usage) uint32 {
	if u.Has(gfx.UsageUniform) {
		return gl.UNIFORM_BUFFER
	}
	return gl.SHADER_STORAGE_BUFFER
}

func unsafeBytes(ptr unsafe.Pointer, n int) []byte {
	return unsafe.Slice((*byte)(ptr), n)
}
