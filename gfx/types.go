// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx

import "fmt"

// Residency is the memory class an object is allocated in.
type Residency int

// Memory classes
const (
	// DeviceLocal memory is only reachable by the GPU.
	DeviceLocal Residency = iota

	// HostVisible memory is coherent and mapped for the CPU.
	HostVisible
)

func (r Residency) String() string {
	switch r {
	case DeviceLocal:
		return "device-local"
	case HostVisible:
		return "host-visible"
	}
	return fmt.Sprintf("Residency(%d)", int(r))
}

// Usage is a mask of the ways an object is bound.
type Usage uint32

// Usage flags for buffers and images
const (
	UsageVertex Usage = 1 << iota
	UsageIndex
	UsageUniform
	UsageStorage
	UsageSampled
	UsageRenderTarget
	UsageTransferSrc
	UsageTransferDst
)

// Has reports whether all bits of o are set in u.
func (u Usage) Has(o Usage) bool {
	return u&o == o
}

// Format is a pixel format.
type Format int

// Pixel formats
const (
	FormatRGBA8 Format = iota
	FormatBGRA8
	FormatR8
	FormatRG8
	FormatR32F
	FormatRGBA16F
	FormatRGBA32F
)

// BytesPerPixel returns the size of one pixel.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatR8:
		return 1
	case FormatRG8:
		return 2
	case FormatRGBA8, FormatBGRA8, FormatR32F:
		return 4
	case FormatRGBA16F:
		return 8
	case FormatRGBA32F:
		return 16
	}
	return 0
}

func (f Format) String() string {
	switch f {
	case FormatRGBA8:
		return "rgba8"
	case FormatBGRA8:
		return "bgra8"
	case FormatR8:
		return "r8"
	case FormatRG8:
		return "rg8"
	case FormatR32F:
		return "r32f"
	case FormatRGBA16F:
		return "rgba16f"
	case FormatRGBA32F:
		return "rgba32f"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// ParseFormat returns the format named s.
func ParseFormat(s string) (Format, error) {
	for f := FormatRGBA8; f <= FormatRGBA32F; f++ {
		if f.String() == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown format %q", s)
}

// Extent is the size of a two dimensional image.
type Extent struct {
	Width, Height int
}

// Bytes returns the number of bytes an image of format f occupies.
func (e Extent) Bytes(f Format) int {
	return e.Width * e.Height * f.BytesPerPixel()
}

func (e Extent) String() string {
	return fmt.Sprintf("%dx%d", e.Width, e.Height)
}

// Filter is a sampler filter.
type Filter int

// Filters
const (
	FilterLinear Filter = iota
	FilterNearest
)

// AddressMode is a sampler address mode.
type AddressMode int

// Address modes
const (
	AddressRepeat AddressMode = iota
	AddressMirroredRepeat
	AddressClampToEdge
)

// Sampler describes how an image is sampled.
type Sampler struct {
	Min, Mag      Filter
	AddressU      AddressMode
	AddressV      AddressMode
	MaxAnisotropy float32
}

// DefaultSampler is a linear, repeating sampler.
var DefaultSampler = Sampler{
	Min:      FilterLinear,
	Mag:      FilterLinear,
	AddressU: AddressRepeat,
	AddressV: AddressRepeat,
}

// BufferDesc describes a native buffer to create.
type BufferDesc struct {
	Name      string
	Size      int
	Usage     Usage
	Residency Residency
}

// ImageDesc describes a native image to create.
type ImageDesc struct {
	Name      string
	Extent    Extent
	Format    Format
	Usage     Usage
	Residency Residency
	Sampler   Sampler
}
