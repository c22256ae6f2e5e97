// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package resource describes data that is uploaded to the GPU. Resources are
// passive: they hold a payload and a declared access mode, and are realized
// into native objects by package component.
package resource

import (
	"fmt"

	"github.com/devblok/korurt/gfx"
)

// Type is the kind of a resource.
type Type int

// Resource types
const (
	TypeBuffer Type = iota
	TypeImage
)

func (t Type) String() string {
	switch t {
	case TypeBuffer:
		return "buffer"
	case TypeImage:
		return "image"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// Access declares how a resource is used over its lifetime. It decides
// residency of the realized component and never changes after creation.
type Access int

// Access modes
const (
	StaticFixed Access = iota
	StaticVariable
	DynamicFixed
	DynamicVariable
)

var accessNames = [...]string{
	StaticFixed:     "static_fixed",
	StaticVariable:  "static_variable",
	DynamicFixed:    "dynamic_fixed",
	DynamicVariable: "dynamic_variable",
}

func (a Access) String() string {
	if a >= 0 && int(a) < len(accessNames) {
		return accessNames[a]
	}
	return fmt.Sprintf("Access(%d)", int(a))
}

// ParseAccess returns the access mode named s, such as "dynamic_fixed".
func ParseAccess(s string) (Access, error) {
	for a, name := range accessNames {
		if name == s {
			return Access(a), nil
		}
	}
	return 0, fmt.Errorf("unknown access mode %q", s)
}

// Dynamic reports whether the CPU writes the resource every frame.
func (a Access) Dynamic() bool {
	return a == DynamicFixed || a == DynamicVariable
}

// Variable reports whether the resource may be resized.
func (a Access) Variable() bool {
	return a == StaticVariable || a == DynamicVariable
}

// Residency returns the memory class the access mode requires.
func (a Access) Residency() gfx.Residency {
	if a.Dynamic() {
		return gfx.HostVisible
	}
	return gfx.DeviceLocal
}

// Resource describes data to be uploaded to the GPU.
type Resource interface {

	// Type returns whether the resource is a buffer or an image.
	Type() Type

	// Access returns the declared access mode.
	Access() Access

	// Name returns the debug name.
	Name() string

	// Bytes returns the payload. Its length always matches the
	// declared size of the resource.
	Bytes() []byte
}

// NewBuffer creates a buffer resource holding a copy of data.
func NewBuffer(name string, access Access, usage gfx.Usage, data []byte) *Buffer {
	payload := make([]byte, len(data))
	copy(payload, data)
	return &Buffer{
		name:   name,
		access: access,
		usage:  usage,
		data:   payload,
	}
}

// NewEmptyBuffer creates a zeroed buffer resource of size bytes.
func NewEmptyBuffer(name string, access Access, usage gfx.Usage, size int) *Buffer {
	return &Buffer{
		name:   name,
		access: access,
		usage:  usage,
		data:   make([]byte, size),
	}
}

// Buffer is a linear block of bytes.
type Buffer struct {
	name   string
	access Access
	usage  gfx.Usage
	data   []byte
}

// Type implements Resource
func (b *Buffer) Type() Type {
	return TypeBuffer
}

// Access implements Resource
func (b *Buffer) Access() Access {
	return b.access
}

// Name implements Resource
func (b *Buffer) Name() string {
	return b.name
}

// Bytes implements Resource
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Usage returns the ways the buffer is bound.
func (b *Buffer) Usage() gfx.Usage {
	return b.usage
}

// Size returns the size in bytes.
func (b *Buffer) Size() int {
	return len(b.data)
}

// Resize changes the declared size, keeping the leading bytes.
// It only updates the descriptor; realized buffers are resized
// through their component, which calls this after the native
// object has been replaced.
func (b *Buffer) Resize(size int) {
	if !b.access.Variable() {
		gfx.Violation("resource.Buffer.Resize", "resize of %s buffer %q", b.access, b.name)
	}
	data := make([]byte, size)
	copy(data, b.data)
	b.data = data
}

func (b *Buffer) String() string {
	return fmt.Sprintf("buffer %q (%s, %d bytes)", b.name, b.access, len(b.data))
}
