// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package component realizes resources into native GPU objects. A component
// wraps exactly one resource and one backend object whose size always
// matches the resource, and translates the resource access mode into the
// backend residency:
//
//	static_fixed      device-local, fixed size, uploaded once
//	static_variable   device-local, resizable, uploaded once
//	dynamic_fixed     host-visible and coherent, persistently mapped
//	dynamic_variable  host-visible and coherent, persistently mapped, resizable
package component

import (
	"fmt"

	"github.com/devblok/korurt/gfx"
	"github.com/devblok/korurt/resource"
)

// Component is a backend realized GPU object bound to one resource.
type Component interface {
	gfx.Releasable

	// Resource returns the resource the component was realized from.
	Resource() resource.Resource

	// Type returns the resource type.
	Type() resource.Type

	// Access returns the resource access mode.
	Access() resource.Access
}

// Realize creates the component for res on backend b. A backend
// allocation failure is returned as is, wrapping gfx.ErrOutOfMemory
// when the requested memory class is unavailable.
func Realize(b gfx.Backend, res resource.Resource) (Component, error) {
	switch r := res.(type) {
	case *resource.Buffer:
		return RealizeBuffer(b, r)
	case *resource.Image:
		return RealizeImage(b, r)
	}
	return nil, fmt.Errorf("component.Realize(%s): unsupported resource %T", res.Name(), res)
}

func bufferUsage(res *resource.Buffer) gfx.Usage {
	usage := res.Usage()
	if !res.Access().Dynamic() {
		usage |= gfx.UsageTransferDst
	}
	return usage | gfx.UsageTransferSrc
}

func imageUsage(res *resource.Image) gfx.Usage {
	usage := res.Usage()
	if !res.Access().Dynamic() {
		usage |= gfx.UsageTransferDst
	}
	return usage | gfx.UsageTransferSrc
}

func checkRange(op string, offset, length, size int) {
	if offset < 0 || length < 0 || offset+length > size {
		gfx.Violation(op, "range [%d:%d] out of bounds of %d bytes", offset, offset+length, size)
	}
}
