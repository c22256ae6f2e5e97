// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package soft

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/devblok/korurt/gfx"
	glm "github.com/go-gl/mathgl/mgl32"
)

// ProgramFunc is the body of a software shader. It runs on the queue
// goroutine with every bound object locked.
type ProgramFunc func(inv *Invocation) error

// NewProgram wraps fn as a shader.
func NewProgram(name string, fn ProgramFunc) *Program {
	return &Program{name: name, fn: fn}
}

// Program implements gfx.Shader
type Program struct {
	name string
	fn   ProgramFunc
}

// Name implements gfx.Shader
func (p *Program) Name() string {
	return p.name
}

// Invocation is the view a program has of one draw.
type Invocation struct {
	Vertices  int
	Instances int

	pass *pass
}

// PushConstants returns the constant block of the draw.
func (i *Invocation) PushConstants() []byte {
	return i.pass.push
}

// PushFloat returns the n-th float32 of the constant block, or zero.
func (i *Invocation) PushFloat(n int) float32 {
	if len(i.pass.push) < (n+1)*4 {
		return 0
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(i.pass.push[n*4:]))
}

// Buffer returns the contents of the buffer bound to slot.
func (i *Invocation) Buffer(slot int) ([]byte, bool) {
	b, ok := i.pass.buffers[slot]
	if !ok {
		return nil, false
	}
	return b.data, true
}

// Image returns the surface of the image bound to slot.
func (i *Invocation) Image(slot int) (Surface, bool) {
	img, ok := i.pass.images[slot]
	if !ok {
		return Surface{}, false
	}
	return img.Surface(), true
}

// Sampler returns the sampler of the image bound to slot.
func (i *Invocation) Sampler(slot int) gfx.Sampler {
	if img, ok := i.pass.images[slot]; ok {
		return img.sampler
	}
	return gfx.DefaultSampler
}

// Targets returns the number of render targets.
func (i *Invocation) Targets() int {
	return len(i.pass.targets)
}

// Target returns the surface of the n-th render target.
func (i *Invocation) Target(n int) Surface {
	return i.pass.targets[n].Surface()
}

// Clear only clears its targets.
func Clear() *Program {
	return NewProgram("clear", func(*Invocation) error {
		return nil
	})
}

// Copy samples image slot 0 into every target.
func Copy() *Program {
	return NewProgram("copy", func(inv *Invocation) error {
		src, ok := inv.Image(0)
		if !ok {
			return fmt.Errorf("copy: no image bound to slot 0")
		}
		sampler := inv.Sampler(0)
		for n := 0; n < inv.Targets(); n++ {
			dst := inv.Target(n)
			for y := 0; y < dst.Extent.Height; y++ {
				for x := 0; x < dst.Extent.Width; x++ {
					u := (float32(x) + 0.5) / float32(dst.Extent.Width)
					v := (float32(y) + 0.5) / float32(dst.Extent.Height)
					dst.Set(x, y, src.Sample(u, v, sampler))
				}
			}
		}
		return nil
	})
}

// Invert writes the inverted colours of image slot 0 into every target.
func Invert() *Program {
	copyProgram := Copy()
	return NewProgram("invert", func(inv *Invocation) error {
		if err := copyProgram.fn(inv); err != nil {
			return err
		}
		for n := 0; n < inv.Targets(); n++ {
			dst := inv.Target(n)
			for y := 0; y < dst.Extent.Height; y++ {
				for x := 0; x < dst.Extent.Width; x++ {
					c := dst.At(x, y)
					dst.Set(x, y, glm.Vec4{1 - c[0], 1 - c[1], 1 - c[2], c[3]})
				}
			}
		}
		return nil
	})
}

// Gradient draws a horizontal red and vertical green ramp, with blue
// taken from the first push constant float.
func Gradient() *Program {
	return NewProgram("gradient", func(inv *Invocation) error {
		blue := inv.PushFloat(0)
		for n := 0; n < inv.Targets(); n++ {
			dst := inv.Target(n)
			for y := 0; y < dst.Extent.Height; y++ {
				for x := 0; x < dst.Extent.Width; x++ {
					dst.Set(x, y, glm.Vec4{
						float32(x) / float32(dst.Extent.Width),
						float32(y) / float32(dst.Extent.Height),
						blue,
						1,
					})
				}
			}
		}
		return nil
	})
}

// Library returns the builtin programs by name.
func Library() map[string]gfx.Shader {
	lib := make(map[string]gfx.Shader)
	for _, p := range []*Program{Clear(), Copy(), Invert(), Gradient()} {
		lib[p.Name()] = p
	}
	return lib
}
