// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package opengl

import (
	"errors"
	"fmt"
	"strings"

	"github.com/devblok/korurt/gfx"
	"github.com/go-gl/gl/v4.5-core/gl"
)

// Invocation is the pass state a draw runs against. The framebuffer is
// bound and cleared, buffers and images are bound to their slots.
type Invocation struct {
	Vertices    int
	Instances   int
	Extent      gfx.Extent
	Framebuffer uint32

	buffers map[int]*Buffer
	images  map[int]*Image
	push    []byte
}

// Buffer returns the buffer bound to slot.
func (inv *Invocation) Buffer(slot int) (*Buffer, bool) {
	b, ok := inv.buffers[slot]
	return b, ok
}

// Image returns the image bound to slot.
func (inv *Invocation) Image(slot int) (*Image, bool) {
	i, ok := inv.images[slot]
	return i, ok
}

// PushConstants returns the constant block set for the draw.
func (inv *Invocation) PushConstants() []byte {
	return inv.push
}

// Program implements gfx.Shader as a linked GLSL program. It is compiled
// on the GL thread the first time it is drawn.
type Program struct {
	name     string
	vertex   string
	fragment string

	id  uint32
	err error
}

// NewProgram creates a program from GLSL vertex and fragment sources.
// Buffers bind to storage or uniform blocks by slot, images to texture
// units by slot, push constants to block PushConstantBinding.
func NewProgram(name, vertex, fragment string) *Program {
	return &Program{
		name:     name,
		vertex:   vertex,
		fragment: fragment,
	}
}

// Name implements gfx.Shader
func (p *Program) Name() string {
	return p.name
}

// ID returns the linked program name, zero before the first draw.
func (p *Program) ID() uint32 {
	return p.id
}

// draw runs prog with an empty vertex array; vertex data is pulled from
// bound buffers. GL thread only.
func (b *Backend) draw(prog *Program, inv *Invocation) error {
	if err := prog.link(); err != nil {
		return err
	}
	gl.UseProgram(prog.id)
	gl.BindVertexArray(b.vao)
	gl.DrawArraysInstanced(gl.TRIANGLES, 0, int32(inv.Vertices), int32(inv.Instances))
	gl.MemoryBarrier(gl.ALL_BARRIER_BITS)
	return nil
}

func (p *Program) link() error {
	if p.id != 0 || p.err != nil {
		return p.err
	}

	vs, err := compileShader(p.vertex, gl.VERTEX_SHADER)
	if err != nil {
		p.err = fmt.Errorf("vertex shader: %w", err)
		return p.err
	}
	defer gl.DeleteShader(vs)
	fs, err := compileShader(p.fragment, gl.FRAGMENT_SHADER)
	if err != nil {
		p.err = fmt.Errorf("fragment shader: %w", err)
		return p.err
	}
	defer gl.DeleteShader(fs)

	id := gl.CreateProgram()
	gl.AttachShader(id, vs)
	gl.AttachShader(id, fs)
	gl.LinkProgram(id)

	var status int32
	gl.GetProgramiv(id, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetProgramiv(id, gl.INFO_LOG_LENGTH, &logLength)
		log := strings.Repeat("\x00", int(logLength+1))
		gl.GetProgramInfoLog(id, logLength, nil, gl.Str(log))
		gl.DeleteProgram(id)
		p.err = fmt.Errorf("gl.LinkProgram(): %s", strings.TrimRight(log, "\x00"))
		return p.err
	}
	p.id = id
	return nil
}

func compileShader(source string, shaderType uint32) (uint32, error) {
	if strings.TrimSpace(source) == "" {
		return 0, errors.New("empty source")
	}
	shader := gl.CreateShader(shaderType)

	csources, free := gl.Strs(source + "\x00")
	gl.ShaderSource(shader, 1, csources, nil)
	free()
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &logLength)
		log := strings.Repeat("\x00", int(logLength+1))
		gl.GetShaderInfoLog(shader, logLength, nil, gl.Str(log))
		gl.DeleteShader(shader)
		return 0, fmt.Errorf("gl.CompileShader(): %s", strings.TrimRight(log, "\x00"))
	}
	return shader, nil
}

// Release deletes the linked program.
func (p *Program) Release(b *Backend) {
	if p.id == 0 {
		return
	}
	id := p.id
	p.id = 0
	_ = b.post(func() {
		gl.DeleteProgram(id)
	})
}

// fullscreen emits a triangle covering the viewport for three vertices.
const fullscreen = `#version 450 core
out vec2 uv;
void main() {
	uv = vec2((gl_VertexID << 1) & 2, gl_VertexID & 2);
	gl_Position = vec4(uv * 2.0 - 1.0, 0.0, 1.0);
}
`

// Builtin programs
var (
	Clear = NewProgram("clear", fullscreen, `#version 450 core
void main() {
	discard;
}
`)
	Copy = NewProgram("copy", fullscreen, `#version 450 core
in vec2 uv;
layout(binding = 0) uniform sampler2D source;
layout(location = 0) out vec4 colour;
void main() {
	colour = texture(source, uv);
}
`)
	Invert = NewProgram("invert", fullscreen, `#version 450 core
in vec2 uv;
layout(binding = 0) uniform sampler2D source;
layout(location = 0) out vec4 colour;
void main() {
	vec4 c = texture(source, uv);
	colour = vec4(1.0 - c.rgb, c.a);
}
`)
	Gradient = NewProgram("gradient", fullscreen, `#version 450 core
in vec2 uv;
layout(std140, binding = 15) uniform Push {
	float blue;
};
layout(location = 0) out vec4 colour;
void main() {
	colour = vec4(uv, blue, 1.0);
}
`)
)

// Library returns the builtin programs by name.
func Library() map[string]gfx.Shader {
	return map[string]gfx.Shader{
		Clear.Name():    Clear,
		Copy.Name():     Copy,
		Invert.Name():   Invert,
		Gradient.Name(): Gradient,
	}
}
