// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx

import glm "github.com/go-gl/mathgl/mgl32"

// Command is a single recorded operation of a command stream.
type Command interface {
	command()
}

// BeginPass starts rendering into Target, clearing it to Clear.
type BeginPass struct {
	Target Target
	Clear  glm.Vec4
}

// BindBuffer binds a buffer to a positional slot.
type BindBuffer struct {
	Slot   int
	Buffer Buffer
}

// BindImage binds an image and its sampler to a positional slot.
type BindImage struct {
	Slot  int
	Image Image
}

// PushConstants sets a small constant block, copied at record time.
type PushConstants struct {
	Data []byte
}

// Draw runs Shader over the bound resources.
type Draw struct {
	Shader    Shader
	Vertices  int
	Instances int
}

// WaitSync records a GPU side wait on a primitive signalled by
// another submission. It is used by backends that lack
// submission-time wait lists.
type WaitSync struct {
	Sync Sync
}

// EndPass finishes the current pass and presents window targets.
type EndPass struct{}

func (BeginPass) command()     {}
func (BindBuffer) command()    {}
func (BindImage) command()     {}
func (PushConstants) command() {}
func (Draw) command()          {}
func (WaitSync) command()      {}
func (EndPass) command()       {}

// Commands is an ordered stream of commands recorded by one renderer.
type Commands struct {
	label string
	list  []Command
}

// NewCommands creates an empty command stream.
func NewCommands(label string) *Commands {
	return &Commands{label: label}
}

// Label returns the label the stream was created with.
func (c *Commands) Label() string {
	return c.label
}

// List returns the recorded commands in order.
func (c *Commands) List() []Command {
	return c.list
}

// Len returns the number of recorded commands.
func (c *Commands) Len() int {
	return len(c.list)
}

// Reset drops all recorded commands, keeping the allocation.
func (c *Commands) Reset() {
	c.list = c.list[:0]
}

// Record appends cmd to the stream.
func (c *Commands) Record(cmd Command) {
	c.list = append(c.list, cmd)
}

// BeginPass records the start of a pass.
func (c *Commands) BeginPass(target Target, clear glm.Vec4) {
	c.Record(BeginPass{Target: target, Clear: clear})
}

// BindBuffer records a buffer binding.
func (c *Commands) BindBuffer(slot int, buffer Buffer) {
	c.Record(BindBuffer{Slot: slot, Buffer: buffer})
}

// BindImage records an image binding.
func (c *Commands) BindImage(slot int, image Image) {
	c.Record(BindImage{Slot: slot, Image: image})
}

// PushConstants records a copy of data.
func (c *Commands) PushConstants(data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	c.Record(PushConstants{Data: cp})
}

// Draw records a draw.
func (c *Commands) Draw(shader Shader, vertices, instances int) {
	c.Record(Draw{Shader: shader, Vertices: vertices, Instances: instances})
}

// WaitSync records a GPU side wait.
func (c *Commands) WaitSync(sync Sync) {
	c.Record(WaitSync{Sync: sync})
}

// EndPass records the end of a pass.
func (c *Commands) EndPass() {
	c.Record(EndPass{})
}
