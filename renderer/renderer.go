// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package renderer implements a single unit of GPU work: a shader run over
// a set of components into an output target.
package renderer

import (
	"fmt"

	"github.com/devblok/korurt/component"
	"github.com/devblok/korurt/gfx"
	"github.com/devblok/korurt/resource"
	"github.com/devblok/korurt/schedule"
	glm "github.com/go-gl/mathgl/mgl32"
	"github.com/sirupsen/logrus"
)

// MaxPushConstants is the largest push constant block a renderer accepts.
const MaxPushConstants = 128

// Output is the target a renderer draws into: a window or a set
// of off-screen images.
type Output struct {
	Window gfx.Window
	Images []*resource.Image
}

// WindowOutput targets a window.
func WindowOutput(w gfx.Window) Output {
	return Output{Window: w}
}

// OffscreenOutput targets images.
func OffscreenOutput(images ...*resource.Image) Output {
	return Output{Images: images}
}

// Info describes a renderer to create.
type Info struct {
	Name   string
	Shader gfx.Shader

	// Resources are realized into components owned by the renderer.
	// Buffers bind to slots in the order they appear, so do images.
	Resources []resource.Resource

	// Shared are components owned elsewhere, bound after the owned
	// components of the same type.
	Shared []component.Component

	Output    Output
	Clear     glm.Vec4
	Vertices  int
	Instances int
}

// Renderer records and submits its work to its own queue.
type Renderer struct {
	id       schedule.RendererID
	name     string
	shader   gfx.Shader
	sched    *schedule.Scheduler
	queue    gfx.Queue
	registry *component.Registry
	window   gfx.Window
	outputs  []*component.Image
	log      logrus.FieldLogger

	clear     glm.Vec4
	vertices  int
	instances int
	push      []byte
	cmds      *gfx.Commands
	frames    uint64
}

// New realizes info on backend b. Renderers should be created
// through a device, which assigns id.
func New(id schedule.RendererID, b gfx.Backend, sched *schedule.Scheduler, info Info, log logrus.FieldLogger) (*Renderer, error) {
	if info.Shader == nil {
		return nil, fmt.Errorf("renderer.New(%s): no shader", info.Name)
	}
	if info.Output.Window == nil && len(info.Output.Images) == 0 {
		return nil, fmt.Errorf("renderer.New(%s): no output target", info.Name)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	r := &Renderer{
		id:        id,
		name:      info.Name,
		shader:    info.Shader,
		sched:     sched,
		registry:  component.NewRegistry(),
		window:    info.Output.Window,
		clear:     info.Clear,
		vertices:  info.Vertices,
		instances: info.Instances,
		cmds:      gfx.NewCommands(info.Name),
		log: log.WithFields(logrus.Fields{
			"renderer": id,
			"name":     info.Name,
		}),
	}

	if err := r.realize(b, info); err != nil {
		r.release()
		return nil, fmt.Errorf("renderer.New(%s): %w", info.Name, err)
	}
	queue, err := b.NewQueue()
	if err != nil {
		r.release()
		return nil, fmt.Errorf("renderer.New(%s): %w", info.Name, err)
	}
	r.queue = queue

	r.log.WithFields(logrus.Fields{
		"components": r.registry.Len(),
		"outputs":    len(r.outputs),
	}).Debug("renderer created")
	return r, nil
}

func (r *Renderer) realize(b gfx.Backend, info Info) error {
	for _, t := range []resource.Type{resource.TypeBuffer, resource.TypeImage} {
		for _, res := range info.Resources {
			if res.Type() != t {
				continue
			}
			c, err := component.Realize(b, res)
			if err != nil {
				return err
			}
			r.registry.Add(c)
		}
		for _, c := range info.Shared {
			if c.Type() == t {
				r.registry.AddShared(c)
			}
		}
	}

	for _, res := range info.Output.Images {
		res.WithUsage(res.Usage() | gfx.UsageRenderTarget)
		img, err := component.RealizeImage(b, res)
		if err != nil {
			return err
		}
		r.outputs = append(r.outputs, img)
	}
	return nil
}

// ID returns the renderer identity.
func (r *Renderer) ID() schedule.RendererID {
	return r.id
}

// Name returns the debug name.
func (r *Renderer) Name() string {
	return r.name
}

// Shader returns the shader the renderer runs.
func (r *Renderer) Shader() gfx.Shader {
	return r.shader
}

// Registry returns the components bound by the renderer.
func (r *Renderer) Registry() *component.Registry {
	return r.registry
}

// Queue returns the queue the renderer submits to.
func (r *Renderer) Queue() gfx.Queue {
	return r.queue
}

// Output returns the n-th off-screen output image.
func (r *Renderer) Output(n int) *component.Image {
	if n < 0 || n >= len(r.outputs) {
		gfx.Violation("renderer.Output", "renderer %q has no output %d", r.name, n)
	}
	return r.outputs[n]
}

// Outputs returns the number of off-screen output images.
func (r *Renderer) Outputs() int {
	return len(r.outputs)
}

// Frames returns the number of frames rendered.
func (r *Renderer) Frames() uint64 {
	return r.frames
}

// SetClearColour sets the colour the target is cleared to.
func (r *Renderer) SetClearColour(c glm.Vec4) {
	r.clear = c
}

// SetPushConstants sets the constant block of the following frames.
func (r *Renderer) SetPushConstants(data []byte) {
	if len(data) > MaxPushConstants {
		gfx.Violation("renderer.SetPushConstants", "%d bytes exceed the %d byte push constant block", len(data), MaxPushConstants)
	}
	r.push = append(r.push[:0], data...)
}

func (r *Renderer) target() gfx.Target {
	t := gfx.Target{Window: r.window}
	for _, o := range r.outputs {
		t.Images = append(t.Images, o.Native())
	}
	return t
}

func (r *Renderer) record() {
	r.cmds.BeginPass(r.target(), r.clear)
	for slot, b := range r.registry.Buffers() {
		r.cmds.BindBuffer(slot, b.Native())
	}
	for slot, i := range r.registry.Images() {
		r.cmds.BindImage(slot, i.Native())
	}
	if len(r.push) > 0 {
		r.cmds.PushConstants(r.push)
	}
	r.cmds.Draw(r.shader, r.vertices, r.instances)
	r.cmds.EndPass()
}

// Render submits one frame. It blocks only when the renderer already has
// the maximum number of frames in flight. The submission waits on the GPU
// for the latest frame of every declared dependency.
func (r *Renderer) Render() (schedule.Fingerprint, error) {
	if err := r.sched.Throttle(r.id); err != nil {
		return 0, fmt.Errorf("renderer.Render(%s): %w", r.name, err)
	}

	fp := r.sched.NextFingerprint()
	r.cmds.Reset()
	wait := r.sched.WaitList(r.id, r.cmds)
	r.record()

	if err := r.queue.Submit(r.cmds, wait); err != nil {
		return 0, fmt.Errorf("renderer.Render(%s): %w", r.name, err)
	}
	if err := r.sched.RegisterSync(r.id, fp, r.queue); err != nil {
		return 0, fmt.Errorf("renderer.Render(%s): %w", r.name, err)
	}
	r.frames++

	r.log.WithField("fingerprint", fp).Trace("frame submitted")
	return fp, nil
}

// WaitIdle blocks until every submitted frame has executed.
func (r *Renderer) WaitIdle() error {
	if err := r.queue.WaitIdle(); err != nil {
		return fmt.Errorf("renderer.WaitIdle(%s): %w", r.name, err)
	}
	return nil
}

// Release waits for the queue to drain and releases the owned
// components and the queue. Shared components are left alone.
func (r *Renderer) Release() {
	if r.queue != nil {
		if err := r.queue.WaitIdle(); err != nil {
			r.log.Warnf("draining queue: %s", err)
		}
	}
	r.release()
	r.log.Debug("renderer released")
}

func (r *Renderer) release() {
	if r.queue != nil {
		r.queue.Release()
		r.queue = nil
	}
	r.registry.Release()
	for _, o := range r.outputs {
		o.Release()
	}
	r.outputs = nil
}
