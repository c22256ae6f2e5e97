// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package renderer_test

import (
	"encoding/binary"
	"math"
	"sync"
	"testing"

	qt "github.com/frankban/quicktest"
	glm "github.com/go-gl/mathgl/mgl32"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/devblok/korurt/backend/soft"
	"github.com/devblok/korurt/component"
	"github.com/devblok/korurt/gfx"
	"github.com/devblok/korurt/renderer"
	"github.com/devblok/korurt/resource"
	"github.com/devblok/korurt/schedule"
)

type env struct {
	backend *soft.Backend
	sched   *schedule.Scheduler
	next    schedule.RendererID
}

func newEnv(c *qt.C, opts ...soft.Option) *env {
	log, _ := test.NewNullLogger()
	b := soft.New(append(opts, soft.WithLogger(log))...)
	e := &env{
		backend: b,
		sched:   schedule.New(b.Capabilities(), 2, log),
	}
	c.Cleanup(func() {
		e.sched.Release()
		b.Release()
	})
	return e
}

func (e *env) create(c *qt.C, info renderer.Info) *renderer.Renderer {
	e.next++
	log, _ := test.NewNullLogger()
	r, err := renderer.New(e.next, e.backend, e.sched, info, log)
	c.Assert(err, qt.IsNil)
	c.Cleanup(r.Release)
	return r
}

func image(c *qt.C, name string, w, h int, format gfx.Format) *resource.Image {
	img, err := resource.NewImage(name, resource.StaticFixed, gfx.Extent{Width: w, Height: h}, format, nil)
	c.Assert(err, qt.IsNil)
	return img
}

func download(c *qt.C, img *component.Image) []byte {
	out := make([]byte, img.Size())
	c.Assert(img.Download(out), qt.IsNil)
	return out
}

func floats(v ...float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func TestRenderClearsOutput(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c)

	r := e.create(c, renderer.Info{
		Name:   "clear",
		Shader: soft.Clear(),
		Output: renderer.OffscreenOutput(image(c, "out", 2, 1, gfx.FormatRGBA8)),
		Clear:  glm.Vec4{1, 0, 0, 1},
	})
	fp, err := r.Render()
	c.Assert(err, qt.IsNil)
	c.Assert(r.WaitIdle(), qt.IsNil)

	c.Assert(download(c, r.Output(0)), qt.DeepEquals, []byte{255, 0, 0, 255, 255, 0, 0, 255})
	current, ok := e.sched.Fingerprint(r.ID())
	c.Assert(ok, qt.IsTrue)
	c.Assert(current, qt.Equals, fp)
	c.Assert(r.Frames(), qt.Equals, uint64(1))

	r.SetClearColour(glm.Vec4{0, 0, 1, 1})
	_, err = r.Render()
	c.Assert(err, qt.IsNil)
	c.Assert(r.WaitIdle(), qt.IsNil)
	c.Assert(download(c, r.Output(0))[:4], qt.DeepEquals, []byte{0, 0, 255, 255})
}

func TestPushConstants(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c)

	r := e.create(c, renderer.Info{
		Name:   "gradient",
		Shader: soft.Gradient(),
		Output: renderer.OffscreenOutput(image(c, "out", 2, 2, gfx.FormatRGBA32F)),
	})
	r.SetPushConstants(floats(0.25))
	_, err := r.Render()
	c.Assert(err, qt.IsNil)
	c.Assert(r.WaitIdle(), qt.IsNil)

	pixels := download(c, r.Output(0))
	// pixel (1, 1)
	c.Assert(pixels[48:64], qt.DeepEquals, floats(0.5, 0.5, 0.25, 1))

	big := make([]byte, renderer.MaxPushConstants+1)
	c.Assert(func() { r.SetPushConstants(big) }, qt.PanicMatches, `renderer.SetPushConstants: 129 bytes exceed the 128 byte push constant block`)
}

func TestBindingSlots(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c)

	var (
		mu   sync.Mutex
		seen []string
	)
	probe := soft.NewProgram("probe", func(inv *soft.Invocation) error {
		mu.Lock()
		defer mu.Unlock()
		for slot := 0; ; slot++ {
			data, ok := inv.Buffer(slot)
			if !ok {
				break
			}
			seen = append(seen, string(data))
		}
		for slot := 0; ; slot++ {
			img, ok := inv.Image(slot)
			if !ok {
				break
			}
			seen = append(seen, img.Extent.String())
		}
		return nil
	})

	r := e.create(c, renderer.Info{
		Name:   "probe",
		Shader: probe,
		Resources: []resource.Resource{
			image(c, "a", 1, 1, gfx.FormatR8),
			resource.NewBuffer("first", resource.StaticFixed, gfx.UsageStorage, []byte("first")),
			image(c, "b", 2, 2, gfx.FormatR8),
			resource.NewBuffer("second", resource.DynamicFixed, gfx.UsageUniform, []byte("second")),
		},
		Output: renderer.OffscreenOutput(image(c, "out", 1, 1, gfx.FormatR8)),
	})
	c.Assert(r.Registry().Len(), qt.Equals, 4)
	c.Assert(r.Registry().Get(2).Resource().Name(), qt.Equals, "a")

	_, err := r.Render()
	c.Assert(err, qt.IsNil)
	c.Assert(r.WaitIdle(), qt.IsNil)

	mu.Lock()
	defer mu.Unlock()
	c.Assert(seen, qt.DeepEquals, []string{"first", "second", "1x1", "2x2"})
}

func TestSharedOutput(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c)

	producer := e.create(c, renderer.Info{
		Name:   "producer",
		Shader: soft.Gradient(),
		Output: renderer.OffscreenOutput(image(c, "scene", 4, 4, gfx.FormatRGBA8)),
	})
	consumer := e.create(c, renderer.Info{
		Name:   "consumer",
		Shader: soft.Invert(),
		Shared: []component.Component{producer.Output(0)},
		Output: renderer.OffscreenOutput(image(c, "inverted", 4, 4, gfx.FormatRGBA8)),
	})
	e.sched.DependsOn(consumer.ID(), producer.ID())

	_, err := producer.Render()
	c.Assert(err, qt.IsNil)
	_, err = consumer.Render()
	c.Assert(err, qt.IsNil)
	c.Assert(consumer.WaitIdle(), qt.IsNil)

	scene := download(c, producer.Output(0))
	inverted := download(c, consumer.Output(0))
	for i := 0; i < len(scene); i += 4 {
		c.Assert(inverted[i], qt.Equals, 255-scene[i])
		c.Assert(inverted[i+1], qt.Equals, 255-scene[i+1])
		c.Assert(inverted[i+3], qt.Equals, scene[i+3])
	}
	c.Assert(consumer.Registry().Shared(0), qt.IsTrue)
}

func TestWindowOutput(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c)

	presented := make(chan []byte, 1)
	w, err := e.backend.NewWindow(gfx.Extent{Width: 1, Height: 1}, gfx.FormatBGRA8, func(s soft.Surface) {
		presented <- append([]byte(nil), s.Pix...)
	})
	c.Assert(err, qt.IsNil)
	defer w.Release()

	r := e.create(c, renderer.Info{
		Name:   "swapchain",
		Shader: soft.Clear(),
		Output: renderer.WindowOutput(w),
		Clear:  glm.Vec4{1, 0.5, 0, 1},
	})
	_, err = r.Render()
	c.Assert(err, qt.IsNil)
	c.Assert(<-presented, qt.DeepEquals, []byte{0, 128, 255, 255})
	c.Assert(r.Outputs(), qt.Equals, 0)
}

func TestCommandStreamWaits(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c, soft.WithCommandStreamWaits())
	c.Assert(e.backend.Capabilities().WaitSemaphores, qt.IsFalse)

	producer := e.create(c, renderer.Info{
		Name:   "producer",
		Shader: soft.Gradient(),
		Output: renderer.OffscreenOutput(image(c, "scene", 2, 2, gfx.FormatRGBA8)),
	})
	consumer := e.create(c, renderer.Info{
		Name:   "consumer",
		Shader: soft.Copy(),
		Shared: []component.Component{producer.Output(0)},
		Output: renderer.OffscreenOutput(image(c, "copy", 2, 2, gfx.FormatRGBA8)),
	})
	e.sched.DependsOn(consumer.ID(), producer.ID())

	for i := 0; i < 10; i++ {
		_, err := producer.Render()
		c.Assert(err, qt.IsNil)
		_, err = consumer.Render()
		c.Assert(err, qt.IsNil)
	}
	c.Assert(consumer.WaitIdle(), qt.IsNil)
	c.Assert(download(c, consumer.Output(0)), qt.DeepEquals, download(c, producer.Output(0)))
}

func TestProgramErrorsSurface(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c)

	r := e.create(c, renderer.Info{
		Name:   "copy",
		Shader: soft.Copy(),
		Output: renderer.OffscreenOutput(image(c, "out", 1, 1, gfx.FormatRGBA8)),
	})
	_, err := r.Render()
	c.Assert(err, qt.IsNil)
	c.Assert(r.WaitIdle(), qt.ErrorMatches, `renderer.WaitIdle\(copy\): copy: no image bound to slot 0`)
}

func TestNewRejectsIncompleteInfo(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c)

	_, err := renderer.New(1, e.backend, e.sched, renderer.Info{Name: "x", Shader: soft.Clear()}, nil)
	c.Assert(err, qt.ErrorMatches, `renderer.New\(x\): no output target`)
	c.Assert(func() {
		r := e.create(c, renderer.Info{Name: "y", Shader: soft.Clear(), Output: renderer.OffscreenOutput(image(c, "o", 1, 1, gfx.FormatR8))})
		r.Output(1)
	}, qt.PanicMatches, `renderer.Output: renderer "y" has no output 1`)
}
