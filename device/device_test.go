package device_test

import (
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/devblok/korurt/backend/soft"
	"github.com/devblok/korurt/component"
	"github.com/devblok/korurt/device"
	"github.com/devblok/korurt/gfx"
	"github.com/devblok/korurt/renderer"
	"github.com/devblok/korurt/resource"
	"github.com/devblok/korurt/schedule"
)

func newDevice(c *qt.C) (*device.Device, *soft.Backend) {
	log, _ := test.NewNullLogger()
	b := soft.New(soft.WithLogger(log))
	sched := schedule.New(b.Capabilities(), 2, log)
	d := device.New(b, sched, log)
	c.Cleanup(func() {
		d.Release()
		sched.Release()
		b.Release()
	})
	return d, b
}

func info(c *qt.C, name string) renderer.Info {
	out, err := resource.NewImage(name+".out", resource.StaticFixed, gfx.Extent{Width: 2, Height: 2}, gfx.FormatRGBA8, nil)
	c.Assert(err, qt.IsNil)
	return renderer.Info{
		Name:   name,
		Shader: soft.Clear(),
		Resources: []resource.Resource{
			resource.NewEmptyBuffer(name+".uniforms", resource.DynamicFixed, gfx.UsageUniform, 64),
		},
		Output: renderer.OffscreenOutput(out),
	}
}

func create(c *qt.C, d *device.Device, name string) device.Handle {
	h, err := d.CreateRenderer(info(c, name))
	c.Assert(err, qt.IsNil)
	return h
}

func TestHandleReuse(t *testing.T) {
	c := qt.New(t)
	d, _ := newDevice(c)

	var handles []device.Handle
	for i := 0; i < 5; i++ {
		h := create(c, d, "r")
		c.Assert(h, qt.Equals, device.Handle{Index: uint32(i)})
		handles = append(handles, h)
	}
	c.Assert(d.RendererCount(), qt.Equals, 5)

	d.DestroyRenderer(handles[1])
	d.DestroyRenderer(handles[3])
	c.Assert(d.RendererCount(), qt.Equals, 3)

	// most recently destroyed first
	c.Assert(create(c, d, "r"), qt.Equals, device.Handle{Index: 3, Generation: 1})
	c.Assert(create(c, d, "r"), qt.Equals, device.Handle{Index: 1, Generation: 1})
	c.Assert(create(c, d, "r"), qt.Equals, device.Handle{Index: 5})
	c.Assert(d.RendererCount(), qt.Equals, 6)
	c.Assert(d.Handles(), qt.HasLen, 6)
}

func TestRendererCount(t *testing.T) {
	c := qt.New(t)
	d, _ := newDevice(c)

	var live []device.Handle
	created, destroyed := 0, 0
	for round := 0; round < 20; round++ {
		for i := 0; i < round%4+1; i++ {
			live = append(live, create(c, d, "r"))
			created++
		}
		for i := 0; i < round%3 && len(live) > 0; i++ {
			d.DestroyRenderer(live[0])
			live = live[1:]
			destroyed++
		}
		c.Assert(d.RendererCount(), qt.Equals, created-destroyed)
	}
}

func TestDoubleDestroyIsFatal(t *testing.T) {
	c := qt.New(t)
	d, _ := newDevice(c)

	h := create(c, d, "r")
	d.DestroyRenderer(h)
	c.Assert(func() { d.DestroyRenderer(h) }, qt.PanicMatches, `device.DestroyRenderer: double destroy of renderer handle 0@0`)
	c.Assert(d.RendererCount(), qt.Equals, 0)
}

func TestStaleHandle(t *testing.T) {
	c := qt.New(t)
	d, _ := newDevice(c)

	stale := create(c, d, "old")
	d.DestroyRenderer(stale)
	fresh := create(c, d, "new")
	c.Assert(fresh.Index, qt.Equals, stale.Index)

	c.Assert(d.Valid(stale), qt.IsFalse)
	c.Assert(d.Valid(fresh), qt.IsTrue)
	c.Assert(d.Renderer(fresh).Name(), qt.Equals, "new")
	c.Assert(func() { d.Renderer(stale) }, qt.PanicMatches, `device.Renderer: stale renderer handle 0@0, slot is at generation 1`)
	c.Assert(func() { d.DestroyRenderer(stale) }, qt.PanicMatches, `device.DestroyRenderer: stale renderer handle 0@0, slot is at generation 1`)
	c.Assert(d.RendererCount(), qt.Equals, 1)
}

func TestInvalidHandle(t *testing.T) {
	c := qt.New(t)
	d, _ := newDevice(c)

	create(c, d, "r")
	h := device.Handle{Index: 7}
	c.Assert(d.Valid(h), qt.IsFalse)
	c.Assert(func() { d.Renderer(h) }, qt.PanicMatches, `device.Renderer: invalid renderer handle 7@0`)
	c.Assert(func() { d.DestroyRenderer(h) }, qt.PanicMatches, `device.DestroyRenderer: invalid renderer handle 7@0`)
}

func TestCreateFailureLeavesDeviceUnchanged(t *testing.T) {
	c := qt.New(t)
	d, b := newDevice(c)

	bad := info(c, "bad")
	bad.Shader = nil
	_, err := d.CreateRenderer(bad)
	c.Assert(err, qt.ErrorMatches, `device.CreateRenderer\(\): renderer.New\(bad\): no shader`)
	c.Assert(d.RendererCount(), qt.Equals, 0)
	c.Assert(b.Allocated(gfx.HostVisible), qt.Equals, 0)

	h := create(c, d, "good")
	c.Assert(h, qt.Equals, device.Handle{})
}

func TestCreateOutOfMemory(t *testing.T) {
	c := qt.New(t)
	log, _ := test.NewNullLogger()
	b := soft.New(soft.WithLogger(log), soft.WithMemoryLimit(gfx.HostVisible, 32))
	defer b.Release()
	d := device.New(b, schedule.New(b.Capabilities(), 2, log), log)

	_, err := d.CreateRenderer(info(c, "greedy"))
	c.Assert(err, qt.ErrorIs, gfx.ErrOutOfMemory)
	c.Assert(d.RendererCount(), qt.Equals, 0)
	c.Assert(b.Allocated(gfx.DeviceLocal), qt.Equals, 0)
}

func TestDestroyReleasesComponents(t *testing.T) {
	c := qt.New(t)
	d, b := newDevice(c)

	h := create(c, d, "r")
	c.Assert(b.Allocated(gfx.HostVisible), qt.Equals, 64)
	c.Assert(b.Allocated(gfx.DeviceLocal), qt.Equals, 16)

	_, err := d.Renderer(h).Render()
	c.Assert(err, qt.IsNil)
	d.DestroyRenderer(h)
	c.Assert(b.Allocated(gfx.HostVisible), qt.Equals, 0)
	c.Assert(b.Allocated(gfx.DeviceLocal), qt.Equals, 0)
	c.Assert(d.Scheduler().SyncCount(), qt.Equals, 0)
}

// Destroying a producer that consumers still depend on is not supported:
// the consumer's next render fails fast instead of racing a freed sync.
func TestDestroyedProducerIsUnsupported(t *testing.T) {
	c := qt.New(t)
	d, _ := newDevice(c)

	producer := create(c, d, "producer")
	consumer := create(c, d, "consumer")
	d.Scheduler().DependsOn(d.Renderer(consumer).ID(), d.Renderer(producer).ID())

	for i := 0; i < 3; i++ {
		_, err := d.Renderer(producer).Render()
		c.Assert(err, qt.IsNil)
		_, err = d.Renderer(consumer).Render()
		c.Assert(err, qt.IsNil)
	}

	d.DestroyRenderer(producer)
	c.Assert(func() { d.Renderer(consumer).Render() }, qt.PanicMatches, `schedule.GPUWaitOn: renderer 1 has never rendered`)
}

func sharing(c *qt.C, d *device.Device, name string, producer device.Handle) device.Handle {
	i := info(c, name)
	i.Shared = []component.Component{d.Renderer(producer).Output(0)}
	h, err := d.CreateRenderer(i)
	c.Assert(err, qt.IsNil)
	return h
}

func TestDestroySharedOutputIsFatal(t *testing.T) {
	c := qt.New(t)
	d, b := newDevice(c)

	producer := create(c, d, "producer")
	consumer := sharing(c, d, "consumer", producer)

	c.Assert(func() { d.DestroyRenderer(producer) }, qt.PanicMatches, `device.DestroyRenderer: renderer "consumer" still binds output 0 of "producer"`)
	c.Assert(d.RendererCount(), qt.Equals, 2)

	// once the consumer is gone the output is free to go
	d.DestroyRenderer(consumer)
	d.DestroyRenderer(producer)
	c.Assert(d.RendererCount(), qt.Equals, 0)
	c.Assert(b.Allocated(gfx.DeviceLocal), qt.Equals, 0)
}

func TestReleaseDestroysBorrowersFirst(t *testing.T) {
	c := qt.New(t)
	d, b := newDevice(c)

	first := create(c, d, "first")
	producer := create(c, d, "producer")
	d.DestroyRenderer(first)

	// the consumer reuses slot 0, below its producer
	consumer := sharing(c, d, "consumer", producer)
	c.Assert(consumer.Index, qt.Equals, uint32(0))

	d.Release()
	c.Assert(d.RendererCount(), qt.Equals, 0)
	c.Assert(b.Allocated(gfx.DeviceLocal), qt.Equals, 0)
	c.Assert(b.Allocated(gfx.HostVisible), qt.Equals, 0)
}
