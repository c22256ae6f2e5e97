package core_test

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	glm "github.com/go-gl/mathgl/mgl32"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/devblok/korurt/backend/soft"
	"github.com/devblok/korurt/component"
	"github.com/devblok/korurt/core"
	"github.com/devblok/korurt/device"
	"github.com/devblok/korurt/gfx"
	"github.com/devblok/korurt/renderer"
	"github.com/devblok/korurt/resource"
)

func newContext(c *qt.C, opts ...soft.Option) *core.Context {
	log, _ := test.NewNullLogger()
	cfg := core.DefaultConfiguration()
	cfg.Time.FramesPerSecond = 0
	ctx, err := core.NewContext(cfg, soft.New(append(opts, soft.WithLogger(log))...), log)
	c.Assert(err, qt.IsNil)
	c.Cleanup(ctx.Destroy)
	return ctx
}

func frameBytes(frame int) []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, math.Float32bits(float32(frame)))
	return out
}

// observer records frames in which the consumer saw another producer
// write than the one submitted right before it, older or newer.
type observer struct {
	mu         sync.Mutex
	frames     int
	mismatched []int
}

func (o *observer) record(expected, seen float32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.frames++
	if seen != expected {
		o.mismatched = append(o.mismatched, int(expected))
	}
}

func target(c *qt.C, name string, format gfx.Format) renderer.Output {
	out, err := resource.NewImage(name, resource.StaticFixed, gfx.Extent{Width: 1, Height: 1}, format, nil)
	c.Assert(err, qt.IsNil)
	return renderer.OffscreenOutput(out)
}

// pipeline builds a producer stamping the frame number into its output
// and a consumer checking the stamp it reads against the frame number.
// With a delay the producer waits for a slow upstream renderer first,
// with a read delay the consumer takes that long to read.
func pipeline(c *qt.C, ctx *core.Context, delay, readDelay time.Duration) (producer, consumer device.Handle, o *observer) {
	o = &observer{}

	stamp := soft.NewProgram("stamp", func(inv *soft.Invocation) error {
		inv.Target(0).Set(0, 0, glm.Vec4{inv.PushFloat(0), 0, 0, 1})
		return nil
	})
	check := soft.NewProgram("check", func(inv *soft.Invocation) error {
		src, ok := inv.Image(0)
		if !ok {
			return nil
		}
		if readDelay > 0 {
			time.Sleep(readDelay)
		}
		o.record(inv.PushFloat(0), src.At(0, 0)[0])
		return nil
	})

	var err error
	producer, err = ctx.CreateRenderer(renderer.Info{
		Name:   "producer",
		Shader: stamp,
		Output: target(c, "stamp", gfx.FormatR32F),
	})
	c.Assert(err, qt.IsNil)

	consumer, err = ctx.CreateRenderer(renderer.Info{
		Name:   "consumer",
		Shader: check,
		Shared: []component.Component{ctx.Renderer(producer).Output(0)},
		Output: target(c, "sink", gfx.FormatR8),
	})
	c.Assert(err, qt.IsNil)

	if delay > 0 {
		slow := soft.NewProgram("slow", func(*soft.Invocation) error {
			time.Sleep(delay)
			return nil
		})
		upstream, err := ctx.CreateRenderer(renderer.Info{
			Name:   "upstream",
			Shader: slow,
			Output: target(c, "upstream", gfx.FormatR8),
		})
		c.Assert(err, qt.IsNil)
		ctx.DependsOn(producer, upstream)
	}
	return producer, consumer, o
}

func TestDependencyOrdering(t *testing.T) {
	c := qt.New(t)
	for _, tc := range []struct {
		name      string
		opts      []soft.Option
		delay     time.Duration
		readDelay time.Duration
	}{
		{"wait-list", nil, 0, 0},
		{"command-stream", []soft.Option{soft.WithCommandStreamWaits()}, 0, 0},
		{"slow-producer", nil, 100 * time.Microsecond, 0},
		{"slow-consumer", nil, 0, 100 * time.Microsecond},
		{"slow-consumer-command-stream", []soft.Option{soft.WithCommandStreamWaits()}, 0, 100 * time.Microsecond},
	} {
		c.Run(tc.name, func(c *qt.C) {
			ctx := newContext(c, tc.opts...)
			producer, consumer, o := pipeline(c, ctx, tc.delay, tc.readDelay)
			ctx.DependsOn(consumer, producer)

			for frame := 1; frame <= 1000; frame++ {
				ctx.Renderer(producer).SetPushConstants(frameBytes(frame))
				ctx.Renderer(consumer).SetPushConstants(frameBytes(frame))
				c.Assert(ctx.Frame(), qt.IsNil)
			}
			c.Assert(ctx.WaitIdle(), qt.IsNil)

			o.mu.Lock()
			defer o.mu.Unlock()
			c.Assert(o.frames, qt.Equals, 1000)
			c.Assert(o.mismatched, qt.HasLen, 0)
		})
	}
}

func TestUndeclaredDependencyIsNotOrdered(t *testing.T) {
	c := qt.New(t)
	ctx := newContext(c)
	producer, consumer, o := pipeline(c, ctx, 2*time.Millisecond, 0)

	for frame := 1; frame <= 20; frame++ {
		ctx.Renderer(producer).SetPushConstants(frameBytes(frame))
		ctx.Renderer(consumer).SetPushConstants(frameBytes(frame))
		c.Assert(ctx.Frame(), qt.IsNil)
	}
	c.Assert(ctx.WaitIdle(), qt.IsNil)

	o.mu.Lock()
	defer o.mu.Unlock()
	c.Assert(len(o.mismatched) > 0, qt.IsTrue, qt.Commentf("consumer observed every producer write"))
}

func TestFrameOrder(t *testing.T) {
	c := qt.New(t)
	ctx := newContext(c)

	var handles []device.Handle
	for i := 0; i < 3; i++ {
		h, err := ctx.CreateRenderer(renderer.Info{
			Name:   []string{"a", "b", "c"}[i],
			Shader: soft.Clear(),
			Output: target(c, "out", gfx.FormatR8),
		})
		c.Assert(err, qt.IsNil)
		handles = append(handles, h)
	}
	ctx.DependsOn(handles[0], handles[2])
	ctx.DependsOn(handles[1], handles[0])

	order, err := ctx.Order()
	c.Assert(err, qt.IsNil)
	var names []string
	for _, r := range order {
		names = append(names, r.Name())
	}
	c.Assert(names, qt.DeepEquals, []string{"c", "a", "b"})

	ctx.DependsOn(handles[2], handles[1])
	c.Assert(ctx.Frame(), qt.ErrorMatches, `core.Order\(\): schedule.Order\(\): dependency cycle between renderers 1, 2, 3`)
}

func TestRunFrames(t *testing.T) {
	c := qt.New(t)
	ctx := newContext(c)

	h, err := ctx.CreateRenderer(renderer.Info{
		Name:   "gradient",
		Shader: soft.Gradient(),
		Output: target(c, "out", gfx.FormatR8),
	})
	c.Assert(err, qt.IsNil)

	c.Assert(ctx.RunFrames(context.Background(), 25), qt.IsNil)
	c.Assert(ctx.Frames(), qt.Equals, uint64(25))
	c.Assert(ctx.Renderer(h).Frames(), qt.Equals, uint64(25))
	c.Assert(ctx.Scheduler().SyncCount() <= ctx.Config().Schedule.MaxFramesInFlight, qt.IsTrue)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	c.Assert(ctx.RunFrames(cancelled, 0), qt.ErrorIs, context.Canceled)
	c.Assert(ctx.Frames(), qt.Equals, uint64(25))
}

func TestRunFramesPaced(t *testing.T) {
	c := qt.New(t)
	log, _ := test.NewNullLogger()
	cfg := core.DefaultConfiguration()
	cfg.Time.FramesPerSecond = 200
	ctx, err := core.NewContext(cfg, soft.New(soft.WithLogger(log)), log)
	c.Assert(err, qt.IsNil)
	defer ctx.Destroy()

	deadline, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	c.Assert(ctx.RunFrames(deadline, 0), qt.ErrorIs, context.DeadlineExceeded)
	c.Assert(ctx.Frames() > 0, qt.IsTrue)
	c.Assert(ctx.Frames() < 100, qt.IsTrue)
}

func TestNewContextValidates(t *testing.T) {
	c := qt.New(t)
	cfg := core.DefaultConfiguration()
	cfg.Schedule.MaxFramesInFlight = 0
	_, err := core.NewContext(cfg, soft.New(), nil)
	c.Assert(err, qt.ErrorMatches, `core.NewContext\(\): max frames in flight must be at least 1, got 0`)
}
