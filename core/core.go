// Package core ties the runtime together: an explicit application context
// owning the backend, the device and the scheduler, plus configuration and
// time services.
package core

import (
	"context"
	"fmt"

	"github.com/devblok/korurt/device"
	"github.com/devblok/korurt/gfx"
	"github.com/devblok/korurt/renderer"
	"github.com/devblok/korurt/schedule"
	"github.com/sirupsen/logrus"
)

// NewContext creates an application context rendering on backend.
// The context takes ownership of the backend.
func NewContext(cfg Configuration, backend gfx.Backend, log logrus.FieldLogger) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("core.NewContext(): %w", err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("backend", backend.Name())

	sched := schedule.New(backend.Capabilities(), cfg.Schedule.MaxFramesInFlight, log)
	c := &Context{
		config:    cfg,
		backend:   backend,
		scheduler: sched,
		device:    device.New(backend, sched, log),
		log:       log,
	}
	log.WithField("frames_in_flight", cfg.Schedule.MaxFramesInFlight).Info("context created")
	return c, nil
}

// Context is the application context. Everything that would otherwise be
// global, the renderer registry and the dependency graph, lives here.
type Context struct {
	config    Configuration
	backend   gfx.Backend
	device    *device.Device
	scheduler *schedule.Scheduler
	log       logrus.FieldLogger
	frames    uint64
}

// Config returns the configuration the context was created with.
func (c *Context) Config() Configuration {
	return c.config
}

// Backend returns the graphics backend.
func (c *Context) Backend() gfx.Backend {
	return c.backend
}

// Device returns the renderer registry.
func (c *Context) Device() *device.Device {
	return c.device
}

// Scheduler returns the scheduler.
func (c *Context) Scheduler() *schedule.Scheduler {
	return c.scheduler
}

// Frames returns the number of frames rendered by Frame.
func (c *Context) Frames() uint64 {
	return c.frames
}

// CreateRenderer creates a renderer on the device.
func (c *Context) CreateRenderer(info renderer.Info) (device.Handle, error) {
	return c.device.CreateRenderer(info)
}

// DestroyRenderer destroys a renderer.
func (c *Context) DestroyRenderer(h device.Handle) {
	c.device.DestroyRenderer(h)
}

// Renderer returns the renderer behind h.
func (c *Context) Renderer(h device.Handle) *renderer.Renderer {
	return c.device.Renderer(h)
}

// DependsOn declares that the renderer behind consumer reads
// what the renderer behind producer writes.
func (c *Context) DependsOn(consumer, producer device.Handle) {
	c.scheduler.DependsOn(c.device.Renderer(consumer).ID(), c.device.Renderer(producer).ID())
}

// Order returns the live renderers in the order a frame renders them.
func (c *Context) Order() ([]*renderer.Renderer, error) {
	byID := make(map[schedule.RendererID]*renderer.Renderer)
	var ids []schedule.RendererID
	c.device.Each(func(_ device.Handle, r *renderer.Renderer) {
		byID[r.ID()] = r
		ids = append(ids, r.ID())
	})

	order, err := c.scheduler.Order(ids)
	if err != nil {
		return nil, fmt.Errorf("core.Order(): %w", err)
	}
	out := make([]*renderer.Renderer, len(order))
	for i, id := range order {
		out[i] = byID[id]
	}
	return out, nil
}

// Frame renders every live renderer once, producers before consumers.
func (c *Context) Frame() error {
	order, err := c.Order()
	if err != nil {
		return err
	}
	for _, r := range order {
		if _, err := r.Render(); err != nil {
			return fmt.Errorf("core.Frame(): %w", err)
		}
	}
	c.frames++
	return nil
}

// RunFrames renders n frames, or frames until ctx is done when n is not
// positive. Frames are paced by the configured frame rate and ctx is
// checked between frames; in-flight GPU work is never cancelled.
func (c *Context) RunFrames(ctx context.Context, n int) error {
	t := NewTime(c.config.Time)
	defer t.Stop()

	for i := 0; n <= 0 || i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.Frame(); err != nil {
			return err
		}
		if t.Unlimited() {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.FpsTicker().C:
		}
	}
	return nil
}

// WaitIdle waits until every renderer has executed its submitted frames.
func (c *Context) WaitIdle() error {
	var firstErr error
	c.device.Each(func(_ device.Handle, r *renderer.Renderer) {
		if err := r.WaitIdle(); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}

// Destroy waits for all queues to drain, destroys the renderers,
// releases the remaining sync primitives and finally the backend.
func (c *Context) Destroy() {
	if err := c.WaitIdle(); err != nil {
		c.log.Warnf("waiting for idle: %s", err)
	}
	c.device.Release()
	c.scheduler.Release()
	c.backend.Release()
	c.log.WithField("frames", c.frames).Info("context destroyed")
}
