// Package device owns the renderers of an application. It is the only
// place renderers are created and destroyed, and it hands out handles
// that detect use after destroy.
package device

import (
	"fmt"
	"sort"

	"github.com/devblok/korurt/gfx"
	"github.com/devblok/korurt/renderer"
	"github.com/devblok/korurt/schedule"
	"github.com/sirupsen/logrus"
)

// Handle refers to a renderer slot. The generation of a slot is bumped
// every time its renderer is destroyed, so a handle outliving its
// renderer never resolves to the renderer reusing the slot.
type Handle struct {
	Index      uint32
	Generation uint32
}

func (h Handle) String() string {
	return fmt.Sprintf("%d@%d", h.Index, h.Generation)
}

type slot struct {
	generation uint32
	renderer   *renderer.Renderer
}

// New creates a device that realizes renderers on backend and
// registers their submissions with sched.
func New(backend gfx.Backend, sched *schedule.Scheduler, log logrus.FieldLogger) *Device {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Device{
		backend: backend,
		sched:   sched,
		log:     log,
	}
}

// Device is a renderer registry. Destroyed slots are reused last in,
// first out.
type Device struct {
	backend gfx.Backend
	sched   *schedule.Scheduler
	log     logrus.FieldLogger

	slots    []slot
	freeList []uint32
	nextID   schedule.RendererID
}

// Backend returns the backend renderers are realized on.
func (d *Device) Backend() gfx.Backend {
	return d.backend
}

// Scheduler returns the scheduler renderers submit through.
func (d *Device) Scheduler() *schedule.Scheduler {
	return d.sched
}

// CreateRenderer realizes info and returns the handle of the new
// renderer. Realization errors leave the device unchanged.
func (d *Device) CreateRenderer(info renderer.Info) (Handle, error) {
	d.nextID++
	r, err := renderer.New(d.nextID, d.backend, d.sched, info, d.log)
	if err != nil {
		return Handle{}, fmt.Errorf("device.CreateRenderer(): %w", err)
	}

	var index uint32
	if n := len(d.freeList); n > 0 {
		index = d.freeList[n-1]
		d.freeList = d.freeList[:n-1]
		d.slots[index].renderer = r
	} else {
		index = uint32(len(d.slots))
		d.slots = append(d.slots, slot{renderer: r})
	}

	h := Handle{Index: index, Generation: d.slots[index].generation}
	d.log.WithFields(logrus.Fields{
		"handle":   h,
		"renderer": r.ID(),
	}).Debug("renderer created")
	return h, nil
}

func (d *Device) inFreeList(index uint32) bool {
	for _, i := range d.freeList {
		if i == index {
			return true
		}
	}
	return false
}

func (d *Device) resolve(op string, h Handle) *renderer.Renderer {
	if int(h.Index) >= len(d.slots) {
		gfx.Violation(op, "invalid renderer handle %s", h)
	}
	s := d.slots[h.Index]
	if s.generation != h.Generation {
		gfx.Violation(op, "stale renderer handle %s, slot is at generation %d", h, s.generation)
	}
	if s.renderer == nil {
		gfx.Violation(op, "renderer handle %s refers to a destroyed renderer", h)
	}
	return s.renderer
}

// borrower returns a live renderer other than r binding one of r's
// outputs as a shared component, and the index of that output.
func (d *Device) borrower(r *renderer.Renderer) (*renderer.Renderer, int) {
	for _, s := range d.slots {
		if s.renderer == nil || s.renderer == r {
			continue
		}
		for i := 0; i < r.Outputs(); i++ {
			if s.renderer.Registry().Borrows(r.Output(i)) {
				return s.renderer, i
			}
		}
	}
	return nil, -1
}

// DestroyRenderer waits for the renderer to finish, releases it and
// frees its slot. Destroying twice is fatal, and so is destroying a
// renderer whose output another live renderer still binds. Renderers
// that declared a dependency on the destroyed one fail on their next
// render.
func (d *Device) DestroyRenderer(h Handle) {
	if int(h.Index) >= len(d.slots) {
		gfx.Violation("device.DestroyRenderer", "invalid renderer handle %s", h)
	}
	if d.inFreeList(h.Index) {
		gfx.Violation("device.DestroyRenderer", "double destroy of renderer handle %s", h)
	}
	r := d.resolve("device.DestroyRenderer", h)
	if b, n := d.borrower(r); b != nil {
		gfx.Violation("device.DestroyRenderer", "renderer %q still binds output %d of %q", b.Name(), n, r.Name())
	}

	r.Release()
	d.sched.Forget(r.ID())

	d.slots[h.Index].renderer = nil
	d.slots[h.Index].generation++
	d.freeList = append(d.freeList, h.Index)

	d.log.WithFields(logrus.Fields{
		"handle":   h,
		"renderer": r.ID(),
	}).Debug("renderer destroyed")
}

// Renderer returns the renderer behind h. Invalid, stale and destroyed
// handles are fatal.
func (d *Device) Renderer(h Handle) *renderer.Renderer {
	return d.resolve("device.Renderer", h)
}

// Valid reports whether h refers to a live renderer.
func (d *Device) Valid(h Handle) bool {
	if int(h.Index) >= len(d.slots) {
		return false
	}
	s := d.slots[h.Index]
	return s.generation == h.Generation && s.renderer != nil
}

// RendererCount returns the number of live renderers.
func (d *Device) RendererCount() int {
	return len(d.slots) - len(d.freeList)
}

// Handles returns the handles of live renderers in slot order.
func (d *Device) Handles() []Handle {
	out := make([]Handle, 0, d.RendererCount())
	for i, s := range d.slots {
		if s.renderer != nil {
			out = append(out, Handle{Index: uint32(i), Generation: s.generation})
		}
	}
	return out
}

// Each calls fn for every live renderer in slot order.
func (d *Device) Each(fn func(Handle, *renderer.Renderer)) {
	for _, h := range d.Handles() {
		fn(h, d.slots[h.Index].renderer)
	}
}

// Release destroys every live renderer, the most recently created
// first, so that renderers binding shared outputs go before their owners.
func (d *Device) Release() {
	handles := d.Handles()
	sort.Slice(handles, func(i, j int) bool {
		return d.slots[handles[i].Index].renderer.ID() > d.slots[handles[j].Index].renderer.ID()
	})
	for _, h := range handles {
		d.DestroyRenderer(h)
	}
	d.log.Debug("device released")
}
