// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"errors"
	"fmt"
	"sync"

	"github.com/devblok/korurt/gfx"
	vk "github.com/vulkan-go/vulkan"
)

type inflight struct {
	cmd  vk.CommandBuffer
	sync *Sync
}

// Queue is a view of the device queue with its own command pool.
type Queue struct {
	backend *Backend

	mu       sync.Mutex
	pool     vk.CommandPool
	released bool

	// guarded by backend.queueMu
	last     *Sync
	inflight []inflight
}

type pass struct {
	window *Window
	inv    Invocation
}

// Submit implements gfx.Queue. The stream is recorded into a fresh
// command buffer that sets the submission's event as its last command.
// Waits in wait are recorded the same way WaitSync commands are.
func (q *Queue) Submit(cmds *gfx.Commands, wait []gfx.Sync) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released {
		return fmt.Errorf("vulkan.Submit(%s): %w", cmds.Label(), gfx.ErrReleased)
	}

	s, err := q.backend.newSync()
	if err != nil {
		return err
	}
	cmd, err := q.allocate()
	if err != nil {
		s.destroy()
		return err
	}
	window, err := q.record(cmd, cmds.List(), wait, s.event)
	if err != nil {
		vk.FreeCommandBuffers(q.backend.device, q.pool, 1, []vk.CommandBuffer{cmd})
		s.destroy()
		return fmt.Errorf("vulkan.Submit(%s): %w", cmds.Label(), err)
	}

	b := q.backend
	b.queueMu.Lock()
	defer b.queueMu.Unlock()

	var waitSem, signalSem []vk.Semaphore
	if window != nil {
		waitSem = []vk.Semaphore{window.imageAvailable}
		signalSem = []vk.Semaphore{window.renderFinished}
	}
	if err := b.submit(s, []vk.CommandBuffer{cmd}, waitSem, signalSem); err != nil {
		vk.FreeCommandBuffers(b.device, q.pool, 1, []vk.CommandBuffer{cmd})
		return err
	}
	if q.last != nil {
		q.last.unref()
	}
	q.last = s
	s.ref()
	q.inflight = append(q.inflight, inflight{cmd: cmd, sync: s})
	q.reclaim()

	if window != nil {
		return window.present()
	}
	return nil
}

func (q *Queue) allocate() (vk.CommandBuffer, error) {
	cbai := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        q.pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	commandBuffers := make([]vk.CommandBuffer, 1)
	if err := vk.Error(vk.AllocateCommandBuffers(q.backend.device, &cbai, commandBuffers)); err != nil {
		return nil, errors.New("vk.AllocateCommandBuffers(): " + err.Error())
	}
	cbbi := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := vk.Error(vk.BeginCommandBuffer(commandBuffers[0], &cbbi)); err != nil {
		vk.FreeCommandBuffers(q.backend.device, q.pool, 1, commandBuffers)
		return nil, errors.New("vk.BeginCommandBuffer(): " + err.Error())
	}
	return commandBuffers[0], nil
}

// record translates list into cmd. It returns the window the stream
// renders into, if any.
func (q *Queue) record(cmd vk.CommandBuffer, list []gfx.Command, wait []gfx.Sync, signal vk.Event) (*Window, error) {
	for _, w := range wait {
		if err := waitEvent(cmd, w); err != nil {
			return nil, err
		}
	}

	var (
		p      *pass
		window *Window
	)
	for _, c := range list {
		switch c := c.(type) {
		case gfx.WaitSync:
			if err := waitEvent(cmd, c.Sync); err != nil {
				return nil, err
			}
		case gfx.BeginPass:
			if p != nil {
				return nil, errors.New("vulkan: nested pass")
			}
			var err error
			if p, err = q.beginPass(cmd, c); err != nil {
				return nil, err
			}
			if p.window != nil {
				window = p.window
			}
		case gfx.BindBuffer:
			if p == nil {
				return nil, errors.New("vulkan: bind outside of a pass")
			}
			buf, ok := c.Buffer.(*Buffer)
			if !ok {
				return nil, fmt.Errorf("vulkan: foreign buffer %T", c.Buffer)
			}
			p.inv.buffers[c.Slot] = buf
		case gfx.BindImage:
			if p == nil {
				return nil, errors.New("vulkan: bind outside of a pass")
			}
			img, ok := c.Image.(*Image)
			if !ok {
				return nil, fmt.Errorf("vulkan: foreign image %T", c.Image)
			}
			p.inv.images[c.Slot] = img
		case gfx.PushConstants:
			if p == nil {
				return nil, errors.New("vulkan: push constants outside of a pass")
			}
			p.inv.push = c.Data
		case gfx.Draw:
			if p == nil {
				return nil, errors.New("vulkan: draw outside of a pass")
			}
			prog, ok := c.Shader.(*Program)
			if !ok {
				return nil, fmt.Errorf("vulkan: shader %s is not a vulkan program", c.Shader.Name())
			}
			p.inv.Vertices, p.inv.Instances = c.Vertices, c.Instances
			if err := prog.record(cmd, &p.inv); err != nil {
				return nil, fmt.Errorf("%s: %w", prog.Name(), err)
			}
			memoryBarrier(cmd)
		case gfx.EndPass:
			if p == nil {
				return nil, errors.New("vulkan: end of pass without a pass")
			}
			memoryBarrier(cmd)
			if p.window != nil {
				imageBarrier(cmd, p.window.current().image, vk.ImageLayoutGeneral, vk.ImageLayoutPresentSrc)
			}
			p = nil
		default:
			return nil, fmt.Errorf("vulkan: unknown command %T: %w", c, gfx.ErrUnsupported)
		}
	}
	if p != nil {
		return nil, errors.New("vulkan: pass left open")
	}

	vk.CmdSetEvent(cmd, signal, vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit))
	if err := vk.Error(vk.EndCommandBuffer(cmd)); err != nil {
		return nil, errors.New("vk.EndCommandBuffer(): " + err.Error())
	}
	return window, nil
}

func waitEvent(cmd vk.CommandBuffer, s gfx.Sync) error {
	vs, ok := s.(*Sync)
	if !ok {
		return fmt.Errorf("vulkan: foreign sync %T", s)
	}
	barrier := vk.MemoryBarrier{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: vk.AccessFlags(vk.AccessMemoryWriteBit),
		DstAccessMask: vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
	}
	stage := vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	vk.CmdWaitEvents(cmd, 1, []vk.Event{vs.event}, stage, stage, 1, []vk.MemoryBarrier{barrier}, 0, nil, 0, nil)
	return nil
}

func (q *Queue) beginPass(cmd vk.CommandBuffer, c gfx.BeginPass) (*pass, error) {
	p := &pass{
		inv: Invocation{
			buffers: make(map[int]*Buffer),
			images:  make(map[int]*Image),
		},
	}
	clear := clearColor([4]float32(c.Clear))

	if c.Target.IsWindow() {
		w, ok := c.Target.Window.(*Window)
		if !ok {
			return nil, fmt.Errorf("vulkan: foreign window %T", c.Target.Window)
		}
		if err := w.acquire(); err != nil {
			return nil, err
		}
		img := w.current()
		imageBarrier(cmd, img.image, vk.ImageLayoutUndefined, vk.ImageLayoutGeneral)
		vk.CmdClearColorImage(cmd, img.image, vk.ImageLayoutGeneral, clear, 1, []vk.ImageSubresourceRange{colorRange})
		p.window = w
		p.inv.Extent = w.Extent()
		p.inv.Targets = []Attachment{{Image: img.image, View: img.view, Format: w.format}}
	} else {
		for _, t := range c.Target.Images {
			img, ok := t.(*Image)
			if !ok {
				return nil, fmt.Errorf("vulkan: foreign image %T", t)
			}
			vk.CmdClearColorImage(cmd, img.image, vk.ImageLayoutGeneral, clear, 1, []vk.ImageSubresourceRange{colorRange})
			p.inv.Targets = append(p.inv.Targets, Attachment{Image: img.image, View: img.view, Format: img.vkFormat})
		}
		p.inv.Extent = c.Target.Extent()
	}
	memoryBarrier(cmd)
	return p, nil
}

// reclaim frees command buffers of completed submissions.
// Callers hold backend.queueMu.
func (q *Queue) reclaim() {
	kept := q.inflight[:0]
	for _, f := range q.inflight {
		if !f.sync.Signalled() {
			kept = append(kept, f)
			continue
		}
		vk.FreeCommandBuffers(q.backend.device, q.pool, 1, []vk.CommandBuffer{f.cmd})
		f.sync.unref()
	}
	q.inflight = kept
}

// NewSync implements gfx.Queue. The primitive of the last submission is
// shared; a queue without submissions submits an empty stream first.
func (q *Queue) NewSync() (gfx.Sync, error) {
	q.backend.queueMu.Lock()
	last := q.last
	q.backend.queueMu.Unlock()
	if last == nil {
		if err := q.Submit(gfx.NewCommands("sync"), nil); err != nil {
			return nil, err
		}
	}

	q.backend.queueMu.Lock()
	defer q.backend.queueMu.Unlock()
	q.last.ref()
	return q.last, nil
}

// WaitIdle implements gfx.Queue
func (q *Queue) WaitIdle() error {
	b := q.backend
	b.queueMu.Lock()
	last := q.last
	if last == nil {
		b.queueMu.Unlock()
		return nil
	}
	last.ref()
	b.queueMu.Unlock()

	err := last.Wait()

	b.queueMu.Lock()
	last.unref()
	q.reclaim()
	b.queueMu.Unlock()
	return err
}

// Release implements gfx.Queue
func (q *Queue) Release() {
	q.mu.Lock()
	if q.released {
		q.mu.Unlock()
		return
	}
	q.released = true
	q.mu.Unlock()

	if err := q.WaitIdle(); err != nil {
		q.backend.log.WithError(err).Warn("queue released with failed work")
	}

	b := q.backend
	b.queueMu.Lock()
	for _, f := range q.inflight {
		vk.FreeCommandBuffers(b.device, q.pool, 1, []vk.CommandBuffer{f.cmd})
		f.sync.unref()
	}
	q.inflight = nil
	if q.last != nil {
		q.last.unref()
		q.last = nil
	}
	b.queueMu.Unlock()

	vk.DestroyCommandPool(b.device, q.pool, nil)
	b.removeQueue(q)
}
