// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package opengl

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/devblok/korurt/gfx"
	"github.com/go-gl/gl/v4.5-core/gl"
)

// Sync implements gfx.Sync on a fence sync object. The fence is inserted
// on the GL thread; ready is closed once it exists.
type Sync struct {
	backend *Backend
	ready   chan struct{}
	handle  uintptr
	done    atomic.Bool
}

// Signalled implements gfx.Sync
func (s *Sync) Signalled() bool {
	if s.done.Load() {
		return true
	}
	select {
	case <-s.ready:
	default:
		return false
	}
	var status int32
	if err := s.backend.do(func() {
		gl.GetSynciv(s.handle, gl.SYNC_STATUS, 1, nil, &status)
	}); err != nil {
		return false
	}
	if status == gl.SIGNALED {
		s.done.Store(true)
	}
	return s.done.Load()
}

// Wait implements gfx.Sync
func (s *Sync) Wait() error {
	if s.done.Load() {
		return nil
	}
	<-s.ready
	var res uint32
	if err := s.backend.do(func() {
		res = gl.ClientWaitSync(s.handle, gl.SYNC_FLUSH_COMMANDS_BIT, gl.TIMEOUT_IGNORED)
	}); err != nil {
		return err
	}
	if res == gl.WAIT_FAILED {
		return errors.New("gl.ClientWaitSync(): wait failed")
	}
	s.done.Store(true)
	return nil
}

// Release implements gfx.Sync. Pending server side waits keep the
// object alive until they complete.
func (s *Sync) Release() {
	if err := s.backend.post(func() {
		gl.DeleteSync(s.handle)
	}); err != nil {
		s.backend.log.WithError(err).Debug("fence sync left undeleted")
	}
}

// Queue posts command streams to the GL thread.
type Queue struct {
	backend *Backend

	mu       sync.Mutex
	released bool

	errMu sync.Mutex
	err   error
}

// Submit implements gfx.Queue. The stream is copied and executed on the
// GL thread; wait entries become glWaitSync calls.
func (q *Queue) Submit(cmds *gfx.Commands, wait []gfx.Sync) error {
	label := cmds.Label()
	list := append([]gfx.Command(nil), cmds.List()...)
	waits := append([]gfx.Sync(nil), wait...)
	return q.post("opengl.Submit", func() {
		for _, w := range waits {
			if err := waitSync(w); err != nil {
				q.fail(label, err)
				return
			}
		}
		if err := q.backend.execute(list); err != nil {
			q.fail(label, err)
		}
	})
}

func (q *Queue) post(op string, fn func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released {
		return fmt.Errorf("%s(): %w", op, gfx.ErrReleased)
	}
	return q.backend.post(fn)
}

func (q *Queue) fail(label string, err error) {
	q.backend.log.WithError(err).WithField("commands", label).Error("submission failed")
	q.errMu.Lock()
	defer q.errMu.Unlock()
	if q.err == nil {
		q.err = fmt.Errorf("%s: %w", label, err)
	}
}

func waitSync(s gfx.Sync) error {
	gs, ok := s.(*Sync)
	if !ok {
		return fmt.Errorf("opengl: foreign sync %T", s)
	}
	gl.WaitSync(gs.handle, 0, gl.TIMEOUT_IGNORED)
	return nil
}

// NewSync implements gfx.Queue
func (q *Queue) NewSync() (gfx.Sync, error) {
	s := &Sync{backend: q.backend, ready: make(chan struct{})}
	if err := q.post("opengl.NewSync", func() {
		s.handle = gl.FenceSync(gl.SYNC_GPU_COMMANDS_COMPLETE, 0)
		gl.Flush()
		close(s.ready)
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// WaitIdle implements gfx.Queue. It returns the first error of a
// submission since the last call.
func (q *Queue) WaitIdle() error {
	if err := q.backend.do(gl.Finish); err != nil {
		return err
	}
	q.errMu.Lock()
	defer q.errMu.Unlock()
	err := q.err
	q.err = nil
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
	_ = q.backend.do(gl.Finish)
	q.backend.removeQueue(q)
}

type pass struct {
	fbo     uint32
	window  *Window
	targets []*Image
	inv     Invocation
}

// execute runs a command list. GL thread only.
func (b *Backend) execute(list []gfx.Command) error {
	var p *pass
	for _, c := range list {
		switch c := c.(type) {
		case gfx.WaitSync:
			if err := waitSync(c.Sync); err != nil {
				return err
			}
		case gfx.BeginPass:
			if p != nil {
				return errors.New("opengl: nested pass")
			}
			var err error
			if p, err = b.beginPass(c); err != nil {
				return err
			}
		case gfx.BindBuffer:
			if p == nil {
				return errors.New("opengl: bind outside of a pass")
			}
			buf, ok := c.Buffer.(*Buffer)
			if !ok {
				return fmt.Errorf("opengl: foreign buffer %T", c.Buffer)
			}
			gl.BindBufferBase(bufferTarget(buf.usage), uint32(c.Slot), buf.id)
			p.inv.buffers[c.Slot] = buf
		case gfx.BindImage:
			if p == nil {
				return errors.New("opengl: bind outside of a pass")
			}
			img, ok := c.Image.(*Image)
			if !ok {
				return fmt.Errorf("opengl: foreign image %T", c.Image)
			}
			img.unpack()
			gl.BindTextureUnit(uint32(c.Slot), img.texture)
			gl.BindSampler(uint32(c.Slot), img.sampler)
			p.inv.images[c.Slot] = img
		case gfx.PushConstants:
			if p == nil {
				return errors.New("opengl: push constants outside of a pass")
			}
			if len(c.Data) > 0 {
				gl.NamedBufferSubData(b.push, 0, len(c.Data), gl.Ptr(c.Data))
			}
			gl.BindBufferBase(gl.UNIFORM_BUFFER, PushConstantBinding, b.push)
			p.inv.push = c.Data
		case gfx.Draw:
			if p == nil {
				return errors.New("opengl: draw outside of a pass")
			}
			prog, ok := c.Shader.(*Program)
			if !ok {
				return fmt.Errorf("opengl: shader %s is not a GL program", c.Shader.Name())
			}
			p.inv.Vertices, p.inv.Instances = c.Vertices, c.Instances
			if err := b.draw(prog, &p.inv); err != nil {
				return fmt.Errorf("%s: %w", prog.Name(), err)
			}
		case gfx.EndPass:
			if p == nil {
				return errors.New("opengl: end of pass without a pass")
			}
			gl.MemoryBarrier(gl.ALL_BARRIER_BITS)
			for _, t := range p.targets {
				t.pack()
			}
			if p.window != nil {
				p.window.swap()
			}
			p = nil
		default:
			return fmt.Errorf("opengl: unknown command %T: %w", c, gfx.ErrUnsupported)
		}
	}
	if p != nil {
		return errors.New("opengl: pass left open")
	}
	return glError("opengl.execute()")
}

func (b *Backend) beginPass(c gfx.BeginPass) (*pass, error) {
	p := &pass{
		inv: Invocation{
			buffers: make(map[int]*Buffer),
			images:  make(map[int]*Image),
		},
	}
	clear := [4]float32(c.Clear)

	if c.Target.IsWindow() {
		w, ok := c.Target.Window.(*Window)
		if !ok {
			return nil, fmt.Errorf("opengl: foreign window %T", c.Target.Window)
		}
		p.window = w
		gl.ClearNamedFramebufferfv(0, gl.COLOR, 0, &clear[0])
	} else {
		for _, t := range c.Target.Images {
			img, ok := t.(*Image)
			if !ok {
				return nil, fmt.Errorf("opengl: foreign image %T", t)
			}
			p.targets = append(p.targets, img)
		}
		var err error
		if p.fbo, err = b.framebuffer(p.targets); err != nil {
			return nil, err
		}
		for i := range p.targets {
			gl.ClearNamedFramebufferfv(p.fbo, gl.COLOR, int32(i), &clear[0])
		}
	}

	extent := c.Target.Extent()
	gl.BindFramebuffer(gl.DRAW_FRAMEBUFFER, p.fbo)
	gl.Viewport(0, 0, int32(extent.Width), int32(extent.Height))
	p.inv.Extent = extent
	p.inv.Framebuffer = p.fbo
	return p, nil
}

func framebufferKey(targets []*Image) string {
	ids := make([]string, len(targets))
	for i, t := range targets {
		ids[i] = strconv.FormatUint(uint64(t.texture), 10)
	}
	return strings.Join(ids, ",")
}

// framebuffer returns a cached framebuffer with targets attached in order.
func (b *Backend) framebuffer(targets []*Image) (uint32, error) {
	if len(targets) == 0 {
		return 0, errors.New("opengl: pass without targets")
	}
	key := framebufferKey(targets)
	if fbo, ok := b.fbos[key]; ok {
		return fbo, nil
	}

	var fbo uint32
	gl.CreateFramebuffers(1, &fbo)
	drawBuffers := make([]uint32, len(targets))
	for i, t := range targets {
		gl.NamedFramebufferTexture(fbo, gl.COLOR_ATTACHMENT0+uint32(i), t.texture, 0)
		drawBuffers[i] = gl.COLOR_ATTACHMENT0 + uint32(i)
	}
	gl.NamedFramebufferDrawBuffers(fbo, int32(len(drawBuffers)), &drawBuffers[0])
	if status := gl.CheckNamedFramebufferStatus(fbo, gl.DRAW_FRAMEBUFFER); status != gl.FRAMEBUFFER_COMPLETE {
		gl.DeleteFramebuffers(1, &fbo)
		return 0, fmt.Errorf("gl.CheckNamedFramebufferStatus(): incomplete framebuffer 0x%x", status)
	}
	b.fbos[key] = fbo
	return fbo, nil
}

// dropFramebuffers deletes cached framebuffers using texture.
func (b *Backend) dropFramebuffers(texture uint32) {
	id := strconv.FormatUint(uint64(texture), 10)
	var stale []string
	for key := range b.fbos {
		for _, part := range strings.Split(key, ",") {
			if part == id {
				stale = append(stale, key)
				break
			}
		}
	}
	for _, key := range stale {
		fbo := b.fbos[key]
		gl.DeleteFramebuffers(1, &fbo)
		delete(b.fbos, key)
	}
}
