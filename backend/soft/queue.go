// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package soft

import (
	"fmt"
	"sort"
	"sync"

	"github.com/devblok/korurt/gfx"
	glm "github.com/go-gl/mathgl/mgl32"
	"github.com/sirupsen/logrus"
)

type submission struct {
	label  string
	cmds   []gfx.Command
	wait   []gfx.Sync
	signal *Sync
}

// Queue executes submissions in order on its own goroutine.
type Queue struct {
	id      uint64
	backend *Backend
	log     logrus.FieldLogger
	work    chan submission
	done    chan struct{}

	mu       sync.Mutex
	released bool

	errMu sync.Mutex
	err   error
}

// Submit implements gfx.Queue. The command list is copied, so the
// caller may reset and re-record cmds right away.
func (q *Queue) Submit(cmds *gfx.Commands, wait []gfx.Sync) error {
	s := submission{
		label: cmds.Label(),
		cmds:  append([]gfx.Command(nil), cmds.List()...),
		wait:  append([]gfx.Sync(nil), wait...),
	}
	return q.enqueue("soft.Submit", s)
}

// NewSync implements gfx.Queue
func (q *Queue) NewSync() (gfx.Sync, error) {
	s := newSync()
	if err := q.enqueue("soft.NewSync", submission{signal: s}); err != nil {
		return nil, err
	}
	return s, nil
}

// WaitIdle implements gfx.Queue. It returns the first error a program
// returned since the previous WaitIdle.
func (q *Queue) WaitIdle() error {
	s := newSync()
	if err := q.enqueue("soft.WaitIdle", submission{signal: s}); err != nil {
		return err
	}
	s.Wait()

	q.errMu.Lock()
	defer q.errMu.Unlock()
	err := q.err
	q.err = nil
	return err
}

func (q *Queue) enqueue(op string, s submission) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released {
		return fmt.Errorf("%s(): %w", op, gfx.ErrReleased)
	}
	q.work <- s
	return nil
}

// Release implements gfx.Releasable. Pending submissions are
// executed before the worker stops.
func (q *Queue) Release() {
	q.mu.Lock()
	if q.released {
		q.mu.Unlock()
		return
	}
	q.released = true
	close(q.work)
	q.mu.Unlock()

	<-q.done
	q.backend.removeQueue(q)
	q.log.Debug("queue released")
}

func (q *Queue) run() {
	defer close(q.done)
	for s := range q.work {
		for _, w := range s.wait {
			w.Wait()
		}
		if len(s.cmds) > 0 {
			if err := q.execute(s.cmds); err != nil {
				q.log.WithField("commands", s.label).Errorf("execution failed: %s", err)
				q.errMu.Lock()
				if q.err == nil {
					q.err = err
				}
				q.errMu.Unlock()
			}
		}
		if s.signal != nil {
			s.signal.signal()
		}
	}
}

// pass is the state of one render pass being executed.
type pass struct {
	window  *Window
	targets []*Image
	clear   glm.Vec4
	cleared bool
	buffers map[int]*Buffer
	images  map[int]*Image
	push    []byte
}

func (q *Queue) execute(cmds []gfx.Command) error {
	var p *pass
	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case gfx.WaitSync:
			c.Sync.Wait()
		case gfx.BeginPass:
			next, err := beginPass(c)
			if err != nil {
				return err
			}
			p = next
		case gfx.BindBuffer:
			if p == nil {
				return fmt.Errorf("soft: bind outside of a pass")
			}
			b, ok := c.Buffer.(*Buffer)
			if !ok {
				return fmt.Errorf("soft: foreign buffer %T", c.Buffer)
			}
			p.buffers[c.Slot] = b
		case gfx.BindImage:
			if p == nil {
				return fmt.Errorf("soft: bind outside of a pass")
			}
			i, ok := c.Image.(*Image)
			if !ok {
				return fmt.Errorf("soft: foreign image %T", c.Image)
			}
			p.images[c.Slot] = i
		case gfx.PushConstants:
			if p == nil {
				return fmt.Errorf("soft: push constants outside of a pass")
			}
			p.push = c.Data
		case gfx.Draw:
			if p == nil {
				return fmt.Errorf("soft: draw outside of a pass")
			}
			if err := p.draw(c); err != nil {
				return err
			}
		case gfx.EndPass:
			if p == nil {
				return fmt.Errorf("soft: end of a pass never begun")
			}
			if !p.cleared {
				unlock := p.lock()
				p.clearTargets()
				unlock()
			}
			if p.window != nil {
				if err := p.window.Present(); err != nil {
					return err
				}
			}
			p = nil
		default:
			return fmt.Errorf("soft: unknown command %T: %w", cmd, gfx.ErrUnsupported)
		}
	}
	return nil
}

func beginPass(c gfx.BeginPass) (*pass, error) {
	p := &pass{
		clear:   c.Clear,
		buffers: make(map[int]*Buffer),
		images:  make(map[int]*Image),
	}
	if c.Target.IsWindow() {
		w, ok := c.Target.Window.(*Window)
		if !ok {
			return nil, fmt.Errorf("soft: foreign window %T", c.Target.Window)
		}
		p.window = w
		p.targets = []*Image{w.image}
	}
	for _, t := range c.Target.Images {
		i, ok := t.(*Image)
		if !ok {
			return nil, fmt.Errorf("soft: foreign target %T", t)
		}
		p.targets = append(p.targets, i)
	}
	return p, nil
}

// clearTargets clears the targets once per pass. It runs with the
// targets locked, so that no other queue sees a cleared target the
// pass has not drawn to yet.
func (p *pass) clearTargets() {
	if p.cleared {
		return
	}
	for _, t := range p.targets {
		t.Surface().Fill(p.clear)
	}
	p.cleared = true
}

func (p *pass) draw(c gfx.Draw) error {
	prog, ok := c.Shader.(*Program)
	if !ok {
		return fmt.Errorf("soft: shader %T is not a program: %w", c.Shader, gfx.ErrUnsupported)
	}

	unlock := p.lock()
	defer unlock()

	p.clearTargets()
	return prog.fn(&Invocation{
		Vertices:  c.Vertices,
		Instances: c.Instances,
		pass:      p,
	})
}

// lock takes the locks of every object the pass touches in id order.
func (p *pass) lock() func() {
	objects := make(map[uint64]*memory)
	for _, b := range p.buffers {
		objects[b.id] = &b.memory
	}
	for _, i := range p.images {
		objects[i.id] = &i.memory
	}
	for _, t := range p.targets {
		objects[t.id] = &t.memory
	}

	ids := make([]uint64, 0, len(objects))
	for id := range objects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		objects[id].mu.Lock()
	}
	return func() {
		for i := len(ids) - 1; i >= 0; i-- {
			objects[ids[i]].mu.Unlock()
		}
	}
}
