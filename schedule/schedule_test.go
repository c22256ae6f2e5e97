// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package schedule_test

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/devblok/korurt/gfx"
	"github.com/devblok/korurt/schedule"
)

type fakeSync struct {
	done     chan struct{}
	released bool
}

func (s *fakeSync) Signalled() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *fakeSync) Wait() error {
	<-s.done
	return nil
}

func (s *fakeSync) Release() {
	s.released = true
}

func (s *fakeSync) signal() {
	close(s.done)
}

// fakeQueue hands out syncs the test signals by hand.
type fakeQueue struct {
	syncs []*fakeSync
}

func (q *fakeQueue) Submit(*gfx.Commands, []gfx.Sync) error { return nil }
func (q *fakeQueue) WaitIdle() error                        { return nil }
func (q *fakeQueue) Release()                               {}

func (q *fakeQueue) NewSync() (gfx.Sync, error) {
	s := &fakeSync{done: make(chan struct{})}
	q.syncs = append(q.syncs, s)
	return s, nil
}

var semaphores = gfx.Capabilities{WaitSemaphores: true, MultiQueue: true}

func newScheduler(caps gfx.Capabilities, k int) *schedule.Scheduler {
	log, _ := test.NewNullLogger()
	log.SetLevel(logrus.TraceLevel)
	return schedule.New(caps, k, log)
}

func TestFingerprintsIncrease(t *testing.T) {
	c := qt.New(t)
	s := newScheduler(semaphores, 2)

	prev := s.NextFingerprint()
	for i := 0; i < 100; i++ {
		fp := s.NextFingerprint()
		c.Assert(fp > prev, qt.IsTrue)
		prev = fp
	}
}

func TestRegisterSync(t *testing.T) {
	c := qt.New(t)
	s := newScheduler(semaphores, 2)
	q := &fakeQueue{}

	_, ok := s.Fingerprint(1)
	c.Assert(ok, qt.IsFalse)

	fp := s.NextFingerprint()
	c.Assert(s.RegisterSync(1, fp, q), qt.IsNil)

	current, ok := s.Fingerprint(1)
	c.Assert(ok, qt.IsTrue)
	c.Assert(current, qt.Equals, fp)

	sync, ok := s.Sync(fp)
	c.Assert(ok, qt.IsTrue)
	c.Assert(sync, qt.Equals, gfx.Sync(q.syncs[0]))
}

func TestGPUWaitOnWaitList(t *testing.T) {
	c := qt.New(t)
	s := newScheduler(semaphores, 2)
	q := &fakeQueue{}

	c.Assert(s.RegisterSync(1, s.NextFingerprint(), q), qt.IsNil)
	s.DependsOn(2, 1)

	cmds := gfx.NewCommands("consumer")
	wait := s.WaitList(2, cmds)
	c.Assert(wait, qt.HasLen, 1)
	c.Assert(wait[0], qt.Equals, gfx.Sync(q.syncs[0]))
	c.Assert(cmds.Len(), qt.Equals, 0)
}

func TestGPUWaitOnCommandStream(t *testing.T) {
	c := qt.New(t)
	s := newScheduler(gfx.Capabilities{}, 2)
	q := &fakeQueue{}

	c.Assert(s.RegisterSync(1, s.NextFingerprint(), q), qt.IsNil)
	c.Assert(s.RegisterSync(1, s.NextFingerprint(), q), qt.IsNil)
	s.DependsOn(2, 1)

	cmds := gfx.NewCommands("consumer")
	wait := s.WaitList(2, cmds)
	c.Assert(wait, qt.HasLen, 0)
	c.Assert(cmds.List(), qt.HasLen, 1)
	c.Assert(cmds.List()[0], qt.Equals, gfx.Command(gfx.WaitSync{Sync: q.syncs[1]}))
}

func TestSharedSignal(t *testing.T) {
	c := qt.New(t)
	s := newScheduler(semaphores, 2)
	q := &fakeQueue{}

	c.Assert(s.RegisterSync(1, s.NextFingerprint(), q), qt.IsNil)
	s.DependsOn(2, 1)
	s.DependsOn(3, 1)

	a := s.WaitList(2, gfx.NewCommands("a"))
	b := s.WaitList(3, gfx.NewCommands("b"))
	c.Assert(a, qt.HasLen, 1)
	c.Assert(a[0], qt.Equals, b[0])
	c.Assert(s.Dependents(1), qt.DeepEquals, []schedule.RendererID{2, 3})
}

func TestProducerWaitsOnDependents(t *testing.T) {
	c := qt.New(t)
	s := newScheduler(semaphores, 2)
	q := &fakeQueue{}
	s.DependsOn(2, 1)
	s.DependsOn(3, 1)

	// dependents that never rendered are skipped
	c.Assert(s.WaitList(1, gfx.NewCommands("producer")), qt.HasLen, 0)

	c.Assert(s.RegisterSync(1, s.NextFingerprint(), q), qt.IsNil)
	c.Assert(s.RegisterSync(2, s.NextFingerprint(), q), qt.IsNil)
	wait := s.WaitList(1, gfx.NewCommands("producer"))
	c.Assert(wait, qt.HasLen, 1)
	c.Assert(wait[0], qt.Equals, gfx.Sync(q.syncs[1]))

	c.Assert(s.RegisterSync(3, s.NextFingerprint(), q), qt.IsNil)
	c.Assert(s.RegisterSync(2, s.NextFingerprint(), q), qt.IsNil)
	wait = s.WaitList(1, gfx.NewCommands("producer"))
	c.Assert(wait, qt.HasLen, 2)
	c.Assert(wait[0], qt.Equals, gfx.Sync(q.syncs[3]))
	c.Assert(wait[1], qt.Equals, gfx.Sync(q.syncs[2]))
}

func TestProducerWaitsOnDependentsInCommandStream(t *testing.T) {
	c := qt.New(t)
	s := newScheduler(gfx.Capabilities{}, 2)
	q := &fakeQueue{}
	s.DependsOn(2, 1)

	c.Assert(s.RegisterSync(1, s.NextFingerprint(), q), qt.IsNil)
	c.Assert(s.RegisterSync(2, s.NextFingerprint(), q), qt.IsNil)

	cmds := gfx.NewCommands("producer")
	c.Assert(s.WaitList(1, cmds), qt.HasLen, 0)
	c.Assert(cmds.List(), qt.HasLen, 1)
	c.Assert(cmds.List()[0], qt.Equals, gfx.Command(gfx.WaitSync{Sync: q.syncs[1]}))
}

func TestWaitOnNeverRenderedIsFatal(t *testing.T) {
	c := qt.New(t)
	s := newScheduler(semaphores, 2)

	s.DependsOn(2, 1)
	c.Assert(func() { s.WaitList(2, gfx.NewCommands("consumer")) }, qt.PanicMatches, `schedule.GPUWaitOn: renderer 1 has never rendered`)
}

func TestSelfDependencyIsFatal(t *testing.T) {
	c := qt.New(t)
	s := newScheduler(semaphores, 2)
	c.Assert(func() { s.DependsOn(4, 4) }, qt.PanicMatches, `schedule.DependsOn: renderer 4 depends on itself`)
}

func TestDependencies(t *testing.T) {
	c := qt.New(t)
	s := newScheduler(semaphores, 2)

	s.DependsOn(5, 3)
	s.DependsOn(5, 1)
	s.DependsOn(5, 3)
	c.Assert(s.Dependencies(5), qt.DeepEquals, []schedule.RendererID{1, 3})

	s.Independent(5, 3)
	c.Assert(s.Dependencies(5), qt.DeepEquals, []schedule.RendererID{1})
}

func TestOrder(t *testing.T) {
	c := qt.New(t)
	s := newScheduler(semaphores, 2)

	// 4 <- 2 <- 1, 4 <- 3
	s.DependsOn(1, 2)
	s.DependsOn(2, 4)
	s.DependsOn(3, 4)
	s.DependsOn(1, 9) // not rendered this frame

	order, err := s.Order([]schedule.RendererID{1, 2, 3, 4})
	c.Assert(err, qt.IsNil)
	c.Assert(order, qt.DeepEquals, []schedule.RendererID{4, 2, 1, 3})

	s.DependsOn(4, 1)
	_, err = s.Order([]schedule.RendererID{1, 2, 3, 4})
	c.Assert(err, qt.ErrorMatches, `schedule.Order\(\): dependency cycle between renderers 1, 2, 3, 4`)
}

func TestSyncMapIsBounded(t *testing.T) {
	c := qt.New(t)
	const k = 3
	s := newScheduler(semaphores, k)
	q := &fakeQueue{}

	for frame := 0; frame < 50; frame++ {
		if frame >= k {
			// the frame k back has completed
			q.syncs[frame-k].signal()
		}
		c.Assert(s.Throttle(1), qt.IsNil)
		c.Assert(s.RegisterSync(1, s.NextFingerprint(), q), qt.IsNil)
		c.Assert(s.SyncCount() <= k, qt.IsTrue, qt.Commentf("frame %d: %d syncs", frame, s.SyncCount()))
	}
	c.Assert(q.syncs[0].released, qt.IsTrue)
	c.Assert(q.syncs[49].released, qt.IsFalse)
}

func TestUnsignalledSyncsAreKept(t *testing.T) {
	c := qt.New(t)
	s := newScheduler(semaphores, 1)
	q := &fakeQueue{}

	for i := 0; i < 5; i++ {
		c.Assert(s.RegisterSync(1, s.NextFingerprint(), q), qt.IsNil)
	}
	c.Assert(s.SyncCount(), qt.Equals, 5)

	for _, sync := range q.syncs {
		sync.signal()
	}
	c.Assert(s.RegisterSync(1, s.NextFingerprint(), q), qt.IsNil)
	c.Assert(s.SyncCount(), qt.Equals, 1)
}

func TestThrottleBlocks(t *testing.T) {
	c := qt.New(t)
	s := newScheduler(semaphores, 2)
	q := &fakeQueue{}

	c.Assert(s.Throttle(1), qt.IsNil)
	c.Assert(s.RegisterSync(1, s.NextFingerprint(), q), qt.IsNil)
	c.Assert(s.Throttle(1), qt.IsNil)
	c.Assert(s.RegisterSync(1, s.NextFingerprint(), q), qt.IsNil)

	done := make(chan error)
	go func() {
		done <- s.Throttle(1)
	}()

	select {
	case <-done:
		c.Fatal("third frame was not throttled")
	case <-time.After(20 * time.Millisecond):
	}

	q.syncs[0].signal()
	select {
	case err := <-done:
		c.Assert(err, qt.IsNil)
	case <-time.After(5 * time.Second):
		c.Fatal("throttle did not return after the oldest frame completed")
	}
}

func TestForget(t *testing.T) {
	c := qt.New(t)
	s := newScheduler(semaphores, 2)
	q := &fakeQueue{}

	c.Assert(s.RegisterSync(1, s.NextFingerprint(), q), qt.IsNil)
	c.Assert(s.RegisterSync(2, s.NextFingerprint(), q), qt.IsNil)
	s.DependsOn(2, 1)
	s.DependsOn(1, 3)

	s.Forget(1)
	_, ok := s.Fingerprint(1)
	c.Assert(ok, qt.IsFalse)
	c.Assert(s.SyncCount(), qt.Equals, 1)
	c.Assert(q.syncs[0].released, qt.IsTrue)
	c.Assert(s.Dependencies(1), qt.HasLen, 0)

	// consumers of a forgotten renderer fail on their next wait
	c.Assert(func() { s.WaitList(2, gfx.NewCommands("consumer")) }, qt.PanicMatches, `schedule.GPUWaitOn: renderer 1 has never rendered`)

	s.Release()
	c.Assert(s.SyncCount(), qt.Equals, 0)
	c.Assert(q.syncs[1].released, qt.IsTrue)
}
