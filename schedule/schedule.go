// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package schedule orders GPU work across renderers. Every submission of a
// renderer is named by a fingerprint; the scheduler keeps the sync primitive
// signalled by that submission, and renderers that declared a dependency
// wait on the producer's latest fingerprint on the GPU, never on the CPU.
package schedule

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/devblok/korurt/gfx"
	"github.com/sirupsen/logrus"
)

// RendererID is the identity of a renderer. Unlike a renderer handle it
// is never reused.
type RendererID uint64

// Fingerprint names one submission.
type Fingerprint uint64

type entry struct {
	owner RendererID
	sync  gfx.Sync
}

// New creates a scheduler for a backend with capabilities caps. At most
// maxInFlight submissions of one renderer are tracked at a time.
func New(caps gfx.Capabilities, maxInFlight int, log logrus.FieldLogger) *Scheduler {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{
		caps:        caps,
		maxInFlight: maxInFlight,
		log:         log,
		dependsOn:   make(map[RendererID]map[RendererID]bool),
		current:     make(map[RendererID]Fingerprint),
		syncs:       make(map[Fingerprint]entry),
		history:     make(map[RendererID][]Fingerprint),
	}
}

// Scheduler tracks dependencies and submission fingerprints.
// It is safe for concurrent use.
type Scheduler struct {
	caps        gfx.Capabilities
	maxInFlight int
	log         logrus.FieldLogger

	mu        sync.Mutex
	next      Fingerprint
	dependsOn map[RendererID]map[RendererID]bool
	current   map[RendererID]Fingerprint
	syncs     map[Fingerprint]entry
	history   map[RendererID][]Fingerprint
}

// MaxFramesInFlight returns the number of submissions tracked per renderer.
func (s *Scheduler) MaxFramesInFlight() int {
	return s.maxInFlight
}

// DependsOn declares that consumer reads what producer writes.
func (s *Scheduler) DependsOn(consumer, producer RendererID) {
	if consumer == producer {
		gfx.Violation("schedule.DependsOn", "renderer %d depends on itself", consumer)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	deps, ok := s.dependsOn[consumer]
	if !ok {
		deps = make(map[RendererID]bool)
		s.dependsOn[consumer] = deps
	}
	deps[producer] = true
	s.log.WithFields(logrus.Fields{
		"renderer":   consumer,
		"depends_on": producer,
	}).Debug("dependency declared")
}

// Independent removes a declared dependency.
func (s *Scheduler) Independent(consumer, producer RendererID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dependsOn[consumer], producer)
}

// Dependencies returns the producers consumer depends on, sorted.
func (s *Scheduler) Dependencies(consumer RendererID) []RendererID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dependencies(consumer)
}

func (s *Scheduler) dependencies(consumer RendererID) []RendererID {
	deps := make([]RendererID, 0, len(s.dependsOn[consumer]))
	for id := range s.dependsOn[consumer] {
		deps = append(deps, id)
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i] < deps[j] })
	return deps
}

// Dependents returns the consumers that depend on producer, sorted.
func (s *Scheduler) Dependents(producer RendererID) []RendererID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []RendererID
	for consumer, deps := range s.dependsOn {
		if deps[producer] {
			out = append(out, consumer)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Order sorts ids so that every producer comes before its consumers.
// Dependencies on renderers outside ids are ignored. Ties are broken
// by id. A cycle is an error.
func (s *Scheduler) Order(ids []RendererID) ([]RendererID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	present := make(map[RendererID]bool, len(ids))
	for _, id := range ids {
		present[id] = true
	}
	indegree := make(map[RendererID]int, len(ids))
	consumers := make(map[RendererID][]RendererID)
	for _, id := range ids {
		for dep := range s.dependsOn[id] {
			if present[dep] {
				indegree[id]++
				consumers[dep] = append(consumers[dep], id)
			}
		}
	}

	var ready []RendererID
	for _, id := range ids {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]RendererID, 0, len(ids))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, c := range consumers[id] {
			indegree[c]--
			if indegree[c] == 0 {
				ready = append(ready, c)
			}
		}
	}

	if len(order) != len(ids) {
		var cycle []string
		for _, id := range ids {
			if indegree[id] > 0 {
				cycle = append(cycle, fmt.Sprint(id))
			}
		}
		sort.Strings(cycle)
		return nil, fmt.Errorf("schedule.Order(): dependency cycle between renderers %s", strings.Join(cycle, ", "))
	}
	return order, nil
}

// NextFingerprint assigns the fingerprint of a new submission.
func (s *Scheduler) NextFingerprint() Fingerprint {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return s.next
}

// RegisterSync creates the sync primitive of submission fp, made by
// renderer id on queue, and makes fp the renderer's current fingerprint.
// It must be called right after the submission.
func (s *Scheduler) RegisterSync(id RendererID, fp Fingerprint, queue gfx.Queue) error {
	primitive, err := queue.NewSync()
	if err != nil {
		return fmt.Errorf("schedule.RegisterSync(%d): %w", fp, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.syncs[fp] = entry{owner: id, sync: primitive}
	s.current[id] = fp
	s.history[id] = append(s.history[id], fp)
	s.evict(id)

	s.log.WithFields(logrus.Fields{
		"renderer":    id,
		"fingerprint": fp,
	}).Trace("sync registered")
	return nil
}

// evict drops signalled syncs of id older than the last maxInFlight.
func (s *Scheduler) evict(id RendererID) {
	h := s.history[id]
	for len(h) > s.maxInFlight {
		e := s.syncs[h[0]]
		if !e.sync.Signalled() {
			break
		}
		e.sync.Release()
		delete(s.syncs, h[0])
		h = h[1:]
	}
	s.history[id] = h
}

// Fingerprint returns the current fingerprint of renderer id.
func (s *Scheduler) Fingerprint(id RendererID) (Fingerprint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fp, ok := s.current[id]
	return fp, ok
}

// Sync returns the sync primitive of fp, if it is still tracked.
func (s *Scheduler) Sync(fp Fingerprint) (gfx.Sync, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.syncs[fp]
	return e.sync, ok
}

// GPUWaitOn makes the work recorded next wait for the latest submission
// of dependency. Backends with wait semaphores get the sync appended to
// the returned wait list, other backends get a wait recorded into cmds.
// Waiting on a renderer that never rendered is fatal.
func (s *Scheduler) GPUWaitOn(dependency RendererID, cmds *gfx.Commands, wait []gfx.Sync) []gfx.Sync {
	s.mu.Lock()
	fp, ok := s.current[dependency]
	var e entry
	if ok {
		e = s.syncs[fp]
	}
	s.mu.Unlock()

	if !ok {
		gfx.Violation("schedule.GPUWaitOn", "renderer %d has never rendered", dependency)
	}
	if s.caps.WaitSemaphores {
		return append(wait, e.sync)
	}
	cmds.WaitSync(e.sync)
	return wait
}

// WaitList makes the work recorded next into cmds wait for every declared
// dependency of id, and returns the submission wait list. It also waits
// for the latest submission of every dependent that already rendered, so
// that a new write of id never lands before a dependent read the last one.
func (s *Scheduler) WaitList(id RendererID, cmds *gfx.Commands) []gfx.Sync {
	var wait []gfx.Sync
	for _, dep := range s.Dependencies(id) {
		wait = s.GPUWaitOn(dep, cmds, wait)
	}
	for _, reader := range s.Dependents(id) {
		if _, ok := s.Fingerprint(reader); ok {
			wait = s.GPUWaitOn(reader, cmds, wait)
		}
	}
	return wait
}

// Throttle blocks until at most maxInFlight-1 submissions of id are
// pending, so that the next one keeps id within its frames in flight.
func (s *Scheduler) Throttle(id RendererID) error {
	s.mu.Lock()
	h := s.history[id]
	if len(h) < s.maxInFlight {
		s.mu.Unlock()
		return nil
	}
	oldest := s.syncs[h[len(h)-s.maxInFlight]].sync
	s.mu.Unlock()

	if err := oldest.Wait(); err != nil {
		return fmt.Errorf("schedule.Throttle(%d): %w", id, err)
	}

	s.mu.Lock()
	s.evict(id)
	s.mu.Unlock()
	return nil
}

// Forget drops the fingerprints and the declared dependencies of id.
// Dependencies other renderers declared on id are kept, so that their
// next render fails instead of silently losing ordering.
func (s *Scheduler) Forget(id RendererID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, fp := range s.history[id] {
		s.syncs[fp].sync.Release()
		delete(s.syncs, fp)
	}
	delete(s.history, id)
	delete(s.current, id)
	delete(s.dependsOn, id)
	s.log.WithField("renderer", id).Debug("renderer forgotten")
}

// SyncCount returns the number of tracked sync primitives.
func (s *Scheduler) SyncCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.syncs)
}

// Release releases every tracked sync primitive.
func (s *Scheduler) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for fp, e := range s.syncs {
		e.sync.Release()
		delete(s.syncs, fp)
	}
	s.history = make(map[RendererID][]Fingerprint)
	s.current = make(map[RendererID]Fingerprint)
}
