// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package soft

import "sync"

// Sync is signalled once every submission made to its queue before
// it was created has executed.
type Sync struct {
	done chan struct{}
	once sync.Once
}

func newSync() *Sync {
	return &Sync{done: make(chan struct{})}
}

func (s *Sync) signal() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Signalled implements gfx.Sync
func (s *Sync) Signalled() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Wait implements gfx.Sync
func (s *Sync) Wait() error {
	<-s.done
	return nil
}

// Release implements gfx.Releasable. A sync holds no backend memory.
func (s *Sync) Release() {}
