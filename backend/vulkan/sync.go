// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"fmt"
	"sync/atomic"

	vk "github.com/vulkan-go/vulkan"
)

// Sync pairs the event a submission sets on the GPU timeline with the
// fence it signals for the CPU. Release is deferred until no pending
// submission can still wait on the event.
type Sync struct {
	backend *Backend
	event   vk.Event
	fence   vk.Fence
	refs    int32
	done    atomic.Bool
}

func (b *Backend) newSync() (*Sync, error) {
	s := &Sync{backend: b, refs: 1}
	eci := vk.EventCreateInfo{
		SType: vk.StructureTypeEventCreateInfo,
	}
	if err := vk.Error(vk.CreateEvent(b.device, &eci, nil, &s.event)); err != nil {
		return nil, fmt.Errorf("vk.CreateEvent(): %s", err)
	}
	fci := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if err := vk.Error(vk.CreateFence(b.device, &fci, nil, &s.fence)); err != nil {
		vk.DestroyEvent(b.device, s.event, nil)
		return nil, fmt.Errorf("vk.CreateFence(): %s", err)
	}
	return s, nil
}

// Event returns the event set at the end of the submission.
func (s *Sync) Event() vk.Event {
	return s.event
}

// Signalled implements gfx.Sync
func (s *Sync) Signalled() bool {
	if s.done.Load() {
		return true
	}
	if vk.GetFenceStatus(s.backend.device, s.fence) == vk.Success {
		s.done.Store(true)
		return true
	}
	return false
}

// Wait implements gfx.Sync
func (s *Sync) Wait() error {
	if s.done.Load() {
		return nil
	}
	if err := vk.Error(vk.WaitForFences(s.backend.device, 1, []vk.Fence{s.fence}, vk.True, waitForever)); err != nil {
		return fmt.Errorf("vk.WaitForFences(): %s", err)
	}
	s.done.Store(true)
	return nil
}

// Release implements gfx.Sync
func (s *Sync) Release() {
	s.backend.queueMu.Lock()
	defer s.backend.queueMu.Unlock()
	s.backend.retire(s)
}

// ref and unref are called with queueMu held.
func (s *Sync) ref() {
	s.refs++
}

func (s *Sync) unref() {
	s.refs--
	if s.refs == 0 {
		s.destroy()
	}
}

func (s *Sync) destroy() {
	vk.DestroyFence(s.backend.device, s.fence, nil)
	vk.DestroyEvent(s.backend.device, s.event, nil)
}
