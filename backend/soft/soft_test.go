// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package soft_test

import (
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	glm "github.com/go-gl/mathgl/mgl32"

	"github.com/devblok/korurt/backend/soft"
	"github.com/devblok/korurt/gfx"
)

func newImage(c *qt.C, b *soft.Backend, extent gfx.Extent, format gfx.Format) *soft.Image {
	img, err := b.NewImage(gfx.ImageDesc{
		Name:      "img",
		Extent:    extent,
		Format:    format,
		Residency: gfx.DeviceLocal,
		Sampler:   gfx.DefaultSampler,
	})
	c.Assert(err, qt.IsNil)
	return img.(*soft.Image)
}

func TestSurfaceFormats(t *testing.T) {
	c := qt.New(t)
	colour := glm.Vec4{1, 0.5, 0.25, 1}
	tests := []struct {
		format gfx.Format
		want   glm.Vec4
		tol    float32
	}{
		{gfx.FormatRGBA8, colour, 1.0 / 255},
		{gfx.FormatBGRA8, colour, 1.0 / 255},
		{gfx.FormatR8, glm.Vec4{1, 0, 0, 1}, 0},
		{gfx.FormatRG8, glm.Vec4{1, 0.5, 0, 1}, 1.0 / 255},
		{gfx.FormatR32F, glm.Vec4{1, 0, 0, 1}, 0},
		{gfx.FormatRGBA16F, colour, 0},
		{gfx.FormatRGBA32F, colour, 0},
	}
	for _, test := range tests {
		c.Run(test.format.String(), func(c *qt.C) {
			s := soft.Surface{
				Extent: gfx.Extent{Width: 3, Height: 2},
				Format: test.format,
				Pix:    make([]byte, gfx.Extent{Width: 3, Height: 2}.Bytes(test.format)),
			}
			s.Fill(colour)
			for y := 0; y < 2; y++ {
				for x := 0; x < 3; x++ {
					c.Assert(s.At(x, y).ApproxEqualThreshold(test.want, test.tol+1e-6), qt.IsTrue, qt.Commentf("pixel %d,%d: %v", x, y, s.At(x, y)))
				}
			}
		})
	}
}

func TestHalfFloats(t *testing.T) {
	c := qt.New(t)
	s := soft.Surface{Extent: gfx.Extent{Width: 1, Height: 1}, Format: gfx.FormatRGBA16F, Pix: make([]byte, 8)}

	s.Set(0, 0, glm.Vec4{-2, 65504, 0.000061035156, 1e9})
	got := s.At(0, 0)
	c.Assert(got[0], qt.Equals, float32(-2))
	c.Assert(got[1], qt.Equals, float32(65504))
	c.Assert(got[2], qt.Equals, float32(0.000061035156))
	c.Assert(got[3] > 65504, qt.IsTrue)
	c.Assert(s.Pix[6:8], qt.DeepEquals, []byte{0x00, 0x7c})
}

func TestSample(t *testing.T) {
	c := qt.New(t)
	s := soft.Surface{Extent: gfx.Extent{Width: 2, Height: 1}, Format: gfx.FormatR8, Pix: []byte{0, 255}}

	repeat := gfx.DefaultSampler
	clamp := gfx.Sampler{AddressU: gfx.AddressClampToEdge, AddressV: gfx.AddressClampToEdge}
	mirror := gfx.Sampler{AddressU: gfx.AddressMirroredRepeat, AddressV: gfx.AddressMirroredRepeat}

	c.Assert(s.Sample(0.25, 0.5, repeat)[0], qt.Equals, float32(0))
	c.Assert(s.Sample(0.75, 0.5, repeat)[0], qt.Equals, float32(1))
	c.Assert(s.Sample(1.25, 0.5, repeat)[0], qt.Equals, float32(0))
	c.Assert(s.Sample(1.25, 0.5, clamp)[0], qt.Equals, float32(1))
	c.Assert(s.Sample(1.25, 0.5, mirror)[0], qt.Equals, float32(1))
	c.Assert(s.Sample(1.75, 0.5, mirror)[0], qt.Equals, float32(0))
}

func TestMemory(t *testing.T) {
	c := qt.New(t)
	b := soft.New(soft.WithMemoryLimit(gfx.DeviceLocal, 16))
	defer b.Release()

	buf, err := b.NewBuffer(gfx.BufferDesc{Name: "buf", Size: 8, Residency: gfx.DeviceLocal})
	c.Assert(err, qt.IsNil)
	_, err = buf.Map()
	c.Assert(err, qt.ErrorIs, gfx.ErrNotMappable)

	c.Assert(buf.Upload(4, []byte{1, 2, 3, 4}), qt.IsNil)
	c.Assert(buf.Upload(6, []byte{1, 2, 3, 4}), qt.ErrorMatches, `soft.Upload\(buf\): range \[6:10\] out of bounds of 8 bytes`)
	out := make([]byte, 8)
	c.Assert(buf.Download(out), qt.IsNil)
	c.Assert(out, qt.DeepEquals, []byte{0, 0, 0, 0, 1, 2, 3, 4})

	_, err = b.NewBuffer(gfx.BufferDesc{Name: "big", Size: 9, Residency: gfx.DeviceLocal})
	c.Assert(err, qt.ErrorIs, gfx.ErrOutOfMemory)
	c.Assert(err, qt.ErrorMatches, `soft.NewBuffer\(big\): 9 bytes of device-local memory, 8 of 16 in use: requested memory class is unavailable`)

	buf.Release()
	buf.Release()
	c.Assert(b.Allocated(gfx.DeviceLocal), qt.Equals, 0)
	c.Assert(buf.Download(out), qt.ErrorIs, gfx.ErrReleased)

	img := newImage(c, b, gfx.Extent{Width: 2, Height: 2}, gfx.FormatRGBA8)
	c.Assert(img.Upload(make([]byte, 15)), qt.ErrorMatches, `soft.Upload\(img\): 15 bytes for 2x2 rgba8 image`)
}

func TestQueueRunsInOrder(t *testing.T) {
	c := qt.New(t)
	b := soft.New()
	defer b.Release()

	q, err := b.NewQueue()
	c.Assert(err, qt.IsNil)
	target := newImage(c, b, gfx.Extent{Width: 1, Height: 1}, gfx.FormatR8)

	var (
		mu  sync.Mutex
		got []int
	)
	cmds := gfx.NewCommands("ordered")
	for i := 0; i < 100; i++ {
		n := i
		cmds.Reset()
		cmds.BeginPass(gfx.Target{Images: []gfx.Image{target}}, glm.Vec4{})
		cmds.Draw(soft.NewProgram("append", func(*soft.Invocation) error {
			mu.Lock()
			got = append(got, n)
			mu.Unlock()
			return nil
		}), 3, 1)
		cmds.EndPass()
		c.Assert(q.Submit(cmds, nil), qt.IsNil)
	}
	c.Assert(q.WaitIdle(), qt.IsNil)

	mu.Lock()
	defer mu.Unlock()
	c.Assert(got, qt.HasLen, 100)
	for i, n := range got {
		c.Assert(n, qt.Equals, i)
	}
}

func TestWaitListBlocksQueueNotCaller(t *testing.T) {
	c := qt.New(t)
	b := soft.New()
	defer b.Release()

	blocker, err := b.NewQueue()
	c.Assert(err, qt.IsNil)
	waiter, err := b.NewQueue()
	c.Assert(err, qt.IsNil)

	release := make(chan struct{})
	target := newImage(c, b, gfx.Extent{Width: 1, Height: 1}, gfx.FormatR8)
	block := gfx.NewCommands("block")
	block.BeginPass(gfx.Target{Images: []gfx.Image{target}}, glm.Vec4{})
	block.Draw(soft.NewProgram("block", func(*soft.Invocation) error {
		<-release
		return nil
	}), 0, 0)
	block.EndPass()
	c.Assert(blocker.Submit(block, nil), qt.IsNil)
	done, err := blocker.NewSync()
	c.Assert(err, qt.IsNil)

	// the submission returns while the wait is pending
	c.Assert(waiter.Submit(gfx.NewCommands("empty"), []gfx.Sync{done}), qt.IsNil)
	after, err := waiter.NewSync()
	c.Assert(err, qt.IsNil)

	time.Sleep(10 * time.Millisecond)
	c.Assert(done.Signalled(), qt.IsFalse)
	c.Assert(after.Signalled(), qt.IsFalse)

	close(release)
	c.Assert(after.Wait(), qt.IsNil)
	c.Assert(done.Signalled(), qt.IsTrue)
}

func TestReleasedQueue(t *testing.T) {
	c := qt.New(t)
	b := soft.New()
	defer b.Release()

	q, err := b.NewQueue()
	c.Assert(err, qt.IsNil)
	s, err := q.NewSync()
	c.Assert(err, qt.IsNil)

	q.Release()
	c.Assert(s.Signalled(), qt.IsTrue)
	c.Assert(q.Submit(gfx.NewCommands("late"), nil), qt.ErrorIs, gfx.ErrReleased)
	_, err = q.NewSync()
	c.Assert(err, qt.ErrorIs, gfx.ErrReleased)
	q.Release()
}

func TestForeignObjects(t *testing.T) {
	c := qt.New(t)
	b := soft.New()
	defer b.Release()

	q, err := b.NewQueue()
	c.Assert(err, qt.IsNil)

	cmds := gfx.NewCommands("foreign")
	cmds.Draw(soft.Clear(), 0, 0)
	c.Assert(q.Submit(cmds, nil), qt.IsNil)
	c.Assert(q.WaitIdle(), qt.ErrorMatches, `soft: draw outside of a pass`)
	c.Assert(q.WaitIdle(), qt.IsNil)
}

func TestLibrary(t *testing.T) {
	c := qt.New(t)
	lib := soft.Library()
	for _, name := range []string{"clear", "copy", "invert", "gradient"} {
		c.Assert(lib[name], qt.Not(qt.IsNil))
		c.Assert(lib[name].Name(), qt.Equals, name)
	}
}

func BenchmarkFill(b *testing.B) {
	s := soft.Surface{
		Extent: gfx.Extent{Width: 1920, Height: 1080},
		Format: gfx.FormatRGBA8,
		Pix:    make([]byte, 1920*1080*4),
	}
	for idx := 0; idx < b.N; idx++ {
		s.Fill(glm.Vec4{0.1, 0.2, 0.3, 1})
	}
}
