// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package opengl

import (
	"testing"

	"github.com/devblok/korurt/gfx"
	qt "github.com/frankban/quicktest"
	"github.com/go-gl/gl/v4.5-core/gl"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestFormatsCovered(t *testing.T) {
	c := qt.New(t)
	for f := gfx.FormatRGBA8; f <= gfx.FormatRGBA32F; f++ {
		_, ok := formats[f]
		c.Assert(ok, qt.IsTrue, qt.Commentf("format %s", f))
	}
	c.Assert(formats[gfx.FormatBGRA8].format, qt.Equals, uint32(gl.BGRA))
	c.Assert(formats[gfx.FormatRGBA16F].xtype, qt.Equals, uint32(gl.HALF_FLOAT))
}

func TestBufferTarget(t *testing.T) {
	c := qt.New(t)
	c.Assert(bufferTarget(gfx.UsageUniform), qt.Equals, uint32(gl.UNIFORM_BUFFER))
	c.Assert(bufferTarget(gfx.UsageStorage), qt.Equals, uint32(gl.SHADER_STORAGE_BUFFER))
	c.Assert(bufferTarget(gfx.UsageVertex|gfx.UsageIndex), qt.Equals, uint32(gl.SHADER_STORAGE_BUFFER))
}

func TestSamplerTranslation(t *testing.T) {
	c := qt.New(t)
	c.Assert(filter(gfx.FilterNearest), qt.Equals, int32(gl.NEAREST))
	c.Assert(filter(gfx.FilterLinear), qt.Equals, int32(gl.LINEAR))
	c.Assert(wrap(gfx.AddressClampToEdge), qt.Equals, int32(gl.CLAMP_TO_EDGE))
	c.Assert(wrap(gfx.AddressMirroredRepeat), qt.Equals, int32(gl.MIRRORED_REPEAT))
	c.Assert(wrap(gfx.AddressRepeat), qt.Equals, int32(gl.REPEAT))
}

func TestFramebufferKey(t *testing.T) {
	key := framebufferKey([]*Image{{texture: 3}, {texture: 12}})
	qt.Assert(t, key, qt.Equals, "3,12")
}

func TestLibrary(t *testing.T) {
	c := qt.New(t)
	lib := Library()
	for _, name := range []string{"clear", "copy", "invert", "gradient"} {
		s, ok := lib[name]
		c.Assert(ok, qt.IsTrue, qt.Commentf("program %s", name))
		c.Assert(s.Name(), qt.Equals, name)
	}
}

// foreignCommand is a command no backend records.
type foreignCommand struct {
	gfx.EndPass
}

func TestExecuteRejectsUnknownCommands(t *testing.T) {
	c := qt.New(t)
	b := &Backend{}
	err := b.execute([]gfx.Command{foreignCommand{}})
	c.Assert(err, qt.ErrorIs, gfx.ErrUnsupported)
	c.Assert(err, qt.ErrorMatches, `opengl: unknown command opengl.foreignCommand: .*`)
}

func TestSyncReleaseAfterBackend(t *testing.T) {
	c := qt.New(t)
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	b := &Backend{log: log, released: true}

	s := &Sync{backend: b, ready: make(chan struct{})}
	s.Release()

	entry := hook.LastEntry()
	c.Assert(entry, qt.IsNotNil)
	c.Assert(entry.Level, qt.Equals, logrus.DebugLevel)
	c.Assert(entry.Data[logrus.ErrorKey], qt.ErrorIs, gfx.ErrReleased)
}
