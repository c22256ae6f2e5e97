// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kar_test

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/devblok/korurt/gfx"
	"github.com/devblok/korurt/resource"
	"github.com/devblok/korurt/utility/kar"
)

func writeArchive(c *qt.C) string {
	path := filepath.Join(c.TempDir(), "opentest.kar")
	data := build(c, map[string]string{
		"test/test1.txt": "this is a test",
		"test/test2.txt": "this is another test",
	})
	c.Assert(os.WriteFile(path, data, 0644), qt.IsNil)
	return path
}

func TestOpenFile(t *testing.T) {
	c := qt.New(t)
	ar, err := kar.OpenFile(writeArchive(c))
	c.Assert(err, qt.IsNil)
	defer ar.Close()
	c.Assert(ar.Names(), qt.DeepEquals, []string{"test/test1.txt", "test/test2.txt"})

	f, err := ar.ReadAll("test/test1.txt")
	c.Assert(err, qt.IsNil)
	c.Assert(string(f), qt.Equals, "this is a test")
}

func TestOpenOsFile(t *testing.T) {
	c := qt.New(t)
	r, err := os.Open(writeArchive(c))
	c.Assert(err, qt.IsNil)
	defer r.Close()

	ar, err := kar.Open(r)
	c.Assert(err, qt.IsNil)
	f, err := ar.ReadAll("test/test2.txt")
	c.Assert(err, qt.IsNil)
	c.Assert(string(f), qt.Equals, "this is another test")
}

func TestConcurrentReads(t *testing.T) {
	c := qt.New(t)
	ar, err := kar.OpenFile(writeArchive(c))
	c.Assert(err, qt.IsNil)
	defer ar.Close()

	want := map[string]string{
		"test/test1.txt": "this is a test",
		"test/test2.txt": "this is another test",
	}
	var wg sync.WaitGroup
	errs := make(chan string, 16)
	for i := 0; i < 8; i++ {
		for name, expected := range want {
			wg.Add(1)
			go func(name, expected string) {
				defer wg.Done()
				got, err := ar.ReadAll(name)
				if err != nil || string(got) != expected {
					errs <- name
				}
			}(name, expected)
		}
	}
	wg.Wait()
	close(errs)
	for name := range errs {
		c.Errorf("concurrent read of %s failed", name)
	}
}

func TestOpenMissing(t *testing.T) {
	c := qt.New(t)
	ar, err := kar.OpenFile(writeArchive(c))
	c.Assert(err, qt.IsNil)
	defer ar.Close()

	_, err = ar.Open("test/nope.txt")
	c.Assert(err, qt.ErrorIs, os.ErrNotExist)
}

func TestOpenNotAnArchive(t *testing.T) {
	c := qt.New(t)
	for _, data := range [][]byte{
		nil,
		[]byte("PK\x03\x04 this is a zip file"),
		append([]byte("KAR\x00"), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f),
		append([]byte("KAR\x00"), 4, 0, 0, 0, 0, 0, 0, 0, 1, 2, 3, 4),
	} {
		_, err := kar.Open(bytes.NewReader(data))
		c.Assert(err, qt.ErrorIs, kar.ErrFileFormat, qt.Commentf("data %q", data))
	}
}

func TestOpenFileTruncated(t *testing.T) {
	c := qt.New(t)
	path := writeArchive(c)
	data, err := os.ReadFile(path)
	c.Assert(err, qt.IsNil)
	c.Assert(os.WriteFile(path, data[:len(data)-4], 0644), qt.IsNil)

	_, err = kar.OpenFile(path)
	c.Assert(err, qt.ErrorIs, kar.ErrFileFormat)
}

func TestArchiveLoader(t *testing.T) {
	c := qt.New(t)
	ar, err := kar.OpenFile(writeArchive(c))
	c.Assert(err, qt.IsNil)
	defer ar.Close()

	var l resource.Loader = ar
	buf, err := resource.LoadBuffer(l, "test/test1.txt", resource.StaticFixed, gfx.UsageStorage)
	c.Assert(err, qt.IsNil)
	c.Assert(string(buf.Bytes()), qt.Equals, "this is a test")

	_, err = resource.LoadBuffer(l, "test/none.txt", resource.StaticFixed, gfx.UsageStorage)
	c.Assert(err, qt.ErrorIs, os.ErrNotExist)
}
