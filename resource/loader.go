// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"io/ioutil"
	"path/filepath"

	"github.com/devblok/korurt/gfx"

	// decoders for image payloads
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Loader describes a payload loader mechanism.
type Loader interface {

	// Load tries to find and load the payload
	// asociated with the provided id.
	Load(id string) ([]byte, error)
}

// DirLoader loads payloads from files below a directory.
type DirLoader string

// Load implements Loader
func (d DirLoader) Load(id string) ([]byte, error) {
	return ioutil.ReadFile(filepath.Join(string(d), filepath.FromSlash(id)))
}

// DecodeImage decodes png, jpeg, bmp, tiff or webp data.
func DecodeImage(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("image.Decode(): %s", err.Error())
	}
	return img, nil
}

// LoadBuffer loads a buffer resource payload through l.
func LoadBuffer(l Loader, id string, access Access, usage gfx.Usage) (*Buffer, error) {
	data, err := l.Load(id)
	if err != nil {
		return nil, fmt.Errorf("resource.LoadBuffer(%s): %w", id, err)
	}
	return &Buffer{name: id, access: access, usage: usage, data: data}, nil
}

// LoadImage loads and decodes an image resource through l.
func LoadImage(l Loader, id string, access Access) (*Image, error) {
	data, err := l.Load(id)
	if err != nil {
		return nil, fmt.Errorf("resource.LoadImage(%s): %w", id, err)
	}
	img, err := DecodeImage(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("resource.LoadImage(%s): %w", id, err)
	}
	return ImageFromImage(id, access, img)
}
