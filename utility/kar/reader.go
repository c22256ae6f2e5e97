// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kar

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"

	"github.com/pierrec/lz4"
	"golang.org/x/exp/mmap"
)

// Open opens the kar archive from r. It will also check
// if the file is actually a kar archive, will return an error
// wrapping ErrFileFormat when it is not.
func Open(r io.ReaderAt) (*Archive, error) {
	prefix := make([]byte, MagicLength+HeaderSizeNumberLength)
	if num, err := r.ReadAt(prefix, 0); num < len(prefix) {
		return nil, fmt.Errorf("kar.Open(): short header (%v): %w", err, ErrFileFormat)
	}
	if !bytes.Equal(prefix[:MagicLength], magic[:]) {
		return nil, fmt.Errorf("kar.Open(): bad magic %q: %w", prefix[:MagicLength], ErrFileFormat)
	}

	headerSize, err := binaryToint64(prefix[MagicLength:])
	if err != nil {
		return nil, fmt.Errorf("kar.Open(): %w", err)
	}
	if headerSize <= 0 || headerSize > 1<<30 {
		return nil, fmt.Errorf("kar.Open(): header size %d: %w", headerSize, ErrFileFormat)
	}

	headerBytes := make([]byte, headerSize)
	if num, err := r.ReadAt(headerBytes, int64(len(prefix))); int64(num) < headerSize {
		return nil, fmt.Errorf("kar.Open(): truncated header (%v): %w", err, ErrFileFormat)
	}

	var header Header
	if err := gobDecode(&header, headerBytes); err != nil {
		return nil, fmt.Errorf("kar.Open(): %s: %w", err, ErrFileFormat)
	}

	return &Archive{
		reader: r,
		header: header,
		data:   int64(len(prefix)) + headerSize,
	}, nil
}

// OpenFile memory maps the archive at path.
func OpenFile(path string) (*Archive, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("kar.OpenFile(): %w", err)
	}
	ar, err := Open(m)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if end := ar.data + ar.header.dataSize(); int64(m.Len()) < end {
		m.Close()
		return nil, fmt.Errorf("kar.OpenFile(%s): %d bytes, index needs %d: %w", path, m.Len(), end, ErrFileFormat)
	}
	ar.closer = m
	return ar, nil
}

// Archive provides concurrent io for a kar file, and can provide
// an io.Reader for each file separately to perform actions on.
type Archive struct {
	reader io.ReaderAt
	closer io.Closer
	header Header
	data   int64
}

// Header returns the archive header with its index.
func (a *Archive) Header() Header {
	return a.header
}

// Names returns the names of the archived files.
func (a *Archive) Names() []string {
	names := make([]string, len(a.header.Index))
	for i, e := range a.header.Index {
		names[i] = e.Name
	}
	return names
}

// Open returns a Reader for a file in the Archive. Unknown names
// return an error wrapping fs.ErrNotExist.
func (a *Archive) Open(name string) (*Reader, error) {
	entry, ok := a.header.Entry(name)
	if !ok {
		return nil, fmt.Errorf("kar.Open(%s): %w", name, fs.ErrNotExist)
	}
	section := io.NewSectionReader(a.reader, a.data+entry.Offset, entry.CompressedSize)
	return &Reader{
		entry:  entry,
		reader: lz4.NewReader(section),
	}, nil
}

// ReadAll returns the entire contents of a file with a given name.
func (a *Archive) ReadAll(name string) ([]byte, error) {
	r, err := a.Open(name)
	if err != nil {
		return nil, err
	}
	out := make([]byte, r.entry.Size)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("kar.ReadAll(%s): %w", name, err)
	}
	return out, nil
}

// Load implements resource.Loader
func (a *Archive) Load(id string) ([]byte, error) {
	return a.ReadAll(id)
}

// Close unmaps an archive opened with OpenFile.
func (a *Archive) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// Reader is a reader for a single file in an Archive.
// Abstracts away the location that needs to be known.
type Reader struct {
	entry  IndexEntry
	reader io.Reader
}

// Size returns the decompressed size of the file.
func (r *Reader) Size() int64 {
	return r.entry.Size
}

// Read reads already decompressed data
func (r *Reader) Read(p []byte) (n int, err error) {
	return r.reader.Read(p)
}
