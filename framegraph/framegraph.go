// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package framegraph reads frame graph descriptions from TOML and builds
// them into a core.Context. A graph lists resources, and renderers that
// bind them, read the outputs of other renderers and draw into images or
// the window:
//
//	[[resource]]
//	name = "tint"
//	type = "buffer"
//	access = "dynamic_fixed"
//	usage = ["uniform"]
//	size = 16
//
//	[[renderer]]
//	name = "background"
//	shader = "gradient"
//	push = [0.5]
//
//	  [[renderer.output]]
//	  name = "background.colour"
//	  width = 256
//	  height = 256
//
//	[[renderer]]
//	name = "post"
//	shader = "invert"
//	inputs = ["background:0"]
//	window = true
package framegraph

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Graph is a parsed frame graph.
type Graph struct {
	Resources []Resource `toml:"resource"`
	Renderers []Renderer `toml:"renderer"`
}

// Resource describes a buffer or image resource.
type Resource struct {
	Name   string `toml:"name"`
	Type   string `toml:"type,omitempty"`
	Access string `toml:"access,omitempty"`

	// File names a payload fetched through the loader. Image payloads
	// are decoded, buffer payloads are used as is.
	File string `toml:"file,omitempty"`

	// Buffers
	Size  int       `toml:"size,omitempty"`
	Usage []string  `toml:"usage,omitempty"`
	Data  []float32 `toml:"data,omitempty"`

	// Images
	Width   int     `toml:"width,omitempty"`
	Height  int     `toml:"height,omitempty"`
	Format  string  `toml:"format,omitempty"`
	Sampler Sampler `toml:"sampler,omitempty"`
}

// Sampler describes the sampler of an image resource.
type Sampler struct {
	Filter     string  `toml:"filter,omitempty"`
	Address    string  `toml:"address,omitempty"`
	Anisotropy float32 `toml:"anisotropy,omitempty"`
}

// Output describes an off-screen image a renderer draws into.
type Output struct {
	Name   string `toml:"name"`
	Width  int    `toml:"width,omitempty"`
	Height int    `toml:"height,omitempty"`
	Format string `toml:"format,omitempty"`
	Access string `toml:"access,omitempty"`
}

// Renderer describes a renderer.
type Renderer struct {
	Name      string    `toml:"name"`
	Shader    string    `toml:"shader,omitempty"`
	Resources []string  `toml:"resources,omitempty"`
	Inputs    []string  `toml:"inputs,omitempty"`
	DependsOn []string  `toml:"depends_on,omitempty"`
	Window    bool      `toml:"window,omitempty"`
	Outputs   []Output  `toml:"output,omitempty"`
	Clear     []float32 `toml:"clear,omitempty"`
	Vertices  int       `toml:"vertices,omitempty"`
	Instances int       `toml:"instances,omitempty"`
	Push      []float32 `toml:"push,omitempty"`
}

// Input is a reference to the n-th output of a renderer.
type Input struct {
	Renderer string
	Output   int
}

func (i Input) String() string {
	return fmt.Sprintf("%s:%d", i.Renderer, i.Output)
}

// ParseInput parses "renderer:n" and "renderer", which is its first output.
func ParseInput(s string) (Input, error) {
	name, idx, found := strings.Cut(s, ":")
	if name == "" {
		return Input{}, fmt.Errorf("input %q names no renderer", s)
	}
	if !found {
		return Input{Renderer: name}, nil
	}
	n, err := strconv.Atoi(idx)
	if err != nil || n < 0 {
		return Input{}, fmt.Errorf("input %q has an invalid output index", s)
	}
	return Input{Renderer: name, Output: n}, nil
}

// PushConstants encodes the push floats as a little endian block.
func (r Renderer) PushConstants() []byte {
	return floats(r.Push)
}

func floats(fs []float32) []byte {
	if len(fs) == 0 {
		return nil
	}
	out := make([]byte, 4*len(fs))
	for i, f := range fs {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

// Parse reads a graph. Unknown keys are rejected.
func Parse(r io.Reader) (*Graph, error) {
	var g Graph
	dec := toml.NewDecoder(r).DisallowUnknownFields()
	if err := dec.Decode(&g); err != nil {
		var serr *toml.StrictMissingError
		if errors.As(err, &serr) {
			keys := make([]string, len(serr.Errors))
			for i, e := range serr.Errors {
				keys[i] = strings.Join(e.Key(), ".")
			}
			return nil, fmt.Errorf("framegraph.Parse(): unknown keys %s", strings.Join(keys, ", "))
		}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("framegraph.Parse(): %d:%d: %s", row, col, derr.Error())
		}
		return nil, fmt.Errorf("framegraph.Parse(): %w", err)
	}
	g.defaults()
	return &g, nil
}

// Load reads the graph in file path.
func Load(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("framegraph.Load(): %w", err)
	}
	g, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// Marshal encodes g as TOML.
func (g *Graph) Marshal() ([]byte, error) {
	return toml.Marshal(g)
}

func (g *Graph) defaults() {
	for i := range g.Resources {
		res := &g.Resources[i]
		if res.Access == "" {
			res.Access = "static_fixed"
		}
		if res.Type == "image" && res.Format == "" && res.File == "" {
			res.Format = "rgba8"
		}
	}
	for i := range g.Renderers {
		r := &g.Renderers[i]
		if r.Vertices == 0 {
			r.Vertices = 3
		}
		if r.Instances == 0 {
			r.Instances = 1
		}
		for j := range r.Outputs {
			o := &r.Outputs[j]
			if o.Name == "" {
				o.Name = fmt.Sprintf("%s.%d", r.Name, j)
			}
			if o.Format == "" {
				o.Format = "rgba8"
			}
			if o.Access == "" {
				o.Access = "static_fixed"
			}
		}
	}
}

// Validate checks names, references and dependency cycles. It does not
// resolve shaders or payloads; Build does.
func (g *Graph) Validate() error {
	resources := make(map[string]bool)
	for _, res := range g.Resources {
		if res.Name == "" {
			return errors.New("framegraph: resource without a name")
		}
		if resources[res.Name] {
			return fmt.Errorf("framegraph: duplicate resource %q", res.Name)
		}
		resources[res.Name] = true
		switch res.Type {
		case "buffer", "image":
		default:
			return fmt.Errorf("framegraph: resource %q has unknown type %q", res.Name, res.Type)
		}
	}

	renderers := make(map[string]*Renderer)
	for i := range g.Renderers {
		r := &g.Renderers[i]
		if r.Name == "" {
			return errors.New("framegraph: renderer without a name")
		}
		if renderers[r.Name] != nil {
			return fmt.Errorf("framegraph: duplicate renderer %q", r.Name)
		}
		renderers[r.Name] = r
		if r.Shader == "" {
			return fmt.Errorf("framegraph: renderer %q has no shader", r.Name)
		}
		if r.Window == (len(r.Outputs) > 0) {
			return fmt.Errorf("framegraph: renderer %q needs either window or outputs", r.Name)
		}
		if len(r.Clear) != 0 && len(r.Clear) != 4 {
			return fmt.Errorf("framegraph: renderer %q clear colour needs 4 components", r.Name)
		}
		for _, name := range r.Resources {
			if !resources[name] {
				return fmt.Errorf("framegraph: renderer %q uses unknown resource %q", r.Name, name)
			}
		}
	}

	for _, r := range g.Renderers {
		for _, s := range r.Inputs {
			in, err := ParseInput(s)
			if err != nil {
				return fmt.Errorf("framegraph: renderer %q: %w", r.Name, err)
			}
			p := renderers[in.Renderer]
			if p == nil {
				return fmt.Errorf("framegraph: renderer %q reads unknown renderer %q", r.Name, in.Renderer)
			}
			if in.Output >= len(p.Outputs) {
				return fmt.Errorf("framegraph: renderer %q reads output %d of %q, which has %d", r.Name, in.Output, p.Name, len(p.Outputs))
			}
		}
		for _, name := range r.DependsOn {
			if renderers[name] == nil {
				return fmt.Errorf("framegraph: renderer %q depends on unknown renderer %q", r.Name, name)
			}
		}
	}

	_, err := g.order()
	return err
}

// producers returns the renderers r reads from or depends on, in order
// of first mention.
func (r Renderer) producers() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if name != r.Name && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, s := range r.Inputs {
		if in, err := ParseInput(s); err == nil {
			add(in.Renderer)
		}
	}
	for _, name := range r.DependsOn {
		add(name)
	}
	return out
}

// order returns renderer indices with producers before their consumers,
// otherwise keeping declaration order.
func (g *Graph) order() ([]int, error) {
	index := make(map[string]int, len(g.Renderers))
	for i, r := range g.Renderers {
		index[r.Name] = i
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(g.Renderers))
	out := make([]int, 0, len(g.Renderers))

	var visit func(i int, path []string) error
	visit = func(i int, path []string) error {
		r := g.Renderers[i]
		switch state[i] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("framegraph: dependency cycle %s", strings.Join(append(path, r.Name), " -> "))
		}
		state[i] = visiting
		for _, name := range r.producers() {
			p, ok := index[name]
			if !ok {
				continue
			}
			if err := visit(p, append(path, r.Name)); err != nil {
				return err
			}
		}
		state[i] = done
		out = append(out, i)
		return nil
	}

	for i := range g.Renderers {
		if err := visit(i, nil); err != nil {
			return nil, err
		}
	}
	return out, nil
}
