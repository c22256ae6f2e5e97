// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package framegraph

import (
	"fmt"
	"strings"

	"github.com/devblok/korurt/component"
	"github.com/devblok/korurt/core"
	"github.com/devblok/korurt/device"
	"github.com/devblok/korurt/gfx"
	"github.com/devblok/korurt/renderer"
	"github.com/devblok/korurt/resource"
	glm "github.com/go-gl/mathgl/mgl32"
)

// Options supply what a graph refers to by name.
type Options struct {
	// Shaders is the shader library, by name.
	Shaders map[string]gfx.Shader

	// Loader fetches resource files. Required only when a resource has one.
	Loader resource.Loader

	// Window is the target of renderers with window set.
	Window gfx.Window
}

// Built is a graph realized in a context.
type Built struct {
	Handles map[string]device.Handle
	Order   []string
}

// Handle returns the handle of the named renderer.
func (b *Built) Handle(name string) (device.Handle, bool) {
	h, ok := b.Handles[name]
	return h, ok
}

// Build validates g and creates its renderers in ctx, producers first,
// declaring every input and depends_on edge. Renderers created before a
// failure are destroyed again.
func Build(ctx *core.Context, g *Graph, opts Options) (*Built, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	order, err := g.order()
	if err != nil {
		return nil, err
	}

	byName := make(map[string]Resource, len(g.Resources))
	for _, res := range g.Resources {
		byName[res.Name] = res
	}

	built := &Built{Handles: make(map[string]device.Handle)}
	fail := func(err error) (*Built, error) {
		for i := len(built.Order) - 1; i >= 0; i-- {
			ctx.DestroyRenderer(built.Handles[built.Order[i]])
		}
		return nil, err
	}

	for _, i := range order {
		r := g.Renderers[i]
		info, err := rendererInfo(ctx, built, r, byName, opts)
		if err != nil {
			return fail(fmt.Errorf("framegraph.Build(%s): %w", r.Name, err))
		}
		h, err := ctx.CreateRenderer(info)
		if err != nil {
			return fail(fmt.Errorf("framegraph.Build(%s): %w", r.Name, err))
		}
		if push := r.PushConstants(); len(push) > 0 {
			if len(push) > renderer.MaxPushConstants {
				ctx.DestroyRenderer(h)
				return fail(fmt.Errorf("framegraph.Build(%s): %d push floats exceed the constant block", r.Name, len(r.Push)))
			}
			ctx.Renderer(h).SetPushConstants(push)
		}
		built.Handles[r.Name] = h
		built.Order = append(built.Order, r.Name)

		for _, p := range r.producers() {
			ctx.DependsOn(h, built.Handles[p])
		}
	}
	return built, nil
}

func rendererInfo(ctx *core.Context, built *Built, r Renderer, resources map[string]Resource, opts Options) (renderer.Info, error) {
	shader, ok := opts.Shaders[r.Shader]
	if !ok {
		return renderer.Info{}, fmt.Errorf("unknown shader %q", r.Shader)
	}
	info := renderer.Info{
		Name:      r.Name,
		Shader:    shader,
		Vertices:  r.Vertices,
		Instances: r.Instances,
	}
	if len(r.Clear) == 4 {
		info.Clear = glm.Vec4{r.Clear[0], r.Clear[1], r.Clear[2], r.Clear[3]}
	}

	for _, name := range r.Resources {
		res, err := resources[name].create(opts.Loader)
		if err != nil {
			return info, err
		}
		info.Resources = append(info.Resources, res)
	}

	for _, s := range r.Inputs {
		in, _ := ParseInput(s)
		p := ctx.Renderer(built.Handles[in.Renderer])
		info.Shared = append(info.Shared, component.Component(p.Output(in.Output)))
	}

	if r.Window {
		if opts.Window == nil {
			return info, fmt.Errorf("no window to render into")
		}
		info.Output = renderer.WindowOutput(opts.Window)
		return info, nil
	}
	var images []*resource.Image
	for _, o := range r.Outputs {
		img, err := o.create()
		if err != nil {
			return info, err
		}
		images = append(images, img)
	}
	info.Output = renderer.OffscreenOutput(images...)
	return info, nil
}

func (o Output) create() (*resource.Image, error) {
	access, err := resource.ParseAccess(o.Access)
	if err != nil {
		return nil, fmt.Errorf("output %q: %w", o.Name, err)
	}
	format, err := gfx.ParseFormat(o.Format)
	if err != nil {
		return nil, fmt.Errorf("output %q: %w", o.Name, err)
	}
	return resource.NewImage(o.Name, access, gfx.Extent{Width: o.Width, Height: o.Height}, format, nil)
}

// create makes a fresh resource for each renderer binding it, since a
// renderer owns the components realized from its resources.
func (res Resource) create(l resource.Loader) (resource.Resource, error) {
	access, err := resource.ParseAccess(res.Access)
	if err != nil {
		return nil, fmt.Errorf("resource %q: %w", res.Name, err)
	}

	switch res.Type {
	case "buffer":
		usage, err := parseUsage(res.Usage)
		if err != nil {
			return nil, fmt.Errorf("resource %q: %w", res.Name, err)
		}
		if res.File != "" {
			if l == nil {
				return nil, fmt.Errorf("resource %q: no loader for %s", res.Name, res.File)
			}
			return resource.LoadBuffer(l, res.File, access, usage)
		}
		if data := floats(res.Data); data != nil {
			if res.Size > len(data) {
				data = append(data, make([]byte, res.Size-len(data))...)
			}
			return resource.NewBuffer(res.Name, access, usage, data), nil
		}
		if res.Size <= 0 {
			return nil, fmt.Errorf("resource %q: buffer needs a size, data or a file", res.Name)
		}
		return resource.NewEmptyBuffer(res.Name, access, usage, res.Size), nil

	case "image":
		var img *resource.Image
		if res.File != "" {
			if l == nil {
				return nil, fmt.Errorf("resource %q: no loader for %s", res.Name, res.File)
			}
			if img, err = resource.LoadImage(l, res.File, access); err != nil {
				return nil, err
			}
		} else {
			format, err := gfx.ParseFormat(res.Format)
			if err != nil {
				return nil, fmt.Errorf("resource %q: %w", res.Name, err)
			}
			extent := gfx.Extent{Width: res.Width, Height: res.Height}
			data := floats(res.Data)
			if data != nil && format != gfx.FormatR32F && format != gfx.FormatRGBA32F {
				return nil, fmt.Errorf("resource %q: inline data needs a float format, got %s", res.Name, format)
			}
			if img, err = resource.NewImage(res.Name, access, extent, format, data); err != nil {
				return nil, err
			}
		}
		sampler, err := res.Sampler.parse()
		if err != nil {
			return nil, fmt.Errorf("resource %q: %w", res.Name, err)
		}
		return img.WithSampler(sampler), nil
	}
	return nil, fmt.Errorf("resource %q: unknown type %q", res.Name, res.Type)
}

var usages = map[string]gfx.Usage{
	"vertex":  gfx.UsageVertex,
	"index":   gfx.UsageIndex,
	"uniform": gfx.UsageUniform,
	"storage": gfx.UsageStorage,
}

func parseUsage(names []string) (gfx.Usage, error) {
	if len(names) == 0 {
		return gfx.UsageStorage, nil
	}
	var u gfx.Usage
	for _, n := range names {
		v, ok := usages[strings.ToLower(n)]
		if !ok {
			return 0, fmt.Errorf("unknown buffer usage %q", n)
		}
		u |= v
	}
	return u, nil
}

func (s Sampler) parse() (gfx.Sampler, error) {
	out := gfx.DefaultSampler
	switch s.Filter {
	case "", "linear":
	case "nearest":
		out.Min, out.Mag = gfx.FilterNearest, gfx.FilterNearest
	default:
		return out, fmt.Errorf("unknown filter %q", s.Filter)
	}
	switch s.Address {
	case "", "repeat":
	case "mirrored_repeat":
		out.AddressU, out.AddressV = gfx.AddressMirroredRepeat, gfx.AddressMirroredRepeat
	case "clamp_to_edge":
		out.AddressU, out.AddressV = gfx.AddressClampToEdge, gfx.AddressClampToEdge
	default:
		return out, fmt.Errorf("unknown address mode %q", s.Address)
	}
	out.MaxAnisotropy = s.Anisotropy
	return out, nil
}
