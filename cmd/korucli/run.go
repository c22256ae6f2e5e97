package main

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/devblok/korurt/backend/opengl"
	"github.com/devblok/korurt/backend/soft"
	"github.com/devblok/korurt/backend/vulkan"
	"github.com/devblok/korurt/component"
	"github.com/devblok/korurt/core"
	"github.com/devblok/korurt/framegraph"
	"github.com/devblok/korurt/gfx"
	"github.com/devblok/korurt/resource"
	"github.com/devblok/korurt/utility/kar"
)

// dump writes an output image of a renderer to a PNG file.
type dump struct {
	input framegraph.Input
	path  string
}

type dumps []dump

func (d *dumps) String() string {
	parts := make([]string, len(*d))
	for i, v := range *d {
		parts[i] = v.input.String() + "=" + v.path
	}
	return strings.Join(parts, ",")
}

func (d *dumps) Set(s string) error {
	ref, path, ok := strings.Cut(s, "=")
	if !ok || path == "" {
		return fmt.Errorf("want renderer:output=file.png, got %q", s)
	}
	in, err := framegraph.ParseInput(ref)
	if err != nil {
		return err
	}
	*d = append(*d, dump{input: in, path: path})
	return nil
}

func run(env *environment, args []string) error {
	fs := env.flags("run", "<graph.toml>")
	frames := fs.Int("frames", 1, "number of frames to render, 0 renders until interrupted")
	assets := fs.String("assets", "", "directory or kar archive resource files are loaded from, defaults to the graph directory")
	backendName := fs.String("backend", env.config.Backend.Name, "backend to render with: soft or vulkan")
	var out dumps
	fs.Var(&out, "dump", "write `renderer:output=file.png` after rendering, may be repeated")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}

	graph, err := framegraph.Load(fs.Arg(0))
	if err != nil {
		return err
	}

	if *assets == "" {
		*assets = filepath.Dir(fs.Arg(0))
	}
	loader, closeLoader, err := openAssets(*assets)
	if err != nil {
		return err
	}
	defer closeLoader()

	backend, shaders, closeBackend, err := newBackend(env, *backendName)
	if err != nil {
		return err
	}
	ctx, err := core.NewContext(env.config, backend, env.log)
	if err != nil {
		backend.Release()
		closeBackend()
		return err
	}
	defer func() {
		ctx.Destroy()
		closeBackend()
	}()

	built, err := framegraph.Build(ctx, graph, framegraph.Options{
		Shaders: shaders,
		Loader:  loader,
	})
	if err != nil {
		return err
	}

	sigctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := ctx.RunFrames(sigctx, *frames); err != nil && sigctx.Err() == nil {
		return err
	}
	if err := ctx.WaitIdle(); err != nil {
		return err
	}

	for _, d := range out {
		h, ok := built.Handle(d.input.Renderer)
		if !ok {
			return fmt.Errorf("dump: unknown renderer %q", d.input.Renderer)
		}
		r := ctx.Renderer(h)
		if d.input.Output >= r.Outputs() {
			return fmt.Errorf("dump: renderer %q has %d outputs", d.input.Renderer, r.Outputs())
		}
		if err := writePNG(r.Output(d.input.Output), d.path); err != nil {
			return fmt.Errorf("dump %s: %w", d.input, err)
		}
	}

	fmt.Fprintf(env.stdout, "rendered %d frames of %d renderers on %s\n", ctx.Frames(), len(built.Order), backend.Name())
	return nil
}

func openAssets(path string) (resource.Loader, func(), error) {
	if strings.HasSuffix(path, ".kar") {
		ar, err := kar.OpenFile(path)
		if err != nil {
			return nil, nil, err
		}
		return ar, func() { ar.Close() }, nil
	}
	return resource.DirLoader(path), func() {}, nil
}

func newBackend(env *environment, name string) (gfx.Backend, map[string]gfx.Shader, func(), error) {
	switch name {
	case soft.Name:
		return soft.New(soft.WithLogger(env.log)), soft.Library(), func() {}, nil
	case vulkan.Name:
		instance, err := vulkan.NewInstance(vulkan.DefaultApplicationInfo, nil, vulkan.InstanceConfiguration{
			DebugMode: env.config.Backend.DebugMode,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		backend, err := vulkan.NewBackend(instance, vulkan.Configuration{
			DeviceExtensions: env.config.Renderer.DeviceExtensions,
		}, env.log)
		if err != nil {
			instance.Destroy()
			return nil, nil, nil, err
		}
		return backend, vulkan.Library(), instance.Destroy, nil
	case opengl.Name:
		return nil, nil, nil, fmt.Errorf("the %s backend needs a window, use koru", name)
	}
	return nil, nil, nil, fmt.Errorf("unknown backend %q", name)
}

func writePNG(img *component.Image, path string) error {
	extent := img.Dimensions()
	pixels := make([]byte, img.Size())
	if err := img.Download(pixels); err != nil {
		return err
	}
	switch img.Format() {
	case gfx.FormatRGBA8:
	case gfx.FormatBGRA8:
		for i := 0; i+3 < len(pixels); i += 4 {
			pixels[i], pixels[i+2] = pixels[i+2], pixels[i]
		}
	default:
		return fmt.Errorf("cannot encode %s pixels", img.Format())
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = png.Encode(f, &image.NRGBA{
		Pix:    pixels,
		Stride: extent.Width * 4,
		Rect:   image.Rect(0, 0, extent.Width, extent.Height),
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
