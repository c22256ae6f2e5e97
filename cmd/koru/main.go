// Command koru opens a window and renders a frame graph into it.
package main

import (
	"bytes"
	"encoding/binary"
	"flag"
	"math"
	"path/filepath"
	"runtime"
	"time"

	"github.com/devblok/korurt/core"
	"github.com/devblok/korurt/device"
	"github.com/devblok/korurt/framegraph"
	"github.com/devblok/korurt/gfx"
	"github.com/devblok/korurt/resource"
	"github.com/gobuffalo/packr"
	log "github.com/sirupsen/logrus"
	"github.com/veandco/go-sdl2/sdl"
)

func init() {
	runtime.LockOSThread()
}

// Builtin frame graphs
var resources = packr.NewBox("./resources")

var (
	graphPath = flag.String("graph", "", "frame graph to render, defaults to the builtin demo")
	assetDir  = flag.String("assets", "", "directory resource files are loaded from, defaults to the graph directory")
	envFile   = flag.String("env", "", "env file with KORU_* settings")
)

func main() {
	flag.Parse()
	if *envFile != "" {
		if err := core.LoadEnvFile(*envFile); err != nil {
			log.Fatal(err)
		}
	}
	configuration, err := core.ConfigurationFromEnv()
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(configuration.Level())

	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		log.Fatal(err)
	}
	defer sdl.Quit()

	app, err := newApp(configuration)
	if err != nil {
		log.Fatal(err)
	}
	defer app.destroy()

	graph, loader, err := loadGraph(configuration.Backend.Name)
	if err != nil {
		log.Fatal(err)
	}

	ctx, err := core.NewContext(configuration, app.backend, log.StandardLogger())
	if err != nil {
		log.Fatal(err)
	}
	app.ctx = ctx

	built, err := framegraph.Build(ctx, graph, framegraph.Options{
		Shaders: app.shaders,
		Loader:  loader,
		Window:  app.window,
	})
	if err != nil {
		log.Fatal(err)
	}

	eventLoop(app, graph, built)
}

func loadGraph(backend string) (*framegraph.Graph, resource.Loader, error) {
	if *graphPath != "" {
		g, err := framegraph.Load(*graphPath)
		if err != nil {
			return nil, nil, err
		}
		dir := *assetDir
		if dir == "" {
			dir = filepath.Dir(*graphPath)
		}
		return g, resource.DirLoader(dir), nil
	}

	name := "demo.toml"
	if backend == "vulkan" {
		name = "demo-vulkan.toml"
	}
	data, err := resources.Find(name)
	if err != nil {
		return nil, nil, err
	}
	g, err := framegraph.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, nil, err
	}
	return g, resource.DirLoader(*assetDir), nil
}

func eventLoop(app *app, graph *framegraph.Graph, built *framegraph.Built) {
	t := core.NewTime(app.config.Time)
	defer t.Stop()
	start := time.Now()

	// renderers declaring push constants get the phase in their first float
	var animated []device.Handle
	for _, r := range graph.Renderers {
		if h, ok := built.Handle(r.Name); ok && len(r.Push) > 0 {
			animated = append(animated, h)
		}
	}
	push := make([]byte, 4)

	for {
		for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
			switch et := event.(type) {
			case *sdl.KeyboardEvent:
				if et.Keysym.Sym == sdl.K_ESCAPE {
					log.Info("Event loop exited")
					return
				}
			case *sdl.QuitEvent:
				log.Info("Event loop exited")
				return
			case *sdl.WindowEvent:
				if et.Event == sdl.WINDOWEVENT_SIZE_CHANGED {
					app.resize(gfx.Extent{Width: int(et.Data1), Height: int(et.Data2)})
				}
			}
		}

		if len(animated) > 0 {
			phase := float32(math.Sin(time.Since(start).Seconds())*0.5 + 0.5)
			binary.LittleEndian.PutUint32(push, math.Float32bits(phase))
			for _, h := range animated {
				app.ctx.Renderer(h).SetPushConstants(push)
			}
		}
		if err := app.ctx.Frame(); err != nil {
			log.WithError(err).Error("frame failed")
			return
		}
		app.blit()

		if !t.Unlimited() {
			<-t.FpsTicker().C
		}
	}
}
