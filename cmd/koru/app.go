package main

import (
	"fmt"
	"sync"

	"github.com/devblok/korurt/backend/opengl"
	"github.com/devblok/korurt/backend/soft"
	"github.com/devblok/korurt/backend/vulkan"
	"github.com/devblok/korurt/core"
	"github.com/devblok/korurt/gfx"
	log "github.com/sirupsen/logrus"
	"github.com/veandco/go-sdl2/sdl"
)

// app owns the SDL window and the backend rendering into it.
type app struct {
	config    core.Configuration
	sdlWindow *sdl.Window
	backend   gfx.Backend
	window    gfx.Window
	shaders   map[string]gfx.Shader
	ctx       *core.Context

	instance *vulkan.Instance

	// soft backend frames, blitted on the main thread
	frameMu sync.Mutex
	frame   []byte
	pitch   int
}

func newApp(cfg core.Configuration) (*app, error) {
	a := &app{config: cfg}
	extent := gfx.Extent{Width: int(cfg.Renderer.ScreenWidth), Height: int(cfg.Renderer.ScreenHeight)}

	var err error
	switch cfg.Backend.Name {
	case opengl.Name:
		err = a.initOpenGL(extent)
	case vulkan.Name:
		err = a.initVulkan(extent)
	case soft.Name:
		err = a.initSoft(extent)
	default:
		err = fmt.Errorf("unknown backend %q", cfg.Backend.Name)
	}
	if err != nil {
		a.destroy()
		return nil, err
	}
	log.WithField("backend", a.backend.Name()).Info("window created")
	return a, nil
}

func (a *app) createWindow(extent gfx.Extent, flags uint32) error {
	window, err := sdl.CreateWindow("Koru3D",
		sdl.WINDOWPOS_UNDEFINED,
		sdl.WINDOWPOS_UNDEFINED,
		int32(extent.Width),
		int32(extent.Height),
		flags)
	if err != nil {
		return err
	}
	a.sdlWindow = window
	return nil
}

func (a *app) initOpenGL(extent gfx.Extent) error {
	sdl.GLSetAttribute(sdl.GL_CONTEXT_MAJOR_VERSION, 4)
	sdl.GLSetAttribute(sdl.GL_CONTEXT_MINOR_VERSION, 5)
	sdl.GLSetAttribute(sdl.GL_CONTEXT_PROFILE_MASK, sdl.GL_CONTEXT_PROFILE_CORE)
	if err := a.createWindow(extent, sdl.WINDOW_OPENGL|sdl.WINDOW_RESIZABLE); err != nil {
		return err
	}

	backend, err := opengl.NewBackend(func() error {
		glctx, err := a.sdlWindow.GLCreateContext()
		if err != nil {
			return err
		}
		return a.sdlWindow.GLMakeCurrent(glctx)
	}, log.StandardLogger())
	if err != nil {
		return err
	}
	a.backend = backend
	a.window = backend.NewWindow(extent, a.sdlWindow.GLSwap)
	a.shaders = opengl.Library()
	return nil
}

func (a *app) initVulkan(extent gfx.Extent) error {
	if err := sdl.VulkanLoadLibrary(""); err != nil {
		return err
	}
	if err := a.createWindow(extent, sdl.WINDOW_VULKAN); err != nil {
		return err
	}

	instance, err := vulkan.NewInstance(vulkan.DefaultApplicationInfo, sdl.VulkanGetVkGetInstanceProcAddr(), vulkan.InstanceConfiguration{
		DebugMode:  a.config.Backend.DebugMode,
		Extensions: a.sdlWindow.VulkanGetInstanceExtensions(),
		Layers:     []string{},
	})
	if err != nil {
		return err
	}
	a.instance = instance

	surface, err := a.sdlWindow.VulkanCreateSurface(instance.Instance())
	if err != nil {
		return err
	}
	instance.SetSurface(surface)

	backend, err := vulkan.NewBackend(instance, vulkan.Configuration{
		DeviceExtensions: a.config.Renderer.DeviceExtensions,
	}, log.StandardLogger())
	if err != nil {
		return err
	}
	a.backend = backend
	window, err := backend.NewWindow(extent, a.config.Renderer.SwapchainSize)
	if err != nil {
		return err
	}
	a.window = window
	a.shaders = vulkan.Library()
	return nil
}

func (a *app) initSoft(extent gfx.Extent) error {
	if err := a.createWindow(extent, 0); err != nil {
		return err
	}
	backend := soft.New(soft.WithLogger(log.StandardLogger()))
	a.backend = backend
	window, err := backend.NewWindow(extent, gfx.FormatBGRA8, a.present)
	if err != nil {
		return err
	}
	a.window = window
	a.shaders = soft.Library()
	return nil
}

// present keeps the last soft frame. Runs on a queue goroutine.
func (a *app) present(s soft.Surface) {
	a.frameMu.Lock()
	defer a.frameMu.Unlock()
	a.frame = append(a.frame[:0], s.Pix...)
	a.pitch = s.Extent.Width * 4
}

// blit copies the last soft frame onto the window surface.
func (a *app) blit() {
	if a.config.Backend.Name != soft.Name {
		return
	}
	surface, err := a.sdlWindow.GetSurface()
	if err != nil {
		log.WithError(err).Warn("no window surface")
		return
	}

	a.frameMu.Lock()
	pixels := surface.Pixels()
	pitch := int(surface.Pitch)
	for y := 0; a.pitch > 0 && (y+1)*a.pitch <= len(a.frame) && (y+1)*pitch <= len(pixels); y++ {
		n := a.pitch
		if n > pitch {
			n = pitch
		}
		copy(pixels[y*pitch:y*pitch+n], a.frame[y*a.pitch:])
	}
	a.frameMu.Unlock()

	if err := a.sdlWindow.UpdateSurface(); err != nil {
		log.WithError(err).Warn("window surface update failed")
	}
}

func (a *app) resize(extent gfx.Extent) {
	if w, ok := a.window.(interface{ Resize(gfx.Extent) }); ok {
		w.Resize(extent)
	}
}

func (a *app) destroy() {
	if a.ctx != nil {
		// Renderers hold the window images, release them first.
		if err := a.ctx.WaitIdle(); err != nil {
			log.WithError(err).Warn("waiting for idle")
		}
		a.ctx.Device().Release()
	}
	if w, ok := a.window.(gfx.Releasable); ok {
		w.Release()
	}
	if a.ctx != nil {
		a.ctx.Destroy()
	} else if a.backend != nil {
		a.backend.Release()
	}
	if a.instance != nil {
		a.instance.Destroy()
	}
	if a.sdlWindow != nil {
		a.sdlWindow.Destroy()
	}
	if a.config.Backend.Name == vulkan.Name {
		sdl.VulkanUnloadLibrary()
	}
}
