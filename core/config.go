package core

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gobuffalo/envy"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Configuration defines a global engine configuration setting
type Configuration struct {
	Time     TimeConfiguration
	Renderer RendererConfiguration
	Schedule ScheduleConfiguration
	Backend  BackendConfiguration

	// LogLevel is a logrus level name
	LogLevel string
}

// TimeConfiguration is used to configure time services
type TimeConfiguration struct {
	// FramesPerSecond caps frames per second that is put out
	// To unlimit, set to 0
	FramesPerSecond int

	// EventPollDelay is the event loop period in milliseconds
	EventPollDelay int
}

// RendererConfiguration is used to configure the renderer
type RendererConfiguration struct {
	SwapchainSize    uint32
	DeviceExtensions []string

	ScreenWidth  uint32
	ScreenHeight uint32
}

// ScheduleConfiguration is used to configure the scheduler
type ScheduleConfiguration struct {
	// MaxFramesInFlight is the number of frames a renderer may
	// have submitted before rendering another one blocks
	MaxFramesInFlight int
}

// BackendConfiguration selects the graphics backend
type BackendConfiguration struct {
	Name      string
	DebugMode bool
}

// DefaultConfiguration returns the configuration used for unset values.
func DefaultConfiguration() Configuration {
	return Configuration{
		Time: TimeConfiguration{
			FramesPerSecond: 60,
			EventPollDelay:  16,
		},
		Renderer: RendererConfiguration{
			SwapchainSize: 2,
			ScreenWidth:   1280,
			ScreenHeight:  720,
		},
		Schedule: ScheduleConfiguration{
			MaxFramesInFlight: 2,
		},
		Backend: BackendConfiguration{
			Name: "soft",
		},
		LogLevel: "info",
	}
}

// ConfigurationFromEnv reads KORU_* variables, including those of a
// .env file in the working directory, over the default configuration.
func ConfigurationFromEnv() (Configuration, error) {
	cfg := DefaultConfiguration()

	ints := []struct {
		key string
		dst *int
	}{
		{"KORU_FPS", &cfg.Time.FramesPerSecond},
		{"KORU_EVENT_POLL_DELAY", &cfg.Time.EventPollDelay},
		{"KORU_FRAMES_IN_FLIGHT", &cfg.Schedule.MaxFramesInFlight},
	}
	for _, v := range ints {
		s := envy.Get(v.key, "")
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return cfg, fmt.Errorf("core.ConfigurationFromEnv(): %s: %s", v.key, err)
		}
		*v.dst = n
	}

	uints := []struct {
		key string
		dst *uint32
	}{
		{"KORU_SWAPCHAIN_SIZE", &cfg.Renderer.SwapchainSize},
		{"KORU_SCREEN_WIDTH", &cfg.Renderer.ScreenWidth},
		{"KORU_SCREEN_HEIGHT", &cfg.Renderer.ScreenHeight},
	}
	for _, v := range uints {
		s := envy.Get(v.key, "")
		if s == "" {
			continue
		}
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return cfg, fmt.Errorf("core.ConfigurationFromEnv(): %s: %s", v.key, err)
		}
		*v.dst = uint32(n)
	}

	if exts := envy.Get("KORU_DEVICE_EXTENSIONS", ""); exts != "" {
		cfg.Renderer.DeviceExtensions = strings.Split(exts, ",")
	}
	cfg.Backend.Name = envy.Get("KORU_BACKEND", cfg.Backend.Name)
	if debug := envy.Get("KORU_DEBUG", ""); debug != "" {
		b, err := strconv.ParseBool(debug)
		if err != nil {
			return cfg, fmt.Errorf("core.ConfigurationFromEnv(): KORU_DEBUG: %s", err)
		}
		cfg.Backend.DebugMode = b
	}
	cfg.LogLevel = envy.Get("KORU_LOG_LEVEL", cfg.LogLevel)

	return cfg, cfg.Validate()
}

// LoadEnvFile loads the variables of an env file, without overriding
// variables already set, so that ConfigurationFromEnv sees them.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("godotenv.Load(): %s", err)
	}
	envy.Reload()
	return nil
}

// Validate checks the configuration for values no service accepts.
func (c Configuration) Validate() error {
	if c.Time.FramesPerSecond < 0 {
		return fmt.Errorf("frames per second must not be negative, got %d", c.Time.FramesPerSecond)
	}
	if c.Schedule.MaxFramesInFlight < 1 {
		return fmt.Errorf("max frames in flight must be at least 1, got %d", c.Schedule.MaxFramesInFlight)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Level returns the configured log level, defaulting to info.
func (c Configuration) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
