package main

import (
	"encoding/json"
	"fmt"

	"github.com/devblok/korurt/backend/vulkan"
)

func devices(env *environment, args []string) error {
	fs := env.flags("devices", "")
	debug := fs.Bool("debug", env.config.Backend.DebugMode, "enable the validation layers")
	if err := fs.Parse(args); err != nil {
		return err
	}

	instance, err := vulkan.NewInstance(vulkan.DefaultApplicationInfo, nil, vulkan.InstanceConfiguration{
		DebugMode:  *debug,
		Extensions: []string{},
		Layers:     []string{},
	})
	if err != nil {
		return err
	}
	defer instance.Destroy()

	bytes, err := json.MarshalIndent(instance.PhysicalDevicesInfo(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "%s\n", bytes)
	return nil
}
