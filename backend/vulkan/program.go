// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/devblok/korurt/gfx"
	vk "github.com/vulkan-go/vulkan"
)

const shaderSuffix = ".spv"

// ShaderType is the pipeline stage a shader module belongs to.
type ShaderType int

// Shader types
const (
	VertexShaderType ShaderType = iota
	FragmentShaderType
)

// Stage returns the pipeline stage flag of the shader type.
func (t ShaderType) Stage() vk.ShaderStageFlagBits {
	if t == FragmentShaderType {
		return vk.ShaderStageFragmentBit
	}
	return vk.ShaderStageVertexBit
}

// loadShaderFilesFromDirectory get the list of files that are compiled shaders
// it is important that the file name does not contain more than two dots,
// the first is always the name of the shader, second is type, and the third one
// ensured that the shader is compiled (only compiled shaders have an .spv extension).
func loadShaderFilesFromDirectory(dir string) ([]string, []ShaderType, error) {
	var (
		shaders     []string
		shaderTypes []ShaderType
	)
	if err := filepath.Walk(dir, func(path string, f os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !strings.HasSuffix(f.Name(), shaderSuffix) {
			return nil
		}

		nodes := strings.Split(strings.TrimSuffix(f.Name(), shaderSuffix), ".")
		if len(nodes) != 2 {
			return nil
		}
		switch nodes[1] {
		case "frag":
			shaderTypes = append(shaderTypes, FragmentShaderType)
			shaders = append(shaders, path)
		case "vert":
			shaderTypes = append(shaderTypes, VertexShaderType)
			shaders = append(shaders, path)
		}
		return nil
	}); err != nil {
		return nil, nil, err
	}
	return shaders, shaderTypes, nil
}

// ShaderModule is a compiled SPIR-V module.
type ShaderModule struct {
	name       string
	shaderType ShaderType
	device     vk.Device
	module     vk.ShaderModule
}

// NewShaderModule creates a shader module from SPIR-V code.
func NewShaderModule(device vk.Device, name string, shaderType ShaderType, code []byte) (*ShaderModule, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, fmt.Errorf("vulkan.NewShaderModule(%s): %d bytes is not SPIR-V", name, len(code))
	}
	smci := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    SliceUint32(code),
	}

	var module vk.ShaderModule
	if err := vk.Error(vk.CreateShaderModule(device, &smci, nil, &module)); err != nil {
		return nil, fmt.Errorf("vk.CreateShaderModule(type %d): %s", shaderType, err.Error())
	}
	return &ShaderModule{
		name:       name,
		shaderType: shaderType,
		device:     device,
		module:     module,
	}, nil
}

// LoadShaderModules creates a module for every compiled shader in dir.
func LoadShaderModules(device vk.Device, dir string) ([]*ShaderModule, error) {
	files, types, err := loadShaderFilesFromDirectory(dir)
	if err != nil {
		return nil, err
	}

	var modules []*ShaderModule
	for idx, path := range files {
		code, err := os.ReadFile(path)
		if err == nil {
			var m *ShaderModule
			name := strings.Split(filepath.Base(path), ".")[0]
			if m, err = NewShaderModule(device, name, types[idx], code); err == nil {
				modules = append(modules, m)
				continue
			}
		}
		for _, m := range modules {
			m.Destroy()
		}
		return nil, err
	}
	return modules, nil
}

// Name returns the file name stem of the module.
func (s *ShaderModule) Name() string {
	return s.name
}

// Type returns the stage the module was compiled for.
func (s *ShaderModule) Type() ShaderType {
	return s.shaderType
}

// Module returns the native module handle.
func (s *ShaderModule) Module() vk.ShaderModule {
	return s.module
}

// StageInfo describes the module as a pipeline stage with entry point main.
func (s *ShaderModule) StageInfo() vk.PipelineShaderStageCreateInfo {
	return vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  s.shaderType.Stage(),
		Module: s.module,
		PName:  "main\x00",
	}
}

// Destroy destroys the module.
func (s *ShaderModule) Destroy() {
	vk.DestroyShaderModule(s.device, s.module, nil)
}

// Attachment is a pass target as seen by a program.
type Attachment struct {
	Image  vk.Image
	View   vk.ImageView
	Format vk.Format
}

// Invocation is the state a program records a draw against. Targets are
// cleared and in the general layout.
type Invocation struct {
	Vertices  int
	Instances int
	Extent    gfx.Extent
	Targets   []Attachment

	buffers map[int]*Buffer
	images  map[int]*Image
	push    []byte
}

// Buffer returns the buffer bound to slot.
func (inv *Invocation) Buffer(slot int) (*Buffer, bool) {
	b, ok := inv.buffers[slot]
	return b, ok
}

// Image returns the image bound to slot.
func (inv *Invocation) Image(slot int) (*Image, bool) {
	i, ok := inv.images[slot]
	return i, ok
}

// PushConstants returns the constant block set for the draw.
func (inv *Invocation) PushConstants() []byte {
	return inv.push
}

// RecordFunc records the commands of one draw into cmd.
type RecordFunc func(cmd vk.CommandBuffer, inv *Invocation) error

// Program implements gfx.Shader. Pipelines are owned by the record
// function; the backend hands it prepared targets and bindings.
type Program struct {
	name    string
	record  RecordFunc
	modules []*ShaderModule
}

// NewProgram wraps record as a shader named name. Modules are destroyed
// with the program.
func NewProgram(name string, record RecordFunc, modules ...*ShaderModule) *Program {
	return &Program{name: name, record: record, modules: modules}
}

// Name implements gfx.Shader
func (p *Program) Name() string {
	return p.name
}

// Modules returns the shader modules of the program.
func (p *Program) Modules() []*ShaderModule {
	return p.modules
}

// Destroy destroys the shader modules of the program.
func (p *Program) Destroy() {
	for _, m := range p.modules {
		m.Destroy()
	}
	p.modules = nil
}

// Programs usable without pipelines
var (
	Clear = NewProgram("clear", func(vk.CommandBuffer, *Invocation) error { return nil })
	Copy  = NewProgram("copy", recordCopy)
)

func recordCopy(cmd vk.CommandBuffer, inv *Invocation) error {
	src, ok := inv.Image(0)
	if !ok {
		return errors.New("copy: no image bound to slot 0")
	}
	if len(inv.Targets) == 0 {
		return errors.New("copy: no target")
	}
	layers := vk.ImageSubresourceLayers{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		LayerCount: 1,
	}
	dst := inv.Targets[0]
	blit := vk.ImageBlit{
		SrcSubresource: layers,
		SrcOffsets: [2]vk.Offset3D{{}, {
			X: int32(src.extent.Width),
			Y: int32(src.extent.Height),
			Z: 1,
		}},
		DstSubresource: layers,
		DstOffsets: [2]vk.Offset3D{{}, {
			X: int32(inv.Extent.Width),
			Y: int32(inv.Extent.Height),
			Z: 1,
		}},
	}
	vk.CmdBlitImage(cmd, src.image, vk.ImageLayoutGeneral, dst.Image, vk.ImageLayoutGeneral, 1, []vk.ImageBlit{blit}, vk.FilterNearest)
	return nil
}

// Library returns the builtin programs by name.
func Library() map[string]gfx.Shader {
	return map[string]gfx.Shader{
		Clear.Name(): Clear,
		Copy.Name():  Copy,
	}
}
