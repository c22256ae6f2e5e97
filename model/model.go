// Package model holds meshes imported for rendering and turns them into
// buffer resources.
package model

import (
	"bytes"
	"encoding/binary"
	"unsafe"

	"github.com/devblok/korurt/gfx"
	"github.com/devblok/korurt/resource"
	glm "github.com/go-gl/mathgl/mgl32"
	vk "github.com/vulkan-go/vulkan"
)

// Object represents the engine supported model
type Object interface {

	// SetPosition sets the object's current position in space.
	// Has to be thread-safe
	SetPosition(glm.Mat4)

	// Position gets the object's current position in space.
	// Has to be thread-safe
	Position() glm.Mat4

	// SetRotation sets the object's rotation matrix.
	// Has to be thread-safe
	SetRotation(glm.Mat4)

	// Rotation gets the object's rotation matrix.
	// Has to be thread-safe
	Rotation() glm.Mat4

	// Vertices returns the vertices for Renderer use,
	// so it has to match the descriptors exactly
	Vertices() []Vertex
}

// Vertex is a model vertex
type Vertex struct {
	Pos    glm.Vec3
	Normal glm.Vec3
	Color  glm.Vec4
}

// VertexSize is the packed size of a Vertex.
const VertexSize = int(unsafe.Sizeof(Vertex{}))

// Uniform defines a model-view-projection object
type Uniform struct {
	Model      glm.Mat4
	View       glm.Mat4
	Projection glm.Mat4
}

// ModelMatrix returns the model matrix of o, rotation applied first.
func ModelMatrix(o Object) glm.Mat4 {
	return o.Position().Mul4(o.Rotation())
}

// Bytes packs the matrices in column major order.
func (u Uniform) Bytes() []byte {
	var buf bytes.Buffer
	buf.Grow(3 * 64)
	binary.Write(&buf, binary.LittleEndian, u)
	return buf.Bytes()
}

// VertexBuffer packs the vertices of o into a buffer resource.
func VertexBuffer(name string, access resource.Access, o Object) *resource.Buffer {
	vertices := o.Vertices()
	var buf bytes.Buffer
	buf.Grow(len(vertices) * VertexSize)
	binary.Write(&buf, binary.LittleEndian, vertices)
	return resource.NewBuffer(name, access, gfx.UsageVertex|gfx.UsageStorage, buf.Bytes())
}

// UniformBuffer creates a dynamic buffer resource holding u, to be
// rewritten every frame through its component.
func UniformBuffer(name string, u Uniform) *resource.Buffer {
	return resource.NewBuffer(name, resource.DynamicFixed, gfx.UsageUniform, u.Bytes())
}

// VertexBindingDescriptions return Vulkan Vertex descriptors
func VertexBindingDescriptions() []vk.VertexInputBindingDescription {
	return []vk.VertexInputBindingDescription{{
		Binding:   0,
		Stride:    uint32(VertexSize),
		InputRate: vk.VertexInputRateVertex,
	}}
}

// VertexAttributeDescriptions return Vulkan attribute descriptors
func VertexAttributeDescriptions() []vk.VertexInputAttributeDescription {
	return []vk.VertexInputAttributeDescription{
		{
			Binding:  0,
			Location: 0,
			Format:   vk.FormatR32g32b32Sfloat,
			Offset:   uint32(unsafe.Offsetof(Vertex{}.Pos)),
		},
		{
			Binding:  0,
			Location: 1,
			Format:   vk.FormatR32g32b32Sfloat,
			Offset:   uint32(unsafe.Offsetof(Vertex{}.Normal)),
		},
		{
			Binding:  0,
			Location: 2,
			Format:   vk.FormatR32g32b32a32Sfloat,
			Offset:   uint32(unsafe.Offsetof(Vertex{}.Color)),
		},
	}
}
