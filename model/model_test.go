package model_test

import (
	"encoding/binary"
	"math"
	"os"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
	glm "github.com/go-gl/mathgl/mgl32"
	vk "github.com/vulkan-go/vulkan"

	"github.com/devblok/korurt/backend/soft"
	"github.com/devblok/korurt/component"
	"github.com/devblok/korurt/gfx"
	"github.com/devblok/korurt/model"
	"github.com/devblok/korurt/resource"
)

func importTriangle(c *qt.C) *model.ColladaObject {
	obj, err := model.LoadColladaObject(resource.DirLoader("testdata"), "triangle.dae")
	c.Assert(err, qt.IsNil)
	return obj
}

func TestImportColladaObject(t *testing.T) {
	c := qt.New(t)
	obj := importTriangle(c)
	c.Assert(obj.Name(), qt.Equals, "Triangle")

	vertices := obj.Vertices()
	c.Assert(vertices, qt.HasLen, 3)
	c.Assert(vertices[0].Pos, qt.Equals, glm.Vec3{-1, -1, 0})
	c.Assert(vertices[1].Pos, qt.Equals, glm.Vec3{1, -1, 0})
	c.Assert(vertices[2].Pos, qt.Equals, glm.Vec3{0, 1, 0})
	for _, v := range vertices {
		c.Assert(v.Normal, qt.Equals, glm.Vec3{0, 0, 1})
		c.Assert(v.Color, qt.Equals, model.DefaultColor)
	}
}

func TestImportErrors(t *testing.T) {
	c := qt.New(t)
	_, err := model.ImportColladaObject([]byte("<COLLADA>"))
	c.Assert(err, qt.ErrorMatches, `model.ImportColladaObject\(\): .*`)

	_, err = model.ImportColladaObject([]byte("<COLLADA></COLLADA>"))
	c.Assert(err, qt.ErrorMatches, `model.ImportColladaObject\(\): no geometry`)

	data, err := os.ReadFile("testdata/triangle.dae")
	c.Assert(err, qt.IsNil)
	// point the last corner past the position array
	broken := strings.Replace(string(data), "0 0 1 0 2 0", "0 0 1 0 9 0", 1)
	_, err = model.ImportColladaObject([]byte(broken))
	c.Assert(err, qt.ErrorMatches, `model.ImportColladaObject\(\): index 9 out of range of Triangle-mesh-positions`)

	_, err = model.LoadColladaObject(resource.DirLoader("testdata"), "missing.dae")
	c.Assert(err, qt.ErrorIs, os.ErrNotExist)
}

func TestTransforms(t *testing.T) {
	c := qt.New(t)
	obj := importTriangle(c)
	c.Assert(model.ModelMatrix(obj), qt.Equals, glm.Ident4())

	obj.SetPosition(glm.Translate3D(1, 2, 3))
	obj.SetRotation(glm.HomogRotate3DZ(math.Pi / 2))
	c.Assert(obj.Rotation(), qt.Equals, glm.HomogRotate3DZ(math.Pi/2))
	c.Assert(obj.Position(), qt.Equals, glm.Translate3D(1, 2, 3))

	p := model.ModelMatrix(obj).Mul4x1(glm.Vec4{1, 0, 0, 1})
	c.Assert(p.ApproxEqualThreshold(glm.Vec4{1, 3, 3, 1}, 1e-6), qt.IsTrue)
}

func TestVertexBuffer(t *testing.T) {
	c := qt.New(t)
	buf := model.VertexBuffer("triangle", resource.StaticFixed, importTriangle(c))
	c.Assert(buf.Size(), qt.Equals, 3*model.VertexSize)
	c.Assert(model.VertexSize, qt.Equals, 40)
	c.Assert(buf.Usage().Has(gfx.UsageVertex), qt.IsTrue)

	data := buf.Bytes()
	c.Assert(math.Float32frombits(binary.LittleEndian.Uint32(data[0:])), qt.Equals, float32(-1))
	// normal z of the first vertex
	c.Assert(math.Float32frombits(binary.LittleEndian.Uint32(data[20:])), qt.Equals, float32(1))
	// first vertex of the second corner
	c.Assert(math.Float32frombits(binary.LittleEndian.Uint32(data[model.VertexSize:])), qt.Equals, float32(1))

	backend := soft.New()
	defer backend.Release()
	comp, err := component.RealizeBuffer(backend, buf)
	c.Assert(err, qt.IsNil)
	defer comp.Release()
	back := make([]byte, comp.Size())
	c.Assert(comp.Download(back), qt.IsNil)
	c.Assert(back, qt.DeepEquals, data)
}

func TestUniformBuffer(t *testing.T) {
	c := qt.New(t)
	u := model.Uniform{Model: glm.Ident4(), View: glm.Ident4(), Projection: glm.Perspective(1, 1, 0.1, 10)}
	buf := model.UniformBuffer("mvp", u)
	c.Assert(buf.Size(), qt.Equals, 3*64)
	c.Assert(buf.Access(), qt.Equals, resource.DynamicFixed)
	c.Assert(math.Float32frombits(binary.LittleEndian.Uint32(buf.Bytes()[0:])), qt.Equals, float32(1))
	c.Assert(math.Float32frombits(binary.LittleEndian.Uint32(buf.Bytes()[128:])), qt.Equals, u.Projection[0])
}

func TestVertexDescriptions(t *testing.T) {
	c := qt.New(t)
	bindings := model.VertexBindingDescriptions()
	c.Assert(bindings, qt.HasLen, 1)
	c.Assert(bindings[0].Stride, qt.Equals, uint32(40))

	attrs := model.VertexAttributeDescriptions()
	c.Assert(attrs, qt.HasLen, 3)
	c.Assert(attrs[1].Offset, qt.Equals, uint32(12))
	c.Assert(attrs[2].Offset, qt.Equals, uint32(24))
	c.Assert(attrs[2].Format, qt.Equals, vk.FormatR32g32b32a32Sfloat)
}
