package collada_test

import (
	"encoding/xml"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/devblok/korurt/util/collada"
)

func TestTrianglesDecode(t *testing.T) {
	c := qt.New(t)
	data := `
		<triangles material="Material-material" count="12">
		<input semantic="VERTEX" source="#Cube-mesh-vertices" offset="0"/>
		<input semantic="NORMAL" source="#Cube-mesh-normals" offset="1"/>
		<p>0 0 2 0 3 0 7 1 5 1 4 1 4 2 1 2 0 2 5 3 2 3 1 3 2 4 7 4 3 4 0 5 7 5 4 5 0 6 1 6 2 6 7 7 6 7 5 7 4 8 5 8 1 8 5 9 6 9 2 9 2 10 6 10 7 10 0 11 3 11 7 11</p>
		</triangles>
	`
	var triangles collada.Triangles
	c.Assert(xml.Unmarshal([]byte(data), &triangles), qt.IsNil)
	c.Assert(triangles.Material, qt.Equals, "Material-material")
	c.Assert(triangles.Count, qt.Equals, 12)
	c.Assert(triangles.Inputs, qt.HasLen, 2)
	c.Assert(triangles.Index, qt.HasLen, 12*6)
	c.Assert(triangles.Stride(), qt.Equals, 2)

	normal, ok := triangles.Input("NORMAL")
	c.Assert(ok, qt.IsTrue)
	c.Assert(normal.Offset, qt.Equals, uint(1))
	_, ok = triangles.Input("TEXCOORD")
	c.Assert(ok, qt.IsFalse)
}

func TestTrianglesBadIndex(t *testing.T) {
	var triangles collada.Triangles
	err := xml.Unmarshal([]byte(`<triangles count="1"><p>0 1 x</p></triangles>`), &triangles)
	qt.Assert(t, err, qt.ErrorMatches, `collada: triangles: .*`)
}

func TestInputDecode(t *testing.T) {
	c := qt.New(t)
	data := `
	<object>
		<input semantic="VERTEX" source="#Cube-mesh-vertices" offset="0" />
		<input semantic="NORMAL" source="#Cube-mesh-normals" offset="1" />
		<input semantic="TEXTUR" source="#Cube-mesh-textures" offset="2" />
	</object>
	`

	type Object struct {
		XMLNname xml.Name        `xml:"object"`
		Inputs   []collada.Input `xml:"input"`
	}

	var obj Object
	c.Assert(xml.Unmarshal([]byte(data), &obj), qt.IsNil)
	c.Assert(obj.Inputs, qt.DeepEquals, []collada.Input{
		{Semantic: "VERTEX", Source: "#Cube-mesh-vertices", Offset: 0},
		{Semantic: "NORMAL", Source: "#Cube-mesh-normals", Offset: 1},
		{Semantic: "TEXTUR", Source: "#Cube-mesh-textures", Offset: 2},
	})
}

func TestFloatsDecode(t *testing.T) {
	c := qt.New(t)
	data := `<float_array id="Cube-mesh-normals-array" count="36">0 0 -1 0 0 1 1 0 -2.38419e-7 0 -1 -4.76837e-7 -1 2.38419e-7 -1.49012e-7 2.68221e-7 1 2.38419e-7 0 0 -1 0 0 1 1 -5.96046e-7 3.27825e-7 -4.76837e-7 -1 0 -1 2.38419e-7 -1.19209e-7 2.08616e-7 1 0</float_array>`

	var floats collada.Floats
	c.Assert(xml.Unmarshal([]byte(data), &floats), qt.IsNil)
	c.Assert(floats.Data, qt.HasLen, 36)
	c.Assert(floats.ID, qt.Equals, "Cube-mesh-normals-array")
}

func TestFloatsWhitespace(t *testing.T) {
	c := qt.New(t)
	var floats collada.Floats
	c.Assert(xml.Unmarshal([]byte("<float_array id=\"a\">\n  1 2\t3\n</float_array>"), &floats), qt.IsNil)
	c.Assert(floats.Data, qt.DeepEquals, []float32{1, 2, 3})
}

func TestSourceByID(t *testing.T) {
	c := qt.New(t)
	mesh := collada.Mesh{Source: []collada.Source{{ID: "Cube-mesh-positions"}, {ID: "Cube-mesh-normals"}}}
	s, ok := mesh.SourceByID("#Cube-mesh-normals")
	c.Assert(ok, qt.IsTrue)
	c.Assert(s.ID, qt.Equals, "Cube-mesh-normals")
	_, ok = mesh.SourceByID("Cube-mesh-map")
	c.Assert(ok, qt.IsFalse)
}
