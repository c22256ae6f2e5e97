package model

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/devblok/korurt/resource"
	"github.com/devblok/korurt/util/collada"
	glm "github.com/go-gl/mathgl/mgl32"
)

// DefaultColor is given to imported vertices.
var DefaultColor = glm.Vec4{1.0, 1.0, 0.0, 1.0}

// ImportColladaObject reads given file and converts the first Collada
// geometry to engine's internal object
func ImportColladaObject(fileContents []byte) (*ColladaObject, error) {
	var colladaModel collada.Collada
	if err := xml.Unmarshal(fileContents, &colladaModel); err != nil {
		return nil, fmt.Errorf("model.ImportColladaObject(): %w", err)
	}
	if len(colladaModel.Geometries) == 0 {
		return nil, errors.New("model.ImportColladaObject(): no geometry")
	}

	mesh := colladaModel.Geometries[0].Mesh
	positions, err := positionSource(&mesh)
	if err != nil {
		return nil, fmt.Errorf("model.ImportColladaObject(): %w", err)
	}
	tris := mesh.Triangles
	vertexInput, ok := tris.Input("VERTEX")
	if !ok {
		return nil, errors.New("model.ImportColladaObject(): triangles without VERTEX input")
	}
	normalInput, hasNormals := tris.Input("NORMAL")
	var normals collada.Source
	if hasNormals {
		if normals, ok = mesh.SourceByID(normalInput.Source); !ok {
			return nil, fmt.Errorf("model.ImportColladaObject(): missing source %s", normalInput.Source)
		}
	}

	stride := tris.Stride()
	if stride == 0 || len(tris.Index)%stride != 0 {
		return nil, fmt.Errorf("model.ImportColladaObject(): %d indices do not divide into corners of %d", len(tris.Index), stride)
	}

	vertices := make([]Vertex, 0, len(tris.Index)/stride)
	for idx := 0; idx < len(tris.Index)/stride; idx++ {
		corner := tris.Index[stride*idx : stride*idx+stride]
		pos, err := vec3(positions, corner[vertexInput.Offset])
		if err != nil {
			return nil, fmt.Errorf("model.ImportColladaObject(): %w", err)
		}
		vert := Vertex{Pos: pos, Color: DefaultColor}
		if hasNormals {
			if vert.Normal, err = vec3(normals, corner[normalInput.Offset]); err != nil {
				return nil, fmt.Errorf("model.ImportColladaObject(): %w", err)
			}
		}
		vertices = append(vertices, vert)
	}

	return &ColladaObject{
		name:     colladaModel.Geometries[0].Name,
		position: glm.Ident4(),
		rotation: glm.Ident4(),
		vertices: vertices,
	}, nil
}

// LoadColladaObject imports a .dae payload through l.
func LoadColladaObject(l resource.Loader, id string) (*ColladaObject, error) {
	data, err := l.Load(id)
	if err != nil {
		return nil, fmt.Errorf("model.LoadColladaObject(%s): %w", id, err)
	}
	return ImportColladaObject(data)
}

func vec3(s collada.Source, i int) (glm.Vec3, error) {
	if i < 0 || 3*i+3 > len(s.Floats.Data) {
		return glm.Vec3{}, fmt.Errorf("index %d out of range of %s", i, s.ID)
	}
	d := s.Floats.Data[3*i:]
	return glm.Vec3{d[0], d[1], d[2]}, nil
}

// positionSource follows the vertices element to the position source,
// falling back to a source named like "-positions".
func positionSource(mesh *collada.Mesh) (collada.Source, error) {
	if in, ok := mesh.Vertices.Input("POSITION"); ok {
		if s, ok := mesh.SourceByID(in.Source); ok {
			return s, nil
		}
	}
	return findSource(mesh.Source, "positions")
}

// ColladaObject is imported from a collada (.dae) file.
// Loaded and held in memory
type ColladaObject struct {
	name string

	mutex    sync.RWMutex
	position glm.Mat4
	rotation glm.Mat4

	vertices []Vertex
}

// Name returns the geometry name.
func (co *ColladaObject) Name() string {
	return co.name
}

// SetPosition implements interface
func (co *ColladaObject) SetPosition(pos glm.Mat4) {
	co.mutex.Lock()
	co.position = pos
	co.mutex.Unlock()
}

// Position implements interface
func (co *ColladaObject) Position() glm.Mat4 {
	co.mutex.RLock()
	defer co.mutex.RUnlock()
	return co.position
}

// SetRotation implements interface
func (co *ColladaObject) SetRotation(rot glm.Mat4) {
	co.mutex.Lock()
	co.rotation = rot
	co.mutex.Unlock()
}

// Rotation implements interface
func (co *ColladaObject) Rotation() glm.Mat4 {
	co.mutex.RLock()
	defer co.mutex.RUnlock()
	return co.rotation
}

// Vertices implements interface
func (co *ColladaObject) Vertices() []Vertex {
	return co.vertices
}

func findSource(sources []collada.Source, dataType string) (collada.Source, error) {
	for _, s := range sources {
		if strings.HasSuffix(s.ID, fmt.Sprintf("-%s", dataType)) {
			return s, nil
		}
	}
	return collada.Source{}, fmt.Errorf("source type %s not found", dataType)
}
