package assets

import (
	"github.com/cockroachdb/errors"
)

// MeshData is what a mesh loader hands to the renderer. Attributes are tightly packed:
// 3 floats per position and normal, 2 per texture coordinate.
type MeshData struct {
	Positions []float32
	Normals   []float32
	TexCoords []float32
	Indices   []uint32
}

func (m *MeshData) VertexCount() int {
	return len(m.Positions) / 3
}

// Validate checks that every attribute stream has the same vertex count and that
// every index points at a vertex.
func (m *MeshData) Validate() error {
	if len(m.Positions)%3 != 0 {
		return errors.Newf("positions length %d is not a multiple of 3", len(m.Positions))
	}
	n := m.VertexCount()
	if n == 0 {
		return errors.New("mesh has no vertices")
	}
	if len(m.Normals) != n*3 {
		return errors.Newf("mesh has %d vertices but %d normal components", n, len(m.Normals))
	}
	if len(m.TexCoords) != n*2 {
		return errors.Newf("mesh has %d vertices but %d texcoord components", n, len(m.TexCoords))
	}
	if len(m.Indices) == 0 || len(m.Indices)%3 != 0 {
		return errors.Newf("index count %d is not a positive multiple of 3", len(m.Indices))
	}
	for i, idx := range m.Indices {
		if int(idx) >= n {
			return errors.Newf("index %d at %d is out of range for %d vertices", idx, i, n)
		}
	}
	return nil
}

// Cube generates an axis aligned cube centered on the origin with 4 vertices per face,
// so each face gets its own normal.
func Cube(size float32) *MeshData {
	h := size / 2
	faces := []struct {
		normal  [3]float32
		corners [4][3]float32
	}{
		{[3]float32{0, 0, 1}, [4][3]float32{{-h, -h, h}, {h, -h, h}, {h, h, h}, {-h, h, h}}},
		{[3]float32{0, 0, -1}, [4][3]float32{{h, -h, -h}, {-h, -h, -h}, {-h, h, -h}, {h, h, -h}}},
		{[3]float32{1, 0, 0}, [4][3]float32{{h, -h, h}, {h, -h, -h}, {h, h, -h}, {h, h, h}}},
		{[3]float32{-1, 0, 0}, [4][3]float32{{-h, -h, -h}, {-h, -h, h}, {-h, h, h}, {-h, h, -h}}},
		{[3]float32{0, 1, 0}, [4][3]float32{{-h, h, h}, {h, h, h}, {h, h, -h}, {-h, h, -h}}},
		{[3]float32{0, -1, 0}, [4][3]float32{{-h, -h, -h}, {h, -h, -h}, {h, -h, h}, {-h, -h, h}}},
	}
	uvs := [4][2]float32{{0, 1}, {1, 1}, {1, 0}, {0, 0}}

	m := &MeshData{
		Positions: make([]float32, 0, 6*4*3),
		Normals:   make([]float32, 0, 6*4*3),
		TexCoords: make([]float32, 0, 6*4*2),
		Indices:   make([]uint32, 0, 6*6),
	}
	for f, face := range faces {
		for c, corner := range face.corners {
			m.Positions = append(m.Positions, corner[:]...)
			m.Normals = append(m.Normals, face.normal[:]...)
			m.TexCoords = append(m.TexCoords, uvs[c][:]...)
		}
		base := uint32(f * 4)
		m.Indices = append(m.Indices, base, base+1, base+2, base+2, base+3, base)
	}
	return m
}

// Plane generates a square on the XZ plane facing +Y. Texture coordinates repeat tiles
// times across the plane, which relies on a repeating sampler.
func Plane(size float32, tiles float32) *MeshData {
	h := size / 2
	return &MeshData{
		Positions: []float32{
			-h, 0, h,
			h, 0, h,
			h, 0, -h,
			-h, 0, -h,
		},
		Normals: []float32{
			0, 1, 0,
			0, 1, 0,
			0, 1, 0,
			0, 1, 0,
		},
		TexCoords: []float32{
			0, tiles,
			tiles, tiles,
			tiles, 0,
			0, 0,
		},
		Indices: []uint32{0, 1, 2, 2, 3, 0},
	}
}
