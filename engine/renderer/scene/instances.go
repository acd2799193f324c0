package scene

import (
	"github.com/go-gl/mathgl/mgl32"
)

// InstanceStride is the size of one per-instance model matrix.
const InstanceStride = mat4Size

// Grid places n*n*n instances on a cube lattice centered on the origin.
func Grid(n int, spacing float32) []mgl32.Mat4 {
	if n <= 0 {
		return nil
	}
	out := make([]mgl32.Mat4, 0, n*n*n)
	half := float32(n-1) * spacing / 2
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			for z := 0; z < n; z++ {
				out = append(out, mgl32.Translate3D(
					float32(x)*spacing-half,
					float32(y)*spacing-half,
					float32(z)*spacing-half,
				))
			}
		}
	}
	return out
}

// Spin rotates every transform around its own Y axis by angle radians.
func Spin(transforms []mgl32.Mat4, angle float32) []mgl32.Mat4 {
	out := make([]mgl32.Mat4, len(transforms))
	rotation := mgl32.HomogRotate3DY(angle)
	for i, m := range transforms {
		out[i] = m.Mul4(rotation)
	}
	return out
}

// EncodeInstances packs transforms into dst as consecutive column-major matrices and
// returns the number of bytes written.
func EncodeInstances(dst []byte, transforms []mgl32.Mat4) int {
	n := min(len(transforms), len(dst)/InstanceStride)
	for i := 0; i < n; i++ {
		putMat4(dst[i*InstanceStride:], transforms[i])
	}
	return n * InstanceStride
}
