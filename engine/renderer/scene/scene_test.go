package scene

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/prism/engine/core"
)

func floatAt(b []byte, offset int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[offset:]))
}

func TestLightCapsAreValidated(t *testing.T) {
	_, err := NewFrameUniform(LightCaps{MaxDirectional: 9, MaxPoint: 1})
	require.ErrorIs(t, err, core.ErrLightCapExceeded)
	require.True(t, core.IsFatal(err))

	u, err := NewFrameUniform(LightCaps{MaxDirectional: 1, MaxPoint: 2})
	require.NoError(t, err)

	white := mgl32.Vec3{1, 1, 1}
	require.NoError(t, u.AddLight(NewDirectionalLight(mgl32.Vec3{0, 1, 0}, white, white, white)))
	require.ErrorIs(t, u.AddLight(NewDirectionalLight(mgl32.Vec3{1, 0, 0}, white, white, white)), core.ErrLightCapExceeded)
	require.NoError(t, u.AddLight(NewPointLight(mgl32.Vec3{1, 2, 3}, white, white, white)))
	require.NoError(t, u.AddLight(NewPointLight(mgl32.Vec3{4, 5, 6}, white, white, white)))
	require.ErrorIs(t, u.AddLight(NewPointLight(mgl32.Vec3{}, white, white, white)), core.ErrLightCapExceeded)

	directional, point := u.Lights()
	require.Len(t, directional, 1)
	require.Len(t, point, 2)

	u.ClearLights()
	directional, point = u.Lights()
	require.Empty(t, directional)
	require.Empty(t, point)
}

func TestFrameUniformLayout(t *testing.T) {
	require.Equal(t, 1184, FrameUniformSize)

	u, err := NewFrameUniform(LightCaps{MaxDirectional: MaxLights, MaxPoint: MaxLights})
	require.NoError(t, err)

	cam := NewCamera()
	cam.SetAspect(800, 600)
	cam.SetPosition(mgl32.Vec3{0, 2, 10})
	u.SetCamera(cam)
	u.Time = 1.5

	require.NoError(t, u.AddLight(NewDirectionalLight(mgl32.Vec3{0, -1, 0}, mgl32.Vec3{0.1, 0.1, 0.1}, mgl32.Vec3{1, 1, 1}, mgl32.Vec3{0.5, 0.5, 0.5})))
	require.NoError(t, u.AddLight(NewPointLight(mgl32.Vec3{3, 4, 5}, mgl32.Vec3{}, mgl32.Vec3{0.8, 0.2, 0.2}, mgl32.Vec3{})))
	require.NoError(t, u.AddLight(NewPointLight(mgl32.Vec3{6, 7, 8}, mgl32.Vec3{}, mgl32.Vec3{}, mgl32.Vec3{})))

	buf := make([]byte, FrameUniformSize+16)
	for i := range buf {
		buf[i] = 0xAA
	}
	require.NoError(t, u.Encode(buf))

	proj := cam.Projection()
	// Column-major: element [1][1] sits at float index 5, flipped for Vulkan.
	require.Equal(t, -proj[5], floatAt(buf, offsetProjection+5*4))
	require.Equal(t, proj[0], floatAt(buf, offsetProjection))

	view := cam.View()
	require.Equal(t, view[13], floatAt(buf, offsetView+13*4))
	require.Equal(t, float32(-2), floatAt(buf, offsetView+13*4))

	require.Equal(t, float32(10), floatAt(buf, offsetEye+8))
	require.Zero(t, floatAt(buf, offsetEye+12))

	require.Equal(t, float32(-1), floatAt(buf, offsetDirectional+4))
	require.Equal(t, float32(0.5), floatAt(buf, offsetDirectional+3*16))
	require.Equal(t, float32(3), floatAt(buf, offsetPoint))
	require.Equal(t, float32(0.8), floatAt(buf, offsetPoint+2*16))
	require.Equal(t, float32(6), floatAt(buf, offsetPoint+lightSize))

	require.Equal(t, uint32(1), binary.LittleEndian.Uint32(buf[offsetCounts:]))
	require.Equal(t, uint32(2), binary.LittleEndian.Uint32(buf[offsetCounts+4:]))
	require.Equal(t, float32(1.5), floatAt(buf, offsetCounts+8))

	// Bytes past the block are untouched.
	require.Equal(t, byte(0xAA), buf[FrameUniformSize])
	require.Error(t, u.Encode(make([]byte, FrameUniformSize-1)))
}

func TestCameraView(t *testing.T) {
	cam := NewCamera()
	require.Equal(t, mgl32.Ident4(), cam.View())

	cam.SetPosition(mgl32.Vec3{1, 2, 3})
	eye := cam.View().Mul4x1(mgl32.Vec4{1, 2, 3, 1})
	require.InDelta(t, 0, eye.Len(), 1e-5, "the camera position maps to the view origin")

	require.InDelta(t, 0, cam.Forward().Sub(mgl32.Vec3{0, 0, -1}).Len(), 1e-5)
	cam.MoveForward(2)
	require.InDelta(t, 1, cam.Position.Z(), 1e-5)

	cam.Yaw(mgl32.DegToRad(90))
	require.InDelta(t, 0, cam.Forward().Sub(mgl32.Vec3{-1, 0, 0}).Len(), 1e-5)

	cam.Pitch(10)
	require.Equal(t, pitchLimit, cam.EulerRotation.X())
}

func TestProjectionDepthRange(t *testing.T) {
	cam := NewCamera()
	cam.SetAspect(1920, 1080)
	proj := cam.Projection()

	near := proj.Mul4x1(mgl32.Vec4{0, 0, -cam.Near, 1})
	far := proj.Mul4x1(mgl32.Vec4{0, 0, -cam.Far, 1})
	require.InDelta(t, 0, near.Z()/near.W(), 1e-5)
	require.InDelta(t, 1, far.Z()/far.W(), 1e-4)
	require.InDelta(t, float64(1080)/1920, float64(proj[0]/proj[5]), 1e-5)
}

func TestGridAndInstances(t *testing.T) {
	grid := Grid(5, 2)
	require.Len(t, grid, 125)
	require.Equal(t, float32(-4), grid[0].Col(3).X())
	require.Equal(t, float32(4), grid[124].Col(3).Z())
	require.Nil(t, Grid(0, 1))

	spun := Spin(grid[:1], mgl32.DegToRad(90))
	require.Equal(t, grid[0].Col(3), spun[0].Col(3))

	buf := make([]byte, 3*InstanceStride+10)
	n := EncodeInstances(buf, grid)
	require.Equal(t, 3*InstanceStride, n)
	require.Equal(t, grid[2][12], floatAt(buf, 2*InstanceStride+12*4))
}
