// Package scene holds the per-frame inputs of the renderer: camera, lights and instance
// transforms, and packs them into the layouts the shaders read.
package scene

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// pitchLimit is 89 degrees.
const pitchLimit = float32(1.55334306)

// Camera is a fly camera. Position and EulerRotation (pitch, yaw, roll) are applied through
// the setters so the view matrix is rebuilt lazily.
type Camera struct {
	Position      mgl32.Vec3
	EulerRotation mgl32.Vec3

	FovY   float32
	Aspect float32
	Near   float32
	Far    float32

	isDirty bool
	view    mgl32.Mat4
}

func NewCamera() *Camera {
	c := &Camera{}
	c.Reset()
	return c
}

func (c *Camera) Reset() {
	c.Position = mgl32.Vec3{}
	c.EulerRotation = mgl32.Vec3{}
	c.FovY = mgl32.DegToRad(45)
	c.Aspect = 4.0 / 3.0
	c.Near = 0.1
	c.Far = 1000
	c.isDirty = false
	c.view = mgl32.Ident4()
}

func (c *Camera) SetPosition(position mgl32.Vec3) {
	c.Position = position
	c.isDirty = true
}

func (c *Camera) SetEulerRotation(rotation mgl32.Vec3) {
	c.EulerRotation = rotation
	c.isDirty = true
}

// SetAspect follows the swapchain extent.
func (c *Camera) SetAspect(width, height uint32) {
	if width == 0 || height == 0 {
		return
	}
	c.Aspect = float32(width) / float32(height)
}

func (c *Camera) View() mgl32.Mat4 {
	if c.isDirty {
		rotation := mgl32.HomogRotate3DX(c.EulerRotation.X()).
			Mul4(mgl32.HomogRotate3DY(c.EulerRotation.Y())).
			Mul4(mgl32.HomogRotate3DZ(c.EulerRotation.Z()))
		translation := mgl32.Translate3D(c.Position.X(), c.Position.Y(), c.Position.Z())
		c.view = translation.Mul4(rotation).Inv()
		c.isDirty = false
	}
	return c.view
}

// Projection is a right-handed perspective projection with a zero to one depth range.
func (c *Camera) Projection() mgl32.Mat4 {
	f := float32(1 / math.Tan(float64(c.FovY)/2))
	return mgl32.Mat4{
		f / c.Aspect, 0, 0, 0,
		0, f, 0, 0,
		0, 0, c.Far / (c.Near - c.Far), -1,
		0, 0, c.Near * c.Far / (c.Near - c.Far), 0,
	}
}

func (c *Camera) Forward() mgl32.Vec3 {
	v := c.View()
	return mgl32.Vec3{-v[2], -v[6], -v[10]}.Normalize()
}

func (c *Camera) Right() mgl32.Vec3 {
	v := c.View()
	return mgl32.Vec3{v[0], v[4], v[8]}.Normalize()
}

func (c *Camera) MoveForward(amount float32) {
	c.move(c.Forward().Mul(amount))
}

func (c *Camera) MoveBackward(amount float32) {
	c.move(c.Forward().Mul(-amount))
}

func (c *Camera) MoveLeft(amount float32) {
	c.move(c.Right().Mul(-amount))
}

func (c *Camera) MoveRight(amount float32) {
	c.move(c.Right().Mul(amount))
}

func (c *Camera) MoveUp(amount float32) {
	c.move(mgl32.Vec3{0, amount, 0})
}

func (c *Camera) MoveDown(amount float32) {
	c.move(mgl32.Vec3{0, -amount, 0})
}

func (c *Camera) move(delta mgl32.Vec3) {
	c.Position = c.Position.Add(delta)
	c.isDirty = true
}

func (c *Camera) Yaw(amount float32) {
	c.EulerRotation[1] += amount
	c.isDirty = true
}

func (c *Camera) Pitch(amount float32) {
	c.EulerRotation[0] = mgl32.Clamp(c.EulerRotation[0]+amount, -pitchLimit, pitchLimit)
	c.isDirty = true
}
