package scene

import (
	"encoding/binary"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/prism/engine/core"
)

// MaxLights is the size of each light array in the frame uniform block.
const MaxLights = 8

const (
	mat4Size  = 64
	vec4Size  = 16
	lightSize = 4 * vec4Size

	offsetProjection  = 0
	offsetView        = offsetProjection + mat4Size
	offsetEye         = offsetView + mat4Size
	offsetDirectional = offsetEye + vec4Size
	offsetPoint       = offsetDirectional + MaxLights*lightSize
	offsetCounts      = offsetPoint + MaxLights*lightSize

	// FrameUniformSize is the std140 size of the frame uniform block:
	//
	//	mat4 projection; mat4 view; vec3 eye;
	//	Light directional[8]; Light point[8];
	//	uint directional_count; uint point_count; float time;
	FrameUniformSize = offsetCounts + vec4Size
)

type LightKind int

const (
	LightDirectional LightKind = iota
	LightPoint
)

// Light is a Phong light. Position is the direction towards a directional light.
type Light struct {
	Kind     LightKind
	Position mgl32.Vec3
	Ambient  mgl32.Vec3
	Diffuse  mgl32.Vec3
	Specular mgl32.Vec3
}

func NewDirectionalLight(direction, ambient, diffuse, specular mgl32.Vec3) Light {
	return Light{Kind: LightDirectional, Position: direction, Ambient: ambient, Diffuse: diffuse, Specular: specular}
}

func NewPointLight(position, ambient, diffuse, specular mgl32.Vec3) Light {
	return Light{Kind: LightPoint, Position: position, Ambient: ambient, Diffuse: diffuse, Specular: specular}
}

// LightCaps bounds how many lights of each kind a scene may carry.
type LightCaps struct {
	MaxDirectional int
	MaxPoint       int
}

func (c LightCaps) Validate() error {
	if c.MaxDirectional < 0 || c.MaxDirectional > MaxLights || c.MaxPoint < 0 || c.MaxPoint > MaxLights {
		err := core.MarkFatal(errors.Wrapf(core.ErrLightCapExceeded,
			"light caps %d directional, %d point; the uniform block holds %d of each", c.MaxDirectional, c.MaxPoint, MaxLights))
		core.LogError(err.Error())
		return err
	}
	return nil
}

// FrameUniform is everything the shaders read once per frame.
type FrameUniform struct {
	Projection mgl32.Mat4
	View       mgl32.Mat4
	Eye        mgl32.Vec3
	Time       float32

	caps        LightCaps
	directional []Light
	point       []Light
}

func NewFrameUniform(caps LightCaps) (*FrameUniform, error) {
	if err := caps.Validate(); err != nil {
		return nil, err
	}
	return &FrameUniform{
		Projection: mgl32.Ident4(),
		View:       mgl32.Ident4(),
		caps:       caps,
	}, nil
}

// SetCamera copies the camera matrices, flipping Y for the Vulkan clip space.
func (u *FrameUniform) SetCamera(c *Camera) {
	u.Projection = c.Projection()
	u.Projection.Set(1, 1, -u.Projection.At(1, 1))
	u.View = c.View()
	u.Eye = c.Position
}

// AddLight appends l. Going past the configured cap returns core.ErrLightCapExceeded.
func (u *FrameUniform) AddLight(l Light) error {
	switch l.Kind {
	case LightDirectional:
		if len(u.directional) >= u.caps.MaxDirectional {
			return errors.Wrapf(core.ErrLightCapExceeded, "directional light %d of %d", len(u.directional)+1, u.caps.MaxDirectional)
		}
		u.directional = append(u.directional, l)
	case LightPoint:
		if len(u.point) >= u.caps.MaxPoint {
			return errors.Wrapf(core.ErrLightCapExceeded, "point light %d of %d", len(u.point)+1, u.caps.MaxPoint)
		}
		u.point = append(u.point, l)
	default:
		return errors.Newf("unknown light kind %d", l.Kind)
	}
	return nil
}

func (u *FrameUniform) ClearLights() {
	u.directional = u.directional[:0]
	u.point = u.point[:0]
}

func (u *FrameUniform) Lights() (directional, point []Light) {
	return u.directional, u.point
}

// Encode writes the std140 block into dst, which must hold FrameUniformSize bytes.
func (u *FrameUniform) Encode(dst []byte) error {
	if len(dst) < FrameUniformSize {
		return errors.Newf("frame uniform needs %d bytes, got %d", FrameUniformSize, len(dst))
	}
	dst = dst[:FrameUniformSize]
	clear(dst)

	putMat4(dst[offsetProjection:], u.Projection)
	putMat4(dst[offsetView:], u.View)
	putVec3(dst[offsetEye:], u.Eye)
	for i, l := range u.directional {
		putLight(dst[offsetDirectional+i*lightSize:], l)
	}
	for i, l := range u.point {
		putLight(dst[offsetPoint+i*lightSize:], l)
	}
	binary.LittleEndian.PutUint32(dst[offsetCounts:], uint32(len(u.directional)))
	binary.LittleEndian.PutUint32(dst[offsetCounts+4:], uint32(len(u.point)))
	putFloat(dst[offsetCounts+8:], u.Time)
	return nil
}

func putFloat(dst []byte, f float32) {
	binary.LittleEndian.PutUint32(dst, math.Float32bits(f))
}

// putMat4 writes m column by column, as mgl32 stores it.
func putMat4(dst []byte, m mgl32.Mat4) {
	for i, f := range m {
		putFloat(dst[i*4:], f)
	}
}

// putVec3 writes v padded to a vec4.
func putVec3(dst []byte, v mgl32.Vec3) {
	for i, f := range v {
		putFloat(dst[i*4:], f)
	}
}

func putLight(dst []byte, l Light) {
	putVec3(dst[0:], l.Position)
	putVec3(dst[vec4Size:], l.Ambient)
	putVec3(dst[2*vec4Size:], l.Diffuse)
	putVec3(dst[3*vec4Size:], l.Specular)
}
