package assets

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/prism/engine/core"
)

func spirv(words int) []byte {
	code := make([]byte, words*4)
	binary.LittleEndian.PutUint32(code, spirvMagic)
	return code
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestValidateSPIRV(t *testing.T) {
	require.NoError(t, ValidateSPIRV(spirv(5)))

	for name, code := range map[string][]byte{
		"short":     spirv(4),
		"unaligned": append(spirv(5), 0),
		"magic":     make([]byte, 20),
	} {
		t.Run(name, func(t *testing.T) {
			require.True(t, errors.Is(ValidateSPIRV(code), ErrInvalidSPIRV))
		})
	}
}

func TestMeshGenerators(t *testing.T) {
	cube := Cube(2)
	require.NoError(t, cube.Validate())
	require.Equal(t, 24, cube.VertexCount())
	require.Len(t, cube.Indices, 36)

	plane := Plane(10, 4)
	require.NoError(t, plane.Validate())
	require.Equal(t, 4, plane.VertexCount())

	broken := Plane(1, 1)
	broken.Indices[0] = 9
	require.Error(t, broken.Validate())
}

func TestDecodeImageConvertsToRGBA(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 3, 2))
	src.SetGray(1, 0, color.Gray{Y: 200})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	img, err := DecodeImage(&buf)
	require.NoError(t, err)
	require.Equal(t, 3, img.Width)
	require.Equal(t, 2, img.Height)
	require.Equal(t, 4, img.Components)
	require.Len(t, img.Pixels, 3*2*4)
	require.Equal(t, []byte{200, 200, 200, 255}, img.Pixels[4:8])

	_, err = DecodeImage(bytes.NewReader([]byte("not an image")))
	require.Error(t, err)
}

func TestScaledToFit(t *testing.T) {
	board := Checkerboard(64, 8, color.RGBA{A: 255}, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	require.Same(t, board, board.ScaledToFit(64))

	small := board.ScaledToFit(16)
	require.Equal(t, 16, small.Width)
	require.Equal(t, 16, small.Height)
	require.Len(t, small.Pixels, 16*16*4)
}

func TestAssetManagerLoads(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "shaders", "mesh.vert.spv"), spirv(8))
	writeFile(t, filepath.Join(root, "shaders", "bad.frag.spv"), []byte("nope"))
	writeFile(t, filepath.Join(root, "notes.txt"), []byte("ignored"))

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, Checkerboard(4, 2, color.RGBA{A: 255}, color.RGBA{R: 255, A: 255}).RGBA()))
	writeFile(t, filepath.Join(root, "textures", "ground.png"), buf.Bytes())

	am := NewAssetManager(nil)
	require.NoError(t, am.Initialize(root, false))
	defer am.Shutdown()

	code, err := am.LoadShader("shaders/mesh.vert.spv")
	require.NoError(t, err)
	require.Len(t, code, 32)

	_, err = am.LoadShader("shaders/bad.frag.spv")
	require.True(t, errors.Is(err, ErrInvalidSPIRV))

	img, err := am.LoadImage("textures/ground.png")
	require.NoError(t, err)
	require.Equal(t, 4, img.Width)

	_, err = am.Load("notes.txt")
	require.True(t, errors.Is(err, ErrAssetNotFound))

	_, err = am.LoadImage("shaders/mesh.vert.spv")
	require.Error(t, err)

	require.ElementsMatch(t, []string{"shaders/mesh.vert.spv", "shaders/bad.frag.spv"}, am.Assets(AssetTypeShader))
}

func TestAssetManagerAnnouncesShaderChanges(t *testing.T) {
	root := t.TempDir()
	shader := filepath.Join(root, "mesh.frag.spv")
	writeFile(t, shader, spirv(5))

	bus := core.NewEventBus()
	changed := make(chan []string, 8)
	bus.Register(core.EVENT_CODE_SHADERS_CHANGED, t, func(sender interface{}, ctx core.EventContext) bool {
		changed <- ctx.Paths
		return true
	})

	am := NewAssetManager(bus)
	require.NoError(t, am.Initialize(root, true))
	defer am.Shutdown()

	writeFile(t, shader, spirv(6))

	select {
	case paths := <-changed:
		require.Equal(t, []string{"mesh.frag.spv"}, paths)
	case <-time.After(5 * time.Second):
		t.Fatal("no shader change event")
	}

	// A new shader in a new directory is picked up too.
	writeFile(t, filepath.Join(root, "extra", "sky.vert.spv"), spirv(5))
	require.Eventually(t, func() bool {
		_, err := am.LoadShader("extra/sky.vert.spv")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	am.Shutdown()
	am.Shutdown()
}
