package assets

import (
	"encoding/binary"
	"os"

	"github.com/cockroachdb/errors"
)

const spirvMagic uint32 = 0x07230203

var ErrInvalidSPIRV = errors.New("invalid SPIR-V module")

// ValidateSPIRV checks the module header: word aligned, at least the 5 header words,
// and the magic number in little endian.
func ValidateSPIRV(code []byte) error {
	if len(code) < 20 || len(code)%4 != 0 {
		return errors.Wrapf(ErrInvalidSPIRV, "%d bytes", len(code))
	}
	if magic := binary.LittleEndian.Uint32(code); magic != spirvMagic {
		return errors.Wrapf(ErrInvalidSPIRV, "magic 0x%08x", magic)
	}
	return nil
}

type ShaderLoader struct{}

func (sl *ShaderLoader) Load(path string) (interface{}, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading shader %s", path)
	}
	if err := ValidateSPIRV(code); err != nil {
		return nil, errors.Wrapf(err, "shader %s", path)
	}
	return code, nil
}

type ImageLoader struct {
	// MaxDimension scales larger images down. Zero keeps the original size.
	MaxDimension int
}

func (il *ImageLoader) Load(path string) (interface{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening image %s", path)
	}
	defer f.Close()

	data, err := DecodeImage(f)
	if err != nil {
		return nil, errors.Wrapf(err, "image %s", path)
	}
	if il.MaxDimension > 0 {
		data = data.ScaledToFit(il.MaxDimension)
	}
	return data, nil
}
