package vulkan

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/prism/engine/core"
)

const spirvMagic = 0x07230203

// VulkanShaderStage is a shader module plus the stage info that plugs it into a pipeline.
type VulkanShaderStage struct {
	Handle                vk.ShaderModule
	ShaderStageCreateInfo vk.PipelineShaderStageCreateInfo
}

// spirvWords reinterprets a SPIR-V binary as the word slice vulkan consumes.
func spirvWords(code []byte) ([]uint32, error) {
	if len(code) < 20 || len(code)%4 != 0 {
		return nil, errors.Newf("SPIR-V binary has invalid length %d", len(code))
	}
	if binary.LittleEndian.Uint32(code) != spirvMagic {
		return nil, errors.New("SPIR-V binary has a bad magic number")
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return words, nil
}

func (d *Device) newShaderStage(code []byte, stage vk.ShaderStageFlagBits) (VulkanShaderStage, error) {
	words, err := spirvWords(code)
	if err != nil {
		core.LogError(err.Error())
		return VulkanShaderStage{}, err
	}

	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code)),
		PCode:    words,
	}
	var module vk.ShaderModule
	if err := check(vk.CreateShaderModule(d.LogicalDevice, &createInfo, nil, &module), "creating shader module"); err != nil {
		return VulkanShaderStage{}, err
	}

	return VulkanShaderStage{
		Handle: module,
		ShaderStageCreateInfo: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  stage,
			Module: module,
			PName:  VulkanSafeString("main"),
		},
	}, nil
}

func (d *Device) destroyShaderStage(s VulkanShaderStage) {
	if s.Handle != nil {
		vk.DestroyShaderModule(d.LogicalDevice, s.Handle, nil)
	}
}
