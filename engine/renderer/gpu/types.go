package gpu

import "time"

// Handle is an opaque id issued by a backend. Zero is never issued.
type Handle uint64

// NullHandle is untyped so it compares against every handle kind.
const NullHandle = 0

type (
	Memory              Handle
	Buffer              Handle
	Image               Handle
	ImageView           Handle
	Sampler             Handle
	Swapchain           Handle
	RenderPass          Handle
	Framebuffer         Handle
	DescriptorSetLayout Handle
	DescriptorPool      Handle
	DescriptorSet       Handle
	PipelineLayout      Handle
	Pipeline            Handle
	CommandBuffer       Handle
	Semaphore           Handle
	Fence               Handle
)

// TimeoutInfinite blocks until the wait condition is met.
const TimeoutInfinite time.Duration = -1

type MemoryClass int

const (
	MemoryClassDeviceLocal MemoryClass = iota
	MemoryClassHostVisibleCoherent
	MemoryClassCount
)

func (c MemoryClass) String() string {
	switch c {
	case MemoryClassDeviceLocal:
		return "device-local"
	case MemoryClassHostVisibleCoherent:
		return "host-visible-coherent"
	}
	return "unknown"
}

type BufferUsage uint32

const (
	BufferUsageVertex BufferUsage = 1 << iota
	BufferUsageIndex
	BufferUsageUniform
	BufferUsageTransferSrc
	BufferUsageTransferDst
)

type Format int

const (
	FormatUndefined Format = iota
	FormatB8G8R8A8Srgb
	FormatB8G8R8A8Unorm
	FormatR8G8B8A8Srgb
	FormatR8G8B8A8Unorm
	FormatD24UnormS8Uint
	FormatD32SfloatS8Uint
	FormatD32Sfloat
	FormatR32G32Sfloat
	FormatR32G32B32Sfloat
	FormatR32G32B32A32Sfloat
)

// HasStencil reports whether a depth format carries a stencil component.
func (f Format) HasStencil() bool {
	return f == FormatD24UnormS8Uint || f == FormatD32SfloatS8Uint
}

func (f Format) IsDepth() bool {
	return f == FormatD24UnormS8Uint || f == FormatD32SfloatS8Uint || f == FormatD32Sfloat
}

type ColorSpace int

const (
	ColorSpaceSrgbNonlinear ColorSpace = iota
	ColorSpaceExtendedSrgbLinear
)

type PresentMode int

const (
	PresentModeImmediate PresentMode = iota
	PresentModeMailbox
	PresentModeFifo
	PresentModeFifoRelaxed
)

func (m PresentMode) String() string {
	switch m {
	case PresentModeImmediate:
		return "immediate"
	case PresentModeMailbox:
		return "mailbox"
	case PresentModeFifo:
		return "fifo"
	case PresentModeFifoRelaxed:
		return "fifo-relaxed"
	}
	return "unknown"
}

// ParsePresentMode maps a configuration name to a present mode.
func ParsePresentMode(name string) (PresentMode, bool) {
	for _, m := range []PresentMode{PresentModeImmediate, PresentModeMailbox, PresentModeFifo, PresentModeFifoRelaxed} {
		if m.String() == name {
			return m, true
		}
	}
	return PresentModeFifo, false
}

type ImageUsage uint32

const (
	ImageUsageTransferSrc ImageUsage = 1 << iota
	ImageUsageTransferDst
	ImageUsageSampled
	ImageUsageColorAttachment
	ImageUsageDepthStencilAttachment
	ImageUsageTransientAttachment
)

type ImageAspect uint32

const (
	ImageAspectColor ImageAspect = 1 << iota
	ImageAspectDepth
	ImageAspectStencil
)

type ImageLayout int

const (
	ImageLayoutUndefined ImageLayout = iota
	ImageLayoutTransferDst
	ImageLayoutTransferSrc
	ImageLayoutShaderReadOnly
	ImageLayoutColorAttachment
	ImageLayoutDepthStencilAttachment
	ImageLayoutPresentSrc
)

// SampleCount is the number of samples per pixel.
type SampleCount uint32

const (
	SampleCount1 SampleCount = 1
	SampleCount2 SampleCount = 2
	SampleCount4 SampleCount = 4
	SampleCount8 SampleCount = 8
)

type IndexType int

const (
	IndexTypeUint16 IndexType = iota
	IndexTypeUint32
)

type Filter int

const (
	FilterNearest Filter = iota
	FilterLinear
)

type Access uint32

const (
	AccessNone          Access = 0
	AccessTransferWrite Access = 1 << iota
	AccessTransferRead
	AccessShaderRead
	AccessVertexAttributeRead
	AccessIndexRead
	AccessUniformRead
	AccessColorAttachmentWrite
	AccessDepthStencilAttachmentWrite
)

type PipelineStage uint32

const (
	PipelineStageTopOfPipe PipelineStage = 1 << iota
	PipelineStageTransfer
	PipelineStageVertexInput
	PipelineStageVertexShader
	PipelineStageFragmentShader
	PipelineStageColorAttachmentOutput
	PipelineStageEarlyFragmentTests
	PipelineStageBottomOfPipe
)

type CullMode int

const (
	CullModeNone CullMode = iota
	CullModeBack
	CullModeFront
)

type DescriptorType int

const (
	DescriptorTypeUniformBuffer DescriptorType = iota
	DescriptorTypeCombinedImageSampler
)

type ShaderStage uint32

const (
	ShaderStageVertex ShaderStage = 1 << iota
	ShaderStageFragment
)

type CommandBufferUsage uint32

const (
	CommandBufferUsageOneTimeSubmit CommandBufferUsage = 1 << iota
	CommandBufferUsageSimultaneousUse
)

type VertexInputRate int

const (
	VertexInputRateVertex VertexInputRate = iota
	VertexInputRateInstance
)

// Status is the outcome of an acquire or present call.
type Status int

const (
	StatusSuccess Status = iota
	StatusSuboptimal
	StatusOutOfDate
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusSuboptimal:
		return "suboptimal"
	case StatusOutOfDate:
		return "out-of-date"
	}
	return "unknown"
}

// ExtentUndefined is the surface current-extent sentinel: the swapchain decides the size.
const ExtentUndefined uint32 = 0xFFFFFFFF

type Extent2D struct {
	Width  uint32
	Height uint32
}

func (e Extent2D) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

type MemoryRequirements struct {
	Size           uint64
	Alignment      uint64
	MemoryTypeBits uint32
}

type BufferDesc struct {
	Label string
	Size  uint64
	Usage BufferUsage
}

type ImageDesc struct {
	Label     string
	Extent    Extent2D
	MipLevels uint32
	Format    Format
	Samples   SampleCount
	Usage     ImageUsage
}

type ImageViewDesc struct {
	Image     Image
	Format    Format
	Aspect    ImageAspect
	MipLevels uint32
}

type SamplerDesc struct {
	Filter     Filter
	MaxLod     float32
	Anisotropy float32
}

type SurfaceFormat struct {
	Format     Format
	ColorSpace ColorSpace
}

type SurfaceCapabilities struct {
	MinImageCount uint32
	// Zero means no upper bound.
	MaxImageCount uint32
	CurrentExtent Extent2D
	MinExtent     Extent2D
	MaxExtent     Extent2D
}

type SwapchainDesc struct {
	Extent      Extent2D
	ImageCount  uint32
	Format      SurfaceFormat
	PresentMode PresentMode
	Old         Swapchain
}

type DeviceLimits struct {
	MinUniformBufferOffsetAlignment uint64
	MaxImageDimension2D             uint32
	MaxColorSamples                 SampleCount
	// DepthFormat is the best depth-stencil format the device supports.
	DepthFormat Format
	HeapSizes   [MemoryClassCount]uint64
}

// RenderPassDesc describes the forward pass: a color attachment, a depth attachment and,
// when Samples > 1, a single-sampled resolve attachment that is presented.
type RenderPassDesc struct {
	ColorFormat Format
	DepthFormat Format
	Samples     SampleCount
}

type FramebufferDesc struct {
	RenderPass  RenderPass
	Attachments []ImageView
	Extent      Extent2D
}

type DescriptorBinding struct {
	Binding uint32
	Type    DescriptorType
	Stages  ShaderStage
	Count   uint32
}

type DescriptorPoolSize struct {
	Type  DescriptorType
	Count uint32
}

type DescriptorWrite struct {
	Set     DescriptorSet
	Binding uint32
	Type    DescriptorType
	Buffer  Buffer
	Offset  uint64
	Range   uint64
	View    ImageView
	Sampler Sampler
}

type VertexBinding struct {
	Binding uint32
	Stride  uint32
	Rate    VertexInputRate
}

type VertexAttribute struct {
	Location uint32
	Binding  uint32
	Format   Format
	Offset   uint32
}

type PipelineDesc struct {
	Label         string
	RenderPass    RenderPass
	Layout        PipelineLayout
	VertexSPIRV   []byte
	FragmentSPIRV []byte
	Bindings      []VertexBinding
	Attributes    []VertexAttribute
	Extent        Extent2D
	Samples       SampleCount
	Cull          CullMode
	DepthTest     bool
}

type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

type BufferImageCopy struct {
	BufferOffset uint64
	Extent       Extent2D
	MipLevel     uint32
}

type ImageBarrier struct {
	Image        Image
	OldLayout    ImageLayout
	NewLayout    ImageLayout
	SrcAccess    Access
	DstAccess    Access
	SrcStage     PipelineStage
	DstStage     PipelineStage
	Aspect       ImageAspect
	BaseMipLevel uint32
	MipCount     uint32
}

type BufferBarrier struct {
	Buffer    Buffer
	Offset    uint64
	Size      uint64
	SrcAccess Access
	DstAccess Access
	SrcStage  PipelineStage
	DstStage  PipelineStage
}

// ImageBlit copies SrcMip into DstMip of the same image, scaling with linear filtering.
type ImageBlit struct {
	SrcMip    uint32
	DstMip    uint32
	SrcExtent Extent2D
	DstExtent Extent2D
}

type RenderPassBegin struct {
	RenderPass   RenderPass
	Framebuffer  Framebuffer
	Extent       Extent2D
	ClearColor   [4]float32
	ClearDepth   float32
	ClearStencil uint32
}

type SubmitInfo struct {
	WaitSemaphores   []Semaphore
	WaitStages       []PipelineStage
	CommandBuffers   []CommandBuffer
	SignalSemaphores []Semaphore
	Fence            Fence
}
