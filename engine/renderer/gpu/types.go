package gpu

// Handle identifies a native GPU object. NullHandle is never returned by a
// successful create call.
type Handle uint64

const NullHandle Handle = 0

// Format values match the native format enumeration.
type Format uint32

const (
	FormatUndefined         Format = 0
	FormatR8G8B8A8Unorm     Format = 37
	FormatR8G8B8A8Srgb      Format = 43
	FormatB8G8R8A8Unorm     Format = 44
	FormatB8G8R8A8Srgb      Format = 50
	FormatR16G16B16A16Float Format = 97
	FormatR32Uint           Format = 98
	FormatR32Sfloat         Format = 100
	FormatR32G32B32Sfloat   Format = 106
	FormatR32G32B32A32Float Format = 109
	FormatD16Unorm          Format = 124
	FormatX8D24UnormPack32  Format = 125
	FormatD32Sfloat         Format = 126
	FormatS8Uint            Format = 127
	FormatD16UnormS8Uint    Format = 128
	FormatD24UnormS8Uint    Format = 129
	FormatD32SfloatS8Uint   Format = 130
)

// IsDepth reports whether the format carries a depth or stencil aspect.
func (f Format) IsDepth() bool {
	return f >= FormatD16Unorm && f <= FormatD32SfloatS8Uint
}

type SampleCount uint32

const (
	SampleCount1 SampleCount = 1 << iota
	SampleCount2
	SampleCount4
	SampleCount8
)

type ImageLayout uint32

const (
	ImageLayoutUndefined                     ImageLayout = 0
	ImageLayoutGeneral                       ImageLayout = 1
	ImageLayoutColorAttachmentOptimal        ImageLayout = 2
	ImageLayoutDepthStencilAttachmentOptimal ImageLayout = 3
	ImageLayoutDepthStencilReadOnlyOptimal   ImageLayout = 4
	ImageLayoutShaderReadOnlyOptimal         ImageLayout = 5
	ImageLayoutTransferSrcOptimal            ImageLayout = 6
	ImageLayoutTransferDstOptimal            ImageLayout = 7
	ImageLayoutPresentSrc                    ImageLayout = 1000001002
)

type AttachmentLoadOp uint32

const (
	LoadOpLoad AttachmentLoadOp = iota
	LoadOpClear
	LoadOpDontCare
)

type AttachmentStoreOp uint32

const (
	StoreOpStore AttachmentStoreOp = iota
	StoreOpDontCare
)

type ImageUsage uint32

const (
	ImageUsageTransferSrc            ImageUsage = 0x1
	ImageUsageTransferDst            ImageUsage = 0x2
	ImageUsageSampled                ImageUsage = 0x4
	ImageUsageStorage                ImageUsage = 0x8
	ImageUsageColorAttachment        ImageUsage = 0x10
	ImageUsageDepthStencilAttachment ImageUsage = 0x20
	ImageUsageTransientAttachment    ImageUsage = 0x40
	ImageUsageInputAttachment        ImageUsage = 0x80
)

type BufferUsage uint32

const (
	BufferUsageTransferSrc  BufferUsage = 0x1
	BufferUsageTransferDst  BufferUsage = 0x2
	BufferUsageUniformTexel BufferUsage = 0x4
	BufferUsageStorageTexel BufferUsage = 0x8
	BufferUsageUniform      BufferUsage = 0x10
	BufferUsageStorage      BufferUsage = 0x20
	BufferUsageIndex        BufferUsage = 0x40
	BufferUsageVertex       BufferUsage = 0x80
	BufferUsageIndirect     BufferUsage = 0x100
)

// ParseBufferUsage maps the configuration names of buffer usages.
func ParseBufferUsage(name string) (BufferUsage, bool) {
	switch name {
	case "uniform":
		return BufferUsageUniform, true
	case "storage":
		return BufferUsageStorage, true
	case "vertex":
		return BufferUsageVertex, true
	case "index":
		return BufferUsageIndex, true
	case "indirect":
		return BufferUsageIndirect, true
	case "uniform_texel":
		return BufferUsageUniformTexel, true
	case "storage_texel":
		return BufferUsageStorageTexel, true
	case "transfer_src":
		return BufferUsageTransferSrc, true
	}
	return 0, false
}

type MemoryUsage uint32

const (
	MemoryUsageGPUOnly MemoryUsage = iota
	MemoryUsageCPUToGPU
	MemoryUsageGPUToCPU
)

type ShaderStage uint32

const (
	ShaderStageVertex      ShaderStage = 0x1
	ShaderStageTessControl ShaderStage = 0x2
	ShaderStageTessEval    ShaderStage = 0x4
	ShaderStageGeometry    ShaderStage = 0x8
	ShaderStageFragment    ShaderStage = 0x10
	ShaderStageCompute     ShaderStage = 0x20
	ShaderStageAllGraphics ShaderStage = 0x1f
)

type DescriptorType uint32

const (
	DescriptorTypeSampler DescriptorType = iota
	DescriptorTypeCombinedImageSampler
	DescriptorTypeSampledImage
	DescriptorTypeStorageImage
	DescriptorTypeUniformTexelBuffer
	DescriptorTypeStorageTexelBuffer
	DescriptorTypeUniformBuffer
	DescriptorTypeStorageBuffer
	DescriptorTypeUniformBufferDynamic
	DescriptorTypeStorageBufferDynamic
	DescriptorTypeInputAttachment
)

// IsBuffer reports whether descriptors of this type are written with buffer infos.
func (t DescriptorType) IsBuffer() bool {
	switch t {
	case DescriptorTypeUniformBuffer, DescriptorTypeStorageBuffer,
		DescriptorTypeUniformBufferDynamic, DescriptorTypeStorageBufferDynamic:
		return true
	}
	return false
}

// IsDynamic reports whether the descriptor takes a dynamic offset at bind time.
func (t DescriptorType) IsDynamic() bool {
	return t == DescriptorTypeUniformBufferDynamic || t == DescriptorTypeStorageBufferDynamic
}

type DescriptorBindingFlags uint32

const (
	DescriptorBindingUpdateAfterBind DescriptorBindingFlags = 0x1
)

type CommandBufferLevel uint32

const (
	CommandBufferLevelPrimary CommandBufferLevel = iota
	CommandBufferLevelSecondary
)

type PipelineBindPoint uint32

const (
	PipelineBindPointGraphics PipelineBindPoint = iota
	PipelineBindPointCompute
)

type PipelineStage uint32

const (
	PipelineStageTopOfPipe             PipelineStage = 0x1
	PipelineStageVertexShader          PipelineStage = 0x8
	PipelineStageFragmentShader        PipelineStage = 0x80
	PipelineStageEarlyFragmentTests    PipelineStage = 0x100
	PipelineStageLateFragmentTests     PipelineStage = 0x200
	PipelineStageColorAttachmentOutput PipelineStage = 0x400
	PipelineStageComputeShader         PipelineStage = 0x800
	PipelineStageTransfer              PipelineStage = 0x1000
	PipelineStageBottomOfPipe          PipelineStage = 0x2000
)

type AccessFlags uint32

const (
	AccessInputAttachmentRead         AccessFlags = 0x10
	AccessShaderRead                  AccessFlags = 0x20
	AccessColorAttachmentRead         AccessFlags = 0x80
	AccessColorAttachmentWrite        AccessFlags = 0x100
	AccessDepthStencilAttachmentRead  AccessFlags = 0x200
	AccessDepthStencilAttachmentWrite AccessFlags = 0x400
)

type QueueFlags uint32

const (
	QueueGraphics QueueFlags = 0x1
	QueueCompute  QueueFlags = 0x2
	QueueTransfer QueueFlags = 0x4
)

type PrimitiveTopology uint32

const (
	PrimitiveTopologyPointList PrimitiveTopology = iota
	PrimitiveTopologyLineList
	PrimitiveTopologyLineStrip
	PrimitiveTopologyTriangleList
	PrimitiveTopologyTriangleStrip
	PrimitiveTopologyTriangleFan
)

type PolygonMode uint32

const (
	PolygonModeFill PolygonMode = iota
	PolygonModeLine
	PolygonModePoint
)

type CullMode uint32

const (
	CullModeNone         CullMode = 0
	CullModeFront        CullMode = 0x1
	CullModeBack         CullMode = 0x2
	CullModeFrontAndBack CullMode = 0x3
)

type FrontFace uint32

const (
	FrontFaceCounterClockwise FrontFace = iota
	FrontFaceClockwise
)

type CompareOp uint32

const (
	CompareOpNever CompareOp = iota
	CompareOpLess
	CompareOpEqual
	CompareOpLessOrEqual
	CompareOpGreater
	CompareOpNotEqual
	CompareOpGreaterOrEqual
	CompareOpAlways
)

type StencilOp uint32

const (
	StencilOpKeep StencilOp = iota
	StencilOpZero
	StencilOpReplace
)

type BlendFactor uint32

const (
	BlendFactorZero BlendFactor = iota
	BlendFactorOne
	BlendFactorSrcColor
	BlendFactorOneMinusSrcColor
	BlendFactorDstColor
	BlendFactorOneMinusDstColor
	BlendFactorSrcAlpha
	BlendFactorOneMinusSrcAlpha
)

type BlendOp uint32

const (
	BlendOpAdd BlendOp = iota
	BlendOpSubtract
	BlendOpReverseSubtract
	BlendOpMin
	BlendOpMax
)

type LogicOp uint32

const LogicOpCopy LogicOp = 3

type ColorComponent uint32

const (
	ColorComponentR   ColorComponent = 0x1
	ColorComponentG   ColorComponent = 0x2
	ColorComponentB   ColorComponent = 0x4
	ColorComponentA   ColorComponent = 0x8
	ColorComponentAll ColorComponent = 0xf
)

type VertexInputRate uint32

const (
	VertexInputRateVertex VertexInputRate = iota
	VertexInputRateInstance
)

type DynamicState uint32

const (
	DynamicStateViewport DynamicState = iota
	DynamicStateScissor
	DynamicStateLineWidth
)
