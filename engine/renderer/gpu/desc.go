package gpu

import "github.com/google/uuid"

type Extent2D struct {
	Width  uint32
	Height uint32
}

// Properties are the device limits the pools depend on.
type Properties struct {
	DeviceName                      string
	PipelineCacheUUID               uuid.UUID
	MinUniformBufferOffsetAlignment uint64
	MinStorageBufferOffsetAlignment uint64
	MinTexelBufferOffsetAlignment   uint64
	NonCoherentAtomSize             uint64
	MaxBoundDescriptorSets          uint32
}

type Queue struct {
	Handle      Handle
	FamilyIndex uint32
	Index       uint32
	Flags       QueueFlags
}

type DescriptorSetLayoutBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
	Stages  ShaderStage
	Flags   DescriptorBindingFlags
}

type PushConstantRange struct {
	Stages ShaderStage
	Offset uint32
	Size   uint32
}

type DescriptorPoolSize struct {
	Type  DescriptorType
	Count uint32
}

type DescriptorBufferInfo struct {
	Buffer Handle
	Offset uint64
	Range  uint64
}

type DescriptorImageInfo struct {
	Sampler   Handle
	ImageView Handle
	Layout    ImageLayout
}

// DescriptorWrite updates one array element of one binding.
type DescriptorWrite struct {
	Set          Handle
	Binding      uint32
	ArrayElement uint32
	Type         DescriptorType
	Buffer       *DescriptorBufferInfo
	Image        *DescriptorImageInfo
}

type AttachmentDescription struct {
	Format         Format
	Samples        SampleCount
	LoadOp         AttachmentLoadOp
	StoreOp        AttachmentStoreOp
	StencilLoadOp  AttachmentLoadOp
	StencilStoreOp AttachmentStoreOp
	InitialLayout  ImageLayout
	FinalLayout    ImageLayout
}

type AttachmentReference struct {
	Attachment uint32
	Layout     ImageLayout
}

type SubpassDescription struct {
	InputAttachments       []AttachmentReference
	ColorAttachments       []AttachmentReference
	ResolveAttachments     []AttachmentReference
	DepthStencilAttachment *AttachmentReference
}

type SubpassDependency struct {
	SrcSubpass    uint32
	DstSubpass    uint32
	SrcStageMask  PipelineStage
	DstStageMask  PipelineStage
	SrcAccessMask AccessFlags
	DstAccessMask AccessFlags
	ByRegion      bool
}

// SubpassExternal refers to work outside of the render pass in a dependency.
const SubpassExternal = ^uint32(0)

type RenderPassDesc struct {
	Attachments  []AttachmentDescription
	Subpasses    []SubpassDescription
	Dependencies []SubpassDependency
}

type FramebufferDesc struct {
	RenderPass  Handle
	Attachments []Handle
	Extent      Extent2D
	Layers      uint32
}

type ShaderStageDesc struct {
	Stage          ShaderStage
	Module         Handle
	EntryPoint     string
	Specialization map[uint32][]byte
}

type VertexInputBinding struct {
	Binding   uint32
	Stride    uint32
	InputRate VertexInputRate
}

type VertexInputAttribute struct {
	Location uint32
	Binding  uint32
	Format   Format
	Offset   uint32
}

type VertexInputState struct {
	Bindings   []VertexInputBinding
	Attributes []VertexInputAttribute
}

type InputAssemblyState struct {
	Topology               PrimitiveTopology
	PrimitiveRestartEnable bool
}

type RasterizationState struct {
	DepthClampEnable        bool
	RasterizerDiscardEnable bool
	PolygonMode             PolygonMode
	CullMode                CullMode
	FrontFace               FrontFace
	DepthBiasEnable         bool
}

type ViewportState struct {
	ViewportCount uint32
	ScissorCount  uint32
}

type MultisampleState struct {
	RasterizationSamples  SampleCount
	SampleShadingEnable   bool
	MinSampleShading      float32
	SampleMask            uint32
	AlphaToCoverageEnable bool
	AlphaToOneEnable      bool
}

type StencilOpState struct {
	FailOp      StencilOp
	PassOp      StencilOp
	DepthFailOp StencilOp
	CompareOp   CompareOp
}

type DepthStencilState struct {
	DepthTestEnable       bool
	DepthWriteEnable      bool
	DepthCompareOp        CompareOp
	DepthBoundsTestEnable bool
	StencilTestEnable     bool
	Front                 StencilOpState
	Back                  StencilOpState
}

type ColorBlendAttachmentState struct {
	BlendEnable         bool
	SrcColorBlendFactor BlendFactor
	DstColorBlendFactor BlendFactor
	ColorBlendOp        BlendOp
	SrcAlphaBlendFactor BlendFactor
	DstAlphaBlendFactor BlendFactor
	AlphaBlendOp        BlendOp
	ColorWriteMask      ColorComponent
}

type ColorBlendState struct {
	LogicOpEnable bool
	LogicOp       LogicOp
	Attachments   []ColorBlendAttachmentState
}

type GraphicsPipelineDesc struct {
	PipelineCache Handle
	Layout        Handle
	RenderPass    Handle
	Subpass       uint32
	Stages        []ShaderStageDesc
	VertexInput   VertexInputState
	InputAssembly InputAssemblyState
	Rasterization RasterizationState
	Viewport      ViewportState
	Multisample   MultisampleState
	DepthStencil  DepthStencilState
	ColorBlend    ColorBlendState
	DynamicStates []DynamicState
}

type ComputePipelineDesc struct {
	PipelineCache Handle
	Layout        Handle
	Stage         ShaderStageDesc
}

type BufferDesc struct {
	Size   uint64
	Usage  BufferUsage
	Memory MemoryUsage
}

type SubmitInfo struct {
	CommandBuffers   []Handle
	WaitSemaphores   []Handle
	WaitStages       []PipelineStage
	SignalSemaphores []Handle
}
