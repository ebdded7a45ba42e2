package gpu

import "time"

// Device is the logical GPU connection every cache and pool builds on. It is
// safe for concurrent use; implementations serialize the native calls that
// require external synchronization.
//
// Every failing call returns a Result (possibly wrapped) as its error.
type Device interface {
	Properties() Properties

	CreateShaderModule(stage ShaderStage, code []uint32) (Handle, error)
	CreateDescriptorSetLayout(bindings []DescriptorSetLayoutBinding) (Handle, error)
	CreatePipelineLayout(setLayouts []Handle, pushConstants []PushConstantRange) (Handle, error)
	CreateRenderPass(desc *RenderPassDesc) (Handle, error)
	CreateGraphicsPipeline(desc *GraphicsPipelineDesc) (Handle, error)
	CreateComputePipeline(desc *ComputePipelineDesc) (Handle, error)
	CreateFramebuffer(desc *FramebufferDesc) (Handle, error)

	CreateDescriptorPool(maxSets uint32, sizes []DescriptorPoolSize, updateAfterBind bool) (Handle, error)
	ResetDescriptorPool(pool Handle) error
	AllocateDescriptorSet(pool, layout Handle) (Handle, error)
	FreeDescriptorSet(pool, set Handle) error
	UpdateDescriptorSets(writes []DescriptorWrite)

	CreateFence(signaled bool) (Handle, error)
	// WaitForFences blocks until every fence is signaled or the timeout
	// elapses, in which case it returns Timeout.
	WaitForFences(fences []Handle, timeout time.Duration) error
	ResetFences(fences []Handle) error
	CreateSemaphore() (Handle, error)

	CreateCommandPool(queueFamily uint32, resetIndividually bool) (Handle, error)
	ResetCommandPool(pool Handle) error
	AllocateCommandBuffer(pool Handle, level CommandBufferLevel) (Handle, error)
	ResetCommandBuffer(cmd Handle) error
	FreeCommandBuffers(pool Handle, cmds []Handle)
	BeginCommandBuffer(cmd Handle, oneTimeSubmit bool) error
	EndCommandBuffer(cmd Handle) error

	CreateBuffer(desc *BufferDesc) (Handle, error)
	// WriteBuffer copies data into a host-visible buffer at offset.
	WriteBuffer(buffer Handle, offset uint64, data []byte) error

	Submit(queue Queue, info *SubmitInfo, fence Handle) error
	WaitIdle() error

	Destroy(kind ObjectKind, h Handle)
	SetDebugName(kind ObjectKind, h Handle, name string)
}
