package gpu

// ObjectKind names a category of native object. It tags creation errors,
// cache statistics and debug names.
type ObjectKind uint32

const (
	KindUnknown ObjectKind = iota
	KindShaderModule
	KindDescriptorSetLayout
	KindPipelineLayout
	KindDescriptorPool
	KindDescriptorSet
	KindRenderPass
	KindGraphicsPipeline
	KindComputePipeline
	KindFramebuffer
	KindFence
	KindSemaphore
	KindCommandPool
	KindCommandBuffer
	KindBuffer
	KindImageView
	KindSampler
	KindPipelineCache
)

var kindNames = [...]string{
	KindUnknown:             "unknown",
	KindShaderModule:        "shader module",
	KindDescriptorSetLayout: "descriptor set layout",
	KindPipelineLayout:      "pipeline layout",
	KindDescriptorPool:      "descriptor pool",
	KindDescriptorSet:       "descriptor set",
	KindRenderPass:          "render pass",
	KindGraphicsPipeline:    "graphics pipeline",
	KindComputePipeline:     "compute pipeline",
	KindFramebuffer:         "framebuffer",
	KindFence:               "fence",
	KindSemaphore:           "semaphore",
	KindCommandPool:         "command pool",
	KindCommandBuffer:       "command buffer",
	KindBuffer:              "buffer",
	KindImageView:           "image view",
	KindSampler:             "sampler",
	KindPipelineCache:       "pipeline cache",
}

func (k ObjectKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return kindNames[KindUnknown]
}
