package vulkan

import (
	"slices"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

func (d *Device) CreateShaderModule(stage gpu.ShaderStage, code []uint32) (gpu.Handle, error) {
	if len(code) == 0 {
		return gpu.NullHandle, errors.Wrapf(gpu.ErrorInitializationFailed, "empty SPIR-V for stage %#x", uint32(stage))
	}
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code) * 4),
		PCode:    code,
	}

	var module vk.ShaderModule
	if err := d.locks.SafeCall(ShaderManagement, func() error {
		return check(vk.CreateShaderModule(d.logicalDevice, &createInfo, nil, &module))
	}); err != nil {
		return gpu.NullHandle, err
	}
	return d.objects.add(gpu.KindShaderModule, module), nil
}

func (d *Device) CreatePipelineLayout(setLayouts []gpu.Handle, pushConstants []gpu.PushConstantRange) (gpu.Handle, error) {
	layouts, err := lookupAll[vk.DescriptorSetLayout](d.objects, gpu.KindDescriptorSetLayout, setLayouts)
	if err != nil {
		return gpu.NullHandle, err
	}

	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(layouts)),
		PSetLayouts:    layouts,
	}

	// Push constants
	if len(pushConstants) > 0 {
		// 32 is the max number of ranges, since only 128 bytes with 4-byte alignment are guaranteed.
		if len(pushConstants) > 32 {
			return gpu.NullHandle, errors.Newf("cannot have more than 32 push constant ranges. Passed count: %d", len(pushConstants))
		}
		ranges := make([]vk.PushConstantRange, len(pushConstants))
		for i, pc := range pushConstants {
			ranges[i] = vk.PushConstantRange{
				StageFlags: vk.ShaderStageFlags(pc.Stages),
				Offset:     pc.Offset,
				Size:       pc.Size,
			}
		}
		pipelineLayoutCreateInfo.PushConstantRangeCount = uint32(len(ranges))
		pipelineLayoutCreateInfo.PPushConstantRanges = ranges
	}

	var pPipelineLayout vk.PipelineLayout
	if err := d.locks.SafeCall(PipelineManagement, func() error {
		result := vk.CreatePipelineLayout(d.logicalDevice, &pipelineLayoutCreateInfo, nil, &pPipelineLayout)
		if !ResultIsSuccess(result) {
			core.LogError("vkCreatePipelineLayout failed with %s", gpu.Result(result).Describe(true))
		}
		return check(result)
	}); err != nil {
		return gpu.NullHandle, err
	}
	return d.objects.add(gpu.KindPipelineLayout, pPipelineLayout), nil
}

// CreatePipelineCache creates a native pipeline cache, seeded with data from
// a previous run when it is not empty.
func (d *Device) CreatePipelineCache(initial []byte) (gpu.Handle, error) {
	createInfo := vk.PipelineCacheCreateInfo{
		SType: vk.StructureTypePipelineCacheCreateInfo,
	}
	if len(initial) > 0 {
		createInfo.InitialDataSize = uint(len(initial))
		createInfo.PInitialData = unsafe.Pointer(&initial[0])
	}

	var cache vk.PipelineCache
	if err := check(vk.CreatePipelineCache(d.logicalDevice, &createInfo, nil, &cache)); err != nil {
		return gpu.NullHandle, errors.Wrap(err, "create pipeline cache")
	}
	return d.objects.add(gpu.KindPipelineCache, cache), nil
}

// PipelineCacheData reads back the driver's serialized pipeline cache.
func (d *Device) PipelineCacheData(h gpu.Handle) ([]byte, error) {
	cache, err := lookup[vk.PipelineCache](d.objects, gpu.KindPipelineCache, h)
	if err != nil {
		return nil, err
	}
	var size uint
	if err := check(vk.GetPipelineCacheData(d.logicalDevice, cache, &size, nil)); err != nil {
		return nil, errors.Wrap(err, "query pipeline cache size")
	}
	if size == 0 {
		return nil, nil
	}
	data := make([]byte, size)
	if err := check(vk.GetPipelineCacheData(d.logicalDevice, cache, &size, unsafe.Pointer(&data[0]))); err != nil {
		return nil, errors.Wrap(err, "read pipeline cache")
	}
	return data[:size], nil
}

func (d *Device) pipelineCache(h gpu.Handle) (vk.PipelineCache, error) {
	if h == gpu.NullHandle {
		return vk.NullPipelineCache, nil
	}
	return lookup[vk.PipelineCache](d.objects, gpu.KindPipelineCache, h)
}

func (d *Device) shaderStage(stage gpu.ShaderStageDesc) (vk.PipelineShaderStageCreateInfo, error) {
	module, err := lookup[vk.ShaderModule](d.objects, gpu.KindShaderModule, stage.Module)
	if err != nil {
		return vk.PipelineShaderStageCreateInfo{}, err
	}
	entry := stage.EntryPoint
	if entry == "" {
		entry = "main"
	}
	info := vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vk.ShaderStageFlagBits(stage.Stage),
		Module: module,
		PName:  VulkanSafeString(entry),
	}
	if len(stage.Specialization) > 0 {
		info.PSpecializationInfo = specializationInfo(stage.Specialization)
	}
	return info, nil
}

// specializationInfo packs the constants in id order into one data block.
func specializationInfo(constants map[uint32][]byte) *vk.SpecializationInfo {
	ids := make([]uint32, 0, len(constants))
	for id := range constants {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	entries := make([]vk.SpecializationMapEntry, 0, len(ids))
	var data []byte
	for _, id := range ids {
		value := constants[id]
		entries = append(entries, vk.SpecializationMapEntry{
			ConstantID: id,
			Offset:     uint32(len(data)),
			Size:       uint(len(value)),
		})
		data = append(data, value...)
	}
	if len(data) == 0 {
		return nil
	}
	return &vk.SpecializationInfo{
		MapEntryCount: uint32(len(entries)),
		PMapEntries:   entries,
		DataSize:      uint(len(data)),
		PData:         unsafe.Pointer(&data[0]),
	}
}

func (d *Device) CreateComputePipeline(desc *gpu.ComputePipelineDesc) (gpu.Handle, error) {
	layout, err := lookup[vk.PipelineLayout](d.objects, gpu.KindPipelineLayout, desc.Layout)
	if err != nil {
		return gpu.NullHandle, err
	}
	cache, err := d.pipelineCache(desc.PipelineCache)
	if err != nil {
		return gpu.NullHandle, err
	}
	stage, err := d.shaderStage(desc.Stage)
	if err != nil {
		return gpu.NullHandle, err
	}

	pipelineCreateInfo := vk.ComputePipelineCreateInfo{
		SType:              vk.StructureTypeComputePipelineCreateInfo,
		Stage:              stage,
		Layout:             layout,
		BasePipelineHandle: vk.NullPipeline,
		BasePipelineIndex:  -1,
	}

	pPipelines := make([]vk.Pipeline, 1)
	if err := d.locks.SafeCall(PipelineManagement, func() error {
		result := vk.CreateComputePipelines(d.logicalDevice, cache, 1, []vk.ComputePipelineCreateInfo{pipelineCreateInfo}, nil, pPipelines)
		if !ResultIsSuccess(result) {
			core.LogError("vkCreateComputePipelines failed with %s", gpu.Result(result).Describe(true))
		}
		return check(result)
	}); err != nil {
		return gpu.NullHandle, err
	}

	core.LogDebug("Compute pipeline created!")
	return d.objects.add(gpu.KindComputePipeline, pPipelines[0]), nil
}

func (d *Device) CreateGraphicsPipeline(desc *gpu.GraphicsPipelineDesc) (gpu.Handle, error) {
	layout, err := lookup[vk.PipelineLayout](d.objects, gpu.KindPipelineLayout, desc.Layout)
	if err != nil {
		return gpu.NullHandle, err
	}
	renderPass, err := lookup[vk.RenderPass](d.objects, gpu.KindRenderPass, desc.RenderPass)
	if err != nil {
		return gpu.NullHandle, err
	}
	cache, err := d.pipelineCache(desc.PipelineCache)
	if err != nil {
		return gpu.NullHandle, err
	}

	stages := make([]vk.PipelineShaderStageCreateInfo, len(desc.Stages))
	for i, s := range desc.Stages {
		if stages[i], err = d.shaderStage(s); err != nil {
			return gpu.NullHandle, err
		}
	}

	// Vertex input
	bindings := make([]vk.VertexInputBindingDescription, len(desc.VertexInput.Bindings))
	for i, b := range desc.VertexInput.Bindings {
		bindings[i] = vk.VertexInputBindingDescription{
			Binding:   b.Binding,
			Stride:    b.Stride,
			InputRate: vk.VertexInputRate(b.InputRate),
		}
	}
	attributes := make([]vk.VertexInputAttributeDescription, len(desc.VertexInput.Attributes))
	for i, a := range desc.VertexInput.Attributes {
		attributes[i] = vk.VertexInputAttributeDescription{
			Location: a.Location,
			Binding:  a.Binding,
			Format:   vk.Format(a.Format),
			Offset:   a.Offset,
		}
	}
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      bindings,
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}

	// Input assembly
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopology(desc.InputAssembly.Topology),
		PrimitiveRestartEnable: vkBool(desc.InputAssembly.PrimitiveRestartEnable),
	}

	// Viewports and scissors are dynamic, only the counts are baked in.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: max(desc.Viewport.ViewportCount, 1),
		ScissorCount:  max(desc.Viewport.ScissorCount, 1),
	}

	// Rasterizer
	rs := desc.Rasterization
	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vkBool(rs.DepthClampEnable),
		RasterizerDiscardEnable: vkBool(rs.RasterizerDiscardEnable),
		PolygonMode:             vk.PolygonMode(rs.PolygonMode),
		CullMode:                vk.CullModeFlags(rs.CullMode),
		FrontFace:               vk.FrontFace(rs.FrontFace),
		DepthBiasEnable:         vkBool(rs.DepthBiasEnable),
		LineWidth:               1.0,
	}

	// Multisampling.
	ms := desc.Multisample
	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples:  vk.SampleCountFlagBits(max(ms.RasterizationSamples, gpu.SampleCount1)),
		SampleShadingEnable:   vkBool(ms.SampleShadingEnable),
		MinSampleShading:      ms.MinSampleShading,
		AlphaToCoverageEnable: vkBool(ms.AlphaToCoverageEnable),
		AlphaToOneEnable:      vkBool(ms.AlphaToOneEnable),
	}
	if ms.SampleMask != 0 {
		multisamplingCreateInfo.PSampleMask = []vk.SampleMask{vk.SampleMask(ms.SampleMask)}
	}

	// Depth and stencil testing.
	ds := desc.DepthStencil
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:       vkBool(ds.DepthTestEnable),
		DepthWriteEnable:      vkBool(ds.DepthWriteEnable),
		DepthCompareOp:        vk.CompareOp(ds.DepthCompareOp),
		DepthBoundsTestEnable: vkBool(ds.DepthBoundsTestEnable),
		StencilTestEnable:     vkBool(ds.StencilTestEnable),
		Front:                 stencilOpState(ds.Front),
		Back:                  stencilOpState(ds.Back),
		MaxDepthBounds:        1.0,
	}

	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, len(desc.ColorBlend.Attachments))
	for i, a := range desc.ColorBlend.Attachments {
		blendAttachments[i] = vk.PipelineColorBlendAttachmentState{
			BlendEnable:         vkBool(a.BlendEnable),
			SrcColorBlendFactor: vk.BlendFactor(a.SrcColorBlendFactor),
			DstColorBlendFactor: vk.BlendFactor(a.DstColorBlendFactor),
			ColorBlendOp:        vk.BlendOp(a.ColorBlendOp),
			SrcAlphaBlendFactor: vk.BlendFactor(a.SrcAlphaBlendFactor),
			DstAlphaBlendFactor: vk.BlendFactor(a.DstAlphaBlendFactor),
			AlphaBlendOp:        vk.BlendOp(a.AlphaBlendOp),
			ColorWriteMask:      vk.ColorComponentFlags(a.ColorWriteMask),
		}
	}
	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vkBool(desc.ColorBlend.LogicOpEnable),
		LogicOp:         vk.LogicOp(desc.ColorBlend.LogicOp),
		AttachmentCount: uint32(len(blendAttachments)),
		PAttachments:    blendAttachments,
	}

	// Dynamic state
	dynamicStates := make([]vk.DynamicState, len(desc.DynamicStates))
	for i, s := range desc.DynamicStates {
		dynamicStates[i] = vk.DynamicState(s)
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		PTessellationState:  nil,
		Layout:              layout,
		RenderPass:          renderPass,
		Subpass:             desc.Subpass,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pPipelines := make([]vk.Pipeline, 1)
	if err := d.locks.SafeCall(PipelineManagement, func() error {
		result := vk.CreateGraphicsPipelines(d.logicalDevice, cache, 1, []vk.GraphicsPipelineCreateInfo{pipelineCreateInfo}, nil, pPipelines)
		if !ResultIsSuccess(result) {
			core.LogError("vkCreateGraphicsPipelines failed with %s", gpu.Result(result).Describe(true))
		}
		return check(result)
	}); err != nil {
		return gpu.NullHandle, err
	}

	core.LogDebug("Graphics pipeline created!")
	return d.objects.add(gpu.KindGraphicsPipeline, pPipelines[0]), nil
}

func stencilOpState(s gpu.StencilOpState) vk.StencilOpState {
	return vk.StencilOpState{
		FailOp:      vk.StencilOp(s.FailOp),
		PassOp:      vk.StencilOp(s.PassOp),
		DepthFailOp: vk.StencilOp(s.DepthFailOp),
		CompareOp:   vk.CompareOp(s.CompareOp),
		CompareMask: 0xff,
		WriteMask:   0xff,
	}
}
