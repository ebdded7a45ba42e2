package resources

import (
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/hashing"
)

type GraphicsPipeline struct {
	ID     uint64
	Handle gpu.Handle
	State  *PipelineState
}

type ComputePipeline struct {
	ID     uint64
	Handle gpu.Handle
	State  *PipelineState
}

func PipelineKey(state *PipelineState) uint64 {
	return hashing.Of(state)
}

var defaultDynamicStates = []gpu.DynamicState{
	gpu.DynamicStateViewport,
	gpu.DynamicStateScissor,
	gpu.DynamicStateLineWidth,
}

func shaderStages(state *PipelineState) []gpu.ShaderStageDesc {
	modules := state.layout.ShaderModules()
	stages := make([]gpu.ShaderStageDesc, 0, len(modules))
	for _, m := range modules {
		stages = append(stages, gpu.ShaderStageDesc{
			Stage:          m.Stage,
			Module:         m.Handle,
			EntryPoint:     m.EntryPoint,
			Specialization: state.specialization,
		})
	}
	return stages
}

// NewGraphicsPipeline builds a pipeline from a snapshot of state. The
// pipeline keeps the snapshot, not state itself.
func NewGraphicsPipeline(device gpu.Device, pipelineCache gpu.Handle, state *PipelineState) (*GraphicsPipeline, error) {
	if state.layout == nil || state.renderPass == nil {
		return nil, gpu.ConfigError("graphics pipeline needs both a pipeline layout and a render pass")
	}
	snapshot := state.Clone()
	snapshot.dirty = false

	handle, err := device.CreateGraphicsPipeline(&gpu.GraphicsPipelineDesc{
		PipelineCache: pipelineCache,
		Layout:        snapshot.layout.Handle,
		RenderPass:    snapshot.renderPass.Handle,
		Subpass:       snapshot.subpass,
		Stages:        shaderStages(snapshot),
		VertexInput:   snapshot.vertexInput,
		InputAssembly: snapshot.inputAssembly,
		Rasterization: snapshot.rasterization,
		Viewport:      snapshot.viewport,
		Multisample:   snapshot.multisample,
		DepthStencil:  snapshot.depthStencil,
		ColorBlend:    snapshot.colorBlend,
		DynamicStates: defaultDynamicStates,
	})
	if err != nil {
		return nil, err
	}
	return &GraphicsPipeline{ID: PipelineKey(snapshot), Handle: handle, State: snapshot}, nil
}

func (p *GraphicsPipeline) Destroy(device gpu.Device) {
	device.Destroy(gpu.KindGraphicsPipeline, p.Handle)
}

// NewComputePipeline needs a layout built from exactly one compute module.
func NewComputePipeline(device gpu.Device, pipelineCache gpu.Handle, state *PipelineState) (*ComputePipeline, error) {
	if state.layout == nil {
		return nil, gpu.ConfigError("compute pipeline needs a pipeline layout")
	}
	modules := state.layout.ShaderModules()
	if len(modules) != 1 || modules[0].Stage != gpu.ShaderStageCompute {
		return nil, gpu.ConfigError("compute pipeline layout must hold a single compute shader, got %d modules", len(modules))
	}
	snapshot := state.Clone()
	snapshot.dirty = false

	handle, err := device.CreateComputePipeline(&gpu.ComputePipelineDesc{
		PipelineCache: pipelineCache,
		Layout:        snapshot.layout.Handle,
		Stage:         shaderStages(snapshot)[0],
	})
	if err != nil {
		return nil, err
	}
	return &ComputePipeline{ID: PipelineKey(snapshot), Handle: handle, State: snapshot}, nil
}

func (p *ComputePipeline) Destroy(device gpu.Device) {
	device.Destroy(gpu.KindComputePipeline, p.Handle)
}
