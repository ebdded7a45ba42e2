package resources

import (
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/hashing"
)

// PipelineState accumulates the fixed-function state of the next pipeline.
// Setters mark the state dirty only when the value actually changes so a
// recorder can skip the cache lookup between identical draws.
type PipelineState struct {
	dirty bool

	layout         *PipelineLayout
	renderPass     *RenderPass
	subpass        uint32
	specialization map[uint32][]byte

	vertexInput   gpu.VertexInputState
	inputAssembly gpu.InputAssemblyState
	rasterization gpu.RasterizationState
	viewport      gpu.ViewportState
	multisample   gpu.MultisampleState
	depthStencil  gpu.DepthStencilState
	colorBlend    gpu.ColorBlendState
}

func NewPipelineState() *PipelineState {
	s := &PipelineState{}
	s.Reset()
	return s
}

// Reset restores the defaults: triangle lists, back-face culling, one
// sample, reversed-Z depth testing and no color blending.
func (s *PipelineState) Reset() {
	*s = PipelineState{
		dirty:          true,
		specialization: make(map[uint32][]byte),
		inputAssembly:  gpu.InputAssemblyState{Topology: gpu.PrimitiveTopologyTriangleList},
		rasterization: gpu.RasterizationState{
			PolygonMode: gpu.PolygonModeFill,
			CullMode:    gpu.CullModeBack,
			FrontFace:   gpu.FrontFaceCounterClockwise,
		},
		viewport:    gpu.ViewportState{ViewportCount: 1, ScissorCount: 1},
		multisample: gpu.MultisampleState{RasterizationSamples: gpu.SampleCount1, SampleMask: ^uint32(0)},
		depthStencil: gpu.DepthStencilState{
			DepthTestEnable:  true,
			DepthWriteEnable: true,
			DepthCompareOp:   gpu.CompareOpGreater,
			Front:            gpu.StencilOpState{FailOp: gpu.StencilOpReplace, PassOp: gpu.StencilOpReplace, DepthFailOp: gpu.StencilOpReplace, CompareOp: gpu.CompareOpNever},
			Back:             gpu.StencilOpState{FailOp: gpu.StencilOpReplace, PassOp: gpu.StencilOpReplace, DepthFailOp: gpu.StencilOpReplace, CompareOp: gpu.CompareOpNever},
		},
		colorBlend: gpu.ColorBlendState{LogicOp: gpu.LogicOpCopy},
	}
}

func changed(a, b hashing.Hashable) bool {
	return hashing.Of(a) != hashing.Of(b)
}

func (s *PipelineState) SetPipelineLayout(layout *PipelineLayout) {
	if s.layout == nil || layout == nil || s.layout.ID != layout.ID {
		s.layout = layout
		s.dirty = true
	}
}

func (s *PipelineState) SetRenderPass(rp *RenderPass) {
	if s.renderPass == nil || rp == nil || s.renderPass.ID != rp.ID {
		s.renderPass = rp
		s.dirty = true
	}
}

func (s *PipelineState) SetSubpassIndex(subpass uint32) {
	if s.subpass != subpass {
		s.subpass = subpass
		s.dirty = true
	}
}

// SetSpecializationConstant stores the raw bytes of constant id.
func (s *PipelineState) SetSpecializationConstant(id uint32, data []byte) {
	if prev, ok := s.specialization[id]; ok && string(prev) == string(data) {
		return
	}
	s.specialization[id] = append([]byte(nil), data...)
	s.dirty = true
}

func (s *PipelineState) SetVertexInputState(state gpu.VertexInputState) {
	if changed(s.vertexInput, state) {
		s.vertexInput = state
		s.dirty = true
	}
}

func (s *PipelineState) SetInputAssemblyState(state gpu.InputAssemblyState) {
	if s.inputAssembly != state {
		s.inputAssembly = state
		s.dirty = true
	}
}

func (s *PipelineState) SetRasterizationState(state gpu.RasterizationState) {
	if s.rasterization != state {
		s.rasterization = state
		s.dirty = true
	}
}

func (s *PipelineState) SetViewportState(state gpu.ViewportState) {
	if s.viewport != state {
		s.viewport = state
		s.dirty = true
	}
}

func (s *PipelineState) SetMultisampleState(state gpu.MultisampleState) {
	if s.multisample != state {
		s.multisample = state
		s.dirty = true
	}
}

func (s *PipelineState) SetDepthStencilState(state gpu.DepthStencilState) {
	if s.depthStencil != state {
		s.depthStencil = state
		s.dirty = true
	}
}

func (s *PipelineState) SetColorBlendState(state gpu.ColorBlendState) {
	if changed(s.colorBlend, state) {
		s.colorBlend = state
		s.dirty = true
	}
}

func (s *PipelineState) PipelineLayout() *PipelineLayout { return s.layout }
func (s *PipelineState) RenderPass() *RenderPass         { return s.renderPass }
func (s *PipelineState) SubpassIndex() uint32            { return s.subpass }

func (s *PipelineState) VertexInputState() gpu.VertexInputState     { return s.vertexInput }
func (s *PipelineState) InputAssemblyState() gpu.InputAssemblyState { return s.inputAssembly }
func (s *PipelineState) RasterizationState() gpu.RasterizationState { return s.rasterization }
func (s *PipelineState) ViewportState() gpu.ViewportState           { return s.viewport }
func (s *PipelineState) MultisampleState() gpu.MultisampleState     { return s.multisample }
func (s *PipelineState) DepthStencilState() gpu.DepthStencilState   { return s.depthStencil }
func (s *PipelineState) ColorBlendState() gpu.ColorBlendState       { return s.colorBlend }
func (s *PipelineState) SpecializationConstants() map[uint32][]byte { return s.specialization }

func (s *PipelineState) IsDirty() bool {
	return s.dirty
}

func (s *PipelineState) ClearDirty() {
	s.dirty = false
}

// Clone returns a deep copy that no later setter call affects.
func (s *PipelineState) Clone() *PipelineState {
	c := *s
	c.specialization = make(map[uint32][]byte, len(s.specialization))
	for id, data := range s.specialization {
		c.specialization[id] = append([]byte(nil), data...)
	}
	c.vertexInput.Bindings = append([]gpu.VertexInputBinding(nil), s.vertexInput.Bindings...)
	c.vertexInput.Attributes = append([]gpu.VertexInputAttribute(nil), s.vertexInput.Attributes...)
	c.colorBlend.Attachments = append([]gpu.ColorBlendAttachmentState(nil), s.colorBlend.Attachments...)
	return &c
}

// HashInto folds everything but the dirty flag.
func (s *PipelineState) HashInto(h *hashing.Hasher) {
	if s.layout != nil {
		h.Uint64(s.layout.ID)
	} else {
		h.Uint64(0)
	}
	if s.renderPass != nil {
		h.Uint64(s.renderPass.ID)
	} else {
		h.Uint64(0)
	}
	h.Uint32(s.subpass)
	hashing.Map(h, s.specialization, hashUint32, func(h *hashing.Hasher, b []byte) { h.Bytes(b) })
	h.Value(s.vertexInput).
		Value(s.inputAssembly).
		Value(s.rasterization).
		Value(s.viewport).
		Value(s.multisample).
		Value(s.depthStencil).
		Value(s.colorBlend)
}
