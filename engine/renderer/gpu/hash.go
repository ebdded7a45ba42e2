package gpu

import "github.com/spaghettifunk/anima/engine/renderer/hashing"

func (e Extent2D) HashInto(h *hashing.Hasher) {
	h.Uint32(e.Width).Uint32(e.Height)
}

func (b DescriptorBufferInfo) HashInto(h *hashing.Hasher) {
	h.Uint64(uint64(b.Buffer)).Uint64(b.Offset).Uint64(b.Range)
}

func (i DescriptorImageInfo) HashInto(h *hashing.Hasher) {
	h.Uint64(uint64(i.Sampler)).Uint64(uint64(i.ImageView)).Uint32(uint32(i.Layout))
}

func (s VertexInputState) HashInto(h *hashing.Hasher) {
	hashing.Slice(h, s.Bindings, func(h *hashing.Hasher, b VertexInputBinding) {
		h.Uint32(b.Binding).Uint32(b.Stride).Uint32(uint32(b.InputRate))
	})
	hashing.Slice(h, s.Attributes, func(h *hashing.Hasher, a VertexInputAttribute) {
		h.Uint32(a.Location).Uint32(a.Binding).Uint32(uint32(a.Format)).Uint32(a.Offset)
	})
}

func (s InputAssemblyState) HashInto(h *hashing.Hasher) {
	h.Uint32(uint32(s.Topology)).Bool(s.PrimitiveRestartEnable)
}

func (s RasterizationState) HashInto(h *hashing.Hasher) {
	h.Bool(s.DepthClampEnable).
		Bool(s.RasterizerDiscardEnable).
		Uint32(uint32(s.PolygonMode)).
		Uint32(uint32(s.CullMode)).
		Uint32(uint32(s.FrontFace)).
		Bool(s.DepthBiasEnable)
}

func (s ViewportState) HashInto(h *hashing.Hasher) {
	h.Uint32(s.ViewportCount).Uint32(s.ScissorCount)
}

func (s MultisampleState) HashInto(h *hashing.Hasher) {
	h.Uint32(uint32(s.RasterizationSamples)).
		Bool(s.SampleShadingEnable).
		Float32(s.MinSampleShading).
		Uint32(s.SampleMask).
		Bool(s.AlphaToCoverageEnable).
		Bool(s.AlphaToOneEnable)
}

func (s StencilOpState) HashInto(h *hashing.Hasher) {
	h.Uint32(uint32(s.FailOp)).Uint32(uint32(s.PassOp)).Uint32(uint32(s.DepthFailOp)).Uint32(uint32(s.CompareOp))
}

func (s DepthStencilState) HashInto(h *hashing.Hasher) {
	h.Bool(s.DepthTestEnable).
		Bool(s.DepthWriteEnable).
		Uint32(uint32(s.DepthCompareOp)).
		Bool(s.DepthBoundsTestEnable).
		Bool(s.StencilTestEnable).
		Value(s.Front).
		Value(s.Back)
}

func (s ColorBlendAttachmentState) HashInto(h *hashing.Hasher) {
	h.Bool(s.BlendEnable).
		Uint32(uint32(s.SrcColorBlendFactor)).
		Uint32(uint32(s.DstColorBlendFactor)).
		Uint32(uint32(s.ColorBlendOp)).
		Uint32(uint32(s.SrcAlphaBlendFactor)).
		Uint32(uint32(s.DstAlphaBlendFactor)).
		Uint32(uint32(s.AlphaBlendOp)).
		Uint32(uint32(s.ColorWriteMask))
}

func (s ColorBlendState) HashInto(h *hashing.Hasher) {
	h.Bool(s.LogicOpEnable).Uint32(uint32(s.LogicOp))
	hashing.Values(h, s.Attachments)
}
