package resources

import (
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/hashing"
)

// RenderTarget is the set of image views a frame renders into. The images
// themselves are owned by whoever created the views.
type RenderTarget struct {
	Extent      gpu.Extent2D
	Attachments []Attachment
	Views       []gpu.Handle
}

func NewRenderTarget(extent gpu.Extent2D, attachments []Attachment, views []gpu.Handle) (*RenderTarget, error) {
	if len(attachments) != len(views) {
		return nil, gpu.ConfigError("render target has %d attachments but %d views", len(attachments), len(views))
	}
	if extent.Width == 0 || extent.Height == 0 {
		return nil, gpu.ConfigError("render target extent %dx%d is empty", extent.Width, extent.Height)
	}
	return &RenderTarget{Extent: extent, Attachments: attachments, Views: views}, nil
}

func (rt *RenderTarget) HashInto(h *hashing.Hasher) {
	h.Value(rt.Extent)
	hashing.Slice(h, rt.Views, func(h *hashing.Hasher, v gpu.Handle) { h.Uint64(uint64(v)) })
}

type Framebuffer struct {
	ID     uint64
	Handle gpu.Handle
	Extent gpu.Extent2D
}

func FramebufferKey(rt *RenderTarget, rp *RenderPass) uint64 {
	return hashing.New().Value(rt).Value(rp).Sum()
}

func NewFramebuffer(device gpu.Device, rt *RenderTarget, rp *RenderPass) (*Framebuffer, error) {
	if rp.AttachmentCount() != len(rt.Views) {
		return nil, gpu.ConfigError("render pass expects %d attachments, render target has %d", rp.AttachmentCount(), len(rt.Views))
	}
	handle, err := device.CreateFramebuffer(&gpu.FramebufferDesc{
		RenderPass:  rp.Handle,
		Attachments: rt.Views,
		Extent:      rt.Extent,
		Layers:      1,
	})
	if err != nil {
		return nil, err
	}
	return &Framebuffer{ID: FramebufferKey(rt, rp), Handle: handle, Extent: rt.Extent}, nil
}

func (f *Framebuffer) Destroy(device gpu.Device) {
	device.Destroy(gpu.KindFramebuffer, f.Handle)
}
