package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

func (d *Device) CreateFramebuffer(desc *gpu.FramebufferDesc) (gpu.Handle, error) {
	renderPass, err := lookup[vk.RenderPass](d.objects, gpu.KindRenderPass, desc.RenderPass)
	if err != nil {
		return gpu.NullHandle, err
	}
	attachments := make([]vk.ImageView, len(desc.Attachments))
	for i, h := range desc.Attachments {
		if attachments[i], err = d.imageView(h); err != nil {
			return gpu.NullHandle, err
		}
	}

	framebufferCreateInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderPass,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		Width:           desc.Extent.Width,
		Height:          desc.Extent.Height,
		Layers:          max(desc.Layers, 1),
	}

	var pFramebuffer vk.Framebuffer
	if err := check(vk.CreateFramebuffer(d.logicalDevice, &framebufferCreateInfo, nil, &pFramebuffer)); err != nil {
		core.LogError("failed to create framebuffer: %s", err)
		return gpu.NullHandle, err
	}
	return d.objects.add(gpu.KindFramebuffer, pFramebuffer), nil
}
