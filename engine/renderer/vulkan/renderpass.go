package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

func attachmentReferences(refs []gpu.AttachmentReference) []vk.AttachmentReference {
	if len(refs) == 0 {
		return nil
	}
	out := make([]vk.AttachmentReference, len(refs))
	for i, r := range refs {
		out[i] = vk.AttachmentReference{
			Attachment: r.Attachment,
			Layout:     vk.ImageLayout(r.Layout),
		}
	}
	return out
}

func (d *Device) CreateRenderPass(desc *gpu.RenderPassDesc) (gpu.Handle, error) {
	attachmentDescriptions := make([]vk.AttachmentDescription, len(desc.Attachments))
	for i, a := range desc.Attachments {
		attachmentDescriptions[i] = vk.AttachmentDescription{
			Format:         vk.Format(a.Format),
			Samples:        vk.SampleCountFlagBits(max(a.Samples, gpu.SampleCount1)),
			LoadOp:         vk.AttachmentLoadOp(a.LoadOp),
			StoreOp:        vk.AttachmentStoreOp(a.StoreOp),
			StencilLoadOp:  vk.AttachmentLoadOp(a.StencilLoadOp),
			StencilStoreOp: vk.AttachmentStoreOp(a.StencilStoreOp),
			InitialLayout:  vk.ImageLayout(a.InitialLayout),
			FinalLayout:    vk.ImageLayout(a.FinalLayout),
		}
	}

	subpasses := make([]vk.SubpassDescription, len(desc.Subpasses))
	for i, s := range desc.Subpasses {
		subpass := vk.SubpassDescription{
			PipelineBindPoint:    vk.PipelineBindPointGraphics,
			InputAttachmentCount: uint32(len(s.InputAttachments)),
			PInputAttachments:    attachmentReferences(s.InputAttachments),
			ColorAttachmentCount: uint32(len(s.ColorAttachments)),
			PColorAttachments:    attachmentReferences(s.ColorAttachments),
			PResolveAttachments:  attachmentReferences(s.ResolveAttachments),
		}
		if s.DepthStencilAttachment != nil {
			subpass.PDepthStencilAttachment = &vk.AttachmentReference{
				Attachment: s.DepthStencilAttachment.Attachment,
				Layout:     vk.ImageLayout(s.DepthStencilAttachment.Layout),
			}
		}
		subpasses[i] = subpass
	}

	dependencies := make([]vk.SubpassDependency, len(desc.Dependencies))
	for i, dep := range desc.Dependencies {
		dependencies[i] = vk.SubpassDependency{
			SrcSubpass:    dep.SrcSubpass,
			DstSubpass:    dep.DstSubpass,
			SrcStageMask:  vk.PipelineStageFlags(dep.SrcStageMask),
			DstStageMask:  vk.PipelineStageFlags(dep.DstStageMask),
			SrcAccessMask: vk.AccessFlags(dep.SrcAccessMask),
			DstAccessMask: vk.AccessFlags(dep.DstAccessMask),
		}
		if dep.ByRegion {
			dependencies[i].DependencyFlags = vk.DependencyFlags(vk.DependencyByRegionBit)
		}
	}

	renderpassCreateInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachmentDescriptions)),
		PAttachments:    attachmentDescriptions,
		SubpassCount:    uint32(len(subpasses)),
		PSubpasses:      subpasses,
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	}

	var pRenderPass vk.RenderPass
	if err := d.locks.SafeCall(RenderpassManagement, func() error {
		return check(vk.CreateRenderPass(d.logicalDevice, &renderpassCreateInfo, nil, &pRenderPass))
	}); err != nil {
		core.LogError("failed to create render pass: %s", err)
		return gpu.NullHandle, err
	}
	return d.objects.add(gpu.KindRenderPass, pRenderPass), nil
}
