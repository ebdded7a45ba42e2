package resources

import (
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/hashing"
)

// Attachment describes one image of a render target.
type Attachment struct {
	Format        gpu.Format
	Samples       gpu.SampleCount
	Usage         gpu.ImageUsage
	InitialLayout gpu.ImageLayout
}

func (a Attachment) HashInto(h *hashing.Hasher) {
	h.Uint32(uint32(a.Format)).Uint32(uint32(a.Samples)).Uint32(uint32(a.Usage)).Uint32(uint32(a.InitialLayout))
}

type LoadStoreInfo struct {
	LoadOp  gpu.AttachmentLoadOp
	StoreOp gpu.AttachmentStoreOp
}

func (l LoadStoreInfo) HashInto(h *hashing.Hasher) {
	h.Uint32(uint32(l.LoadOp)).Uint32(uint32(l.StoreOp))
}

// SubpassInfo lists attachments by index into the render pass attachments.
type SubpassInfo struct {
	InputAttachments              []uint32
	OutputAttachments             []uint32
	ColorResolveAttachments       []uint32
	DisableDepthStencilAttachment bool
	DebugName                     string
}

func (s SubpassInfo) HashInto(h *hashing.Hasher) {
	hashing.Slice(h, s.InputAttachments, hashUint32)
	hashing.Slice(h, s.OutputAttachments, hashUint32)
	hashing.Slice(h, s.ColorResolveAttachments, hashUint32)
	h.Bool(s.DisableDepthStencilAttachment).String(s.DebugName)
}

type RenderPass struct {
	ID     uint64
	Handle gpu.Handle

	attachmentCount  int
	colorOutputCount []uint32
}

func RenderPassKey(attachments []Attachment, loadStore []LoadStoreInfo, subpasses []SubpassInfo) uint64 {
	h := hashing.New()
	hashing.Values(h, attachments)
	hashing.Values(h, loadStore)
	hashing.Values(h, subpasses)
	return h.Sum()
}

func layoutOr(initial, fallback gpu.ImageLayout) gpu.ImageLayout {
	if initial != gpu.ImageLayoutUndefined {
		return initial
	}
	return fallback
}

func firstDepthAttachment(attachments []Attachment) (uint32, bool) {
	for i, a := range attachments {
		if a.Format.IsDepth() {
			return uint32(i), true
		}
	}
	return 0, false
}

// BuildRenderPassDesc computes the native description: subpass attachment
// references with their layouts, attachment initial and final layouts from
// first and last use, and by-region dependencies between chained subpasses.
func BuildRenderPassDesc(attachments []Attachment, loadStore []LoadStoreInfo, subpasses []SubpassInfo) gpu.RenderPassDesc {
	desc := gpu.RenderPassDesc{Attachments: make([]gpu.AttachmentDescription, len(attachments))}

	for i, a := range attachments {
		d := gpu.AttachmentDescription{
			Format:        a.Format,
			Samples:       max(a.Samples, gpu.SampleCount1),
			InitialLayout: a.InitialLayout,
			FinalLayout:   gpu.ImageLayoutColorAttachmentOptimal,
		}
		if a.Format.IsDepth() {
			d.FinalLayout = gpu.ImageLayoutDepthStencilAttachmentOptimal
		}
		if i < len(loadStore) {
			d.LoadOp = loadStore[i].LoadOp
			d.StoreOp = loadStore[i].StoreOp
			d.StencilLoadOp = loadStore[i].LoadOp
			d.StencilStoreOp = loadStore[i].StoreOp
		}
		desc.Attachments[i] = d
	}

	if len(subpasses) == 0 {
		// One subpass writing every color attachment plus the first depth one.
		var sp gpu.SubpassDescription
		for i, a := range attachments {
			if !a.Format.IsDepth() {
				sp.ColorAttachments = append(sp.ColorAttachments, gpu.AttachmentReference{
					Attachment: uint32(i),
					Layout:     gpu.ImageLayoutColorAttachmentOptimal,
				})
			}
		}
		if depth, ok := firstDepthAttachment(attachments); ok {
			sp.DepthStencilAttachment = &gpu.AttachmentReference{Attachment: depth, Layout: gpu.ImageLayoutDepthStencilAttachmentOptimal}
		}
		desc.Subpasses = append(desc.Subpasses, sp)
	}

	for _, info := range subpasses {
		var sp gpu.SubpassDescription
		for _, o := range info.InputAttachments {
			layout := gpu.ImageLayoutShaderReadOnlyOptimal
			if attachments[o].Format.IsDepth() {
				layout = gpu.ImageLayoutDepthStencilReadOnlyOptimal
			}
			sp.InputAttachments = append(sp.InputAttachments, gpu.AttachmentReference{
				Attachment: o,
				Layout:     layoutOr(attachments[o].InitialLayout, layout),
			})
		}
		for _, o := range info.OutputAttachments {
			if attachments[o].Format.IsDepth() {
				continue
			}
			sp.ColorAttachments = append(sp.ColorAttachments, gpu.AttachmentReference{
				Attachment: o,
				Layout:     layoutOr(attachments[o].InitialLayout, gpu.ImageLayoutColorAttachmentOptimal),
			})
		}
		for _, o := range info.ColorResolveAttachments {
			sp.ResolveAttachments = append(sp.ResolveAttachments, gpu.AttachmentReference{
				Attachment: o,
				Layout:     layoutOr(attachments[o].InitialLayout, gpu.ImageLayoutColorAttachmentOptimal),
			})
		}
		if !info.DisableDepthStencilAttachment {
			if depth, ok := firstDepthAttachment(attachments); ok {
				sp.DepthStencilAttachment = &gpu.AttachmentReference{
					Attachment: depth,
					Layout:     layoutOr(attachments[depth].InitialLayout, gpu.ImageLayoutDepthStencilAttachmentOptimal),
				}
			}
		}
		desc.Subpasses = append(desc.Subpasses, sp)
	}

	setAttachmentLayouts(desc.Subpasses, desc.Attachments)

	for i := 0; i+1 < len(desc.Subpasses); i++ {
		desc.Dependencies = append(desc.Dependencies, gpu.SubpassDependency{
			SrcSubpass:    uint32(i),
			DstSubpass:    uint32(i + 1),
			SrcStageMask:  gpu.PipelineStageColorAttachmentOutput,
			DstStageMask:  gpu.PipelineStageFragmentShader,
			SrcAccessMask: gpu.AccessColorAttachmentWrite,
			DstAccessMask: gpu.AccessInputAttachmentRead,
			ByRegion:      true,
		})
	}
	return desc
}

func subpassRefs(sp *gpu.SubpassDescription) []gpu.AttachmentReference {
	refs := make([]gpu.AttachmentReference, 0, len(sp.InputAttachments)+len(sp.ColorAttachments)+len(sp.ResolveAttachments)+1)
	refs = append(refs, sp.InputAttachments...)
	refs = append(refs, sp.ColorAttachments...)
	refs = append(refs, sp.ResolveAttachments...)
	if sp.DepthStencilAttachment != nil {
		refs = append(refs, *sp.DepthStencilAttachment)
	}
	return refs
}

func setAttachmentLayouts(subpasses []gpu.SubpassDescription, attachments []gpu.AttachmentDescription) {
	// Undefined initial layouts take the layout of the first use.
	for i := range subpasses {
		for _, ref := range subpassRefs(&subpasses[i]) {
			if attachments[ref.Attachment].InitialLayout == gpu.ImageLayoutUndefined {
				attachments[ref.Attachment].InitialLayout = ref.Layout
			}
		}
	}
	// Final layouts are the layout of the last use.
	for i := range subpasses {
		for _, ref := range subpassRefs(&subpasses[i]) {
			attachments[ref.Attachment].FinalLayout = ref.Layout
		}
	}
}

func NewRenderPass(device gpu.Device, attachments []Attachment, loadStore []LoadStoreInfo, subpasses []SubpassInfo) (*RenderPass, error) {
	for _, info := range subpasses {
		for _, list := range [][]uint32{info.InputAttachments, info.OutputAttachments, info.ColorResolveAttachments} {
			for _, o := range list {
				if int(o) >= len(attachments) {
					return nil, gpu.ConfigError("subpass %q references attachment %d of %d", info.DebugName, o, len(attachments))
				}
			}
		}
	}

	desc := BuildRenderPassDesc(attachments, loadStore, subpasses)
	handle, err := device.CreateRenderPass(&desc)
	if err != nil {
		return nil, err
	}

	rp := &RenderPass{
		ID:              RenderPassKey(attachments, loadStore, subpasses),
		Handle:          handle,
		attachmentCount: len(attachments),
	}
	for _, sp := range desc.Subpasses {
		rp.colorOutputCount = append(rp.colorOutputCount, uint32(len(sp.ColorAttachments)))
	}
	return rp, nil
}

func (rp *RenderPass) HashInto(h *hashing.Hasher) {
	h.Uint64(rp.ID)
}

func (rp *RenderPass) ColorOutputCount(subpass uint32) uint32 {
	if int(subpass) >= len(rp.colorOutputCount) {
		return 0
	}
	return rp.colorOutputCount[subpass]
}

func (rp *RenderPass) AttachmentCount() int {
	return rp.attachmentCount
}

func (rp *RenderPass) Destroy(device gpu.Device) {
	device.Destroy(gpu.KindRenderPass, rp.Handle)
}
