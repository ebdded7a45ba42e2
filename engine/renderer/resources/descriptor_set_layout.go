package resources

import (
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/hashing"
)

// DescriptorSetLayout is the binding schema of one descriptor set index,
// derived from the bindable resources the shader modules declare for it.
type DescriptorSetLayout struct {
	ID       uint64
	Handle   gpu.Handle
	SetIndex uint32

	bindings        []gpu.DescriptorSetLayoutBinding
	bindingsLookup  map[uint32]gpu.DescriptorSetLayoutBinding
	resourcesLookup map[string]uint32
	modules         []*ShaderModule
	updateAfterBind bool
}

func DescriptorSetLayoutKey(setIndex uint32, modules []*ShaderModule, resources []ShaderResource) uint64 {
	h := hashing.New().Uint32(setIndex)
	hashing.Values(h, modules)
	hashing.Values(h, resources)
	return h.Sum()
}

func descriptorType(r ShaderResource) (gpu.DescriptorType, bool) {
	dynamic := r.Mode == ShaderResourceDynamic
	switch r.Type {
	case ShaderResourceInputAttachment:
		return gpu.DescriptorTypeInputAttachment, true
	case ShaderResourceImage:
		return gpu.DescriptorTypeSampledImage, true
	case ShaderResourceImageSampler:
		return gpu.DescriptorTypeCombinedImageSampler, true
	case ShaderResourceImageStorage:
		return gpu.DescriptorTypeStorageImage, true
	case ShaderResourceSampler:
		return gpu.DescriptorTypeSampler, true
	case ShaderResourceBufferUniform:
		if dynamic {
			return gpu.DescriptorTypeUniformBufferDynamic, true
		}
		return gpu.DescriptorTypeUniformBuffer, true
	case ShaderResourceBufferStorage:
		if dynamic {
			return gpu.DescriptorTypeStorageBufferDynamic, true
		}
		return gpu.DescriptorTypeStorageBuffer, true
	}
	return 0, false
}

func NewDescriptorSetLayout(device gpu.Device, setIndex uint32, modules []*ShaderModule, resources []ShaderResource) (*DescriptorSetLayout, error) {
	l := &DescriptorSetLayout{
		ID:              DescriptorSetLayoutKey(setIndex, modules, resources),
		SetIndex:        setIndex,
		bindingsLookup:  make(map[uint32]gpu.DescriptorSetLayoutBinding),
		resourcesLookup: make(map[string]uint32),
		modules:         modules,
	}

	hasDynamic := false
	for _, r := range resources {
		if r.Set != setIndex {
			continue
		}
		typ, ok := descriptorType(r)
		if !ok {
			continue
		}
		if _, dup := l.bindingsLookup[r.Binding]; dup {
			return nil, gpu.ConfigError("set %d declares binding %d twice (%s)", setIndex, r.Binding, r.Name)
		}

		binding := gpu.DescriptorSetLayoutBinding{
			Binding: r.Binding,
			Type:    typ,
			Count:   max(r.ArraySize, 1),
			Stages:  r.Stages,
		}
		switch r.Mode {
		case ShaderResourceDynamic:
			hasDynamic = true
		case ShaderResourceUpdateAfterBind:
			binding.Flags |= gpu.DescriptorBindingUpdateAfterBind
			l.updateAfterBind = true
		}

		l.bindings = append(l.bindings, binding)
		l.bindingsLookup[r.Binding] = binding
		l.resourcesLookup[r.Name] = r.Binding
	}

	if hasDynamic && l.updateAfterBind {
		return nil, errors.Mark(
			errors.Newf("set %d mixes dynamic and update-after-bind resources", setIndex),
			gpu.ErrConfiguration)
	}

	slices.SortFunc(l.bindings, func(a, b gpu.DescriptorSetLayoutBinding) int {
		return int(a.Binding) - int(b.Binding)
	})

	handle, err := device.CreateDescriptorSetLayout(l.bindings)
	if err != nil {
		return nil, err
	}
	l.Handle = handle
	return l, nil
}

func (l *DescriptorSetLayout) HashInto(h *hashing.Hasher) {
	h.Uint64(l.ID)
}

func (l *DescriptorSetLayout) Bindings() []gpu.DescriptorSetLayoutBinding {
	return l.bindings
}

func (l *DescriptorSetLayout) LayoutBinding(index uint32) (gpu.DescriptorSetLayoutBinding, bool) {
	b, ok := l.bindingsLookup[index]
	return b, ok
}

func (l *DescriptorSetLayout) LayoutBindingByName(name string) (gpu.DescriptorSetLayoutBinding, bool) {
	index, ok := l.resourcesLookup[name]
	if !ok {
		return gpu.DescriptorSetLayoutBinding{}, false
	}
	return l.LayoutBinding(index)
}

func (l *DescriptorSetLayout) BindingFlags(index uint32) gpu.DescriptorBindingFlags {
	return l.bindingsLookup[index].Flags
}

// UpdateAfterBind reports whether any binding may change while bound, in
// which case pools for this layout are created with the matching flag.
func (l *DescriptorSetLayout) UpdateAfterBind() bool {
	return l.updateAfterBind
}

func (l *DescriptorSetLayout) ShaderModules() []*ShaderModule {
	return l.modules
}

func (l *DescriptorSetLayout) Destroy(device gpu.Device) {
	device.Destroy(gpu.KindDescriptorSetLayout, l.Handle)
}
