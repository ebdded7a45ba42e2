package resources

import (
	"fmt"
	"slices"

	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/hashing"
)

// DescriptorSetLayoutRequester hands out cached descriptor set layouts. The
// resource cache implements it so pipeline layouts share their set layouts.
type DescriptorSetLayoutRequester interface {
	RequestDescriptorSetLayout(setIndex uint32, modules []*ShaderModule, resources []ShaderResource) (*DescriptorSetLayout, error)
}

type PipelineLayout struct {
	ID     uint64
	Handle gpu.Handle

	modules      []*ShaderModule
	resources    []ShaderResource
	setResources map[uint32][]ShaderResource
	setLayouts   map[uint32]*DescriptorSetLayout
	pushRanges   []gpu.PushConstantRange
}

func PipelineLayoutKey(modules []*ShaderModule) uint64 {
	return hashing.Values(hashing.New(), modules).Sum()
}

// mergeResources unifies resources across stages. Inputs and outputs are
// private to their stage, everything else with the same name is shared and
// gets the union of the stages that use it.
func mergeResources(modules []*ShaderModule) []ShaderResource {
	var merged []ShaderResource
	index := make(map[string]int)
	for _, m := range modules {
		for _, r := range m.Resources {
			key := r.Name
			if r.Type == ShaderResourceInput || r.Type == ShaderResourceOutput {
				key = fmt.Sprintf("%d_%s", r.Stages, r.Name)
			}
			if i, ok := index[key]; ok {
				merged[i].Stages |= r.Stages
				continue
			}
			index[key] = len(merged)
			merged = append(merged, r)
		}
	}
	return merged
}

func NewPipelineLayout(device gpu.Device, requester DescriptorSetLayoutRequester, modules []*ShaderModule) (*PipelineLayout, error) {
	l := &PipelineLayout{
		ID:           PipelineLayoutKey(modules),
		modules:      modules,
		resources:    mergeResources(modules),
		setResources: make(map[uint32][]ShaderResource),
		setLayouts:   make(map[uint32]*DescriptorSetLayout),
	}

	for _, r := range l.resources {
		switch {
		case r.Type == ShaderResourcePushConstant:
			l.pushRanges = append(l.pushRanges, gpu.PushConstantRange{Stages: r.Stages, Offset: r.Offset, Size: r.Size})
		case r.Type.IsBindable():
			l.setResources[r.Set] = append(l.setResources[r.Set], r)
		}
	}

	handles := make([]gpu.Handle, 0, len(l.setResources))
	for _, set := range l.Sets() {
		layout, err := requester.RequestDescriptorSetLayout(set, modules, l.setResources[set])
		if err != nil {
			return nil, err
		}
		l.setLayouts[set] = layout
		handles = append(handles, layout.Handle)
	}

	handle, err := device.CreatePipelineLayout(handles, l.pushRanges)
	if err != nil {
		return nil, err
	}
	l.Handle = handle
	return l, nil
}

func (l *PipelineLayout) HashInto(h *hashing.Hasher) {
	h.Uint64(l.ID)
}

// Sets lists the descriptor set indices in ascending order.
func (l *PipelineLayout) Sets() []uint32 {
	sets := make([]uint32, 0, len(l.setResources))
	for set := range l.setResources {
		sets = append(sets, set)
	}
	slices.Sort(sets)
	return sets
}

func (l *PipelineLayout) ShaderModules() []*ShaderModule {
	return l.modules
}

func (l *PipelineLayout) HasDescriptorSetLayout(set uint32) bool {
	_, ok := l.setLayouts[set]
	return ok
}

func (l *PipelineLayout) DescriptorSetLayout(set uint32) (*DescriptorSetLayout, error) {
	layout, ok := l.setLayouts[set]
	if !ok {
		return nil, gpu.ConfigError("pipeline layout has no descriptor set layout for set %d", set)
	}
	return layout, nil
}

// Resources filters the merged resources. Zero stages match every stage.
func (l *PipelineLayout) Resources(typ ShaderResourceType, stages gpu.ShaderStage) []ShaderResource {
	var found []ShaderResource
	for _, r := range l.resources {
		if r.Type == typ && (stages == 0 || r.Stages&stages != 0) {
			found = append(found, r)
		}
	}
	return found
}

func (l *PipelineLayout) PushConstantRanges() []gpu.PushConstantRange {
	return l.pushRanges
}

// PushConstantRangeStage returns the stages whose push constant block fully
// covers [offset, offset+size).
func (l *PipelineLayout) PushConstantRangeStage(offset, size uint32) gpu.ShaderStage {
	var stages gpu.ShaderStage
	for _, r := range l.pushRanges {
		if offset >= r.Offset && offset+size <= r.Offset+r.Size {
			stages |= r.Stages
		}
	}
	return stages
}

func (l *PipelineLayout) Destroy(device gpu.Device) {
	device.Destroy(gpu.KindPipelineLayout, l.Handle)
}
