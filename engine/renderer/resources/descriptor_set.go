package resources

import (
	"slices"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/hashing"
)

// BindingMap maps binding index to array element to payload.
type BindingMap[T any] map[uint32]map[uint32]T

func sortedKeys[V any](m map[uint32]V) []uint32 {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func hashBindingMap[T hashing.Hashable](h *hashing.Hasher, m BindingMap[T]) {
	hashing.Map(h, m, hashUint32, func(h *hashing.Hasher, elems map[uint32]T) {
		hashing.Map(h, elems, hashUint32, func(h *hashing.Hasher, v T) { h.Value(v) })
	})
}

func hashUint32(h *hashing.Hasher, v uint32) { h.Uint32(v) }

// Clone copies both levels of the map.
func (m BindingMap[T]) Clone() BindingMap[T] {
	if m == nil {
		return nil
	}
	out := make(BindingMap[T], len(m))
	for binding, elems := range m {
		copied := make(map[uint32]T, len(elems))
		for elem, v := range elems {
			copied[elem] = v
		}
		out[binding] = copied
	}
	return out
}

type DescriptorSet struct {
	ID     uint64
	Handle gpu.Handle

	device      gpu.Device
	layout      *DescriptorSetLayout
	pool        *DescriptorPool
	bufferInfos BindingMap[gpu.DescriptorBufferInfo]
	imageInfos  BindingMap[gpu.DescriptorImageInfo]
	writes      []gpu.DescriptorWrite
	// fingerprint of the last payload written per binding and element
	updated map[uint64]uint64
}

func DescriptorSetKey(layout *DescriptorSetLayout, pool *DescriptorPool, buffers BindingMap[gpu.DescriptorBufferInfo], images BindingMap[gpu.DescriptorImageInfo]) uint64 {
	h := hashing.New().Value(layout).Value(pool)
	hashBindingMap(h, buffers)
	hashBindingMap(h, images)
	return h.Sum()
}

// NewDescriptorSet allocates a set from pool and prepares, without issuing,
// the writes for every binding the layout knows about.
func NewDescriptorSet(device gpu.Device, layout *DescriptorSetLayout, pool *DescriptorPool, buffers BindingMap[gpu.DescriptorBufferInfo], images BindingMap[gpu.DescriptorImageInfo]) (*DescriptorSet, error) {
	handle, err := pool.Allocate()
	if err != nil {
		return nil, err
	}
	s := &DescriptorSet{
		ID:          DescriptorSetKey(layout, pool, buffers, images),
		Handle:      handle,
		device:      device,
		layout:      layout,
		pool:        pool,
		bufferInfos: buffers.Clone(),
		imageInfos:  images.Clone(),
		updated:     make(map[uint64]uint64),
	}
	s.prepare()
	return s, nil
}

func writeKey(w gpu.DescriptorWrite) uint64 {
	return uint64(w.Binding)<<32 | uint64(w.ArrayElement)
}

func writeHash(w gpu.DescriptorWrite) uint64 {
	h := hashing.New().Uint64(uint64(w.Set)).Uint32(w.Binding).Uint32(w.ArrayElement).Uint32(uint32(w.Type))
	if w.Buffer != nil {
		h.Value(*w.Buffer)
	}
	if w.Image != nil {
		h.Value(*w.Image)
	}
	return h.Sum()
}

func (s *DescriptorSet) prepare() {
	if len(s.writes) > 0 {
		core.LogWarn("trying to prepare descriptor set %#x that has already been prepared, skipping", uint64(s.Handle))
		return
	}

	for _, binding := range sortedKeys(s.bufferInfos) {
		lb, ok := s.layout.LayoutBinding(binding)
		if !ok {
			core.LogError("shader layout set %d does not use buffer binding #%d", s.layout.SetIndex, binding)
			continue
		}
		elems := s.bufferInfos[binding]
		for _, elem := range sortedKeys(elems) {
			info := elems[elem]
			s.writes = append(s.writes, gpu.DescriptorWrite{
				Set:          s.Handle,
				Binding:      binding,
				ArrayElement: elem,
				Type:         lb.Type,
				Buffer:       &info,
			})
		}
	}

	for _, binding := range sortedKeys(s.imageInfos) {
		lb, ok := s.layout.LayoutBinding(binding)
		if !ok {
			core.LogError("shader layout set %d does not use image binding #%d", s.layout.SetIndex, binding)
			continue
		}
		elems := s.imageInfos[binding]
		for _, elem := range sortedKeys(elems) {
			info := elems[elem]
			s.writes = append(s.writes, gpu.DescriptorWrite{
				Set:          s.Handle,
				Binding:      binding,
				ArrayElement: elem,
				Type:         lb.Type,
				Image:        &info,
			})
		}
	}
}

// Update issues the writes of the listed bindings whose payload changed
// since they were last written. An empty list selects every binding. It
// returns the number of writes issued.
func (s *DescriptorSet) Update(bindings []uint32) int {
	var pending []gpu.DescriptorWrite
	for _, w := range s.writes {
		if len(bindings) > 0 && !slices.Contains(bindings, w.Binding) {
			continue
		}
		if prev, ok := s.updated[writeKey(w)]; ok && prev == writeHash(w) {
			continue
		}
		pending = append(pending, w)
	}
	if len(pending) == 0 {
		return 0
	}

	s.device.UpdateDescriptorSets(pending)
	for _, w := range pending {
		s.updated[writeKey(w)] = writeHash(w)
	}
	return len(pending)
}

// ApplyWrites issues every prepared write without checking what changed.
func (s *DescriptorSet) ApplyWrites() {
	s.device.UpdateDescriptorSets(s.writes)
}

// Reset replaces the payload and prepares the writes again. The new writes
// are issued by the next Update.
func (s *DescriptorSet) Reset(buffers BindingMap[gpu.DescriptorBufferInfo], images BindingMap[gpu.DescriptorImageInfo]) {
	if len(buffers) == 0 && len(images) == 0 {
		core.LogWarn("calling reset on descriptor set %#x with no new buffer or image infos", uint64(s.Handle))
	} else {
		s.bufferInfos = buffers.Clone()
		s.imageInfos = images.Clone()
	}
	s.writes = nil
	clear(s.updated)
	s.prepare()
}

// RebindImageViews points every image binding that uses a key of views at
// the mapped view instead. It returns the rewritten writes, already marked
// as written, so the caller can batch them into a single update. The ID is
// recomputed since the set now has a different payload.
func (s *DescriptorSet) RebindImageViews(views map[gpu.Handle]gpu.Handle) []gpu.DescriptorWrite {
	changed := false
	for _, elems := range s.imageInfos {
		for elem, info := range elems {
			if next, ok := views[info.ImageView]; ok {
				info.ImageView = next
				elems[elem] = info
				changed = true
			}
		}
	}
	if !changed {
		return nil
	}

	s.writes = nil
	s.prepare()

	var rewritten []gpu.DescriptorWrite
	for _, w := range s.writes {
		if w.Image == nil {
			continue
		}
		if prev, ok := s.updated[writeKey(w)]; ok && prev == writeHash(w) {
			continue
		}
		s.updated[writeKey(w)] = writeHash(w)
		rewritten = append(rewritten, w)
	}
	s.ID = DescriptorSetKey(s.layout, s.pool, s.bufferInfos, s.imageInfos)
	return rewritten
}

func (s *DescriptorSet) Layout() *DescriptorSetLayout {
	return s.layout
}

func (s *DescriptorSet) Pool() *DescriptorPool {
	return s.pool
}

func (s *DescriptorSet) BufferInfos() BindingMap[gpu.DescriptorBufferInfo] {
	return s.bufferInfos
}

func (s *DescriptorSet) ImageInfos() BindingMap[gpu.DescriptorImageInfo] {
	return s.imageInfos
}

// Writes returns the prepared writes.
func (s *DescriptorSet) Writes() []gpu.DescriptorWrite {
	return s.writes
}
