package resources

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/hashing"
)

const DefaultMaxSetsPerPool uint32 = 16

// DescriptorPool allocates sets of a single layout. It grows by appending
// native pools of poolMaxSets sets each and remembers which native pool
// every set came from so sets can be freed individually.
type DescriptorPool struct {
	ID uint64

	mu             sync.Mutex
	device         gpu.Device
	layout         *DescriptorSetLayout
	poolSizes      []gpu.DescriptorPoolSize
	poolMaxSets    uint32
	pools          []gpu.Handle
	poolSetsCount  []uint32
	poolIndex      int
	setPoolMapping map[gpu.Handle]int
}

func DescriptorPoolKey(layout *DescriptorSetLayout, poolSize uint32) uint64 {
	return hashing.New().Value(layout).Uint32(poolSize).Sum()
}

// NewDescriptorPool sizes the native pools from the layout bindings. No
// native pool exists until the first Allocate.
func NewDescriptorPool(device gpu.Device, layout *DescriptorSetLayout, poolSize uint32) *DescriptorPool {
	if poolSize == 0 {
		poolSize = DefaultMaxSetsPerPool
	}

	counts := make(map[gpu.DescriptorType]uint32)
	var order []gpu.DescriptorType
	for _, b := range layout.Bindings() {
		if _, ok := counts[b.Type]; !ok {
			order = append(order, b.Type)
		}
		counts[b.Type] += b.Count
	}
	sizes := make([]gpu.DescriptorPoolSize, 0, len(order))
	for _, t := range order {
		sizes = append(sizes, gpu.DescriptorPoolSize{Type: t, Count: counts[t] * poolSize})
	}

	return &DescriptorPool{
		ID:             DescriptorPoolKey(layout, poolSize),
		device:         device,
		layout:         layout,
		poolSizes:      sizes,
		poolMaxSets:    poolSize,
		setPoolMapping: make(map[gpu.Handle]int),
	}
}

func (p *DescriptorPool) HashInto(h *hashing.Hasher) {
	h.Uint64(p.ID)
}

func (p *DescriptorPool) Layout() *DescriptorSetLayout {
	return p.layout
}

// findAvailablePool returns the first pool at or after index with room
// for one more set, creating a native pool when every existing one is full.
func (p *DescriptorPool) findAvailablePool(index int) (int, error) {
	for ; index < len(p.pools); index++ {
		if p.poolSetsCount[index] < p.poolMaxSets {
			return index, nil
		}
	}

	handle, err := p.device.CreateDescriptorPool(p.poolMaxSets, p.poolSizes, p.layout.UpdateAfterBind())
	if err != nil {
		return 0, gpu.NewCreationError(gpu.KindDescriptorPool, len(p.pools), err)
	}
	p.pools = append(p.pools, handle)
	p.poolSetsCount = append(p.poolSetsCount, 0)
	return len(p.pools) - 1, nil
}

// Allocate returns a new set. When the native allocation fails the pool
// counter is rolled back and a NullHandle is returned with an error marked
// gpu.ErrPoolExhausted.
func (p *DescriptorPool) Allocate() (gpu.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	index, err := p.findAvailablePool(p.poolIndex)
	if err != nil {
		return gpu.NullHandle, err
	}
	p.poolIndex = index
	p.poolSetsCount[index]++

	set, err := p.device.AllocateDescriptorSet(p.pools[index], p.layout.Handle)
	if err != nil {
		p.poolSetsCount[index]--
		core.LogWarn("descriptor set allocation failed in pool #%d: %v", index, err)
		return gpu.NullHandle, errors.Mark(errors.Wrapf(err, "allocate descriptor set from pool #%d", index), gpu.ErrPoolExhausted)
	}

	p.setPoolMapping[set] = index
	return set, nil
}

func (p *DescriptorPool) Free(set gpu.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	index, ok := p.setPoolMapping[set]
	if !ok {
		return errors.Mark(errors.Newf("descriptor set %#x was not allocated by this pool", uint64(set)), gpu.ErrNotFound)
	}
	if err := p.device.FreeDescriptorSet(p.pools[index], set); err != nil {
		return errors.Wrapf(err, "free descriptor set %#x", uint64(set))
	}

	delete(p.setPoolMapping, set)
	p.poolSetsCount[index]--
	// Lets the next allocation reuse the slot.
	p.poolIndex = 0
	return nil
}

// Reset recycles every set of every native pool at once.
func (p *DescriptorPool) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pool := range p.pools {
		if err := p.device.ResetDescriptorPool(pool); err != nil {
			return errors.Wrap(err, "reset descriptor pool")
		}
	}
	clear(p.poolSetsCount)
	clear(p.setPoolMapping)
	p.poolIndex = 0
	return nil
}

// Pools returns the number of native pools created so far.
func (p *DescriptorPool) Pools() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pools)
}

// SetsAllocated returns the live set count of native pool i.
func (p *DescriptorPool) SetsAllocated(i int) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.poolSetsCount) {
		return 0
	}
	return p.poolSetsCount[i]
}

func (p *DescriptorPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pool := range p.pools {
		p.device.Destroy(gpu.KindDescriptorPool, pool)
	}
	p.pools = nil
	p.poolSetsCount = nil
	clear(p.setPoolMapping)
	p.poolIndex = 0
}
