// Package frame holds the resources of one frame in flight. Every pool is
// private to a RenderFrame and, below that, to a recording thread, so
// distinct thread indices never contend. Reset is the only way resources
// come back, and it blocks until the GPU released them.
package frame

import (
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/cache"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/pool"
	"github.com/spaghettifunk/anima/engine/renderer/resources"
)

type RenderFrame struct {
	device gpu.Device
	cfg    Config
	name   string

	target *resources.RenderTarget

	fencePool     *pool.FencePool
	semaphorePool *pool.SemaphorePool

	// guards commandPools only; every other per-thread slot belongs to the
	// thread that owns the index
	mu sync.Mutex
	// per queue family, one pool per thread
	commandPools map[uint32][]*pool.CommandPool

	descriptorPools []*cache.Map[*resources.DescriptorPool]
	descriptorSets  []*cache.Map[*resources.DescriptorSet]

	// per usage, one pool per thread
	bufferPools map[gpu.BufferUsage][]*pool.BufferPool
}

func New(device gpu.Device, target *resources.RenderTarget, cfg Config) (*RenderFrame, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	f := &RenderFrame{
		device:        device,
		cfg:           cfg,
		name:          "frame-" + uuid.NewString(),
		target:        target,
		fencePool:     pool.NewFencePool(device),
		semaphorePool: pool.NewSemaphorePool(device),
		commandPools:  make(map[uint32][]*pool.CommandPool),
		bufferPools:   make(map[gpu.BufferUsage][]*pool.BufferPool, len(cfg.BufferUsages)),
	}

	for i := 0; i < cfg.Threads; i++ {
		f.descriptorPools = append(f.descriptorPools, cache.NewMap[*resources.DescriptorPool](gpu.KindDescriptorPool))
		f.descriptorSets = append(f.descriptorSets, cache.NewMap[*resources.DescriptorSet](gpu.KindDescriptorSet))
	}

	for usage, multiplier := range cfg.BufferUsages {
		pools := make([]*pool.BufferPool, cfg.Threads)
		for i := range pools {
			pools[i] = pool.NewBufferPool(device, cfg.BufferBlockSize*multiplier, usage, gpu.MemoryUsageCPUToGPU)
		}
		f.bufferPools[usage] = pools
	}

	core.LogDebug("created render frame %s with %d threads", f.name, cfg.Threads)
	return f, nil
}

func (f *RenderFrame) Name() string {
	return f.name
}

func (f *RenderFrame) checkThread(thread int) error {
	if thread < 0 || thread >= f.cfg.Threads {
		return gpu.ConfigError("thread index %d out of range, frame %s has %d threads", thread, f.name, f.cfg.Threads)
	}
	return nil
}

// Reset blocks until the GPU finished the last submission of this frame and
// then recycles its fences, command buffers, buffer blocks and semaphores.
// Descriptor sets are recycled as well when they are created directly.
//
// A failed fence wait leaves every resource untouched.
func (f *RenderFrame) Reset() error {
	if err := f.fencePool.Wait(f.cfg.FenceTimeout); err != nil {
		return errors.Wrapf(err, "reset %s", f.name)
	}
	if err := f.fencePool.Reset(); err != nil {
		return errors.Wrapf(err, "reset %s", f.name)
	}

	f.mu.Lock()
	for family, pools := range f.commandPools {
		for _, p := range pools {
			if err := p.ResetPool(); err != nil {
				f.mu.Unlock()
				return errors.Wrapf(err, "reset command pool of queue family %d thread %d", family, p.ThreadIndex())
			}
		}
	}
	f.mu.Unlock()

	for _, pools := range f.bufferPools {
		for _, p := range pools {
			p.Reset()
		}
	}

	f.semaphorePool.Reset()

	if f.cfg.DescriptorManagement == CreateDirectly {
		if err := f.resetDescriptors(); err != nil {
			return errors.Wrapf(err, "reset %s", f.name)
		}
	}
	return nil
}

// resetDescriptors recycles every set allocated this frame. The native pools
// are kept for the next frame.
func (f *RenderFrame) resetDescriptors() error {
	var err error
	for i := range f.descriptorSets {
		f.descriptorSets[i].Clear(nil)
		f.descriptorPools[i].Range(func(_ uint64, p *resources.DescriptorPool) bool {
			err = p.Reset()
			return err == nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// commandPoolsFor returns the per-thread pools of the queue family. Pools with
// another reset mode are destroyed and recreated once the device is idle.
func (f *RenderFrame) commandPoolsFor(queue gpu.Queue, mode pool.ResetMode) ([]*pool.CommandPool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if pools, ok := f.commandPools[queue.FamilyIndex]; ok {
		if pools[0].ResetMode() == mode {
			return pools, nil
		}

		core.LogDebug("command pools of queue family %d switch from %s to %s", queue.FamilyIndex, pools[0].ResetMode(), mode)
		if err := f.device.WaitIdle(); err != nil {
			return nil, errors.Wrap(err, "wait idle before recreating command pools")
		}
		for _, p := range pools {
			p.Destroy()
		}
		delete(f.commandPools, queue.FamilyIndex)
	}

	pools := make([]*pool.CommandPool, 0, f.cfg.Threads)
	for i := 0; i < f.cfg.Threads; i++ {
		p, err := pool.NewCommandPool(f.device, queue.FamilyIndex, i, mode)
		if err != nil {
			for _, created := range pools {
				created.Destroy()
			}
			return nil, err
		}
		pools = append(pools, p)
	}
	f.commandPools[queue.FamilyIndex] = pools
	return pools, nil
}

// RequestCommandBuffer returns the next command buffer of the thread's pool
// for the queue family of queue.
func (f *RenderFrame) RequestCommandBuffer(queue gpu.Queue, mode pool.ResetMode, level gpu.CommandBufferLevel, thread int) (*pool.CommandBuffer, error) {
	if err := f.checkThread(thread); err != nil {
		return nil, err
	}
	pools, err := f.commandPoolsFor(queue, mode)
	if err != nil {
		return nil, err
	}
	return pools[thread].RequestCommandBuffer(level)
}

// RequestDescriptorSet resolves a descriptor set for layout with the given
// payload. With StoreInCache the thread's cached set is reused and only the
// bindings whose payload changed are written. When updateAfterBind is set,
// bindings flagged update-after-bind are left for a later
// UpdateDescriptorSets call. With CreateDirectly a new set is allocated and
// written in full.
func (f *RenderFrame) RequestDescriptorSet(layout *resources.DescriptorSetLayout, buffers resources.BindingMap[gpu.DescriptorBufferInfo], images resources.BindingMap[gpu.DescriptorImageInfo], updateAfterBind bool, thread int) (*resources.DescriptorSet, error) {
	if err := f.checkThread(thread); err != nil {
		return nil, err
	}

	descriptorPool, err := cache.RequestDescriptorPool(f.device, f.descriptorPools[thread], layout, f.cfg.DescriptorPoolSize)
	if err != nil {
		return nil, err
	}

	if f.cfg.DescriptorManagement == CreateDirectly {
		set, err := resources.NewDescriptorSet(f.device, layout, descriptorPool, buffers, images)
		if err != nil {
			return nil, err
		}
		set.ApplyWrites()
		return set, nil
	}

	set, err := cache.RequestDescriptorSet(f.device, f.descriptorSets[thread], layout, descriptorPool, buffers, images)
	if err != nil {
		return nil, err
	}

	var bindings []uint32
	if updateAfterBind {
		bindings = bindingsToUpdate(layout, buffers, images)
		if len(bindings) == 0 {
			return set, nil
		}
	}
	set.Update(bindings)
	return set, nil
}

// bindingsToUpdate lists the passed bindings that must be written before the
// set is bound.
func bindingsToUpdate(layout *resources.DescriptorSetLayout, buffers resources.BindingMap[gpu.DescriptorBufferInfo], images resources.BindingMap[gpu.DescriptorImageInfo]) []uint32 {
	var bindings []uint32
	add := func(binding uint32) {
		if layout.BindingFlags(binding)&gpu.DescriptorBindingUpdateAfterBind != 0 {
			return
		}
		if !slices.Contains(bindings, binding) {
			bindings = append(bindings, binding)
		}
	}
	for binding := range buffers {
		add(binding)
	}
	for binding := range images {
		add(binding)
	}
	slices.Sort(bindings)
	return bindings
}

// UpdateDescriptorSets writes every pending change of the thread's cached
// descriptor sets, update-after-bind bindings included.
func (f *RenderFrame) UpdateDescriptorSets(thread int) error {
	if err := f.checkThread(thread); err != nil {
		return err
	}
	f.descriptorSets[thread].Range(func(_ uint64, set *resources.DescriptorSet) bool {
		set.Update(nil)
		return true
	})
	return nil
}

// AllocateBuffer carves size bytes out of the thread's pool for usage. A
// usage without a pool is a configuration error: it is logged and answered
// with an empty allocation.
func (f *RenderFrame) AllocateBuffer(usage gpu.BufferUsage, size uint64, thread int) (pool.BufferAllocation, error) {
	if err := f.checkThread(thread); err != nil {
		return pool.BufferAllocation{}, err
	}

	pools, ok := f.bufferPools[usage]
	if !ok {
		core.LogError("no buffer pool for usage %#x in %s", uint32(usage), f.name)
		return pool.BufferAllocation{}, gpu.ConfigError("no buffer pool for usage %#x", uint32(usage))
	}

	if size == 0 {
		return pool.BufferAllocation{}, gpu.ConfigError("zero byte buffer allocation for usage %#x", uint32(usage))
	}

	minimal := f.cfg.BufferAllocation == OneAllocationPerBuffer
	block, err := pools[thread].RequestBufferBlock(size, minimal)
	if err != nil {
		return pool.BufferAllocation{}, err
	}
	return block.Allocate(size), nil
}

func (f *RenderFrame) RequestFence() (gpu.Handle, error) {
	return f.fencePool.RequestFence()
}

func (f *RenderFrame) RequestSemaphore() (gpu.Handle, error) {
	return f.semaphorePool.RequestSemaphore()
}

// RequestSemaphoreWithOwnership hands out a semaphore that survives Reset
// until it is released.
func (f *RenderFrame) RequestSemaphoreWithOwnership() (gpu.Handle, error) {
	return f.semaphorePool.RequestSemaphoreWithOwnership()
}

func (f *RenderFrame) ReleaseOwnedSemaphore(s gpu.Handle) {
	f.semaphorePool.ReleaseOwnedSemaphore(s)
}

func (f *RenderFrame) RenderTarget() *resources.RenderTarget {
	return f.target
}

// UpdateRenderTarget swaps the target, typically after a resize.
func (f *RenderFrame) UpdateRenderTarget(target *resources.RenderTarget) {
	f.target = target
}

func (f *RenderFrame) BufferAllocationStrategy() BufferAllocationStrategy {
	return f.cfg.BufferAllocation
}

func (f *RenderFrame) SetBufferAllocationStrategy(s BufferAllocationStrategy) {
	f.cfg.BufferAllocation = s
}

func (f *RenderFrame) DescriptorManagementStrategy() DescriptorManagementStrategy {
	return f.cfg.DescriptorManagement
}

func (f *RenderFrame) SetDescriptorManagementStrategy(s DescriptorManagementStrategy) {
	f.cfg.DescriptorManagement = s
}

func (f *RenderFrame) FencePool() *pool.FencePool {
	return f.fencePool
}

func (f *RenderFrame) SemaphorePool() *pool.SemaphorePool {
	return f.semaphorePool
}

// Destroy waits for the frame's fences and releases every native object it
// owns. The render target belongs to the caller.
func (f *RenderFrame) Destroy() error {
	if err := f.fencePool.Destroy(); err != nil {
		return errors.Wrapf(err, "destroy %s", f.name)
	}

	f.mu.Lock()
	for _, pools := range f.commandPools {
		for _, p := range pools {
			p.Destroy()
		}
	}
	clear(f.commandPools)
	f.mu.Unlock()

	f.clearDescriptors()

	for _, pools := range f.bufferPools {
		for _, p := range pools {
			p.Destroy()
		}
	}
	f.semaphorePool.Destroy()
	return nil
}
