package vulkan

import (
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

type commandPool struct {
	handle vk.CommandPool
	family uint32

	mu      sync.Mutex
	buffers map[gpu.Handle]struct{}
}

type commandBuffer struct {
	handle vk.CommandBuffer
	pool   gpu.Handle
}

func (d *Device) CreateCommandPool(queueFamily uint32, resetIndividually bool) (gpu.Handle, error) {
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: queueFamily,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
	}
	if resetIndividually {
		poolCreateInfo.Flags |= vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit)
	}

	var pool vk.CommandPool
	if err := check(vk.CreateCommandPool(d.logicalDevice, &poolCreateInfo, nil, &pool)); err != nil {
		core.LogError("failed to create command pool for family %d: %s", queueFamily, err)
		return gpu.NullHandle, err
	}
	return d.objects.add(gpu.KindCommandPool, &commandPool{
		handle:  pool,
		family:  queueFamily,
		buffers: make(map[gpu.Handle]struct{}),
	}), nil
}

func (d *Device) ResetCommandPool(pool gpu.Handle) error {
	p, err := lookup[*commandPool](d.objects, gpu.KindCommandPool, pool)
	if err != nil {
		return err
	}
	return d.locks.SafeCall(CommandPoolManagement, func() error {
		return check(vk.ResetCommandPool(d.logicalDevice, p.handle, 0))
	})
}

func (d *Device) AllocateCommandBuffer(pool gpu.Handle, level gpu.CommandBufferLevel) (gpu.Handle, error) {
	p, err := lookup[*commandPool](d.objects, gpu.KindCommandPool, pool)
	if err != nil {
		return gpu.NullHandle, err
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.handle,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevel(level),
	}

	cmds := make([]vk.CommandBuffer, 1)
	if err := d.locks.SafeCall(CommandPoolManagement, func() error {
		return check(vk.AllocateCommandBuffers(d.logicalDevice, &allocateInfo, cmds))
	}); err != nil {
		core.LogError("failed to allocate command buffer: %s", err)
		return gpu.NullHandle, err
	}

	h := d.objects.add(gpu.KindCommandBuffer, &commandBuffer{handle: cmds[0], pool: pool})
	p.mu.Lock()
	p.buffers[h] = struct{}{}
	p.mu.Unlock()
	return h, nil
}

func (d *Device) ResetCommandBuffer(cmd gpu.Handle) error {
	cb, err := lookup[*commandBuffer](d.objects, gpu.KindCommandBuffer, cmd)
	if err != nil {
		return err
	}
	return check(vk.ResetCommandBuffer(cb.handle, 0))
}

func (d *Device) FreeCommandBuffers(pool gpu.Handle, cmds []gpu.Handle) {
	p, err := lookup[*commandPool](d.objects, gpu.KindCommandPool, pool)
	if err != nil {
		core.LogWarn("free command buffers: %s", err)
		return
	}

	handles := make([]vk.CommandBuffer, 0, len(cmds))
	p.mu.Lock()
	for _, h := range cmds {
		o, ok := d.objects.remove(h)
		if !ok {
			continue
		}
		handles = append(handles, o.value.(*commandBuffer).handle)
		delete(p.buffers, h)
	}
	p.mu.Unlock()

	if len(handles) == 0 {
		return
	}
	_ = d.locks.SafeCall(CommandPoolManagement, func() error {
		vk.FreeCommandBuffers(d.logicalDevice, p.handle, uint32(len(handles)), handles)
		return nil
	})
}

func (d *Device) destroyCommandBuffer(h gpu.Handle) {
	cb, err := lookup[*commandBuffer](d.objects, gpu.KindCommandBuffer, h)
	if err != nil {
		return
	}
	d.FreeCommandBuffers(cb.pool, []gpu.Handle{h})
}

// destroyCommandPool also drops the registry entries of the buffers the pool
// still owns, since the driver frees them with the pool.
func (d *Device) destroyCommandPool(p *commandPool) {
	p.mu.Lock()
	for h := range p.buffers {
		d.objects.remove(h)
	}
	p.buffers = nil
	p.mu.Unlock()

	_ = d.locks.SafeCall(CommandPoolManagement, func() error {
		vk.DestroyCommandPool(d.logicalDevice, p.handle, nil)
		return nil
	})
}

func (d *Device) BeginCommandBuffer(cmd gpu.Handle, oneTimeSubmit bool) error {
	cb, err := lookup[*commandBuffer](d.objects, gpu.KindCommandBuffer, cmd)
	if err != nil {
		return err
	}

	beginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: 0,
	}
	if oneTimeSubmit {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}

	if err := check(vk.BeginCommandBuffer(cb.handle, beginInfo)); err != nil {
		core.LogError("failed to begin command buffer: %s", err)
		return err
	}
	return nil
}

func (d *Device) EndCommandBuffer(cmd gpu.Handle) error {
	cb, err := lookup[*commandBuffer](d.objects, gpu.KindCommandBuffer, cmd)
	if err != nil {
		return err
	}
	if err := check(vk.EndCommandBuffer(cb.handle)); err != nil {
		core.LogError("failed to end command buffer: %s", err)
		return err
	}
	return nil
}

func (d *Device) Submit(queue gpu.Queue, info *gpu.SubmitInfo, fence gpu.Handle) error {
	q, err := lookup[vk.Queue](d.objects, gpu.KindUnknown, queue.Handle)
	if err != nil {
		return err
	}

	cmds := make([]vk.CommandBuffer, len(info.CommandBuffers))
	for i, h := range info.CommandBuffers {
		cb, err := lookup[*commandBuffer](d.objects, gpu.KindCommandBuffer, h)
		if err != nil {
			return err
		}
		cmds[i] = cb.handle
	}
	waits, err := lookupAll[vk.Semaphore](d.objects, gpu.KindSemaphore, info.WaitSemaphores)
	if err != nil {
		return err
	}
	signals, err := lookupAll[vk.Semaphore](d.objects, gpu.KindSemaphore, info.SignalSemaphores)
	if err != nil {
		return err
	}
	stages := make([]vk.PipelineStageFlags, len(waits))
	for i := range stages {
		stages[i] = vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
		if i < len(info.WaitStages) {
			stages[i] = vk.PipelineStageFlags(info.WaitStages[i])
		}
	}

	var vkFence vk.Fence
	if fence != gpu.NullHandle {
		if vkFence, err = lookup[vk.Fence](d.objects, gpu.KindFence, fence); err != nil {
			return err
		}
	}

	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(waits)),
		PWaitSemaphores:      waits,
		PWaitDstStageMask:    stages,
		CommandBufferCount:   uint32(len(cmds)),
		PCommandBuffers:      cmds,
		SignalSemaphoreCount: uint32(len(signals)),
		PSignalSemaphores:    signals,
	}

	return d.locks.SafeQueueCall(queue.FamilyIndex, func() error {
		if err := check(vk.QueueSubmit(q, 1, []vk.SubmitInfo{submitInfo}, vkFence)); err != nil {
			core.LogError("failed submit info to queue: %s", err)
			return err
		}
		return nil
	})
}
