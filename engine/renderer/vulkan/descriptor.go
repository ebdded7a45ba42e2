package vulkan

import (
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

type descriptorPool struct {
	handle vk.DescriptorPool

	mu   sync.Mutex
	sets map[gpu.Handle]struct{}
}

type descriptorSet struct {
	handle vk.DescriptorSet
	pool   gpu.Handle
}

func (d *Device) CreateDescriptorSetLayout(bindings []gpu.DescriptorSetLayoutBinding) (gpu.Handle, error) {
	vkBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	bindingFlags := make([]vk.DescriptorBindingFlags, len(bindings))
	updateAfterBind := false
	for i, b := range bindings {
		vkBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  vk.DescriptorType(b.Type),
			DescriptorCount: b.Count,
			StageFlags:      vk.ShaderStageFlags(b.Stages),
		}
		if b.Flags&gpu.DescriptorBindingUpdateAfterBind != 0 {
			bindingFlags[i] = vk.DescriptorBindingFlags(vk.DescriptorBindingUpdateAfterBindBit)
			updateAfterBind = true
		}
	}

	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vkBindings)),
		PBindings:    vkBindings,
	}
	if updateAfterBind {
		if !d.updateAfterBind {
			return gpu.NullHandle, errors.Wrap(gpu.ErrorFeatureNotPresent, "update-after-bind descriptor set layout")
		}
		flagsInfo := vk.DescriptorSetLayoutBindingFlagsCreateInfo{
			SType:         vk.StructureTypeDescriptorSetLayoutBindingFlagsCreateInfo,
			BindingCount:  uint32(len(bindingFlags)),
			PBindingFlags: bindingFlags,
		}
		ref, _ := flagsInfo.PassRef()
		layoutInfo.PNext = unsafe.Pointer(ref)
		layoutInfo.Flags = vk.DescriptorSetLayoutCreateFlags(vk.DescriptorSetLayoutCreateUpdateAfterBindPoolBit)
	}

	var layout vk.DescriptorSetLayout
	if err := check(vk.CreateDescriptorSetLayout(d.logicalDevice, &layoutInfo, nil, &layout)); err != nil {
		return gpu.NullHandle, err
	}
	return d.objects.add(gpu.KindDescriptorSetLayout, layout), nil
}

func (d *Device) CreateDescriptorPool(maxSets uint32, sizes []gpu.DescriptorPoolSize, updateAfterBind bool) (gpu.Handle, error) {
	poolSizes := make([]vk.DescriptorPoolSize, len(sizes))
	for i, s := range sizes {
		poolSizes[i] = vk.DescriptorPoolSize{
			Type:            vk.DescriptorType(s.Type),
			DescriptorCount: s.Count,
		}
	}

	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	if updateAfterBind {
		if !d.updateAfterBind {
			return gpu.NullHandle, errors.Wrap(gpu.ErrorFeatureNotPresent, "update-after-bind descriptor pool")
		}
		poolInfo.Flags |= vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateUpdateAfterBindBit)
	}

	var pool vk.DescriptorPool
	if err := check(vk.CreateDescriptorPool(d.logicalDevice, &poolInfo, nil, &pool)); err != nil {
		return gpu.NullHandle, err
	}
	return d.objects.add(gpu.KindDescriptorPool, &descriptorPool{
		handle: pool,
		sets:   make(map[gpu.Handle]struct{}),
	}), nil
}

// ResetDescriptorPool returns every set of the pool to it. The handles of those
// sets become invalid.
func (d *Device) ResetDescriptorPool(pool gpu.Handle) error {
	p, err := lookup[*descriptorPool](d.objects, gpu.KindDescriptorPool, pool)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := d.locks.SafeCall(DescriptorManagement, func() error {
		return check(vk.ResetDescriptorPool(d.logicalDevice, p.handle, 0))
	}); err != nil {
		return err
	}
	for h := range p.sets {
		d.objects.remove(h)
	}
	clear(p.sets)
	return nil
}

func (d *Device) AllocateDescriptorSet(pool, layout gpu.Handle) (gpu.Handle, error) {
	p, err := lookup[*descriptorPool](d.objects, gpu.KindDescriptorPool, pool)
	if err != nil {
		return gpu.NullHandle, err
	}
	l, err := lookup[vk.DescriptorSetLayout](d.objects, gpu.KindDescriptorSetLayout, layout)
	if err != nil {
		return gpu.NullHandle, err
	}

	allocateInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p.handle,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{l},
	}

	var set vk.DescriptorSet
	if err := d.locks.SafeCall(DescriptorManagement, func() error {
		return check(vk.AllocateDescriptorSets(d.logicalDevice, &allocateInfo, &set))
	}); err != nil {
		return gpu.NullHandle, err
	}

	h := d.objects.add(gpu.KindDescriptorSet, &descriptorSet{handle: set, pool: pool})
	p.mu.Lock()
	p.sets[h] = struct{}{}
	p.mu.Unlock()
	return h, nil
}

func (d *Device) FreeDescriptorSet(pool, set gpu.Handle) error {
	p, err := lookup[*descriptorPool](d.objects, gpu.KindDescriptorPool, pool)
	if err != nil {
		return err
	}
	s, err := lookup[*descriptorSet](d.objects, gpu.KindDescriptorSet, set)
	if err != nil {
		return err
	}
	if s.pool != pool {
		return errors.Mark(errors.Newf("descriptor set %d was not allocated from pool %d", set, pool), gpu.ErrNotFound)
	}

	if err := d.locks.SafeCall(DescriptorManagement, func() error {
		return check(vk.FreeDescriptorSets(d.logicalDevice, p.handle, 1, []vk.DescriptorSet{s.handle}))
	}); err != nil {
		return err
	}
	p.mu.Lock()
	delete(p.sets, set)
	p.mu.Unlock()
	d.objects.remove(set)
	return nil
}

func (d *Device) destroyDescriptorSet(h gpu.Handle) {
	s, err := lookup[*descriptorSet](d.objects, gpu.KindDescriptorSet, h)
	if err != nil {
		return
	}
	if err := d.FreeDescriptorSet(s.pool, h); err != nil {
		core.LogWarn("free descriptor set %d: %s", h, err)
	}
}

func (d *Device) destroyDescriptorPool(p *descriptorPool) {
	p.mu.Lock()
	for h := range p.sets {
		d.objects.remove(h)
	}
	p.sets = nil
	p.mu.Unlock()

	_ = d.locks.SafeCall(DescriptorManagement, func() error {
		vk.DestroyDescriptorPool(d.logicalDevice, p.handle, nil)
		return nil
	})
}

// UpdateDescriptorSets issues every write in one native call. Writes that
// reference unknown handles are logged and dropped.
func (d *Device) UpdateDescriptorSets(writes []gpu.DescriptorWrite) {
	vkWrites := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		set, err := lookup[*descriptorSet](d.objects, gpu.KindDescriptorSet, w.Set)
		if err != nil {
			core.LogError("descriptor write to binding %d: %s", w.Binding, err)
			continue
		}

		write := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set.handle,
			DstBinding:      w.Binding,
			DstArrayElement: w.ArrayElement,
			DescriptorType:  vk.DescriptorType(w.Type),
			DescriptorCount: 1,
		}
		switch {
		case w.Buffer != nil:
			buf, err := lookup[*buffer](d.objects, gpu.KindBuffer, w.Buffer.Buffer)
			if err != nil {
				core.LogError("descriptor write to binding %d: %s", w.Binding, err)
				continue
			}
			write.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: buf.handle,
				Offset: vk.DeviceSize(w.Buffer.Offset),
				Range:  vk.DeviceSize(w.Buffer.Range),
			}}
		case w.Image != nil:
			info := vk.DescriptorImageInfo{ImageLayout: vk.ImageLayout(w.Image.Layout)}
			if w.Image.ImageView != gpu.NullHandle {
				if info.ImageView, err = d.imageView(w.Image.ImageView); err != nil {
					core.LogError("descriptor write to binding %d: %s", w.Binding, err)
					continue
				}
			}
			if w.Image.Sampler != gpu.NullHandle {
				if info.Sampler, err = lookup[vk.Sampler](d.objects, gpu.KindSampler, w.Image.Sampler); err != nil {
					core.LogError("descriptor write to binding %d: %s", w.Binding, err)
					continue
				}
			}
			write.PImageInfo = []vk.DescriptorImageInfo{info}
		default:
			continue
		}
		vkWrites = append(vkWrites, write)
	}

	if len(vkWrites) == 0 {
		return
	}
	_ = d.locks.SafeCall(DescriptorManagement, func() error {
		vk.UpdateDescriptorSets(d.logicalDevice, uint32(len(vkWrites)), vkWrites, 0, nil)
		return nil
	})
}
