package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

type buffer struct {
	handle vk.Buffer
	memory vk.DeviceMemory
	size   uint64
	// Persistently mapped for host-visible memory, nil otherwise.
	mapped []byte
}

// memoryProperties picks the property flags a memory usage needs.
func memoryProperties(usage gpu.MemoryUsage) vk.MemoryPropertyFlagBits {
	switch usage {
	case gpu.MemoryUsageCPUToGPU:
		return vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
	case gpu.MemoryUsageGPUToCPU:
		return vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCachedBit
	default:
		return vk.MemoryPropertyDeviceLocalBit
	}
}

func (d *Device) FindMemoryIndex(typeFilter, propertyFlags uint32) int32 {
	for i := uint32(0); i < d.memory.MemoryTypeCount; i++ {
		// Check each memory type to see if its bit is set to 1.
		memoryType := d.memory.MemoryTypes[i]
		memoryType.Deref()
		if (typeFilter&(1<<i)) != 0 && (uint32(memoryType.PropertyFlags)&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}

func (d *Device) CreateBuffer(desc *gpu.BufferDesc) (gpu.Handle, error) {
	size := max(desc.Size, 1)
	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}

	b := &buffer{size: size}
	if err := d.locks.SafeCall(BufferManagement, func() error {
		return check(vk.CreateBuffer(d.logicalDevice, &bufferInfo, nil, &b.handle))
	}); err != nil {
		return gpu.NullHandle, err
	}

	var memReqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.logicalDevice, b.handle, &memReqs)
	memReqs.Deref()

	memoryIndex := d.FindMemoryIndex(memReqs.MemoryTypeBits, uint32(memoryProperties(desc.Memory)))
	if memoryIndex < 0 {
		vk.DestroyBuffer(d.logicalDevice, b.handle, nil)
		return gpu.NullHandle, errors.Wrapf(gpu.ErrorOutOfDeviceMemory, "no memory type for usage %d", desc.Memory)
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: uint32(memoryIndex),
	}
	if err := d.locks.SafeCall(MemoryManagement, func() error {
		if err := check(vk.AllocateMemory(d.logicalDevice, &allocInfo, nil, &b.memory)); err != nil {
			return err
		}
		return check(vk.BindBufferMemory(d.logicalDevice, b.handle, b.memory, 0))
	}); err != nil {
		d.destroyBuffer(b)
		return gpu.NullHandle, err
	}

	if desc.Memory != gpu.MemoryUsageGPUOnly {
		var data unsafe.Pointer
		if err := check(vk.MapMemory(d.logicalDevice, b.memory, 0, vk.DeviceSize(size), 0, &data)); err != nil {
			d.destroyBuffer(b)
			return gpu.NullHandle, err
		}
		b.mapped = unsafe.Slice((*byte)(data), size)
	}
	return d.objects.add(gpu.KindBuffer, b), nil
}

func (d *Device) WriteBuffer(h gpu.Handle, offset uint64, data []byte) error {
	b, err := lookup[*buffer](d.objects, gpu.KindBuffer, h)
	if err != nil {
		return err
	}
	if b.mapped == nil {
		return errors.Wrapf(gpu.ErrorMemoryMapFailed, "buffer %d is not host visible", h)
	}
	if offset+uint64(len(data)) > b.size {
		return errors.Wrapf(gpu.ErrorMemoryMapFailed, "write of %d bytes at %d overflows buffer of %d", len(data), offset, b.size)
	}
	copy(b.mapped[offset:], data)
	return nil
}

func (d *Device) destroyBuffer(b *buffer) {
	_ = d.locks.SafeCall(MemoryManagement, func() error {
		if b.mapped != nil {
			vk.UnmapMemory(d.logicalDevice, b.memory)
			b.mapped = nil
		}
		if b.memory != vk.NullDeviceMemory {
			vk.FreeMemory(d.logicalDevice, b.memory, nil)
			b.memory = vk.NullDeviceMemory
		}
		return nil
	})
	if b.handle != vk.NullBuffer {
		vk.DestroyBuffer(d.logicalDevice, b.handle, nil)
		b.handle = vk.NullBuffer
	}
}
