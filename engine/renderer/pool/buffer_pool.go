package pool

import (
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/math"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

// BufferAllocation is a view into a block. It stays valid until the block
// is reset. The zero value is the empty allocation.
type BufferAllocation struct {
	device     gpu.Device
	buffer     gpu.Handle
	baseOffset uint64
	size       uint64
}

func (a BufferAllocation) Empty() bool {
	return a.buffer == gpu.NullHandle
}

// Update copies data into the allocation at offset.
func (a BufferAllocation) Update(data []byte, offset uint64) error {
	if a.Empty() {
		return gpu.ConfigError("update of an empty buffer allocation")
	}
	if offset+uint64(len(data)) > a.size {
		return gpu.ConfigError("writing %d bytes at offset %d overflows an allocation of %d bytes", len(data), offset, a.size)
	}
	return a.device.WriteBuffer(a.buffer, a.baseOffset+offset, data)
}

func (a BufferAllocation) Buffer() gpu.Handle { return a.buffer }
func (a BufferAllocation) Offset() uint64     { return a.baseOffset }
func (a BufferAllocation) Size() uint64       { return a.size }

// BufferBlock is one buffer carved up linearly. Allocations start at the
// current offset rounded up to the alignment the buffer usage requires.
type BufferBlock struct {
	device    gpu.Device
	buffer    gpu.Handle
	size      uint64
	alignment uint64
	offset    uint64
}

// alignmentFor picks the offset alignment of a buffer usage from the device
// limits.
func alignmentFor(props gpu.Properties, usage gpu.BufferUsage) (uint64, error) {
	var alignment uint64
	switch {
	case usage&gpu.BufferUsageUniform != 0:
		alignment = props.MinUniformBufferOffsetAlignment
	case usage&gpu.BufferUsageStorage != 0:
		alignment = props.MinStorageBufferOffsetAlignment
	case usage&(gpu.BufferUsageUniformTexel|gpu.BufferUsageStorageTexel) != 0:
		alignment = props.MinTexelBufferOffsetAlignment
	case usage&(gpu.BufferUsageIndex|gpu.BufferUsageVertex|gpu.BufferUsageIndirect) != 0:
		// No device limit applies to vertex, index and indirect data.
		alignment = 16
	default:
		return 0, gpu.ConfigError("buffer usage %#x has no known offset alignment", uint32(usage))
	}
	if alignment > 1 && !math.IsPowerOfTwo(alignment) {
		return 0, gpu.ConfigError("offset alignment %d of buffer usage %#x is not a power of two", alignment, uint32(usage))
	}
	return alignment, nil
}

func NewBufferBlock(device gpu.Device, size uint64, usage gpu.BufferUsage, memory gpu.MemoryUsage) (*BufferBlock, error) {
	alignment, err := alignmentFor(device.Properties(), usage)
	if err != nil {
		return nil, err
	}
	buffer, err := device.CreateBuffer(&gpu.BufferDesc{Size: size, Usage: usage, Memory: memory})
	if err != nil {
		return nil, err
	}
	return &BufferBlock{device: device, buffer: buffer, size: size, alignment: alignment}, nil
}

func (b *BufferBlock) AlignedOffset() uint64 {
	return math.AlignUp(b.offset, b.alignment)
}

func (b *BufferBlock) CanAllocate(size uint64) bool {
	return b.AlignedOffset()+size <= b.size
}

// Allocate returns an empty allocation when size does not fit. The caller
// has to ask the pool for another block then.
func (b *BufferBlock) Allocate(size uint64) BufferAllocation {
	if !b.CanAllocate(size) {
		return BufferAllocation{}
	}
	aligned := b.AlignedOffset()
	b.offset = aligned + size
	return BufferAllocation{device: b.device, buffer: b.buffer, baseOffset: aligned, size: size}
}

func (b *BufferBlock) Size() uint64       { return b.size }
func (b *BufferBlock) Offset() uint64     { return b.offset }
func (b *BufferBlock) Alignment() uint64  { return b.alignment }
func (b *BufferBlock) Buffer() gpu.Handle { return b.buffer }

func (b *BufferBlock) Reset() {
	b.offset = 0
}

func (b *BufferBlock) Destroy() {
	b.device.Destroy(gpu.KindBuffer, b.buffer)
	b.buffer = gpu.NullHandle
}

// BufferPool owns the blocks of one buffer usage for one thread of a frame.
type BufferPool struct {
	device    gpu.Device
	blockSize uint64
	usage     gpu.BufferUsage
	memory    gpu.MemoryUsage
	blocks    []*BufferBlock
}

func NewBufferPool(device gpu.Device, blockSize uint64, usage gpu.BufferUsage, memory gpu.MemoryUsage) *BufferPool {
	return &BufferPool{device: device, blockSize: blockSize, usage: usage, memory: memory}
}

// RequestBufferBlock returns a block with room for minimumSize bytes. With
// minimal set only a block of exactly that size qualifies, and a new block
// is sized to fit exactly, so that every allocation gets its own buffer.
func (p *BufferPool) RequestBufferBlock(minimumSize uint64, minimal bool) (*BufferBlock, error) {
	if minimumSize == 0 {
		return nil, gpu.ConfigError("buffer block request of zero bytes (%#x)", uint32(p.usage))
	}
	for _, b := range p.blocks {
		if minimal && b.Size() != minimumSize {
			continue
		}
		if b.CanAllocate(minimumSize) {
			return b, nil
		}
	}

	size := max(p.blockSize, minimumSize)
	if minimal {
		size = minimumSize
	}
	core.LogDebug("Building #%d buffer block (%#x)", len(p.blocks), uint32(p.usage))

	b, err := NewBufferBlock(p.device, size, p.usage, p.memory)
	if err != nil {
		return nil, gpu.NewCreationError(gpu.KindBuffer, len(p.blocks), err)
	}
	p.blocks = append(p.blocks, b)
	return b, nil
}

func (p *BufferPool) Blocks() int {
	return len(p.blocks)
}

func (p *BufferPool) Usage() gpu.BufferUsage {
	return p.usage
}

// Reset rewinds every block. The GPU must be done with their contents.
func (p *BufferPool) Reset() {
	for _, b := range p.blocks {
		b.Reset()
	}
}

func (p *BufferPool) Destroy() {
	for _, b := range p.blocks {
		b.Destroy()
	}
	p.blocks = nil
}
