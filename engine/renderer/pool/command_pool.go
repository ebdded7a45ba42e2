package pool

import (
	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

// ResetMode selects how a command pool recycles its buffers.
type ResetMode int

const (
	// ResetPool resets the whole native pool at once.
	ResetPool ResetMode = iota
	// ResetIndividually resets every buffer on its own.
	ResetIndividually
	// AlwaysAllocate frees every buffer and allocates new ones next time.
	AlwaysAllocate
)

func (m ResetMode) String() string {
	switch m {
	case ResetPool:
		return "reset pool"
	case ResetIndividually:
		return "reset individually"
	case AlwaysAllocate:
		return "always allocate"
	}
	return "unknown"
}

// CommandPool serves the command buffers of one queue family to one
// recording thread. Buffers below the active counts were handed out since
// the last ResetPool.
type CommandPool struct {
	device      gpu.Device
	handle      gpu.Handle
	queueFamily uint32
	threadIndex int
	resetMode   ResetMode

	primary         []*CommandBuffer
	activePrimary   int
	secondary       []*CommandBuffer
	activeSecondary int
}

func NewCommandPool(device gpu.Device, queueFamily uint32, threadIndex int, mode ResetMode) (*CommandPool, error) {
	handle, err := device.CreateCommandPool(queueFamily, mode == ResetIndividually)
	if err != nil {
		return nil, gpu.NewCreationError(gpu.KindCommandPool, threadIndex, err)
	}
	return &CommandPool{
		device:      device,
		handle:      handle,
		queueFamily: queueFamily,
		threadIndex: threadIndex,
		resetMode:   mode,
	}, nil
}

func (p *CommandPool) Handle() gpu.Handle       { return p.handle }
func (p *CommandPool) QueueFamilyIndex() uint32 { return p.queueFamily }
func (p *CommandPool) ThreadIndex() int         { return p.threadIndex }
func (p *CommandPool) ResetMode() ResetMode     { return p.resetMode }

// RequestCommandBuffer reuses the next idle buffer of level or allocates a
// new one.
func (p *CommandPool) RequestCommandBuffer(level gpu.CommandBufferLevel) (*CommandBuffer, error) {
	buffers, active := &p.primary, &p.activePrimary
	if level == gpu.CommandBufferLevelSecondary {
		buffers, active = &p.secondary, &p.activeSecondary
	}

	if *active < len(*buffers) {
		cmd := (*buffers)[*active]
		*active++
		return cmd, nil
	}

	handle, err := p.device.AllocateCommandBuffer(p.handle, level)
	if err != nil {
		return nil, gpu.NewCreationError(gpu.KindCommandBuffer, len(*buffers), err)
	}
	cmd := &CommandBuffer{Handle: handle, Level: level, State: COMMAND_BUFFER_STATE_READY, device: p.device}
	*buffers = append(*buffers, cmd)
	*active++
	return cmd, nil
}

// ResetPool makes every buffer available again according to the reset mode.
func (p *CommandPool) ResetPool() error {
	switch p.resetMode {
	case ResetIndividually:
		for _, cmd := range p.all() {
			if err := cmd.reset(p.resetMode); err != nil {
				return err
			}
		}
	case ResetPool:
		if err := p.device.ResetCommandPool(p.handle); err != nil {
			return errors.Wrap(err, "reset command pool")
		}
		for _, cmd := range p.all() {
			_ = cmd.reset(p.resetMode) // no native call in this mode
		}
	case AlwaysAllocate:
		p.free()
	default:
		return gpu.ConfigError("unknown command pool reset mode %d", p.resetMode)
	}
	p.activePrimary = 0
	p.activeSecondary = 0
	return nil
}

func (p *CommandPool) all() []*CommandBuffer {
	return append(append([]*CommandBuffer(nil), p.primary...), p.secondary...)
}

func (p *CommandPool) free() {
	if all := p.all(); len(all) > 0 {
		handles := make([]gpu.Handle, 0, len(all))
		for _, cmd := range all {
			handles = append(handles, cmd.Handle)
			cmd.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
		}
		p.device.FreeCommandBuffers(p.handle, handles)
	}
	p.primary = nil
	p.secondary = nil
}

func (p *CommandPool) ActiveCount(level gpu.CommandBufferLevel) int {
	if level == gpu.CommandBufferLevelSecondary {
		return p.activeSecondary
	}
	return p.activePrimary
}

func (p *CommandPool) AllocatedCount(level gpu.CommandBufferLevel) int {
	if level == gpu.CommandBufferLevelSecondary {
		return len(p.secondary)
	}
	return len(p.primary)
}

func (p *CommandPool) Destroy() {
	p.free()
	p.device.Destroy(gpu.KindCommandPool, p.handle)
	p.handle = gpu.NullHandle
}
