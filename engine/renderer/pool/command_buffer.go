package pool

import (
	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

type CommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY CommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

var stateNames = [...]string{
	COMMAND_BUFFER_STATE_READY:           "ready",
	COMMAND_BUFFER_STATE_RECORDING:       "recording",
	COMMAND_BUFFER_STATE_RECORDING_ENDED: "recording ended",
	COMMAND_BUFFER_STATE_SUBMITTED:       "submitted",
	COMMAND_BUFFER_STATE_NOT_ALLOCATED:   "not allocated",
}

func (s CommandBufferState) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "invalid"
}

// ErrInvalidState is returned when a command buffer is used out of order.
var ErrInvalidState = errors.New("command buffer used in the wrong state")

type CommandBuffer struct {
	Handle gpu.Handle
	Level  gpu.CommandBufferLevel
	State  CommandBufferState

	device gpu.Device
}

func (c *CommandBuffer) Begin(oneTimeSubmit bool) error {
	if c.State != COMMAND_BUFFER_STATE_READY {
		return errors.Wrapf(ErrInvalidState, "begin command buffer in state %s", c.State)
	}
	if err := c.device.BeginCommandBuffer(c.Handle, oneTimeSubmit); err != nil {
		return errors.Wrap(err, "begin command buffer")
	}
	c.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (c *CommandBuffer) End() error {
	if c.State != COMMAND_BUFFER_STATE_RECORDING {
		return errors.Wrapf(ErrInvalidState, "end command buffer in state %s", c.State)
	}
	if err := c.device.EndCommandBuffer(c.Handle); err != nil {
		return errors.Wrap(err, "end command buffer")
	}
	c.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (c *CommandBuffer) UpdateSubmitted() {
	c.State = COMMAND_BUFFER_STATE_SUBMITTED
}

// reset returns the buffer to ready. Only pools created with
// ResetIndividually may reset a single native buffer.
func (c *CommandBuffer) reset(mode ResetMode) error {
	if mode == ResetIndividually {
		if err := c.device.ResetCommandBuffer(c.Handle); err != nil {
			return errors.Wrap(err, "reset command buffer")
		}
	}
	c.State = COMMAND_BUFFER_STATE_READY
	return nil
}
