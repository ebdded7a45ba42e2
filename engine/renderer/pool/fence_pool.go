// Package pool recycles the per-frame GPU resources of a render frame:
// fences, semaphores, linear buffer blocks and command buffers.
package pool

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

const DefaultFenceTimeout = 10 * time.Second

// FencePool hands out fences in order and never shrinks. Fences below the
// active count were handed out since the last Reset.
type FencePool struct {
	mu          sync.Mutex
	device      gpu.Device
	fences      []gpu.Handle
	activeCount int
}

func NewFencePool(device gpu.Device) *FencePool {
	return &FencePool{device: device}
}

func (p *FencePool) RequestFence() (gpu.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.activeCount < len(p.fences) {
		f := p.fences[p.activeCount]
		p.activeCount++
		return f, nil
	}

	f, err := p.device.CreateFence(false)
	if err != nil {
		return gpu.NullHandle, gpu.NewCreationError(gpu.KindFence, len(p.fences), err)
	}
	p.fences = append(p.fences, f)
	p.activeCount++
	return f, nil
}

// Wait blocks until every active fence is signaled. Failures, timeouts
// included, are marked gpu.ErrSynchronization.
func (p *FencePool) Wait(timeout time.Duration) error {
	p.mu.Lock()
	active := append([]gpu.Handle(nil), p.fences[:p.activeCount]...)
	p.mu.Unlock()

	if len(active) == 0 {
		return nil
	}
	if err := p.device.WaitForFences(active, timeout); err != nil {
		if errors.Is(err, gpu.Timeout) {
			core.LogWarn("timed out after %s waiting for %d fences", timeout, len(active))
		}
		return gpu.SyncError(err, "wait for %d fences", len(active))
	}
	return nil
}

// Reset unsignals the active fences and rewinds the pool. Only call it once
// Wait succeeded.
func (p *FencePool) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.activeCount == 0 {
		return nil
	}
	if err := p.device.ResetFences(p.fences[:p.activeCount]); err != nil {
		return gpu.SyncError(err, "reset %d fences", p.activeCount)
	}
	p.activeCount = 0
	return nil
}

func (p *FencePool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeCount
}

func (p *FencePool) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.fences)
}

// Destroy waits for the active fences before destroying every fence.
func (p *FencePool) Destroy() error {
	if err := p.Wait(DefaultFenceTimeout); err != nil {
		return err
	}
	if err := p.Reset(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range p.fences {
		p.device.Destroy(gpu.KindFence, f)
	}
	p.fences = nil
	return nil
}
