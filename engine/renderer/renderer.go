// Package renderer drives the frames in flight of an off-screen context.
// Every frame cycle goes through Begin, which blocks until the GPU released
// the frame's previous submission, and Submit, which hands the recorded
// command buffers to the queue and puts the frame back into the ring.
package renderer

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima/engine/containers"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/cache"
	"github.com/spaghettifunk/anima/engine/renderer/frame"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/pool"
	"github.com/spaghettifunk/anima/engine/renderer/resources"
)

// TargetFactory builds the render target of frame index at extent. The
// caller owns the images behind the returned views.
type TargetFactory func(extent gpu.Extent2D, index int) (*resources.RenderTarget, error)

type Config struct {
	FramesInFlight int
	Extent         gpu.Extent2D
	Frame          frame.Config
}

type RenderContext struct {
	mu sync.Mutex

	device  gpu.Device
	queue   gpu.Queue
	cache   *cache.ResourceCache
	targets TargetFactory
	extent  gpu.Extent2D

	frames []*frame.RenderFrame
	ring   *containers.RingQueue[*frame.RenderFrame]
	active *frame.RenderFrame

	clock   *core.Clock
	metrics *core.FrameMetrics
}

func New(device gpu.Device, queue gpu.Queue, rc *cache.ResourceCache, cfg Config, targets TargetFactory) (*RenderContext, error) {
	if cfg.FramesInFlight <= 0 {
		return nil, gpu.ConfigError("a render context needs at least one frame in flight, got %d", cfg.FramesInFlight)
	}

	c := &RenderContext{
		device:  device,
		queue:   queue,
		cache:   rc,
		targets: targets,
		extent:  cfg.Extent,
		ring:    containers.NewRingQueue[*frame.RenderFrame](cfg.FramesInFlight),
		clock:   core.NewClock(),
		metrics: core.NewFrameMetrics(),
	}

	for i := 0; i < cfg.FramesInFlight; i++ {
		target, err := c.newTarget(cfg.Extent, i)
		if err != nil {
			c.destroyFrames()
			return nil, err
		}
		f, err := frame.New(device, target, cfg.Frame)
		if err != nil {
			c.destroyFrames()
			return nil, err
		}
		c.frames = append(c.frames, f)
		if err := c.ring.Enqueue(f); err != nil {
			c.destroyFrames()
			return nil, errors.Wrap(err, "queue render frame")
		}
	}

	core.LogInfo("render context ready with %d frames in flight at %dx%d", cfg.FramesInFlight, cfg.Extent.Width, cfg.Extent.Height)
	return c, nil
}

func (c *RenderContext) newTarget(extent gpu.Extent2D, index int) (*resources.RenderTarget, error) {
	if c.targets == nil {
		return nil, nil
	}
	target, err := c.targets(extent, index)
	if err != nil {
		return nil, errors.Wrapf(err, "create render target of frame %d", index)
	}
	return target, nil
}

// Begin activates the next frame of the ring. It blocks until the GPU is
// done with that frame's previous submission, which bounds how far the
// recording may run ahead of the GPU.
func (c *RenderContext) Begin() (*frame.RenderFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return nil, core.ErrFrameActive
	}
	next, err := c.ring.Peek()
	if err != nil {
		return nil, errors.Wrap(err, "next render frame")
	}
	if err := next.Reset(); err != nil {
		core.LogError("failed to reset %s: %v", next.Name(), err)
		return nil, err
	}
	if _, err := c.ring.Dequeue(); err != nil {
		return nil, errors.Wrap(err, "next render frame")
	}

	c.active = next
	c.clock.Start()
	return next, nil
}

// ActiveFrame returns the frame between Begin and Submit.
func (c *RenderContext) ActiveFrame() (*frame.RenderFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil, core.ErrFrameNotActive
	}
	return c.active, nil
}

// Submit sends the recorded command buffers, signaling a fence of the
// active frame, and returns the frame to the ring. A failed submission
// keeps the frame active.
func (c *RenderContext) Submit(cmds ...*pool.CommandBuffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return core.ErrFrameNotActive
	}

	handles := make([]gpu.Handle, 0, len(cmds))
	for _, cmd := range cmds {
		if cmd.State != pool.COMMAND_BUFFER_STATE_RECORDING_ENDED {
			return errors.Wrapf(pool.ErrInvalidState, "submit command buffer in state %s", cmd.State)
		}
		handles = append(handles, cmd.Handle)
	}

	fence, err := c.active.RequestFence()
	if err != nil {
		return err
	}
	if err := c.device.Submit(c.queue, &gpu.SubmitInfo{CommandBuffers: handles}, fence); err != nil {
		return errors.Wrapf(err, "submit %s", c.active.Name())
	}
	for _, cmd := range cmds {
		cmd.UpdateSubmitted()
	}

	if err := c.ring.Enqueue(c.active); err != nil {
		return errors.Wrap(err, "return render frame")
	}
	c.active = nil

	c.clock.Update()
	c.metrics.Update(c.clock.Elapsed())
	c.clock.Stop()
	return nil
}

// Resize recreates the render target of every frame at extent. Cached
// framebuffers are dropped and cached descriptor sets sampling the old
// views are rebound to the new ones.
func (c *RenderContext) Resize(extent gpu.Extent2D) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return core.ErrFrameActive
	}
	if extent == c.extent {
		return nil
	}
	if err := c.device.WaitIdle(); err != nil {
		return errors.Wrap(err, "wait idle before resize")
	}

	// Every target is built before anything is swapped, so a failure leaves
	// the frames, framebuffers and descriptor sets as they were.
	targets := make([]*resources.RenderTarget, len(c.frames))
	var oldViews, newViews []gpu.Handle
	for i, f := range c.frames {
		target, err := c.newTarget(extent, i)
		if err != nil {
			return err
		}
		if old := f.RenderTarget(); old != nil && target != nil {
			if len(old.Views) != len(target.Views) {
				return gpu.ConfigError("frame %d render target changed from %d to %d views", i, len(old.Views), len(target.Views))
			}
			oldViews = append(oldViews, old.Views...)
			newViews = append(newViews, target.Views...)
		}
		targets[i] = target
	}

	c.cache.ClearFramebuffers()
	c.extent = extent
	for i, f := range c.frames {
		f.UpdateRenderTarget(targets[i])
	}

	core.LogDebug("resized render context to %dx%d", extent.Width, extent.Height)
	return c.cache.UpdateDescriptorSets(oldViews, newViews)
}

// ReloadShaders drops every pipeline once the device is idle, so that the
// next request builds them from the current shader modules.
func (c *RenderContext) ReloadShaders() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.device.WaitIdle(); err != nil {
		return errors.Wrap(err, "wait idle before shader reload")
	}
	c.cache.ClearPipelines()
	core.LogInfo("shaders reloaded, pipelines will be rebuilt on demand")
	return nil
}

func (c *RenderContext) Device() gpu.Device          { return c.device }
func (c *RenderContext) Queue() gpu.Queue            { return c.queue }
func (c *RenderContext) Cache() *cache.ResourceCache { return c.cache }
func (c *RenderContext) Metrics() *core.FrameMetrics { return c.metrics }
func (c *RenderContext) FramesInFlight() int         { return len(c.frames) }

func (c *RenderContext) Extent() gpu.Extent2D {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.extent
}

func (c *RenderContext) destroyFrames() {
	for _, f := range c.frames {
		if err := f.Destroy(); err != nil {
			core.LogError("failed to destroy %s: %v", f.Name(), err)
		}
	}
	c.frames = nil
}

// Destroy waits for the device, then releases the frames and every cached
// object.
func (c *RenderContext) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.device.WaitIdle(); err != nil {
		return errors.Wrap(err, "wait idle before destroy")
	}
	c.destroyFrames()
	c.active = nil
	c.cache.Clear()
	return nil
}
