package renderer

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/cache"
	"github.com/spaghettifunk/anima/engine/renderer/frame"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/anima/engine/renderer/pool"
	"github.com/spaghettifunk/anima/engine/renderer/resources"
)

var (
	queue       = gpu.Queue{Handle: 1, FamilyIndex: 0, Flags: gpu.QueueGraphics | gpu.QueueCompute}
	colorTarget = []resources.Attachment{{Format: gpu.FormatR8G8B8A8Unorm, Samples: gpu.SampleCount1, Usage: gpu.ImageUsageColorAttachment | gpu.ImageUsageSampled}}
)

// viewFor derives a distinct fake image view per extent and frame.
func viewFor(extent gpu.Extent2D, index int) gpu.Handle {
	return gpu.Handle(100_000 + extent.Width*100 + uint32(index))
}

func targets(extent gpu.Extent2D, index int) (*resources.RenderTarget, error) {
	return resources.NewRenderTarget(extent, colorTarget, []gpu.Handle{viewFor(extent, index)})
}

func newContext(t *testing.T, device *gputest.Device, framesInFlight int) *RenderContext {
	t.Helper()
	cfg := Config{
		FramesInFlight: framesInFlight,
		Extent:         gpu.Extent2D{Width: 64, Height: 64},
		Frame:          frame.DefaultConfig(),
	}
	cfg.Frame.FenceTimeout = time.Second
	c, err := New(device, queue, cache.NewResourceCache(device), cfg, targets)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func recorded(t *testing.T, f *frame.RenderFrame) *pool.CommandBuffer {
	t.Helper()
	cmd, err := f.RequestCommandBuffer(queue, pool.ResetPool, gpu.CommandBufferLevelPrimary, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := cmd.Begin(true); err != nil {
		t.Fatal(err)
	}
	if err := cmd.End(); err != nil {
		t.Fatal(err)
	}
	return cmd
}

func TestBeginSubmitCycle(t *testing.T) {
	device := gputest.New()
	c := newContext(t, device, 2)

	if err := c.Submit(); !errors.Is(err, core.ErrFrameNotActive) {
		t.Fatalf("submit without a frame: %v", err)
	}

	first, err := c.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Begin(); !errors.Is(err, core.ErrFrameActive) {
		t.Errorf("second begin: %v", err)
	}
	if active, _ := c.ActiveFrame(); active != first {
		t.Error("active frame mismatch")
	}

	cmd, err := first.RequestCommandBuffer(queue, pool.ResetPool, gpu.CommandBufferLevelPrimary, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Submit(cmd); !errors.Is(err, pool.ErrInvalidState) {
		t.Errorf("submitting an unrecorded buffer: %v", err)
	}
	if err := cmd.Begin(true); err != nil {
		t.Fatal(err)
	}
	if err := cmd.End(); err != nil {
		t.Fatal(err)
	}
	if err := c.Submit(cmd); err != nil {
		t.Fatal(err)
	}
	if cmd.State != pool.COMMAND_BUFFER_STATE_SUBMITTED {
		t.Errorf("command buffer state = %s", cmd.State)
	}
	if _, err := c.ActiveFrame(); !errors.Is(err, core.ErrFrameNotActive) {
		t.Error("frame still active after submit")
	}

	second, err := c.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Fatal("ring handed out the same frame twice in a row")
	}
	if err := c.Submit(recorded(t, second)); err != nil {
		t.Fatal(err)
	}

	again, err := c.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if again != first {
		t.Error("ring did not cycle back to the first frame")
	}
	if cmd.State != pool.COMMAND_BUFFER_STATE_READY {
		t.Errorf("command buffer of the recycled frame is %s", cmd.State)
	}
	if device.Submits() != 2 || c.Metrics().TotalFrames() != 2 {
		t.Errorf("submits %d, frames %d", device.Submits(), c.Metrics().TotalFrames())
	}
}

func TestBeginWaitsForFrameInFlight(t *testing.T) {
	const delay = 40 * time.Millisecond
	device := gputest.New()
	device.SetSubmitDelay(delay)
	c := newContext(t, device, 1)

	f, err := c.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Submit(recorded(t, f)); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if _, err := c.Begin(); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < delay {
		t.Errorf("begin returned after %s while the GPU still owned the frame", elapsed)
	}
}

func TestBeginPropagatesHungFrame(t *testing.T) {
	device := gputest.New()
	device.SetAutoSignal(false)
	cfg := Config{FramesInFlight: 1, Extent: gpu.Extent2D{Width: 8, Height: 8}, Frame: frame.DefaultConfig()}
	cfg.Frame.FenceTimeout = 10 * time.Millisecond
	c, err := New(device, queue, cache.NewResourceCache(device), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	f, _ := c.Begin()
	if err := c.Submit(recorded(t, f)); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Begin(); !errors.Is(err, gpu.ErrSynchronization) {
		t.Fatalf("got %v, want synchronization error", err)
	}
	if _, err := c.ActiveFrame(); !errors.Is(err, core.ErrFrameNotActive) {
		t.Error("hung frame became active")
	}
}

func TestResizeRebindsDescriptorSets(t *testing.T) {
	device := gputest.New()
	c := newContext(t, device, 2)
	rc := c.Cache()
	small := c.Extent()

	rp, err := rc.RequestRenderPass(colorTarget, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	f, _ := c.Begin()
	if _, err := rc.RequestFramebuffer(f.RenderTarget(), rp); err != nil {
		t.Fatal(err)
	}
	layout, err := rc.RequestDescriptorSetLayout(0, nil, []resources.ShaderResource{
		{Name: "previous", Type: resources.ShaderResourceImageSampler, Binding: 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	set, err := rc.RequestDescriptorSet(layout, nil, resources.BindingMap[gpu.DescriptorImageInfo]{
		0: {0: {ImageView: viewFor(small, 1), Layout: gpu.ImageLayoutShaderReadOnlyOptimal}},
	})
	if err != nil {
		t.Fatal(err)
	}

	large := gpu.Extent2D{Width: 128, Height: 128}
	if err := c.Resize(large); !errors.Is(err, core.ErrFrameActive) {
		t.Errorf("resize with an active frame: %v", err)
	}
	if err := c.Submit(recorded(t, f)); err != nil {
		t.Fatal(err)
	}
	if err := c.Resize(large); err != nil {
		t.Fatal(err)
	}

	if device.WaitIdles() != 1 {
		t.Errorf("wait idles = %d", device.WaitIdles())
	}
	if device.Live(gpu.KindFramebuffer) != 0 {
		t.Error("framebuffers of the old extent survived")
	}
	if got := set.ImageInfos()[0][0].ImageView; got != viewFor(large, 1) {
		t.Errorf("descriptor set samples view %d, want %d", got, viewFor(large, 1))
	}
	if again, _ := rc.RequestDescriptorSet(layout, nil, set.ImageInfos()); again != set {
		t.Error("rebound set not found under its new payload")
	}
	if f.RenderTarget().Extent != large {
		t.Errorf("frame target extent = %+v", f.RenderTarget().Extent)
	}

	if err := c.Resize(large); err != nil || device.WaitIdles() != 1 {
		t.Error("resize to the current extent was not a no-op")
	}
}

func TestResizeFailureKeepsTargets(t *testing.T) {
	device := gputest.New()
	broken := gpu.Extent2D{Width: 256, Height: 256}
	failing := func(extent gpu.Extent2D, index int) (*resources.RenderTarget, error) {
		if extent == broken && index == 1 {
			return nil, gpu.ErrorOutOfDeviceMemory
		}
		return targets(extent, index)
	}
	cfg := Config{FramesInFlight: 2, Extent: gpu.Extent2D{Width: 64, Height: 64}, Frame: frame.DefaultConfig()}
	c, err := New(device, queue, cache.NewResourceCache(device), cfg, failing)
	if err != nil {
		t.Fatal(err)
	}
	rc := c.Cache()
	small := c.Extent()

	rp, err := rc.RequestRenderPass(colorTarget, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rc.RequestFramebuffer(c.frames[0].RenderTarget(), rp); err != nil {
		t.Fatal(err)
	}
	layout, err := rc.RequestDescriptorSetLayout(0, nil, []resources.ShaderResource{
		{Name: "previous", Type: resources.ShaderResourceImageSampler, Binding: 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	set, err := rc.RequestDescriptorSet(layout, nil, resources.BindingMap[gpu.DescriptorImageInfo]{
		0: {0: {ImageView: viewFor(small, 0), Layout: gpu.ImageLayoutShaderReadOnlyOptimal}},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Resize(broken); !errors.Is(err, gpu.ErrorOutOfDeviceMemory) {
		t.Fatalf("got %v, want the factory error", err)
	}
	if c.Extent() != small {
		t.Errorf("extent = %+v after a failed resize", c.Extent())
	}
	for i, f := range c.frames {
		if got := f.RenderTarget().Views[0]; got != viewFor(small, i) {
			t.Errorf("frame %d samples view %d, want the old %d", i, got, viewFor(small, i))
		}
	}
	if device.Live(gpu.KindFramebuffer) != 1 {
		t.Error("a failed resize dropped the cached framebuffers")
	}
	if got := set.ImageInfos()[0][0].ImageView; got != viewFor(small, 0) {
		t.Errorf("descriptor set rebound to %d by a failed resize", got)
	}

	large := gpu.Extent2D{Width: 128, Height: 128}
	if err := c.Resize(large); err != nil {
		t.Fatal(err)
	}
	if got := set.ImageInfos()[0][0].ImageView; got != viewFor(large, 0) {
		t.Errorf("descriptor set samples view %d after resize, want %d", got, viewFor(large, 0))
	}
}

func TestReloadShadersDropsPipelines(t *testing.T) {
	device := gputest.New()
	c := newContext(t, device, 2)
	rc := c.Cache()

	comp, err := rc.RequestShaderModule(gpu.ShaderStageCompute, &resources.ShaderSource{
		Name: "blur.comp",
		Code: []uint32{0x07230203, 9},
		Resources: []resources.ShaderResource{
			{Name: "Pixels", Type: resources.ShaderResourceBufferStorage, Binding: 0},
		},
	}, "main", nil)
	if err != nil {
		t.Fatal(err)
	}
	layout, err := rc.RequestPipelineLayout([]*resources.ShaderModule{comp})
	if err != nil {
		t.Fatal(err)
	}
	state := resources.NewPipelineState()
	state.SetPipelineLayout(layout)
	if _, err := rc.RequestComputePipeline(state); err != nil {
		t.Fatal(err)
	}

	if err := c.ReloadShaders(); err != nil {
		t.Fatal(err)
	}
	if device.WaitIdles() != 1 || device.Live(gpu.KindComputePipeline) != 0 {
		t.Errorf("wait idles %d, live pipelines %d", device.WaitIdles(), device.Live(gpu.KindComputePipeline))
	}
	if device.Live(gpu.KindPipelineLayout) != 1 {
		t.Error("shader reload dropped the pipeline layout")
	}

	if _, err := rc.RequestComputePipeline(state); err != nil {
		t.Fatal(err)
	}
	if device.Created(gpu.KindComputePipeline) != 2 {
		t.Error("pipeline was not rebuilt after the reload")
	}
}

func TestDestroyReleasesFramesAndCache(t *testing.T) {
	device := gputest.New()
	c := newContext(t, device, 3)

	for i := 0; i < 4; i++ {
		f, err := c.Begin()
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.AllocateBuffer(gpu.BufferUsageUniform, 128, 0); err != nil {
			t.Fatal(err)
		}
		if err := c.Submit(recorded(t, f)); err != nil {
			t.Fatal(err)
		}
	}

	if err := c.Destroy(); err != nil {
		t.Fatal(err)
	}
	for _, kind := range []gpu.ObjectKind{gpu.KindFence, gpu.KindCommandPool, gpu.KindCommandBuffer, gpu.KindBuffer} {
		if n := device.Live(kind); n != 0 {
			t.Errorf("%d %s objects leaked", n, kind)
		}
	}
}

func TestNewRejectsEmptyRing(t *testing.T) {
	device := gputest.New()
	_, err := New(device, queue, cache.NewResourceCache(device), Config{Frame: frame.DefaultConfig()}, nil)
	if !errors.Is(err, gpu.ErrConfiguration) {
		t.Errorf("got %v, want configuration error", err)
	}
}
