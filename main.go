/*
Headless driver for the renderer: it brings up a device without a window,
records and submits a fixed number of frames into off-screen targets, and
persists the resource cache so the next run can warm up from it.
*/
package main

import (
	"encoding/binary"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima/engine/assets"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer"
	"github.com/spaghettifunk/anima/engine/renderer/cache"
	"github.com/spaghettifunk/anima/engine/renderer/frame"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/pool"
	"github.com/spaghettifunk/anima/engine/renderer/resources"
	"github.com/spaghettifunk/anima/engine/renderer/vulkan"
	"github.com/spaghettifunk/anima/engine/systems"
)

const colorFormat = gpu.FormatR8G8B8A8Unorm

func main() {
	configPath := flag.String("config", "config.toml", "path of the TOML configuration")
	frames := flag.Int("frames", 120, "number of frames to render, 0 renders until interrupted")
	width := flag.Uint("width", 1280, "render target width")
	height := flag.Uint("height", 720, "render target height")
	flag.Parse()

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		core.LogFatal("load config: %v", err)
	}
	core.SetLogLevel(cfg.Log.Level)

	extent := gpu.Extent2D{Width: uint32(*width), Height: uint32(*height)}
	if err := run(cfg, extent, *frames); err != nil {
		core.LogFatal("%+v", err)
	}
}

func run(cfg *core.Config, extent gpu.Extent2D, frames int) error {
	device, err := vulkan.NewHeadlessDevice(cfg.Device)
	if err != nil {
		return errors.Wrap(err, "create device")
	}
	defer device.Close()

	pipelineCacheData, _ := os.ReadFile(pipelineCachePath(cfg.Cache.BlobPath))
	pipelineCache, err := device.CreatePipelineCache(pipelineCacheData)
	if err != nil {
		return errors.Wrap(err, "create pipeline cache")
	}

	rc := cache.NewResourceCache(device)
	defer rc.Clear()
	rc.SetPipelineCache(pipelineCache)
	if cfg.Cache.Warmup {
		warmup(rc, cfg.Cache.BlobPath)
	}

	frameCfg, err := frame.ConfigFromCore(cfg.Frame)
	if err != nil {
		return err
	}
	ctx, err := renderer.New(device, device.ComputeQueue(), rc, renderer.Config{
		FramesInFlight: cfg.Frame.FramesInFlight,
		Extent:         extent,
		Frame:          frameCfg,
	}, offscreenTargets(device))
	if err != nil {
		return errors.Wrap(err, "create render context")
	}
	defer ctx.Destroy()

	shaders := assets.NewShaderLibrary(cfg.Assets.ShaderDir)
	if err := shaders.Load(); err != nil {
		return err
	}
	if cfg.Assets.Watch {
		if err := shaders.Watch(ctx); err != nil {
			return err
		}
	}
	defer shaders.Close()

	scene, err := newScene(rc, shaders)
	if err != nil {
		return err
	}

	jobs, err := systems.NewJobSystem(cfg.Frame.Threads, 1)
	if err != nil {
		return err
	}
	defer jobs.Shutdown()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

loop:
	for i := 0; frames == 0 || i < frames; i++ {
		select {
		case <-sigCh:
			core.LogInfo("interrupted after %d frames", i)
			break loop
		default:
		}
		if err := renderFrame(ctx, scene, jobs, uint32(i)); err != nil {
			return err
		}
	}

	if err := device.WaitIdle(); err != nil {
		return err
	}
	m := ctx.Metrics()
	core.LogInfo("rendered %d frames, %.1f fps, %.3f ms per frame", m.TotalFrames(), m.FPS(), m.FrameTime())
	for _, s := range rc.Stats() {
		core.LogDebug("cache %s: %d hits, %d misses, %d entries", s.Kind, s.Hits, s.Misses, s.Entries)
	}

	return persist(device, rc, pipelineCache, cfg.Cache.BlobPath)
}

func pipelineCachePath(blobPath string) string {
	return blobPath + ".pipelines"
}

func warmup(rc *cache.ResourceCache, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			core.LogWarn("read cache blob %s: %v", path, err)
		}
		return
	}
	if err := rc.Warmup(data); err != nil {
		core.LogWarn("cache blob %s not used: %v", path, err)
		return
	}
	core.LogInfo("warmed up resource cache from %s", path)
}

func persist(device *vulkan.Device, rc *cache.ResourceCache, pipelineCache gpu.Handle, path string) error {
	if path == "" {
		return nil
	}
	blob, err := rc.Serialize()
	if err != nil {
		return errors.Wrap(err, "serialize resource cache")
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	data, err := device.PipelineCacheData(pipelineCache)
	if err != nil {
		return errors.Wrap(err, "read pipeline cache")
	}
	if err := os.WriteFile(pipelineCachePath(path), data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", pipelineCachePath(path))
	}
	core.LogInfo("saved resource cache to %s (%d bytes)", path, len(blob))
	return nil
}

// offscreenTargets allocates one color image per frame.
func offscreenTargets(device *vulkan.Device) renderer.TargetFactory {
	attachment := resources.Attachment{
		Format:  colorFormat,
		Samples: gpu.SampleCount1,
		Usage:   gpu.ImageUsageColorAttachment | gpu.ImageUsageTransferSrc,
	}
	return func(extent gpu.Extent2D, index int) (*resources.RenderTarget, error) {
		view, err := device.CreateImage(extent, attachment.Format, attachment.Usage)
		if err != nil {
			return nil, err
		}
		device.SetDebugName(gpu.KindImageView, view, "offscreen color")
		return resources.NewRenderTarget(extent, []resources.Attachment{attachment}, []gpu.Handle{view})
	}
}

// scene holds what every frame renders with. The compute pipeline is only
// built when the shader library provides one.
type scene struct {
	cache      *cache.ResourceCache
	renderPass *resources.RenderPass
	compute    *resources.PipelineState
	shader     *assets.ShaderAsset
	shaders    *assets.ShaderLibrary
}

const computeShader = "frame.comp"

func newScene(rc *cache.ResourceCache, shaders *assets.ShaderLibrary) (*scene, error) {
	rp, err := rc.RequestRenderPass(
		[]resources.Attachment{{Format: colorFormat, Samples: gpu.SampleCount1, Usage: gpu.ImageUsageColorAttachment}},
		[]resources.LoadStoreInfo{{LoadOp: gpu.LoadOpClear, StoreOp: gpu.StoreOpStore}},
		nil,
	)
	if err != nil {
		return nil, err
	}
	s := &scene{cache: rc, renderPass: rp, shaders: shaders}
	if _, ok := shaders.Get(computeShader); !ok {
		core.LogInfo("no '%s' shader in the library, frames only clear", computeShader)
	}
	return s, nil
}

// computeState returns the compute pipeline state, rebuilding it when the
// shader was reloaded since the last frame.
func (s *scene) computeState() (*resources.PipelineState, error) {
	asset, ok := s.shaders.Get(computeShader)
	if !ok {
		return nil, nil
	}
	if asset == s.shader && s.compute != nil {
		return s.compute, nil
	}
	module, err := s.cache.RequestShaderModule(asset.Stage, asset.Source, asset.EntryPoint, asset.Variant("default"))
	if err != nil {
		return nil, err
	}
	layout, err := s.cache.RequestPipelineLayout([]*resources.ShaderModule{module})
	if err != nil {
		return nil, err
	}
	state := resources.NewPipelineState()
	state.SetPipelineLayout(layout)
	s.compute, s.shader = state, asset
	return state, nil
}

// renderFrame records one primary command buffer per recording thread and
// submits them together.
func renderFrame(ctx *renderer.RenderContext, s *scene, jobs *systems.JobSystem, index uint32) error {
	f, err := ctx.Begin()
	if err != nil {
		return err
	}

	if _, err := s.cache.RequestFramebuffer(f.RenderTarget(), s.renderPass); err != nil {
		return err
	}

	state, err := s.computeState()
	if err != nil {
		return err
	}
	if state != nil {
		if _, err := s.cache.RequestComputePipeline(state); err != nil {
			return err
		}
	}

	cmds := make([]*pool.CommandBuffer, jobs.Workers())
	err = jobs.RunAll(func(thread int) error {
		if state != nil {
			if err := bindFrameUniforms(f, state.PipelineLayout(), index, thread); err != nil {
				return err
			}
		}
		cmd, err := f.RequestCommandBuffer(ctx.Queue(), pool.ResetPool, gpu.CommandBufferLevelPrimary, thread)
		if err != nil {
			return err
		}
		if err := cmd.Begin(true); err != nil {
			return err
		}
		if err := cmd.End(); err != nil {
			return err
		}
		cmds[thread] = cmd
		return nil
	})
	if err != nil {
		return err
	}
	return ctx.Submit(cmds...)
}

// frameBuffers lists the buffer kinds bound per frame with the usage their
// backing allocation needs.
var frameBuffers = []struct {
	typ   resources.ShaderResourceType
	usage gpu.BufferUsage
}{
	{resources.ShaderResourceBufferUniform, gpu.BufferUsageUniform},
	{resources.ShaderResourceBufferStorage, gpu.BufferUsageStorage},
}

// bindFrameUniforms writes the frame index into transient buffers bound to
// every uniform and storage buffer of set 0.
func bindFrameUniforms(f *frame.RenderFrame, layout *resources.PipelineLayout, index uint32, thread int) error {
	if !layout.HasDescriptorSetLayout(0) {
		return nil
	}
	setLayout, err := layout.DescriptorSetLayout(0)
	if err != nil {
		return err
	}

	data := binary.LittleEndian.AppendUint32(nil, index)
	buffers := resources.BindingMap[gpu.DescriptorBufferInfo]{}
	for _, fb := range frameBuffers {
		for _, r := range layout.Resources(fb.typ, gpu.ShaderStageCompute) {
			if r.Set != 0 {
				continue
			}
			alloc, err := f.AllocateBuffer(fb.usage, max(uint64(r.Size), uint64(len(data))), thread)
			if err != nil {
				return err
			}
			if err := alloc.Update(data, 0); err != nil {
				return err
			}
			buffers[r.Binding] = map[uint32]gpu.DescriptorBufferInfo{
				0: {Buffer: alloc.Buffer(), Offset: alloc.Offset(), Range: alloc.Size()},
			}
		}
	}
	if len(buffers) == 0 {
		return nil
	}
	_, err = f.RequestDescriptorSet(setLayout, buffers, nil, setLayout.UpdateAfterBind(), thread)
	if err != nil {
		return err
	}
	return f.UpdateDescriptorSets(thread)
}
