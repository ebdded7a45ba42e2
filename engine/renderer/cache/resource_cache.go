package cache

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/resources"
)

// ResourceCache owns every deduplicated object built on a device. Each
// object kind has its own Map, so building a pipeline never waits on a
// render pass lookup.
type ResourceCache struct {
	device gpu.Device

	pipelineCacheMu sync.RWMutex
	pipelineCache   gpu.Handle

	shaderModules        *Map[*resources.ShaderModule]
	pipelineLayouts      *Map[*resources.PipelineLayout]
	descriptorSetLayouts *Map[*resources.DescriptorSetLayout]
	descriptorPools      *Map[*resources.DescriptorPool]
	descriptorSets       *Map[*resources.DescriptorSet]
	renderPasses         *Map[*resources.RenderPass]
	graphicsPipelines    *Map[*resources.GraphicsPipeline]
	computePipelines     *Map[*resources.ComputePipeline]
	framebuffers         *Map[*resources.Framebuffer]

	recorder *recorder
}

func NewResourceCache(device gpu.Device) *ResourceCache {
	return &ResourceCache{
		device:               device,
		shaderModules:        NewMap[*resources.ShaderModule](gpu.KindShaderModule),
		pipelineLayouts:      NewMap[*resources.PipelineLayout](gpu.KindPipelineLayout),
		descriptorSetLayouts: NewMap[*resources.DescriptorSetLayout](gpu.KindDescriptorSetLayout),
		descriptorPools:      NewMap[*resources.DescriptorPool](gpu.KindDescriptorPool),
		descriptorSets:       NewMap[*resources.DescriptorSet](gpu.KindDescriptorSet),
		renderPasses:         NewMap[*resources.RenderPass](gpu.KindRenderPass),
		graphicsPipelines:    NewMap[*resources.GraphicsPipeline](gpu.KindGraphicsPipeline),
		computePipelines:     NewMap[*resources.ComputePipeline](gpu.KindComputePipeline),
		framebuffers:         NewMap[*resources.Framebuffer](gpu.KindFramebuffer),
		recorder:             newRecorder(),
	}
}

func (c *ResourceCache) Device() gpu.Device {
	return c.device
}

// SetPipelineCache sets the native pipeline cache handed to every pipeline
// built from now on.
func (c *ResourceCache) SetPipelineCache(h gpu.Handle) {
	c.pipelineCacheMu.Lock()
	defer c.pipelineCacheMu.Unlock()
	c.pipelineCache = h
}

func (c *ResourceCache) PipelineCache() gpu.Handle {
	c.pipelineCacheMu.RLock()
	defer c.pipelineCacheMu.RUnlock()
	return c.pipelineCache
}

func (c *ResourceCache) RequestShaderModule(stage gpu.ShaderStage, source *resources.ShaderSource, entryPoint string, variant *resources.ShaderVariant) (*resources.ShaderModule, error) {
	if entryPoint == "" {
		entryPoint = "main"
	}
	fp := resources.ShaderModuleKey(stage, source, entryPoint, variant)
	return c.shaderModules.Request(fp, func() (*resources.ShaderModule, error) {
		m, err := resources.NewShaderModule(c.device, stage, source, entryPoint, variant)
		if err == nil {
			c.recorder.shaderModule(m, stage, source, entryPoint, variant)
		}
		return m, err
	})
}

func (c *ResourceCache) RequestDescriptorSetLayout(setIndex uint32, modules []*resources.ShaderModule, res []resources.ShaderResource) (*resources.DescriptorSetLayout, error) {
	fp := resources.DescriptorSetLayoutKey(setIndex, modules, res)
	return c.descriptorSetLayouts.Request(fp, func() (*resources.DescriptorSetLayout, error) {
		return resources.NewDescriptorSetLayout(c.device, setIndex, modules, res)
	})
}

func (c *ResourceCache) RequestPipelineLayout(modules []*resources.ShaderModule) (*resources.PipelineLayout, error) {
	fp := resources.PipelineLayoutKey(modules)
	return c.pipelineLayouts.Request(fp, func() (*resources.PipelineLayout, error) {
		l, err := resources.NewPipelineLayout(c.device, c, modules)
		if err == nil {
			c.recorder.pipelineLayout(l)
		}
		return l, err
	})
}

func (c *ResourceCache) RequestDescriptorPool(layout *resources.DescriptorSetLayout, poolSize uint32) (*resources.DescriptorPool, error) {
	return RequestDescriptorPool(c.device, c.descriptorPools, layout, poolSize)
}

// RequestDescriptorSet first resolves the cached pool of layout, then the
// set allocated from it for this exact payload.
func (c *ResourceCache) RequestDescriptorSet(layout *resources.DescriptorSetLayout, buffers resources.BindingMap[gpu.DescriptorBufferInfo], images resources.BindingMap[gpu.DescriptorImageInfo]) (*resources.DescriptorSet, error) {
	pool, err := c.RequestDescriptorPool(layout, resources.DefaultMaxSetsPerPool)
	if err != nil {
		return nil, err
	}
	return RequestDescriptorSet(c.device, c.descriptorSets, layout, pool, buffers, images)
}

func (c *ResourceCache) RequestRenderPass(attachments []resources.Attachment, loadStore []resources.LoadStoreInfo, subpasses []resources.SubpassInfo) (*resources.RenderPass, error) {
	fp := resources.RenderPassKey(attachments, loadStore, subpasses)
	return c.renderPasses.Request(fp, func() (*resources.RenderPass, error) {
		rp, err := resources.NewRenderPass(c.device, attachments, loadStore, subpasses)
		if err == nil {
			c.recorder.renderPass(rp, attachments, loadStore, subpasses)
		}
		return rp, err
	})
}

func (c *ResourceCache) RequestGraphicsPipeline(state *resources.PipelineState) (*resources.GraphicsPipeline, error) {
	fp := resources.PipelineKey(state)
	return c.graphicsPipelines.Request(fp, func() (*resources.GraphicsPipeline, error) {
		p, err := resources.NewGraphicsPipeline(c.device, c.PipelineCache(), state)
		if err == nil {
			c.recorder.graphicsPipeline(p.State)
		}
		return p, err
	})
}

func (c *ResourceCache) RequestComputePipeline(state *resources.PipelineState) (*resources.ComputePipeline, error) {
	fp := resources.PipelineKey(state)
	return c.computePipelines.Request(fp, func() (*resources.ComputePipeline, error) {
		p, err := resources.NewComputePipeline(c.device, c.PipelineCache(), state)
		if err == nil {
			c.recorder.computePipeline(p.State)
		}
		return p, err
	})
}

func (c *ResourceCache) RequestFramebuffer(rt *resources.RenderTarget, rp *resources.RenderPass) (*resources.Framebuffer, error) {
	fp := resources.FramebufferKey(rt, rp)
	return c.framebuffers.Request(fp, func() (*resources.Framebuffer, error) {
		return resources.NewFramebuffer(c.device, rt, rp)
	})
}

// UpdateDescriptorSets points every cached descriptor set that samples
// oldViews[i] at newViews[i] instead, in one batched native update, and
// moves the rebound sets to the fingerprint of their new payload. A rebound
// set whose new payload is already cached is returned to its pool.
func (c *ResourceCache) UpdateDescriptorSets(oldViews, newViews []gpu.Handle) error {
	if len(oldViews) != len(newViews) {
		return gpu.ConfigError("got %d old image views but %d new ones", len(oldViews), len(newViews))
	}
	views := make(map[gpu.Handle]gpu.Handle, len(oldViews))
	for i, old := range oldViews {
		views[old] = newViews[i]
	}

	pending := make(map[*resources.DescriptorSet][]gpu.DescriptorWrite)
	var dropped []*resources.DescriptorSet
	moved := c.descriptorSets.Rekey(func(set *resources.DescriptorSet) (uint64, bool) {
		rewritten := set.RebindImageViews(views)
		if rewritten == nil {
			return set.ID, false
		}
		pending[set] = rewritten
		return set.ID, true
	}, func(set *resources.DescriptorSet) {
		delete(pending, set)
		dropped = append(dropped, set)
	})

	var writes []gpu.DescriptorWrite
	for _, w := range pending {
		writes = append(writes, w...)
	}
	if len(writes) > 0 {
		c.device.UpdateDescriptorSets(writes)
	}

	var err error
	for _, set := range dropped {
		err = errors.CombineErrors(err, set.Pool().Free(set.Handle))
	}
	core.LogDebug("rebound %d descriptor sets with %d writes, freed %d duplicates", moved, len(writes), len(dropped))
	return err
}

// ClearPipelines destroys every pipeline. The device must be idle.
func (c *ResourceCache) ClearPipelines() {
	c.graphicsPipelines.Clear(func(p *resources.GraphicsPipeline) { p.Destroy(c.device) })
	c.computePipelines.Clear(func(p *resources.ComputePipeline) { p.Destroy(c.device) })
}

// ClearFramebuffers destroys every framebuffer. The device must be idle.
func (c *ResourceCache) ClearFramebuffers() {
	c.framebuffers.Clear(func(f *resources.Framebuffer) { f.Destroy(c.device) })
}

// Clear destroys every cached object, dependents before what they were
// built from. The device must be idle.
func (c *ResourceCache) Clear() {
	// Sets go away with their pools.
	c.descriptorSets.Clear(nil)
	c.descriptorPools.Clear(func(p *resources.DescriptorPool) { p.Destroy() })
	c.ClearFramebuffers()
	c.ClearPipelines()
	c.renderPasses.Clear(func(rp *resources.RenderPass) { rp.Destroy(c.device) })
	c.pipelineLayouts.Clear(func(l *resources.PipelineLayout) { l.Destroy(c.device) })
	c.descriptorSetLayouts.Clear(func(l *resources.DescriptorSetLayout) { l.Destroy(c.device) })
	c.shaderModules.Clear(func(m *resources.ShaderModule) { m.Destroy(c.device) })
	c.recorder.reset()
}

func (c *ResourceCache) Stats() []KindStats {
	return []KindStats{
		c.shaderModules.Stats(),
		c.descriptorSetLayouts.Stats(),
		c.pipelineLayouts.Stats(),
		c.descriptorPools.Stats(),
		c.descriptorSets.Stats(),
		c.renderPasses.Stats(),
		c.graphicsPipelines.Stats(),
		c.computePipelines.Stats(),
		c.framebuffers.Stats(),
	}
}

// RequestDescriptorPool resolves the pool of layout in pools. Render frames
// use it with their own per-thread maps.
func RequestDescriptorPool(device gpu.Device, pools *Map[*resources.DescriptorPool], layout *resources.DescriptorSetLayout, poolSize uint32) (*resources.DescriptorPool, error) {
	fp := resources.DescriptorPoolKey(layout, poolSize)
	return pools.Request(fp, func() (*resources.DescriptorPool, error) {
		return resources.NewDescriptorPool(device, layout, poolSize), nil
	})
}

// RequestDescriptorSet resolves the set of layout with this payload in
// sets, allocating it from pool on a miss.
func RequestDescriptorSet(device gpu.Device, sets *Map[*resources.DescriptorSet], layout *resources.DescriptorSetLayout, pool *resources.DescriptorPool, buffers resources.BindingMap[gpu.DescriptorBufferInfo], images resources.BindingMap[gpu.DescriptorImageInfo]) (*resources.DescriptorSet, error) {
	fp := resources.DescriptorSetKey(layout, pool, buffers, images)
	return sets.Request(fp, func() (*resources.DescriptorSet, error) {
		return resources.NewDescriptorSet(device, layout, pool, buffers, images)
	})
}
