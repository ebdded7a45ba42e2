package cache

import (
	"bytes"
	"encoding/gob"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/resources"
)

const (
	blobMagic   = "ANIMA-RC"
	blobVersion = 1
)

type blobHeader struct {
	Magic             string
	Version           uint32
	PipelineCacheUUID uuid.UUID
	Records           int
}

type shaderModuleRecord struct {
	Stage      gpu.ShaderStage
	Source     resources.ShaderSource
	EntryPoint string
	Variant    *resources.ShaderVariant
}

// Modules are indices of earlier shader module records.
type pipelineLayoutRecord struct {
	Modules []int
}

type renderPassRecord struct {
	Attachments []resources.Attachment
	LoadStore   []resources.LoadStoreInfo
	Subpasses   []resources.SubpassInfo
}

// Layout and RenderPass are indices of earlier records. RenderPass is -1
// for compute pipelines.
type pipelineRecord struct {
	Layout         int
	RenderPass     int
	Subpass        uint32
	Specialization map[uint32][]byte
	VertexInput    gpu.VertexInputState
	InputAssembly  gpu.InputAssemblyState
	Rasterization  gpu.RasterizationState
	Viewport       gpu.ViewportState
	Multisample    gpu.MultisampleState
	DepthStencil   gpu.DepthStencilState
	ColorBlend     gpu.ColorBlendState
}

type record struct {
	Kind           gpu.ObjectKind
	ShaderModule   *shaderModuleRecord
	PipelineLayout *pipelineLayoutRecord
	RenderPass     *renderPassRecord
	Pipeline       *pipelineRecord
}

type recordKey struct {
	kind gpu.ObjectKind
	id   uint64
}

// recorder keeps the construction arguments of every object built through
// the cache, in build order, so they can be replayed on a fresh cache.
type recorder struct {
	mu      sync.Mutex
	records []record
	index   map[recordKey]int
}

func newRecorder() *recorder {
	return &recorder{index: make(map[recordKey]int)}
}

// add keeps the first record of an object. Objects rebuilt after a clear
// are already recorded.
func (r *recorder) add(kind gpu.ObjectKind, id uint64, rec record) {
	if _, ok := r.index[recordKey{kind, id}]; ok {
		return
	}
	rec.Kind = kind
	r.index[recordKey{kind, id}] = len(r.records)
	r.records = append(r.records, rec)
}

func (r *recorder) lookup(kind gpu.ObjectKind, id uint64) (int, bool) {
	i, ok := r.index[recordKey{kind, id}]
	return i, ok
}

func (r *recorder) shaderModule(m *resources.ShaderModule, stage gpu.ShaderStage, source *resources.ShaderSource, entryPoint string, variant *resources.ShaderVariant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(gpu.KindShaderModule, m.ID, record{ShaderModule: &shaderModuleRecord{
		Stage:      stage,
		Source:     *source,
		EntryPoint: entryPoint,
		Variant:    variant,
	}})
}

func (r *recorder) pipelineLayout(l *resources.PipelineLayout) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := &pipelineLayoutRecord{}
	for _, m := range l.ShaderModules() {
		i, ok := r.lookup(gpu.KindShaderModule, m.ID)
		if !ok {
			core.LogWarn("pipeline layout uses shader module %s built outside the cache, not recording it", m.Name)
			return
		}
		rec.Modules = append(rec.Modules, i)
	}
	r.add(gpu.KindPipelineLayout, l.ID, record{PipelineLayout: rec})
}

func (r *recorder) renderPass(rp *resources.RenderPass, attachments []resources.Attachment, loadStore []resources.LoadStoreInfo, subpasses []resources.SubpassInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(gpu.KindRenderPass, rp.ID, record{RenderPass: &renderPassRecord{
		Attachments: attachments,
		LoadStore:   loadStore,
		Subpasses:   subpasses,
	}})
}

func (r *recorder) pipeline(kind gpu.ObjectKind, state *resources.PipelineState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	layout, ok := r.lookup(gpu.KindPipelineLayout, state.PipelineLayout().ID)
	if !ok {
		core.LogWarn("%s uses a pipeline layout built outside the cache, not recording it", kind)
		return
	}
	renderPass := -1
	if kind == gpu.KindGraphicsPipeline {
		if renderPass, ok = r.lookup(gpu.KindRenderPass, state.RenderPass().ID); !ok {
			core.LogWarn("%s uses a render pass built outside the cache, not recording it", kind)
			return
		}
	}

	r.add(kind, resources.PipelineKey(state), record{Pipeline: &pipelineRecord{
		Layout:         layout,
		RenderPass:     renderPass,
		Subpass:        state.SubpassIndex(),
		Specialization: state.SpecializationConstants(),
		VertexInput:    state.VertexInputState(),
		InputAssembly:  state.InputAssemblyState(),
		Rasterization:  state.RasterizationState(),
		Viewport:       state.ViewportState(),
		Multisample:    state.MultisampleState(),
		DepthStencil:   state.DepthStencilState(),
		ColorBlend:     state.ColorBlendState(),
	}})
}

func (r *recorder) graphicsPipeline(state *resources.PipelineState) {
	r.pipeline(gpu.KindGraphicsPipeline, state)
}

func (r *recorder) computePipeline(state *resources.PipelineState) {
	r.pipeline(gpu.KindComputePipeline, state)
}

func (r *recorder) snapshot() []record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]record(nil), r.records...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
	clear(r.index)
}

// Serialize encodes the construction arguments of every recorded object in
// build order. The blob is tied to the device's pipeline cache UUID.
func (c *ResourceCache) Serialize() ([]byte, error) {
	records := c.recorder.snapshot()

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	header := blobHeader{
		Magic:             blobMagic,
		Version:           blobVersion,
		PipelineCacheUUID: c.device.Properties().PipelineCacheUUID,
		Records:           len(records),
	}
	if err := enc.Encode(header); err != nil {
		return nil, errors.Wrap(err, "encode cache blob header")
	}
	if len(records) > 0 {
		if err := enc.Encode(records); err != nil {
			return nil, errors.Wrap(err, "encode cache blob records")
		}
	}
	return buf.Bytes(), nil
}

func incompatible(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), gpu.ErrIncompatibleBlob)
}

func decodeBlob(data []byte, want uuid.UUID) ([]record, error) {
	dec := gob.NewDecoder(bytes.NewReader(data))

	var header blobHeader
	if err := dec.Decode(&header); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode cache blob header"), gpu.ErrIncompatibleBlob)
	}
	switch {
	case header.Magic != blobMagic:
		return nil, incompatible("not a resource cache blob (magic %q)", header.Magic)
	case header.Version != blobVersion:
		return nil, incompatible("cache blob version %d, want %d", header.Version, blobVersion)
	case header.PipelineCacheUUID != want:
		return nil, incompatible("cache blob built for pipeline cache %s, device has %s", header.PipelineCacheUUID, want)
	}

	var records []record
	if header.Records > 0 {
		if err := dec.Decode(&records); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "decode cache blob records"), gpu.ErrIncompatibleBlob)
		}
	}
	if len(records) != header.Records {
		return nil, incompatible("cache blob announces %d records, holds %d", header.Records, len(records))
	}
	return records, nil
}

func builtAs[T any](built []any, i, ref int) (T, error) {
	var zero T
	if ref < 0 || ref >= i {
		return zero, incompatible("record %d references record %d", i, ref)
	}
	v, ok := built[ref].(T)
	if !ok {
		return zero, incompatible("record %d references record %d of the wrong kind", i, ref)
	}
	return v, nil
}

// Warmup replays a blob produced by Serialize against this cache. A blob
// from another format version or device is rejected with
// gpu.ErrIncompatibleBlob before anything is built.
func (c *ResourceCache) Warmup(data []byte) error {
	records, err := decodeBlob(data, c.device.Properties().PipelineCacheUUID)
	if err != nil {
		return err
	}

	built := make([]any, len(records))
	for i, rec := range records {
		var obj any
		switch {
		case rec.ShaderModule != nil:
			r := rec.ShaderModule
			obj, err = c.RequestShaderModule(r.Stage, &r.Source, r.EntryPoint, r.Variant)

		case rec.PipelineLayout != nil:
			modules := make([]*resources.ShaderModule, 0, len(rec.PipelineLayout.Modules))
			for _, ref := range rec.PipelineLayout.Modules {
				m, err := builtAs[*resources.ShaderModule](built, i, ref)
				if err != nil {
					return err
				}
				modules = append(modules, m)
			}
			obj, err = c.RequestPipelineLayout(modules)

		case rec.RenderPass != nil:
			r := rec.RenderPass
			obj, err = c.RequestRenderPass(r.Attachments, r.LoadStore, r.Subpasses)

		case rec.Pipeline != nil:
			obj, err = c.replayPipeline(built, i, rec)

		default:
			return incompatible("record %d of kind %s is empty", i, rec.Kind)
		}
		if err != nil {
			return errors.Wrapf(err, "warmup record %d (%s)", i, rec.Kind)
		}
		built[i] = obj
	}

	core.LogInfo("resource cache warmed up with %d objects", len(records))
	return nil
}

func (c *ResourceCache) replayPipeline(built []any, i int, rec record) (any, error) {
	r := rec.Pipeline
	layout, err := builtAs[*resources.PipelineLayout](built, i, r.Layout)
	if err != nil {
		return nil, err
	}

	state := resources.NewPipelineState()
	state.SetPipelineLayout(layout)
	state.SetSubpassIndex(r.Subpass)
	for id, data := range r.Specialization {
		state.SetSpecializationConstant(id, data)
	}
	state.SetVertexInputState(r.VertexInput)
	state.SetInputAssemblyState(r.InputAssembly)
	state.SetRasterizationState(r.Rasterization)
	state.SetViewportState(r.Viewport)
	state.SetMultisampleState(r.Multisample)
	state.SetDepthStencilState(r.DepthStencil)
	state.SetColorBlendState(r.ColorBlend)

	if rec.Kind == gpu.KindComputePipeline {
		return c.RequestComputePipeline(state)
	}
	rp, err := builtAs[*resources.RenderPass](built, i, r.RenderPass)
	if err != nil {
		return nil, err
	}
	state.SetRenderPass(rp)
	return c.RequestGraphicsPipeline(state)
}
