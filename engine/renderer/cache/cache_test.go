package cache

import (
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/anima/engine/renderer/resources"
)

const spirvMagic = 0x07230203

func source(name string, id uint32, res ...resources.ShaderResource) *resources.ShaderSource {
	return &resources.ShaderSource{Name: name, Code: []uint32{spirvMagic, id}, Resources: res}
}

func meshVert() *resources.ShaderSource {
	return source("mesh.vert", 1,
		resources.ShaderResource{Name: "Camera", Type: resources.ShaderResourceBufferUniform, Set: 0, Binding: 0})
}

func meshFrag() *resources.ShaderSource {
	return source("mesh.frag", 2,
		resources.ShaderResource{Name: "albedo", Type: resources.ShaderResourceImageSampler, Set: 0, Binding: 1})
}

func flatFrag() *resources.ShaderSource {
	return source("flat.frag", 3)
}

var targetAttachments = []resources.Attachment{
	{Format: gpu.FormatB8G8R8A8Srgb},
	{Format: gpu.FormatD32Sfloat},
}

func mustModule(t *testing.T, c *ResourceCache, stage gpu.ShaderStage, src *resources.ShaderSource) *resources.ShaderModule {
	t.Helper()
	m, err := c.RequestShaderModule(stage, src, "main", nil)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestRequestIsIdempotent(t *testing.T) {
	device := gputest.New()
	c := NewResourceCache(device)

	a := mustModule(t, c, gpu.ShaderStageVertex, meshVert())
	// Structurally equal arguments, different instances.
	b := mustModule(t, c, gpu.ShaderStageVertex, meshVert())
	if a != b {
		t.Fatal("equal arguments returned different modules")
	}
	if got := device.Created(gpu.KindShaderModule); got != 1 {
		t.Errorf("created %d shader modules, want 1", got)
	}

	other := mustModule(t, c, gpu.ShaderStageFragment, meshVert())
	if other == a {
		t.Error("stage is not part of the fingerprint")
	}

	stats := c.Stats()[0]
	if stats.Kind != gpu.KindShaderModule || stats.Hits != 1 || stats.Misses != 2 || stats.Entries != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPipelineLayoutEndToEnd(t *testing.T) {
	device := gputest.New()
	c := NewResourceCache(device)

	a := mustModule(t, c, gpu.ShaderStageVertex, meshVert())
	b := mustModule(t, c, gpu.ShaderStageFragment, meshFrag())
	cc := mustModule(t, c, gpu.ShaderStageFragment, flatFrag())

	first, err := c.RequestPipelineLayout([]*resources.ShaderModule{a, b})
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.RequestPipelineLayout([]*resources.ShaderModule{a, b})
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatal("same modules returned different pipeline layouts")
	}
	if got := device.Created(gpu.KindPipelineLayout); got != 1 {
		t.Fatalf("created %d pipeline layouts, want 1", got)
	}

	third, err := c.RequestPipelineLayout([]*resources.ShaderModule{a, cc})
	if err != nil {
		t.Fatal(err)
	}
	if third == first {
		t.Fatal("different modules returned the same pipeline layout")
	}
	if got := device.Created(gpu.KindPipelineLayout); got != 2 {
		t.Errorf("created %d pipeline layouts, want 2", got)
	}
}

func TestConcurrentRequestsBuildOnce(t *testing.T) {
	device := gputest.New()
	c := NewResourceCache(device)

	const workers = 32
	passes := make([]*resources.RenderPass, workers)
	modules := make([]*resources.ShaderModule, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				passes[i], errs[i] = c.RequestRenderPass(targetAttachments, nil, nil)
			} else {
				modules[i], errs[i] = c.RequestShaderModule(gpu.ShaderStageVertex, meshVert(), "main", nil)
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
	}
	for i := 2; i < workers; i += 2 {
		if passes[i] != passes[0] {
			t.Fatalf("worker %d got a different render pass", i)
		}
	}
	for i := 3; i < workers; i += 2 {
		if modules[i] != modules[1] {
			t.Fatalf("worker %d got a different shader module", i)
		}
	}
	if device.Created(gpu.KindRenderPass) != 1 || device.Created(gpu.KindShaderModule) != 1 {
		t.Errorf("created %d render passes and %d modules, want 1 each",
			device.Created(gpu.KindRenderPass), device.Created(gpu.KindShaderModule))
	}
}

func TestCreationFailureLeavesNoEntry(t *testing.T) {
	device := gputest.New()
	c := NewResourceCache(device)
	a := mustModule(t, c, gpu.ShaderStageVertex, meshVert())

	device.FailNext(gpu.KindPipelineLayout, gpu.ErrorOutOfDeviceMemory)
	_, err := c.RequestPipelineLayout([]*resources.ShaderModule{a})
	if !errors.Is(err, gpu.ErrCreationFailed) {
		t.Fatalf("got %v, want creation failure", err)
	}
	var ce *gpu.CreationError
	if !errors.As(err, &ce) {
		t.Fatalf("%v is not a *gpu.CreationError", err)
	}
	if ce.Kind != gpu.KindPipelineLayout || ce.Ordinal != 0 || ce.Result() != gpu.ErrorOutOfDeviceMemory {
		t.Errorf("creation error = kind %s, ordinal %d, result %s", ce.Kind, ce.Ordinal, ce.Result())
	}
	if got := c.pipelineLayouts.Len(); got != 0 {
		t.Fatalf("failed build left %d entries", got)
	}

	l, err := c.RequestPipelineLayout([]*resources.ShaderModule{a})
	if err != nil || l == nil {
		t.Fatalf("retry: %v", err)
	}
}

func buildPipelines(t *testing.T, c *ResourceCache) (*resources.PipelineState, *resources.PipelineState) {
	t.Helper()
	vert := mustModule(t, c, gpu.ShaderStageVertex, meshVert())
	frag := mustModule(t, c, gpu.ShaderStageFragment, meshFrag())
	comp := mustModule(t, c, gpu.ShaderStageCompute, source("cull.comp", 4,
		resources.ShaderResource{Name: "Draws", Type: resources.ShaderResourceBufferStorage, Set: 0, Binding: 0}))

	layout, err := c.RequestPipelineLayout([]*resources.ShaderModule{vert, frag})
	if err != nil {
		t.Fatal(err)
	}
	computeLayout, err := c.RequestPipelineLayout([]*resources.ShaderModule{comp})
	if err != nil {
		t.Fatal(err)
	}
	rp, err := c.RequestRenderPass(targetAttachments, []resources.LoadStoreInfo{
		{LoadOp: gpu.LoadOpClear, StoreOp: gpu.StoreOpStore},
		{LoadOp: gpu.LoadOpClear, StoreOp: gpu.StoreOpDontCare},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	graphics := resources.NewPipelineState()
	graphics.SetPipelineLayout(layout)
	graphics.SetRenderPass(rp)
	graphics.SetSpecializationConstant(0, []byte{1, 0, 0, 0})
	graphics.SetColorBlendState(gpu.ColorBlendState{Attachments: []gpu.ColorBlendAttachmentState{{ColorWriteMask: gpu.ColorComponentAll}}})
	if _, err := c.RequestGraphicsPipeline(graphics); err != nil {
		t.Fatal(err)
	}

	compute := resources.NewPipelineState()
	compute.SetPipelineLayout(computeLayout)
	if _, err := c.RequestComputePipeline(compute); err != nil {
		t.Fatal(err)
	}
	return graphics, compute
}

func TestClearScopes(t *testing.T) {
	device := gputest.New()
	c := NewResourceCache(device)
	buildPipelines(t, c)

	rp, err := c.RequestRenderPass(targetAttachments, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	rt, err := resources.NewRenderTarget(gpu.Extent2D{Width: 8, Height: 8}, targetAttachments, []gpu.Handle{500, 501})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.RequestFramebuffer(rt, rp); err != nil {
		t.Fatal(err)
	}

	c.ClearFramebuffers()
	if device.Live(gpu.KindFramebuffer) != 0 || device.Live(gpu.KindGraphicsPipeline) != 1 {
		t.Error("ClearFramebuffers destroyed the wrong objects")
	}

	c.ClearPipelines()
	if device.Live(gpu.KindGraphicsPipeline) != 0 || device.Live(gpu.KindComputePipeline) != 0 {
		t.Error("ClearPipelines left pipelines alive")
	}
	if device.Live(gpu.KindPipelineLayout) != 2 || device.Live(gpu.KindRenderPass) != 2 {
		t.Error("ClearPipelines destroyed layouts or render passes")
	}

	c.Clear()
	for _, kind := range []gpu.ObjectKind{gpu.KindShaderModule, gpu.KindDescriptorSetLayout, gpu.KindPipelineLayout, gpu.KindRenderPass} {
		if n := device.Live(kind); n != 0 {
			t.Errorf("%d %s left after Clear", n, kind)
		}
	}
	for _, s := range c.Stats() {
		if s.Entries != 0 {
			t.Errorf("%s still has %d entries", s.Kind, s.Entries)
		}
	}
}

func TestUpdateDescriptorSetsRekeys(t *testing.T) {
	device := gputest.New()
	c := NewResourceCache(device)
	frag := mustModule(t, c, gpu.ShaderStageFragment, meshFrag())
	layout, err := c.RequestDescriptorSetLayout(0, []*resources.ShaderModule{frag}, frag.Resources)
	if err != nil {
		t.Fatal(err)
	}

	images := func(view gpu.Handle) resources.BindingMap[gpu.DescriptorImageInfo] {
		return resources.BindingMap[gpu.DescriptorImageInfo]{1: {0: {ImageView: view, Layout: gpu.ImageLayoutShaderReadOnlyOptimal}}}
	}
	set, err := c.RequestDescriptorSet(layout, nil, images(20))
	if err != nil {
		t.Fatal(err)
	}
	set.Update(nil)
	untouched, err := c.RequestDescriptorSet(layout, nil, images(21))
	if err != nil {
		t.Fatal(err)
	}
	untouchedID := untouched.ID
	device.ClearWrites()

	if err := c.UpdateDescriptorSets([]gpu.Handle{20}, []gpu.Handle{40}); err != nil {
		t.Fatal(err)
	}
	writes := device.Writes()
	if len(writes) != 1 || writes[0].Set != set.Handle || writes[0].Image.ImageView != 40 {
		t.Fatalf("writes = %+v", writes)
	}
	if untouched.ID != untouchedID {
		t.Error("set without the old view was rekeyed")
	}

	again, err := c.RequestDescriptorSet(layout, nil, images(40))
	if err != nil {
		t.Fatal(err)
	}
	if again != set {
		t.Error("rebound set is not found under its new payload")
	}
	fresh, err := c.RequestDescriptorSet(layout, nil, images(20))
	if err != nil {
		t.Fatal(err)
	}
	if fresh == set {
		t.Error("old payload still maps to the rebound set")
	}

	if err := c.UpdateDescriptorSets([]gpu.Handle{1, 2}, []gpu.Handle{3}); !errors.Is(err, gpu.ErrConfiguration) {
		t.Errorf("mismatched view lists: got %v", err)
	}
}

func TestUpdateDescriptorSetsFreesDuplicates(t *testing.T) {
	device := gputest.New()
	c := NewResourceCache(device)
	frag := mustModule(t, c, gpu.ShaderStageFragment, meshFrag())
	layout, err := c.RequestDescriptorSetLayout(0, []*resources.ShaderModule{frag}, frag.Resources)
	if err != nil {
		t.Fatal(err)
	}

	images := func(view gpu.Handle) resources.BindingMap[gpu.DescriptorImageInfo] {
		return resources.BindingMap[gpu.DescriptorImageInfo]{1: {0: {ImageView: view, Layout: gpu.ImageLayoutShaderReadOnlyOptimal}}}
	}
	a, err := c.RequestDescriptorSet(layout, nil, images(20))
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.RequestDescriptorSet(layout, nil, images(21))
	if err != nil {
		t.Fatal(err)
	}
	if device.Live(gpu.KindDescriptorSet) != 2 {
		t.Fatalf("live sets = %d, want 2", device.Live(gpu.KindDescriptorSet))
	}
	device.ClearWrites()

	// Both views are replaced by the same one, so the two sets end up with
	// one payload.
	if err := c.UpdateDescriptorSets([]gpu.Handle{20, 21}, []gpu.Handle{40, 40}); err != nil {
		t.Fatal(err)
	}
	if n := device.Live(gpu.KindDescriptorSet); n != 1 {
		t.Errorf("live sets = %d, want the duplicate freed", n)
	}
	kept, err := c.RequestDescriptorSet(layout, nil, images(40))
	if err != nil {
		t.Fatal(err)
	}
	if kept != a && kept != b {
		t.Error("rebound payload is not cached")
	}
	for _, w := range device.Writes() {
		if w.Set != kept.Handle {
			t.Errorf("write issued for freed set %#x", uint64(w.Set))
		}
	}
}

func TestSerializeWarmup(t *testing.T) {
	c := NewResourceCache(gputest.New())
	graphics, compute := buildPipelines(t, c)

	blob, err := c.Serialize()
	if err != nil {
		t.Fatal(err)
	}

	device := gputest.New()
	warm := NewResourceCache(device)
	if err := warm.Warmup(blob); err != nil {
		t.Fatal(err)
	}

	want := map[gpu.ObjectKind]int{
		gpu.KindShaderModule:     3,
		gpu.KindPipelineLayout:   2,
		gpu.KindRenderPass:       1,
		gpu.KindGraphicsPipeline: 1,
		gpu.KindComputePipeline:  1,
	}
	for kind, n := range want {
		if got := device.Created(kind); got != n {
			t.Errorf("warmup created %d %s, want %d", got, kind, n)
		}
	}

	if _, err := warm.RequestGraphicsPipeline(graphics); err != nil {
		t.Fatal(err)
	}
	if _, err := warm.RequestComputePipeline(compute); err != nil {
		t.Fatal(err)
	}
	if device.Created(gpu.KindGraphicsPipeline) != 1 || device.Created(gpu.KindComputePipeline) != 1 {
		t.Error("requests after warmup missed the cache")
	}

	again, err := warm.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	if err := NewResourceCache(gputest.New()).Warmup(again); err != nil {
		t.Errorf("blob of a warmed cache does not replay: %v", err)
	}
}

func TestSerializeAfterClearPipelines(t *testing.T) {
	c := NewResourceCache(gputest.New())
	buildPipelines(t, c)
	before, err := c.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	records := len(c.recorder.snapshot())

	for i := 0; i < 3; i++ {
		c.ClearPipelines()
		buildPipelines(t, c)
	}
	if n := len(c.recorder.snapshot()); n != records {
		t.Errorf("records = %d after rebuilding pipelines, want %d", n, records)
	}
	after, err := c.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != len(before) {
		t.Errorf("blob grew from %d to %d bytes", len(before), len(after))
	}
}

func TestWarmupRejectsIncompatibleBlob(t *testing.T) {
	c := NewResourceCache(gputest.New())
	buildPipelines(t, c)
	blob, err := c.Serialize()
	if err != nil {
		t.Fatal(err)
	}

	other := gputest.New()
	other.SetPipelineCacheUUID(uuid.New())

	tests := []struct {
		name   string
		device *gputest.Device
		blob   []byte
	}{
		{name: "other device", device: other, blob: blob},
		{name: "garbage", device: gputest.New(), blob: []byte("definitely not gob")},
		{name: "truncated", device: gputest.New(), blob: blob[:len(blob)/2]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewResourceCache(tt.device).Warmup(tt.blob)
			if !errors.Is(err, gpu.ErrIncompatibleBlob) {
				t.Fatalf("got %v, want incompatible blob", err)
			}
			if n := tt.device.Created(gpu.KindShaderModule); n != 0 {
				t.Errorf("rejected blob still built %d modules", n)
			}
		})
	}
}
