package resources

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/gpu/gputest"
)

// layoutBuilder builds set layouts directly, without a cache in between.
type layoutBuilder struct {
	device   gpu.Device
	requests int
}

func (b *layoutBuilder) RequestDescriptorSetLayout(set uint32, modules []*ShaderModule, resources []ShaderResource) (*DescriptorSetLayout, error) {
	b.requests++
	return NewDescriptorSetLayout(b.device, set, modules, resources)
}

func testModule(t *testing.T, device gpu.Device, stage gpu.ShaderStage, name string, resources ...ShaderResource) *ShaderModule {
	t.Helper()
	m, err := NewShaderModule(device, stage, &ShaderSource{Name: name, Code: []uint32{0x07230203, uint32(len(name))}, Resources: resources}, "main", nil)
	if err != nil {
		t.Fatalf("shader module %s: %v", name, err)
	}
	return m
}

func TestShaderModuleVariantOverrides(t *testing.T) {
	device := gputest.New()
	source := &ShaderSource{
		Name: "lit.frag",
		Code: []uint32{0x07230203},
		Resources: []ShaderResource{
			{Name: "Camera", Type: ShaderResourceBufferUniform, Binding: 0},
			{Name: "textures", Type: ShaderResourceImageSampler, Binding: 1},
			{Name: "albedo", Type: ShaderResourceImageSampler, Binding: 2, ArraySize: 1},
		},
	}
	variant := NewShaderVariant()
	variant.SetResourceMode("Camera", ShaderResourceDynamic)
	variant.SetResourceMode("albedo", ShaderResourceDynamic)
	variant.SetRuntimeArraySize("textures", 64)
	variant.AddDefine("MAX_LIGHTS=4")

	m, err := NewShaderModule(device, gpu.ShaderStageFragment, source, "", variant)
	if err != nil {
		t.Fatal(err)
	}
	if m.EntryPoint != "main" {
		t.Errorf("entry point = %q, want main", m.EntryPoint)
	}
	if m.Resources[0].Mode != ShaderResourceDynamic {
		t.Errorf("uniform buffer mode = %d, want dynamic", m.Resources[0].Mode)
	}
	if m.Resources[2].Mode != ShaderResourceStatic {
		t.Errorf("images cannot be dynamic, got mode %d", m.Resources[2].Mode)
	}
	if m.Resources[1].ArraySize != 64 {
		t.Errorf("runtime array size = %d, want 64", m.Resources[1].ArraySize)
	}
	if source.Resources[0].Mode != ShaderResourceStatic {
		t.Error("variant overrides leaked into the source")
	}
	if variant.Preamble != "#define MAX_LIGHTS 4\n" {
		t.Errorf("preamble = %q", variant.Preamble)
	}
	if ShaderModuleKey(gpu.ShaderStageFragment, source, "main", variant) == ShaderModuleKey(gpu.ShaderStageFragment, source, "main", nil) {
		t.Error("variant does not change the module key")
	}

	if _, err := NewShaderModule(device, gpu.ShaderStageVertex, &ShaderSource{Name: "empty"}, "main", nil); !errors.Is(err, gpu.ErrConfiguration) {
		t.Errorf("empty source: got %v, want configuration error", err)
	}
}

func TestDescriptorSetLayoutModes(t *testing.T) {
	device := gputest.New()

	tests := []struct {
		name      string
		resources []ShaderResource
		wantErr   bool
		wantType  gpu.DescriptorType
		wantUAB   bool
	}{
		{
			name:      "static uniform",
			resources: []ShaderResource{{Name: "ubo", Type: ShaderResourceBufferUniform}},
			wantType:  gpu.DescriptorTypeUniformBuffer,
		},
		{
			name:      "dynamic storage",
			resources: []ShaderResource{{Name: "ssbo", Type: ShaderResourceBufferStorage, Mode: ShaderResourceDynamic}},
			wantType:  gpu.DescriptorTypeStorageBufferDynamic,
		},
		{
			name:      "update after bind image",
			resources: []ShaderResource{{Name: "tex", Type: ShaderResourceImageSampler, Mode: ShaderResourceUpdateAfterBind}},
			wantType:  gpu.DescriptorTypeCombinedImageSampler,
			wantUAB:   true,
		},
		{
			name: "dynamic mixed with update after bind",
			resources: []ShaderResource{
				{Name: "ubo", Type: ShaderResourceBufferUniform, Mode: ShaderResourceDynamic},
				{Name: "tex", Type: ShaderResourceImageSampler, Binding: 1, Mode: ShaderResourceUpdateAfterBind},
			},
			wantErr: true,
		},
		{
			name: "duplicate binding",
			resources: []ShaderResource{
				{Name: "a", Type: ShaderResourceBufferUniform},
				{Name: "b", Type: ShaderResourceBufferStorage},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewDescriptorSetLayout(device, 0, nil, tt.resources)
			if tt.wantErr {
				if !errors.Is(err, gpu.ErrConfiguration) {
					t.Fatalf("got %v, want configuration error", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			b, ok := l.LayoutBindingByName(tt.resources[0].Name)
			if !ok {
				t.Fatalf("binding %s not found", tt.resources[0].Name)
			}
			if b.Type != tt.wantType {
				t.Errorf("type = %d, want %d", b.Type, tt.wantType)
			}
			if b.Count != 1 {
				t.Errorf("count = %d, want 1", b.Count)
			}
			if l.UpdateAfterBind() != tt.wantUAB {
				t.Errorf("update after bind = %v, want %v", l.UpdateAfterBind(), tt.wantUAB)
			}
		})
	}
}

func TestPipelineLayoutMergesStages(t *testing.T) {
	device := gputest.New()
	vert := testModule(t, device, gpu.ShaderStageVertex, "mesh.vert",
		ShaderResource{Name: "position", Type: ShaderResourceInput},
		ShaderResource{Name: "Camera", Type: ShaderResourceBufferUniform, Set: 0, Binding: 0},
		ShaderResource{Name: "Push", Type: ShaderResourcePushConstant, Offset: 0, Size: 64},
	)
	frag := testModule(t, device, gpu.ShaderStageFragment, "mesh.frag",
		ShaderResource{Name: "position", Type: ShaderResourceInput},
		ShaderResource{Name: "Camera", Type: ShaderResourceBufferUniform, Set: 0, Binding: 0},
		ShaderResource{Name: "albedo", Type: ShaderResourceImageSampler, Set: 1, Binding: 0},
		ShaderResource{Name: "Push", Type: ShaderResourcePushConstant, Offset: 0, Size: 64},
	)

	builder := &layoutBuilder{device: device}
	l, err := NewPipelineLayout(device, builder, []*ShaderModule{vert, frag})
	if err != nil {
		t.Fatal(err)
	}

	if got := l.Sets(); len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Fatalf("sets = %v, want [0 1]", got)
	}
	if builder.requests != 2 {
		t.Errorf("requested %d set layouts, want 2", builder.requests)
	}
	set0, err := l.DescriptorSetLayout(0)
	if err != nil {
		t.Fatal(err)
	}
	if b, _ := set0.LayoutBinding(0); b.Stages != gpu.ShaderStageVertex|gpu.ShaderStageFragment {
		t.Errorf("camera stages = %#x, want vertex|fragment", b.Stages)
	}
	if _, err := l.DescriptorSetLayout(3); !errors.Is(err, gpu.ErrConfiguration) {
		t.Errorf("missing set: got %v, want configuration error", err)
	}
	if inputs := l.Resources(ShaderResourceInput, 0); len(inputs) != 2 {
		t.Errorf("inputs stay per stage, got %d", len(inputs))
	}
	if got := l.PushConstantRangeStage(16, 16); got != gpu.ShaderStageVertex|gpu.ShaderStageFragment {
		t.Errorf("push constant stages = %#x", got)
	}
	if got := l.PushConstantRangeStage(60, 16); got != 0 {
		t.Errorf("out of range push constant stages = %#x, want 0", got)
	}
	if device.Created(gpu.KindPipelineLayout) != 1 || device.Created(gpu.KindDescriptorSetLayout) != 2 {
		t.Errorf("created %d layouts and %d set layouts",
			device.Created(gpu.KindPipelineLayout), device.Created(gpu.KindDescriptorSetLayout))
	}
}

func uniformLayout(t *testing.T, device gpu.Device) *DescriptorSetLayout {
	t.Helper()
	l, err := NewDescriptorSetLayout(device, 0, nil, []ShaderResource{
		{Name: "ubo", Type: ShaderResourceBufferUniform, Binding: 0},
		{Name: "tex", Type: ShaderResourceImageSampler, Binding: 1, ArraySize: 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestDescriptorPoolRollover(t *testing.T) {
	device := gputest.New()
	pool := NewDescriptorPool(device, uniformLayout(t, device), 2)

	var sets []gpu.Handle
	for i := 0; i < 3; i++ {
		set, err := pool.Allocate()
		if err != nil {
			t.Fatalf("allocate #%d: %v", i, err)
		}
		sets = append(sets, set)
	}
	if pool.Pools() != 2 {
		t.Fatalf("pools = %d, want 2 after 3 sets of 2 per pool", pool.Pools())
	}
	if pool.SetsAllocated(0) != 2 || pool.SetsAllocated(1) != 1 {
		t.Fatalf("pool counters = %d, %d", pool.SetsAllocated(0), pool.SetsAllocated(1))
	}

	if err := pool.Free(sets[0]); err != nil {
		t.Fatal(err)
	}
	if pool.SetsAllocated(0) != 1 || pool.SetsAllocated(1) != 1 {
		t.Errorf("free touched the wrong pool: %d, %d", pool.SetsAllocated(0), pool.SetsAllocated(1))
	}
	if err := pool.Free(sets[0]); !errors.Is(err, gpu.ErrNotFound) {
		t.Errorf("double free: got %v, want not found", err)
	}

	if _, err := pool.Allocate(); err != nil {
		t.Fatal(err)
	}
	if pool.Pools() != 2 {
		t.Errorf("freed slot not reused, pools = %d", pool.Pools())
	}

	if err := pool.Reset(); err != nil {
		t.Fatal(err)
	}
	if pool.SetsAllocated(0) != 0 || pool.SetsAllocated(1) != 0 {
		t.Error("reset left counters behind")
	}
	if device.DescriptorPoolResets() != 2 {
		t.Errorf("native pool resets = %d, want 2", device.DescriptorPoolResets())
	}
}

func TestDescriptorPoolAllocationFailureRollsBack(t *testing.T) {
	device := gputest.New()
	pool := NewDescriptorPool(device, uniformLayout(t, device), 4)

	device.FailNext(gpu.KindDescriptorSet, gpu.ErrorFragmentedPool)
	set, err := pool.Allocate()
	if set != gpu.NullHandle || !errors.Is(err, gpu.ErrPoolExhausted) {
		t.Fatalf("got (%d, %v), want null handle and pool exhausted", set, err)
	}
	if !errors.Is(err, gpu.ErrorFragmentedPool) {
		t.Errorf("native result lost: %v", err)
	}
	if pool.SetsAllocated(0) != 0 {
		t.Errorf("counter = %d after failed allocation, want 0", pool.SetsAllocated(0))
	}
}

func TestDescriptorSetIncrementalUpdate(t *testing.T) {
	device := gputest.New()
	layout := uniformLayout(t, device)
	pool := NewDescriptorPool(device, layout, 4)

	buffers := BindingMap[gpu.DescriptorBufferInfo]{0: {0: {Buffer: 10, Range: 256}}}
	images := BindingMap[gpu.DescriptorImageInfo]{
		1: {0: {ImageView: 20, Layout: gpu.ImageLayoutShaderReadOnlyOptimal}, 1: {ImageView: 21}},
		7: {0: {ImageView: 99}},
	}
	set, err := NewDescriptorSet(device, layout, pool, buffers, images)
	if err != nil {
		t.Fatal(err)
	}
	if len(set.Writes()) != 3 {
		t.Fatalf("prepared %d writes, want 3 (binding 7 is not in the layout)", len(set.Writes()))
	}

	if n := set.Update(nil); n != 3 {
		t.Errorf("first update issued %d writes, want 3", n)
	}
	if n := set.Update(nil); n != 0 {
		t.Errorf("second update issued %d writes, want 0", n)
	}

	images[1][0] = gpu.DescriptorImageInfo{ImageView: 30}
	if set.ImageInfos()[1][0].ImageView != 20 {
		t.Fatal("descriptor set aliases the caller's map")
	}

	oldID := set.ID
	rewritten := set.RebindImageViews(map[gpu.Handle]gpu.Handle{21: 41})
	if len(rewritten) != 1 || rewritten[0].Image.ImageView != 41 || rewritten[0].ArrayElement != 1 {
		t.Fatalf("rewritten = %+v", rewritten)
	}
	if set.ID == oldID {
		t.Error("rebinding kept the old ID")
	}
	if n := set.Update(nil); n != 0 {
		t.Errorf("update after rebind issued %d writes, want 0", n)
	}

	device.ClearWrites()
	set.ApplyWrites()
	if len(device.Writes()) != 3 {
		t.Errorf("apply writes issued %d, want 3", len(device.Writes()))
	}
}

func TestRenderPassLayouts(t *testing.T) {
	device := gputest.New()
	attachments := []Attachment{
		{Format: gpu.FormatB8G8R8A8Srgb},
		{Format: gpu.FormatD32Sfloat},
		{Format: gpu.FormatR8G8B8A8Unorm},
	}
	loadStore := []LoadStoreInfo{
		{LoadOp: gpu.LoadOpClear, StoreOp: gpu.StoreOpStore},
		{LoadOp: gpu.LoadOpClear, StoreOp: gpu.StoreOpDontCare},
		{LoadOp: gpu.LoadOpClear, StoreOp: gpu.StoreOpDontCare},
	}
	subpasses := []SubpassInfo{
		{OutputAttachments: []uint32{1, 2}},
		{InputAttachments: []uint32{1, 2}, OutputAttachments: []uint32{0}, DisableDepthStencilAttachment: true},
	}

	desc := BuildRenderPassDesc(attachments, loadStore, subpasses)
	if len(desc.Subpasses) != 2 || len(desc.Dependencies) != 1 {
		t.Fatalf("%d subpasses, %d dependencies", len(desc.Subpasses), len(desc.Dependencies))
	}
	if desc.Subpasses[0].DepthStencilAttachment == nil || desc.Subpasses[1].DepthStencilAttachment != nil {
		t.Error("depth attachment binding does not follow DisableDepthStencilAttachment")
	}
	if got := desc.Subpasses[1].InputAttachments[0].Layout; got != gpu.ImageLayoutDepthStencilReadOnlyOptimal {
		t.Errorf("depth input layout = %d", got)
	}
	wantFinal := []gpu.ImageLayout{
		gpu.ImageLayoutColorAttachmentOptimal,
		gpu.ImageLayoutDepthStencilReadOnlyOptimal,
		gpu.ImageLayoutShaderReadOnlyOptimal,
	}
	for i, want := range wantFinal {
		if got := desc.Attachments[i].FinalLayout; got != want {
			t.Errorf("attachment %d final layout = %d, want %d", i, got, want)
		}
	}
	if got := desc.Attachments[1].InitialLayout; got != gpu.ImageLayoutDepthStencilAttachmentOptimal {
		t.Errorf("depth initial layout = %d", got)
	}

	rp, err := NewRenderPass(device, attachments, loadStore, subpasses)
	if err != nil {
		t.Fatal(err)
	}
	if rp.ColorOutputCount(0) != 1 || rp.ColorOutputCount(1) != 1 || rp.ColorOutputCount(5) != 0 {
		t.Errorf("color outputs = %d, %d", rp.ColorOutputCount(0), rp.ColorOutputCount(1))
	}

	def := BuildRenderPassDesc(attachments, loadStore, nil)
	if len(def.Subpasses) != 1 || len(def.Subpasses[0].ColorAttachments) != 2 || def.Subpasses[0].DepthStencilAttachment == nil {
		t.Errorf("default subpass = %+v", def.Subpasses)
	}

	if _, err := NewRenderPass(device, attachments, loadStore, []SubpassInfo{{OutputAttachments: []uint32{9}}}); !errors.Is(err, gpu.ErrConfiguration) {
		t.Errorf("out of range attachment: got %v", err)
	}
}

func TestFramebufferAttachmentMismatch(t *testing.T) {
	device := gputest.New()
	attachments := []Attachment{{Format: gpu.FormatB8G8R8A8Srgb}, {Format: gpu.FormatD32Sfloat}}
	rp, err := NewRenderPass(device, attachments, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	rt, err := NewRenderTarget(gpu.Extent2D{Width: 64, Height: 64}, attachments[:1], []gpu.Handle{100})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewFramebuffer(device, rt, rp); !errors.Is(err, gpu.ErrConfiguration) {
		t.Errorf("got %v, want configuration error", err)
	}

	rt, err = NewRenderTarget(gpu.Extent2D{Width: 64, Height: 64}, attachments, []gpu.Handle{100, 101})
	if err != nil {
		t.Fatal(err)
	}
	fb, err := NewFramebuffer(device, rt, rp)
	if err != nil {
		t.Fatal(err)
	}
	if fb.ID != FramebufferKey(rt, rp) {
		t.Error("framebuffer ID differs from its key")
	}
}

func TestPipelineStateDirtyFlag(t *testing.T) {
	s := NewPipelineState()
	if !s.IsDirty() {
		t.Fatal("new state should be dirty")
	}
	s.ClearDirty()

	s.SetRasterizationState(s.rasterization)
	s.SetSpecializationConstant(0, nil)
	if !s.IsDirty() {
		t.Fatal("first specialization constant should mark dirty")
	}
	s.ClearDirty()
	s.SetSpecializationConstant(0, nil)
	s.SetViewportState(gpu.ViewportState{ViewportCount: 1, ScissorCount: 1})
	if s.IsDirty() {
		t.Error("setting equal values marked the state dirty")
	}

	before := PipelineKey(s)
	s.SetColorBlendState(gpu.ColorBlendState{Attachments: []gpu.ColorBlendAttachmentState{{ColorWriteMask: gpu.ColorComponentAll}}})
	if !s.IsDirty() || PipelineKey(s) == before {
		t.Error("color blend change not detected")
	}

	clone := s.Clone()
	s.SetSpecializationConstant(0, []byte{1})
	if PipelineKey(clone) == PipelineKey(s) {
		t.Error("clone shares specialization constants with the original")
	}
}
