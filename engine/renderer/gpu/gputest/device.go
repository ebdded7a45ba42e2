// Package gputest provides an in-memory gpu.Device for tests.
//
// Every object is a counter bump, fences are channels that can be signaled
// late or never, and descriptor pools enforce their set capacity so pool
// rollover can be observed.
package gputest

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

type fence struct {
	signaled bool
	done     chan struct{}
}

func (f *fence) signal() {
	if !f.signaled {
		f.signaled = true
		close(f.done)
	}
}

type descriptorPool struct {
	maxSets   uint32
	allocated uint32
	sets      map[gpu.Handle]struct{}
}

type Device struct {
	mu    sync.Mutex
	props gpu.Properties
	next  gpu.Handle

	created   map[gpu.ObjectKind]int
	destroyed map[gpu.ObjectKind]int
	live      map[gpu.Handle]gpu.ObjectKind
	failures  map[gpu.ObjectKind][]gpu.Result
	names     map[gpu.Handle]string

	fences      map[gpu.Handle]*fence
	pools       map[gpu.Handle]*descriptorPool
	buffers     map[gpu.Handle][]byte
	writes      []gpu.DescriptorWrite
	autoSignal  bool
	submitDelay time.Duration

	submits              int
	waitIdles            int
	commandBufferResets  int
	commandPoolResets    int
	descriptorPoolResets int
	fenceResets          int
}

// New returns a device whose submits signal their fence immediately.
func New() *Device {
	return &Device{
		props: gpu.Properties{
			DeviceName:                      "gputest",
			PipelineCacheUUID:               uuid.NewSHA1(uuid.NameSpaceOID, []byte("anima/gputest")),
			MinUniformBufferOffsetAlignment: 256,
			MinStorageBufferOffsetAlignment: 64,
			MinTexelBufferOffsetAlignment:   16,
			NonCoherentAtomSize:             64,
			MaxBoundDescriptorSets:          8,
		},
		created:    make(map[gpu.ObjectKind]int),
		destroyed:  make(map[gpu.ObjectKind]int),
		live:       make(map[gpu.Handle]gpu.ObjectKind),
		failures:   make(map[gpu.ObjectKind][]gpu.Result),
		names:      make(map[gpu.Handle]string),
		fences:     make(map[gpu.Handle]*fence),
		pools:      make(map[gpu.Handle]*descriptorPool),
		buffers:    make(map[gpu.Handle][]byte),
		autoSignal: true,
	}
}

func (d *Device) SetPipelineCacheUUID(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.props.PipelineCacheUUID = id
}

// SetAutoSignal controls whether Submit signals its fence on its own.
func (d *Device) SetAutoSignal(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.autoSignal = enabled
}

// SetSubmitDelay makes auto-signaled fences fire after delay.
func (d *Device) SetSubmitDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.submitDelay = delay
}

// FailNext makes the next creation of kind fail with res.
func (d *Device) FailNext(kind gpu.ObjectKind, res gpu.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[kind] = append(d.failures[kind], res)
}

func (d *Device) SignalFence(h gpu.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f, ok := d.fences[h]; ok {
		f.signal()
	}
}

func (d *Device) FenceSignaled(h gpu.Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.fences[h]
	return ok && f.signaled
}

func (d *Device) Created(kind gpu.ObjectKind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created[kind]
}

func (d *Device) Destroyed(kind gpu.ObjectKind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed[kind]
}

// Live counts objects of kind that were created and not destroyed yet.
func (d *Device) Live(kind gpu.ObjectKind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, k := range d.live {
		if k == kind {
			n++
		}
	}
	return n
}

func (d *Device) Writes() []gpu.DescriptorWrite {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]gpu.DescriptorWrite(nil), d.writes...)
}

func (d *Device) ClearWrites() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes = nil
}

func (d *Device) Buffer(h gpu.Handle) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buffers[h]
}

func (d *Device) DebugName(h gpu.Handle) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.names[h]
}

func (d *Device) Submits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submits
}

func (d *Device) WaitIdles() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waitIdles
}

func (d *Device) CommandBufferResets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commandBufferResets
}

func (d *Device) CommandPoolResets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commandPoolResets
}

func (d *Device) DescriptorPoolResets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.descriptorPoolResets
}

func (d *Device) FenceResets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fenceResets
}

// create must be called with d.mu held.
func (d *Device) create(kind gpu.ObjectKind) (gpu.Handle, error) {
	if queued := d.failures[kind]; len(queued) > 0 {
		d.failures[kind] = queued[1:]
		return gpu.NullHandle, queued[0]
	}
	d.next++
	d.live[d.next] = kind
	d.created[kind]++
	return d.next, nil
}

func (d *Device) createLocked(kind gpu.ObjectKind) (gpu.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.create(kind)
}

func (d *Device) Properties() gpu.Properties {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.props
}

func (d *Device) CreateShaderModule(stage gpu.ShaderStage, code []uint32) (gpu.Handle, error) {
	return d.createLocked(gpu.KindShaderModule)
}

func (d *Device) CreateDescriptorSetLayout(bindings []gpu.DescriptorSetLayoutBinding) (gpu.Handle, error) {
	return d.createLocked(gpu.KindDescriptorSetLayout)
}

func (d *Device) CreatePipelineLayout(setLayouts []gpu.Handle, pushConstants []gpu.PushConstantRange) (gpu.Handle, error) {
	return d.createLocked(gpu.KindPipelineLayout)
}

func (d *Device) CreateRenderPass(desc *gpu.RenderPassDesc) (gpu.Handle, error) {
	return d.createLocked(gpu.KindRenderPass)
}

func (d *Device) CreateGraphicsPipeline(desc *gpu.GraphicsPipelineDesc) (gpu.Handle, error) {
	return d.createLocked(gpu.KindGraphicsPipeline)
}

func (d *Device) CreateComputePipeline(desc *gpu.ComputePipelineDesc) (gpu.Handle, error) {
	return d.createLocked(gpu.KindComputePipeline)
}

func (d *Device) CreateFramebuffer(desc *gpu.FramebufferDesc) (gpu.Handle, error) {
	return d.createLocked(gpu.KindFramebuffer)
}

func (d *Device) CreateDescriptorPool(maxSets uint32, sizes []gpu.DescriptorPoolSize, updateAfterBind bool) (gpu.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, err := d.create(gpu.KindDescriptorPool)
	if err != nil {
		return h, err
	}
	d.pools[h] = &descriptorPool{maxSets: maxSets, sets: make(map[gpu.Handle]struct{})}
	return h, nil
}

func (d *Device) ResetDescriptorPool(pool gpu.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pools[pool]
	if !ok {
		return gpu.ErrorUnknown
	}
	for set := range p.sets {
		delete(d.live, set)
		d.destroyed[gpu.KindDescriptorSet]++
	}
	p.sets = make(map[gpu.Handle]struct{})
	p.allocated = 0
	d.descriptorPoolResets++
	return nil
}

func (d *Device) AllocateDescriptorSet(pool, layout gpu.Handle) (gpu.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pools[pool]
	if !ok {
		return gpu.NullHandle, gpu.ErrorUnknown
	}
	if p.allocated >= p.maxSets {
		return gpu.NullHandle, gpu.ErrorOutOfPoolMemory
	}
	h, err := d.create(gpu.KindDescriptorSet)
	if err != nil {
		return h, err
	}
	p.allocated++
	p.sets[h] = struct{}{}
	return h, nil
}

func (d *Device) FreeDescriptorSet(pool, set gpu.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pools[pool]
	if !ok {
		return gpu.ErrorUnknown
	}
	if _, ok := p.sets[set]; !ok {
		return gpu.ErrorUnknown
	}
	delete(p.sets, set)
	p.allocated--
	delete(d.live, set)
	d.destroyed[gpu.KindDescriptorSet]++
	return nil
}

func (d *Device) UpdateDescriptorSets(writes []gpu.DescriptorWrite) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes = append(d.writes, writes...)
}

func (d *Device) CreateFence(signaled bool) (gpu.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, err := d.create(gpu.KindFence)
	if err != nil {
		return h, err
	}
	f := &fence{done: make(chan struct{})}
	if signaled {
		f.signal()
	}
	d.fences[h] = f
	return h, nil
}

func (d *Device) WaitForFences(fences []gpu.Handle, timeout time.Duration) error {
	d.mu.Lock()
	waits := make([]chan struct{}, 0, len(fences))
	for _, h := range fences {
		f, ok := d.fences[h]
		if !ok {
			d.mu.Unlock()
			return gpu.ErrorDeviceLost
		}
		waits = append(waits, f.done)
	}
	d.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for _, done := range waits {
		select {
		case <-done:
		case <-timer.C:
			return gpu.Timeout
		}
	}
	return nil
}

func (d *Device) ResetFences(fences []gpu.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range fences {
		f, ok := d.fences[h]
		if !ok {
			return gpu.ErrorDeviceLost
		}
		if f.signaled {
			d.fences[h] = &fence{done: make(chan struct{})}
		}
	}
	d.fenceResets++
	return nil
}

func (d *Device) CreateSemaphore() (gpu.Handle, error) {
	return d.createLocked(gpu.KindSemaphore)
}

func (d *Device) CreateCommandPool(queueFamily uint32, resetIndividually bool) (gpu.Handle, error) {
	return d.createLocked(gpu.KindCommandPool)
}

func (d *Device) ResetCommandPool(pool gpu.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commandPoolResets++
	return nil
}

func (d *Device) AllocateCommandBuffer(pool gpu.Handle, level gpu.CommandBufferLevel) (gpu.Handle, error) {
	return d.createLocked(gpu.KindCommandBuffer)
}

func (d *Device) ResetCommandBuffer(cmd gpu.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commandBufferResets++
	return nil
}

func (d *Device) FreeCommandBuffers(pool gpu.Handle, cmds []gpu.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range cmds {
		if _, ok := d.live[h]; ok {
			delete(d.live, h)
			d.destroyed[gpu.KindCommandBuffer]++
		}
	}
}

func (d *Device) BeginCommandBuffer(cmd gpu.Handle, oneTimeSubmit bool) error {
	return nil
}

func (d *Device) EndCommandBuffer(cmd gpu.Handle) error {
	return nil
}

func (d *Device) CreateBuffer(desc *gpu.BufferDesc) (gpu.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, err := d.create(gpu.KindBuffer)
	if err != nil {
		return h, err
	}
	d.buffers[h] = make([]byte, desc.Size)
	return h, nil
}

func (d *Device) WriteBuffer(buffer gpu.Handle, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	mem, ok := d.buffers[buffer]
	if !ok || offset+uint64(len(data)) > uint64(len(mem)) {
		return gpu.ErrorMemoryMapFailed
	}
	copy(mem[offset:], data)
	return nil
}

func (d *Device) Submit(queue gpu.Queue, info *gpu.SubmitInfo, fenceHandle gpu.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.submits++
	if fenceHandle == gpu.NullHandle || !d.autoSignal {
		return nil
	}
	f, ok := d.fences[fenceHandle]
	if !ok {
		return gpu.ErrorDeviceLost
	}
	if d.submitDelay <= 0 {
		f.signal()
		return nil
	}
	delay := d.submitDelay
	go func() {
		time.Sleep(delay)
		d.mu.Lock()
		defer d.mu.Unlock()
		f.signal()
	}()
	return nil
}

func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waitIdles++
	return nil
}

func (d *Device) Destroy(kind gpu.ObjectKind, h gpu.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.live[h]; !ok {
		return
	}
	delete(d.live, h)
	delete(d.fences, h)
	delete(d.pools, h)
	delete(d.buffers, h)
	d.destroyed[kind]++
}

func (d *Device) SetDebugName(kind gpu.ObjectKind, h gpu.Handle, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.names[h] = name
}

var _ gpu.Device = (*Device)(nil)
