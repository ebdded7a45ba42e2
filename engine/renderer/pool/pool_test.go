package pool

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/gpu/gputest"
)

func TestFencePoolWaitsForLateSignal(t *testing.T) {
	device := gputest.New()
	p := NewFencePool(device)

	a, err := p.RequestFence()
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.RequestFence()
	if err != nil {
		t.Fatal(err)
	}

	const delay = 30 * time.Millisecond
	start := time.Now()
	go func() {
		time.Sleep(delay)
		device.SignalFence(a)
		device.SignalFence(b)
	}()
	if err := p.Wait(time.Second); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < delay {
		t.Errorf("wait returned after %s, before the fences were signaled", elapsed)
	}

	if err := p.Reset(); err != nil {
		t.Fatal(err)
	}
	if p.ActiveCount() != 0 || p.Capacity() != 2 {
		t.Errorf("active %d, capacity %d after reset", p.ActiveCount(), p.Capacity())
	}
	if f, _ := p.RequestFence(); f != a {
		t.Error("reset pool did not hand out its first fence again")
	}
	if device.Created(gpu.KindFence) != 2 {
		t.Errorf("created %d fences, want 2", device.Created(gpu.KindFence))
	}
}

func TestFencePoolTimeout(t *testing.T) {
	device := gputest.New()
	p := NewFencePool(device)
	if _, err := p.RequestFence(); err != nil {
		t.Fatal(err)
	}

	err := p.Wait(10 * time.Millisecond)
	if !errors.Is(err, gpu.ErrSynchronization) {
		t.Fatalf("got %v, want synchronization error", err)
	}
	if !errors.Is(err, gpu.Timeout) {
		t.Errorf("native timeout lost: %v", err)
	}

	if err := NewFencePool(device).Wait(0); err != nil {
		t.Errorf("waiting on an idle pool: %v", err)
	}
}

func TestSemaphorePoolOwnership(t *testing.T) {
	device := gputest.New()
	p := NewSemaphorePool(device)

	first, _ := p.RequestSemaphore()
	second, _ := p.RequestSemaphore()
	p.Reset()

	// Both are idle now, ownership takes the last one out of the pool.
	owned, err := p.RequestSemaphoreWithOwnership()
	if err != nil {
		t.Fatal(err)
	}
	if owned != second || p.Size() != 1 {
		t.Fatalf("owned %d, pool size %d", owned, p.Size())
	}
	if s, _ := p.RequestSemaphore(); s != first {
		t.Error("pool semaphore not reused")
	}

	// Nothing idle: the owned semaphore is created outside the pool.
	extra, err := p.RequestSemaphoreWithOwnership()
	if err != nil {
		t.Fatal(err)
	}
	if p.Size() != 1 || device.Created(gpu.KindSemaphore) != 3 {
		t.Errorf("pool size %d, created %d", p.Size(), device.Created(gpu.KindSemaphore))
	}

	p.ReleaseOwnedSemaphore(owned)
	p.ReleaseOwnedSemaphore(extra)
	if p.Size() != 1 {
		t.Error("released semaphores joined the pool before reset")
	}
	p.Reset()
	if p.Size() != 3 || p.ActiveCount() != 0 {
		t.Errorf("after reset size %d, active %d", p.Size(), p.ActiveCount())
	}

	p.Destroy()
	if device.Live(gpu.KindSemaphore) != 0 {
		t.Errorf("%d semaphores leaked", device.Live(gpu.KindSemaphore))
	}
}

func TestBufferBlockBounds(t *testing.T) {
	device := gputest.New() // uniform alignment 256, storage 64

	tests := []struct {
		name   string
		usage  gpu.BufferUsage
		size   uint64
		allocs []uint64
		want   []bool
		offset uint64
	}{
		{
			name:   "uniform aligned to 256",
			usage:  gpu.BufferUsageUniform,
			size:   1024,
			allocs: []uint64{100, 100, 256, 256, 1},
			want:   []bool{true, true, true, true, false},
			offset: 1024,
		},
		{
			name:   "storage aligned to 64",
			usage:  gpu.BufferUsageStorage,
			size:   256,
			allocs: []uint64{10, 10, 10, 200},
			want:   []bool{true, true, true, false},
			offset: 138,
		},
		{
			name:   "vertex aligned to 16",
			usage:  gpu.BufferUsageVertex | gpu.BufferUsageTransferDst,
			size:   64,
			allocs: []uint64{1, 48, 1},
			want:   []bool{true, true, false},
			offset: 64,
		},
		{
			name:   "zero sized allocation",
			usage:  gpu.BufferUsageIndex,
			size:   64,
			allocs: []uint64{0, 64, 0, 1},
			want:   []bool{true, true, true, false},
			offset: 64,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewBufferBlock(device, tt.size, tt.usage, gpu.MemoryUsageCPUToGPU)
			if err != nil {
				t.Fatal(err)
			}
			var total uint64
			for i, size := range tt.allocs {
				fits := b.AlignedOffset()+size <= tt.size
				a := b.Allocate(size)
				if a.Empty() == tt.want[i] || fits != tt.want[i] {
					t.Fatalf("allocation %d of %d bytes: empty=%v, want success=%v", i, size, a.Empty(), tt.want[i])
				}
				if !a.Empty() {
					if a.Offset()%b.Alignment() != 0 {
						t.Errorf("offset %d not aligned to %d", a.Offset(), b.Alignment())
					}
					total += size
				}
			}
			if b.Offset() != tt.offset || b.Offset() < total || b.Offset() > tt.size {
				t.Errorf("offset = %d, want %d (allocated %d of %d)", b.Offset(), tt.offset, total, tt.size)
			}
			b.Reset()
			if b.Offset() != 0 {
				t.Error("reset did not rewind the block")
			}
		})
	}

	if _, err := NewBufferBlock(device, 64, gpu.BufferUsageTransferSrc, gpu.MemoryUsageCPUToGPU); !errors.Is(err, gpu.ErrConfiguration) {
		t.Errorf("transfer-only block: got %v, want configuration error", err)
	}
}

func TestBufferAllocationUpdate(t *testing.T) {
	device := gputest.New()
	b, err := NewBufferBlock(device, 512, gpu.BufferUsageStorage, gpu.MemoryUsageCPUToGPU)
	if err != nil {
		t.Fatal(err)
	}
	b.Allocate(8)
	a := b.Allocate(16)
	if err := a.Update([]byte{1, 2, 3, 4}, 4); err != nil {
		t.Fatal(err)
	}
	mem := device.Buffer(a.Buffer())
	if got := mem[a.Offset()+4 : a.Offset()+8]; string(got) != "\x01\x02\x03\x04" {
		t.Errorf("buffer contents = %v", got)
	}
	if err := a.Update(make([]byte, 16), 4); !errors.Is(err, gpu.ErrConfiguration) {
		t.Errorf("overflow: got %v", err)
	}
	if err := (BufferAllocation{}).Update([]byte{1}, 0); !errors.Is(err, gpu.ErrConfiguration) {
		t.Errorf("empty allocation: got %v", err)
	}
}

func TestBufferPoolRequestBlock(t *testing.T) {
	device := gputest.New()
	p := NewBufferPool(device, 1024, gpu.BufferUsageUniform, gpu.MemoryUsageCPUToGPU)

	b, err := p.RequestBufferBlock(256, false)
	if err != nil {
		t.Fatal(err)
	}
	if b.Size() != 1024 {
		t.Errorf("block size = %d, want the configured 1024", b.Size())
	}
	b.Allocate(512)
	if again, _ := p.RequestBufferBlock(256, false); again != b {
		t.Error("block with room was not reused")
	}
	big, _ := p.RequestBufferBlock(4096, false)
	if big == b || big.Size() != 4096 {
		t.Errorf("oversized request got a %d byte block", big.Size())
	}

	exact, _ := p.RequestBufferBlock(300, true)
	if exact.Size() != 300 {
		t.Errorf("minimal block size = %d, want 300", exact.Size())
	}
	exact.Allocate(300)
	if next, _ := p.RequestBufferBlock(300, true); next == exact {
		t.Error("full minimal block handed out again")
	}
	if p.Blocks() != 4 {
		t.Errorf("blocks = %d, want 4", p.Blocks())
	}

	p.Reset()
	if again, _ := p.RequestBufferBlock(300, true); again != exact {
		t.Error("reset minimal block not reused")
	}
	blocks := p.Blocks()
	for i := 0; i < 3; i++ {
		if _, err := p.RequestBufferBlock(0, i%2 == 0); !errors.Is(err, gpu.ErrConfiguration) {
			t.Errorf("zero byte request: got %v, want configuration error", err)
		}
	}
	if p.Blocks() != blocks {
		t.Errorf("zero byte requests grew the pool to %d blocks", p.Blocks())
	}

	p.Destroy()
	if device.Live(gpu.KindBuffer) != 0 {
		t.Errorf("%d buffers leaked", device.Live(gpu.KindBuffer))
	}
}

func TestCommandPoolReuse(t *testing.T) {
	const k = 3
	tests := []struct {
		mode          ResetMode
		wantAllocated int
		wantBufResets int
		wantPoolReset int
	}{
		{mode: ResetPool, wantAllocated: k, wantPoolReset: 1},
		{mode: ResetIndividually, wantAllocated: k, wantBufResets: k},
		{mode: AlwaysAllocate, wantAllocated: 2 * k},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			device := gputest.New()
			p, err := NewCommandPool(device, 0, 0, tt.mode)
			if err != nil {
				t.Fatal(err)
			}

			first := make(map[gpu.Handle]bool)
			for i := 0; i < k; i++ {
				cmd, err := p.RequestCommandBuffer(gpu.CommandBufferLevelPrimary)
				if err != nil {
					t.Fatal(err)
				}
				first[cmd.Handle] = true
			}
			if err := p.ResetPool(); err != nil {
				t.Fatal(err)
			}
			if p.ActiveCount(gpu.CommandBufferLevelPrimary) != 0 {
				t.Fatal("reset kept active buffers")
			}

			reused := 0
			for i := 0; i < k; i++ {
				cmd, err := p.RequestCommandBuffer(gpu.CommandBufferLevelPrimary)
				if err != nil {
					t.Fatal(err)
				}
				if first[cmd.Handle] {
					reused++
				}
			}

			if got := device.Created(gpu.KindCommandBuffer); got != tt.wantAllocated {
				t.Errorf("allocated %d command buffers, want %d", got, tt.wantAllocated)
			}
			if tt.mode != AlwaysAllocate && reused != k {
				t.Errorf("reused %d of %d buffers", reused, k)
			}
			if tt.mode == AlwaysAllocate && (reused != 0 || device.Destroyed(gpu.KindCommandBuffer) != k) {
				t.Errorf("reused %d, freed %d", reused, device.Destroyed(gpu.KindCommandBuffer))
			}
			if device.CommandBufferResets() != tt.wantBufResets || device.CommandPoolResets() != tt.wantPoolReset {
				t.Errorf("buffer resets %d, pool resets %d", device.CommandBufferResets(), device.CommandPoolResets())
			}
		})
	}
}

func TestCommandBufferStates(t *testing.T) {
	device := gputest.New()
	p, err := NewCommandPool(device, 0, 0, ResetPool)
	if err != nil {
		t.Fatal(err)
	}
	primary, _ := p.RequestCommandBuffer(gpu.CommandBufferLevelPrimary)
	secondary, _ := p.RequestCommandBuffer(gpu.CommandBufferLevelSecondary)
	if p.AllocatedCount(gpu.CommandBufferLevelPrimary) != 1 || p.AllocatedCount(gpu.CommandBufferLevelSecondary) != 1 {
		t.Fatal("levels share a list")
	}
	if secondary.Level != gpu.CommandBufferLevelSecondary {
		t.Error("wrong level")
	}

	if err := primary.End(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("end before begin: %v", err)
	}
	if err := primary.Begin(true); err != nil {
		t.Fatal(err)
	}
	if err := primary.Begin(true); !errors.Is(err, ErrInvalidState) {
		t.Errorf("double begin: %v", err)
	}
	if err := primary.End(); err != nil {
		t.Fatal(err)
	}
	primary.UpdateSubmitted()
	if primary.State != COMMAND_BUFFER_STATE_SUBMITTED {
		t.Errorf("state = %s", primary.State)
	}
	if err := p.ResetPool(); err != nil {
		t.Fatal(err)
	}
	if primary.State != COMMAND_BUFFER_STATE_READY {
		t.Errorf("state after reset = %s", primary.State)
	}
}
