package pool

import (
	"sync"

	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

// SemaphorePool recycles semaphores on Reset. A semaphore requested with
// ownership leaves the pool and comes back only once the owner releases it
// and the pool is reset, so it can outlive the frame that requested it.
type SemaphorePool struct {
	mu          sync.Mutex
	device      gpu.Device
	semaphores  []gpu.Handle
	released    []gpu.Handle
	activeCount int
}

func NewSemaphorePool(device gpu.Device) *SemaphorePool {
	return &SemaphorePool{device: device}
}

func (p *SemaphorePool) RequestSemaphore() (gpu.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.activeCount < len(p.semaphores) {
		s := p.semaphores[p.activeCount]
		p.activeCount++
		return s, nil
	}

	s, err := p.device.CreateSemaphore()
	if err != nil {
		return gpu.NullHandle, gpu.NewCreationError(gpu.KindSemaphore, len(p.semaphores), err)
	}
	p.semaphores = append(p.semaphores, s)
	p.activeCount++
	return s, nil
}

// RequestSemaphoreWithOwnership takes an idle semaphore out of the pool, or
// creates one the pool does not track. The caller hands it back with
// ReleaseOwnedSemaphore.
func (p *SemaphorePool) RequestSemaphoreWithOwnership() (gpu.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.activeCount < len(p.semaphores) {
		last := len(p.semaphores) - 1
		s := p.semaphores[last]
		p.semaphores = p.semaphores[:last]
		return s, nil
	}

	s, err := p.device.CreateSemaphore()
	if err != nil {
		return gpu.NullHandle, gpu.NewCreationError(gpu.KindSemaphore, len(p.semaphores), err)
	}
	return s, nil
}

// ReleaseOwnedSemaphore stages s. It becomes reusable after the next Reset,
// when whatever signaled it is known to be done.
func (p *SemaphorePool) ReleaseOwnedSemaphore(s gpu.Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, s)
}

func (p *SemaphorePool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeCount = 0
	p.semaphores = append(p.semaphores, p.released...)
	p.released = nil
}

func (p *SemaphorePool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeCount
}

// Size is the number of semaphores the pool currently tracks.
func (p *SemaphorePool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.semaphores)
}

func (p *SemaphorePool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.semaphores {
		p.device.Destroy(gpu.KindSemaphore, s)
	}
	for _, s := range p.released {
		p.device.Destroy(gpu.KindSemaphore, s)
	}
	p.semaphores = nil
	p.released = nil
	p.activeCount = 0
}
