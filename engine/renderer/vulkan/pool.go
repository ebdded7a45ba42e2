package vulkan

import "sync"

// LockGroup names a family of native calls that need external synchronization
// against each other.
type LockGroup string

const (
	ResourceManagement        LockGroup = "resource_management"
	CommandPoolManagement     LockGroup = "command_pool_management"
	DescriptorManagement      LockGroup = "descriptor_management"
	RenderpassManagement      LockGroup = "renderpass_management"
	BufferManagement          LockGroup = "buffer_management"
	DeviceManagement          LockGroup = "device_management"
	PipelineManagement        LockGroup = "pipeline_management"
	MemoryManagement          LockGroup = "memory_management"
	ShaderManagement          LockGroup = "shader_management"
	SynchronizationManagement LockGroup = "synchronization_management"
)

// LockPool hands out one mutex per lock group and one per queue family.
type LockPool struct {
	mu    sync.Mutex // Protects access to the maps
	locks map[LockGroup]*sync.Mutex

	queueMutexes map[uint32]*sync.Mutex // Queue family index as key
}

func NewLockPool() *LockPool {
	return &LockPool{
		locks:        make(map[LockGroup]*sync.Mutex),
		queueMutexes: make(map[uint32]*sync.Mutex),
	}
}

func (lp *LockPool) groupLock(group LockGroup) *sync.Mutex {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	l, exists := lp.locks[group]
	if !exists {
		l = &sync.Mutex{}
		lp.locks[group] = l
	}
	return l
}

func (lp *LockPool) queueLock(family uint32) *sync.Mutex {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	l, exists := lp.queueMutexes[family]
	if !exists {
		l = &sync.Mutex{}
		lp.queueMutexes[family] = l
	}
	return l
}

// SafeCall runs fn while holding the group's mutex.
func (lp *LockPool) SafeCall(group LockGroup, fn func() error) error {
	l := lp.groupLock(group)
	l.Lock()
	defer l.Unlock()

	return fn()
}

// SetQueueFamily registers a queue family ahead of its first submit.
func (lp *LockPool) SetQueueFamily(index uint32) {
	lp.queueLock(index)
}

// SafeQueueCall serializes fn against every other call on the same queue family.
func (lp *LockPool) SafeQueueCall(queueFamilyIndex uint32, fn func() error) error {
	l := lp.queueLock(queueFamilyIndex)
	l.Lock()
	defer l.Unlock()

	return fn()
}
