package vulkan

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

// object is one native handle owned by the Device, keyed by its gpu.Handle.
type object struct {
	kind  gpu.ObjectKind
	name  string
	value any
}

// registry maps the opaque handles the cache layer sees to native objects.
type registry struct {
	mu      sync.RWMutex
	next    gpu.Handle
	objects map[gpu.Handle]*object
}

func newRegistry() *registry {
	return &registry{objects: make(map[gpu.Handle]*object)}
}

func (r *registry) add(kind gpu.ObjectKind, value any) gpu.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	r.objects[r.next] = &object{kind: kind, value: value}
	return r.next
}

func (r *registry) get(h gpu.Handle) (*object, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.objects[h]
	return o, ok
}

func (r *registry) remove(h gpu.Handle) (*object, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.objects[h]
	if ok {
		delete(r.objects, h)
	}
	return o, ok
}

func (r *registry) setName(h gpu.Handle, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.objects[h]
	if ok {
		o.name = name
	}
	return ok
}

// live counts the objects of one kind.
func (r *registry) live(kind gpu.ObjectKind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, o := range r.objects {
		if o.kind == kind {
			n++
		}
	}
	return n
}

// kinds snapshots the kind of every registered handle.
func (r *registry) kinds() map[gpu.Handle]gpu.ObjectKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[gpu.Handle]gpu.ObjectKind, len(r.objects))
	for h, o := range r.objects {
		out[h] = o.kind
	}
	return out
}

func lookup[T any](r *registry, kind gpu.ObjectKind, h gpu.Handle) (T, error) {
	var zero T
	o, ok := r.get(h)
	if !ok || o.kind != kind {
		return zero, errors.Mark(errors.Newf("unknown %s handle %d", kind, h), gpu.ErrNotFound)
	}
	v, ok := o.value.(T)
	if !ok {
		return zero, errors.Mark(errors.Newf("%s handle %d holds %T", kind, h, o.value), gpu.ErrNotFound)
	}
	return v, nil
}

func lookupAll[T any](r *registry, kind gpu.ObjectKind, hs []gpu.Handle) ([]T, error) {
	out := make([]T, len(hs))
	for i, h := range hs {
		v, err := lookup[T](r, kind, h)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
