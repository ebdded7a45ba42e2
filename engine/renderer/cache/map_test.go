package cache

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

type entry struct {
	key uint64
}

func TestMapRekey(t *testing.T) {
	m := NewMap[*entry](gpu.KindDescriptorSet)
	for _, k := range []uint64{1, 2, 3} {
		k := k
		if _, err := m.Request(k, func() (*entry, error) { return &entry{key: k}, nil }); err != nil {
			t.Fatal(err)
		}
	}

	// 1 moves to 10, 2 collides with 3 and is dropped.
	var dropped []*entry
	moved := m.Rekey(func(e *entry) (uint64, bool) {
		switch e.key {
		case 1:
			e.key = 10
			return 10, true
		case 2:
			return 3, true
		}
		return e.key, false
	}, func(e *entry) { dropped = append(dropped, e) })
	if moved != 1 {
		t.Errorf("moved = %d, want 1", moved)
	}
	if e, ok := m.Get(10); !ok || e.key != 10 {
		t.Error("entry not found under its new key")
	}
	if _, ok := m.Get(1); ok {
		t.Error("entry still found under its old key")
	}
	if e, ok := m.Get(3); !ok || e.key != 3 {
		t.Error("colliding entry replaced the resident one")
	}
	if len(dropped) != 1 || dropped[0].key != 2 {
		t.Errorf("dropped = %v, want the entry of key 2", dropped)
	}
	if m.Len() != 2 {
		t.Errorf("len = %d, want 2", m.Len())
	}
}

func TestMapRekeyMovedEntriesCollide(t *testing.T) {
	m := NewMap[*entry](gpu.KindDescriptorSet)
	for _, k := range []uint64{4, 5, 6} {
		k := k
		if _, err := m.Request(k, func() (*entry, error) { return &entry{key: k}, nil }); err != nil {
			t.Fatal(err)
		}
	}

	// 4 and 5 both move to 40. 6 moves away, so 40 was never resident.
	var dropped []*entry
	moved := m.Rekey(func(e *entry) (uint64, bool) {
		if e.key == 6 {
			return 60, true
		}
		return 40, true
	}, func(e *entry) { dropped = append(dropped, e) })
	if moved != 2 {
		t.Errorf("moved = %d, want 2", moved)
	}
	if e, ok := m.Get(40); !ok || e.key != 4 {
		t.Errorf("key 40 holds %v, want the entry of the lower fingerprint", e)
	}
	if len(dropped) != 1 || dropped[0].key != 5 {
		t.Errorf("dropped = %v, want the entry of key 5", dropped)
	}
	if m.Len() != 2 {
		t.Errorf("len = %d, want 2", m.Len())
	}
}

func TestMapFailedBuild(t *testing.T) {
	m := NewMap[*entry](gpu.KindFramebuffer)
	if _, err := m.Request(7, func() (*entry, error) { return &entry{}, nil }); err != nil {
		t.Fatal(err)
	}

	_, err := m.Request(8, func() (*entry, error) { return nil, gpu.ErrorOutOfHostMemory })
	var ce *gpu.CreationError
	if !errors.As(err, &ce) || ce.Kind != gpu.KindFramebuffer || ce.Ordinal != 1 {
		t.Fatalf("got %v, want framebuffer #1 creation error", err)
	}
	if _, ok := m.Get(8); ok {
		t.Error("failed build was inserted")
	}

	destroyed := 0
	m.Clear(func(*entry) { destroyed++ })
	if destroyed != 1 || m.Len() != 0 {
		t.Errorf("clear destroyed %d, left %d", destroyed, m.Len())
	}
	if s := m.Stats(); s.Misses != 1 || s.Hits != 0 {
		t.Errorf("stats = %+v", s)
	}
}
