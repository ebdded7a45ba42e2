package hashing

import "testing"

type point struct {
	x, y uint32
}

func (p point) HashInto(h *Hasher) {
	h.Uint32(p.x).Uint32(p.y)
}

func TestHashStableAcrossInstances(t *testing.T) {
	a := []point{{1, 2}, {3, 4}}
	b := make([]point, 0, 8)
	b = append(b, point{1, 2}, point{3, 4})

	ha := Values(New().String("layout"), a).Sum()
	hb := Values(New().String("layout"), b).Sum()
	if ha != hb {
		t.Fatalf("equal contents produced different fingerprints: %x vs %x", ha, hb)
	}
}

func TestHashOrderSensitive(t *testing.T) {
	ab := New().Uint64(1).Uint64(2).Sum()
	ba := New().Uint64(2).Uint64(1).Sum()
	if ab == ba {
		t.Fatal("combine must not be commutative")
	}

	s1 := Values(New(), []point{{1, 2}, {3, 4}}).Sum()
	s2 := Values(New(), []point{{3, 4}, {1, 2}}).Sum()
	if s1 == s2 {
		t.Fatal("element order must change the fingerprint")
	}
}

func TestHashLengthPrefix(t *testing.T) {
	empty := Slice(New(), []uint32{}, func(h *Hasher, v uint32) { h.Uint32(v) }).Sum()
	zero := Slice(New(), []uint32{0}, func(h *Hasher, v uint32) { h.Uint32(v) }).Sum()
	if empty == zero {
		t.Fatal("an empty slice must differ from a slice holding a zero")
	}
	if New().String("ab").String("c").Sum() == New().String("a").String("bc").Sum() {
		t.Fatal("string boundaries must be part of the fingerprint")
	}
}

func TestHashMapKeyOrdered(t *testing.T) {
	build := func(keys []uint32) map[uint32]string {
		m := make(map[uint32]string)
		for _, k := range keys {
			m[k] = "v"
		}
		return m
	}
	key := func(h *Hasher, k uint32) { h.Uint32(k) }
	value := func(h *Hasher, v string) { h.String(v) }

	m1 := build([]uint32{5, 1, 9, 3})
	m2 := build([]uint32{9, 3, 1, 5})
	for i := 0; i < 16; i++ {
		if Map(New(), m1, key, value).Sum() != Map(New(), m2, key, value).Sum() {
			t.Fatal("maps with equal contents must fingerprint the same")
		}
	}
	m2[7] = "v"
	if Map(New(), m1, key, value).Sum() == Map(New(), m2, key, value).Sum() {
		t.Fatal("an extra key must change the fingerprint")
	}
}

func TestOfMatchesValue(t *testing.T) {
	if Of(point{1, 2}, point{3, 4}) != New().Value(point{1, 2}).Value(point{3, 4}).Sum() {
		t.Fatal("Of must fold values in order")
	}
	if Of(point{1, 2}) == Of(point{2, 1}) {
		t.Fatal("field order must matter")
	}
}
