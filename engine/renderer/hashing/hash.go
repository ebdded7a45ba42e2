// Package hashing folds construction arguments into 64-bit fingerprints.
//
// Combination is order sensitive: Combine(Combine(s, a), b) differs from
// Combine(Combine(s, b), a) for almost every a != b. Containers fold their
// length first, then their elements in iteration order; maps iterate in key
// order so two maps with equal contents always fingerprint the same.
package hashing

import (
	"hash/fnv"
	"math"
	"slices"

	"golang.org/x/exp/constraints"
)

const golden uint64 = 0x9e3779b97f4a7c15

// Combine folds value into seed.
func Combine(seed, value uint64) uint64 {
	return seed ^ (value + golden + (seed << 6) + (seed >> 2))
}

// Hashable is implemented by domain values that define their own field order.
type Hashable interface {
	HashInto(h *Hasher)
}

// Hasher accumulates a fingerprint. The zero value is ready to use.
type Hasher struct {
	seed uint64
}

func New() *Hasher {
	return &Hasher{}
}

func (h *Hasher) Sum() uint64 {
	return h.seed
}

func (h *Hasher) Uint64(v uint64) *Hasher {
	h.seed = Combine(h.seed, v)
	return h
}

func (h *Hasher) Uint32(v uint32) *Hasher {
	return h.Uint64(uint64(v))
}

func (h *Hasher) Int(v int) *Hasher {
	return h.Uint64(uint64(v))
}

func (h *Hasher) Int32(v int32) *Hasher {
	return h.Uint64(uint64(int64(v)))
}

func (h *Hasher) Bool(v bool) *Hasher {
	if v {
		return h.Uint64(1)
	}
	return h.Uint64(0)
}

func (h *Hasher) Float32(v float32) *Hasher {
	return h.Uint64(uint64(math.Float32bits(v)))
}

func (h *Hasher) String(s string) *Hasher {
	f := fnv.New64a()
	_, _ = f.Write([]byte(s)) // fnv.Write never returns an error
	return h.Uint64(uint64(len(s))).Uint64(f.Sum64())
}

func (h *Hasher) Bytes(b []byte) *Hasher {
	f := fnv.New64a()
	_, _ = f.Write(b)
	return h.Uint64(uint64(len(b))).Uint64(f.Sum64())
}

func (h *Hasher) Words(words []uint32) *Hasher {
	f := fnv.New64a()
	var buf [4]byte
	for _, w := range words {
		buf[0], buf[1], buf[2], buf[3] = byte(w), byte(w>>8), byte(w>>16), byte(w>>24)
		_, _ = f.Write(buf[:])
	}
	return h.Uint64(uint64(len(words))).Uint64(f.Sum64())
}

// Value folds a domain value. A nil value folds as an empty marker.
func (h *Hasher) Value(v Hashable) *Hasher {
	if v == nil {
		return h.Uint64(0)
	}
	v.HashInto(h)
	return h
}

// Slice folds len(s) and then every element through fn.
func Slice[T any](h *Hasher, s []T, fn func(*Hasher, T)) *Hasher {
	h.Uint64(uint64(len(s)))
	for _, v := range s {
		fn(h, v)
	}
	return h
}

// Values folds a slice of Hashable values.
func Values[T Hashable](h *Hasher, s []T) *Hasher {
	return Slice(h, s, func(h *Hasher, v T) { h.Value(v) })
}

// Map folds len(m) and then every (key, value) pair in ascending key order.
func Map[K constraints.Ordered, V any](h *Hasher, m map[K]V, key func(*Hasher, K), value func(*Hasher, V)) *Hasher {
	h.Uint64(uint64(len(m)))
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		key(h, k)
		value(h, m[k])
	}
	return h
}

// Of fingerprints a sequence of domain values.
func Of(values ...Hashable) uint64 {
	h := New()
	for _, v := range values {
		h.Value(v)
	}
	return h.Sum()
}
