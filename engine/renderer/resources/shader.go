// Package resources holds the GPU objects the resource cache deduplicates.
// Every constructor takes the gpu.Device plus the arguments that identify
// the object, and every object carries the fingerprint of those arguments
// in its ID field.
package resources

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/hashing"
)

type ShaderResourceType uint32

const (
	ShaderResourceInput ShaderResourceType = iota
	ShaderResourceInputAttachment
	ShaderResourceOutput
	ShaderResourceImage
	ShaderResourceImageSampler
	ShaderResourceImageStorage
	ShaderResourceSampler
	ShaderResourceBufferUniform
	ShaderResourceBufferStorage
	ShaderResourcePushConstant
	ShaderResourceSpecializationConstant
)

var resourceTypeNames = map[string]ShaderResourceType{
	"input":                   ShaderResourceInput,
	"input_attachment":        ShaderResourceInputAttachment,
	"output":                  ShaderResourceOutput,
	"image":                   ShaderResourceImage,
	"image_sampler":           ShaderResourceImageSampler,
	"image_storage":           ShaderResourceImageStorage,
	"sampler":                 ShaderResourceSampler,
	"uniform_buffer":          ShaderResourceBufferUniform,
	"storage_buffer":          ShaderResourceBufferStorage,
	"push_constant":           ShaderResourcePushConstant,
	"specialization_constant": ShaderResourceSpecializationConstant,
}

// ParseShaderResourceType maps the names used in reflection sidecars.
func ParseShaderResourceType(name string) (ShaderResourceType, error) {
	t, ok := resourceTypeNames[strings.ToLower(name)]
	if !ok {
		return 0, gpu.ConfigError("unknown shader resource type '%s'", name)
	}
	return t, nil
}

// IsBindable reports whether the resource occupies a descriptor binding.
func (t ShaderResourceType) IsBindable() bool {
	switch t {
	case ShaderResourceInput, ShaderResourceOutput, ShaderResourcePushConstant, ShaderResourceSpecializationConstant:
		return false
	}
	return true
}

type ShaderResourceMode uint32

const (
	ShaderResourceStatic ShaderResourceMode = iota
	ShaderResourceDynamic
	ShaderResourceUpdateAfterBind
)

func ParseShaderResourceMode(name string) (ShaderResourceMode, error) {
	switch strings.ToLower(name) {
	case "", "static":
		return ShaderResourceStatic, nil
	case "dynamic":
		return ShaderResourceDynamic, nil
	case "update_after_bind":
		return ShaderResourceUpdateAfterBind, nil
	}
	return 0, gpu.ConfigError("unknown shader resource mode '%s'", name)
}

// ShaderResource is one reflected input, output, binding or constant.
type ShaderResource struct {
	Name      string
	Stages    gpu.ShaderStage
	Type      ShaderResourceType
	Mode      ShaderResourceMode
	Set       uint32
	Binding   uint32
	Location  uint32
	ArraySize uint32
	Offset    uint32
	Size      uint32
}

func (r ShaderResource) HashInto(h *hashing.Hasher) {
	h.String(r.Name).
		Uint32(uint32(r.Stages)).
		Uint32(uint32(r.Type)).
		Uint32(uint32(r.Mode)).
		Uint32(r.Set).
		Uint32(r.Binding).
		Uint32(r.Location).
		Uint32(r.ArraySize).
		Uint32(r.Offset).
		Uint32(r.Size)
}

// ShaderSource is compiled SPIR-V plus the resources reflected from it.
type ShaderSource struct {
	Name      string
	Code      []uint32
	Resources []ShaderResource
}

func (s *ShaderSource) HashInto(h *hashing.Hasher) {
	if s == nil {
		h.Uint64(0)
		return
	}
	h.String(s.Name).Words(s.Code)
	hashing.Values(h, s.Resources)
}

// ShaderVariant selects one permutation of a source: a preamble of defines
// and per-resource overrides applied on top of the reflection data.
type ShaderVariant struct {
	Preamble          string
	ResourceModes     map[string]ShaderResourceMode
	RuntimeArraySizes map[string]uint32
}

func NewShaderVariant() *ShaderVariant {
	return &ShaderVariant{
		ResourceModes:     make(map[string]ShaderResourceMode),
		RuntimeArraySizes: make(map[string]uint32),
	}
}

func (v *ShaderVariant) AddDefine(def string) {
	v.Preamble += fmt.Sprintf("#define %s\n", strings.Replace(def, "=", " ", 1))
}

func (v *ShaderVariant) SetResourceMode(name string, mode ShaderResourceMode) {
	if v.ResourceModes == nil {
		v.ResourceModes = make(map[string]ShaderResourceMode)
	}
	v.ResourceModes[name] = mode
}

func (v *ShaderVariant) SetRuntimeArraySize(name string, size uint32) {
	if v.RuntimeArraySizes == nil {
		v.RuntimeArraySizes = make(map[string]uint32)
	}
	v.RuntimeArraySizes[name] = size
}

func (v *ShaderVariant) HashInto(h *hashing.Hasher) {
	if v == nil {
		h.Uint64(0)
		return
	}
	h.String(v.Preamble)
	hashing.Map(h, v.ResourceModes, hashString, func(h *hashing.Hasher, m ShaderResourceMode) { h.Uint32(uint32(m)) })
	hashing.Map(h, v.RuntimeArraySizes, hashString, func(h *hashing.Hasher, n uint32) { h.Uint32(n) })
}

func hashString(h *hashing.Hasher, s string) { h.String(s) }

// apply returns a copy of resources with the variant overrides applied.
func (v *ShaderVariant) apply(resources []ShaderResource) []ShaderResource {
	out := append([]ShaderResource(nil), resources...)
	if v == nil {
		return out
	}
	for i := range out {
		r := &out[i]
		if mode, ok := v.ResourceModes[r.Name]; ok && r.Type.IsBindable() {
			// Only buffers take a dynamic offset.
			isBuffer := r.Type == ShaderResourceBufferUniform || r.Type == ShaderResourceBufferStorage
			if mode != ShaderResourceDynamic || isBuffer {
				r.Mode = mode
			}
		}
		if size, ok := v.RuntimeArraySizes[r.Name]; ok && r.ArraySize == 0 {
			r.ArraySize = size
		}
	}
	return out
}

type ShaderModule struct {
	ID         uint64
	Handle     gpu.Handle
	Name       string
	Stage      gpu.ShaderStage
	EntryPoint string
	Resources  []ShaderResource
}

func ShaderModuleKey(stage gpu.ShaderStage, source *ShaderSource, entryPoint string, variant *ShaderVariant) uint64 {
	h := hashing.New().Uint32(uint32(stage)).Value(source).String(entryPoint)
	variant.HashInto(h)
	return h.Sum()
}

func NewShaderModule(device gpu.Device, stage gpu.ShaderStage, source *ShaderSource, entryPoint string, variant *ShaderVariant) (*ShaderModule, error) {
	if source == nil || len(source.Code) == 0 {
		return nil, gpu.ConfigError("shader module for stage %#x has no SPIR-V code", uint32(stage))
	}
	if entryPoint == "" {
		entryPoint = "main"
	}

	handle, err := device.CreateShaderModule(stage, source.Code)
	if err != nil {
		return nil, errors.Wrapf(err, "shader module %s", source.Name)
	}
	device.SetDebugName(gpu.KindShaderModule, handle, source.Name)

	resources := variant.apply(source.Resources)
	for i := range resources {
		resources[i].Stages |= stage
	}

	return &ShaderModule{
		ID:         ShaderModuleKey(stage, source, entryPoint, variant),
		Handle:     handle,
		Name:       source.Name,
		Stage:      stage,
		EntryPoint: entryPoint,
		Resources:  resources,
	}, nil
}

func (m *ShaderModule) HashInto(h *hashing.Hasher) {
	h.Uint64(m.ID)
}

func (m *ShaderModule) Destroy(device gpu.Device) {
	device.Destroy(gpu.KindShaderModule, m.Handle)
}
