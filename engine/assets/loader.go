package assets

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/resources"
)

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic uint32 = 0x07230203

// ErrInvalidShader marks SPIR-V binaries and sidecars that cannot be decoded.
var ErrInvalidShader = errors.New("invalid shader asset")

// sidecar is the reflection data stored next to a .spv file as <name>.toml.
type sidecar struct {
	Stage      string             `toml:"stage"`
	EntryPoint string             `toml:"entry_point"`
	Resources  []sidecarResource  `toml:"resources"`
	Variants   map[string]variant `toml:"variants"`
}

type sidecarResource struct {
	Name      string   `toml:"name"`
	Type      string   `toml:"type"`
	Mode      string   `toml:"mode"`
	Stages    []string `toml:"stages"`
	Set       uint32   `toml:"set"`
	Binding   uint32   `toml:"binding"`
	Location  uint32   `toml:"location"`
	ArraySize uint32   `toml:"array_size"`
	Offset    uint32   `toml:"offset"`
	Size      uint32   `toml:"size"`
}

type variant struct {
	Preamble          string            `toml:"preamble"`
	ResourceModes     map[string]string `toml:"resource_modes"`
	RuntimeArraySizes map[string]uint32 `toml:"runtime_array_sizes"`
}

var stageNames = map[string]gpu.ShaderStage{
	"vertex":       gpu.ShaderStageVertex,
	"vert":         gpu.ShaderStageVertex,
	"tess_control": gpu.ShaderStageTessControl,
	"tesc":         gpu.ShaderStageTessControl,
	"tess_eval":    gpu.ShaderStageTessEval,
	"tese":         gpu.ShaderStageTessEval,
	"geometry":     gpu.ShaderStageGeometry,
	"geom":         gpu.ShaderStageGeometry,
	"fragment":     gpu.ShaderStageFragment,
	"frag":         gpu.ShaderStageFragment,
	"compute":      gpu.ShaderStageCompute,
	"comp":         gpu.ShaderStageCompute,
}

func parseStage(name string) (gpu.ShaderStage, error) {
	stage, ok := stageNames[strings.ToLower(name)]
	if !ok {
		return 0, errors.Mark(errors.Newf("unknown shader stage '%s'", name), ErrInvalidShader)
	}
	return stage, nil
}

// shaderName strips the directory and the .spv extension, so
// shaders/sky.frag.spv is named "sky.frag".
func shaderName(dir, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	return strings.TrimSuffix(filepath.ToSlash(rel), ".spv")
}

func sidecarPath(spvPath string) string {
	return strings.TrimSuffix(spvPath, ".spv") + ".toml"
}

// loadShader reads one SPIR-V binary and its optional sidecar.
func loadShader(name, path string) (*ShaderAsset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read shader %s", path)
	}
	code, err := bytesToBytecode(data)
	if err != nil {
		return nil, errors.Wrapf(err, "decode shader %s", path)
	}

	var meta sidecar
	metaData, err := os.ReadFile(sidecarPath(path))
	switch {
	case err == nil:
		if err := toml.Unmarshal(metaData, &meta); err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "decode sidecar of %s", name), ErrInvalidShader)
		}
	case !os.IsNotExist(err):
		return nil, errors.Wrapf(err, "read sidecar of %s", name)
	}

	// Without an explicit stage the second extension decides: sky.frag.spv.
	stageName := meta.Stage
	if stageName == "" {
		stageName = strings.TrimPrefix(filepath.Ext(name), ".")
	}
	stage, err := parseStage(stageName)
	if err != nil {
		return nil, errors.Wrapf(err, "shader %s", name)
	}

	reflected, err := meta.resources(stage)
	if err != nil {
		return nil, errors.Wrapf(err, "shader %s", name)
	}
	variants, err := meta.variants()
	if err != nil {
		return nil, errors.Wrapf(err, "shader %s", name)
	}

	entryPoint := meta.EntryPoint
	if entryPoint == "" {
		entryPoint = "main"
	}
	return &ShaderAsset{
		Name:       name,
		Path:       path,
		Stage:      stage,
		EntryPoint: entryPoint,
		Source: &resources.ShaderSource{
			Name:      name,
			Code:      code,
			Resources: reflected,
		},
		Variants: variants,
	}, nil
}

func (s *sidecar) resources(stage gpu.ShaderStage) ([]resources.ShaderResource, error) {
	out := make([]resources.ShaderResource, 0, len(s.Resources))
	for _, r := range s.Resources {
		t, err := resources.ParseShaderResourceType(r.Type)
		if err != nil {
			return nil, err
		}
		mode, err := resources.ParseShaderResourceMode(r.Mode)
		if err != nil {
			return nil, err
		}
		stages := stage
		if len(r.Stages) > 0 {
			stages = 0
			for _, name := range r.Stages {
				st, err := parseStage(name)
				if err != nil {
					return nil, err
				}
				stages |= st
			}
		}
		out = append(out, resources.ShaderResource{
			Name:      r.Name,
			Stages:    stages,
			Type:      t,
			Mode:      mode,
			Set:       r.Set,
			Binding:   r.Binding,
			Location:  r.Location,
			ArraySize: max(r.ArraySize, 1),
			Offset:    r.Offset,
			Size:      r.Size,
		})
	}
	return out, nil
}

func (s *sidecar) variants() (map[string]*resources.ShaderVariant, error) {
	out := make(map[string]*resources.ShaderVariant, len(s.Variants))
	for name, v := range s.Variants {
		sv := resources.NewShaderVariant()
		sv.Preamble = v.Preamble
		for res, modeName := range v.ResourceModes {
			mode, err := resources.ParseShaderResourceMode(modeName)
			if err != nil {
				return nil, errors.Wrapf(err, "variant %s", name)
			}
			sv.SetResourceMode(res, mode)
		}
		for res, size := range v.RuntimeArraySizes {
			sv.RuntimeArraySizes[res] = size
		}
		out[name] = sv
	}
	return out, nil
}

// bytesToBytecode reinterprets a little-endian SPIR-V file as words.
func bytesToBytecode(b []byte) ([]uint32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, errors.Mark(errors.Newf("SPIR-V size %d is not a positive multiple of 4", len(b)), ErrInvalidShader)
	}
	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteIndex := i * 4
		byteCode[i] = 0
		byteCode[i] |= uint32(b[byteIndex])
		byteCode[i] |= uint32(b[byteIndex+1]) << 8
		byteCode[i] |= uint32(b[byteIndex+2]) << 16
		byteCode[i] |= uint32(b[byteIndex+3]) << 24
	}
	if byteCode[0] != spirvMagic {
		return nil, errors.Mark(errors.Newf("bad SPIR-V magic %#08x", byteCode[0]), ErrInvalidShader)
	}
	return byteCode, nil
}
