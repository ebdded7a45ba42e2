package assets

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/resources"
)

func spirv(words ...uint32) []byte {
	out := make([]byte, 0, 4*(len(words)+1))
	out = binary.LittleEndian.AppendUint32(out, spirvMagic)
	for _, w := range words {
		out = binary.LittleEndian.AppendUint32(out, w)
	}
	return out
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

const skySidecar = `
entry_point = "main"

[[resources]]
name = "camera"
type = "uniform_buffer"
stages = ["vertex", "fragment"]
set = 0
binding = 0
size = 64

[[resources]]
name = "sky"
type = "image_sampler"
set = 1
binding = 0

[variants.dynamic_camera]
preamble = "#define DYNAMIC_CAMERA"
resource_modes = { camera = "dynamic" }
`

func TestLoadReadsSidecar(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "sky.frag.spv"), spirv(0x00010000, 7))
	writeFile(t, filepath.Join(dir, "sky.frag.toml"), []byte(skySidecar))
	writeFile(t, filepath.Join(dir, "post", "blur.comp.spv"), spirv(1))
	writeFile(t, filepath.Join(dir, "README.md"), []byte("not a shader"))

	lib := NewShaderLibrary(dir)
	if err := lib.Load(); err != nil {
		t.Fatal(err)
	}
	if names := lib.Names(); len(names) != 2 || names[0] != "post/blur.comp" || names[1] != "sky.frag" {
		t.Fatalf("names = %v", names)
	}

	sky, err := lib.MustGet("sky.frag")
	if err != nil {
		t.Fatal(err)
	}
	if sky.Stage != gpu.ShaderStageFragment || sky.EntryPoint != "main" {
		t.Errorf("stage = %v, entry = %q", sky.Stage, sky.EntryPoint)
	}
	if len(sky.Source.Code) != 3 || sky.Source.Code[2] != 7 {
		t.Errorf("code = %v", sky.Source.Code)
	}
	if len(sky.Source.Resources) != 2 {
		t.Fatalf("resources = %+v", sky.Source.Resources)
	}
	camera := sky.Source.Resources[0]
	if camera.Type != resources.ShaderResourceBufferUniform ||
		camera.Stages != gpu.ShaderStageVertex|gpu.ShaderStageFragment ||
		camera.ArraySize != 1 || camera.Size != 64 {
		t.Errorf("camera = %+v", camera)
	}
	// resources without explicit stages inherit the shader's
	if s := sky.Source.Resources[1]; s.Stages != gpu.ShaderStageFragment || s.Set != 1 {
		t.Errorf("sky = %+v", s)
	}

	if mode := sky.Variant("dynamic_camera").ResourceModes["camera"]; mode != resources.ShaderResourceDynamic {
		t.Errorf("variant mode = %v", mode)
	}
	if v := sky.Variant("missing"); v.Preamble != "" || len(v.ResourceModes) != 0 {
		t.Errorf("missing variant = %+v", v)
	}

	blur, ok := lib.Get("post/blur.comp")
	if !ok || blur.Stage != gpu.ShaderStageCompute || len(blur.Source.Resources) != 0 {
		t.Errorf("blur = %+v", blur)
	}
}

func TestLoadMissingDirectory(t *testing.T) {
	lib := NewShaderLibrary(filepath.Join(t.TempDir(), "nope"))
	if err := lib.Load(); err != nil {
		t.Fatal(err)
	}
	if len(lib.Names()) != 0 {
		t.Error("library should be empty")
	}
	if _, err := lib.MustGet("sky.frag"); err == nil {
		t.Error("expected an error for a missing shader")
	}
}

func TestLoadRejectsInvalidShaders(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		code    []byte
		sidecar string
	}{
		{"truncated", "a.vert.spv", []byte{1, 2, 3}, ""},
		{"empty", "a.vert.spv", nil, ""},
		{"bad magic", "a.vert.spv", []byte{0, 0, 0, 0}, ""},
		{"unknown stage", "a.spv", spirv(), ""},
		{"bad sidecar", "a.vert.spv", spirv(), "stage = "},
		{"unknown resource type", "a.vert.spv", spirv(), "[[resources]]\nname = \"x\"\ntype = \"texture\"\n"},
		{"unknown mode", "a.vert.spv", spirv(), "[[resources]]\nname = \"x\"\ntype = \"uniform_buffer\"\nmode = \"lazy\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, tt.file)
			writeFile(t, path, tt.code)
			if tt.sidecar != "" {
				writeFile(t, sidecarPath(path), []byte(tt.sidecar))
			}
			if err := NewShaderLibrary(dir).Load(); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestBytesToBytecode(t *testing.T) {
	words, err := bytesToBytecode(spirv(0xdeadbeef))
	if err != nil {
		t.Fatal(err)
	}
	if len(words) != 2 || words[0] != spirvMagic || words[1] != 0xdeadbeef {
		t.Errorf("words = %#x", words)
	}
	if _, err := bytesToBytecode([]byte{3, 2, 1}); !errors.Is(err, ErrInvalidShader) {
		t.Errorf("got %v, want ErrInvalidShader", err)
	}
}

type reloadRecorder chan struct{}

func (r reloadRecorder) ReloadShaders() error {
	r <- struct{}{}
	return nil
}

func TestWatchReloadsChangedShader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tri.vert.spv")
	writeFile(t, path, spirv(1))

	lib := NewShaderLibrary(dir)
	if err := lib.Load(); err != nil {
		t.Fatal(err)
	}
	reloads := make(reloadRecorder, 16)
	if err := lib.Watch(reloads); err != nil {
		t.Fatal(err)
	}
	defer lib.Close()

	if err := lib.Watch(reloads); err == nil {
		t.Error("second Watch should fail")
	}

	writeFile(t, path, spirv(1, 2, 3))
	select {
	case <-reloads:
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after the shader changed")
	}
	asset, _ := lib.Get("tri.vert")
	if len(asset.Source.Code) != 4 {
		t.Errorf("reloaded code = %v", asset.Source.Code)
	}

	if err := lib.Close(); err != nil {
		t.Fatal(err)
	}
	if err := lib.Watch(reloads); err == nil {
		t.Error("Watch after Close should fail")
	}
}
