// Package assets loads compiled SPIR-V shaders from disk together with their
// reflection sidecars, and optionally watches the directory for changes.
package assets

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/resources"
)

// ShaderAsset is one loaded .spv file.
type ShaderAsset struct {
	Name       string
	Path       string
	Stage      gpu.ShaderStage
	EntryPoint string
	Source     *resources.ShaderSource
	Variants   map[string]*resources.ShaderVariant
	LastLoaded time.Time
}

// Variant returns the named variant, or an empty one when the sidecar does
// not declare it.
func (a *ShaderAsset) Variant(name string) *resources.ShaderVariant {
	if v, ok := a.Variants[name]; ok {
		return v
	}
	return resources.NewShaderVariant()
}

// Reloader is told when shader binaries changed on disk.
type Reloader interface {
	ReloadShaders() error
}

type ShaderLibrary struct {
	dir     string
	shaders map[string]*ShaderAsset

	mutex sync.RWMutex

	done     chan struct{}
	stopped  chan struct{}
	fsnotify *fsnotify.Watcher
	isClosed bool
}

func NewShaderLibrary(dir string) *ShaderLibrary {
	return &ShaderLibrary{
		dir:     dir,
		shaders: make(map[string]*ShaderAsset),
	}
}

// Load reads every .spv under the library directory. A missing directory
// leaves the library empty.
func (sl *ShaderLibrary) Load() error {
	if _, err := os.Stat(sl.dir); os.IsNotExist(err) {
		core.LogWarn("shader directory '%s' does not exist", sl.dir)
		return nil
	}
	return filepath.WalkDir(sl.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".spv" {
			return nil
		}
		_, err = sl.loadFile(path)
		return err
	})
}

func (sl *ShaderLibrary) loadFile(path string) (*ShaderAsset, error) {
	name := shaderName(sl.dir, path)
	asset, err := loadShader(name, path)
	if err != nil {
		return nil, err
	}
	asset.LastLoaded = time.Now()

	sl.mutex.Lock()
	sl.shaders[name] = asset
	sl.mutex.Unlock()

	core.LogDebug("loaded shader '%s' (%d words, %d resources)", name, len(asset.Source.Code), len(asset.Source.Resources))
	return asset, nil
}

func (sl *ShaderLibrary) Get(name string) (*ShaderAsset, bool) {
	sl.mutex.RLock()
	defer sl.mutex.RUnlock()

	asset, ok := sl.shaders[name]
	return asset, ok
}

// MustGet is Get for shaders the caller cannot run without.
func (sl *ShaderLibrary) MustGet(name string) (*ShaderAsset, error) {
	asset, ok := sl.Get(name)
	if !ok {
		return nil, errors.Newf("shader '%s' not found in %s", name, sl.dir)
	}
	return asset, nil
}

// Names lists the loaded shaders in lexical order.
func (sl *ShaderLibrary) Names() []string {
	sl.mutex.RLock()
	defer sl.mutex.RUnlock()

	names := make([]string, 0, len(sl.shaders))
	for name := range sl.shaders {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Watch reloads shaders as their files change and notifies r after every
// successful reload.
func (sl *ShaderLibrary) Watch(r Reloader) error {
	sl.mutex.Lock()
	defer sl.mutex.Unlock()

	if sl.isClosed {
		return errors.New("shader library already closed")
	}
	if sl.fsnotify != nil {
		return errors.New("shader library is already watching")
	}
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := sl.watchRecursive(fsWatch, sl.dir); err != nil {
		fsWatch.Close()
		return err
	}
	sl.fsnotify = fsWatch
	sl.done = make(chan struct{})
	sl.stopped = make(chan struct{})
	go sl.start(r)
	return nil
}

func (sl *ShaderLibrary) Close() error {
	sl.mutex.Lock()
	if sl.isClosed {
		sl.mutex.Unlock()
		return nil
	}
	sl.isClosed = true
	watching := sl.fsnotify != nil
	sl.mutex.Unlock()

	if watching {
		close(sl.done)
		<-sl.stopped
	}
	return nil
}

func (sl *ShaderLibrary) start(r Reloader) {
	defer close(sl.stopped)
	for {
		select {
		case e := <-sl.fsnotify.Events:
			s, err := os.Stat(e.Name)
			if err == nil && s != nil && s.IsDir() {
				if e.Op&fsnotify.Create != 0 {
					if err := sl.watchRecursive(sl.fsnotify, e.Name); err != nil {
						core.LogError("watch %s: %s", e.Name, err)
					}
				}
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				sl.handleFileEvent(e.Name, r)
			}
			if e.Op&fsnotify.Remove != 0 {
				sl.removeShader(e.Name)
			}

		case err := <-sl.fsnotify.Errors:
			core.LogError("shader watcher: %s", err)

		case <-sl.done:
			sl.fsnotify.Close()
			return
		}
	}
}

// watchRecursive adds all directories under the given one to the watch list.
func (sl *ShaderLibrary) watchRecursive(w *fsnotify.Watcher, path string) error {
	return filepath.WalkDir(path, func(walkPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(walkPath)
		}
		return nil
	})
}

// handleFileEvent reloads the shader a changed .spv or sidecar belongs to.
func (sl *ShaderLibrary) handleFileEvent(path string, r Reloader) {
	var spvPath string
	switch filepath.Ext(path) {
	case ".spv":
		spvPath = path
	case ".toml":
		spvPath = strings.TrimSuffix(path, ".toml") + ".spv"
		if _, err := os.Stat(spvPath); err != nil {
			return
		}
	default:
		return
	}

	asset, err := sl.loadFile(spvPath)
	if err != nil {
		// Editors often write in several steps; the next event retries.
		core.LogWarn("reload shader %s: %s", spvPath, err)
		return
	}
	core.LogInfo("shader '%s' changed on disk", asset.Name)
	if r == nil {
		return
	}
	if err := r.ReloadShaders(); err != nil {
		core.LogError("reload shaders after '%s' changed: %s", asset.Name, err)
	}
}

func (sl *ShaderLibrary) removeShader(path string) {
	if filepath.Ext(path) != ".spv" {
		return
	}
	name := shaderName(sl.dir, path)

	sl.mutex.Lock()
	defer sl.mutex.Unlock()
	delete(sl.shaders, name)
}
