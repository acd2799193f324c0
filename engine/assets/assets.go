package assets

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/prism/engine/core"
)

type AssetType int

const (
	AssetTypeNone AssetType = iota
	AssetTypeShader
	AssetTypeImage
)

var ErrAssetNotFound = errors.New("asset not found")

type AssetInfo struct {
	Path       string
	Type       AssetType
	LastLoaded time.Time
}

// AssetManager indexes the files under a root directory and, when watching, keeps the
// index current and announces changed shader binaries on the event bus.
type AssetManager struct {
	root    string
	bus     *core.EventBus
	assets  map[string]AssetInfo
	loaders map[AssetType]Loader

	mutex sync.RWMutex

	done     chan struct{}
	stopped  chan struct{}
	fsnotify *fsnotify.Watcher
	isClosed bool
}

func NewAssetManager(bus *core.EventBus) *AssetManager {
	am := &AssetManager{
		bus:     bus,
		assets:  make(map[string]AssetInfo),
		loaders: make(map[AssetType]Loader),
	}
	am.registerLoader(AssetTypeShader, &ShaderLoader{})
	am.registerLoader(AssetTypeImage, &ImageLoader{})
	return am
}

// Initialize indexes root. With watch set, a goroutine follows changes until Shutdown.
func (am *AssetManager) Initialize(root string, watch bool) error {
	am.root = filepath.Clean(root)
	if !watch {
		return am.walk(am.root, nil)
	}

	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "creating file watcher")
	}
	am.fsnotify = fsWatch
	am.done = make(chan struct{})
	am.stopped = make(chan struct{})

	if err := am.walk(am.root, fsWatch.Add); err != nil {
		fsWatch.Close()
		am.fsnotify = nil
		return err
	}
	go am.start()
	core.LogDebug("watching assets under %s", am.root)
	return nil
}

// SetImageMaxDimension makes the image loader scale anything larger than dim down.
func (am *AssetManager) SetImageMaxDimension(dim int) {
	am.registerLoader(AssetTypeImage, &ImageLoader{MaxDimension: dim})
}

func (am *AssetManager) registerLoader(assetType AssetType, loader Loader) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.loaders[assetType] = loader
}

// Load reads an asset by its path relative to the root.
func (am *AssetManager) Load(name string) (interface{}, error) {
	path := filepath.ToSlash(filepath.Clean(name))

	am.mutex.Lock()
	asset, exists := am.assets[path]
	if !exists {
		am.mutex.Unlock()
		return nil, errors.Wrapf(ErrAssetNotFound, "%s under %s", path, am.root)
	}
	loader, loaderExists := am.loaders[asset.Type]
	asset.LastLoaded = time.Now()
	am.assets[path] = asset
	am.mutex.Unlock()

	if !loaderExists {
		return nil, errors.Newf("no loader registered for asset type: %d", asset.Type)
	}
	return loader.Load(filepath.Join(am.root, filepath.FromSlash(path)))
}

func (am *AssetManager) LoadShader(name string) ([]byte, error) {
	data, err := am.Load(name)
	if err != nil {
		return nil, err
	}
	code, ok := data.([]byte)
	if !ok {
		return nil, errors.Newf("%s is not a shader", name)
	}
	return code, nil
}

func (am *AssetManager) LoadImage(name string) (*ImageData, error) {
	data, err := am.Load(name)
	if err != nil {
		return nil, err
	}
	img, ok := data.(*ImageData)
	if !ok {
		return nil, errors.Newf("%s is not an image", name)
	}
	return img, nil
}

// Assets lists the indexed paths of the given type.
func (am *AssetManager) Assets(assetType AssetType) []string {
	am.mutex.RLock()
	defer am.mutex.RUnlock()

	var paths []string
	for p, a := range am.assets {
		if a.Type == assetType {
			paths = append(paths, p)
		}
	}
	return paths
}

// Shutdown stops the watcher goroutine. Safe to call more than once.
func (am *AssetManager) Shutdown() {
	am.mutex.Lock()
	if am.isClosed || am.fsnotify == nil {
		am.isClosed = true
		am.mutex.Unlock()
		return
	}
	am.isClosed = true
	am.mutex.Unlock()

	close(am.done)
	<-am.stopped
}

func (am *AssetManager) start() {
	defer close(am.stopped)
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			am.handleEvent(e)

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError(err.Error())

		case <-am.done:
			am.fsnotify.Close()
			return
		}
	}
}

func (am *AssetManager) handleEvent(e fsnotify.Event) {
	if e.Has(fsnotify.Create) {
		if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
			if err := am.walk(e.Name, am.fsnotify.Add); err != nil {
				core.LogWarn("failed to watch %s: %s", e.Name, err)
			}
			return
		}
	}

	rel, ok := am.relative(e.Name)
	if !ok {
		return
	}
	switch {
	case e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename):
		// Can't stat a deleted path, so drop it from the index and the watch list either way.
		am.removeAsset(rel)
		_ = am.fsnotify.Remove(e.Name)
	case e.Has(fsnotify.Create) || e.Has(fsnotify.Write):
		if am.indexFile(rel) == AssetTypeShader && am.bus != nil {
			core.LogDebug("shader changed: %s", rel)
			am.bus.Fire(am, core.EventContext{
				Code:  core.EVENT_CODE_SHADERS_CHANGED,
				Paths: []string{rel},
			})
		}
	}
}

// walk indexes every file under path and passes each directory to watch, if set.
func (am *AssetManager) walk(path string, watch func(string) error) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if watch != nil {
				return watch(walkPath)
			}
			return nil
		}
		if rel, ok := am.relative(walkPath); ok {
			am.indexFile(rel)
		}
		return nil
	})
}

func (am *AssetManager) relative(path string) (string, bool) {
	rel, err := filepath.Rel(am.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (am *AssetManager) indexFile(path string) AssetType {
	assetType := determineAssetType(path)
	if assetType == AssetTypeNone {
		return assetType
	}

	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.assets[path] = AssetInfo{
		Path: path,
		Type: assetType,
	}
	return assetType
}

// Remove the asset from the index if it was deleted
func (am *AssetManager) removeAsset(path string) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	delete(am.assets, path)
}

func determineAssetType(path string) AssetType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".spv":
		return AssetTypeShader
	case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".webp":
		return AssetTypeImage
	default:
		return AssetTypeNone
	}
}
