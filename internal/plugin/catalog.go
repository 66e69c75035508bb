package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"sigs.k8s.io/yaml"

	"switchboard/pkg/logging"
)

// ManifestSource resolves plugin manifests by id.
type ManifestSource interface {
	Manifest(pluginID string) (*Manifest, error)
}

// Catalog holds the plugin manifests loaded from a directory.
//
// Files ending in .yaml, .yml or .json are parsed; JSON field names are used
// for both formats.
type Catalog struct {
	mu        sync.RWMutex
	dir       string
	manifests map[string]*Manifest

	debounce time.Duration
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
}

// NewCatalog creates a catalog for dir. Call Load to read it.
func NewCatalog(dir string) *Catalog {
	return &Catalog{
		dir:       dir,
		manifests: make(map[string]*Manifest),
		debounce:  500 * time.Millisecond,
	}
}

// NewStaticCatalog creates a catalog from in-memory manifests.
func NewStaticCatalog(manifests ...*Manifest) *Catalog {
	c := NewCatalog("")
	for _, m := range manifests {
		c.manifests[m.ID] = m
	}
	return c
}

// Load reads every manifest in the directory, replacing the current set.
// Invalid files are logged and skipped.
func (c *Catalog) Load() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("failed to read manifest directory %s: %w", c.dir, err)
	}

	loaded := make(map[string]*Manifest)
	for _, entry := range entries {
		if entry.IsDir() || !isManifestFile(entry.Name()) {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		m, err := LoadManifest(path)
		if err != nil {
			logging.Warn("Catalog", "Skipping manifest %s: %v", path, err)
			continue
		}
		if _, dup := loaded[m.ID]; dup {
			logging.Warn("Catalog", "Duplicate manifest id %s in %s, keeping the first", m.ID, path)
			continue
		}
		loaded[m.ID] = m
	}

	c.mu.Lock()
	c.manifests = loaded
	c.mu.Unlock()

	logging.Info("Catalog", "Loaded %d plugin manifests from %s", len(loaded), c.dir)
	return nil
}

// LoadManifest parses and validates a single manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Transport == "" {
		m.Transport = TransportHTTP
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Manifest returns the manifest for pluginID.
func (c *Catalog) Manifest(pluginID string) (*Manifest, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.manifests[pluginID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, pluginID)
	}
	return m, nil
}

// List returns all manifests sorted by id.
func (c *Catalog) List() []*Manifest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Manifest, 0, len(c.manifests))
	for _, m := range c.manifests {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Watch reloads the catalog whenever a manifest file changes. Bursts of
// events are collapsed into one reload. Watch returns once the watcher is
// running; it stops when ctx is done or Stop is called.
func (c *Catalog) Watch(ctx context.Context) error {
	c.mu.Lock()
	if c.watcher != nil {
		c.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if err := watcher.Add(c.dir); err != nil {
		c.mu.Unlock()
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", c.dir, err)
	}
	c.watcher = watcher
	c.stopCh = make(chan struct{})
	stopCh := c.stopCh
	c.mu.Unlock()

	go c.processEvents(ctx, watcher, stopCh)

	logging.Info("Catalog", "Watching %s for manifest changes", c.dir)
	return nil
}

func (c *Catalog) processEvents(ctx context.Context, watcher *fsnotify.Watcher, stopCh chan struct{}) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			c.Stop()
			return
		case <-stopCh:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isManifestFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(c.debounce, func() {
				if err := c.Load(); err != nil {
					logging.Error("Catalog", err, "Manifest reload failed")
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error("Catalog", err, "Manifest watcher error")
		}
	}
}

// Stop ends a running Watch.
func (c *Catalog) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watcher == nil {
		return
	}
	close(c.stopCh)
	if err := c.watcher.Close(); err != nil {
		logging.Error("Catalog", err, "Error closing manifest watcher")
	}
	c.watcher = nil
}

func isManifestFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
