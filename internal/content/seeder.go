package content

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/samizdat-net/samizdat/internal/logging"
	"github.com/samizdat-net/samizdat/pkg/types"
)

// Settings provides the user's designated content folder. Empty means
// auto-seeding is off.
type Settings interface {
	ContentFolder() string
}

// Publisher is the slice of the exchange the seeder needs.
type Publisher interface {
	Publish(ctx context.Context, data []byte, cultural *types.CulturalContext) (types.ContentHash, error)
}

// DefaultSeedExtensions is the allow-list of file types published
// automatically from the content folder.
var DefaultSeedExtensions = []string{
	".pdf", ".epub", ".txt", ".md", ".html",
	".mp3", ".mp4", ".ogg", ".png", ".jpg", ".jpeg",
}

// Seeder watches the content folder and publishes files matching the
// extension allow-list. Files are re-published when their content
// changes.
type Seeder struct {
	publisher  Publisher
	settings   Settings
	extensions map[string]bool

	mu     sync.Mutex
	seeded map[string]int64
}

// NewSeeder creates a seeder over the given publisher and settings.
// A nil or empty extension list gets the defaults.
func NewSeeder(publisher Publisher, settings Settings, extensions []string) *Seeder {
	if len(extensions) == 0 {
		extensions = DefaultSeedExtensions
	}
	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		allowed[strings.ToLower(strings.TrimSpace(ext))] = true
	}
	return &Seeder{
		publisher:  publisher,
		settings:   settings,
		extensions: allowed,
		seeded:     make(map[string]int64),
	}
}

// Run seeds the folder's current contents, then blocks reacting to
// change notifications until ctx is done. A missing or unset folder is
// not an error; the seeder just has nothing to do.
func (s *Seeder) Run(ctx context.Context) error {
	folder := s.settings.ContentFolder()
	if folder == "" {
		logging.Info("no content folder configured, auto-seeding off",
			logging.Component("seeder"))
		return nil
	}
	if info, err := os.Stat(folder); err != nil || !info.IsDir() {
		logging.Warn("content folder not usable, auto-seeding off",
			"folder", folder,
			logging.Component("seeder"))
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the folder and any subfolders found during the initial
	// scan; new subfolders get added as their create events arrive.
	if err := watcher.Add(folder); err != nil {
		return err
	}
	s.scan(ctx, folder, watcher)

	logging.Info("auto-seeding content folder",
		"folder", folder,
		logging.Component("seeder"))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			s.handleEvent(ctx, event, watcher)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn("content folder watch error",
				logging.Err(err),
				logging.Component("seeder"))
		}
	}
}

// SeededCount reports how many distinct files have been published.
func (s *Seeder) SeededCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seeded)
}

func (s *Seeder) handleEvent(ctx context.Context, event fsnotify.Event, watcher *fsnotify.Watcher) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if event.Has(fsnotify.Create) {
			if err := watcher.Add(event.Name); err != nil {
				logging.Warn("cannot watch new subfolder",
					"folder", event.Name,
					logging.Err(err),
					logging.Component("seeder"))
			}
			s.scan(ctx, event.Name, watcher)
		}
		return
	}

	s.seedFile(ctx, event.Name, info.ModTime().UnixNano())
}

// scan publishes every allowed file already in the folder and hooks
// subfolders into the watch.
func (s *Seeder) scan(ctx context.Context, folder string, watcher *fsnotify.Watcher) {
	err := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != folder {
				if err := watcher.Add(path); err != nil {
					logging.Warn("cannot watch subfolder",
						"folder", path,
						logging.Err(err),
						logging.Component("seeder"))
				}
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		s.seedFile(ctx, path, info.ModTime().UnixNano())
		return nil
	})
	if err != nil && ctx.Err() == nil {
		logging.Warn("content folder scan aborted",
			logging.Err(err),
			logging.Component("seeder"))
	}
}

func (s *Seeder) seedFile(ctx context.Context, path string, modTime int64) {
	if !s.allowed(path) {
		return
	}

	s.mu.Lock()
	last, ok := s.seeded[path]
	s.mu.Unlock()
	if ok && last == modTime {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return
	}

	hash, err := s.publisher.Publish(ctx, data, nil)
	if err != nil {
		logging.Warn("auto-seed publish failed",
			"file", filepath.Base(path),
			logging.Err(err),
			logging.Component("seeder"))
		return
	}

	s.mu.Lock()
	s.seeded[path] = modTime
	s.mu.Unlock()

	logging.Debug("file seeded",
		"file", filepath.Base(path),
		logging.Hash(hash.String()),
		logging.Component("seeder"))
}

func (s *Seeder) allowed(path string) bool {
	return s.extensions[strings.ToLower(filepath.Ext(path))]
}
