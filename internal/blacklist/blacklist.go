// Package blacklist manages the deny-list of revoked public keys.
// The file is watched for changes with fsnotify and
// reloaded automatically, mirroring the allowlist's timer-based refresh
// (see internal/allowlist) but event-driven instead of polled.
package blacklist

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"wgkex/internal/logger"
)

// Entry is one deny-listed key and its optional reason.
type Entry struct {
	Key    string
	Reason string
}

// Blacklist serves is-blacklisted / reason queries against a YAML file,
// accepting the same flexible formats as the key's source data: a flat
// list of key strings, a list of single-key maps (optionally carrying a
// reason), or a direct map of key -> reason.
type Blacklist struct {
	path string

	mu      sync.RWMutex
	entries map[string]Entry

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New loads path once and, if watch is true, starts a background goroutine
// that reloads it whenever the file changes on disk.
func New(path string, watch bool) (*Blacklist, error) {
	b := &Blacklist{
		path:    path,
		entries: map[string]Entry{},
		stopCh:  make(chan struct{}),
	}

	if err := b.load(); err != nil {
		return nil, err
	}

	if watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, err
		}
		dir := filepath.Dir(path)
		if err := w.Add(dir); err != nil {
			w.Close()
			return nil, err
		}
		b.watcher = w
		b.wg.Add(1)
		go b.watchLoop()
	}

	return b, nil
}

func (b *Blacklist) load() error {
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		logger.L().Sugar().Infof("blacklist file not found: %s", b.path)
		b.mu.Lock()
		b.entries = map[string]Entry{}
		b.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}

	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		logger.L().Sugar().Errorf("failed to parse blacklist YAML: %v", err)
		return err
	}

	entries := parseEntries(raw)

	b.mu.Lock()
	b.entries = entries
	b.mu.Unlock()

	logger.L().Sugar().Infof("loaded %d blacklisted key(s) from %s", len(entries), b.path)
	return nil
}

func parseEntries(data interface{}) map[string]Entry {
	entries := map[string]Entry{}
	switch v := data.(type) {
	case []interface{}:
		for _, item := range v {
			switch it := item.(type) {
			case string:
				entries[it] = Entry{Key: it}
			case map[string]interface{}:
				for key, val := range it {
					entries[key] = Entry{Key: key, Reason: reasonOf(val)}
				}
			}
		}
	case map[string]interface{}:
		for key, val := range v {
			entries[key] = Entry{Key: key, Reason: reasonOf(val)}
		}
	}
	return entries
}

func reasonOf(val interface{}) string {
	switch v := val.(type) {
	case string:
		return v
	case map[string]interface{}:
		if r, ok := v["reason"].(string); ok {
			return r
		}
	}
	return ""
}

// IsBlacklisted reports whether key is on the deny-list.
func (b *Blacklist) IsBlacklisted(key string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.entries[key]
	return ok
}

// Reason returns the recorded reason for a blacklisted key, if any.
func (b *Blacklist) Reason(key string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[key]
	if !ok {
		return "", false
	}
	return e.Reason, true
}

// Reload re-reads the blacklist file immediately.
func (b *Blacklist) Reload() error {
	return b.load()
}

func (b *Blacklist) watchLoop() {
	defer b.wg.Done()
	base := filepath.Base(b.path)
	for {
		select {
		case ev, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if err := b.load(); err != nil {
					logger.L().Sugar().Errorf("reloading blacklist: %v", err)
				}
			} else if ev.Op&fsnotify.Remove != 0 {
				b.mu.Lock()
				b.entries = map[string]Entry{}
				b.mu.Unlock()
			}
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			logger.L().Sugar().Errorf("blacklist watcher error: %v", err)
		case <-b.stopCh:
			return
		}
	}
}

// Stop terminates the background watcher goroutine, if one was started.
func (b *Blacklist) Stop() {
	if b.watcher == nil {
		return
	}
	close(b.stopCh)
	b.watcher.Close()
	b.wg.Wait()
}
