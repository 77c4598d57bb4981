// Package allowlist manages the set of pre-approved public keys per domain.
// It is loaded from a YAML file and refreshed periodically
// on a background timer, where the broker's blacklist package instead
// reloads on file-change events (see internal/blacklist).
package allowlist

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"wgkex/internal/logger"
)

// Manager serves is-allowed queries against a YAML file of
// domain -> []publicKey, refreshed on a timer. All query methods are
// lock-free reads of an atomically-swapped snapshot, safe for concurrent use
// with Reload.
type Manager struct {
	path            string
	refreshInterval time.Duration

	snapshot atomic.Pointer[map[string]map[string]struct{}]

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New loads path once and, if refreshInterval > 0, starts a background
// goroutine that reloads it on that cadence until Stop is called.
func New(path string, refreshInterval time.Duration) (*Manager, error) {
	m := &Manager{
		path:            path,
		refreshInterval: refreshInterval,
		stopCh:          make(chan struct{}),
	}
	empty := map[string]map[string]struct{}{}
	m.snapshot.Store(&empty)

	if err := m.Reload(); err != nil {
		return nil, err
	}

	if refreshInterval > 0 {
		m.wg.Add(1)
		go m.refreshLoop()
	}
	return m, nil
}

// Reload re-reads the allowlist file and atomically swaps it into place. A
// missing file is treated as an empty allowlist, matching the Python
// manager's behavior of tolerating a not-yet-provisioned file.
func (m *Manager) Reload() error {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		logger.L().Warn("allowlist file not found, using empty allowlist", zap.String("path", m.path))
		empty := map[string]map[string]struct{}{}
		m.snapshot.Store(&empty)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading allowlist %s: %w", m.path, err)
	}

	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing allowlist %s: %w", m.path, err)
	}

	next := make(map[string]map[string]struct{}, len(raw))
	for domain, keys := range raw {
		set := make(map[string]struct{}, len(keys))
		for _, k := range keys {
			set[k] = struct{}{}
		}
		next[domain] = set
		logger.L().Sugar().Debugf("loaded %d allowed keys for domain %s", len(keys), domain)
	}

	m.snapshot.Store(&next)
	logger.L().Sugar().Infof("reloaded allowlist with %d domains from %s", len(next), m.path)
	return nil
}

// IsAllowed reports whether publicKey is pre-approved for domain.
func (m *Manager) IsAllowed(domain, publicKey string) bool {
	snap := *m.snapshot.Load()
	keys, ok := snap[domain]
	if !ok {
		return false
	}
	_, ok = keys[publicKey]
	return ok
}

// Domains returns the domains currently present in the allowlist.
func (m *Manager) Domains() []string {
	snap := *m.snapshot.Load()
	out := make([]string, 0, len(snap))
	for d := range snap {
		out = append(out, d)
	}
	return out
}

func (m *Manager) refreshLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.Reload(); err != nil {
				logger.L().Sugar().Errorf("reloading allowlist: %v", err)
			}
		case <-m.stopCh:
			return
		}
	}
}

// Stop terminates the background refresh goroutine, if one was started.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
}
