// Package allowlist manages the hot-reloadable set of agent ids permitted to
// bind a connection. Modeled on the quotes manager's RWMutex-guarded
// load/reload shape, adapted from a JSON quotes file to a line-oriented
// allowlist file polled for changes.
package allowlist

import (
	"bufio"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// pollInterval is how often Watch checks the allowlist file's mtime.
const pollInterval = 5 * time.Second

// Manager holds the current allowlist and reloads it from disk on demand.
// An empty allowlist (no path configured, or a path to a missing/empty
// file) means allow-all, matching the broker's default of trusting every
// agent id absent explicit operator configuration.
type Manager struct {
	mu      sync.RWMutex
	path    string
	agents  map[string]bool
	modTime time.Time
}

// New constructs a Manager for the allowlist file at path. An empty path
// is valid and always allows every agent id. The file is loaded
// immediately; a missing file is treated as allow-all rather than an error,
// since operators may add one later.
func New(path string) *Manager {
	m := &Manager{path: path, agents: make(map[string]bool)}
	if path != "" {
		if err := m.Load(); err != nil {
			log.Printf("[ALLOWLIST] initial load of %s failed, allowing all agents: %v", path, err)
		}
	}
	return m
}

// Load reads the allowlist file and replaces the in-memory set. Lines
// starting with '#' and blank lines are skipped; every other line is
// trimmed and treated as one allowed agent id.
func (m *Manager) Load() error {
	info, err := os.Stat(m.path)
	if err != nil {
		m.mu.Lock()
		m.agents = make(map[string]bool)
		m.mu.Unlock()
		return err
	}

	f, err := os.Open(m.path)
	if err != nil {
		return err
	}
	defer f.Close()

	agents := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		agents[line] = true
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.agents = agents
	m.modTime = info.ModTime()
	m.mu.Unlock()

	log.Printf("[ALLOWLIST] loaded %d agent ids from %s", len(agents), m.path)
	return nil
}

// Allow reports whether agentID may bind a connection. An empty
// configured allowlist (no path, or the file listed zero ids) allows
// every agent id.
func (m *Manager) Allow(agentID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.agents) == 0 {
		return true
	}
	return m.agents[agentID]
}

// Watch polls the allowlist file for mtime changes every pollInterval and
// reloads when it changes, until ctx-like stop channel is closed. Intended
// to run in its own goroutine for the broker's lifetime.
func (m *Manager) Watch(stop <-chan struct{}) {
	if m.path == "" {
		return
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			info, err := os.Stat(m.path)
			if err != nil {
				continue
			}
			m.mu.RLock()
			changed := info.ModTime().After(m.modTime)
			m.mu.RUnlock()
			if changed {
				if err := m.Load(); err != nil {
					log.Printf("[ALLOWLIST] reload of %s failed: %v", m.path, err)
				}
			}
		}
	}
}
