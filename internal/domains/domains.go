// Package domains manages the pool of sender domains cycled through by the
// dispatch engine. The pool is admin-managed at runtime and persisted to a
// JSON file so it survives restarts; everything else in the bot is ephemeral.
package domains

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Domain is one entry in the sender-domain pool.
type Domain struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

type fileFormat struct {
	Domains []Domain `json:"domains"`
}

// Manager holds the ordered domain pool and the set of admin user ids allowed
// to change it.
type Manager struct {
	mu       sync.RWMutex
	path     string
	domains  []Domain
	adminIDs map[string]struct{}
}

// NewManager loads the pool from path if it exists. A missing or unreadable
// file yields an empty pool, not an error: the bot works without cycling.
func NewManager(path string, adminIDs []string) *Manager {
	m := &Manager{
		path:     path,
		adminIDs: make(map[string]struct{}, len(adminIDs)),
	}
	for _, id := range adminIDs {
		if id = strings.TrimSpace(id); id != "" {
			m.adminIDs[id] = struct{}{}
		}
	}
	m.load()
	return m
}

// IsAdmin reports whether userID may manage the pool.
func (m *Manager) IsAdmin(userID string) bool {
	_, ok := m.adminIDs[userID]
	return ok
}

// List returns a copy of the pool in insertion order.
func (m *Manager) List() []Domain {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Domain(nil), m.domains...)
}

// Pool returns just the domain strings, in order, for session seeding.
func (m *Manager) Pool() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pool := make([]string, len(m.domains))
	for i, d := range m.domains {
		pool[i] = d.URL
	}
	return pool
}

// Add inserts one domain. It returns false when the domain already exists.
func (m *Manager) Add(url, name string) (bool, error) {
	url = Normalize(url)
	if url == "" {
		return false, fmt.Errorf("domains: empty domain")
	}
	if name == "" {
		name = url
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.domains {
		if d.URL == url {
			return false, nil
		}
	}
	m.domains = append(m.domains, Domain{URL: url, Name: name})
	return true, m.save()
}

// Remove deletes a domain by URL. It returns false when the domain was not in
// the pool.
func (m *Manager) Remove(url string) (bool, error) {
	url = Normalize(url)

	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.domains[:0]
	removed := false
	for _, d := range m.domains {
		if d.URL == url {
			removed = true
			continue
		}
		kept = append(kept, d)
	}
	m.domains = kept
	if !removed {
		return false, nil
	}
	return true, m.save()
}

// AddBulk imports one domain per line, skipping blanks, comments, and
// duplicates. It returns the added and skipped URLs.
func (m *Manager) AddBulk(text string) (added, skipped []string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := make(map[string]struct{}, len(m.domains))
	for _, d := range m.domains {
		existing[d.URL] = struct{}{}
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		url := Normalize(line)
		if _, ok := existing[url]; ok {
			skipped = append(skipped, url)
			continue
		}
		existing[url] = struct{}{}
		m.domains = append(m.domains, Domain{URL: url, Name: url})
		added = append(added, url)
	}

	if len(added) > 0 {
		err = m.save()
	}
	return added, skipped, err
}

// Clear empties the pool.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domains = nil
	return m.save()
}

// Normalize strips an http(s) scheme and trailing slashes from a domain
// entry.
func Normalize(url string) string {
	url = strings.TrimSpace(url)
	url = strings.TrimPrefix(url, "http://")
	url = strings.TrimPrefix(url, "https://")
	return strings.TrimRight(url, "/")
}

func (m *Manager) load() {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return
	}
	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return
	}
	m.domains = f.Domains
}

// save writes the pool back to disk. Caller holds the lock.
func (m *Manager) save() error {
	if m.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(fileFormat{Domains: m.domains}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0o644)
}
