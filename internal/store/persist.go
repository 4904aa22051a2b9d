package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/coursedeck/coursedeck"
)

// Persistence keys. Values are JSON documents.
const (
	keyActive       = "active_coursewares"
	keyCurrentIndex = "current_index"
	keyPrefs        = "display_prefs"
	keyRepoConfigs  = "repo_configs"
	keyUserRepos    = "user_repos"
)

// Persister stores JSON values by key. Persistence is best-effort: failures
// are the caller's to degrade around, never fatal to the running session.
type Persister interface {
	Save(key string, value interface{}) error
	Load(key string, dst interface{}) (bool, error)
	Close() error
}

// activeStub is the cheap persisted form of a bundled active entry: just
// enough to rehydrate it from freshly loaded repository data.
type activeStub struct {
	SourcePath string `json:"sourcePath"`
	Bundled    bool   `json:"isBundled"`
}

// pendingStub is a restored stub waiting for its source data, remembering the
// active-list position it was persisted at so rehydration can put it back.
type pendingStub struct {
	activeStub
	pos int
}

// persistActiveLocked serializes the active list: bundled entries as stubs,
// uploads in full (they have no remote source to re-fetch from). Pending
// stubs that have not rehydrated yet are carried along so they survive until
// their source loads. On failure it falls back once to a stubs-only write,
// then gives up.
func (s *Store) persistActiveLocked() {
	if s.persister == nil {
		return
	}

	entries := make([]json.RawMessage, 0, len(s.active)+len(s.pendingStubs))
	stubsOnly := make([]json.RawMessage, 0, len(s.active)+len(s.pendingStubs))
	for _, cw := range s.active {
		if cw.Bundled && cw.SourcePath != "" {
			raw, err := json.Marshal(activeStub{SourcePath: cw.SourcePath, Bundled: true})
			if err != nil {
				continue
			}
			entries = append(entries, raw)
			stubsOnly = append(stubsOnly, raw)
			continue
		}
		raw, err := json.Marshal(cw)
		if err != nil {
			continue
		}
		entries = append(entries, raw)
	}
	for _, stub := range s.pendingStubs {
		raw, err := json.Marshal(stub.activeStub)
		if err != nil {
			continue
		}
		entries = append(entries, raw)
		stubsOnly = append(stubsOnly, raw)
	}

	if err := s.persister.Save(keyActive, entries); err != nil {
		// Uploads carry full HTML and can blow the storage budget; retry with
		// stubs only before giving up.
		if err2 := s.persister.Save(keyActive, stubsOnly); err2 != nil {
			log.Printf("[Store] Persisting active list failed twice, giving up: %v", err2)
		} else {
			log.Printf("[Store] Persisted active list without uploads after: %v", err)
		}
	}

	if err := s.persister.Save(keyCurrentIndex, s.currentIndex); err != nil {
		log.Printf("[Store] Persisting current index failed: %v", err)
	}
}

// restoreConfig loads everything persisted at startup. Full upload entries
// join the active list immediately; bundled stubs wait in pendingStubs until
// a repository load provides their source data.
func (s *Store) restoreConfig() {
	if s.persister == nil {
		return
	}

	if _, err := s.persister.Load(keyRepoConfigs, &s.repoConfigs); err != nil {
		log.Printf("[Store] Restoring repo configs failed: %v", err)
	}
	if _, err := s.persister.Load(keyUserRepos, &s.userRepos); err != nil {
		log.Printf("[Store] Restoring user repos failed: %v", err)
	}
	if _, err := s.persister.Load(keyPrefs, &s.prefs); err != nil {
		log.Printf("[Store] Restoring preferences failed: %v", err)
	}

	var entries []json.RawMessage
	found, err := s.persister.Load(keyActive, &entries)
	if err != nil {
		log.Printf("[Store] Restoring active list failed: %v", err)
		return
	}
	if !found {
		return
	}

	s.restoredPos = make(map[*coursedeck.Courseware]int, len(entries))
	for i, raw := range entries {
		var cw coursedeck.Courseware
		if err := json.Unmarshal(raw, &cw); err != nil {
			continue
		}
		if len(cw.Pages) > 0 {
			// A full entry (local upload) is self-contained.
			copied := cw
			s.active = append(s.active, &copied)
			s.restoredPos[&copied] = i
			continue
		}
		if cw.Bundled && cw.SourcePath != "" {
			s.pendingStubs = append(s.pendingStubs, pendingStub{
				activeStub{SourcePath: cw.SourcePath, Bundled: true}, i,
			})
		}
	}

	// The persisted current index addresses the persisted sequence. Map it
	// onto the compacted list when it names a full entry; when it names a
	// stub, remember the source path and resolve it at rehydration.
	var idx int
	if found, err := s.persister.Load(keyCurrentIndex, &idx); err == nil && found && idx >= 0 {
		matched := false
		for i, cw := range s.active {
			if p, ok := s.restoredPos[cw]; ok && p == idx {
				s.currentIndex = i
				matched = true
				break
			}
		}
		if !matched {
			for _, stub := range s.pendingStubs {
				if stub.pos == idx {
					s.restoreCurrentPath = stub.SourcePath
					break
				}
			}
		}
	}
	s.clampCurrentLocked()
}

// restoreActiveLocked re-attempts rehydration of pending bundled stubs
// against the current bundled snapshot. Each rehydrated entry is inserted at
// its persisted position; the persisted selection is re-established when its
// stub comes back. Unmatched stubs stay pending; their source may simply not
// have loaded yet.
func (s *Store) restoreActiveLocked() {
	if len(s.pendingStubs) == 0 {
		return
	}

	bySourcePath := make(map[string]*coursedeck.Courseware, len(s.bundled))
	for _, cw := range s.bundled {
		bySourcePath[cw.SourcePath] = cw
	}

	remaining := s.pendingStubs[:0]
	for _, stub := range s.pendingStubs {
		cw, ok := bySourcePath[stub.SourcePath]
		if !ok {
			remaining = append(remaining, stub)
			continue
		}
		if s.indexBySourcePathLocked(stub.SourcePath) >= 0 {
			continue
		}

		at := s.restoreInsertIndexLocked(stub.pos)
		s.active = append(s.active, nil)
		copy(s.active[at+1:], s.active[at:])
		s.active[at] = cw
		s.restoredPos[cw] = stub.pos
		if at <= s.currentIndex {
			s.currentIndex++
		}
		if stub.SourcePath == s.restoreCurrentPath {
			s.currentIndex = at
			s.restoreCurrentPath = ""
		}
	}
	s.pendingStubs = remaining
	s.clampCurrentLocked()
	s.persistActiveLocked()
}

// restoreInsertIndexLocked maps a persisted position onto the current active
// list: the rehydrated entry goes before the first restored entry that was
// persisted after it. Entries added since restore keep their place.
func (s *Store) restoreInsertIndexLocked(pos int) int {
	for i, cw := range s.active {
		if p, ok := s.restoredPos[cw]; ok && p > pos {
			return i
		}
	}
	return len(s.active)
}

func (s *Store) clampCurrentLocked() {
	if len(s.active) == 0 {
		s.currentIndex = -1
		return
	}
	if s.currentIndex < 0 {
		s.currentIndex = 0
	}
	if s.currentIndex >= len(s.active) {
		s.currentIndex = len(s.active) - 1
	}
}

// persistLocked writes one auxiliary key, logging failures.
func (s *Store) persistLocked(key string, value interface{}) {
	if s.persister == nil {
		return
	}
	if err := s.persister.Save(key, value); err != nil {
		log.Printf("[Store] Persisting %s failed: %v", key, err)
	}
}

// SQLitePersister stores state as JSON rows in a single-table SQLite
// database.
type SQLitePersister struct {
	db *sql.DB
}

// NewSQLitePersister opens (creating if needed) the state database at path.
func NewSQLitePersister(path string) (*SQLitePersister, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize state database: %w", err)
	}
	return &SQLitePersister{db: db}, nil
}

// Save marshals value to JSON and upserts it under key.
func (p *SQLitePersister) Save(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	_, err = p.db.Exec(`INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, string(data))
	return err
}

// Load unmarshals the value stored under key into dst. Returns false when
// the key is absent.
func (p *SQLitePersister) Load(key string, dst interface{}) (bool, error) {
	var data string
	err := p.db.QueryRow(`SELECT value FROM state WHERE key = ?`, key).Scan(&data)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return false, err
	}
	return true, nil
}

// Close closes the database.
func (p *SQLitePersister) Close() error {
	return p.db.Close()
}
