// Package backup keeps a bounded, newest-first archive of persona prompt
// versions on disk, one plain-text file per version.
package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dotsetgreg/dotpersona/pkg/logger"
	"github.com/dotsetgreg/dotpersona/pkg/metrics"
)

var (
	ErrNoBackup = errors.New("backup: no backup for persona")

	unsafeIDChars   = regexp.MustCompile(`[<>:"/\\|?*]`)
	versionFilename = regexp.MustCompile(`^v(\d+)_(\d{8})_(\d{6})\.txt$`)
)

const (
	DefaultMaxVersions = 5
	stampLayout        = "20060102_150405"
)

type Backup struct {
	PersonaID    string
	SystemPrompt string
	BackedUpAt   time.Time
	Version      int

	file string
}

// SanitizeID maps a persona id onto a directory name.
func SanitizeID(personaID string) string {
	return unsafeIDChars.ReplaceAllString(personaID, "_")
}

func parseFilename(name string) (int, time.Time, bool) {
	m := versionFilename.FindStringSubmatch(name)
	if m == nil {
		return 0, time.Time{}, false
	}
	version, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, time.Time{}, false
	}
	at, err := time.ParseInLocation(stampLayout, m[2]+"_"+m[3], time.Local)
	if err != nil {
		return 0, time.Time{}, false
	}
	return version, at, true
}

func formatFilename(version int, at time.Time) string {
	return fmt.Sprintf("v%03d_%s.txt", version, at.In(time.Local).Format(stampLayout))
}

type Store struct {
	dir     string
	max     int
	mu      sync.Mutex
	backups map[string][]Backup
	now     func() time.Time
	metrics metrics.Recorder
}

type Option func(*Store)

func WithMetrics(rec metrics.Recorder) Option {
	return func(s *Store) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

// WithClock replaces the time source used to stamp new versions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore opens (creating if needed) the archive rooted at dir and loads
// every conforming version file. maxVersions <= 0 selects the default.
func NewStore(dir string, maxVersions int, opts ...Option) (*Store, error) {
	if maxVersions <= 0 {
		maxVersions = DefaultMaxVersions
	}
	s := &Store{
		dir:     dir,
		max:     maxVersions,
		backups: make(map[string][]Backup),
		now:     time.Now,
		metrics: metrics.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read backup dir: %w", err)
	}
	total := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		list, err := s.scan(entry.Name())
		if err != nil {
			logger.WarnCF("backup", "Skipping unreadable backup dir", map[string]interface{}{
				"dir":   entry.Name(),
				"error": err.Error(),
			})
			continue
		}
		if len(list) > 0 {
			// Versions left behind by a failed removal are trimmed again here.
			s.backups[entry.Name()] = s.trim(filepath.Join(s.dir, entry.Name()), list)
			total++
		}
	}
	logger.InfoCF("backup", "Loaded persona backups", map[string]interface{}{
		"personas": total,
	})
	return nil
}

// scan reads one persona directory, newest first. Files that do not follow
// the version naming scheme are ignored.
func (s *Store) scan(safeID string) ([]Backup, error) {
	dir := filepath.Join(s.dir, safeID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var list []Backup
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, at, ok := parseFilename(entry.Name())
		if !ok {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			logger.WarnCF("backup", "Failed to read backup file", map[string]interface{}{
				"file":  entry.Name(),
				"error": err.Error(),
			})
			continue
		}
		list = append(list, Backup{
			PersonaID:    safeID,
			SystemPrompt: string(data),
			BackedUpAt:   at,
			Version:      version,
			file:         entry.Name(),
		})
	}
	sortNewestFirst(list)
	return list, nil
}

func sortNewestFirst(list []Backup) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].BackedUpAt.Equal(list[j].BackedUpAt) {
			return list[i].BackedUpAt.After(list[j].BackedUpAt)
		}
		return list[i].Version > list[j].Version
	})
}

// Add writes a new version of personaID and trims the archive to the
// configured maximum, deleting the oldest files.
func (s *Store) Add(personaID, prompt string) (Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	safeID := SanitizeID(personaID)
	dir := filepath.Join(s.dir, safeID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Backup{}, fmt.Errorf("create persona backup dir: %w", err)
	}

	// The next version number comes from disk so removed entries are never reused.
	next := 1
	if entries, err := os.ReadDir(dir); err == nil {
		for _, entry := range entries {
			if v, _, ok := parseFilename(entry.Name()); ok && v >= next {
				next = v + 1
			}
		}
	}

	at := s.now().Truncate(time.Second)
	b := Backup{
		PersonaID:    safeID,
		SystemPrompt: prompt,
		BackedUpAt:   at,
		Version:      next,
		file:         formatFilename(next, at),
	}
	if err := os.WriteFile(filepath.Join(dir, b.file), []byte(prompt), 0o644); err != nil {
		return Backup{}, fmt.Errorf("write backup: %w", err)
	}

	list := append([]Backup{b}, s.backups[safeID]...)
	sortNewestFirst(list)
	s.backups[safeID] = s.trim(dir, list)

	logger.InfoCF("backup", "Saved persona backup", map[string]interface{}{
		"persona_id": personaID,
		"version":    next,
	})
	return b, nil
}

func (s *Store) trim(dir string, list []Backup) []Backup {
	if len(list) <= s.max {
		return list
	}
	removed := 0
	for _, old := range list[s.max:] {
		if err := os.Remove(filepath.Join(dir, old.file)); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.WarnCF("backup", "Failed to delete expired backup", map[string]interface{}{
				"file":  old.file,
				"error": err.Error(),
			})
			continue
		}
		removed++
	}
	s.metrics.IncBackupsTrimmed(removed)
	return append([]Backup(nil), list[:s.max]...)
}

func (s *Store) Latest(personaID string) (Backup, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.backups[SanitizeID(personaID)]
	if len(list) == 0 {
		return Backup{}, false
	}
	return list[0], true
}

// List returns the versions of personaID, newest first.
func (s *Store) List(personaID string) []Backup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Backup(nil), s.backups[SanitizeID(personaID)]...)
}

// PopLatest removes the newest version of personaID from disk and memory.
// Callers pop only after the restored text has been applied elsewhere.
func (s *Store) PopLatest(personaID string) (Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	safeID := SanitizeID(personaID)
	list := s.backups[safeID]
	if len(list) == 0 {
		return Backup{}, ErrNoBackup
	}
	head := list[0]
	path := filepath.Join(s.dir, safeID, head.file)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Backup{}, fmt.Errorf("remove backup %s: %w", head.file, err)
	}
	if len(list) == 1 {
		delete(s.backups, safeID)
	} else {
		s.backups[safeID] = append([]Backup(nil), list[1:]...)
	}
	return head, nil
}

// DeletePersona drops every version of personaID.
func (s *Store) DeletePersona(personaID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	safeID := SanitizeID(personaID)
	delete(s.backups, safeID)
	if err := os.RemoveAll(filepath.Join(s.dir, safeID)); err != nil {
		return fmt.Errorf("delete backups of %s: %w", personaID, err)
	}
	logger.InfoCF("backup", "Deleted persona backups", map[string]interface{}{
		"persona_id": personaID,
	})
	return nil
}

func (s *Store) MaxVersions() int { return s.max }
