// Package storage persists conversations and escalation records as one JSON
// document per id, with a write-through in-memory cache in front of the files.
package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/strengthclub/concierge/internal/models"
)

// ErrNotFound is returned when no readable document exists for an id.
// Corrupted documents are reported as not found, never as a crash.
var ErrNotFound = errors.New("conversation not found")

const escalationSuffix = "_escalation"

// Store owns the durable conversation and escalation documents. The cache is
// a read-through/write-through accelerator over the files: on a miss the file
// is the origin of truth. The structural mutex guards the cache and lock maps
// only; per-conversation content ordering is the caller's job via KeyLock.
type Store struct {
	convDir string
	escDir  string
	logger  *zap.Logger

	mu    sync.Mutex
	cache map[string]models.Conversation
	locks map[string]*sync.Mutex
}

func New(dataDir string, logger *zap.Logger) (*Store, error) {
	s := &Store{
		convDir: filepath.Join(dataDir, "conversations"),
		escDir:  filepath.Join(dataDir, "escalations"),
		logger:  logger,
		cache:   make(map[string]models.Conversation),
		locks:   make(map[string]*sync.Mutex),
	}
	for _, dir := range []string{s.convDir, s.escDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "unable to create data directory %s", dir)
		}
	}
	return s, nil
}

// KeyLock returns the mutex serializing all turns for a conversation id.
// Holders may block on provider I/O; turns for other conversations proceed
// in parallel.
func (s *Store) KeyLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Writable reports whether the conversation directory accepts writes. Used by
// the health endpoint.
func (s *Store) Writable() bool {
	f, err := os.CreateTemp(s.convDir, ".probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}

// Create writes a fresh conversation containing only the system message.
func (s *Store) Create(id, systemPrompt string) (*models.Conversation, error) {
	return s.Save(id, []models.Message{{Role: models.RoleSystem, Content: systemPrompt}}, false)
}

// Load returns the conversation for id, from cache when present, from the
// file otherwise. An unreadable or corrupted document is logged and treated
// as not found.
func (s *Store) Load(id string) (*models.Conversation, error) {
	s.mu.Lock()
	if conv, ok := s.cache[id]; ok {
		s.mu.Unlock()
		return cloneConversation(conv), nil
	}
	s.mu.Unlock()

	var conv models.Conversation
	if err := s.readJSON(s.convPath(id), &conv); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[id] = *cloneConversation(conv)
	s.mu.Unlock()
	return &conv, nil
}

// Save upserts the conversation document. CreatedAt and a previously derived
// title are preserved; UpdatedAt is refreshed; the escalated flag is
// monotonic, so a true on disk is never reverted by a false argument. While
// the title is still the default placeholder it is derived from the first
// user message, truncated to 50 characters.
func (s *Store) Save(id string, messages []models.Message, escalated bool) (*models.Conversation, error) {
	now := time.Now().UTC()
	conv := models.Conversation{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		Title:     models.DefaultTitle,
		Messages:  messages,
		Escalated: escalated,
	}

	if existing, err := s.Load(id); err == nil {
		conv.CreatedAt = existing.CreatedAt
		conv.Title = existing.Title
		if existing.Escalated {
			conv.Escalated = true
		}
	}

	if conv.Title == models.DefaultTitle {
		if t := deriveTitle(messages); t != "" {
			conv.Title = t
		}
	}

	if err := s.writeJSON(s.convPath(id), conv); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[id] = *cloneConversation(conv)
	s.mu.Unlock()
	return &conv, nil
}

// List returns summaries for every readable conversation document, newest
// update first. Unreadable documents are skipped.
func (s *Store) List() ([]models.Summary, error) {
	entries, err := os.ReadDir(s.convDir)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to list %s", s.convDir)
	}

	summaries := make([]models.Summary, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var conv models.Conversation
		if err := s.readJSON(filepath.Join(s.convDir, entry.Name()), &conv); err != nil {
			continue
		}
		summaries = append(summaries, models.Summary{
			ID:           conv.ID,
			Title:        conv.Title,
			CreatedAt:    conv.CreatedAt,
			UpdatedAt:    conv.UpdatedAt,
			Escalated:    conv.Escalated,
			MessageCount: len(conv.VisibleMessages()),
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

// Delete removes the conversation document and its cache entry. Returns true
// iff a document existed and was removed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	delete(s.cache, id)
	s.mu.Unlock()

	path := s.convPath(id)
	if _, err := os.Stat(path); err != nil {
		return false
	}
	if err := os.Remove(path); err != nil {
		s.logger.Error("failed to delete conversation document",
			zap.String("conversation_id", id), zap.Error(err))
		return false
	}
	return true
}

// SaveEscalation writes the escalation record for its conversation id.
// Policy: one record per conversation id, last write wins. A later
// high-priority submission replaces an earlier low-priority handover record.
func (s *Store) SaveEscalation(rec *models.EscalationRecord) error {
	return s.writeJSON(s.escPath(rec.ConversationID), rec)
}

// LoadEscalation returns the escalation record for a conversation id.
func (s *Store) LoadEscalation(conversationID string) (*models.EscalationRecord, error) {
	var rec models.EscalationRecord
	if err := s.readJSON(s.escPath(conversationID), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListEscalations returns every readable escalation record, newest first.
func (s *Store) ListEscalations() ([]models.EscalationRecord, error) {
	entries, err := os.ReadDir(s.escDir)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to list %s", s.escDir)
	}

	records := make([]models.EscalationRecord, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), escalationSuffix+".json") {
			continue
		}
		var rec models.EscalationRecord
		if err := s.readJSON(filepath.Join(s.escDir, entry.Name()), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	return records, nil
}

// CleanupOld deletes conversations whose last update is older than maxAge.
// Returns the number deleted and the number of failures.
func (s *Store) CleanupOld(maxAge time.Duration) (deleted, failed int) {
	cutoff := time.Now().UTC().Add(-maxAge)
	summaries, err := s.List()
	if err != nil {
		s.logger.Error("cleanup: unable to list conversations", zap.Error(err))
		return 0, 1
	}
	for _, sum := range summaries {
		if sum.UpdatedAt.After(cutoff) {
			continue
		}
		if s.Delete(sum.ID) {
			deleted++
		} else {
			failed++
		}
	}
	return deleted, failed
}

func (s *Store) convPath(id string) string {
	return filepath.Join(s.convDir, id+".json")
}

func (s *Store) escPath(id string) string {
	return filepath.Join(s.escDir, id+escalationSuffix+".json")
}

func (s *Store) readJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("unreadable document treated as not found",
				zap.String("path", path), zap.Error(err))
		}
		return ErrNotFound
	}
	if err := json.Unmarshal(raw, v); err != nil {
		s.logger.Warn("corrupted document treated as not found",
			zap.String("path", path), zap.Error(err))
		return ErrNotFound
	}
	return nil
}

// writeJSON writes the document atomically: temp file in the same directory,
// then rename over the target.
func (s *Store) writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "unable to encode %s", path)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "unable to create temp file for %s", path)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrapf(err, "unable to write %s", path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "unable to close temp file for %s", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "unable to replace %s", path)
	}
	return nil
}

func deriveTitle(messages []models.Message) string {
	for _, m := range messages {
		if m.Role != models.RoleUser {
			continue
		}
		runes := []rune(m.Content)
		if len(runes) > 50 {
			return string(runes[:50]) + "..."
		}
		return m.Content
	}
	return ""
}

func cloneConversation(c models.Conversation) *models.Conversation {
	out := c
	out.Messages = append([]models.Message(nil), c.Messages...)
	return &out
}
