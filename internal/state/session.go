package state

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/opentalon/commandcenter/internal/llm"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxMessages = 20
	DefaultMaxSessions = 1000
)

type Session struct {
	ID        string        `yaml:"id"`
	Messages  []llm.Message `yaml:"messages"`
	CreatedAt time.Time     `yaml:"created_at"`
	UpdatedAt time.Time     `yaml:"updated_at"`
}

// SessionStore keeps a bounded conversation per session. Each session holds
// at most maxMessages (oldest dropped first); at most maxSessions are kept,
// evicting the least recently updated.
//
// With a non-empty dir every session is written to its own file after each
// Append and read back the first time it is asked for, so conversations
// outlive the process. File names are derived from a hash of the session id.
type SessionStore struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	dir         string
	maxMessages int
	maxSessions int
	now         func() time.Time
}

func NewSessionStore(dir string, maxMessages, maxSessions int) *SessionStore {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &SessionStore{
		sessions:    make(map[string]*Session),
		dir:         dir,
		maxMessages: maxMessages,
		maxSessions: maxSessions,
		now:         time.Now,
	}
}

// History returns a copy of the session's messages, oldest first. An
// unknown session has no history.
func (s *SessionStore) History(id string) ([]llm.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.lookupLocked(id)
	if err != nil || sess == nil {
		return nil, err
	}
	return append([]llm.Message(nil), sess.Messages...), nil
}

// Append adds messages to the session, creating it if needed. The in-memory
// session is updated even when writing it out fails.
func (s *SessionStore) Append(id string, msgs ...llm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, loadErr := s.lookupLocked(id)
	now := s.now()
	var errs []error
	if loadErr != nil {
		errs = append(errs, loadErr)
	}
	if sess == nil {
		sess = &Session{ID: id, CreatedAt: now}
		if err := s.insertLocked(sess); err != nil {
			errs = append(errs, err)
		}
	}
	sess.Messages = append(sess.Messages, msgs...)
	if over := len(sess.Messages) - s.maxMessages; over > 0 {
		sess.Messages = append([]llm.Message(nil), sess.Messages[over:]...)
	}
	sess.UpdatedAt = now
	if err := s.writeLocked(sess); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// lookupLocked returns the session from memory, falling back to its file.
// A session with no file is not an error.
func (s *SessionStore) lookupLocked(id string) (*Session, error) {
	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	if s.dir == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
	}
	var sess Session
	if err := yaml.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("parsing session file: %w", err)
	}
	if sess.ID != id {
		return nil, nil
	}
	if over := len(sess.Messages) - s.maxMessages; over > 0 {
		sess.Messages = sess.Messages[over:]
	}
	if err := s.insertLocked(&sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SessionStore) insertLocked(sess *Session) error {
	var err error
	if len(s.sessions) >= s.maxSessions {
		err = s.evictOldestLocked()
	}
	s.sessions[sess.ID] = sess
	return err
}

// evictOldestLocked drops the least recently updated session, file included.
func (s *SessionStore) evictOldestLocked() error {
	var oldest *Session
	for _, sess := range s.sessions {
		if oldest == nil || sess.UpdatedAt.Before(oldest.UpdatedAt) {
			oldest = sess
		}
	}
	if oldest == nil {
		return nil
	}
	delete(s.sessions, oldest.ID)
	if s.dir == "" {
		return nil
	}
	if err := os.Remove(s.path(oldest.ID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing evicted session: %w", err)
	}
	return nil
}

func (s *SessionStore) writeLocked(sess *Session) error {
	if s.dir == "" {
		return nil
	}
	data, err := yaml.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("creating sessions dir: %w", err)
	}
	return os.WriteFile(s.path(sess.ID), data, 0600)
}

// path never contains the raw id, which arrives from clients.
func (s *SessionStore) path(id string) string {
	sum := sha256.Sum256([]byte(id))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:16])+".yaml")
}
