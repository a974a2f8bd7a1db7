// Package session tracks per-conversation state: message history,
// extracted topics, and the sliding context window fed to planning.
package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ContextWindow is the number of recent messages carried into
// intent analysis and planning.
const ContextWindow = 10

// Message is one conversation turn.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"` // user or assistant
	Content   string    `json:"content"`
	Intent    string    `json:"intent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is one conversation's state.
type Session struct {
	ID           string                 `json:"id"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	MessageCount int                    `json:"message_count"`
	Topics       []string               `json:"topics"`
	Metadata     map[string]interface{} `json:"metadata"`
}

// Manager stores sessions and their message history.
type Manager interface {
	Create(ctx context.Context, metadata map[string]interface{}) (*Session, error)
	Get(ctx context.Context, sessionID string) (*Session, error)
	Delete(ctx context.Context, sessionID string) error
	AddMessage(ctx context.Context, sessionID string, msg Message) error
	GetMessages(ctx context.Context, sessionID string, limit int) ([]Message, error)
	ListActive(ctx context.Context) ([]string, error)
	Close() error
}

// MemoryManager is the in-process Manager used when no Redis URL is
// configured. Histories are bounded per session.
type MemoryManager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	messages    map[string][]Message
	maxMessages int
}

// NewMemoryManager creates an in-memory session manager. maxMessages
// bounds each session's retained history.
func NewMemoryManager(maxMessages int) *MemoryManager {
	if maxMessages <= 0 {
		maxMessages = 100
	}
	return &MemoryManager{
		sessions:    make(map[string]*Session),
		messages:    make(map[string][]Message),
		maxMessages: maxMessages,
	}
}

func (m *MemoryManager) Create(_ context.Context, metadata map[string]interface{}) (*Session, error) {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	now := time.Now()
	s := &Session{
		ID:        uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
		Topics:    []string{},
		Metadata:  metadata,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return cloneSession(s), nil
}

func (m *MemoryManager) Get(_ context.Context, sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, errSessionNotFound(sessionID)
	}
	return cloneSession(s), nil
}

func (m *MemoryManager) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return errSessionNotFound(sessionID)
	}
	delete(m.sessions, sessionID)
	delete(m.messages, sessionID)
	return nil
}

func (m *MemoryManager) AddMessage(_ context.Context, sessionID string, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return errSessionNotFound(sessionID)
	}

	msg.ID = uuid.New().String()
	msg.SessionID = sessionID
	msg.Timestamp = time.Now()

	history := append(m.messages[sessionID], msg)
	if len(history) > m.maxMessages {
		history = history[len(history)-m.maxMessages:]
	}
	m.messages[sessionID] = history

	s.MessageCount++
	s.UpdatedAt = msg.Timestamp
	s.Topics = mergeTopics(s.Topics, ExtractTopics(msg.Content))
	return nil
}

func (m *MemoryManager) GetMessages(_ context.Context, sessionID string, limit int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return nil, errSessionNotFound(sessionID)
	}

	history := m.messages[sessionID]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]Message, len(history))
	copy(out, history)
	return out, nil
}

func (m *MemoryManager) ListActive(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryManager) Close() error { return nil }

func cloneSession(s *Session) *Session {
	out := *s
	out.Topics = append([]string(nil), s.Topics...)
	out.Metadata = make(map[string]interface{}, len(s.Metadata))
	for k, v := range s.Metadata {
		out.Metadata[k] = v
	}
	return &out
}

// topicVocabulary maps message tokens to conversation topics.
var topicVocabulary = map[string]string{
	"cache":       "caching",
	"redis":       "caching",
	"performance": "performance",
	"latency":     "performance",
	"slow":        "performance",
	"health":      "health",
	"status":      "health",
	"error":       "debugging",
	"bug":         "debugging",
	"fix":         "debugging",
	"deploy":      "deployment",
	"config":      "configuration",
	"code":        "code_generation",
	"game":        "code_generation",
	"script":      "code_generation",
}

// ExtractTopics pulls recognized topics from one message.
func ExtractTopics(content string) []string {
	lower := strings.ToLower(content)
	seen := make(map[string]bool)
	var topics []string
	for _, word := range strings.Fields(lower) {
		word = strings.Trim(word, ".,!?:;\"'")
		if topic, ok := topicVocabulary[word]; ok && !seen[topic] {
			seen[topic] = true
			topics = append(topics, topic)
		}
	}
	sort.Strings(topics)
	return topics
}

func mergeTopics(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[t] = true
	}
	for _, t := range incoming {
		if !seen[t] {
			seen[t] = true
			existing = append(existing, t)
		}
	}
	return existing
}
