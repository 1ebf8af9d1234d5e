package store

import (
	"sort"
	"sync"
	"time"

	"chatrelay/pkg/models"
)

// Memory is an in-process Store used by tests and as a fallback when no
// durable backend is configured. It satisfies the same atomic-upsert and
// ordered-query contract as Pebble.
type Memory struct {
	mu     sync.RWMutex
	msgs   map[string]models.Message
	metas  map[string]models.ConversationMeta
	seq    uint64
	closed bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		msgs:  make(map[string]models.Message),
		metas: make(map[string]models.ConversationMeta),
	}
}

func (s *Memory) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

func (s *Memory) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Memory) UpsertMessage(msg models.Message) (models.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.Message{}, false, ErrNotOpen
	}
	now := time.Now().UTC().Unix()
	prev, ok := s.msgs[msg.ID]
	created := !ok
	if created {
		s.seq++
		msg.Seq = s.seq
		msg.CreatedAt = now
	} else {
		msg.Seq = prev.Seq
		msg.CreatedAt = prev.CreatedAt
	}
	msg.UpdatedAt = now
	s.msgs[msg.ID] = msg

	meta, ok := s.metas[msg.ConversationKey]
	if !ok {
		meta = models.ConversationMeta{Key: msg.ConversationKey, CreatedTS: now}
	}
	if msg.DisplayName != "" {
		meta.DisplayName = msg.DisplayName
	}
	meta.UpdatedTS = now
	s.metas[msg.ConversationKey] = meta
	return msg, created, nil
}

func (s *Memory) PatchStatus(id string, status models.Status) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.Message{}, ErrNotOpen
	}
	msg, ok := s.msgs[id]
	if !ok {
		return models.Message{}, ErrNotFound
	}
	msg.Status = status
	msg.UpdatedAt = time.Now().UTC().Unix()
	s.msgs[id] = msg
	return msg, nil
}

func (s *Memory) GetMessage(id string) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.msgs[id]
	if !ok {
		return models.Message{}, ErrNotFound
	}
	return msg, nil
}

func (s *Memory) FindByConversation(key string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Message{}
	for _, m := range s.msgs {
		if m.ConversationKey == key {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SentAt != out[j].SentAt {
			return out[i].SentAt < out[j].SentAt
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (s *Memory) ListConversationKeys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.metas))
	for k := range s.metas {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Memory) GetConversationMeta(key string) (models.ConversationMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.metas[key]
	if !ok {
		return models.ConversationMeta{}, ErrNotFound
	}
	return meta, nil
}

func (s *Memory) ListAllMessages() ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, 0, len(s.msgs))
	for _, m := range s.msgs {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
