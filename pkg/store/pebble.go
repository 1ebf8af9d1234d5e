package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
)

// Pebble is the durable Store implementation. All mutations for one logical
// operation are committed through a single pebble.Batch, so readers never
// observe a partially applied upsert.
type Pebble struct {
	db   *pebble.DB
	path string
	// mu serializes read-modify-write cycles; index-key maintenance needs
	// the previous record, which a bare Set cannot provide.
	mu  sync.Mutex
	seq uint64
}

// OpenPebble opens (or creates) a Pebble database at the given path and
// restores the insertion-sequence counter.
func OpenPebble(path string) (*Pebble, error) {
	logger.Log.Info("opening_pebble_db", zap.String("path", path))
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Log.Error("pebble_open_failed", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	s := &Pebble{db: db, path: path}
	if v, closer, err := db.Get(seqKey); err == nil {
		if n, perr := strconv.ParseUint(string(v), 10, 64); perr == nil {
			s.seq = n
		}
		_ = closer.Close()
	}
	logger.Log.Info("pebble_opened", zap.String("path", path), zap.Uint64("seq", s.seq))
	return s, nil
}

// Close closes the underlying pebble DB.
func (s *Pebble) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	s.db = nil
	logger.Log.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func (s *Pebble) Ready() bool { return s != nil && s.db != nil }

// UpsertMessage inserts or replaces the message keyed by its provider ID.
// First insertion allocates the insertion sequence and created_at; later
// upserts keep both so the conversation ordering index stays stable.
func (s *Pebble) UpsertMessage(msg models.Message) (models.Message, bool, error) {
	if s.db == nil {
		return models.Message{}, false, ErrNotOpen
	}
	if msg.ID == "" {
		return models.Message{}, false, fmt.Errorf("upsert: empty message id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Unix()
	prev, err := s.fetch(msg.ID)
	created := err != nil

	wb := s.db.NewBatch()
	defer wb.Close()

	if created {
		msg.Seq = atomic.AddUint64(&s.seq, 1)
		msg.CreatedAt = now
		if err := wb.Set(seqKey, []byte(strconv.FormatUint(msg.Seq, 10)), nil); err != nil {
			return models.Message{}, false, err
		}
	} else {
		msg.Seq = prev.Seq
		msg.CreatedAt = prev.CreatedAt
		// sent_at or conversation moved: drop the stale index entry
		oldIdx := ConvMsgKey(prev.ConversationKey, prev.SentAt, prev.Seq)
		newIdx := ConvMsgKey(msg.ConversationKey, msg.SentAt, msg.Seq)
		if !bytes.Equal(oldIdx, newIdx) {
			if err := wb.Delete(oldIdx, nil); err != nil {
				return models.Message{}, false, err
			}
		}
	}
	msg.UpdatedAt = now

	data, err := json.Marshal(msg)
	if err != nil {
		return models.Message{}, false, fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := wb.Set(msgDocKey(msg.ID), data, nil); err != nil {
		return models.Message{}, false, err
	}
	if err := wb.Set(ConvMsgKey(msg.ConversationKey, msg.SentAt, msg.Seq), []byte(msg.ID), nil); err != nil {
		return models.Message{}, false, err
	}
	if err := s.writeConvMeta(wb, msg, now); err != nil {
		return models.Message{}, false, err
	}

	if err := wb.Commit(pebble.Sync); err != nil {
		logger.Log.Error("save_message_failed", zap.String("msg_id", msg.ID), zap.String("conversation", msg.ConversationKey), zap.Error(err))
		return models.Message{}, false, err
	}
	logger.Log.Info("message_saved", zap.String("msg_id", msg.ID), zap.String("conversation", msg.ConversationKey), zap.Bool("created", created))
	return msg, created, nil
}

// writeConvMeta creates or refreshes the conversation meta document inside
// the same batch as the message write.
func (s *Pebble) writeConvMeta(wb *pebble.Batch, msg models.Message, now int64) error {
	var meta models.ConversationMeta
	if v, closer, err := s.db.Get(convMetaKey(msg.ConversationKey)); err == nil {
		_ = json.Unmarshal(v, &meta)
		_ = closer.Close()
	} else {
		meta = models.ConversationMeta{Key: msg.ConversationKey, CreatedTS: now}
	}
	if msg.DisplayName != "" {
		meta.DisplayName = msg.DisplayName
	}
	meta.UpdatedTS = now
	b, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return wb.Set(convMetaKey(msg.ConversationKey), b, nil)
}

// PatchStatus sets status and updated_at on the matching record. Unknown
// IDs return ErrNotFound without mutating anything.
func (s *Pebble) PatchStatus(id string, status models.Status) (models.Message, error) {
	if s.db == nil {
		return models.Message{}, ErrNotOpen
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := s.fetch(id)
	if err != nil {
		return models.Message{}, err
	}
	msg.Status = status
	msg.UpdatedAt = time.Now().UTC().Unix()
	data, err := json.Marshal(msg)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := s.db.Set(msgDocKey(id), data, pebble.Sync); err != nil {
		logger.Log.Error("patch_status_failed", zap.String("msg_id", id), zap.Error(err))
		return models.Message{}, err
	}
	logger.Log.Info("status_patched", zap.String("msg_id", id), zap.String("status", string(status)))
	return msg, nil
}

// GetMessage returns the stored record for the given message ID.
func (s *Pebble) GetMessage(id string) (models.Message, error) {
	if s.db == nil {
		return models.Message{}, ErrNotOpen
	}
	return s.fetch(id)
}

func (s *Pebble) fetch(id string) (models.Message, error) {
	v, closer, err := s.db.Get(msgDocKey(id))
	if err != nil {
		return models.Message{}, ErrNotFound
	}
	defer closer.Close()
	var msg models.Message
	if err := json.Unmarshal(v, &msg); err != nil {
		return models.Message{}, fmt.Errorf("invalid stored message %s: %w", id, err)
	}
	return msg, nil
}

// FindByConversation returns all messages for the key ordered by sent_at
// ascending, insertion order breaking ties. The ordering comes from the
// index key layout; no sort is performed here.
func (s *Pebble) FindByConversation(key string) ([]models.Message, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}
	prefix := convMsgPrefix(key)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	out := []models.Message{}
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		id := string(iter.Value())
		msg, gerr := s.fetch(id)
		if gerr != nil {
			logger.Log.Warn("dangling_conversation_index", zap.String("key", string(iter.Key())), zap.String("msg_id", id))
			continue
		}
		out = append(out, msg)
	}
	return out, iter.Error()
}

// ListConversationKeys returns all distinct conversation keys present.
func (s *Pebble) ListConversationKeys() ([]string, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for iter.SeekGE(convPrefix); iter.Valid(); iter.Next() {
		k := iter.Key()
		if !bytes.HasPrefix(k, convPrefix) {
			break
		}
		if bytes.HasSuffix(k, []byte(":meta")) {
			var meta models.ConversationMeta
			if json.Unmarshal(iter.Value(), &meta) == nil && meta.Key != "" {
				out = append(out, meta.Key)
			}
		}
	}
	return out, iter.Error()
}

// GetConversationMeta returns the stored meta document for the key.
func (s *Pebble) GetConversationMeta(key string) (models.ConversationMeta, error) {
	if s.db == nil {
		return models.ConversationMeta{}, ErrNotOpen
	}
	v, closer, err := s.db.Get(convMetaKey(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.ConversationMeta{}, ErrNotFound
		}
		return models.ConversationMeta{}, err
	}
	defer closer.Close()
	var meta models.ConversationMeta
	if err := json.Unmarshal(v, &meta); err != nil {
		return models.ConversationMeta{}, err
	}
	return meta, nil
}

// ListAllMessages returns every stored message in ID order.
func (s *Pebble) ListAllMessages() ([]models.Message, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	out := []models.Message{}
	for iter.SeekGE(msgDocPrefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), msgDocPrefix) {
			break
		}
		var msg models.Message
		if err := json.Unmarshal(iter.Value(), &msg); err != nil {
			logger.Log.Warn("invalid_message_json", zap.ByteString("key", iter.Key()))
			continue
		}
		out = append(out, msg)
	}
	return out, iter.Error()
}

// PurgeOlderThan deletes messages whose sent_at is before cutoff, in batches
// of batchSize, together with their conversation index entries. With dryRun
// it only counts. Used by the retention runner, never by normal operation.
func (s *Pebble) PurgeOlderThan(cutoff int64, batchSize int, dryRun bool) (int, error) {
	if s.db == nil {
		return 0, ErrNotOpen
	}
	if batchSize <= 0 {
		batchSize = 256
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	type victim struct {
		doc, idx []byte
	}
	var victims []victim
	for iter.SeekGE(msgDocPrefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), msgDocPrefix) {
			break
		}
		var msg models.Message
		if err := json.Unmarshal(iter.Value(), &msg); err != nil {
			continue
		}
		if msg.SentAt >= cutoff {
			continue
		}
		victims = append(victims, victim{
			doc: append([]byte(nil), iter.Key()...),
			idx: ConvMsgKey(msg.ConversationKey, msg.SentAt, msg.Seq),
		})
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}
	if dryRun {
		return len(victims), nil
	}
	deleted := 0
	for len(victims) > 0 {
		n := batchSize
		if n > len(victims) {
			n = len(victims)
		}
		wb := s.db.NewBatch()
		for _, v := range victims[:n] {
			_ = wb.Delete(v.doc, nil)
			_ = wb.Delete(v.idx, nil)
		}
		if err := wb.Commit(pebble.Sync); err != nil {
			wb.Close()
			return deleted, err
		}
		wb.Close()
		deleted += n
		victims = victims[n:]
	}
	logger.Log.Info("retention_purged", zap.Int("deleted", deleted), zap.Int64("cutoff", cutoff))
	return deleted, nil
}
