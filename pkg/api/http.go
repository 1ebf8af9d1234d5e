// Package api exposes the relay's REST surface and the live websocket feed.
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"chatrelay/pkg/aggregate"
	"chatrelay/pkg/fanout"
	"chatrelay/pkg/ingest"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
	"chatrelay/pkg/telemetry"
	"chatrelay/pkg/utils"
)

// maxWebhookBody caps how much of a webhook payload we read.
const maxWebhookBody = 1 << 20

// API holds the handler dependencies.
type API struct {
	store    store.Store
	bus      *fanout.Bus
	queue    *ingest.Queue
	pipeline *ingest.Pipeline
	selfID   string
}

// New builds the API over the given collaborators. queue may be nil, in
// which case webhooks are processed synchronously.
func New(st store.Store, bus *fanout.Bus, q *ingest.Queue, p *ingest.Pipeline, selfID string) *API {
	return &API{store: st, bus: bus, queue: q, pipeline: p, selfID: selfID}
}

// Routes registers all API endpoints on r.
func (a *API) Routes(r *mux.Router) {
	r.HandleFunc("/api/conversations", a.listConversations).Methods(http.MethodGet)
	r.HandleFunc("/api/conversations/{key}", a.getConversation).Methods(http.MethodGet)
	r.HandleFunc("/api/messages", a.sendMessage).Methods(http.MethodPost)
	r.HandleFunc("/api/messages", a.listAllMessages).Methods(http.MethodGet)
	r.HandleFunc("/api/webhooks", a.receiveWebhook).Methods(http.MethodPost)
	r.HandleFunc("/ws", a.serveLive).Methods(http.MethodGet)
}

// listConversations returns one summary per conversation, most recent
// activity first.
func (a *API) listConversations(w http.ResponseWriter, r *http.Request) {
	keys, err := a.store.ListConversationKeys()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "list failed")
		return
	}
	out := make([]models.Conversation, 0, len(keys))
	for _, k := range keys {
		msgs, ferr := a.store.FindByConversation(k)
		if ferr != nil {
			logger.Log.Error("conversation_load_failed", zap.String("key", k), zap.Error(ferr))
			continue
		}
		sum, ok := aggregate.Summarize(k, msgs)
		if !ok {
			continue
		}
		// the meta record remembers the contact name even after the
		// messages that carried it are purged
		if sum.DisplayName == k {
			if meta, merr := a.store.GetConversationMeta(k); merr == nil && meta.DisplayName != "" {
				sum.DisplayName = meta.DisplayName
			}
		}
		out = append(out, sum)
	}
	aggregate.SortSummaries(out)
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Conversations []models.Conversation `json:"conversations"`
	}{Conversations: out})
}

// getConversation returns the full ordered message list for one conversation.
func (a *API) getConversation(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	msgs, err := a.store.FindByConversation(key)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Key      string           `json:"wa_id"`
		Messages []models.Message `json:"messages"`
	}{Key: key, Messages: msgs})
}

// sendRequest is the body of POST /api/messages.
type sendRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
	Name string `json:"name,omitempty"`
}

// sendMessage stores an outbound message and broadcasts it. There is no
// provider call behind this; delivery status arrives later via webhooks.
func (a *API) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.To == "" || req.Text == "" {
		utils.JSONError(w, http.StatusBadRequest, "to and text are required")
		return
	}
	now := time.Now().Unix()
	msg := models.Message{
		ID:              utils.GenMessageID(),
		ConversationKey: req.To,
		Direction:       models.DirectionOutbound,
		From:            a.selfID,
		To:              req.To,
		Body:            req.Text,
		Kind:            "text",
		SentAt:          now,
		Status:          models.StatusSent,
		DisplayName:     req.Name,
	}
	stored, _, err := a.store.UpsertMessage(msg)
	if err != nil {
		logger.Log.Error("send_failed", zap.String("to", req.To), zap.Error(err))
		utils.JSONError(w, http.StatusInternalServerError, "store failed")
		return
	}
	m := stored
	a.bus.Publish(models.Delta{
		Kind:            models.DeltaNewMessage,
		ConversationKey: stored.ConversationKey,
		MessageID:       stored.ID,
		Message:         &m,
	})
	telemetry.MessagesUpserted.Inc()
	logger.Log.Info("message_sent", zap.String("id", stored.ID), zap.String("to", req.To))
	_ = utils.JSONWrite(w, http.StatusCreated, stored)
}

// listAllMessages dumps every stored message. Debug aid, unpaginated.
func (a *API) listAllMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := a.store.ListAllMessages()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Messages []models.Message `json:"messages"`
		Count    int              `json:"count"`
	}{Messages: msgs, Count: len(msgs)})
}

// receiveWebhook accepts a provider payload. With a queue the payload is
// parked and 202 returned immediately; without one it is processed inline.
// Unrecognized payloads are acknowledged with 200 so the provider does not
// retry them forever.
func (a *API) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil || len(body) == 0 {
		utils.JSONError(w, http.StatusBadRequest, "empty body")
		return
	}

	if a.queue != nil {
		if qerr := a.queue.TryEnqueue(body, r.RemoteAddr); qerr != nil {
			logger.Log.Warn("webhook_queue_full", zap.Int("bytes", len(body)))
			utils.JSONError(w, http.StatusServiceUnavailable, "ingest queue full")
			return
		}
		telemetry.QueueDepth.Set(float64(a.queue.Len()))
		_ = utils.JSONWrite(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}

	rep := a.pipeline.Process(r.Context(), body)
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		State             string `json:"state"`
		MessagesUpserted  int    `json:"messages_upserted"`
		StatusesApplied   int    `json:"statuses_applied"`
		UnknownStatusRefs int    `json:"unknown_status_refs,omitempty"`
	}{
		State:             string(rep.State),
		MessagesUpserted:  rep.MessagesUpserted,
		StatusesApplied:   rep.StatusesApplied,
		UnknownStatusRefs: rep.UnknownStatusRefs,
	})
}
