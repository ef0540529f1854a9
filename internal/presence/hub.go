// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presence

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/olahol/melody"

	"github.com/wneessen/livetrack/internal/logger"
)

const (
	keySubject     = "subject"
	maxMessageSize = 4096
)

// Hub is a websocket presence server. Peers connect to /ws/{subject} and receive every message other
// peers and local publishers send for that subject. Hub implements Channel for in-process sessions.
type Hub struct {
	bus    *Bus
	logger *logger.Logger
	melody *melody.Melody
}

// NewHub returns a Hub with its own in-process Bus.
func NewHub(log *logger.Logger, buffer int) (*Hub, error) {
	bus, err := NewBus(log, buffer)
	if err != nil {
		return nil, err
	}

	hub := &Hub{
		bus:    bus,
		logger: log,
		melody: melody.New(),
	}
	hub.melody.Config.MaxMessageSize = maxMessageSize
	hub.melody.HandleConnect(hub.handleConnect)
	hub.melody.HandleDisconnect(hub.handleDisconnect)
	hub.melody.HandleMessage(hub.handleMessage)
	hub.melody.HandleError(hub.handleError)
	return hub, nil
}

// Routes registers the websocket endpoint on router.
func (h *Hub) Routes(router *mux.Router) {
	router.HandleFunc("/ws/{subject}", h.serveWS).Methods(http.MethodGet).Name("presence")
}

// Subscribe registers fn for messages of subjectID, no matter if they were published locally or by a peer.
func (h *Hub) Subscribe(subjectID string, fn Handler) Unsubscribe {
	return h.bus.Subscribe(subjectID, fn)
}

// Publish delivers msg to local subscribers and to all connected peers of its subject.
func (h *Hub) Publish(msg Message) {
	h.bus.Publish(msg)
	h.broadcast(msg, nil)
}

// Forget drops the replay message of subjectID if origin published it. Connected peers keep what they
// already received.
func (h *Hub) Forget(subjectID, origin string) {
	h.bus.Forget(subjectID, origin)
}

// Close disconnects all peers.
func (h *Hub) Close() error {
	return h.melody.Close()
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	subject := mux.Vars(r)[keySubject]
	if subject == "" {
		http.Error(w, "subject is required", http.StatusBadRequest)
		return
	}
	if err := h.melody.HandleRequestWithKeys(w, r, map[string]interface{}{keySubject: subject}); err != nil {
		h.logger.Error("failed to upgrade presence connection", logger.Err(err),
			logger.Subject(subject))
	}
}

func (h *Hub) handleConnect(s *melody.Session) {
	subject := sessionSubject(s)
	h.logger.Debug("presence peer connected", logger.Subject(subject),
		slog.String("remote", s.Request.RemoteAddr))
	last, ok := h.bus.Last(subject)
	if !ok {
		return
	}
	data, err := json.Marshal(last)
	if err != nil {
		h.logger.Error("failed to encode presence message", logger.Err(err))
		return
	}
	if err = s.Write(data); err != nil {
		h.logger.Debug("failed to replay presence message", logger.Err(err))
	}
}

func (h *Hub) handleDisconnect(s *melody.Session) {
	h.logger.Debug("presence peer disconnected", logger.Subject(sessionSubject(s)),
		slog.String("remote", s.Request.RemoteAddr))
}

func (h *Hub) handleError(s *melody.Session, err error) {
	h.logger.Debug("presence peer error", logger.Err(err), logger.Subject(sessionSubject(s)))
}

func (h *Hub) handleMessage(s *melody.Session, data []byte) {
	subject := sessionSubject(s)
	msg, err := Decode(data)
	if err != nil {
		h.logger.Debug("dropping invalid presence message", logger.Err(err), logger.Subject(subject))
		return
	}
	if msg.SubjectID != subject {
		h.logger.Debug("dropping presence message for foreign subject", logger.Subject(subject),
			slog.String("message_subject", msg.SubjectID))
		return
	}
	h.bus.Publish(msg)
	h.broadcast(msg, s)
}

// broadcast sends msg to every peer of its subject except exclude.
func (h *Hub) broadcast(msg Message, exclude *melody.Session) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode presence message", logger.Err(err))
		return
	}
	err = h.melody.BroadcastFilter(data, func(s *melody.Session) bool {
		return s != exclude && sessionSubject(s) == msg.SubjectID
	})
	if err != nil {
		h.logger.Debug("failed to broadcast presence message", logger.Err(err))
	}
}

func sessionSubject(s *melody.Session) string {
	subject, _ := s.Keys[keySubject].(string)
	return subject
}
