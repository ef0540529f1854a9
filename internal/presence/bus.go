// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presence

import (
	"errors"
	"sync"

	"github.com/wneessen/livetrack/internal/logger"
)

// DefaultBuffer is the per-subscriber buffer size used if none is given.
const DefaultBuffer = 32

var ErrNoLogger = errors.New("logger is required")

// Bus is an in-process Channel. Every subscriber has its own buffered queue; messages for a full queue
// are dropped. The last message per subject is replayed to new subscribers.
type Bus struct {
	mu          sync.RWMutex
	logger      *logger.Logger
	buffer      int
	last        map[string]Message
	subscribers map[string]map[chan Message]struct{}
}

// NewBus returns an empty Bus.
func NewBus(log *logger.Logger, buffer int) (*Bus, error) {
	if log == nil {
		return nil, ErrNoLogger
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		logger:      log,
		buffer:      buffer,
		last:        make(map[string]Message),
		subscribers: make(map[string]map[chan Message]struct{}),
	}, nil
}

// Subscribe registers fn for messages of subjectID.
func (b *Bus) Subscribe(subjectID string, fn Handler) Unsubscribe {
	msgChan := make(chan Message, b.buffer)
	b.mu.Lock()
	if _, ok := b.subscribers[subjectID]; !ok {
		b.subscribers[subjectID] = make(map[chan Message]struct{})
	}
	b.subscribers[subjectID][msgChan] = struct{}{}
	if last, ok := b.last[subjectID]; ok {
		msgChan <- last
	}
	b.mu.Unlock()

	go func() {
		for msg := range msgChan {
			fn(msg)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if subs, ok := b.subscribers[subjectID]; ok {
				delete(subs, msgChan)
				if len(subs) == 0 {
					delete(b.subscribers, subjectID)
				}
			}
			b.mu.Unlock()
			close(msgChan)
		})
	}
}

// Publish delivers msg to all subscribers of its subject.
func (b *Bus) Publish(msg Message) {
	if msg.SubjectID == "" {
		return
	}
	b.mu.Lock()
	b.last[msg.SubjectID] = msg
	for ch := range b.subscribers[msg.SubjectID] {
		select {
		case ch <- msg:
		default:
			b.logger.Debug("subscriber queue full, dropping presence message",
				logger.Subject(msg.SubjectID))
		}
	}
	b.mu.Unlock()
}

// Last returns the most recent message published for subjectID.
func (b *Bus) Last(subjectID string) (Message, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	msg, ok := b.last[subjectID]
	return msg, ok
}

// Forget drops the replay message of subjectID if it was published by origin.
func (b *Bus) Forget(subjectID, origin string) {
	b.mu.Lock()
	if last, ok := b.last[subjectID]; ok && last.Origin == origin {
		delete(b.last, subjectID)
	}
	b.mu.Unlock()
}
