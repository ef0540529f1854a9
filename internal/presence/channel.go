// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package presence implements the channel over which sessions share the positions of tracked subjects.
package presence

import (
	"context"
	"time"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Handler receives messages of a subscribed subject. It is called from a goroutine owned by the channel.
type Handler func(msg Message)

// Unsubscribe ends a subscription. It is safe to call more than once.
type Unsubscribe func()

// Channel is a best-effort presence channel. Publish never blocks and may drop messages; subscribers get
// zero or more messages in arbitrary order.
type Channel interface {
	Subscribe(subjectID string, fn Handler) Unsubscribe
	Publish(msg Message)
}

// Forgetter is implemented by channels that replay the last message of a subject to new subscribers.
type Forgetter interface {
	Forget(subjectID, origin string)
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d *= 2; d > maxBackoff {
		return maxBackoff
	}
	return d
}
