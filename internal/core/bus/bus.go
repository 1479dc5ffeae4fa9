package bus

import (
	"sync"
	"time"

	"delivery-agent/internal/core/logger"

	"go.uber.org/zap"
)

// DefaultMessageDuration is how long a transient message should stay on
// screen when the publisher does not say otherwise.
const DefaultMessageDuration = 3 * time.Second

// Message is a transient user-facing notification.
type Message struct {
	// Text is the message body shown to the agent.
	Text string
	// Duration is how long the message should remain visible.
	Duration time.Duration
}

// MessageFunc receives published messages.
type MessageFunc func(Message)

// LogoutFunc receives the forced-logout signal.
type LogoutFunc func()

type messageSub struct {
	id int
	fn MessageFunc
}

type logoutSub struct {
	id int
	fn LogoutFunc
}

// Bus is a process-wide publish/subscribe channel for transient user-facing
// messages and the forced-logout signal. It is constructed explicitly and
// injected wherever publishing is needed, so code deep inside failure
// handlers can notify the UI layer without holding any rendering context.
//
// Messages published before any subscriber exists are queued and flushed,
// exactly once each, to the first message subscriber that registers.
type Bus struct {
	mu     sync.Mutex
	closed bool
	nextID int

	messageSubs []messageSub
	logoutSubs  []logoutSub
	pending     []Message
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{}
}

// PublishMessage delivers a transient message to all message subscribers
// synchronously, in registration order. With no subscribers registered the
// message is buffered until one appears. A non-positive duration falls back
// to DefaultMessageDuration.
func (b *Bus) PublishMessage(text string, duration time.Duration) {
	if duration <= 0 {
		duration = DefaultMessageDuration
	}
	msg := Message{Text: text, Duration: duration}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if len(b.messageSubs) == 0 {
		b.pending = append(b.pending, msg)
		b.mu.Unlock()
		return
	}
	subs := make([]messageSub, len(b.messageSubs))
	copy(subs, b.messageSubs)
	b.mu.Unlock()

	for _, sub := range subs {
		deliverMessage(sub.fn, msg)
	}
}

// SubscribeMessages registers fn for transient messages and returns its
// deregistration function. The first subscriber also receives any messages
// that were published while nobody was listening.
func (b *Bus) SubscribeMessages(fn MessageFunc) func() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.messageSubs = append(b.messageSubs, messageSub{id: id, fn: fn})

	flush := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, msg := range flush {
		deliverMessage(fn, msg)
	}

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.messageSubs {
			if sub.id == id {
				b.messageSubs = append(b.messageSubs[:i], b.messageSubs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeLogout registers fn for the forced-logout signal and returns its
// deregistration function.
func (b *Bus) SubscribeLogout(fn LogoutFunc) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.logoutSubs = append(b.logoutSubs, logoutSub{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.logoutSubs {
			if sub.id == id {
				b.logoutSubs = append(b.logoutSubs[:i], b.logoutSubs[i+1:]...)
				return
			}
		}
	}
}

// PublishLogout invokes every logout subscriber in registration order.
// A panicking subscriber never prevents the remaining ones from running.
func (b *Bus) PublishLogout() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	subs := make([]logoutSub, len(b.logoutSubs))
	copy(subs, b.logoutSubs)
	b.mu.Unlock()

	for _, sub := range subs {
		deliverLogout(sub.fn)
	}
}

// Close drops all subscribers and any buffered messages. Publishing or
// subscribing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.messageSubs = nil
	b.logoutSubs = nil
	b.pending = nil
}

func deliverMessage(fn MessageFunc, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			logger.Get().Warn("Message subscriber panicked", zap.Any("panic", r))
		}
	}()
	fn(msg)
}

func deliverLogout(fn LogoutFunc) {
	defer func() {
		if r := recover(); r != nil {
			logger.Get().Warn("Logout subscriber panicked", zap.Any("panic", r))
		}
	}()
	fn()
}
