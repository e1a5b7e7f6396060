package bus

import (
	"context"
	"sync"
)

const defaultBufferSize = 100

type MessageBus struct {
	hooks []OutboundHook

	eventSubscribers      map[uint64]chan Event
	nextEventSubscriberID uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		eventSubscribers: make(map[uint64]chan Event),
		done:             make(chan struct{}),
	}
}

// RegisterOutboundHook appends a pre-send hook. Hooks run in registration order.
func (mb *MessageBus) RegisterOutboundHook(hook OutboundHook) {
	if hook == nil {
		return
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.hooks = append(mb.hooks, hook)
}

// PrepareOutbound runs every registered hook over msg and returns the message
// to transmit. A closed bus or a canceled context returns msg untouched.
func (mb *MessageBus) PrepareOutbound(ctx context.Context, msg OutboundMessage) OutboundMessage {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return msg
	case <-mb.done:
		return msg
	default:
	}

	mb.mu.RLock()
	hooks := make([]OutboundHook, len(mb.hooks))
	copy(hooks, mb.hooks)
	mb.mu.RUnlock()

	for _, hook := range hooks {
		msg = hook(ctx, msg)
	}

	return msg
}

// HookCount reports how many outbound hooks are registered.
func (mb *MessageBus) HookCount() int {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return len(mb.hooks)
}

func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		close(mb.done)

		mb.mu.Lock()
		for id, ch := range mb.eventSubscribers {
			close(ch)
			delete(mb.eventSubscribers, id)
		}
		mb.mu.Unlock()
	})
}
