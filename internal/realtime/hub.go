package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Размер буфера подписчика. Медленный подписчик теряет сообщения, а не блокирует рассылку.
const subscriberBuffer = 16

// Subscription подписка на один канал
type Subscription struct {
	channel string
	ch      chan []byte
	once    sync.Once
}

// C сообщения канала в JSON
func (s *Subscription) C() <-chan []byte {
	return s.ch
}

func (s *Subscription) Channel() string {
	return s.channel
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// Hub реестр real-time каналов процесса: channel -> подписчики
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		logger: logger,
	}
}

// Subscribe подписывает на канал
func (h *Hub) Subscribe(channel string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscription{channel: channel, ch: make(chan []byte, subscriberBuffer)}
	if _, exists := h.subs[channel]; !exists {
		h.subs[channel] = make(map[*Subscription]struct{})
	}
	h.subs[channel][sub] = struct{}{}

	return sub
}

// Unsubscribe снимает подписку и закрывает её канал
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, exists := h.subs[sub.channel]; exists {
		delete(subs, sub)
		// Пустой канал удаляем, чтобы не копить ключи сессий
		if len(subs) == 0 {
			delete(h.subs, sub.channel)
		}
	}
	sub.close()
}

// Subscribers количество подписчиков канала
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

// Broadcast рассылает payload подписчикам канала этого процесса
func (h *Hub) Broadcast(_ context.Context, channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	h.Deliver(channel, data)
	return nil
}

// Deliver рассылает уже сериализованное сообщение
func (h *Hub) Deliver(channel string, data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.subs[channel] {
		select {
		case sub.ch <- data:
			delivered++
		default:
			h.logger.Warn("Subscriber buffer full, message dropped", zap.String("channel", channel))
		}
	}
	return delivered
}
