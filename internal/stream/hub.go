package stream

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix = "ride:"
	channelSuffix = ":live"
	outboxSize    = 256
)

// Hub fans a ride's live view out to its websocket viewers. With Redis
// configured every broadcast goes through the ride:*:live channels, so a
// viewer connected to any instance sees every rider.
type Hub struct {
	redis   *redis.Client
	pubsub  *redis.PubSub
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
	done    chan struct{}

	// outbox feeds the publisher goroutine; Broadcast never waits on Redis.
	outbox    chan message
	quit      chan struct{}
	published chan struct{}
	closeOnce sync.Once
}

type message struct {
	sessionID string
	payload   []byte
}

type Client struct {
	SessionID string
	Send      chan []byte
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		redis:   redisClient,
		clients: map[string]map[*Client]struct{}{},
		done:    make(chan struct{}),
		quit:    make(chan struct{}),
	}

	if redisClient == nil {
		close(h.done)
		return h
	}
	ctx := context.Background()
	h.pubsub = redisClient.PSubscribe(ctx, channelPrefix+"*"+channelSuffix)
	if _, err := h.pubsub.Receive(ctx); err != nil {
		log.Printf("redis psubscribe error: %v", err)
		_ = h.pubsub.Close()
		h.pubsub = nil
		close(h.done)
		return h
	}
	h.outbox = make(chan message, outboxSize)
	h.published = make(chan struct{})
	go h.subscribeRedis()
	go h.publishRedis()
	return h
}

func (h *Hub) Register(sessionID string) *Client {
	client := &Client{
		SessionID: sessionID,
		Send:      make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = map[*Client]struct{}{}
	}
	h.clients[sessionID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sessionClients, ok := h.clients[client.SessionID]; ok {
		delete(sessionClients, client)
		if len(sessionClients) == 0 {
			delete(h.clients, client.SessionID)
		}
	}
	close(client.Send)
}

// Broadcast satisfies tracking.Broadcaster. With Redis the payload is queued
// for the publisher and dropped when the queue is full.
func (h *Hub) Broadcast(sessionID string, payload []byte) {
	if h.outbox == nil {
		h.deliver(sessionID, payload)
		return
	}
	select {
	case <-h.quit:
	case h.outbox <- message{sessionID: sessionID, payload: payload}:
	default:
		log.Printf("stream outbox full, dropping update for %s", sessionID)
	}
}

// Viewers reports how many local websocket clients watch a ride.
func (h *Hub) Viewers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.quit)
		if h.published != nil {
			<-h.published
		}
		if h.pubsub != nil {
			_ = h.pubsub.Close()
		}
	})
	<-h.done
}

func (h *Hub) deliver(sessionID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[sessionID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) publishRedis() {
	defer close(h.published)
	for {
		select {
		case <-h.quit:
			return
		case msg := <-h.outbox:
			err := h.redis.Publish(context.Background(), redisChannel(msg.sessionID), msg.payload).Err()
			if err != nil {
				log.Printf("redis publish error: %v", err)
				h.deliver(msg.sessionID, msg.payload)
			}
		}
	}
}

func (h *Hub) subscribeRedis() {
	defer close(h.done)
	for msg := range h.pubsub.Channel() {
		sessionID := sessionIDFromChannel(msg.Channel)
		if sessionID == "" {
			continue
		}
		h.deliver(sessionID, []byte(msg.Payload))
	}
}

func redisChannel(sessionID string) string {
	return channelPrefix + sessionID + channelSuffix
}

func sessionIDFromChannel(ch string) string {
	if !strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, channelSuffix) {
		return ""
	}
	if len(ch) <= len(channelPrefix)+len(channelSuffix) {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(channelSuffix)]
}
