package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/game-alerts/internal/domain"
)

// Message types
const (
	MessageTypeGameEvent = "game_event"
	MessageTypeFollow    = "follow"
	MessageTypeUnfollow  = "unfollow"
	MessageTypeFollowing = "following"
	MessageTypeDropped   = "unfollowed"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
	MessageTypeError     = "error"
)

// Message is an envelope sent to live clients
type Message struct {
	Type      string      `json:"type"`
	GameID    string      `json:"game_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub tracks connected clients and the games each one follows
type Hub struct {
	// followers by game ID
	followers map[string]map[*Client]bool

	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	follow     chan followRequest
	unfollow   chan followRequest

	mu     sync.RWMutex
	logger *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

type followRequest struct {
	client *Client
	gameID string
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		followers:  make(map[string]map[*Client]bool),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 256),
		follow:     make(chan followRequest, 64),
		unfollow:   make(chan followRequest, 64),
		logger:     logger,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("websocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("websocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				for gameID := range h.followers {
					h.dropFollower(gameID, client)
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.follow:
			h.mu.Lock()
			if _, ok := h.followers[req.gameID]; !ok {
				h.followers[req.gameID] = make(map[*Client]bool)
			}
			h.followers[req.gameID][req.client] = true
			h.mu.Unlock()
			h.logger.Debug("client following game", "client_id", req.client.id, "game_id", req.gameID)

		case req := <-h.unfollow:
			h.mu.Lock()
			h.dropFollower(req.gameID, req.client)
			h.mu.Unlock()
			h.logger.Debug("client unfollowed game", "client_id", req.client.id, "game_id", req.gameID)

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// dropFollower must be called with mu held
func (h *Hub) dropFollower(gameID string, client *Client) {
	clients, ok := h.followers[gameID]
	if !ok {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.followers, gameID)
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

func (h *Hub) deliver(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.followers[message.GameID]
	if !ok {
		return
	}

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	for client := range clients {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

// PublishEvent forwards a detected event to clients following its game
// It never blocks the notification cycle
func (h *Hub) PublishEvent(_ context.Context, ev domain.NotificationEvent) error {
	message := &Message{
		Type:      MessageTypeGameEvent,
		GameID:    ev.GameID,
		Data:      ev,
		Timestamp: h.now().UTC(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping event", "game_id", ev.GameID, "event_type", ev.Type)
	}
	return nil
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Follow starts forwarding events of gameID to client
func (h *Hub) Follow(client *Client, gameID string) {
	h.follow <- followRequest{client: client, gameID: gameID}
}

// Unfollow stops forwarding events of gameID to client
func (h *Hub) Unfollow(client *Client, gameID string) {
	h.unfollow <- followRequest{client: client, gameID: gameID}
}

// FollowerCount returns the number of live clients following a game
func (h *Hub) FollowerCount(gameID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.followers[gameID])
}

// TotalConnections returns the number of connected clients
func (h *Hub) TotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
