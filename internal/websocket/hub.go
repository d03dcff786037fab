package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/dukerupert/weekplate/internal/model"
)

const TypeMealPlanStatus = "meal_plan_status"

// Message is pushed to a user's open connections.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// PlanStatus is the payload of a meal_plan_status message.
type PlanStatus struct {
	ID        int64                `json:"id"`
	Status    model.MealPlanStatus `json:"status"`
	StartDate string               `json:"start_date"`
	EndDate   string               `json:"end_date"`
	Meta      model.GenerationMeta `json:"generation_meta"`
}

// Hub tracks active WebSocket clients per user.
type Hub struct {
	mu      sync.RWMutex
	clients map[int64]map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[int64]map[*Client]struct{}),
		logger:  logger.With("component", "websocket"),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.userID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
}

// BroadcastToUser sends msg to every connection of userID.
func (h *Hub) BroadcastToUser(userID int64, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[userID] {
		select {
		case c.send <- data:
		default:
			// Client buffer full, drop rather than block the sender.
		}
	}
}

// PlanStatusChanged forwards a plan's new state to its owner.
func (h *Hub) PlanStatusChanged(_ context.Context, plan *model.MealPlan) {
	h.BroadcastToUser(plan.UserID, Message{
		Type: TypeMealPlanStatus,
		Data: PlanStatus{
			ID:        plan.ID,
			Status:    plan.Status,
			StartDate: plan.StartDate.String(),
			EndDate:   plan.EndDate.String(),
			Meta:      plan.GenerationMeta,
		},
	})
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}
