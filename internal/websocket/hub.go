package websocket

import (
	"context"
	"encoding/json"

	"tienda/checkout-service/internal/order"
)

type Client struct {
	hub     *Hub
	conn    *Conn
	send    chan []byte
	orderID string
}

// Hub fans payment status updates out to the clients watching each
// order. All bookkeeping happens on the Run goroutine.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	updates    chan order.Update
	clients    map[string]map[*Client]bool
}

func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		updates:    make(chan order.Update, 16),
		clients:    make(map[string]map[*Client]bool),
	}
}

// Broadcast implements order.Watcher. It never blocks the caller: a
// full hub drops the update, the client re-syncs on its next verify.
func (h *Hub) Broadcast(upd order.Update) {
	select {
	case h.updates <- upd:
	default:
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			set, ok := h.clients[c.orderID]
			if !ok {
				set = make(map[*Client]bool)
				h.clients[c.orderID] = set
			}
			set[c] = true
		case c := <-h.unregister:
			if set, ok := h.clients[c.orderID]; ok {
				if _, exists := set[c]; exists {
					delete(set, c)
					close(c.send)
				}
				if len(set) == 0 {
					delete(h.clients, c.orderID)
				}
			}
		case upd := <-h.updates:
			msg, err := json.Marshal(upd)
			if err != nil {
				continue
			}
			for c := range h.clients[upd.OrderID] {
				select {
				case c.send <- msg:
				default:
					delete(h.clients[upd.OrderID], c)
					close(c.send)
				}
			}
		}
	}
}
