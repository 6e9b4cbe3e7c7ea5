package services

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	EventEvaluationCompleted = "evaluation_completed"
	EventCertificateIssued   = "certificate_issued"
)

const writeWait = 10 * time.Second

// Notifier receives domain events once the change behind them has committed.
// Publishing never fails the operation that triggered it.
type Notifier interface {
	Publish(eventType string, payload interface{})
}

type noopNotifier struct{}

func (noopNotifier) Publish(string, interface{}) {}

// Hub fans events out to websocket subscribers. A client subscribed to a
// topic only receives events of that type; a client without a topic receives
// everything.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
}

type Client struct {
	hub    *Hub
	id     string
	socket *websocket.Conn
	send   chan []byte
	topic  string
}

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			glog.Infof("event client %s registered (topic %q), %d connected", client.id, client.topic, total)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mutex.Unlock()
			glog.Infof("event client %s unregistered, %d connected", client.id, total)
		}
	}
}

// Publish implements Notifier.
func (h *Hub) Publish(eventType string, payload interface{}) {
	data, err := json.Marshal(Message{Type: eventType, Payload: payload})
	if err != nil {
		glog.Warningf("failed to encode %s event: %v", eventType, err)
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	sent := 0
	for client := range h.clients {
		if client.topic != "" && client.topic != eventType {
			continue
		}
		select {
		case client.send <- data:
			sent++
		default:
			glog.Warningf("event client %s send buffer full, dropping it", client.id)
			close(client.send)
			delete(h.clients, client)
		}
	}
	glog.V(2).Infof("published %s to %d clients", eventType, sent)
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// RegisterClient takes ownership of conn. Run must be running.
func (h *Hub) RegisterClient(conn *websocket.Conn, topic string) *Client {
	client := &Client{
		hub:    h,
		id:     uuid.NewString(),
		socket: conn,
		send:   make(chan []byte, 256),
		topic:  topic,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()

	return client
}

// sendTo queues data for one client unless it has already been dropped.
func (h *Hub) sendTo(client *Client, data []byte) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if !h.clients[client] {
		return
	}
	select {
	case client.send <- data:
	default:
		close(client.send)
		delete(h.clients, client)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.socket.Close()
	}()

	for {
		_, message, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				glog.Warningf("event client %s read error: %v", c.id, err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			glog.V(2).Infof("event client %s sent invalid message: %v", c.id, err)
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	defer c.socket.Close()

	for message := range c.send {
		c.socket.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.socket.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.socket.SetWriteDeadline(time.Now().Add(writeWait))
	c.socket.WriteMessage(websocket.CloseMessage, []byte{})
}

// Subscribers only listen; ping is the one message they may send.
func (c *Client) handleMessage(msg Message) {
	switch msg.Type {
	case "ping":
		data, _ := json.Marshal(Message{Type: "pong", Payload: "pong"})
		c.hub.sendTo(c, data)
	default:
		glog.V(2).Infof("event client %s sent unknown message type %q", c.id, msg.Type)
	}
}
