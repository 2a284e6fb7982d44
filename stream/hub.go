package stream

import (
	"sync"

	appconfig "cryptotrader/config"
	"cryptotrader/internal/metrics"
	"cryptotrader/logger"
	"cryptotrader/models"

	"github.com/google/uuid"
)

// ClientConn is the transport side of a client connection. It is satisfied
// by *websocket.Conn.
type ClientConn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Client is one connected websocket consumer. Messages are queued on a
// bounded channel and written by a single pump goroutine.
type Client struct {
	ID        string
	conn      ClientConn
	send      chan models.StreamMessage
	done      chan struct{}
	closeOnce sync.Once
}

// Done is closed once the client has been unregistered.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Hub tracks connected clients and owns all writes to their sockets.
type Hub struct {
	config  *appconfig.Config
	mu      sync.RWMutex
	clients map[string]*Client
	wg      *sync.WaitGroup
	log     *logger.Log
}

// NewHub creates an empty client registry.
func NewHub(cfg *appconfig.Config) *Hub {
	return &Hub{
		config:  cfg,
		clients: make(map[string]*Client),
		wg:      &sync.WaitGroup{},
		log:     logger.GetLogger(),
	}
}

// NewClient wraps a transport connection with a send queue sized from the
// server configuration.
func (h *Hub) NewClient(conn ClientConn) *Client {
	buffer := h.config.Server.SendBuffer
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		ID:   uuid.NewString(),
		conn: conn,
		send: make(chan models.StreamMessage, buffer),
		done: make(chan struct{}),
	}
}

// Register adds a client and starts its write pump.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()

	h.wg.Add(1)
	go h.writePump(c)

	metrics.ConnectionOpened()
	h.log.WithComponent("stream_hub").WithFields(logger.Fields{"client_id": c.ID}).Info("client registered")
}

// Unregister removes a client and closes its connection. It is safe to call
// more than once for the same client.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	c.close()
	metrics.ConnectionClosed()
	h.log.WithComponent("stream_hub").WithFields(logger.Fields{"client_id": id}).Info("client unregistered")
}

// Send queues a message for a client. A client whose queue is full is
// treated as dead and unregistered. Returns false when the message was not
// queued.
func (h *Hub) Send(c *Client, msg models.StreamMessage) bool {
	select {
	case c.send <- msg:
		metrics.IncrementForwarded(msg.MessageType())
		logger.IncrementClientSend()
		return true
	case <-c.done:
		return false
	default:
		h.log.WithComponent("stream_hub").WithFields(logger.Fields{
			"client_id": c.ID,
			"type":      msg.MessageType(),
		}).Warn("send queue full, dropping client")
		metrics.IncrementDropped(msg.MessageType())
		logger.IncrementClientDrop()
		h.Unregister(c.ID)
		return false
	}
}

// Broadcast queues a message for every registered client. Clients that fail
// to accept it are dropped individually; the rest still receive the message.
func (h *Hub) Broadcast(msg models.StreamMessage) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.Send(c, msg)
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop unregisters every client and waits for the write pumps to exit.
func (h *Hub) Stop() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
		metrics.ConnectionClosed()
	}

	h.wg.Wait()
	h.log.WithComponent("stream_hub").Info("hub stopped")
}

func (h *Hub) writePump(c *Client) {
	defer h.wg.Done()

	log := h.log.WithComponent("stream_hub").WithFields(logger.Fields{
		"client_id": c.ID,
		"worker":    "write_pump",
	})

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.conn.WriteJSON(msg); err != nil {
				log.WithError(err).Warn("write failed, dropping client")
				h.Unregister(c.ID)
				return
			}
		}
	}
}
