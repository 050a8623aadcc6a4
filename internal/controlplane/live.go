package controlplane

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fentz26/dqmote/internal/models"
)

// subscriberBuffer is how many rounds a slow subscriber may lag before
// rounds are dropped for it.
const subscriberBuffer = 64

// Hub fans recorded rounds out to live subscribers.
type Hub struct {
	mu   sync.Mutex
	subs map[chan models.Round]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan models.Round]struct{})}
}

// Subscribe returns a channel of rounds and a function that cancels the
// subscription and closes the channel.
func (h *Hub) Subscribe() (<-chan models.Round, func()) {
	ch := make(chan models.Round, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish sends r to every subscriber without blocking.
func (h *Hub) Publish(r models.Round) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- r:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleLive streams rounds as JSON messages over a websocket. The optional
// experiment query parameter filters by experiment.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("live: upgrade: %v", err)
		return
	}
	defer conn.Close()

	filter := r.URL.Query().Get("experiment")
	rounds, cancel := s.service.Live().Subscribe()
	defer cancel()

	// Reader: the client never sends data, but reading surfaces the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case round, ok := <-rounds:
			if !ok {
				return
			}
			if filter != "" && round.ExperimentID != filter {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(round); err != nil {
				log.Printf("live: write: %v", err)
				return
			}
		}
	}
}
