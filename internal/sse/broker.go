// Package sse implements a Server-Sent Events broker that tells clients
// about story commits and story-context edits.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event represents an SSE event to broadcast. A non-empty StoryID limits
// delivery to clients watching that story (or all stories).
type Event struct {
	Type    string `json:"type"`
	StoryID string `json:"-"`
	Data    any    `json:"data"`
}

// Story event kinds accepted by PublishStoryEvent.
const (
	KindCreated   = "created"
	KindCommitted = "committed"
	KindContext   = "context"
)

// StoryEvent is the payload of story.* and context.* events.
type StoryEvent struct {
	StoryID   string `json:"story_id"`
	VersionID string `json:"version_id,omitempty"`
}

const defaultHeartbeat = 25 * time.Second

type client struct {
	ch      chan []byte
	storyID string // empty means every story
}

type storyEventReq struct {
	kind      string
	storyID   string
	versionID string
}

// Broker manages SSE client connections and broadcasts events.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (clients, event sequence, per-story graph throttle timestamps). Public methods
// communicate with this loop through channels, so no mutexes are required.
type Broker struct {
	graphMin  time.Duration
	heartbeat time.Duration

	subscribeCh   chan client
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	storyEventCh  chan storyEventReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker. graph.updated events for one story are
// sent at most once per graphThrottle.
func NewBroker(graphThrottle time.Duration) *Broker {
	if graphThrottle <= 0 {
		graphThrottle = 2 * time.Second
	}

	b := &Broker{
		graphMin:      graphThrottle,
		heartbeat:     defaultHeartbeat,
		subscribeCh:   make(chan client),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		storyEventCh:  make(chan storyEventReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]string)
	lastGraph := make(map[string]time.Time)
	var seq uint64

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		seq++
		raw := []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, event.Type, payload))

		for ch, watching := range clients {
			if watching != "" && event.StoryID != "" && watching != event.StoryID {
				continue
			}
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case c := <-b.subscribeCh:
			clients[c.ch] = c.storyID

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.storyEventCh:
			data := StoryEvent{StoryID: req.storyID, VersionID: req.versionID}
			switch req.kind {
			case KindCreated:
				broadcast(Event{Type: "story.created", StoryID: req.storyID, Data: data})
			case KindCommitted:
				broadcast(Event{Type: "story.committed", StoryID: req.storyID, Data: data})
			case KindContext:
				broadcast(Event{Type: "context.updated", StoryID: req.storyID, Data: data})
				continue
			default:
				continue
			}

			now := time.Now()
			if now.Sub(lastGraph[req.storyID]) >= b.graphMin {
				lastGraph[req.storyID] = now
				broadcast(Event{Type: "graph.updated", StoryID: req.storyID, Data: StoryEvent{StoryID: req.storyID}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client watching storyID (every story when empty) and
// returns its channel.
func (b *Broker) Subscribe(storyID string) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- client{ch: ch, storyID: storyID}:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all interested clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishStoryEvent publishes a story change. Graph-changing kinds are
// followed by a graph.updated event, throttled per story.
func (b *Broker) PublishStoryEvent(kind, storyID, versionID string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.storyEventCh <- storyEventReq{kind: kind, storyID: storyID, versionID: versionID}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events[?story_id=...]).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(r.URL.Query().Get("story_id"))
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(b.heartbeat)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			// Comment lines keep idle proxies from closing the stream.
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
