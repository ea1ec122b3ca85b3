package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/aretw0/bpmn/internal/logging"
	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/aretw0/bpmn/pkg/ports"
)

// allProcesses is the subscription key receiving events of every instance.
const allProcesses = ""

// StreamManager fans lifecycle events out to SSE clients.
// Register it with bpmn.WithNotifier so only committed calls are streamed.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- string]struct{} // ProcessID -> Set of Channels
	logger      *slog.Logger
}

var _ ports.Observer = (*StreamManager)(nil)

func NewStreamManager(logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StreamManager{
		subscribers: make(map[string]map[chan<- string]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a client for one instance, or for all of them when
// processID is empty. The returned func unsubscribes and closes the channel.
func (sm *StreamManager) Subscribe(processID string) (<-chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 16)
	if _, ok := sm.subscribers[processID]; !ok {
		sm.subscribers[processID] = make(map[chan<- string]struct{})
	}
	sm.subscribers[processID][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[processID]; ok {
			if _, live := subs[ch]; !live {
				return
			}
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, processID)
			}
		}
	}
}

// Broadcast sends msg to the subscribers of processID and to the global ones.
func (sm *StreamManager) Broadcast(processID string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for _, key := range []string{processID, allProcesses} {
		for ch := range sm.subscribers[key] {
			select {
			case ch <- msg:
			default:
				// Drop message if channel is full (slow client)
				sm.logger.Warn("SSE: Client buffer full, dropping event", "process_id", processID)
			}
		}
		if processID == allProcesses {
			break
		}
	}
}

// Observe implements ports.Observer.
func (sm *StreamManager) Observe(ctx context.Context, tx ports.Tx, ev *domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	sm.Broadcast(ev.ProcessID, string(data))
	return nil
}

// SubscribeEvents handles GET /events (SSE). The optional process_id query
// parameter restricts the stream to one instance.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	processID := r.URL.Query().Get("process_id")
	ch, cancel := s.Streams.Subscribe(processID)
	defer cancel()
	s.logger.Debug("SSE: Client subscribed", "process_id", processID)

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE: Client disconnected", "process_id", processID)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}
