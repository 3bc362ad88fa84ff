// Package web publishes the rendered frames and the status messages as JSON over websockets.
// Text messages received from a client are executed as console commands.
package web

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ftl/fpgascope/scope"
)

const (
	clientQueueSize = 16
	writeTimeout    = 5 * time.Second
	shutdownTimeout = 2 * time.Second
)

// Handler executes one command line and returns the response.
type Handler func(line string) (string, error)

// TimeMessage is the JSON representation of a time domain frame.
type TimeMessage struct {
	Type          string                 `json:"type"`
	Timestamp     time.Time              `json:"timestamp"`
	SampleRate    float64                `json:"sample_rate"`
	TimeWindow    float64                `json:"time_window"`
	VoltageRange  float64                `json:"voltage_range"`
	VoltageCenter float64                `json:"voltage_center"`
	Values        map[string][]float64   `json:"values"`
	History       map[string][][]float64 `json:"history,omitempty"`
	Measurements  []string               `json:"measurements,omitempty"`
}

// SpectrumMessage is the JSON representation of a frequency domain frame.
type SpectrumMessage struct {
	Type             string             `json:"type"`
	Timestamp        time.Time          `json:"timestamp"`
	FromFrequency    float64            `json:"from_frequency"`
	ToFrequency      float64            `json:"to_frequency"`
	Values           []float64          `json:"values"`
	FrequencyMarkers map[string]float64 `json:"frequency_markers,omitempty"`
	MagnitudeMarkers map[string]float64 `json:"magnitude_markers,omitempty"`
}

// StatusMessage carries a status text or the response to a command.
type StatusMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Error bool   `json:"error,omitempty"`
}

func newTimeMessage(frame *scope.TimeFrame) TimeMessage {
	result := TimeMessage{
		Type:          "time",
		Timestamp:     frame.Timestamp,
		SampleRate:    frame.SampleRate,
		TimeWindow:    frame.TimeWindow,
		VoltageRange:  frame.VoltageRange,
		VoltageCenter: frame.VoltageCenter,
		Values:        make(map[string][]float64, len(frame.Values)),
		Measurements:  frame.Measurements,
	}
	for channel, values := range frame.Values {
		result.Values[string(channel)] = values
	}
	if len(frame.History) > 0 {
		result.History = make(map[string][][]float64, len(frame.History))
		for channel, history := range frame.History {
			result.History[string(channel)] = history
		}
	}
	return result
}

func newSpectrumMessage(frame *scope.SpectralFrame) SpectrumMessage {
	return SpectrumMessage{
		Type:             "spectrum",
		Timestamp:        frame.Timestamp,
		FromFrequency:    frame.FromFrequency,
		ToFrequency:      frame.ToFrequency,
		Values:           frame.Values,
		FrequencyMarkers: markers(frame.FrequencyMarkers),
		MagnitudeMarkers: markers(frame.MagnitudeMarkers),
	}
}

func markers(m map[scope.MarkerID]float64) map[string]float64 {
	if len(m) == 0 {
		return nil
	}
	result := make(map[string]float64, len(m))
	for id, value := range m {
		result[string(id)] = value
	}
	return result
}

type client struct {
	conn *websocket.Conn
	send chan any
}

// writePump writes the queued messages to the websocket connection.
func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(msg); err != nil {
			log.Printf("websocket write: %v", err)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// Hub distributes the frames and status messages to all connected websocket clients. Slow clients miss messages,
// the hub never blocks the caller.
type Hub struct {
	upgrader websocket.Upgrader
	handler  Handler

	mu      sync.RWMutex
	clients map[*client]bool
}

func NewHub(handler Handler) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 65536,
		},
		handler: handler,
		clients: make(map[*client]bool),
	}
}

// ServeHTTP upgrades the request to a websocket connection and serves it until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade: %v", err)
		return
	}
	log.Printf("websocket client connected: %v", conn.RemoteAddr())

	c := &client{conn: conn, send: make(chan any, clientQueueSize)}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go c.writePump()

	defer func() {
		h.mu.Lock()
		if h.clients[c] {
			delete(h.clients, c)
			close(c.send)
		}
		h.mu.Unlock()
		log.Printf("websocket client disconnected: %v", conn.RemoteAddr())
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.execute(c, string(msg))
	}
}

func (h *Hub) execute(c *client, line string) {
	if h.handler == nil {
		return
	}
	response, err := h.handler(line)
	reply := StatusMessage{Type: "response", Text: response}
	if err != nil {
		reply.Text = err.Error()
		reply.Error = true
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.clients[c] {
		enqueue(c, reply)
	}
}

func enqueue(c *client, msg any) {
	select {
	case c.send <- msg:
	default:
	}
}

func (h *Hub) broadcast(msg any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		enqueue(c, msg)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) ShowTimeFrame(frame *scope.TimeFrame) {
	h.broadcast(newTimeMessage(frame))
}

func (h *Hub) ShowSpectralFrame(frame *scope.SpectralFrame) {
	h.broadcast(newSpectrumMessage(frame))
}

func (h *Hub) StatusMessage(text string) {
	h.broadcast(StatusMessage{Type: "status", Text: text})
}

// Serve runs a HTTP server on the given address with the hub on /ws until the context is done.
func Serve(ctx context.Context, address string, hub *Hub) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	return ServeListener(ctx, listener, hub)
}

func ServeListener(ctx context.Context, listener net.Listener, hub *Hub) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	server := &http.Server{Handler: mux}

	go func() {
		<-ctx.Done()
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("websocket server listening on %v", listener.Addr())
	err := server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
