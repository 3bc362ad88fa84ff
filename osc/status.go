package osc

import (
	"fmt"
	"log"
	"sync"
)

// Listener receives the status messages of the engine. Implementations must not block.
type Listener interface {
	StatusMessage(text string)
}

type ListenerFunc func(string)

func (f ListenerFunc) StatusMessage(text string) {
	f(text)
}

// statusLog writes the status messages to the log and forwards them to all listeners.
type statusLog struct {
	mu        sync.Mutex
	listeners []Listener
}

func (l *statusLog) Printf(format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	log.Print(text)

	l.mu.Lock()
	listeners := make([]Listener, len(l.listeners))
	copy(listeners, l.listeners)
	l.mu.Unlock()

	for _, listener := range listeners {
		listener.StatusMessage(text)
	}
}

func (l *statusLog) Notify(listener Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, listener)
}
