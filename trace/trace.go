// Package trace writes diagnostic traces of selected pipeline stages to a file or a UDP destination.
package trace

import (
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"slices"
	"strings"
	"sync"
)

// The trace contexts of the acquisition pipeline.
const (
	Decode  = "decode"
	Trigger = "trigger"

	allContexts = "all"
)

// Contexts lists all known trace contexts.
var Contexts = []string{Decode, Trigger}

type Tracer interface {
	Context() string
	Start()
	Trace(context string, format string, args ...any)
	Stop()
}

// New creates a tracer for a comma separated list of contexts (or all) and a destination of the form
// file:<filename> or udp:<host:port>.
func New(context string, destination string) (Tracer, error) {
	contexts, err := parseContexts(context)
	if err != nil {
		return nil, err
	}
	protocol, target, found := strings.Cut(destination, ":")
	if !found || target == "" {
		return nil, fmt.Errorf("invalid trace destination %q, use file:<filename> | udp:<host:port>", destination)
	}

	switch strings.ToLower(protocol) {
	case "file":
		return newStreamTracer(contexts, fileOpener(target)), nil
	case "udp":
		addr, err := net.ResolveUDPAddr("udp", target)
		if err != nil {
			return nil, fmt.Errorf("invalid trace destination %q: %w", destination, err)
		}
		return newStreamTracer(contexts, udpOpener(addr)), nil
	default:
		return nil, fmt.Errorf("unknown trace protocol %q", protocol)
	}
}

func parseContexts(s string) ([]string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == allContexts {
		return slices.Clone(Contexts), nil
	}
	result := make([]string, 0, len(Contexts))
	for _, context := range strings.Split(s, ",") {
		context = strings.TrimSpace(context)
		if !slices.Contains(Contexts, context) {
			return nil, fmt.Errorf("unknown trace context %q, use %s or %s", context, strings.Join(Contexts, " | "), allContexts)
		}
		if !slices.Contains(result, context) {
			result = append(result, context)
		}
	}
	return result, nil
}

type NoTracer struct{}

func (t *NoTracer) Context() string              { return "" }
func (t *NoTracer) Start()                       {}
func (t *NoTracer) Trace(string, string, ...any) {}
func (t *NoTracer) Stop()                        {}

type opener func() (io.WriteCloser, error)

func fileOpener(filename string) opener {
	return func() (io.WriteCloser, error) {
		return os.Create(filename)
	}
}

// udpOpener sends every trace line as one datagram.
func udpOpener(addr *net.UDPAddr) opener {
	return func() (io.WriteCloser, error) {
		return net.DialUDP("udp", nil, addr)
	}
}

// StreamTracer writes the traces of its contexts into a byte stream that is opened on Start
// and closed on Stop. It is safe for concurrent use.
type StreamTracer struct {
	contexts []string
	open     opener

	mu  sync.Mutex
	out io.WriteCloser
}

// NewFileTracer creates a tracer that writes into the given file. The file is truncated on Start.
func NewFileTracer(filename string, contexts ...string) *StreamTracer {
	return newStreamTracer(contexts, fileOpener(filename))
}

func newStreamTracer(contexts []string, open opener) *StreamTracer {
	return &StreamTracer{
		contexts: contexts,
		open:     open,
	}
}

// Context returns the comma separated list of traced contexts.
func (t *StreamTracer) Context() string {
	return strings.Join(t.contexts, ",")
}

func (t *StreamTracer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.out != nil {
		return
	}

	out, err := t.open()
	if err != nil {
		log.Printf("cannot start trace: %v", err)
		return
	}
	t.out = out
}

func (t *StreamTracer) Trace(context string, format string, args ...any) {
	if !slices.Contains(t.contexts, context) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.out == nil {
		return
	}

	if len(t.contexts) > 1 {
		format = context + ": " + format
	}
	_, err := fmt.Fprintf(t.out, format, args...)
	if err != nil {
		log.Printf("trace %s failed: %v", context, err)
	}
}

func (t *StreamTracer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.out == nil {
		return
	}

	t.out.Close()
	t.out = nil
}
