// Package transport hosts the message stream between browser proxies and
// the dispatcher: newline-delimited JSON over a Unix socket.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
)

// maxMessageSize bounds one inbound line. Messages carry base64 sealed
// payloads, so the bound is generous.
const maxMessageSize = 1 << 20

// Handler processes one raw inbound message. A nil response means the
// message is dropped without an answer.
type Handler interface {
	Dispatch(ctx context.Context, raw []byte) []byte
}

// MessageTransport delivers opaque JSON messages between clients and the
// dispatcher, and pushes unsolicited broadcasts to every connected client.
type MessageTransport interface {
	Serve(ctx context.Context) error
	Broadcast(msg []byte)
	Close() error
}

// UnixSocket is a MessageTransport over a Unix domain socket, one line
// per message in each direction.
type UnixSocket struct {
	path    string
	handler Handler

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
}

// NewUnixSocket creates a transport bound to path once Serve runs.
func NewUnixSocket(path string, handler Handler) *UnixSocket {
	return &UnixSocket{
		path:    path,
		handler: handler,
		conns:   map[net.Conn]struct{}{},
	}
}

// Serve accepts connections until the context is cancelled or Close is
// called. A stale socket file from a previous run is removed first.
func (t *UnixSocket) Serve(ctx context.Context) error {
	if err := os.Remove(t.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale socket: %w", err)
	}
	listener, err := net.Listen("unix", t.path)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", t.path, err)
	}
	t.mu.Lock()
	t.listener = listener
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	log.Info().Str("socket", t.path).Msg("transport listening")
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accepting connection: %w", err)
		}
		t.track(conn)
		go t.serveConn(ctx, conn)
	}
}

func (t *UnixSocket) serveConn(ctx context.Context, conn net.Conn) {
	defer t.drop(conn)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxMessageSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := t.handler.Dispatch(ctx, line)
		if resp == nil {
			continue
		}
		if err := writeLine(conn, resp); err != nil {
			log.Debug().Err(err).Msg("writing response, dropping connection")
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Debug().Err(err).Msg("reading connection")
	}
}

// Broadcast pushes one message to every connected client. Dead
// connections are dropped.
func (t *UnixSocket) Broadcast(msg []byte) {
	t.mu.Lock()
	conns := make([]net.Conn, 0, len(t.conns))
	for conn := range t.conns {
		conns = append(conns, conn)
	}
	t.mu.Unlock()

	for _, conn := range conns {
		if err := writeLine(conn, msg); err != nil {
			t.drop(conn)
		}
	}
}

// Close stops the listener and disconnects all clients.
func (t *UnixSocket) Close() error {
	t.mu.Lock()
	listener := t.listener
	conns := make([]net.Conn, 0, len(t.conns))
	for conn := range t.conns {
		conns = append(conns, conn)
	}
	t.conns = map[net.Conn]struct{}{}
	t.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	if listener != nil {
		return listener.Close()
	}
	return nil
}

func (t *UnixSocket) track(conn net.Conn) {
	t.mu.Lock()
	t.conns[conn] = struct{}{}
	t.mu.Unlock()
}

func (t *UnixSocket) drop(conn net.Conn) {
	t.mu.Lock()
	_, tracked := t.conns[conn]
	delete(t.conns, conn)
	t.mu.Unlock()
	if tracked {
		conn.Close()
	}
}

func writeLine(conn net.Conn, msg []byte) error {
	out := make([]byte, 0, len(msg)+1)
	out = append(out, msg...)
	out = append(out, '\n')
	_, err := conn.Write(out)
	return err
}
