package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout   = 10 * time.Second
	peerSendBuffer = 256
)

// WebSocketTransport joins channels hosted by a Relay.
type WebSocketTransport struct {
	// URL is the relay base, e.g. ws://127.0.0.1:7777.
	URL    string
	Dialer *websocket.Dialer
}

// NewWebSocketTransport creates a transport for the relay at baseURL.
func NewWebSocketTransport(baseURL string) *WebSocketTransport {
	return &WebSocketTransport{URL: baseURL, Dialer: websocket.DefaultDialer}
}

// Open dials the relay's endpoint for channel.
func (t *WebSocketTransport) Open(ctx context.Context, channel string) (Conn, error) {
	endpoint := strings.TrimRight(t.URL, "/") + "/channels/" + url.PathEscape(channel)

	ws, _, err := t.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrChannelDown, endpoint, err)
	}

	c := &wsConn{
		ws:   ws,
		recv: make(chan []byte, peerSendBuffer),
		done: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

type wsConn struct {
	ws   *websocket.Conn
	recv chan []byte
	done chan struct{}
	once sync.Once

	writeMu sync.Mutex
}

func (c *wsConn) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) Receive() <-chan []byte {
	return c.recv
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) readLoop() {
	defer close(c.recv)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		select {
		case c.recv <- data:
		case <-c.done:
			return
		}
	}
}

// Relay is a stateless fan-out hub: every frame received on
// /channels/{name} is forwarded to the other connections on that name.
// It has no authority over document state; any process may host it.
type Relay struct {
	mu       sync.Mutex
	channels map[string]map[*relayPeer]struct{}
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewRelay creates a relay.
func NewRelay(log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		channels: make(map[string]map[*relayPeer]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: log.With("component", "relay"),
	}
}

// Handler returns the HTTP handler serving /channels/{name}.
func (r *Relay) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /channels/{name}", r.serveChannel)
	return mux
}

// Members returns the number of peers joined to a channel.
func (r *Relay) Members(channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels[channel])
}

// Close disconnects every peer.
func (r *Relay) Close() {
	r.mu.Lock()
	var peers []*relayPeer
	for _, members := range r.channels {
		for p := range members {
			peers = append(peers, p)
		}
	}
	r.channels = make(map[string]map[*relayPeer]struct{})
	r.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
}

type relayPeer struct {
	ws   *websocket.Conn
	send chan []byte
	once sync.Once
}

func (p *relayPeer) close() {
	p.once.Do(func() {
		close(p.send)
	})
}

func (r *Relay) serveChannel(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("name")
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Error("failed to upgrade the websocket", "channel", name, "error", err)
		return
	}

	peer := &relayPeer{ws: ws, send: make(chan []byte, peerSendBuffer)}
	r.join(name, peer)
	r.log.Debug("peer joined", "channel", name, "members", r.Members(name))

	go r.writeLoop(peer)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		r.fanOut(name, peer, data)
	}

	r.leave(name, peer)
	peer.close()
	r.log.Debug("peer left", "channel", name)
}

func (r *Relay) writeLoop(p *relayPeer) {
	defer p.ws.Close()
	for data := range p.send {
		_ = p.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := p.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			r.log.Warn("relay write failed", "error", err)
			return
		}
	}
	_ = p.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

// fanOut forwards a frame to every other peer. A peer whose buffer is full
// is disconnected; it recovers through the digest exchange on rejoin.
func (r *Relay) fanOut(name string, from *relayPeer, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for p := range r.channels[name] {
		if p == from {
			continue
		}
		select {
		case p.send <- data:
		default:
			r.log.Warn("dropping slow peer", "channel", name)
			delete(r.channels[name], p)
			p.close()
		}
	}
}

func (r *Relay) join(name string, p *relayPeer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.channels[name]
	if !ok {
		members = make(map[*relayPeer]struct{})
		r.channels[name] = members
	}
	members[p] = struct{}{}
}

func (r *Relay) leave(name string, p *relayPeer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if members, ok := r.channels[name]; ok {
		delete(members, p)
		if len(members) == 0 {
			delete(r.channels, name)
		}
	}
}
