package network

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/jinaga/factengine/pkg/fact"
	"github.com/jinaga/factengine/pkg/query"
	"github.com/jinaga/factengine/pkg/specification"
	"github.com/jinaga/factengine/pkg/wireformat"
)

// WebSocketTransport is a reference Transport implementation (spec.md §1
// excludes concrete transports from the core's scope; §6 defines the wire
// contract a transport carries). It dials one websocket connection per
// StreamFeed call and speaks pkg/wireformat's two frame vocabularies over
// it: graph-stream content messages (decoded with ReadGraph) and control
// messages (BM/ERR/PING/PONG, parsed with ParseControlFrame).
//
// The handshake that tells the server which feed to stream carries Key's
// computed feed identifier and the given tuple rather than a serialized
// specification.Specification — spec.md §6 defines stream_feed/bookmark
// framing, not a wire encoding for the specification AST itself, so a
// real deployment is expected to have already registered the feed's
// specification with the server out of band (e.g. at deploy time) under
// the same key Key computes.
type WebSocketTransport struct {
	dialer *websocket.Dialer
	url    string
	header http.Header
	log    *slog.Logger
}

// NewWebSocketTransport constructs a transport dialing url (a ws:// or
// wss:// endpoint) for every StreamFeed call. header carries any fixed
// per-connection metadata (e.g. a bearer token per pkg/identity).
func NewWebSocketTransport(url string, header http.Header, log *slog.Logger) *WebSocketTransport {
	if log == nil {
		log = slog.Default()
	}
	return &WebSocketTransport{
		dialer: websocket.DefaultDialer,
		url:    url,
		header: header,
		log:    log,
	}
}

type subscribeRequest struct {
	FeedKey  string      `json:"feedKey"`
	Given    query.Tuple `json:"given"`
	Bookmark string      `json:"bookmark"`
}

// wsDisposer closes the underlying connection and stops the read loop.
type wsDisposer struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
}

func (d *wsDisposer) Dispose() {
	d.cancel()
	_ = d.conn.Close()
}

// StreamFeed implements Transport by dialing a fresh connection, sending
// a subscribe handshake, and running a read loop in its own goroutine
// until the connection fails or Dispose is called.
func (t *WebSocketTransport) StreamFeed(ctx context.Context, feedSpec *specification.Specification, given query.Tuple, bookmark string,
	onResponse func(refs []fact.Reference, nextBookmark string), onError func(error)) (Disposer, error) {

	conn, _, err := t.dialer.DialContext(ctx, t.url, t.header)
	if err != nil {
		return nil, fmt.Errorf("network: dial %s: %w", t.url, err)
	}

	req := subscribeRequest{FeedKey: Key(feedSpec, given), Given: given, Bookmark: bookmark}
	if err := conn.WriteJSON(req); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("network: send subscribe handshake: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	go t.readLoop(streamCtx, conn, onResponse, onError)

	return &wsDisposer{conn: conn, cancel: cancel}, nil
}

// readLoop decodes each incoming message as either a control frame or a
// graph-stream content blob, pairing a content message with the BM frame
// that follows it into one onResponse call (refs arrive first; the
// bookmark that makes them durable-to-resume-from arrives as a separate
// control frame immediately after, mirroring spec.md §4.12's wording that
// a response names both the new references and the new bookmark
// together).
func (t *WebSocketTransport) readLoop(ctx context.Context, conn *websocket.Conn,
	onResponse func(refs []fact.Reference, nextBookmark string), onError func(error)) {

	var mu sync.Mutex
	var pendingRefs []fact.Reference
	havePending := false

	for {
		if ctx.Err() != nil {
			return
		}
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				onError(fmt.Errorf("network: websocket read: %w", err))
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		text := string(data)

		if frame, ok := wireformat.ParseControlFrame(strings.TrimSpace(text)); ok {
			switch frame.Kind {
			case wireformat.ControlBookmark:
				mu.Lock()
				refs := pendingRefs
				pendingRefs = nil
				had := havePending
				havePending = false
				mu.Unlock()
				if had {
					onResponse(refs, frame.Bookmark)
				}
			case wireformat.ControlError:
				onError(fmt.Errorf("network: %s", frame.Message))
			case wireformat.ControlPing:
				_ = conn.WriteMessage(websocket.TextMessage, []byte(wireformat.PongFrame))
			case wireformat.ControlPong:
				// keepalive ack; nothing to do
			}
			continue
		}

		envelopes, err := wireformat.ReadGraph(strings.NewReader(text))
		if err != nil {
			onError(fmt.Errorf("network: decode graph content message: %w", err))
			continue
		}
		refs := make([]fact.Reference, len(envelopes))
		for i, env := range envelopes {
			refs[i] = env.Fact.Reference()
		}
		mu.Lock()
		pendingRefs = refs
		havePending = true
		mu.Unlock()
	}
}
