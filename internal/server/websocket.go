package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/conneroisu/fxlab/internal/console"
	fxerrors "github.com/conneroisu/fxlab/internal/errors"
	"github.com/conneroisu/fxlab/internal/layout"
	"github.com/conneroisu/fxlab/internal/logging"
	"github.com/conneroisu/fxlab/internal/preview"
	"github.com/conneroisu/fxlab/internal/renderer"
	"github.com/conneroisu/fxlab/internal/validation"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer. Edits carry a whole field.
	maxMessageSize = 1 << 20
)

// Client to server message types.
const (
	msgEdit          = "edit"
	msgConsole       = console.MessageType
	msgConsoleClear  = "console-clear"
	msgConsoleToggle = "console-toggle"
	msgDrag          = "drag"
	msgLayout        = "layout"
	msgReset         = "reset"
)

// clientMessage is any frame a client may send. Only the fields of its Type
// are read.
type clientMessage struct {
	Type       string      `json:"type"`
	Field      string      `json:"field,omitempty"`
	Value      *string     `json:"value,omitempty"`
	Generation uint64      `json:"generation,omitempty"`
	Phase      string      `json:"phase,omitempty"`
	X          float64     `json:"x,omitempty"`
	Y          float64     `json:"y,omitempty"`
	Rect       layout.Rect `json:"rect"`
	Viewport   float64     `json:"viewport,omitempty"`
	Mode       string      `json:"mode,omitempty"`
}

type sessionMessage struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Effect   string `json:"effect"`
	Restored bool   `json:"restored"`
}

type reloadMessage struct {
	Type       string `json:"type"`
	Generation uint64 `json:"generation"`
	Document   string `json:"document"`
}

type consoleMessage struct {
	Type    string          `json:"type"`
	Entries []console.Entry `json:"entries"`
	Visible bool            `json:"visible"`
}

type consoleEntryMessage struct {
	Type    string        `json:"type"`
	Entry   console.Entry `json:"entry"`
	Visible bool          `json:"visible"`
}

type layoutMessage struct {
	Type string `json:"type"`
	layout.Snapshot
}

type sourceMessage struct {
	Type   string          `json:"type"`
	Bundle renderer.Bundle `json:"bundle"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// encodeEvent turns a session event into its wire message.
func encodeEvent(ev preview.Event) interface{} {
	switch ev.Type {
	case preview.EventReload:
		return reloadMessage{Type: "reload", Generation: ev.Generation, Document: ev.Document.Content}
	case preview.EventConsole:
		entries := ev.Entries
		if entries == nil {
			entries = []console.Entry{}
		}
		return consoleMessage{Type: "console", Entries: entries, Visible: ev.Visible}
	case preview.EventConsoleEntry:
		return consoleEntryMessage{Type: "console-entry", Entry: ev.Entry, Visible: ev.Visible}
	case preview.EventLayout:
		return layoutMessage{Type: "layout", Snapshot: ev.Layout}
	case preview.EventSource:
		return sourceMessage{Type: "source", Bundle: ev.Bundle}
	default:
		return nil
	}
}

// session is one websocket connection and the editor it drives.
type session struct {
	id         string
	conn       *websocket.Conn
	editor     *preview.Editor
	logger     logging.Logger
	errHandler *fxerrors.ErrorHandler
	server     *PreviewServer
	cancel     context.CancelFunc
}

type sessionSet struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newSessionSet() *sessionSet {
	return &sessionSet{sessions: make(map[string]*session)}
}

func (ss *sessionSet) add(s *session) {
	ss.mu.Lock()
	ss.sessions[s.id] = s
	ss.mu.Unlock()
}

func (ss *sessionSet) remove(id string) {
	ss.mu.Lock()
	delete(ss.sessions, id)
	ss.mu.Unlock()
}

func (ss *sessionSet) get(id string) (*session, bool) {
	if id == "" {
		return nil, false
	}
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	s, ok := ss.sessions[id]
	return s, ok
}

func (ss *sessionSet) len() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.sessions)
}

// closeAll ends every session. Handlers remove themselves as they return.
func (ss *sessionSet) closeAll() {
	ss.mu.RLock()
	all := make([]*session, 0, len(ss.sessions))
	for _, s := range ss.sessions {
		all = append(all, s)
	}
	ss.mu.RUnlock()

	for _, s := range all {
		s.cancel()
		_ = s.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (s *PreviewServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("effect")
	effect, ok := s.catalog.Get(id)
	if !ok {
		http.Error(w, fxerrors.ErrEffectNotFound(id).Message, http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns(),
	})
	if err != nil {
		s.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "effect", id)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sessionID := uuid.NewString()
	logger := s.logger.WithComponent("session").With("session", sessionID, "effect", effect.ID)

	opts := []preview.Option{
		preview.WithDebounce(s.config.Preview.Debounce),
		preview.WithLogger(logger),
		preview.WithMetrics(s.metrics),
	}
	// Without a client token there is nobody to restore a draft for.
	if owner := clientID(r); owner != "" {
		opts = append(opts, preview.WithDrafts(s.drafts), preview.WithOwner(owner))
	}

	editor, err := preview.NewEditor(ctx, effect, opts...)
	if err != nil {
		logger.Error(ctx, err, "Failed to open editor session")
		_ = conn.Close(websocket.StatusInternalError, "failed to open editor")
		return
	}
	defer editor.Close()

	sess := &session{
		id:         sessionID,
		conn:       conn,
		editor:     editor,
		logger:     logger,
		errHandler: fxerrors.NewErrorHandler(logger),
		server:     s,
		cancel:     cancel,
	}
	s.sessions.add(sess)
	defer s.sessions.remove(sessionID)

	s.metrics.WSConnections.Inc()
	defer s.metrics.WSConnections.Dec()

	logger.Info(ctx, "Editor session opened", "restored", editor.Restored())
	err = sess.run(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		logger.Info(ctx, "Editor session closed")
	case websocket.CloseStatus(err) == websocket.StatusNormalClosure,
		websocket.CloseStatus(err) == websocket.StatusGoingAway:
		logger.Info(ctx, "Editor session closed by client")
	default:
		logger.Warn(ctx, err, "Editor session ended")
	}
}

// originPatterns lists the hosts of the configured origins. The request's
// own host is always accepted.
func (s *PreviewServer) originPatterns() []string {
	var patterns []string
	for _, origin := range s.config.Server.AllowedOrigins {
		host, err := validation.OriginHost(origin)
		if err != nil {
			continue
		}
		patterns = append(patterns, host)
	}
	return patterns
}

// run pumps editor events out and client messages in until either side
// stops.
func (sess *session) run(ctx context.Context) error {
	// The session greeting goes out before any subscribed event.
	if err := sess.write(ctx, sessionMessage{
		Type:     "session",
		ID:       sess.id,
		Effect:   sess.editor.ID(),
		Restored: sess.editor.Restored(),
	}, "session"); err != nil {
		return err
	}

	events, unsubscribe := sess.editor.Subscribe()
	defer unsubscribe()

	errCh := make(chan error, 2)
	go func() { errCh <- sess.writePump(ctx, events) }()
	go func() { errCh <- sess.readPump(ctx) }()

	err := <-errCh
	sess.cancel()
	_ = sess.conn.Close(websocket.StatusNormalClosure, "")
	<-errCh
	return err
}

func (sess *session) writePump(ctx context.Context, events <-chan preview.Event) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				// The editor dropped this subscriber for falling behind.
				_ = sess.conn.Close(websocket.StatusTryAgainLater, "client too slow")
				return fxerrors.NewNetworkError(fxerrors.ErrCodeWebSocket, "session subscriber dropped", nil)
			}
			msg := encodeEvent(ev)
			if msg == nil {
				continue
			}
			if err := sess.write(ctx, msg, ev.Type.String()); err != nil {
				return err
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := sess.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (sess *session) write(ctx context.Context, msg interface{}, msgType string) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	if err := wsjson.Write(writeCtx, sess.conn, msg); err != nil {
		return err
	}
	sess.server.metrics.RecordWSMessage("out", msgType)
	return nil
}

func (sess *session) readPump(ctx context.Context) error {
	for {
		typ, data, err := sess.conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			sess.logger.Debug(ctx, "Ignoring binary frame", "bytes", len(data))
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			sess.logger.Debug(ctx, "Dropping malformed frame", "error", err.Error(),
				"frame", logging.Truncate(string(data), 120))
			sess.reject(ctx, "malformed message")
			continue
		}
		sess.server.metrics.RecordWSMessage("in", metricType(msg.Type))

		if err := sess.dispatch(ctx, msg, data); err != nil {
			sess.errHandler.Handle(ctx, err)
			sess.reject(ctx, err.Error())
		}
	}
}

// dispatch applies one client message to the editor. Console messages are
// decoded from the raw frame so they go through the relay's own checks.
func (sess *session) dispatch(ctx context.Context, msg clientMessage, raw []byte) error {
	e := sess.editor

	switch msg.Type {
	case msgEdit:
		field, err := renderer.ParseField(msg.Field)
		if err != nil {
			return err
		}
		if msg.Value == nil {
			return fxerrors.NewValidationError(fxerrors.ErrCodeInvalidMessage, "edit without value")
		}
		return e.Edit(field, *msg.Value)

	case msgConsole:
		relayed, err := console.Decode(raw)
		if err != nil {
			// Best effort: a bad relay frame is dropped without a reply.
			sess.logger.Debug(ctx, "Dropping undecodable console message", "error", err.Error())
			return nil
		}
		e.Receive(msg.Generation, relayed)
		return nil

	case msgConsoleClear:
		e.ClearConsole()
		return nil

	case msgConsoleToggle:
		e.ToggleConsole()
		return nil

	case msgDrag:
		switch msg.Phase {
		case "down":
			e.PointerDown()
		case "move":
			e.PointerMove(layout.Point{X: msg.X, Y: msg.Y}, msg.Rect, msg.Viewport)
		case "up":
			e.PointerUp()
		default:
			return fxerrors.NewValidationError(fxerrors.ErrCodeInvalidMessage,
				fmt.Sprintf("unknown drag phase %q", msg.Phase))
		}
		return nil

	case msgLayout:
		mode, err := layout.ParseMode(msg.Mode)
		if err != nil {
			return fxerrors.NewValidationError(fxerrors.ErrCodeInvalidMessage, err.Error())
		}
		e.SetMode(mode)
		return nil

	case msgReset:
		return e.Reset(ctx)

	default:
		return fxerrors.NewValidationError(fxerrors.ErrCodeInvalidMessage,
			fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// metricType bounds the label values clients can create.
func metricType(t string) string {
	switch t {
	case msgEdit, msgConsole, msgConsoleClear, msgConsoleToggle, msgDrag, msgLayout, msgReset:
		return t
	default:
		return "unknown"
	}
}

func (sess *session) reject(ctx context.Context, reason string) {
	if err := sess.write(ctx, errorMessage{Type: "error", Message: reason}, "error"); err != nil {
		sess.logger.Debug(ctx, "Failed to send error message", "error", err.Error())
	}
}
