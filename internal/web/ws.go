package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/pitchcoach/internal/observe"
	"github.com/MrWong99/pitchcoach/internal/session"
)

const (
	// wsReadLimit caps a single inbound message.
	wsReadLimit = 1 << 20

	// wsWriteTimeout bounds a single outbound message.
	wsWriteTimeout = 10 * time.Second
)

// errPresentationEnded stops the reader once the loop has finished.
var errPresentationEnded = errors.New("presentation ended")

// handleInteractive runs one live presentation over a WebSocket. With
// ?session_id= the connection attaches to a session created through
// /api/session/start. A session holds at most one live connection; a second
// attach is refused with 409. Without ?session_id= a new session is created
// and dropped again on disconnect unless it produced a report.
//
// The reader goroutine decodes events into a buffered channel so the client
// is not blocked while the session loop waits on the language model.
func (s *Server) handleInteractive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	var (
		sess    *session.Session
		created bool
	)
	if id := r.URL.Query().Get("session_id"); id != "" {
		var err error
		if sess, err = s.cfg.Store.Get(id); err != nil {
			writeDetail(w, http.StatusNotFound, detailSessionNotFound)
			return
		}
		if !sess.TryAttach() {
			writeDetail(w, http.StatusConflict, detailSessionConnected)
			return
		}
		defer sess.Detach()
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		log.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(wsReadLimit)

	if sess == nil {
		sess = s.cfg.Store.Create(ctx)
		created = true
		sess.TryAttach()
		defer sess.Detach()
	}
	log = log.With("session_id", sess.ID)
	log.Info("interactive session connected", "attached", !created)

	send := func(ctx context.Context, msg session.Message) error {
		ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
		defer cancel()
		return wsjson.Write(ctx, conn, msg)
	}

	loop := session.NewLoop(session.LoopConfig{
		Session:  sess,
		Decider:  s.cfg.Decider,
		Asker:    s.cfg.Asker,
		Analyzer: s.cfg.Analyzer,
		Send:     send,
		Gate:     s.cfg.Gate,
		Greeting: s.cfg.Greeting,
	})

	events := make(chan session.Event, s.cfg.EventBuffer)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(events)
		return readEvents(gctx, conn, events, send)
	})
	g.Go(func() error {
		if err := loop.Run(gctx, events); err != nil {
			return err
		}
		conn.Close(websocket.StatusNormalClosure, "presentation ended")
		return errPresentationEnded
	})

	err = g.Wait()
	switch {
	case errors.Is(err, errPresentationEnded):
		log.Info("interactive session finished")
	case isNormalClose(err):
		log.Info("interactive session disconnected")
	default:
		log.Warn("interactive session failed", "err", err)
		conn.Close(websocket.StatusInternalError, "session error")
	}

	if _, done := sess.Result(); created && !done {
		s.cfg.Store.Delete(context.WithoutCancel(ctx), sess.ID)
	}
}

// readEvents decodes client messages until the connection closes. Malformed
// JSON is answered with an error message instead of dropping the
// connection.
func readEvents(ctx context.Context, conn *websocket.Conn, events chan<- session.Event, send session.SendFunc) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			if err := send(ctx, session.Message{Type: session.MessageError, Message: "expected a text message"}); err != nil {
				return err
			}
			continue
		}
		var ev session.Event
		if err := json.Unmarshal(data, &ev); err != nil || ev.Type == "" {
			if err := send(ctx, session.Message{Type: session.MessageError, Message: "invalid event"}); err != nil {
				return err
			}
			continue
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// isNormalClose reports whether err means the client went away cleanly.
func isNormalClose(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
