package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/fablespeak/fablespeak/internal/observe"
	"github.com/fablespeak/fablespeak/internal/session"
)

// writeTimeout bounds one outbound frame; a client that cannot keep up is
// disconnected rather than buffered indefinitely.
const writeTimeout = 10 * time.Second

// initTimeout is how long a fresh connection may take to send its init
// message.
const initTimeout = 15 * time.Second

// initMessage is the client's first frame on /v1/stream.
type initMessage struct {
	ScenarioID     int      `json:"scenario_id,omitempty"`
	Language       string   `json:"language,omitempty"`
	Judge          *float64 `json:"judge,omitempty"`
	Score          *int     `json:"score,omitempty"`
	LivesRemaining *int     `json:"lives_remaining,omitempty"`
}

// controlMessage is any later text frame; audio travels in binary frames.
type controlMessage struct {
	Type string `json:"type"`
}

// handleStream upgrades to WebSocket and runs one streaming session for the
// lifetime of the connection.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.log.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "session ended")

	ctx := r.Context()

	sess, err := g.initSession(ctx, conn)
	if err != nil {
		// Malformed init: surface the error event and drop the connection
		// without ever creating a session.
		g.writeEvent(ctx, conn, session.Error{Message: err.Error(), Recoverable: false})
		conn.Close(websocket.StatusPolicyViolation, "invalid init")
		return
	}

	g.store.Add(sess)
	g.metrics.ActiveSessions.Add(ctx, 1)
	defer func() {
		sess.Close()
		g.store.Remove(sess.ID())
		g.metrics.ActiveSessions.Add(ctx, -1)
	}()

	// Writer: drain the session's typed events into frames.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for e := range sess.Events() {
			if err := g.writeEvent(ctx, conn, e); err != nil {
				g.log.Debug("event write failed", "session", sess.ID(), "error", err)
				return
			}
		}
		// Event channel closed: the session ended server-side (idle
		// timeout or shutdown).
		conn.Close(websocket.StatusNormalClosure, "session closed")
	}()

	g.readLoop(ctx, conn, sess)
	<-writerDone
}

// initSession reads and validates the init message and starts a session in
// the ready state.
func (g *Gateway) initSession(ctx context.Context, conn *websocket.Conn) (*session.Session, error) {
	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	kind, data, err := conn.Read(initCtx)
	if err != nil {
		return nil, fmt.Errorf("reading init: %w", err)
	}
	if kind != websocket.MessageText {
		return nil, errors.New("init must be a text frame")
	}

	var init initMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&init); err != nil {
		return nil, fmt.Errorf("malformed init: %w", err)
	}

	sess := session.New(session.NewID(), g.sessions)
	if err := sess.Start(session.Init{
		ScenarioID:     init.ScenarioID,
		Language:       init.Language,
		Focus:          init.Judge,
		Score:          init.Score,
		LivesRemaining: init.LivesRemaining,
	}); err != nil {
		sess.Close()
		return nil, err
	}
	return sess, nil
}

// readLoop feeds inbound frames into the session until the connection or
// the session ends.
func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session) {
	for {
		kind, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		switch kind {
		case websocket.MessageBinary:
			if err := sess.PushChunk(data); err != nil {
				g.log.Debug("chunk rejected", "session", sess.ID(), "error", err)
				return
			}

		case websocket.MessageText:
			var ctl controlMessage
			if err := json.Unmarshal(data, &ctl); err != nil {
				g.writeEvent(ctx, conn, session.Error{Message: "malformed control message", Recoverable: true})
				continue
			}
			switch ctl.Type {
			case "stop":
				sess.Stop()
			case "reset":
				sess.ResetTurn()
			default:
				g.writeEvent(ctx, conn, session.Error{
					Message:     fmt.Sprintf("unknown control type %q", ctl.Type),
					Recoverable: true,
				})
			}
		}
	}
}

// writeEvent serializes one typed event with its discriminator.
func (g *Gateway) writeEvent(ctx context.Context, conn *websocket.Conn, e session.Event) error {
	data, err := encodeEvent(e)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		return err
	}
	observe.Logger(ctx).Debug("event sent", "event", string(e.Type()))
	return nil
}

// encodeEvent marshals an event and splices in the `event` discriminator.
func encodeEvent(e session.Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("gateway: marshal %s event: %w", e.Type(), err)
	}
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("gateway: reshape %s event: %w", e.Type(), err)
	}
	fields["event"] = string(e.Type())
	return json.Marshal(fields)
}
