package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"maskstudio/internal/editor"
	"maskstudio/internal/mask"
	"maskstudio/internal/middleware"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsMaxMessage = 64 << 10
)

// socketCommand is one client message. Type selects the operation; the
// other fields are read as that operation needs them.
type socketCommand struct {
	Type           string              `json:"type"`
	Tool           mask.Tool           `json:"tool"`
	Radius         float64             `json:"radius"`
	X              float64             `json:"x"`
	Y              float64             `json:"y"`
	Points         []mask.DisplayPoint `json:"points,omitempty"`
	Width          float64             `json:"width"`
	ViewportHeight float64             `json:"viewport_height"`
	Inverted       *bool               `json:"inverted,omitempty"`
}

type socketMessage struct {
	Type    string            `json:"type"`
	Applied *bool             `json:"applied,omitempty"`
	Mask    *editor.MaskEvent `json:"mask,omitempty"`
	State   *editor.State     `json:"state,omitempty"`
	Error   *errorDetail      `json:"error,omitempty"`
}

// SessionSocket upgrades to a WebSocket that accepts pointer and command
// messages and pushes debounced mask events plus a state event after every
// command.
func (a *App) SessionSocket(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	conn, err := a.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.Logger.Debug().Err(err).Str("session_id", s.ID).Msg("websocket upgrade failed")
		return
	}
	log := a.Logger.With().Str("session_id", s.ID).Logger()
	log.Debug().Msg("websocket connected")

	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	out := make(chan socketMessage, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.socketWriter(ctx, conn, events, out)
		_ = conn.Close()
	}()

	state := s.State()
	out <- socketMessage{Type: "state", State: &state}

	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		var cmd socketCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("websocket read failed")
			}
			break
		}
		msg := a.applyCommand(r, s, cmd)
		select {
		case out <- msg:
		case <-done:
			return
		}
	}
	cancel()
	<-done
	log.Debug().Msg("websocket closed")
}

func (a *App) applyCommand(r *http.Request, s *editor.Session, cmd socketCommand) socketMessage {
	applied := true
	var err error
	switch cmd.Type {
	case "begin":
		applied, err = s.BeginStroke(cmd.Tool, cmd.Radius, mask.DisplayPoint{X: cmd.X, Y: cmd.Y})
	case "move":
		points := cmd.Points
		if len(points) == 0 {
			points = []mask.DisplayPoint{{X: cmd.X, Y: cmd.Y}}
		}
		applied = false
		for _, p := range points {
			applied = s.ExtendStroke(p) || applied
		}
	case "end":
		applied = s.EndStroke()
	case "undo":
		applied, err = s.Undo()
	case "clear":
		err = s.Clear()
	case "invert":
		if cmd.Inverted != nil {
			s.SetInverted(*cmd.Inverted)
		} else {
			s.ToggleInvert()
		}
	case "resize":
		s.Resize(cmd.Width, cmd.ViewportHeight)
	case "state":
	default:
		err = errors.New("unknown command")
	}
	if err != nil {
		locale := middleware.LocaleFromContext(r.Context())
		return socketMessage{Type: "error", Error: &errorDetail{Code: codeBadRequest, Message: localize(locale, codeBadRequest)}}
	}
	state := s.State()
	return socketMessage{Type: "state", Applied: &applied, State: &state}
}

// socketWriter owns every write on conn.
func (a *App) socketWriter(ctx context.Context, conn *websocket.Conn, events <-chan editor.MaskEvent, out <-chan socketMessage) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	write := func(v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(v) == nil
	}
	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !write(socketMessage{Type: "mask", Mask: &ev}) {
				return
			}
		case msg := <-out:
			if !write(msg) {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
