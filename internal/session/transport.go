package session

import (
	"context"
	"net/http"
	"sync"

	"course-chat/internal/models"
	"course-chat/pkg/logger"

	"github.com/gorilla/websocket"
)

// WSTransport is the gorilla/websocket implementation of Transport.
type WSTransport struct {
	conn    *websocket.Conn
	frames  chan models.Envelope
	writeMu sync.Mutex
	once    sync.Once
}

// Dial connects to the realtime endpoint, authenticating with the bearer
// token, and starts decoding frames.
func Dial(ctx context.Context, wsURL, token string) (*WSTransport, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, err
	}

	t := &WSTransport{
		conn:   conn,
		frames: make(chan models.Envelope, 32),
	}
	go t.readLoop()
	return t, nil
}

func (t *WSTransport) readLoop() {
	defer close(t.frames)
	for {
		var env models.Envelope
		if err := t.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Error("Transport read error: %v", err)
			}
			return
		}
		t.frames <- env
	}
}

func (t *WSTransport) Emit(event string, data interface{}) error {
	frame, err := models.NewEnvelope(event, data)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

func (t *WSTransport) Frames() <-chan models.Envelope {
	return t.frames
}

func (t *WSTransport) Close() error {
	var err error
	t.once.Do(func() {
		t.writeMu.Lock()
		t.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}
