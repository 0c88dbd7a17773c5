package websocket

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

type socketClient struct {
	id     uuid.UUID
	socket *websocket.Conn
}

func (client *socketClient) SendMessage(message *SocketMessage) error {
	if err := client.socket.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}

	return client.socket.WriteJSON(message)
}

// drain reads (and discards) everything the client sends until the
// connection fails or is closed. Reading is required for gorilla to
// process control frames, and is how a disconnect is noticed.
func (client *socketClient) drain() error {
	for {
		if _, _, err := client.socket.NextReader(); err != nil {
			return err
		}
	}
}

func (client *socketClient) Close() {
	client.socket.Close()
}
