package websocket

import (
	"github.com/google/uuid"
)

type socketMessageType int

const (
	Update socketMessageType = iota
	Welcome
)

// SocketMessage is a message pushed from the hub to its clients. A message
// with a Target is only delivered to the client with the matching id;
// otherwise it is broadcast to every client.
type SocketMessage struct {
	Title  string                 `json:"title"`
	Body   map[string]interface{} `json:"body"`
	Type   socketMessageType      `json:"type"`
	Target *uuid.UUID             `json:"-"`
}
