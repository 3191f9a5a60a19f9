package realtime

import (
	"github.com/goccy/go-json"

	"feed_server/core/domain"
	"feed_server/pkg/apperr"
)

// ServerFrame is pushed from the server to a client.
type ServerFrame struct {
	Event   domain.EventName `json:"event"`
	Content any              `json:"content"`
}

// ClientCommand is sent by a client to change its subscriptions.
type ClientCommand struct {
	Action  domain.ClientAction `json:"action"`
	Content CommandContent      `json:"content"`
}

// CommandContent carries the target event, or the credential of an
// authenticate command.
type CommandContent struct {
	Event string `json:"event"`
	Token string `json:"token,omitempty"`
}

// EncodeFrame serializes a server frame.
func EncodeFrame(frame ServerFrame) ([]byte, error) {
	return json.Marshal(frame)
}

// NewPostNotificationFrame announces a post published by a followed account.
func NewPostNotificationFrame(post domain.NotificationPost) ServerFrame {
	return ServerFrame{Event: domain.EventNewPostNotification, Content: post}
}

// ConnectedUsersCountFrame announces the number of connected accounts.
func ConnectedUsersCountFrame(count int64) ServerFrame {
	return ServerFrame{Event: domain.EventConnectedUsersCountUpdate, Content: count}
}

// ErrorFrame reports a rejected command to the client.
func ErrorFrame(message string) ServerFrame {
	return ServerFrame{Event: domain.EventError, Content: message}
}

// ParseCommand decodes a client frame.
func ParseCommand(data []byte) (*ClientCommand, error) {
	var cmd ClientCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, apperr.InvalidFrame(err)
	}
	return &cmd, nil
}

// ClientEventKey resolves the event a subscribe/unsubscribe command targets.
// Only events the client may manage itself are accepted; post notifications
// are derived from the follow graph by the server.
func (c *ClientCommand) ClientEventKey() (domain.EventKey, error) {
	switch domain.EventName(c.Content.Event) {
	case domain.EventConnectedUsersCountUpdate:
		return domain.ConnectedUsersCountKey(), nil
	case domain.EventNewPostNotification:
		return domain.EventKey{}, apperr.EventNotSubscribable(c.Content.Event)
	case "":
		return domain.EventKey{}, apperr.InvalidInput("content.event", "missing")
	default:
		return domain.EventKey{}, apperr.UnknownEvent(c.Content.Event)
	}
}
