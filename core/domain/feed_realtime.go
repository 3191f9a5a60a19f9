package domain

import (
	"fmt"
	"strconv"
)

// EventName is the wire name of a realtime event.
type EventName string

const (
	EventNewPostNotification       EventName = "new_post_notification"
	EventConnectedUsersCountUpdate EventName = "connected_users_count_update"
	EventError                     EventName = "error"
)

// ClientAction is the action carried by a client command frame.
type ClientAction string

const (
	ActionSubscribe    ClientAction = "subscribe_to_event"
	ActionUnsubscribe  ClientAction = "unsubscribe_to_event"
	ActionAuthenticate ClientAction = "authenticate"
)

// EventKind tags an EventKey.
type EventKind uint8

const (
	EventKindNewPostNotification EventKind = iota + 1
	EventKindConnectedUsersCountUpdate
)

// EventKey identifies a class of notification. It is comparable and is used
// directly as a map key: two keys are equal iff kind and subject are equal.
type EventKey struct {
	Kind      EventKind
	SubjectID int64
}

// NewPostNotificationKey fires when subjectUserID publishes a post.
func NewPostNotificationKey(subjectUserID int64) EventKey {
	return EventKey{Kind: EventKindNewPostNotification, SubjectID: subjectUserID}
}

// ConnectedUsersCountKey fires when the number of connected accounts changes.
func ConnectedUsersCountKey() EventKey {
	return EventKey{Kind: EventKindConnectedUsersCountUpdate}
}

// Name returns the wire event name for the key.
func (k EventKey) Name() EventName {
	switch k.Kind {
	case EventKindNewPostNotification:
		return EventNewPostNotification
	case EventKindConnectedUsersCountUpdate:
		return EventConnectedUsersCountUpdate
	default:
		return ""
	}
}

func (k EventKey) String() string {
	if k.Kind == EventKindNewPostNotification {
		return fmt.Sprintf("%s{%d}", EventNewPostNotification, k.SubjectID)
	}
	return string(k.Name())
}

// Identity is the owner of a connection: a positive account id, or a
// negative synthetic id for anonymous connections.
type Identity int64

// IsAnonymous reports whether the identity was allocated for an
// unauthenticated connection.
func (i Identity) IsAnonymous() bool {
	return i < 0
}

func (i Identity) String() string {
	if i.IsAnonymous() {
		return "anonymous:" + strconv.FormatInt(int64(i), 10)
	}
	return strconv.FormatInt(int64(i), 10)
}
