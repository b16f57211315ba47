// Package network talks to the conversation service over REST. The rest
// of the codebase depends only on the Collaborator interface so tests can
// substitute an in-memory fake.
package network

import (
	"context"
)

// ConversationSummary is the lite shape returned by the listing endpoint.
// It carries just enough to seed a placeholder row; full detail requires
// a FetchConversation round trip.
type ConversationSummary struct {
	UUID           string `json:"uuid"`
	Name           string `json:"name"`
	SequenceNumber int64  `json:"sequence_number"`
	MemberID       string `json:"member_id"`
	MemberState    string `json:"state"`
}

// UserSnapshot is the server's view of one user.
type UserSnapshot struct {
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	ImageURL    string `json:"image_url"`
}

// MemberSnapshot is one membership record inside a conversation detail.
type MemberSnapshot struct {
	ID    string       `json:"member_id"`
	Name  string       `json:"name"`
	State string       `json:"state"`
	User  UserSnapshot `json:"user"`
}

// EventSnapshot is one event inside a conversation detail. TargetEventID
// is set on delete events and names the event they retract.
type EventSnapshot struct {
	ID            int64    `json:"id"`
	FromMemberID  string   `json:"from"`
	Type          string   `json:"type"`
	Body          string   `json:"body"`
	Distribution  []string `json:"distribution,omitempty"`
	TargetEventID int64    `json:"event_id,omitempty"`
	Timestamp     int64    `json:"timestamp"`
}

// ConversationDetail is the full shape returned when fetching one
// conversation.
type ConversationDetail struct {
	UUID           string           `json:"uuid"`
	Name           string           `json:"name"`
	DisplayName    string           `json:"display_name"`
	SequenceNumber int64            `json:"sequence_number"`
	CreatedAt      int64            `json:"created_at"`
	Members        []MemberSnapshot `json:"members"`
	Events         []EventSnapshot  `json:"events"`
}

// CreateParams names a conversation to be created.
type CreateParams struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
}

// CreateResult is the server acknowledgement of a create.
type CreateResult struct {
	UUID string `json:"uuid"`
}

// JoinResult is the membership record minted by a join.
type JoinResult struct {
	MemberID string `json:"member_id"`
	State    string `json:"state"`
}

// SendResult acknowledges an event append with its server-assigned id.
type SendResult struct {
	EventID int64 `json:"event_id"`
}

// OutboundEvent is the payload for appending an event. Type is the wire
// name ("text", "image", "delete", "delivered", "seen"). TargetEventID is
// set for deletes and delivery/seen indications, which reference an
// existing event rather than carrying a body.
type OutboundEvent struct {
	Type          string
	Body          string
	TargetEventID int64
	FromMemberID  string
}

// Collaborator is every server operation the sync engine and task queue
// need.
type Collaborator interface {
	CreateConversation(ctx context.Context, p CreateParams) (CreateResult, error)
	// JoinConversation adds the user, or rejoins an existing membership
	// when memberID is non-empty.
	JoinConversation(ctx context.Context, conversationUUID, userID, memberID string) (JoinResult, error)
	ListConversations(ctx context.Context) ([]ConversationSummary, error)
	FetchConversation(ctx context.Context, conversationUUID string) (ConversationDetail, error)
	SendEvent(ctx context.Context, conversationUUID string, ev OutboundEvent) (SendResult, error)
	InviteUser(ctx context.Context, conversationUUID, userID string) error
	KickMember(ctx context.Context, conversationUUID, memberID string) error
}
