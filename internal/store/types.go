package store

// MemberState is the lifecycle state of one membership record. The integer
// coding matches the persisted column and must not be renumbered.
type MemberState int

const (
	StateJoined   MemberState = 0
	StateInvited  MemberState = 1
	StateLeft     MemberState = 2
	StateKnocking MemberState = 3
)

// String returns the wire name of the state.
func (s MemberState) String() string {
	switch s {
	case StateJoined:
		return "joined"
	case StateInvited:
		return "invited"
	case StateLeft:
		return "left"
	case StateKnocking:
		return "knocking"
	}
	return "unknown"
}

// ParseMemberState maps a wire name to its coded value.
func ParseMemberState(name string) (MemberState, bool) {
	switch name {
	case "joined":
		return StateJoined, true
	case "invited":
		return StateInvited, true
	case "left":
		return StateLeft, true
	case "knocking":
		return StateKnocking, true
	}
	return 0, false
}

// Conversation is a synced conversation row. DisplayName empty means the
// service has not set one; MemberID empty means the caller holds no
// membership snapshot for it yet.
type Conversation struct {
	UUID           string
	Name           string
	DisplayName    string
	SequenceNumber int64
	CreatedAt      int64 // unix millis
	RequiresSync   bool
	DataIncomplete bool
	LastUpdated    int64 // unix millis
	MemberID       string
	MemberState    MemberState
}

// Member is one participation record of a user in a conversation. A user
// that leaves and rejoins gets a fresh row; old rows are kept.
type Member struct {
	ID               string
	ConversationUUID string
	Name             string
	State            MemberState
	UserID           string
	CreatedAt        int64
}

// User is a synced user profile.
type User struct {
	UUID        string
	Name        string
	DisplayName string
	ImageURL    string
}

// EventType discriminates event payloads.
type EventType string

const (
	EventText   EventType = "text"
	EventImage  EventType = "image"
	EventDelete EventType = "delete"
	EventMember EventType = "member"
)

// Event is one item in a conversation's log. LocalID is assigned on this
// device; ID is the server-assigned sequence and stays 0 while the event
// is an unacknowledged draft.
type Event struct {
	LocalID          string
	ConversationUUID string
	ID               int64
	FromMemberID     string
	Type             EventType
	Body             string
	Distribution     []string
	IsDraft          bool
	Deleted          bool
	CreatedAt        int64
}

// TaskType is the kind of outgoing intent a task carries.
type TaskType string

const (
	TaskSend              TaskType = "send"
	TaskDelete            TaskType = "delete"
	TaskIndicateDelivered TaskType = "indicate_delivered"
	TaskIndicateSeen      TaskType = "indicate_seen"
)

// Task is a durable record of one outgoing intent. BeingProcessed marks a
// dispatch in flight; a row still carrying the mark at startup was
// interrupted and must be resumed, not assumed delivered.
type Task struct {
	ID             int64
	Type           TaskType
	RelatedEventID string
	BeingProcessed bool
	Attempts       int
	LastError      string
	Dead           bool
	CreatedAt      int64
}
