package priority

import (
	"encoding/json"
	"fmt"
	"time"
)

// Raw is a record fetched from a source adapter. The set of implementations
// is closed: EmailRaw, TaskRaw, MeetingRaw, DealRaw and GenericRaw.
type Raw interface {
	Source() SourceType
	Key() string
	Owner() string
	normalize(now time.Time) (*Item, error)
}

// EmailRaw is a message from a mail provider.
type EmailRaw struct {
	UserID     string    `json:"user_id"`
	MessageID  string    `json:"message_id"`
	ThreadID   string    `json:"thread_id,omitempty"`
	Subject    string    `json:"subject"`
	Snippet    string    `json:"snippet,omitempty"`
	HTMLBody   string    `json:"html_body,omitempty"`
	From       string    `json:"from,omitempty"`
	To         []string  `json:"to,omitempty"`
	Labels     []string  `json:"labels,omitempty"`
	Category   string    `json:"category,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// TaskRaw is an entry from a task manager.
type TaskRaw struct {
	UserID          string     `json:"user_id"`
	TaskID          string     `json:"task_id"`
	Title           string     `json:"title"`
	Notes           string     `json:"notes,omitempty"`
	Due             *time.Time `json:"due,omitempty"`
	EstimateMinutes int        `json:"estimate_minutes,omitempty"`
	Project         string     `json:"project,omitempty"`
	Category        string     `json:"category,omitempty"`
	Status          string     `json:"status,omitempty"`
	BlockedBy       []string   `json:"blocked_by,omitempty"`
	Blocks          []string   `json:"blocks,omitempty"`
	CreatedAt       time.Time  `json:"created_at,omitempty"`
}

// MeetingRaw is a calendar event.
type MeetingRaw struct {
	UserID      string    `json:"user_id"`
	EventID     string    `json:"event_id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end,omitempty"`
	Organizer   string    `json:"organizer,omitempty"`
	Attendees   []string  `json:"attendees,omitempty"`
	Category    string    `json:"category,omitempty"`
	Cancelled   bool      `json:"cancelled,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// DealRaw is an opportunity from a CRM.
type DealRaw struct {
	UserID    string     `json:"user_id"`
	DealID    string     `json:"deal_id"`
	Name      string     `json:"name"`
	Notes     string     `json:"notes,omitempty"`
	Amount    float64    `json:"amount,omitempty"`
	Stage     string     `json:"stage,omitempty"`
	CloseDate *time.Time `json:"close_date,omitempty"`
	Contacts  []string   `json:"contacts,omitempty"`
	Category  string     `json:"category,omitempty"`
	CreatedAt time.Time  `json:"created_at,omitempty"`
}

// GenericRaw covers anything without a dedicated mapping.
type GenericRaw struct {
	UserID       string       `json:"user_id"`
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Description  string       `json:"description,omitempty"`
	Deadline     *time.Time   `json:"deadline,omitempty"`
	Category     string       `json:"category,omitempty"`
	Associations Associations `json:"associations"`
	CreatedAt    time.Time    `json:"created_at,omitempty"`
}

func (r *EmailRaw) Source() SourceType   { return SourceEmail }
func (r *TaskRaw) Source() SourceType    { return SourceTask }
func (r *MeetingRaw) Source() SourceType { return SourceMeeting }
func (r *DealRaw) Source() SourceType    { return SourceDeal }
func (r *GenericRaw) Source() SourceType { return SourceGeneric }

func (r *EmailRaw) Key() string   { return r.MessageID }
func (r *TaskRaw) Key() string    { return r.TaskID }
func (r *MeetingRaw) Key() string { return r.EventID }
func (r *DealRaw) Key() string    { return r.DealID }
func (r *GenericRaw) Key() string { return r.ID }

func (r *EmailRaw) Owner() string   { return r.UserID }
func (r *TaskRaw) Owner() string    { return r.UserID }
func (r *MeetingRaw) Owner() string { return r.UserID }
func (r *DealRaw) Owner() string    { return r.UserID }
func (r *GenericRaw) Owner() string { return r.UserID }

// rawEnvelope is the JSON wire form of a Raw record.
type rawEnvelope struct {
	SourceType SourceType      `json:"source_type"`
	UserID     string          `json:"user_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// DecodeRaw decodes a {"source_type":..., "user_id":..., "payload":{...}}
// envelope into the matching Raw variant. An envelope user_id fills an
// empty payload user_id.
func DecodeRaw(data []byte) (Raw, error) {
	var env rawEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode raw envelope: %w", err)
	}

	var r Raw
	switch env.SourceType {
	case SourceEmail:
		r = &EmailRaw{}
	case SourceTask:
		r = &TaskRaw{}
	case SourceMeeting:
		r = &MeetingRaw{}
	case SourceDeal:
		r = &DealRaw{}
	case SourceGeneric:
		r = &GenericRaw{}
	default:
		return nil, fmt.Errorf("decode raw envelope: unknown source_type %q", env.SourceType)
	}

	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("decode raw envelope: missing payload")
	}
	if err := json.Unmarshal(env.Payload, r); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.SourceType, err)
	}
	if env.UserID != "" {
		setOwner(r, env.UserID)
	}
	return r, nil
}

// EncodeRaw is the inverse of DecodeRaw.
func EncodeRaw(r Raw) ([]byte, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", r.Source(), err)
	}
	return json.Marshal(rawEnvelope{SourceType: r.Source(), UserID: r.Owner(), Payload: payload})
}

func setOwner(r Raw, user string) {
	switch v := r.(type) {
	case *EmailRaw:
		if v.UserID == "" {
			v.UserID = user
		}
	case *TaskRaw:
		if v.UserID == "" {
			v.UserID = user
		}
	case *MeetingRaw:
		if v.UserID == "" {
			v.UserID = user
		}
	case *DealRaw:
		if v.UserID == "" {
			v.UserID = user
		}
	case *GenericRaw:
		if v.UserID == "" {
			v.UserID = user
		}
	}
}

// WithOwner returns a shallow copy of r owned by user.
func WithOwner(r Raw, user string) Raw {
	switch v := r.(type) {
	case *EmailRaw:
		cp := *v
		cp.UserID = user
		return &cp
	case *TaskRaw:
		cp := *v
		cp.UserID = user
		return &cp
	case *MeetingRaw:
		cp := *v
		cp.UserID = user
		return &cp
	case *DealRaw:
		cp := *v
		cp.UserID = user
		return &cp
	case *GenericRaw:
		cp := *v
		cp.UserID = user
		return &cp
	}
	return r
}
