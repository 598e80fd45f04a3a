package priority

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestNormalize_Variants(t *testing.T) {
	t.Parallel()

	due := testNow.Add(6 * time.Hour)
	tests := []struct {
		name string
		raw  Raw
		want *Item
	}{
		{
			name: "email from html",
			raw: &EmailRaw{
				UserID:     "u1",
				MessageID:  " m-1 ",
				ThreadID:   "th-1",
				Subject:    "  Contract review ",
				HTMLBody:   "<html><head><style>p{}</style></head><body><p>Please   review</p>\n<script>x()</script><p>the contract</p></body></html>",
				From:       "ana@acme.test",
				To:         []string{"me@corp.test"},
				Labels:     []string{"IMPORTANT"},
				ReceivedAt: testNow.Add(-time.Hour),
			},
			want: &Item{
				UserID: "u1", SourceType: SourceEmail, SourceID: "m-1",
				Title: "Contract review", Description: "Please review the contract",
				Category: "client", CreatedAt: testNow.Add(-time.Hour), Status: StatusPending,
				Associations: Associations{People: []string{"ana@acme.test", "me@corp.test"}, Messages: []string{"th-1"}},
			},
		},
		{
			name: "email snippet wins over html",
			raw:  &EmailRaw{UserID: "u1", MessageID: "m-2", Subject: "Hi", Snippet: "short", HTMLBody: "<p>long</p>"},
			want: &Item{
				UserID: "u1", SourceType: SourceEmail, SourceID: "m-2", Title: "Hi", Description: "short",
				Category: "inbox", CreatedAt: testNow, Status: StatusPending,
			},
		},
		{
			name: "task with project",
			raw: &TaskRaw{
				UserID: "u1", TaskID: "t-1", Title: "Ship release", Project: "Platform",
				Due: &due, EstimateMinutes: 30, Status: "Canceled", BlockedBy: []string{"t-0"},
			},
			want: &Item{
				UserID: "u1", SourceType: SourceTask, SourceID: "t-1", Title: "Ship release",
				Category: "platform", Deadline: &due, CreatedAt: testNow, Status: StatusPending,
				EstimateMinutes: 30, BlockedBy: []string{"t-0"}, Cancelled: true,
			},
		},
		{
			name: "meeting start is the deadline",
			raw: &MeetingRaw{
				UserID: "u1", EventID: "e-1", Summary: "Board prep", Start: due,
				Organizer: "ceo@corp.test", Attendees: []string{"me@corp.test"},
			},
			want: &Item{
				UserID: "u1", SourceType: SourceMeeting, SourceID: "e-1", Title: "Board prep",
				Category: "meeting", Deadline: &due, CreatedAt: testNow, Status: StatusPending,
				Associations: Associations{People: []string{"me@corp.test", "ceo@corp.test"}},
			},
		},
		{
			name: "lost deal",
			raw: &DealRaw{
				UserID: "u1", DealID: "d-1", Name: "Acme renewal", Amount: 25000, Stage: "closed_lost",
				Contacts: []string{"ana@acme.test"},
			},
			want: &Item{
				UserID: "u1", SourceType: SourceDeal, SourceID: "d-1", Title: "Acme renewal",
				Category: "revenue", CreatedAt: testNow, Status: StatusPending, DealAmount: 25000, Cancelled: true,
				Associations: Associations{People: []string{"ana@acme.test"}, Deals: []string{"d-1"}},
			},
		},
		{
			name: "generic",
			raw:  &GenericRaw{UserID: "u1", ID: "g-1", Title: "Renew passport", Category: "Personal"},
			want: &Item{
				UserID: "u1", SourceType: SourceGeneric, SourceID: "g-1", Title: "Renew passport",
				Category: "personal", CreatedAt: testNow, Status: StatusPending,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Normalize(tt.raw, testNow)
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("item (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalize_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		raw   Raw
		field string
	}{
		{"nil record", nil, "record"},
		{"blank title", &GenericRaw{UserID: "u1", ID: "g-1", Title: "   "}, "title"},
		{"missing id", &TaskRaw{UserID: "u1", Title: "x"}, "source_id"},
		{"missing user", &EmailRaw{MessageID: "m-1", Subject: "x"}, "user_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Normalize(tt.raw, testNow)
			var ne *NormalizationError
			if !errors.As(err, &ne) {
				t.Fatalf("err = %v, want *NormalizationError", err)
			}
			if ne.Field != tt.field {
				t.Errorf("field = %q, want %q", ne.Field, tt.field)
			}
		})
	}
}

func TestApplyMutable(t *testing.T) {
	t.Parallel()

	base := func() *Item {
		return &Item{Title: "a", Category: "task", Deadline: at(time.Hour), Status: StatusSurfaced, Scores: Scores{Total: 42}}
	}

	dst := base()
	if applyMutable(dst, base()) {
		t.Error("identical fields should report no change")
	}

	src := base()
	src.Title = "b"
	src.Deadline = nil
	src.Status = StatusPending
	src.Scores = Scores{}
	if !applyMutable(dst, src) {
		t.Fatal("changed fields should report a change")
	}
	if dst.Title != "b" || dst.Deadline != nil {
		t.Errorf("mutable fields not copied: %+v", dst)
	}
	if dst.Status != StatusSurfaced || dst.Scores.Total != 42 {
		t.Errorf("engine-owned fields overwritten: status=%s total=%v", dst.Status, dst.Scores.Total)
	}
}

func TestDecodeRaw(t *testing.T) {
	t.Parallel()

	r, err := DecodeRaw([]byte(`{"source_type":"task","user_id":"u1","payload":{"task_id":"t-1","title":"Ship","estimate_minutes":15}}`))
	if err != nil {
		t.Fatalf("DecodeRaw: %v", err)
	}
	task, ok := r.(*TaskRaw)
	if !ok {
		t.Fatalf("got %T, want *TaskRaw", r)
	}
	if task.UserID != "u1" || task.TaskID != "t-1" || task.EstimateMinutes != 15 {
		t.Errorf("decoded %+v", task)
	}

	// a payload owner is not overridden by the envelope
	r, err = DecodeRaw([]byte(`{"source_type":"generic","user_id":"u1","payload":{"user_id":"u2","id":"g-1","title":"x"}}`))
	if err != nil {
		t.Fatalf("DecodeRaw: %v", err)
	}
	if r.Owner() != "u2" {
		t.Errorf("owner = %q, want u2", r.Owner())
	}

	data, err := EncodeRaw(task)
	if err != nil {
		t.Fatalf("EncodeRaw: %v", err)
	}
	back, err := DecodeRaw(data)
	if err != nil {
		t.Fatalf("DecodeRaw(EncodeRaw): %v", err)
	}
	if diff := cmp.Diff(Raw(task), back); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
}

func TestDecodeRaw_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"not json", `{`, "decode raw envelope"},
		{"unknown type", `{"source_type":"fax","payload":{}}`, "unknown source_type"},
		{"missing payload", `{"source_type":"email"}`, "missing payload"},
		{"bad payload", `{"source_type":"email","payload":{"subject":7}}`, "decode email payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := DecodeRaw([]byte(tt.in))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestWithOwner(t *testing.T) {
	t.Parallel()

	orig := &DealRaw{DealID: "d-1", Name: "x"}
	got := WithOwner(orig, "u1")
	if got.Owner() != "u1" {
		t.Errorf("owner = %q, want u1", got.Owner())
	}
	if orig.UserID != "" {
		t.Errorf("original mutated: %q", orig.UserID)
	}
}

func FuzzDecodeRaw(f *testing.F) {
	f.Add([]byte(`{"source_type":"email","user_id":"u1","payload":{"message_id":"m","subject":"s"}}`))
	f.Add([]byte(`{"source_type":"meeting","payload":{"event_id":"e","summary":"s","start":"2026-03-02T10:00:00Z"}}`))
	f.Add([]byte(`{}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		r, err := DecodeRaw(data)
		if err != nil {
			return
		}
		if !r.Source().Valid() {
			t.Fatalf("decoded unknown source %q", r.Source())
		}
		// must not panic
		_, _ = Normalize(r, testNow)
	})
}
