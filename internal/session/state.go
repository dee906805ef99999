// Package session holds the per-view chat state of one task: the last
// confirmed snapshot plus an overlay of locally submitted messages that the
// store has not echoed back yet.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/rapidworks/expertdesk/internal/model"
)

// PendingState describes where an overlay entry is in its round trip.
type PendingState int

const (
	PendingSending PendingState = iota
	PendingFailed
)

// Pending is a locally submitted message awaiting confirmation.
type Pending struct {
	ClientID    string
	Content     string
	Sender      model.Sender
	SenderName  string
	SenderEmail string
	SubmittedAt time.Time
	State       PendingState
	Err         error
}

// Message renders the overlay entry as an unconfirmed message.
func (p Pending) Message() model.Message {
	return model.Message{
		ClientID:    p.ClientID,
		Sender:      p.Sender,
		Type:        model.MessageTypePlain,
		Content:     p.Content,
		SenderName:  p.SenderName,
		SenderEmail: p.SenderEmail,
		CreatedAt:   p.SubmittedAt,
	}
}

// Entry is one row of the rendered timeline.
type Entry struct {
	Message model.Message
	Pending bool
	Failed  bool
	Err     error
}

// State is the authoritative view state for one task and one principal.
type State struct {
	Principal model.Principal
	Confirmed *model.TaskRequest
	Pending   []Pending

	now func() time.Time
}

// New creates an empty state for p.
func New(p model.Principal) *State {
	return &State{Principal: p, now: time.Now}
}

// Submit records a message the principal is about to send and returns the
// overlay entry carrying its correlation id.
func (s *State) Submit(content string) Pending {
	p := Pending{
		ClientID:    uuid.NewString(),
		Content:     content,
		Sender:      s.Principal.Sender(),
		SenderName:  s.Principal.Name,
		SenderEmail: s.Principal.Email,
		SubmittedAt: s.now(),
		State:       PendingSending,
	}
	s.Pending = append(s.Pending, p)
	return p
}

// ApplySnapshot adopts task unless it is older than the held snapshot, then
// drops overlay entries the snapshot confirms. It reports whether the
// snapshot was adopted.
func (s *State) ApplySnapshot(task *model.TaskRequest) bool {
	if task == nil {
		return false
	}
	if s.Confirmed != nil && s.Confirmed.ID == task.ID && task.Revision < s.Confirmed.Revision {
		return false
	}
	s.Confirmed = task

	kept := s.Pending[:0]
	for _, p := range s.Pending {
		if !task.HasMessage(p.ClientID) {
			kept = append(kept, p)
		}
	}
	s.Pending = kept
	return true
}

// Confirm drops the overlay entry for a message the store acknowledged.
// The snapshot carrying it may still be in flight, so the message is kept
// visible until then by appending it to the confirmed copy.
func (s *State) Confirm(msg model.Message) {
	if s.Confirmed != nil && !s.Confirmed.HasMessage(msg.ClientID) {
		s.Confirmed = s.Confirmed.Clone()
		s.Confirmed.Messages = append(s.Confirmed.Messages, msg)
	}
	s.remove(msg.ClientID)
}

// Fail marks an overlay entry as failed so the view can offer a retry.
func (s *State) Fail(clientID string, err error) {
	if i := s.index(clientID); i >= 0 {
		s.Pending[i].State = PendingFailed
		s.Pending[i].Err = err
	}
}

// Retry returns a failed entry to the sending state. The same correlation id
// is reused, so a send that actually landed is not duplicated.
func (s *State) Retry(clientID string) (Pending, bool) {
	i := s.index(clientID)
	if i < 0 || s.Pending[i].State != PendingFailed {
		return Pending{}, false
	}
	s.Pending[i].State = PendingSending
	s.Pending[i].Err = nil
	return s.Pending[i], true
}

// Failed returns the overlay entries whose send failed.
func (s *State) Failed() []Pending {
	var out []Pending
	for _, p := range s.Pending {
		if p.State == PendingFailed {
			out = append(out, p)
		}
	}
	return out
}

// Timeline returns confirmed messages in order followed by the overlay.
// Price offers are rendered from the current estimate.
func (s *State) Timeline() []Entry {
	var entries []Entry
	if s.Confirmed != nil {
		entries = make([]Entry, 0, len(s.Confirmed.Messages)+len(s.Pending))
		for _, m := range s.Confirmed.Messages {
			m.Content = model.RenderMessage(s.Confirmed, m)
			entries = append(entries, Entry{Message: m})
		}
	}
	for _, p := range s.Pending {
		entries = append(entries, Entry{
			Message: p.Message(),
			Pending: true,
			Failed:  p.State == PendingFailed,
			Err:     p.Err,
		})
	}
	return entries
}

// Unread counts confirmed messages from the counterpart not yet read.
func (s *State) Unread() int {
	if s.Confirmed == nil {
		return 0
	}
	return model.UnreadCount(s.Confirmed, s.Principal.Role)
}

// CanSendEstimate reports whether the principal may send the first estimate.
func (s *State) CanSendEstimate() bool {
	return s.Principal.IsStaff() && s.status() == model.StatusPending
}

// CanEditEstimate reports whether the principal may revise the estimate.
func (s *State) CanEditEstimate() bool {
	return s.Principal.IsStaff() && s.status() == model.StatusEstimateProvided
}

// CanRespond reports whether the principal may accept or decline.
func (s *State) CanRespond() bool {
	r := s.Principal.Role
	return (r == model.RoleCustomer || r == model.RoleAdmin) && s.status() == model.StatusEstimateProvided
}

// CanStartWork reports whether the principal may begin an accepted task.
func (s *State) CanStartWork() bool {
	return s.Principal.IsStaff() && s.status() == model.StatusAccepted
}

// CanComplete reports whether the principal may finish the task.
func (s *State) CanComplete() bool {
	return s.Principal.IsStaff() && s.status() == model.StatusInProgress
}

func (s *State) status() model.Status {
	if s.Confirmed == nil {
		return ""
	}
	return s.Confirmed.Status
}

func (s *State) index(clientID string) int {
	for i, p := range s.Pending {
		if p.ClientID == clientID {
			return i
		}
	}
	return -1
}

func (s *State) remove(clientID string) {
	if i := s.index(clientID); i >= 0 {
		s.Pending = append(s.Pending[:i], s.Pending[i+1:]...)
	}
}
