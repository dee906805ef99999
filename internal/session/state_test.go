package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidworks/expertdesk/internal/model"
)

var (
	customer = model.Principal{UserID: "user-1", Email: "ann@example.com", Name: "Ann", Role: model.RoleCustomer}
	expert   = model.Principal{Email: "dana@rapidworks.io", Name: "Dana", Role: model.RoleExpert}
)

func task(rev int64, status model.Status, msgs ...model.Message) *model.TaskRequest {
	return &model.TaskRequest{ID: "t1", Revision: rev, Status: status, Messages: msgs}
}

func TestSubmitThenSnapshotReconciles(t *testing.T) {
	s := New(customer)
	require.True(t, s.ApplySnapshot(task(1, model.StatusPending)))

	p := s.Submit("hello")
	assert.NotEmpty(t, p.ClientID)
	assert.Equal(t, model.SenderCustomer, p.Sender)

	tl := s.Timeline()
	require.Len(t, tl, 1)
	assert.True(t, tl[0].Pending)
	assert.Equal(t, "hello", tl[0].Message.Content)

	s.ApplySnapshot(task(2, model.StatusPending, model.Message{ID: "m1", ClientID: p.ClientID, Content: "hello", Sender: model.SenderCustomer}))
	assert.Empty(t, s.Pending)

	tl = s.Timeline()
	require.Len(t, tl, 1)
	assert.False(t, tl[0].Pending)
	assert.Equal(t, "m1", tl[0].Message.ID)
}

func TestSnapshotWithoutEchoKeepsOverlay(t *testing.T) {
	s := New(customer)
	s.ApplySnapshot(task(1, model.StatusPending))
	a := s.Submit("first")
	b := s.Submit("second")

	s.ApplySnapshot(task(2, model.StatusPending, model.Message{ID: "m1", ClientID: a.ClientID, Content: "first"}))
	require.Len(t, s.Pending, 1)
	assert.Equal(t, b.ClientID, s.Pending[0].ClientID)

	tl := s.Timeline()
	require.Len(t, tl, 2)
	assert.Equal(t, "first", tl[0].Message.Content)
	assert.Equal(t, "second", tl[1].Message.Content)
	assert.True(t, tl[1].Pending)
}

func TestStaleSnapshotIgnored(t *testing.T) {
	s := New(customer)
	s.ApplySnapshot(task(5, model.StatusEstimateProvided))

	assert.False(t, s.ApplySnapshot(task(4, model.StatusPending)))
	assert.Equal(t, model.StatusEstimateProvided, s.Confirmed.Status)

	assert.True(t, s.ApplySnapshot(task(6, model.StatusAccepted)))
	assert.Equal(t, model.StatusAccepted, s.Confirmed.Status)
}

func TestFailAndRetry(t *testing.T) {
	s := New(customer)
	s.ApplySnapshot(task(1, model.StatusPending))
	p := s.Submit("hello")

	_, ok := s.Retry(p.ClientID)
	assert.False(t, ok, "only failed entries can be retried")

	s.Fail(p.ClientID, errors.New("network down"))
	require.Len(t, s.Failed(), 1)
	tl := s.Timeline()
	require.Len(t, tl, 1)
	assert.True(t, tl[0].Failed)
	assert.EqualError(t, tl[0].Err, "network down")

	again, ok := s.Retry(p.ClientID)
	require.True(t, ok)
	assert.Equal(t, p.ClientID, again.ClientID)
	assert.Empty(t, s.Failed())
}

func TestConfirmKeepsMessageVisibleUntilSnapshot(t *testing.T) {
	s := New(customer)
	s.ApplySnapshot(task(1, model.StatusPending))
	p := s.Submit("hello")

	s.Confirm(model.Message{ID: "m1", ClientID: p.ClientID, Content: "hello", CreatedAt: time.Now()})
	assert.Empty(t, s.Pending)
	tl := s.Timeline()
	require.Len(t, tl, 1)
	assert.Equal(t, "m1", tl[0].Message.ID)

	s.ApplySnapshot(task(2, model.StatusPending, model.Message{ID: "m1", ClientID: p.ClientID, Content: "hello"}))
	assert.Len(t, s.Timeline(), 1)
}

func TestTimelineRendersCurrentEstimate(t *testing.T) {
	s := New(customer)
	snap := task(3, model.StatusEstimateProvided, model.Message{
		ID:      "m1",
		Type:    model.MessageTypePriceOffer,
		Content: "Price offer\nHours: 8\nPrice: $320",
	})
	snap.Estimate = &model.Estimate{Hours: 8, Price: 450, Rate: 56.25}
	s.ApplySnapshot(snap)

	tl := s.Timeline()
	require.Len(t, tl, 1)
	assert.Contains(t, tl[0].Message.Content, "$450")
}

func TestActionGuards(t *testing.T) {
	tests := []struct {
		name      string
		principal model.Principal
		status    model.Status
		send      bool
		edit      bool
		respond   bool
	}{
		{"expert pending", expert, model.StatusPending, true, false, false},
		{"expert provided", expert, model.StatusEstimateProvided, false, true, false},
		{"customer pending", customer, model.StatusPending, false, false, false},
		{"customer provided", customer, model.StatusEstimateProvided, false, false, true},
		{"customer accepted", customer, model.StatusAccepted, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.principal)
			s.ApplySnapshot(task(1, tt.status))
			assert.Equal(t, tt.send, s.CanSendEstimate())
			assert.Equal(t, tt.edit, s.CanEditEstimate())
			assert.Equal(t, tt.respond, s.CanRespond())
		})
	}

	s := New(expert)
	assert.False(t, s.CanSendEstimate(), "no snapshot yet")
}

func TestUnread(t *testing.T) {
	s := New(customer)
	s.ApplySnapshot(task(1, model.StatusPending,
		model.Message{Sender: model.SenderExpert},
		model.Message{Sender: model.SenderExpert, Read: true},
		model.Message{Sender: model.SenderCustomer},
		model.Message{Sender: model.SenderSystem},
	))
	assert.Equal(t, 1, s.Unread())
}
