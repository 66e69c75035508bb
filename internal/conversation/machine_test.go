package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func openConversation() *Conversation {
	return &Conversation{ID: "c1", OrganizationID: "org-1", Status: StatusOpen, CreatedAt: t0}
}

func TestApplyCustomerMessage_CooldownResets(t *testing.T) {
	c := openConversation()
	cooldown := 5 * time.Second

	require.NoError(t, ApplyCustomerMessage(c, t0, cooldown, false))
	require.NotNil(t, c.CooldownUntil)
	assert.WithinDuration(t, t0.Add(cooldown), *c.CooldownUntil, time.Second)

	second := t0.Add(3 * time.Second)
	require.NoError(t, ApplyCustomerMessage(c, second, cooldown, false))
	assert.WithinDuration(t, second.Add(cooldown), *c.CooldownUntil, time.Second)
	assert.NotEqual(t, t0.Add(2*cooldown), *c.CooldownUntil, "windows must not stack")

	assert.True(t, c.NeedsProcessing)
	assert.Equal(t, second, *c.LastCustomerMessageAt)
	assert.True(t, InCooldown(c, second.Add(cooldown-time.Millisecond)))
	assert.False(t, InCooldown(c, second.Add(cooldown)))
}

func TestApplyCustomerMessage_Transitions(t *testing.T) {
	assigned := t0.Add(-time.Minute)

	tests := []struct {
		name            string
		status          Status
		hasHumanReply   bool
		wantStatus      Status
		wantNeeds       bool
		wantAssignee    string
		wantErr         error
		startNeedsFlag  bool
		assignedUserID  string
		wantClosedAtNil bool
	}{
		{
			name:       "open conversation needs processing",
			status:     StatusOpen,
			wantStatus: StatusOpen,
			wantNeeds:  true,
		},
		{
			name:       "pending human stays queued but is flagged",
			status:     StatusPendingHuman,
			wantStatus: StatusPendingHuman,
			wantNeeds:  true,
		},
		{
			name:           "takeover without human reply reverts to the agent",
			status:         StatusHumanTookOver,
			assignedUserID: "user-1",
			wantStatus:     StatusOpen,
			wantNeeds:      true,
		},
		{
			name:           "takeover with human reply stays with the human",
			status:         StatusHumanTookOver,
			assignedUserID: "user-1",
			hasHumanReply:  true,
			wantStatus:     StatusHumanTookOver,
			wantNeeds:      false,
			wantAssignee:   "user-1",
		},
		{
			name:            "resolved conversation reopens",
			status:          StatusResolved,
			wantStatus:      StatusOpen,
			wantNeeds:       true,
			wantClosedAtNil: true,
		},
		{
			name:       "closed conversation rejects messages",
			status:     StatusClosed,
			wantStatus: StatusClosed,
			wantErr:    ErrConversationClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := openConversation()
			c.Status = tt.status
			c.NeedsProcessing = tt.startNeedsFlag
			if tt.assignedUserID != "" {
				c.AssignedUserID = tt.assignedUserID
				c.AssignedAt = &assigned
				c.PreviousStatus = StatusOpen
			}
			if tt.status.IsFinal() {
				c.ClosedAt = &assigned
			}

			err := ApplyCustomerMessage(c, t0, 5*time.Second, tt.hasHumanReply)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, c.CooldownUntil, "rejected message must not touch the conversation")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, c.Status)
			assert.Equal(t, tt.wantNeeds, c.NeedsProcessing)
			assert.Equal(t, tt.wantAssignee, c.AssignedUserID)
			if tt.wantClosedAtNil {
				assert.Nil(t, c.ClosedAt)
			}
			assert.NoError(t, c.Validate())
		})
	}
}

func TestTakeoverReleaseRoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		mode       ReleaseMode
		wantStatus Status
		wantNeeds  bool
		wantPrev   Status
	}{
		{name: "release to ai", mode: ReleaseToAI, wantStatus: StatusOpen, wantNeeds: true, wantPrev: ""},
		{name: "release to queue", mode: ReleaseToQueue, wantStatus: StatusPendingHuman, wantNeeds: false, wantPrev: StatusOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := openConversation()

			require.NoError(t, AssignToUser(c, "user-1", t0))
			assert.Equal(t, StatusHumanTookOver, c.Status)
			assert.Equal(t, StatusOpen, c.PreviousStatus)
			assert.Equal(t, "user-1", c.AssignedUserID)
			require.NotNil(t, c.AssignedAt)
			require.NoError(t, c.Validate())

			require.NoError(t, ReleaseFromUser(c, tt.mode))
			assert.Equal(t, tt.wantStatus, c.Status)
			assert.Equal(t, tt.wantNeeds, c.NeedsProcessing)
			assert.Equal(t, tt.wantPrev, c.PreviousStatus)
			assert.Empty(t, c.AssignedUserID)
			assert.Nil(t, c.AssignedAt)
			assert.NoError(t, c.Validate())
		})
	}
}

func TestAssignToUser(t *testing.T) {
	c := openConversation()
	assert.ErrorIs(t, AssignToUser(c, "", t0), ErrAssigneeRequired)

	c.Status = StatusPendingHuman
	require.NoError(t, AssignToUser(c, "user-1", t0))
	require.NoError(t, AssignToUser(c, "user-2", t0.Add(time.Minute)))
	assert.Equal(t, StatusPendingHuman, c.PreviousStatus, "reassignment keeps the original snapshot")
	assert.Equal(t, "user-2", c.AssignedUserID)

	closed := openConversation()
	Close(closed, t0)
	assert.ErrorIs(t, AssignToUser(closed, "user-1", t0), ErrConversationClosed)
}

func TestReleaseFromUser_Errors(t *testing.T) {
	c := openConversation()
	assert.ErrorIs(t, ReleaseFromUser(c, ReleaseToAI), ErrNotTakenOver)

	require.NoError(t, AssignToUser(c, "user-1", t0))
	assert.ErrorIs(t, ReleaseFromUser(c, "elsewhere"), ErrInvalidReleaseMode)
	assert.Equal(t, StatusHumanTookOver, c.Status)
}

func TestEscalateCloseResolve(t *testing.T) {
	c := openConversation()
	require.NoError(t, EscalateToHuman(c))
	assert.Equal(t, StatusPendingHuman, c.Status)

	require.NoError(t, AssignToUser(c, "user-1", t0))
	require.NoError(t, EscalateToHuman(c))
	assert.Equal(t, StatusHumanTookOver, c.Status, "escalating a taken-over conversation is a no-op")

	require.NoError(t, Resolve(c, t0))
	assert.Equal(t, StatusResolved, c.Status)
	assert.Equal(t, t0, *c.ClosedAt)
	assert.Empty(t, c.AssignedUserID)
	assert.ErrorIs(t, EscalateToHuman(c), ErrConversationClosed)

	c.NeedsProcessing = true
	Close(c, t0.Add(time.Hour))
	assert.Equal(t, StatusClosed, c.Status)
	assert.Equal(t, t0.Add(time.Hour), *c.ClosedAt)
	assert.Equal(t, t0.Add(time.Hour), *c.EndedAt)
	assert.False(t, c.NeedsProcessing)
	assert.ErrorIs(t, Resolve(c, t0), ErrConversationClosed)
	assert.NoError(t, c.Validate())
}

func TestProcessingLock(t *testing.T) {
	c := openConversation()
	d := time.Minute

	assert.True(t, TryAcquireLock(c, "worker-a", t0, d))
	assert.Equal(t, t0, *c.ProcessingStartedAt)
	assert.False(t, TryAcquireLock(c, "worker-b", t0.Add(30*time.Second), d), "unexpired lock held by another worker")
	assert.True(t, TryAcquireLock(c, "worker-a", t0.Add(30*time.Second), d), "holder may renew")

	// the lock lapses on its own
	assert.True(t, TryAcquireLock(c, "worker-b", t0.Add(30*time.Second+d), d))
	assert.Equal(t, "worker-b", c.ProcessingLockedBy)

	ReleaseLock(c, "worker-a")
	assert.Equal(t, "worker-b", c.ProcessingLockedBy, "only the holder releases")
	ReleaseLock(c, "worker-b")
	assert.Nil(t, c.ProcessingLockedUntil)
	assert.False(t, LockHeld(c, "worker-a", t0))
}

func TestReadyForProcessing(t *testing.T) {
	lockedUntil := t0.Add(time.Minute)
	cooldownUntil := t0.Add(time.Second)

	tests := []struct {
		name   string
		mutate func(*Conversation)
		want   bool
	}{
		{name: "flagged open conversation", mutate: func(c *Conversation) { c.NeedsProcessing = true }, want: true},
		{name: "not flagged", mutate: func(*Conversation) {}, want: false},
		{name: "in cooldown", mutate: func(c *Conversation) {
			c.NeedsProcessing = true
			c.CooldownUntil = &cooldownUntil
		}, want: false},
		{name: "locked", mutate: func(c *Conversation) {
			c.NeedsProcessing = true
			c.ProcessingLockedUntil = &lockedUntil
			c.ProcessingLockedBy = "worker-a"
		}, want: false},
		{name: "waiting for a human", mutate: func(c *Conversation) {
			c.NeedsProcessing = true
			c.Status = StatusPendingHuman
		}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := openConversation()
			tt.mutate(c)
			assert.Equal(t, tt.want, ReadyForProcessing(c, t0))
		})
	}
}

func TestIsDuplicate(t *testing.T) {
	prev := &Message{Type: MessageCustomer, Content: "where is my order?"}

	assert.False(t, IsDuplicate(nil, MessageInput{Type: MessageCustomer, Content: "hi"}))
	assert.True(t, IsDuplicate(prev, MessageInput{Type: MessageCustomer, Content: "where is my order?"}))
	assert.False(t, IsDuplicate(prev, MessageInput{Type: MessageCustomer, Content: "  where is my order?\n"}))
	assert.False(t, IsDuplicate(prev, MessageInput{Type: MessageBotAgent, Content: "where is my order?"}))
	assert.False(t, IsDuplicate(prev, MessageInput{Type: MessageCustomer, Content: "Where is my order?"}))
}
