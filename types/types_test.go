package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkStatusValid(t *testing.T) {
	for _, s := range []WorkStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
		assert.True(t, s.Valid(), "expected %q to be valid", s)
	}
	assert.False(t, WorkStatus("").Valid())
	assert.False(t, WorkStatus("exploded").Valid())
	assert.False(t, WorkStatus("Pending").Valid())
}

func TestWorkStatusTransitions(t *testing.T) {
	tests := []struct {
		from    WorkStatus
		to      WorkStatus
		allowed bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusFailed, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusPending, true}, // cooldown deferral
		{StatusFailed, StatusPending, true},     // backoff elapsed
		{StatusFailed, StatusProcessing, true},  // direct re-claim
		{StatusFailed, StatusCompleted, false},
		{StatusCompleted, StatusPending, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusCompleted, StatusFailed, false},
	}

	for _, tt := range tests {
		got := tt.from.CanTransitionTo(tt.to)
		assert.Equal(t, tt.allowed, got, "%s -> %s", tt.from, tt.to)
	}
}

func TestWorkItemTransition(t *testing.T) {
	item := &WorkItem{EntityID: "4151", Status: StatusPending, CreatedAt: time.Now()}

	assert.NoError(t, item.Transition(StatusProcessing))
	assert.Equal(t, StatusProcessing, item.Status)

	assert.NoError(t, item.Transition(StatusCompleted))
	assert.Equal(t, StatusCompleted, item.Status)
}

func TestWorkItemTransitionRejectsIllegalMove(t *testing.T) {
	item := &WorkItem{EntityID: "4151", Status: StatusCompleted}

	err := item.Transition(StatusProcessing)
	assert.Error(t, err)
	assert.Equal(t, StatusCompleted, item.Status)
}

func TestWorkItemTransitionRejectsUnknownStatus(t *testing.T) {
	item := &WorkItem{EntityID: "4151", Status: StatusPending}

	err := item.Transition(WorkStatus("exploded"))
	assert.Error(t, err)
	assert.Equal(t, StatusPending, item.Status)
}

func TestWorkItemTerminal(t *testing.T) {
	assert.True(t, (&WorkItem{Status: StatusCompleted}).Terminal(5))
	assert.True(t, (&WorkItem{Status: StatusFailed, Retries: 5}).Terminal(5))
	assert.False(t, (&WorkItem{Status: StatusFailed, Retries: 4}).Terminal(5))
	assert.False(t, (&WorkItem{Status: StatusPending}).Terminal(5))
	assert.False(t, (&WorkItem{Status: StatusProcessing, Retries: 9}).Terminal(5))
}
