package task

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	now := time.Date(2024, 3, 13, 9, 30, 0, 0, time.Local)
	got, err := New(Input{Title: "  Write report  "}, now)
	require.NoError(t, err)

	assert.Equal(t, "Write report", got.Title)
	assert.Equal(t, Medium, got.Priority)
	assert.Equal(t, Inbox, got.ProjectID)
	assert.Equal(t, Pending, got.Status)
	assert.Equal(t, []string{}, got.Tags)
	assert.Empty(t, got.ParentID)
	require.NotNil(t, got.DueDate)
	assert.Equal(t, time.Date(2024, 3, 13, 18, 0, 0, 0, time.Local), *got.DueDate)
	assert.Nil(t, got.CompletedAt)
}

func TestNewRejects(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		in   Input
	}{
		{"empty title", Input{Title: "   "}},
		{"bad priority", Input{Title: "x", Priority: "urgent"}},
		{"bad recurrence", Input{Title: "x", Recurrence: &Recurrence{Frequency: Daily}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.in, now)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
		})
	}
}

func TestRecurrenceValidate(t *testing.T) {
	tests := []struct {
		name string
		r    Recurrence
		ok   bool
	}{
		{"daily", Recurrence{Frequency: Daily, Interval: 1}, true},
		{"weekly days", Recurrence{Frequency: Weekly, Interval: 2, DaysOfWeek: []int{0, 6}}, true},
		{"weekday out of range", Recurrence{Frequency: Weekly, Interval: 1, DaysOfWeek: []int{7}}, false},
		{"monthly", Recurrence{Frequency: Monthly, Interval: 1, DayOfMonth: 31}, true},
		{"day of month out of range", Recurrence{Frequency: Monthly, Interval: 1, DayOfMonth: 32}, false},
		{"zero interval", Recurrence{Frequency: Custom}, false},
		{"unknown frequency", Recurrence{Frequency: "yearly", Interval: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.r.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalid)
			}
		})
	}
}

func TestTaskFieldsRoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 13, 9, 30, 0, 0, time.UTC)
	in, err := New(Input{Title: "Plan", Tags: []string{"a"}}, now)
	require.NoError(t, err)
	in.Order = 4

	raw, err := json.Marshal(in.Fields())
	require.NoError(t, err)
	var out Task
	require.NoError(t, json.Unmarshal(raw, &out))

	assert.Equal(t, in.Title, out.Title)
	assert.Equal(t, in.Order, out.Order)
	assert.Equal(t, "", out.ParentID)
	assert.True(t, in.DueDate.Equal(*out.DueDate))
	assert.Nil(t, out.CompletedAt)
}

func TestPickColor(t *testing.T) {
	first := func(int) int { return 0 }

	assert.Equal(t, Palette[0], PickColor(nil, first))
	assert.Equal(t, Palette[2], PickColor(Palette[:2], first))

	last := func(n int) int { return n - 1 }
	assert.Equal(t, Palette[len(Palette)-1], PickColor(Palette, last), "exhausted palette falls back to all colors")
}

func TestNewProject(t *testing.T) {
	_, err := NewProject(ProjectInput{Name: " "}, time.Now())
	assert.ErrorIs(t, err, ErrInvalid)

	p, err := NewProject(ProjectInput{Name: "Work", Color: "#3b82f6"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "Work", p.Name)
	assert.False(t, p.IsArchived)
}
