package vtodo

import (
	"strings"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ics(lines ...string) []byte {
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

func TestParse(t *testing.T) {
	due := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	completed := time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		input   []byte
		want    Task
		wantErr error
	}{
		{
			name: "full task",
			input: ics(
				"BEGIN:VCALENDAR",
				"VERSION:2.0",
				"PRODID:"+ProductID,
				"BEGIN:VTODO",
				"UID:task-1",
				"DTSTAMP:20260314T000000Z",
				"SUMMARY:Buy milk",
				"DUE:20260314T120000Z",
				"COMPLETED:20260315T093000Z",
				"STATUS:COMPLETED",
				"END:VTODO",
				"END:VCALENDAR",
			),
			want: Task{
				Summary:   "Buy milk",
				Due:       mo.Some(due),
				Completed: mo.Some(completed),
			},
		},
		{
			name: "open task without due",
			input: ics(
				"BEGIN:VCALENDAR",
				"VERSION:2.0",
				"PRODID:"+ProductID,
				"BEGIN:VTODO",
				"UID:task-2",
				"DTSTAMP:20260314T000000Z",
				"SUMMARY:Water plants",
				"END:VTODO",
				"END:VCALENDAR",
			),
			want: Task{Summary: "Water plants"},
		},
		{
			name: "no VTODO component",
			input: ics(
				"BEGIN:VCALENDAR",
				"VERSION:2.0",
				"PRODID:"+ProductID,
				"BEGIN:VEVENT",
				"UID:event-1",
				"DTSTAMP:20260314T000000Z",
				"DTSTART:20260314T120000Z",
				"SUMMARY:Not a task",
				"END:VEVENT",
				"END:VCALENDAR",
			),
			wantErr: ErrNoTodo,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Summary, got.Summary)
			assert.Equal(t, tt.want.Due, got.Due)
			assert.Equal(t, tt.want.Completed, got.Completed)
		})
	}
}

func TestCreateParseRoundTrip(t *testing.T) {
	due := time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)
	task := Task{Summary: "Return library books", Due: mo.Some(due)}

	data, err := Create("task-uid-9", task)
	require.NoError(t, err)
	assert.Contains(t, string(data), "UID:task-uid-9")
	assert.Contains(t, string(data), "STATUS:NEEDS-ACTION")

	got, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, task.Summary, got.Summary)
	assert.Equal(t, task.Due, got.Due)
	assert.False(t, got.Completed.IsPresent())
}

func TestUpdate(t *testing.T) {
	original := ics(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//someclient//EN",
		"BEGIN:VTODO",
		"UID:task-3",
		"DTSTAMP:20260314T000000Z",
		"SUMMARY:Old summary",
		"DUE:20260320T000000Z",
		"X-CLIENT-DATA:keep-me",
		"END:VTODO",
		"END:VCALENDAR",
	)

	completed := time.Date(2026, 3, 21, 8, 0, 0, 0, time.UTC)
	updated, err := Update(original, Task{
		Summary:   "New summary",
		Completed: mo.Some(completed),
	})
	require.NoError(t, err)

	out := string(updated)
	assert.Contains(t, out, "SUMMARY:New summary")
	assert.Contains(t, out, "STATUS:COMPLETED")
	assert.Contains(t, out, "X-CLIENT-DATA:keep-me", "unrelated properties must survive")
	assert.NotContains(t, out, "DUE:", "cleared due date must be removed")

	got, err := Parse(updated)
	require.NoError(t, err)
	assert.Equal(t, "New summary", got.Summary)
	assert.False(t, got.Due.IsPresent())
	assert.Equal(t, mo.Some(completed), got.Completed)
}

func TestUpdateNoTodo(t *testing.T) {
	input := ics(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:"+ProductID,
		"BEGIN:VEVENT",
		"UID:event-2",
		"DTSTAMP:20260314T000000Z",
		"DTSTART:20260314T120000Z",
		"SUMMARY:Meeting",
		"END:VEVENT",
		"END:VCALENDAR",
	)
	_, err := Update(input, Task{Summary: "irrelevant"})
	assert.ErrorIs(t, err, ErrNoTodo)
}

func TestStatus(t *testing.T) {
	assert.Equal(t, StatusNeedsAction, Task{}.Status())
	assert.Equal(t, StatusCompleted, Task{Completed: mo.Some(time.Now())}.Status())
}
