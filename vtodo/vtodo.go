// Package vtodo translates between task-like values and iCalendar VTODO
// documents. Parsing finds the first VTODO component in a calendar; updating
// mutates only the task fields on that component and leaves every other
// property and component in the document untouched.
package vtodo

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/samber/mo"
)

const (
	// ProductID identifies generated calendar documents.
	ProductID = "-//cleverlist//listdav//EN"

	// StatusNeedsAction and StatusCompleted are the two VTODO states a task
	// mirror can be in.
	StatusNeedsAction = "NEEDS-ACTION"
	StatusCompleted   = "COMPLETED"
)

// ErrNoTodo is returned when a calendar document contains no VTODO component.
var ErrNoTodo = errors.New("no VTODO component in calendar")

// Task is the interchange shape between domain records and calendar
// documents. Due and Completed are absent when the underlying record has no
// deadline or is not done.
type Task struct {
	Summary   string
	Due       mo.Option[time.Time]
	Completed mo.Option[time.Time]
}

// Status derives the VTODO status from the completion timestamp.
func (t Task) Status() string {
	if t.Completed.IsPresent() {
		return StatusCompleted
	}
	return StatusNeedsAction
}

// Parse extracts the task fields from the first VTODO component of ics.
func Parse(ics []byte) (Task, error) {
	cal, err := decode(ics)
	if err != nil {
		return Task{}, err
	}
	todo := firstTodo(cal)
	if todo == nil {
		return Task{}, ErrNoTodo
	}

	task := Task{}
	if summary, err := todo.Props.Text(ical.PropSummary); err == nil {
		task.Summary = summary
	}
	if todo.Props.Get(ical.PropDue) != nil {
		due, err := todo.Props.DateTime(ical.PropDue, time.UTC)
		if err != nil {
			return Task{}, fmt.Errorf("parsing DUE: %w", err)
		}
		task.Due = mo.Some(due)
	}
	if todo.Props.Get(ical.PropCompleted) != nil {
		completed, err := todo.Props.DateTime(ical.PropCompleted, time.UTC)
		if err != nil {
			return Task{}, fmt.Errorf("parsing COMPLETED: %w", err)
		}
		task.Completed = mo.Some(completed)
	}
	return task, nil
}

// Create emits a complete calendar document holding a single VTODO with the
// given uid and task fields.
func Create(uid string, task Task) ([]byte, error) {
	now := time.Now().UTC().Truncate(time.Second)

	todo := ical.NewComponent(ical.CompToDo)
	todo.Props.SetText(ical.PropUID, uid)
	todo.Props.SetDateTime(ical.PropCreated, now)
	todo.Props.SetDateTime(ical.PropDateTimeStamp, now)
	applyTask(todo, task, now)

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)
	cal.Children = append(cal.Children, todo)

	return encode(cal)
}

// Update re-parses an existing document, rewrites the task fields on its
// first VTODO and re-serializes. Properties and components unrelated to the
// task state survive the round trip unchanged.
func Update(ics []byte, task Task) ([]byte, error) {
	cal, err := decode(ics)
	if err != nil {
		return nil, err
	}
	todo := firstTodo(cal)
	if todo == nil {
		return nil, ErrNoTodo
	}

	applyTask(todo, task, time.Now().UTC().Truncate(time.Second))
	return encode(cal)
}

// applyTask writes summary, due, completed, status and last-modified onto a
// VTODO component, removing due/completed entirely when absent from the task.
func applyTask(todo *ical.Component, task Task, now time.Time) {
	todo.Props.SetText(ical.PropSummary, task.Summary)
	todo.Props.SetDateTime(ical.PropLastModified, now)

	if due, ok := task.Due.Get(); ok {
		todo.Props.SetDateTime(ical.PropDue, due.UTC())
	} else {
		todo.Props.Del(ical.PropDue)
	}

	if completed, ok := task.Completed.Get(); ok {
		todo.Props.SetDateTime(ical.PropCompleted, completed.UTC())
		todo.Props.SetText(ical.PropStatus, StatusCompleted)
	} else {
		todo.Props.Del(ical.PropCompleted)
		todo.Props.SetText(ical.PropStatus, StatusNeedsAction)
	}
}

// firstTodo returns the first VTODO child of the calendar, or nil.
func firstTodo(cal *ical.Calendar) *ical.Component {
	for _, child := range cal.Children {
		if child.Name == ical.CompToDo {
			return child
		}
	}
	return nil
}

func decode(ics []byte) (*ical.Calendar, error) {
	cal, err := ical.NewDecoder(strings.NewReader(string(ics))).Decode()
	if err != nil {
		return nil, fmt.Errorf("decoding calendar: %w", err)
	}
	return cal, nil
}

func encode(cal *ical.Calendar) ([]byte, error) {
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("encoding calendar: %w", err)
	}
	return buf.Bytes(), nil
}
