package server

import (
	"context"

	davxml "github.com/cleverlist/listdav/internal/xml"
	"github.com/cleverlist/listdav/tree"
)

// utcTimezone is the calendar-timezone seeded on provisioned calendars.
const utcTimezone = "BEGIN:VCALENDAR\r\nPRODID:-//cleverlist//listdav//EN\r\nVERSION:2.0\r\nBEGIN:VTIMEZONE\r\nTZID:UTC\r\nEND:VTIMEZONE\r\nEND:VCALENDAR\r\n"

// EnsureCalendar seeds a task calendar: the owner's root collection, a named
// protected collection under it, and the CalDAV properties clients expect.
// Calling it again on an existing calendar is harmless.
func (h *Handler) EnsureCalendar(ctx context.Context, owner, root, name string) (*tree.Resource, error) {
	top, err := h.Tree.Root(ctx, owner, root)
	if err != nil {
		return nil, err
	}
	cal, err := h.Tree.EnsureChild(ctx, top, name, true)
	if err != nil {
		return nil, err
	}
	if !cal.Protected {
		cal.Protected = true
		if err := h.Tree.Update(ctx, cal); err != nil {
			return nil, err
		}
	}

	props := []struct {
		name  string
		value string
		isXML bool
	}{
		{davxml.Clark(davxml.DAV, "displayname"), name, false},
		{davxml.Clark(davxml.CalDAV, "supported-calendar-component-set"), `<C:comp name="VTODO"/>`, true},
		{davxml.Clark(davxml.CalDAV, "calendar-timezone"), utcTimezone, false},
	}
	for _, p := range props {
		if _, err := h.Tree.GetProp(ctx, cal.ID, p.name); err == nil {
			continue
		}
		if err := h.Tree.SetProp(ctx, cal.ID, p.name, p.value, p.isXML); err != nil {
			return nil, err
		}
	}
	return cal, nil
}
