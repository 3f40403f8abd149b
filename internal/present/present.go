// Package present derives read-only views of rooms and messages for chat screens.
// Every function is pure and never modifies its arguments.
package present

import (
	"sort"
	"strings"
	"time"

	"roomchat/internal/chat"
)

// ConsecutiveWindow is the largest gap, exclusive, between two messages of the same sender
// that are displayed as one run.
const ConsecutiveWindow = 5 * time.Minute

// DayKeyLayout formats the key of a DayGroup.
const DayKeyLayout = "2006-01-02"

// Item is a message positioned inside a day group.
type Item struct {
	Message chat.Message
	// Consecutive is set when the message continues a run of the previous sender,
	// the UI hides the avatar and timestamp for it
	Consecutive bool
}

// DayGroup holds the messages of one calendar day in chronological order.
type DayGroup struct {
	Key   string
	Day   time.Time
	Items []Item
}

// SortMessages returns the messages sorted by creation time, ascending.
// Messages created at the same instant keep their insertion order.
func SortMessages(msgs []chat.Message) []chat.Message {
	sorted := make([]chat.Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	return sorted
}

// GroupByDay sorts the messages and partitions them by calendar day in loc.
// A nil loc means time.Local.
func GroupByDay(msgs []chat.Message, loc *time.Location) []DayGroup {
	if loc == nil {
		loc = time.Local
	}

	var groups []DayGroup
	for _, m := range SortMessages(msgs) {
		day := startOfDay(m.CreatedAt, loc)
		key := day.Format(DayKeyLayout)

		if n := len(groups); n == 0 || groups[n-1].Key != key {
			groups = append(groups, DayGroup{Key: key, Day: day})
		}

		g := &groups[len(groups)-1]
		item := Item{Message: m}
		if n := len(g.Items); n > 0 {
			item.Consecutive = IsConsecutive(g.Items[n-1].Message, m)
		}
		g.Items = append(g.Items, item)
	}
	return groups
}

// IsConsecutive reports whether cur continues the run started by prev: same sender and
// created less than ConsecutiveWindow later.
func IsConsecutive(prev, cur chat.Message) bool {
	if prev.SenderID != cur.SenderID {
		return false
	}
	d := cur.CreatedAt.Sub(prev.CreatedAt)
	return d >= 0 && d < ConsecutiveWindow
}

// DayLabel names the calendar day of day relative to now: "today", "yesterday", a weekday
// abbreviation within the last week, a month and day otherwise. The year is appended when it
// differs from the current one. Both instants are compared in now's location.
func DayLabel(day, now time.Time) string {
	loc := now.Location()
	d := startOfDay(day, loc)
	today := startOfDay(now, loc)

	switch diff := daysBetween(d, today); {
	case diff == 0:
		return "today"
	case diff == 1:
		return "yesterday"
	case diff > 1 && diff < 7:
		return d.Format("Mon")
	}

	if d.Year() != today.Year() {
		return d.Format("Jan 2, 2006")
	}
	return d.Format("Jan 2")
}

// FilterRooms keeps the rooms whose title or last message contains query as typed, ignoring case.
// An empty query returns every room in the original order.
func FilterRooms(rooms []chat.Room, query string) []chat.Room {
	q := strings.ToLower(query)
	if q == "" {
		out := make([]chat.Room, len(rooms))
		copy(out, rooms)
		return out
	}

	out := make([]chat.Room, 0, len(rooms))
	for _, r := range rooms {
		if strings.Contains(strings.ToLower(r.Title), q) || strings.Contains(strings.ToLower(r.LastMessage), q) {
			out = append(out, r)
		}
	}
	return out
}

// SortRoomsByActivity orders rooms by the time of their last message, most recent first.
func SortRoomsByActivity(rooms []chat.Room) []chat.Room {
	out := make([]chat.Room, len(rooms))
	copy(out, rooms)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// daysBetween counts calendar days from a to b, both at midnight in the same location.
// Rounding absorbs DST shifts.
func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Round(24*time.Hour) / (24 * time.Hour))
}
