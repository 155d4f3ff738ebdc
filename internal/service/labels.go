package service

import (
	"fmt"
	"time"

	"Parley/internal/model"
)

const day = 24 * time.Hour

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// GroupLabel names the day bucket a message falls into, relative to now:
// "Today", "Yesterday", a weekday name within the last week, else "Jan 2".
func GroupLabel(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.In(now.Location())

	if sameDay(t, now) {
		return "Today"
	}
	if sameDay(t, now.AddDate(0, 0, -1)) {
		return "Yesterday"
	}
	if dayDiff := int(now.Sub(t) / day); dayDiff < 7 {
		return t.Weekday().String()
	}
	return t.Format("Jan 2")
}

// GroupMessages splits msgs into contiguous runs with the same GroupLabel.
// Runs are never merged across a different label in between.
func GroupMessages(msgs []model.Message, viewer string, now time.Time) []model.MessageGroup {
	groups := make([]model.MessageGroup, 0)
	for i, msg := range msgs {
		label := GroupLabel(msg.CreatedAt, now)
		view := model.MessageView{
			Message: msg,
			Index:   i,
			Time:    MessageTime(msg.CreatedAt.In(now.Location())),
			Age:     TimeAgo(msg.CreatedAt, now),
			CanEdit: CanEdit(msg, viewer, now),
		}

		if n := len(groups); n > 0 && groups[n-1].Label == label {
			groups[n-1].Messages = append(groups[n-1].Messages, view)
			continue
		}
		groups = append(groups, model.MessageGroup{Label: label, Messages: []model.MessageView{view}})
	}
	return groups
}

// MessageTime renders the clock time shown next to a message, e.g. "03:04 PM".
func MessageTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("03:04 PM")
}

// OnlineStatus is the header line for a peer: "online", "last seen at today
// at 15:04", "last seen at 1/2/2006 at 15:04", or "" when nothing is known.
func OnlineStatus(u *model.User, now time.Time) string {
	if u == nil {
		return ""
	}
	if u.Online {
		return "online"
	}
	if u.LastSeen == nil || u.LastSeen.IsZero() {
		return ""
	}

	seen := u.LastSeen.In(now.Location())
	clock := seen.Format("15:04")
	if sameDay(seen, now) {
		return fmt.Sprintf("last seen at today at %s", clock)
	}
	return fmt.Sprintf("last seen at %s at %s", seen.Format("1/2/2006"), clock)
}

// TimeAgo renders a coarse relative time: "Just now", "5 min ago",
// "3 hr ago", then the full date.
func TimeAgo(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}

	diff := now.Sub(t)
	switch {
	case diff < time.Minute:
		return "Just now"
	case diff < time.Hour:
		return fmt.Sprintf("%d min ago", int(diff/time.Minute))
	case diff < day:
		return fmt.Sprintf("%d hr ago", int(diff/time.Hour))
	}
	return t.In(now.Location()).Format("2 January 2006")
}

// RosterTimeLabel labels a roster row's last activity: the clock time for
// today, otherwise the day label.
func RosterTimeLabel(updatedAtMillis int64, now time.Time) string {
	if updatedAtMillis <= 0 {
		return ""
	}
	t := time.UnixMilli(updatedAtMillis).In(now.Location())
	if sameDay(t, now) {
		return MessageTime(t)
	}
	return GroupLabel(t, now)
}
