package service

import (
	"testing"
	"time"

	"Parley/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(year int, month time.Month, d, h, m int) time.Time {
	return time.Date(year, month, d, h, m, 0, 0, time.UTC)
}

func TestGroupLabel(t *testing.T) {
	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"zero", time.Time{}, ""},
		{"earlier today", at(2024, 6, 10, 0, 1), "Today"},
		{"yesterday late", at(2024, 6, 9, 23, 59), "Yesterday"},
		{"this week", at(2024, 6, 6, 10, 0), "Thursday"},
		{"six days and change", at(2024, 6, 3, 16, 0), "Monday"},
		{"a full week", at(2024, 6, 3, 15, 0), "Jun 3"},
		{"older", at(2024, 1, 2, 9, 0), "Jan 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GroupLabel(tt.t, testNow))
		})
	}
}

func TestMessageTime(t *testing.T) {
	assert.Equal(t, "03:04 PM", MessageTime(testNow))
	assert.Equal(t, "09:00 AM", MessageTime(at(2024, 6, 10, 9, 0)))
	assert.Equal(t, "", MessageTime(time.Time{}))
}

func TestOnlineStatus(t *testing.T) {
	seenToday := at(2024, 6, 10, 9, 30)
	seenBefore := at(2024, 6, 8, 21, 5)

	tests := []struct {
		name string
		user *model.User
		want string
	}{
		{"unknown", nil, ""},
		{"online", &model.User{Online: true, LastSeen: &seenBefore}, "online"},
		{"never seen", &model.User{}, ""},
		{"seen today", &model.User{LastSeen: &seenToday}, "last seen at today at 09:30"},
		{"seen earlier", &model.User{LastSeen: &seenBefore}, "last seen at 6/8/2024 at 21:05"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OnlineStatus(tt.user, testNow))
		})
	}
}

func TestTimeAgo(t *testing.T) {
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{30 * time.Second, "Just now"},
		{5 * time.Minute, "5 min ago"},
		{59 * time.Minute, "59 min ago"},
		{3 * time.Hour, "3 hr ago"},
		{2 * 24 * time.Hour, "8 June 2024"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, TimeAgo(testNow.Add(-tt.ago), testNow))
		})
	}
	assert.Equal(t, "", TimeAgo(time.Time{}, testNow))
}

func TestRosterTimeLabel(t *testing.T) {
	assert.Equal(t, "", RosterTimeLabel(0, testNow))
	assert.Equal(t, "09:00 AM", RosterTimeLabel(at(2024, 6, 10, 9, 0).UnixMilli(), testNow))
	assert.Equal(t, "Yesterday", RosterTimeLabel(at(2024, 6, 9, 9, 0).UnixMilli(), testNow))
	assert.Equal(t, "Jan 2", RosterTimeLabel(at(2024, 1, 2, 9, 0).UnixMilli(), testNow))
}

func TestGroupMessagesKeepsRunsApart(t *testing.T) {
	msgs := []model.Message{
		{SenderID: "v", Text: "a", CreatedAt: testNow.Add(-2 * time.Minute)},
		{SenderID: "p", Text: "b", CreatedAt: at(2024, 6, 9, 12, 0)},
		{SenderID: "p", Text: "c", CreatedAt: at(2024, 6, 9, 13, 0)},
		{SenderID: "v", Text: "d", CreatedAt: testNow.Add(-time.Minute)},
	}

	groups := GroupMessages(msgs, "v", testNow)
	require.Len(t, groups, 3)

	assert.Equal(t, "Today", groups[0].Label)
	assert.Equal(t, "Yesterday", groups[1].Label)
	assert.Equal(t, "Today", groups[2].Label)

	require.Len(t, groups[1].Messages, 2)
	assert.Equal(t, 1, groups[1].Messages[0].Index)
	assert.Equal(t, 2, groups[1].Messages[1].Index)
	assert.Equal(t, "12:00 PM", groups[1].Messages[0].Time)
	assert.Equal(t, "2 min ago", groups[0].Messages[0].Age)
	assert.Equal(t, "9 June 2024", groups[1].Messages[0].Age)
	assert.Equal(t, "1 min ago", groups[2].Messages[0].Age)

	assert.True(t, groups[2].Messages[0].CanEdit)
	assert.False(t, groups[1].Messages[0].CanEdit)

	assert.Empty(t, GroupMessages(nil, "v", testNow))
}
