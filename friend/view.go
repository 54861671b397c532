package friend

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// NewView maps a record to the view shown to the user `me`.
func NewView(rec Record, me uuid.UUID, now time.Time, questName QuestNamer) View {
	v := View{
		UserID:     rec.OtherID,
		Name:       rec.DisplayedName,
		Username:   "@" + rec.Username,
		LastActive: LastActive(rec.LastOnline, rec.IsOnline, now),
		Initials:   Initials(rec.DisplayedName, rec.Username),
		Level:      rec.Level,
		AvatarURL:  rec.AvatarURL,
	}
	if rec.QuestID > 0 && questName != nil {
		v.OnQuest = questName(rec.QuestID)
	}
	if rec.Status == StatusPending {
		if rec.UserID2 == me {
			v.Direction = DirectionIncoming
		} else {
			v.Direction = DirectionOutgoing
		}
	}
	return v
}

// Initials takes the first letters of the first two space-separated words
// of the displayed name. A one-word name gives its first character, an
// empty name falls back to the username, and "?" is the last resort.
func Initials(displayedName, username string) string {
	words := strings.FieldsFunc(displayedName, func(r rune) bool { return r == ' ' })
	if len(words) >= 2 {
		return strings.ToUpper(firstRune(words[0]) + firstRune(words[1]))
	}
	if len(words) == 1 {
		return strings.ToUpper(firstRune(words[0]))
	}
	if username != "" {
		return strings.ToUpper(firstRune(username))
	}
	return "?"
}

func firstRune(s string) string {
	r, _ := utf8.DecodeRuneInString(s)
	return string(r)
}

// LastActive renders "Just now" for online users and a relative phrase
// such as "3 hours ago" otherwise. A zero timestamp renders "Unknown".
func LastActive(lastOnline time.Time, isOnline bool, now time.Time) string {
	if isOnline {
		return "Just now"
	}
	if lastOnline.IsZero() {
		return "Unknown"
	}
	return relative(now.Sub(lastOnline))
}

var relativeUnits = []struct {
	name string
	size time.Duration
}{
	{"year", 365 * 24 * time.Hour},
	{"month", 30 * 24 * time.Hour},
	{"week", 7 * 24 * time.Hour},
	{"day", 24 * time.Hour},
	{"hour", time.Hour},
	{"minute", time.Minute},
	{"second", time.Second},
}

func relative(d time.Duration) string {
	future := d < 0
	if future {
		d = -d
	}
	n, unit := int64(d/time.Second), "second"
	for _, u := range relativeUnits {
		if d >= u.size {
			n, unit = int64(d/u.size), u.name
			break
		}
	}
	if n != 1 {
		unit += "s"
	}
	if future {
		return fmt.Sprintf("in %d %s", n, unit)
	}
	return fmt.Sprintf("%d %s ago", n, unit)
}
