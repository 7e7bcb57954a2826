package convo

import (
	"hash/fnv"
	"strings"
	"time"

	"github.com/francois95140/MonVoisin3000-sub000/internal/wire"
)

// noMessagePlaceholder is shown for conversations without any message.
const noMessagePlaceholder = "Aucun message"

// gradients is the palette for initials avatars. Selection hashes the
// conversation id so an entry keeps its colors across reloads.
var gradients = []string{
	"linear-gradient(135deg, #667eea, #764ba2)",
	"linear-gradient(135deg, #f093fb, #f5576c)",
	"linear-gradient(135deg, #4facfe, #00f2fe)",
	"linear-gradient(135deg, #43e97b, #38f9d7)",
	"linear-gradient(135deg, #fa709a, #fee140)",
	"linear-gradient(135deg, #30cfd0, #330867)",
}

// project turns a raw conversation plus its resolved participants into
// the list entry shape. users maps participant id to profile; selfID is
// excluded when deriving the private-conversation peer.
func project(raw wire.Conversation, users map[string]wire.User, selfID string, now time.Time) Conversation {
	c := Conversation{
		ID:             raw.ID,
		Kind:           raw.Kind,
		ParticipantIDs: raw.ParticipantIDs,
	}

	var peer wire.User
	if raw.Kind == wire.KindPrivate {
		for _, id := range raw.ParticipantIDs {
			if id != selfID {
				c.PeerID = id
				peer = users[id]
				break
			}
		}
	}

	c.DisplayName = displayName(raw, peer)
	c.Avatar = avatar(raw, peer, c.DisplayName)
	c.sortName = sortName(raw, peer)

	if raw.LastMessage != nil {
		c.LastMessagePreview = raw.LastMessage.Content
		c.LastMessageTime = raw.LastMessage.CreatedAt
		c.TimeLabel = timeLabel(raw.LastMessage.CreatedAt, now)
	} else {
		c.LastMessagePreview = noMessagePlaceholder
	}
	return c
}

func displayName(raw wire.Conversation, peer wire.User) string {
	if raw.Kind == wire.KindGroup {
		if raw.Name != "" {
			return raw.Name
		}
		return "Groupe"
	}
	name := strings.TrimSpace(peer.FirstName + " " + peer.LastName)
	if name == "" {
		name = "Voisin"
	}
	return name
}

// sortName orders name ties last-name-first so private conversations
// fall back to the friend list's ordering.
func sortName(raw wire.Conversation, peer wire.User) string {
	if raw.Kind == wire.KindGroup {
		return strings.ToLower(raw.Name)
	}
	return strings.ToLower(strings.TrimSpace(peer.LastName + " " + peer.FirstName))
}

// avatar picks the richest available descriptor: explicit image, then a
// group/event icon, then generated initials on a hashed gradient.
func avatar(raw wire.Conversation, peer wire.User, name string) Avatar {
	if raw.Kind == wire.KindPrivate && peer.AvatarURL != "" {
		return Avatar{Kind: AvatarImage, URL: peer.AvatarURL}
	}
	if raw.Kind == wire.KindGroup {
		if raw.ImageURL != "" {
			return Avatar{Kind: AvatarImage, URL: raw.ImageURL}
		}
		icon := "group"
		if raw.EventID != "" {
			icon = "event"
		}
		return Avatar{Kind: AvatarIcon, Icon: icon}
	}
	return Avatar{
		Kind:     AvatarInitials,
		Initials: initials(name),
		Gradient: gradientFor(raw.ID),
	}
}

func initials(name string) string {
	parts := strings.Fields(name)
	out := ""
	for i, p := range parts {
		if i == 2 {
			break
		}
		r := []rune(p)
		out += strings.ToUpper(string(r[0]))
	}
	if out == "" {
		out = "?"
	}
	return out
}

func gradientFor(id string) string {
	h := fnv.New32a()
	h.Write([]byte(id))
	return gradients[h.Sum32()%uint32(len(gradients))]
}

// timeLabel renders a message timestamp relative to now: under an hour
// "Now", same day the clock time, under a week the weekday, older the
// day and month.
func timeLabel(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	age := now.Sub(t)
	switch {
	case age < time.Hour:
		return "Now"
	case age < 24*time.Hour:
		return t.Local().Format("15:04")
	case age < 7*24*time.Hour:
		return t.Local().Format("Monday")
	default:
		return t.Local().Format("2 Jan")
	}
}
