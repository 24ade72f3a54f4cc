package gmail

import (
	"fmt"
	"strings"
	"time"

	"sentinal/internal/model"
	"sentinal/internal/util"
)

// ReplyPolicy decides what counts as a reply inside a thread.
type ReplyPolicy string

const (
	// ReplyBySender: the newest message not sent by the account or the thread's original sender.
	ReplyBySender ReplyPolicy = "sender"
	// ReplyByCount: any thread with more than one message, using its newest message.
	ReplyByCount ReplyPolicy = "count"
)

func ParseReplyPolicy(s string) (ReplyPolicy, error) {
	switch p := ReplyPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", ReplyBySender:
		return ReplyBySender, nil
	case ReplyByCount:
		return ReplyByCount, nil
	default:
		return "", fmt.Errorf("unknown reply detection policy %q", s)
	}
}

// threadMessage is the part of a thread message reply detection looks at.
type threadMessage struct {
	ID        string
	From      string
	Snippet   string
	MessageID string // RFC 822 Message-ID header
	At        time.Time
}

// findReply applies policy to a thread's messages in chronological order.
func findReply(msgs []threadMessage, account string, policy ReplyPolicy) model.ThreadReply {
	if len(msgs) < 2 {
		return model.ThreadReply{}
	}
	if policy == ReplyByCount {
		return asReply(msgs[len(msgs)-1])
	}
	origin := msgs[0].From
	for i := len(msgs) - 1; i > 0; i-- {
		m := msgs[i]
		if util.IsSelfAddress(m.From, account) || util.SameAddress(m.From, origin) {
			continue
		}
		return asReply(m)
	}
	return model.ThreadReply{}
}

func asReply(m threadMessage) model.ThreadReply {
	return model.ThreadReply{Found: true, Snippet: m.Snippet, From: m.From, At: m.At}
}
