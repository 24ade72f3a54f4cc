package gmail

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html"
	"mime"
	"strings"
)

// outgoing is a message ready to be encoded for Users.Messages.Send.
type outgoing struct {
	To         string
	Subject    string
	Body       string // plain text, rendered as simple HTML
	InReplyTo  string
	References string
}

// buildRaw renders an RFC 822 message and encodes it the way the Gmail API expects.
func buildRaw(m outgoing) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.BEncoding.Encode("utf-8", m.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	if m.InReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", m.InReplyTo)
		refs := strings.TrimSpace(m.References + " " + m.InReplyTo)
		fmt.Fprintf(&b, "References: %s\r\n", refs)
	}
	b.WriteString("\r\n")
	b.WriteString(textToHTML(m.Body))
	b.WriteString("\r\n")
	return base64.URLEncoding.EncodeToString(b.Bytes())
}

// textToHTML escapes text and keeps its line breaks.
func textToHTML(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(html.EscapeString(s), "\n", "<br>\r\n")
}
