// Package server defines the message model shared by channel history,
// broadcast delivery and the command router.
package server

import "time"

// stampLayout renders message timestamps at minute resolution.
const stampLayout = "15:04"

// Kind distinguishes plain text from inline image payloads.
type Kind int

const (
	KindText Kind = iota
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	default:
		return "text"
	}
}

// Message is one entry of a channel's history. It is never modified once
// appended. Raw holds the /img line an image was posted with; it is relayed
// as is.
type Message struct {
	Stamp   string
	Sender  string
	Kind    Kind
	Content string
	Raw     string
}

// NewTextMessage stamps text from sender at t.
func NewTextMessage(t time.Time, sender, text string) Message {
	return Message{
		Stamp:   t.Format(stampLayout),
		Sender:  sender,
		Kind:    KindText,
		Content: text,
	}
}

// Render produces the wire line for the message. Images are echoed in the
// same /img form the sender used so clients can decode them on replay.
func (m Message) Render() string {
	if m.Kind == KindImage {
		if m.Raw != "" {
			return m.Raw
		}
		return "/img " + m.Sender + " " + m.Stamp + " " + m.Content
	}
	return "[" + m.Stamp + " : " + m.Sender + "] " + m.Content
}
