package server

import (
	"slices"
	"sync"

	"github.com/samber/lo"
)

// Channel is a named broadcast group with an append-only history. Membership
// and history share one mutex so that joining and replaying happen as a
// single step relative to concurrent posts.
type Channel struct {
	name string

	mu      sync.Mutex
	members []*Client
	history []Message
}

func newChannel(name string) *Channel {
	return &Channel{name: name}
}

// Name returns the channel's unique name.
func (ch *Channel) Name() string {
	return ch.name
}

// join adds c as a member and, inside the same critical section, queues the
// full history followed by confirm onto c. Any post that runs after join
// releases the lock is therefore queued behind the replay.
func (ch *Channel) join(c *Client, confirm string) ([]Message, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if !slices.Contains(ch.members, c) {
		ch.members = append(ch.members, c)
	}

	history := slices.Clone(ch.history)
	lines := lo.Map(history, func(m Message, _ int) string { return m.Render() })
	lines = append(lines, confirm)

	return history, c.enqueue(lines...)
}

// leave removes c from the member list and reports whether it was present.
func (ch *Channel) leave(c *Client) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	idx := slices.Index(ch.members, c)
	if idx < 0 {
		return false
	}
	ch.members = slices.Delete(ch.members, idx, idx+1)
	return true
}

// post appends msg to the history and queues it to every member but exclude.
// It returns the members whose queues rejected the message.
func (ch *Channel) post(msg Message, exclude *Client) []deliveryFailure {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	ch.history = append(ch.history, msg)
	return ch.deliverLocked(msg.Render(), exclude)
}

// notify queues a notice that is not recorded in history.
func (ch *Channel) notify(line string, exclude *Client) []deliveryFailure {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	return ch.deliverLocked(line, exclude)
}

// deliverLocked only pushes onto bounded queues; socket writes happen on each
// member's write pump, so holding the lock here never waits on a peer.
func (ch *Channel) deliverLocked(line string, exclude *Client) []deliveryFailure {
	var failed []deliveryFailure
	for _, member := range ch.members {
		if member == exclude {
			continue
		}
		if err := member.enqueue(line); err != nil {
			failed = append(failed, deliveryFailure{client: member, err: err})
		}
	}
	return failed
}

// Members returns a snapshot of the current members in join order.
func (ch *Channel) Members() []*Client {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	return slices.Clone(ch.members)
}

// History returns a copy of the full log in append order.
func (ch *Channel) History() []Message {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	return slices.Clone(ch.history)
}

type deliveryFailure struct {
	client *Client
	err    error
}
