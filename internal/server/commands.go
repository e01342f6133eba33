package server

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

const (
	welcomeMessage        = "Welcome! Use /nick <name> to set your nickname."
	nickChangedFmt        = "Nickname changed from %s to %s"
	channelCreatedFmt     = "Channel '%s' created."
	channelExistsMessage  = "Channel already exists."
	channelMissingMessage = "Channel does not exist. Create it with /create <channel>"
	channelListPrefix     = "Available channels: "
	noChannelsMessage     = "No channels available."
	dmFmt                 = "DM from %s: %s"
	userNotFoundMessage   = "User not found."
	statusUpdatedMessage  = "Status updated."
	joinFirstMessage      = "Join a channel first using /join <channel>"
	goodbyeMessage        = "Goodbye!"
	unknownCommandMessage = "Unknown command."

	createUsage = "Usage: /create <channel>"
	joinUsage   = "Usage: /join <channel>"
	dmUsage     = "Usage: /dm <nickname> <message>"
	imgUsage    = "Usage: /img <nickname> <HH:MM> <base64>"
)

// commandFunc handles one command for c. It returns false when the session
// should end.
type commandFunc func(c *Client, args string) bool

// Router turns inbound lines into hub operations and replies.
type Router struct {
	hub      *Hub
	commands map[string]commandFunc
}

func newRouter(hub *Hub) *Router {
	r := &Router{hub: hub}
	r.commands = map[string]commandFunc{
		"/nick":   r.handleNick,
		"/create": r.handleCreate,
		"/join":   r.handleJoin,
		"/list":   r.handleList,
		"/dm":     r.handleDM,
		"/status": r.handleStatus,
		"/img":    r.handleImage,
		"/quit":   r.handleQuit,
	}
	return r
}

// ParseCommand splits a slash-prefixed line into its command token and the
// remainder. ok is false for plain text.
func ParseCommand(line string) (command, args string, ok bool) {
	if !strings.HasPrefix(line, "/") {
		return "", "", false
	}
	command, args, _ = strings.Cut(strings.TrimSpace(line), " ")
	return command, args, true
}

// Dispatch processes one inbound line for c and reports whether the session
// continues.
func (r *Router) Dispatch(c *Client, line string) bool {
	if strings.TrimSpace(line) == "" {
		return true
	}

	command, args, ok := ParseCommand(line)
	if !ok {
		r.hub.metrics.commands.WithLabelValues("text").Inc()
		r.handleText(c, line)
		return true
	}

	handler, known := r.commands[command]
	if !known {
		r.hub.metrics.commands.WithLabelValues("unknown").Inc()
		c.reply(unknownCommandMessage)
		return true
	}

	r.hub.metrics.commands.WithLabelValues(strings.TrimPrefix(command, "/")).Inc()
	c.logger.Debug("command", zap.String("command", command))
	return handler(c, args)
}

func (r *Router) handleNick(c *Client, args string) bool {
	nick := strings.TrimSpace(args)
	old := c.SetNickname(nick)
	c.reply(fmt.Sprintf(nickChangedFmt, old, nick))
	return true
}

func (r *Router) handleCreate(c *Client, args string) bool {
	name := strings.TrimSpace(args)
	if name == "" {
		c.reply(createUsage)
		return true
	}

	if err := r.hub.Create(name); err != nil {
		if errors.Is(err, ErrChannelExists) {
			c.reply(channelExistsMessage)
			return true
		}
		c.logger.Error("create channel failed", zap.String("channel", name), zap.Error(err))
		return true
	}
	c.logger.Info("channel created", zap.String("channel", name))
	c.reply(fmt.Sprintf(channelCreatedFmt, name))
	return true
}

func (r *Router) handleJoin(c *Client, args string) bool {
	name := strings.TrimSpace(args)
	if name == "" {
		c.reply(joinUsage)
		return true
	}

	if _, err := r.hub.Join(c, name); err != nil {
		if errors.Is(err, ErrChannelNotFound) {
			c.reply(channelMissingMessage)
			return true
		}
		c.logger.Error("join channel failed", zap.String("channel", name), zap.Error(err))
	}
	return true
}

func (r *Router) handleList(c *Client, _ string) bool {
	names := r.hub.Channels()
	if len(names) == 0 {
		c.reply(channelListPrefix + noChannelsMessage)
		return true
	}
	c.reply(channelListPrefix + strings.Join(names, ", "))
	return true
}

func (r *Router) handleDM(c *Client, args string) bool {
	target, text, found := strings.Cut(args, " ")
	if !found || target == "" {
		c.reply(dmUsage)
		return true
	}

	recipient, err := r.hub.FindByNickname(target)
	if err != nil {
		c.reply(userNotFoundMessage)
		return true
	}

	if err := r.hub.Deliver(recipient, fmt.Sprintf(dmFmt, c.Nickname(), text)); err != nil {
		c.logger.Debug("direct message not delivered",
			zap.String("target", target),
			zap.Error(err),
		)
	}
	return true
}

func (r *Router) handleStatus(c *Client, _ string) bool {
	c.reply(statusUpdatedMessage)
	return true
}

func (r *Router) handleImage(c *Client, args string) bool {
	channel, err := currentChannel(c)
	if err != nil {
		c.reply(joinFirstMessage)
		return true
	}

	sender, rest := nextField(args)
	stamp, rest := nextField(rest)
	payload := strings.TrimSpace(rest)
	if sender == "" || stamp == "" || payload == "" {
		c.reply(imgUsage)
		return true
	}

	msg := Message{
		Sender:  sender,
		Stamp:   stamp,
		Kind:    KindImage,
		Content: payload,
		Raw:     "/img " + args,
	}
	r.post(c, channel, msg)
	return true
}

func (r *Router) handleQuit(c *Client, _ string) bool {
	c.reply(goodbyeMessage)
	return false
}

func (r *Router) handleText(c *Client, line string) {
	channel, err := currentChannel(c)
	if err != nil {
		c.reply(joinFirstMessage)
		return
	}
	r.post(c, channel, NewTextMessage(r.hub.now(), c.Nickname(), line))
}

func (r *Router) post(c *Client, channel string, msg Message) {
	if err := r.hub.Post(channel, msg, c); err != nil {
		c.logger.Error("post failed", zap.String("channel", channel), zap.Error(err))
	}
}

func currentChannel(c *Client) (string, error) {
	if name := c.Channel(); name != "" {
		return name, nil
	}
	return "", ErrNotInChannel
}

// nextField splits off the first whitespace-delimited field of s.
func nextField(s string) (field, rest string) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	if i := strings.IndexFunc(s, unicode.IsSpace); i >= 0 {
		return s[:i], s[i:]
	}
	return s, ""
}
