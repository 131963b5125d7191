package sink

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"unicode/utf8"

	"github.com/hypebeast/go-osc/osc"
	"github.com/sirupsen/logrus"
)

const (
	// ChatboxAddress is the OSC path of the VRChat chatbox input.
	ChatboxAddress = "/chatbox/input"
	// MaxMessageLength is the longest text the chatbox accepts, in characters.
	MaxMessageLength = 144
)

// OSCNotifier sends chatbox messages as OSC over UDP.
type OSCNotifier struct {
	client *osc.Client
	target string
	logger *logrus.Logger
}

// NewOSCNotifier validates the target and prepares a client for it.
func NewOSCNotifier(host string, port int, logger *logrus.Logger) (*OSCNotifier, error) {
	if logger == nil {
		logger = logrus.New()
	}
	target := net.JoinHostPort(host, strconv.Itoa(port))
	if _, err := net.ResolveUDPAddr("udp", target); err != nil {
		return nil, fmt.Errorf("invalid OSC target %s: %w", target, err)
	}

	logger.WithField("target", target).Info("OSC client initialized")
	return &OSCNotifier{
		client: osc.NewClient(host, port),
		target: target,
		logger: logger,
	}, nil
}

// ChatboxMessage builds the chatbox message: text, send immediately, no notification sound.
func ChatboxMessage(text string) (*osc.Message, error) {
	if n := utf8.RuneCountInString(text); n > MaxMessageLength {
		return nil, fmt.Errorf("%w: %d characters, limit is %d", ErrMessageTooLong, n, MaxMessageLength)
	}
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: text is not valid UTF-8", ErrEncode)
	}

	msg := osc.NewMessage(ChatboxAddress)
	msg.Append(text)
	msg.Append(true)
	msg.Append(false)
	if _, err := msg.MarshalBinary(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return msg, nil
}

func (n *OSCNotifier) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := ChatboxMessage(text)
	if err != nil {
		return err
	}
	if err := n.client.Send(msg); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSend, n.target, err)
	}
	n.logger.WithField("text", text).Debug("Sent chatbox message")
	return nil
}

// Close is a no-op; the OSC client opens a socket per message.
func (n *OSCNotifier) Close() error {
	return nil
}
