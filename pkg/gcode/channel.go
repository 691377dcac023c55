// Package gcode implements request/response framing for line-oriented G-code
// firmware: one command line goes out, informational lines come back, and an
// "ok" line terminates the response.
package gcode

import (
	"errors"
	"fmt"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/spucal/pkg/serial"
)

// ErrProtocolTimeout is returned when a command is never acknowledged.
var ErrProtocolTimeout = errors.New("no acknowledgment from controller")

// Conn is the line transport a Channel runs on. *serial.Port implements it.
type Conn interface {
	WriteLine(text string) error
	ReadLine() (string, error)
	Close() error
}

var _ Conn = &serial.Port{}

// Channel sends commands and collects their responses. It is not safe for
// concurrent use. Firmware executes one command at a time anyway.
type Channel struct {
	conn Conn
}

// NewChannel returns a Channel over conn.
func NewChannel(conn Conn) *Channel {
	return &Channel{conn: conn}
}

// IsAck reports whether line terminates a command response. The token is
// case-sensitive and is either alone or followed by whitespace.
func IsAck(line string) bool {
	if !strings.HasPrefix(line, "ok") {
		return false
	}
	rest := line[len("ok"):]
	return rest == "" || rest[0] == ' ' || rest[0] == '\t'
}

// Send writes cmd and returns every response line before the acknowledgment.
// Firmware that reports "busy" while executing a long move keeps the
// connection alive, since the read timeout applies per line.
func (c *Channel) Send(cmd string) ([]string, error) {
	log := logrus.WithField("command", cmd)

	if err := c.conn.WriteLine(cmd); err != nil {
		return nil, fmt.Errorf("failed to send %q: %w", cmd, err)
	}

	var body []string
	for {
		line, err := c.conn.ReadLine()
		if err != nil {
			if errors.Is(err, serial.ErrTimeout) {
				return body, pkgerrors.Wrapf(ErrProtocolTimeout, "%q: %v", cmd, err)
			}
			return body, fmt.Errorf("failed to read response to %q: %w", cmd, err)
		}
		if IsAck(line) {
			log.WithField("lines", len(body)).Trace("acknowledged")
			return body, nil
		}
		body = append(body, line)
	}
}

// Close closes the underlying connection.
func (c *Channel) Close() error {
	return c.conn.Close()
}
