package gcode

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/spucal/pkg/serial"
)

// scriptedConn replays a fixed sequence of lines and then fails with err.
type scriptedConn struct {
	lines   []string
	err     error
	written []string
	closed  bool
}

func (c *scriptedConn) WriteLine(text string) error {
	c.written = append(c.written, text)
	return nil
}

func (c *scriptedConn) ReadLine() (string, error) {
	if len(c.lines) == 0 {
		if c.err != nil {
			return "", c.err
		}
		return "", pkgerrors.Wrap(serial.ErrIO, "script exhausted")
	}
	line := c.lines[0]
	c.lines = c.lines[1:]
	return line, nil
}

func (c *scriptedConn) Close() error {
	c.closed = true
	return nil
}

func TestSendFraming(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  []string
	}{
		{
			name:  "no informational lines",
			lines: []string{"ok"},
			want:  nil,
		},
		{
			name:  "one line",
			lines: []string{"FIRMWARE_NAME:Marlin", "ok"},
			want:  []string{"FIRMWARE_NAME:Marlin"},
		},
		{
			name: "many lines",
			lines: []string{
				"echo:; Steps per unit:",
				"echo:  M92 X80.00 Y80.00 Z400.00 E93.00",
				"echo:; Maximum feedrates (units/s):",
				"",
				"echo:  M203 X500.00 Y500.00 Z5.00 E25.00",
				"ok",
			},
			want: []string{
				"echo:; Steps per unit:",
				"echo:  M92 X80.00 Y80.00 Z400.00 E93.00",
				"echo:; Maximum feedrates (units/s):",
				"",
				"echo:  M203 X500.00 Y500.00 Z5.00 E25.00",
			},
		},
		{
			name:  "ack with trailing text",
			lines: []string{"busy: processing", "ok T:21.3 /0.0 B:20.9 /0.0"},
			want:  []string{"busy: processing"},
		},
		{
			name:  "lines after ack belong to the next command",
			lines: []string{"a", "ok", "b", "ok"},
			want:  []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &scriptedConn{lines: tt.lines}
			got, err := NewChannel(conn).Send("M503")
			if err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Send() mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]string{"M503"}, conn.written); diff != "" {
				t.Errorf("written mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIsAck(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"ok", true},
		{"ok ", true},
		{"ok N12 P15 B3", true},
		{"ok\tT:20", true},
		{"OK", false},
		{"okay", false},
		{"echo:ok", false},
		{" ok", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsAck(tt.line); got != tt.want {
			t.Errorf("IsAck(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestSendTimeout(t *testing.T) {
	conn := &scriptedConn{
		lines: []string{"echo:busy"},
		err:   pkgerrors.Wrap(serial.ErrTimeout, "no line"),
	}
	_, err := NewChannel(conn).Send("G28 X")
	if !errors.Is(err, ErrProtocolTimeout) {
		t.Fatalf("Send() error = %v, want ErrProtocolTimeout", err)
	}
}

func TestSendDisconnect(t *testing.T) {
	_, err := NewChannel(&scriptedConn{}).Send("M115")
	if !errors.Is(err, serial.ErrIO) {
		t.Fatalf("Send() error = %v, want ErrIO", err)
	}
	if errors.Is(err, ErrProtocolTimeout) {
		t.Errorf("disconnect reported as protocol timeout")
	}
}

func TestCommand(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{Command("M503"), "M503"},
		{Command("G28", "X"), "G28 X"},
		{Command("G1", Word("X", 50)), "G1 X50"},
		{Command("G1", Word("Z", -2.5), Word("F", 300)), "G1 Z-2.5 F300"},
		{Command("M92", Word("X", 80.0*50/49)), "M92 X81.63265306122449"},
		{Command("M92", Word("E", 1e-7)), "M92 E0.0000001"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
