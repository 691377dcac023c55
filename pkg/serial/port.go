package serial

import (
	"bufio"
	"io"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Port is a line-buffered connection to a serial device.
type Port struct {
	rw      io.ReadWriteCloser
	name    string
	timeout time.Duration

	lines chan string
	done  chan struct{}

	mu      sync.Mutex
	readErr error

	closeOnce sync.Once
	closeErr  error
}

// NewPort wraps an already opened stream. It starts the reader goroutine,
// which stops once rw returns an error or the Port is closed.
func NewPort(rw io.ReadWriteCloser, name string, timeout time.Duration) *Port {
	p := &Port{
		rw:      rw,
		name:    name,
		timeout: timeout,
		lines:   make(chan string, 64),
		done:    make(chan struct{}),
	}
	go p.readLoop()
	return p
}

// Name returns the device path this port was opened with.
func (p *Port) Name() string {
	return p.name
}

func (p *Port) readLoop() {
	defer close(p.lines)

	r := bufio.NewReader(p.rw)
	for {
		line, err := r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line != "" || err == nil {
			select {
			case p.lines <- line:
			case <-p.done:
				return
			}
		}
		if err != nil {
			p.mu.Lock()
			p.readErr = err
			p.mu.Unlock()
			return
		}
	}
}

func (p *Port) failure() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.done:
		return pkgerrors.Wrapf(ErrIO, "%s: port closed", p.name)
	default:
	}
	if p.readErr == nil || p.readErr == io.EOF {
		return pkgerrors.Wrapf(ErrIO, "%s: disconnected", p.name)
	}
	return pkgerrors.Wrapf(ErrIO, "%s: read: %v", p.name, p.readErr)
}

// WriteLine writes text followed by the line terminator.
func (p *Port) WriteLine(text string) error {
	select {
	case <-p.done:
		return pkgerrors.Wrapf(ErrIO, "%s: port closed", p.name)
	default:
	}

	logrus.WithFields(logrus.Fields{
		"port": p.name,
		"line": text,
	}).Trace("send")

	if _, err := io.WriteString(p.rw, text+"\n"); err != nil {
		return pkgerrors.Wrapf(ErrIO, "%s: write: %v", p.name, err)
	}
	return nil
}

// ReadLine blocks until one line is available, the connection fails, or the
// read timeout elapses. The terminator (and any trailing carriage return) is
// stripped.
func (p *Port) ReadLine() (string, error) {
	var timeout <-chan time.Time
	if p.timeout > 0 {
		t := time.NewTimer(p.timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case line, ok := <-p.lines:
		if !ok {
			return "", p.failure()
		}
		logrus.WithFields(logrus.Fields{
			"port": p.name,
			"line": line,
		}).Trace("recv")
		return line, nil
	case <-timeout:
		return "", pkgerrors.Wrapf(ErrTimeout, "%s: no line within %s", p.name, p.timeout)
	case <-p.done:
		return "", pkgerrors.Wrapf(ErrIO, "%s: port closed", p.name)
	}
}

// Drain collects every line that arrives within window and returns them.
// Controllers that reset when the port opens print a boot banner. Draining
// it keeps the banner out of the first command's response.
func (p *Port) Drain(window time.Duration) []string {
	if window <= 0 {
		return nil
	}

	deadline := time.NewTimer(window)
	defer deadline.Stop()

	var drained []string
	for {
		select {
		case line, ok := <-p.lines:
			if !ok {
				return drained
			}
			logrus.WithFields(logrus.Fields{
				"port": p.name,
				"line": line,
			}).Trace("drain")
			drained = append(drained, line)
		case <-deadline.C:
			return drained
		case <-p.done:
			return drained
		}
	}
}

// Close releases the underlying handle. It is safe to call more than once.
func (p *Port) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.closeErr = p.rw.Close()
		logrus.WithField("port", p.name).Debug("closed serial port")
	})
	return p.closeErr
}
