// Package simulator emulates the subset of Marlin firmware that spucal talks
// to. It models the difference between configured and physical steps per
// unit, so a calibration run against it converges like one against a real
// machine.
package simulator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/charlie0129/spucal/pkg/types"
)

var errClosed = errors.New("connection closed")

// Simulator is the firmware side of a net.Pipe.
type Simulator struct {
	conn io.ReadWriteCloser

	mu         sync.Mutex
	configured types.StepsPerUnit
	stored     types.StepsPerUnit
	physical   types.StepsPerUnit
	logical    map[types.Axis]float64
	travel     map[types.Axis]float64
	relative   bool
	motorsOn   bool
	stalled    map[string]bool
	received   []string
	banner     bool
}

// Option customizes a Simulator.
type Option func(*Simulator)

// WithoutBanner skips the boot output a freshly reset board prints.
func WithoutBanner() Option {
	return func(s *Simulator) {
		s.banner = false
	}
}

// New returns a simulator whose EEPROM holds configured, on a machine whose
// real steps per unit are physical, plus the host end of the connection.
func New(configured, physical types.StepsPerUnit, opts ...Option) (*Simulator, net.Conn) {
	a, b := net.Pipe()
	s := &Simulator{
		conn:       a,
		configured: configured,
		stored:     configured,
		physical:   physical,
		logical:    map[types.Axis]float64{},
		travel:     map[types.Axis]float64{},
		stalled:    map[string]bool{},
		banner:     true,
	}
	for _, o := range opts {
		o(s)
	}
	return s, b
}

// Stall makes the simulator swallow directive without acknowledging it.
func (s *Simulator) Stall(directive string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stalled[directive] = true
}

// Travel returns how far axis physically moved since it was last homed,
// which is what a ruler zeroed at the home position would show.
func (s *Simulator) Travel(axis types.Axis) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.travel[axis]
}

// ZeroTravel resets the travel counter for axis, like sliding the ruler to
// zero at the current position.
func (s *Simulator) ZeroTravel(axis types.Axis) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.travel[axis] = 0
}

// Stored returns the values persisted with M500.
func (s *Simulator) Stored() types.StepsPerUnit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stored
}

// MotorsOn reports whether the steppers are energized.
func (s *Simulator) MotorsOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.motorsOn
}

// Received returns every command line seen so far.
func (s *Simulator) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

// Run prints the boot banner and serves commands until ctx is done or the
// host closes its end.
func (s *Simulator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return s.conn.Close()
	})
	g.Go(func() error {
		if err := s.serve(); err != nil {
			return err
		}
		return errClosed
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errClosed) {
		return err
	}
	return nil
}

func (s *Simulator) serve() error {
	if s.banner {
		for _, line := range []string{"start", "echo:Marlin 2.1.2 (spucal simulator)"} {
			if err := s.send(line); err != nil {
				return nil
			}
		}
	}

	scanner := bufio.NewScanner(s.conn)
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		logrus.WithField("line", input).Trace("host->sim")
		if err := s.handle(input); err != nil {
			return nil
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("reading host: %w", err)
	}
	return nil
}

func (s *Simulator) handle(input string) error {
	fields := strings.Fields(input)
	directive, words := fields[0], fields[1:]

	s.mu.Lock()
	s.received = append(s.received, input)
	stalled := s.stalled[directive]
	s.mu.Unlock()
	if stalled {
		return nil
	}

	body, err := s.execute(directive, words)
	if err != nil {
		body = append(body, fmt.Sprintf("echo:%v", err))
	}
	for _, line := range body {
		if err := s.send(line); err != nil {
			return err
		}
	}
	return s.send("ok")
}

func (s *Simulator) execute(directive string, words []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch directive {
	case "M115":
		return []string{
			"FIRMWARE_NAME:Marlin 2.1.2 (spucal simulator) PROTOCOL_VERSION:1.0 MACHINE_TYPE:Simulator EXTRUDER_COUNT:1",
			"Cap:EEPROM:1",
		}, nil
	case "M503":
		c := s.configured
		return []string{
			"echo:; Steps per unit:",
			fmt.Sprintf("echo:  M92 X%.4f Y%.4f Z%.4f E%.4f", c.X, c.Y, c.Z, c.E),
			"echo:; Maximum feedrates (units/s):",
			"echo:  M203 X500.00 Y500.00 Z5.00 E25.00",
		}, nil
	case "M92":
		values, err := parseWords(words)
		if err != nil {
			return nil, err
		}
		for axis, v := range values {
			if v <= 0 {
				return nil, fmt.Errorf("invalid steps per unit %v", v)
			}
			s.configured = s.configured.With(axis, v)
		}
		return nil, nil
	case "M500":
		s.stored = s.configured
		return []string{"echo:Settings Stored (652 bytes; crc 51715)"}, nil
	case "G90":
		s.relative = false
		return nil, nil
	case "G91":
		s.relative = true
		return nil, nil
	case "G28":
		axes := []types.Axis{types.AxisX, types.AxisY, types.AxisZ}
		if len(words) > 0 {
			axes = axes[:0]
			for _, w := range words {
				a := types.Axis(strings.ToUpper(w[:1]))
				if !a.Homeable() {
					return nil, fmt.Errorf("cannot home %q", w)
				}
				axes = append(axes, a)
			}
		}
		for _, a := range axes {
			s.logical[a] = 0
			s.travel[a] = 0
		}
		s.motorsOn = true
		return nil, nil
	case "G0", "G1":
		values, err := parseWords(words)
		if err != nil {
			return nil, err
		}
		for axis, target := range values {
			delta := target
			if !s.relative {
				delta = target - s.logical[axis]
			}
			s.logical[axis] += delta
			// Commanded steps are computed with the configured value but
			// the mechanics respond to the physical one.
			s.travel[axis] += delta * s.configured.Get(axis) / s.physical.Get(axis)
		}
		s.motorsOn = true
		return nil, nil
	case "M18", "M84":
		s.motorsOn = false
		return nil, nil
	}
	return []string{fmt.Sprintf("echo:Unknown command: %q", directive)}, nil
}

// parseWords parses axis words like X50 or E-2.5. Feedrate words are ignored.
func parseWords(words []string) (map[types.Axis]float64, error) {
	values := map[types.Axis]float64{}
	for _, w := range words {
		if w == "" || w[0] == 'F' {
			continue
		}
		axis := types.Axis(w[:1])
		if !axis.Valid() {
			return nil, fmt.Errorf("unknown parameter %q", w)
		}
		v, err := strconv.ParseFloat(w[1:], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid parameter %q: %w", w, err)
		}
		values[axis] = v
	}
	return values, nil
}

func (s *Simulator) send(line string) error {
	logrus.WithField("line", line).Trace("sim->host")
	_, err := fmt.Fprintf(s.conn, "%s\n", line)
	return err
}
