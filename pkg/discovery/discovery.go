// Package discovery finds the serial device a controller is attached to.
package discovery

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial/enumerator"
)

// ErrNoDeviceFound is returned when no port matches the policy.
var ErrNoDeviceFound = errors.New("no serial device found")

// DefaultPatterns match USB CDC-ACM and USB-serial adapters on Linux,
// macOS and Windows.
var DefaultPatterns = []string{
	`^/dev/tty[AU].+`,
	`^/dev/cu\.usb.+`,
	`^COM[0-9]+$`,
}

// Candidate is a port that may have a controller attached.
type Candidate struct {
	Path        string
	Description string
}

func (c Candidate) String() string {
	if c.Description == "" {
		return c.Path
	}
	return fmt.Sprintf("%s (%s)", c.Path, c.Description)
}

// Lister enumerates the serial ports present on the system.
type Lister func() ([]Candidate, error)

// Chooser picks one of several candidates. It returns an index into
// candidates. An out of range index makes Find ask again.
type Chooser interface {
	Choose(candidates []Candidate) (int, error)
}

// ChooserFunc adapts a function to a Chooser.
type ChooserFunc func(candidates []Candidate) (int, error)

func (f ChooserFunc) Choose(candidates []Candidate) (int, error) { return f(candidates) }

// Policy decides which ports are plausible controllers.
type Policy struct {
	patterns []*regexp.Regexp
}

// NewPolicy compiles patterns. An empty list means DefaultPatterns.
func NewPolicy(patterns []string) (*Policy, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	p := &Policy{}
	for _, s := range patterns {
		re, err := regexp.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("invalid device pattern %q: %w", s, err)
		}
		p.patterns = append(p.patterns, re)
	}
	return p, nil
}

// Match reports whether path is a plausible controller port.
func (p *Policy) Match(path string) bool {
	for _, re := range p.patterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// ListPorts enumerates ports with their USB product names when available.
func ListPorts() ([]Candidate, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	var out []Candidate
	for _, p := range ports {
		c := Candidate{Path: p.Name}
		if p.IsUSB {
			c.Description = p.Product
			if c.Description == "" {
				c.Description = fmt.Sprintf("USB %s:%s", p.VID, p.PID)
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// Candidates returns the listed ports matching the policy, sorted by path.
func (p *Policy) Candidates(list Lister) ([]Candidate, error) {
	all, err := list()
	if err != nil {
		return nil, err
	}

	var matched []Candidate
	for _, c := range all {
		if p.Match(c.Path) {
			matched = append(matched, c)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Path < matched[j].Path })

	logrus.WithFields(logrus.Fields{
		"listed":  len(all),
		"matched": len(matched),
	}).Debug("enumerated serial ports")
	return matched, nil
}

// Find returns the single port to use. One candidate is taken as is. With
// several, chooser is asked until it returns a valid index.
func (p *Policy) Find(list Lister, chooser Chooser) (string, error) {
	candidates, err := p.Candidates(list)
	if err != nil {
		return "", err
	}

	switch len(candidates) {
	case 0:
		return "", ErrNoDeviceFound
	case 1:
		return candidates[0].Path, nil
	}

	for {
		idx, err := chooser.Choose(candidates)
		if err != nil {
			return "", fmt.Errorf("failed to choose a device: %w", err)
		}
		if idx >= 0 && idx < len(candidates) {
			return candidates[idx].Path, nil
		}
		logrus.WithField("index", idx).Warn("invalid selection")
	}
}
