package config

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/spucal/pkg/calibration"
	"github.com/charlie0129/spucal/pkg/discovery"
	"github.com/charlie0129/spucal/pkg/serial"
	"github.com/charlie0129/spucal/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		// Empty means the port is discovered.
		Port:               ptr.To(""),
		Baud:               ptr.To(serial.DefaultBaud),
		Driver:             ptr.To(serial.DriverBugst),
		ReadTimeoutMillis:  ptr.To(int(serial.DefaultReadTimeout / time.Millisecond)),
		SettleMillis:       ptr.To(2000),
		Repeats:            ptr.To(calibration.DefaultRepeats),
		Distance:           ptr.To(calibration.DefaultDistance),
		// 0 leaves the feedrate to the firmware.
		Feedrate:       ptr.To(0.0),
		DevicePatterns: discovery.DefaultPatterns,
		MaxChangeRatio: ptr.To(calibration.DefaultMaxChangeRatio),
	}
)

var _ Config = &File{}

// DefaultPath returns $HOME/.config/spucal.json.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		logrus.WithError(err).Debug("failed to get home directory, using working directory for config")
		return "spucal.json"
	}
	return filepath.Join(home, ".config", "spucal.json")
}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	return &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}
}

type RawFileConfig struct {
	Port               *string  `json:"port,omitempty"`
	Baud               *int     `json:"baud,omitempty"`
	Driver             *string  `json:"driver,omitempty"`
	ReadTimeoutMillis  *int     `json:"readTimeoutMillis,omitempty"`
	SettleMillis       *int     `json:"settleMillis,omitempty"`
	Repeats            *int     `json:"repeats,omitempty"`
	Distance           *float64 `json:"distance,omitempty"`
	Feedrate           *float64 `json:"feedrate,omitempty"`
	DevicePatterns     []string `json:"devicePatterns,omitempty"`
	MaxChangeRatio     *float64 `json:"maxChangeRatio,omitempty"`
}

// NewRawFileConfigFromConfig snapshots every effective value of c, so the
// result has no unset fields.
func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	return &RawFileConfig{
		Port:               ptr.To(c.Port()),
		Baud:               ptr.To(c.Baud()),
		Driver:             ptr.To(c.Driver()),
		ReadTimeoutMillis:  ptr.To(int(c.ReadTimeout() / time.Millisecond)),
		SettleMillis:       ptr.To(int(c.Settle() / time.Millisecond)),
		Repeats:            ptr.To(c.Repeats()),
		Distance:           ptr.To(c.Distance()),
		Feedrate:           ptr.To(c.Feedrate()),
		DevicePatterns:     c.DevicePatterns(),
		MaxChangeRatio:     ptr.To(c.MaxChangeRatio()),
	}, nil
}

// valueOr returns *v, or *def when v is unset.
func valueOr[T any](v, def *T) T {
	if v != nil {
		return *v
	}
	return *def
}

func (f *File) raw() *RawFileConfig {
	if f.c == nil {
		panic("config is nil")
	}
	return f.c
}

func (f *File) Port() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return valueOr(f.raw().Port, defaultFileConfig.Port)
}

func (f *File) Baud() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return valueOr(f.raw().Baud, defaultFileConfig.Baud)
}

func (f *File) Driver() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return valueOr(f.raw().Driver, defaultFileConfig.Driver)
}

func (f *File) ReadTimeout() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return time.Duration(valueOr(f.raw().ReadTimeoutMillis, defaultFileConfig.ReadTimeoutMillis)) * time.Millisecond
}

func (f *File) Settle() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return time.Duration(valueOr(f.raw().SettleMillis, defaultFileConfig.SettleMillis)) * time.Millisecond
}

func (f *File) Repeats() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return valueOr(f.raw().Repeats, defaultFileConfig.Repeats)
}

func (f *File) Distance() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return valueOr(f.raw().Distance, defaultFileConfig.Distance)
}

func (f *File) Feedrate() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return valueOr(f.raw().Feedrate, defaultFileConfig.Feedrate)
}

func (f *File) DevicePatterns() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	patterns := f.raw().DevicePatterns
	if len(patterns) == 0 {
		patterns = defaultFileConfig.DevicePatterns
	}
	return append([]string(nil), patterns...)
}

func (f *File) MaxChangeRatio() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return valueOr(f.raw().MaxChangeRatio, defaultFileConfig.MaxChangeRatio)
}

// Path returns the file backing the config.
func (f *File) Path() string {
	return f.filepath
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			logrus.WithField("path", f.filepath).Debug("config file does not exist, using defaults")
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	if err := os.MkdirAll(filepath.Dir(f.filepath), 0755); err != nil {
		return pkgerrors.Wrapf(err, "failed to create directory for %s", f.filepath)
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	return logrus.Fields{
		"port":           f.Port(),
		"baud":           f.Baud(),
		"driver":         f.Driver(),
		"readTimeout":    f.ReadTimeout(),
		"settle":         f.Settle(),
		"repeats":        f.Repeats(),
		"distance":       f.Distance(),
		"feedrate":       f.Feedrate(),
		"devicePatterns": f.DevicePatterns(),
		"maxChangeRatio": f.MaxChangeRatio(),
	}
}
