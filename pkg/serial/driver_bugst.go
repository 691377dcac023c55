package serial

import (
	"io"

	bugst "go.bug.st/serial"
)

func openBugst(cfg *Config) (io.ReadWriteCloser, error) {
	mode := &bugst.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	}

	// Reads stay blocking. Port enforces the line timeout itself.
	port, err := bugst.Open(cfg.Device, mode)
	if err != nil {
		return nil, err
	}

	return port, nil
}
