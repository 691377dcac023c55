package serial

import (
	"io"

	tarm "github.com/tarm/serial"
)

func openTarm(cfg *Config) (io.ReadWriteCloser, error) {
	c := &tarm.Config{
		Name: cfg.Device,
		Baud: cfg.Baud,
		// Zero means blocking reads.
		ReadTimeout: 0,
	}

	port, err := tarm.OpenPort(c)
	if err != nil {
		return nil, err
	}

	return port, nil
}
