//go:build !linux

package pulse

import "errors"

func newMMIO(cfg MMIOConfig) (Driver, error) {
	if _, err := cfg.normalize(); err != nil {
		return nil, err
	}
	return nil, errors.New("mmio backend requires linux")
}
