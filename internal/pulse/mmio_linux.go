//go:build linux

package pulse

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

type mmioDriver struct {
	cfg MMIOConfig
	mem []byte
	win regWindow
}

func newMMIO(cfg MMIOConfig) (Driver, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	return &mmioDriver{cfg: cfg}, nil
}

func (d *mmioDriver) String() string {
	return fmt.Sprintf("mmio:%s@%#x/%d", d.cfg.Device, d.cfg.Base, d.cfg.Pin)
}

func (d *mmioDriver) Open() error {
	fd, err := unix.Open(d.cfg.Device, unix.O_RDWR|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", d.cfg.Device, err)
	}
	// The mapping outlives the descriptor.
	defer unix.Close(fd)

	mem, err := unix.Mmap(fd, d.cfg.Base, unix.Getpagesize(), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap %s at %#x: %w", d.cfg.Device, d.cfg.Base, err)
	}
	win := regWindow(mem)
	if err := win.claimOutput(d.cfg.Pin); err != nil {
		_ = unix.Munmap(mem)
		return fmt.Errorf("%s at %#x: %w", d.cfg.Device, d.cfg.Base, err)
	}
	d.mem, d.win = mem, win
	return nil
}

func (d *mmioDriver) Set(high bool) error {
	d.win.drive(d.cfg.Pin, high)
	return nil
}

func (d *mmioDriver) Close() error {
	if d.mem == nil {
		return errors.New("mmio window not mapped")
	}
	d.win.drive(d.cfg.Pin, false)
	err := unix.Munmap(d.mem)
	d.mem, d.win = nil, nil
	return err
}
