package pulse

import (
	"fmt"
	"strings"
	"sync/atomic"
	"unsafe"
)

// BCM283x/BCM2711 GPIO register offsets (BCM2711 ARM Peripherals, ch. 5).
const (
	regGPFSEL0 = 0x00
	regGPSET0  = 0x1c
	regGPCLR0  = 0x28
	regGPLEV0  = 0x34

	fselOutput = 0b001
	maxPin     = 57

	// BCM2711 (Pi 4) GPIO block; needed only with /dev/mem.
	DefaultPeriphBase = 0xFE200000
	DefaultMMIODevice = "/dev/gpiomem"
)

// MMIOConfig configures the register window backend.
type MMIOConfig struct {
	Device string // "/dev/gpiomem" (offset 0) or "/dev/mem"
	Base   int64  // physical base of the GPIO block; 0 for /dev/gpiomem
	Pin    int
}

func (c MMIOConfig) normalize() (MMIOConfig, error) {
	c.Device = strings.TrimSpace(c.Device)
	if c.Device == "" {
		c.Device = DefaultMMIODevice
	}
	if c.Device == "/dev/mem" && c.Base == 0 {
		c.Base = DefaultPeriphBase
	}
	if c.Pin < 0 || c.Pin > maxPin {
		return c, fmt.Errorf("mmio pin must be in [0, %d] (got %d)", maxPin, c.Pin)
	}
	if c.Base < 0 {
		return c, fmt.Errorf("mmio base must be >= 0 (got %#x)", c.Base)
	}
	return c, nil
}

// regWindow is a view onto the GPIO register block. Accesses go through
// sync/atomic so they are neither elided nor merged.
type regWindow []byte

func (w regWindow) word(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&w[off]))
}

func (w regWindow) load(off int) uint32     { return atomic.LoadUint32(w.word(off)) }
func (w regWindow) store(off int, v uint32) { atomic.StoreUint32(w.word(off), v) }

// setOutput programs the pin's function select to output.
func (w regWindow) setOutput(pin int) {
	off := regGPFSEL0 + 4*(pin/10)
	shift := uint(pin%10) * 3
	v := w.load(off)
	v = v&^(0b111<<shift) | fselOutput<<shift
	w.store(off, v)
}

// drive writes the pin's bit to GPSETn or GPCLRn; other pins are untouched.
func (w regWindow) drive(pin int, high bool) {
	bank := 4 * (pin / 32)
	bit := uint32(1) << uint(pin%32)
	if high {
		w.store(regGPSET0+bank, bit)
	} else {
		w.store(regGPCLR0+bank, bit)
	}
}

func (w regWindow) level(pin int) bool {
	return w.load(regGPLEV0+4*(pin/32))&(1<<uint(pin%32)) != 0
}

// claimOutput makes pin an output driven low and reads the level back. A
// pin still high means the window does not map the GPIO block (wrong
// device or base).
func (w regWindow) claimOutput(pin int) error {
	w.setOutput(pin)
	w.drive(pin, false)
	if w.level(pin) {
		return fmt.Errorf("gpio %d reads high after drive low", pin)
	}
	return nil
}
