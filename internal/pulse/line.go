// Package pulse is the hardware-facing pulse output line.
//
// A Line moves Uninitialized -> Opening -> Ready -> Closed. Opening lasts
// while the backend acquires the hardware. Activate/Deactivate are legal
// only while Ready; every other use fails
// immediately with ErrLineState. Backends (GPIO character device, memory
// mapped register window, in-process simulation) sit behind Driver and are
// picked by configuration; callers never branch on them.
package pulse

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"rtpulse/internal/rt/rterr"
)

// Line is the capability the periodic task drives.
type Line interface {
	Init() error
	Activate() error
	Deactivate() error
	Shutdown() error
	Name() string
}

// Driver is a backend. The guard in front of it serializes the lifecycle, so
// drivers only implement the happy path.
type Driver interface {
	Open() error
	Set(high bool) error
	Close() error
	String() string
}

type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateClosed
	StateOpening
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var ErrLineState = errors.New("pulse: illegal line state")

type guarded struct {
	drv   Driver
	state atomic.Int32
}

// Guard wraps drv with the line lifecycle.
func Guard(drv Driver) Line { return &guarded{drv: drv} }

func (g *guarded) Name() string { return g.drv.String() }

// StateOf returns the lifecycle state of l, if l came from Guard.
func StateOf(l Line) (State, bool) {
	g, ok := l.(*guarded)
	if !ok {
		return 0, false
	}
	return State(g.state.Load()), true
}

func (g *guarded) Init() error {
	if !g.state.CompareAndSwap(int32(StateUninitialized), int32(StateOpening)) {
		return g.stateErr("init")
	}
	if err := g.drv.Open(); err != nil {
		// Nothing was acquired; the line is unusable from here on.
		g.state.Store(int32(StateClosed))
		return rterr.New(rterr.KindResourceAcquisition, "open "+g.drv.String(), err)
	}
	g.state.Store(int32(StateReady))
	return nil
}

func (g *guarded) Activate() error   { return g.set("activate", true) }
func (g *guarded) Deactivate() error { return g.set("deactivate", false) }

func (g *guarded) set(op string, high bool) error {
	if State(g.state.Load()) != StateReady {
		return g.stateErr(op)
	}
	if err := g.drv.Set(high); err != nil {
		return rterr.New(rterr.KindActuation, op, err)
	}
	return nil
}

func (g *guarded) Shutdown() error {
	if !g.state.CompareAndSwap(int32(StateReady), int32(StateClosed)) {
		return g.stateErr("shutdown")
	}
	if err := g.drv.Close(); err != nil {
		return fmt.Errorf("close %s: %w", g.drv, err)
	}
	return nil
}

func (g *guarded) stateErr(op string) error {
	return fmt.Errorf("%w: %s on %s line %s", ErrLineState, op, State(g.state.Load()), g.drv)
}

// Config selects and configures a backend.
type Config struct {
	Backend  string // "cdev" (default), "mmio", "sim"
	Chip     string
	Offset   int
	Consumer string
	MMIO     MMIOConfig
}

const (
	DefaultChip     = "gpiochip0"
	DefaultOffset   = 17
	DefaultConsumer = "rtpulse"
)

// New builds an uninitialized Line for cfg.
func New(cfg Config) (Line, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "cdev", "gpiod":
		chip := strings.TrimSpace(cfg.Chip)
		if chip == "" {
			chip = DefaultChip
		}
		if cfg.Offset < 0 {
			return nil, rterr.New(rterr.KindConfig, "line", fmt.Errorf("offset must be >= 0 (got %d)", cfg.Offset))
		}
		consumer := strings.TrimSpace(cfg.Consumer)
		if consumer == "" {
			consumer = DefaultConsumer
		}
		return Guard(newCdev(chip, cfg.Offset, consumer)), nil
	case "mmio", "devmem":
		drv, err := newMMIO(cfg.MMIO)
		if err != nil {
			return nil, rterr.New(rterr.KindConfig, "line", err)
		}
		return Guard(drv), nil
	case "sim":
		return Guard(NewSim()), nil
	default:
		return nil, rterr.New(rterr.KindConfig, "line", fmt.Errorf("unknown backend %q", cfg.Backend))
	}
}

// Open builds the Line for cfg and initializes it.
func Open(cfg Config) (Line, error) {
	l, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := l.Init(); err != nil {
		return nil, err
	}
	return l, nil
}
