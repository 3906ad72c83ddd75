package pulse

import (
	"errors"
	"sync"
	"sync/atomic"
)

// Sim is an in-process Driver. It counts edges and can inject failures, which
// makes it the backend for dry runs and tests.
type Sim struct {
	high   atomic.Bool
	rises  atomic.Uint64
	falls  atomic.Uint64
	opens  atomic.Int32
	closed atomic.Int32

	mu       sync.Mutex
	openErr  error
	setErr   error
	failSets int // remaining Set calls that return setErr; <0 means forever
	onSet    func(high bool)
}

var ErrSimFault = errors.New("sim: injected fault")

func NewSim() *Sim { return &Sim{} }

func (s *Sim) String() string { return "sim" }

// FailOpen makes the next Open return err.
func (s *Sim) FailOpen(err error) {
	s.mu.Lock()
	s.openErr = err
	s.mu.Unlock()
}

// FailSets makes the next n Set calls fail with err (n < 0: all of them).
func (s *Sim) FailSets(n int, err error) {
	if err == nil {
		err = ErrSimFault
	}
	s.mu.Lock()
	s.failSets, s.setErr = n, err
	s.mu.Unlock()
}

// OnSet installs a hook called after every successful Set.
func (s *Sim) OnSet(fn func(high bool)) {
	s.mu.Lock()
	s.onSet = fn
	s.mu.Unlock()
}

func (s *Sim) Open() error {
	s.mu.Lock()
	err := s.openErr
	s.openErr = nil
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.opens.Add(1)
	return nil
}

func (s *Sim) Set(high bool) error {
	s.mu.Lock()
	if s.failSets != 0 {
		if s.failSets > 0 {
			s.failSets--
		}
		err := s.setErr
		s.mu.Unlock()
		return err
	}
	hook := s.onSet
	s.mu.Unlock()

	if high && !s.high.Swap(true) {
		s.rises.Add(1)
	} else if !high && s.high.Swap(false) {
		s.falls.Add(1)
	}
	if hook != nil {
		hook(high)
	}
	return nil
}

func (s *Sim) Close() error {
	s.high.Store(false)
	s.closed.Add(1)
	return nil
}

// Pulses is the number of completed high->low transitions.
func (s *Sim) Pulses() uint64 { return s.falls.Load() }
func (s *Sim) Rises() uint64  { return s.rises.Load() }
func (s *Sim) High() bool     { return s.high.Load() }
func (s *Sim) Opens() int     { return int(s.opens.Load()) }
func (s *Sim) Closes() int    { return int(s.closed.Load()) }
