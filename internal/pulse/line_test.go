package pulse

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtpulse/internal/rt/rterr"
)

func TestLineLifecycle(t *testing.T) {
	t.Parallel()

	sim := NewSim()
	l := Guard(sim)
	st, ok := StateOf(l)
	require.True(t, ok)
	assert.Equal(t, StateUninitialized, st)

	require.ErrorIs(t, l.Activate(), ErrLineState)
	require.ErrorIs(t, l.Shutdown(), ErrLineState)

	require.NoError(t, l.Init())
	st, _ = StateOf(l)
	assert.Equal(t, StateReady, st)
	require.ErrorIs(t, l.Init(), ErrLineState, "double init")

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Activate())
		require.NoError(t, l.Deactivate())
	}
	assert.Equal(t, uint64(3), sim.Pulses())

	require.NoError(t, l.Shutdown())
	st, _ = StateOf(l)
	assert.Equal(t, StateClosed, st)
	assert.Equal(t, 1, sim.Closes())

	require.ErrorIs(t, l.Activate(), ErrLineState)
	require.ErrorIs(t, l.Deactivate(), ErrLineState)
	require.ErrorIs(t, l.Shutdown(), ErrLineState, "second shutdown")
	assert.Equal(t, 1, sim.Closes())
}

func TestLineInitFailureIsResourceAcquisition(t *testing.T) {
	t.Parallel()

	sim := NewSim()
	sim.FailOpen(errors.New("device busy"))
	l := Guard(sim)

	err := l.Init()
	require.Error(t, err)
	assert.True(t, errors.Is(err, rterr.ErrResourceAcquisition))
	assert.Contains(t, err.Error(), "device busy")

	st, _ := StateOf(l)
	assert.Equal(t, StateClosed, st)
	require.ErrorIs(t, l.Shutdown(), ErrLineState)
	assert.Zero(t, sim.Closes())
}

func TestLineSetFailureIsActuation(t *testing.T) {
	t.Parallel()

	sim := NewSim()
	l := Guard(sim)
	require.NoError(t, l.Init())
	sim.FailSets(1, nil)

	err := l.Activate()
	assert.True(t, errors.Is(err, rterr.ErrActuation))
	assert.True(t, errors.Is(err, ErrSimFault))
	require.NoError(t, l.Activate())
	require.NoError(t, l.Deactivate())
	assert.Equal(t, uint64(1), sim.Pulses())
}

func TestNewSelectsBackend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cfg  Config
		name string
	}{
		{cfg: Config{}, name: "cdev:gpiochip0/0"},
		{cfg: Config{Backend: "cdev", Chip: "gpiochip4", Offset: 17}, name: "cdev:gpiochip4/17"},
		{cfg: Config{Backend: "SIM"}, name: "sim"},
	}
	for _, tt := range tests {
		l, err := New(tt.cfg)
		require.NoError(t, err)
		assert.Equal(t, tt.name, l.Name())
	}

	_, err := New(Config{Backend: "spi"})
	assert.True(t, errors.Is(err, rterr.ErrConfig))
	_, err = New(Config{Offset: -1})
	assert.True(t, errors.Is(err, rterr.ErrConfig))
	_, err = New(Config{Backend: "mmio", MMIO: MMIOConfig{Pin: 99}})
	assert.True(t, errors.Is(err, rterr.ErrConfig))
}

func TestOpenInitializes(t *testing.T) {
	t.Parallel()

	l, err := Open(Config{Backend: "sim"})
	require.NoError(t, err)
	st, _ := StateOf(l)
	assert.Equal(t, StateReady, st)
	require.NoError(t, l.Shutdown())
}

// gatedDriver blocks Open until release is closed.
type gatedDriver struct {
	*Sim
	entered chan struct{}
	release chan struct{}
}

func (d *gatedDriver) Open() error {
	close(d.entered)
	<-d.release
	return d.Sim.Open()
}

func TestLineNotReadyWhileOpening(t *testing.T) {
	t.Parallel()

	drv := &gatedDriver{Sim: NewSim(), entered: make(chan struct{}), release: make(chan struct{})}
	l := Guard(drv)

	done := make(chan error, 1)
	go func() { done <- l.Init() }()
	<-drv.entered

	st, _ := StateOf(l)
	assert.Equal(t, StateOpening, st)
	require.ErrorIs(t, l.Activate(), ErrLineState)
	require.ErrorIs(t, l.Shutdown(), ErrLineState)
	require.ErrorIs(t, l.Init(), ErrLineState)
	assert.Zero(t, drv.Rises(), "driver never driven before Open returned")

	close(drv.release)
	require.NoError(t, <-done)
	st, _ = StateOf(l)
	assert.Equal(t, StateReady, st)
	require.NoError(t, l.Activate())
	require.NoError(t, l.Shutdown())
}
