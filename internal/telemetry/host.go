package telemetry

import (
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/mem"

	"rtpulse/internal/rt/sched"
	"rtpulse/pkg/systemdmanager"
)

// HostReport describes how well the host can run a real-time task.
type HostReport struct {
	Hostname      string `json:"hostname"`
	Platform      string `json:"platform"`
	KernelVersion string `json:"kernel_version"`
	Arch          string `json:"arch"`
	RealtimeKern  bool   `json:"preempt_rt"`

	MemTotal   uint64 `json:"mem_total"`
	MemlockCur uint64 `json:"memlock_cur"`
	MemlockMax uint64 `json:"memlock_max"`

	// CanLockMemory and CanRealtime are the outcome of actually trying
	// mlockall and SCHED_FIFO (then reverting).
	CanLockMemory bool   `json:"can_lock_memory"`
	LockMemoryErr string `json:"lock_memory_err,omitempty"`
	CanRealtime   bool   `json:"can_realtime"`
	RealtimeErr   string `json:"realtime_err,omitempty"`

	// Unit is the systemd unit the service runs under, when one was asked for.
	Unit    *systemdmanager.UnitStatus `json:"unit,omitempty"`
	UnitErr string                     `json:"unit_err,omitempty"`
}

// Probe fills a HostReport. sys is exercised for the privilege checks;
// gopsutil failures only leave fields empty.
func Probe(sys sched.OS, priority int) HostReport {
	var r HostReport
	if hi, err := host.Info(); err == nil {
		r.Hostname = hi.Hostname
		r.Platform = hi.Platform + " " + hi.PlatformVersion
		r.KernelVersion = hi.KernelVersion
		r.Arch = hi.KernelArch
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		r.MemTotal = vm.Total
	}
	r.RealtimeKern = sched.RealtimeKernel()
	r.MemlockCur, r.MemlockMax, _ = sched.MemlockLimit()

	if err := sys.LockAll(); err != nil {
		r.LockMemoryErr = err.Error()
	} else {
		r.CanLockMemory = true
		_ = sys.UnlockAll()
	}

	r.CanRealtime, r.RealtimeErr = probeRealtime(sys, priority)
	return r
}
