// Package systemdmanager reads the systemd unit settings that decide whether
// a service may run real-time: memlock and rtprio limits, the CPU scheduling
// policy and the watchdog interval.
package systemdmanager

import (
	"errors"
	"strings"
	"time"
)

var ErrUnsupported = errors.New("systemdmanager: unsupported OS (linux only)")

// Infinity is how systemd reports an unlimited resource limit.
const Infinity = ^uint64(0)

type UnitStatus struct {
	Name        string `json:"name"`
	LoadState   string `json:"load_state"`
	ActiveState string `json:"active_state"`
	SubState    string `json:"sub_state"`

	LimitMEMLOCK uint64 `json:"limit_memlock"`
	LimitRTPRIO  uint64 `json:"limit_rtprio"`
	// SchedulingPolicy is the unit's CPUSchedulingPolicy (SCHED_OTHER when unset).
	SchedulingPolicy   string        `json:"cpu_scheduling_policy"`
	SchedulingPriority int           `json:"cpu_scheduling_priority"`
	Watchdog           time.Duration `json:"watchdog"`
}

// Found is false when systemd has no such unit.
func (u UnitStatus) Found() bool { return u.LoadState != "" && u.LoadState != "not-found" }

// CanRealtime reports whether the unit's limits permit SCHED_FIFO at prio.
func (u UnitStatus) CanRealtime(prio int) bool {
	return u.SchedulingPolicy == "SCHED_FIFO" || u.LimitRTPRIO == Infinity || u.LimitRTPRIO >= uint64(prio)
}

// UnitName appends ".service" when name has no unit suffix.
func UnitName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, ".") {
		return name
	}
	return name + ".service"
}

// statusFromProps builds a UnitStatus from the org.freedesktop.systemd1.Unit
// and .Service property maps.
func statusFromProps(name string, unit, service map[string]interface{}) UnitStatus {
	st := UnitStatus{Name: name}
	st.LoadState, _ = getStringProperty(unit, "LoadState")
	st.ActiveState, _ = getStringProperty(unit, "ActiveState")
	st.SubState, _ = getStringProperty(unit, "SubState")

	st.LimitMEMLOCK, _ = service["LimitMEMLOCK"].(uint64)
	st.LimitRTPRIO, _ = service["LimitRTPRIO"].(uint64)
	if us, ok := service["WatchdogUSec"].(uint64); ok && us != Infinity {
		st.Watchdog = time.Duration(us) * time.Microsecond
	}
	policy, _ := service["CPUSchedulingPolicy"].(int32)
	st.SchedulingPolicy = policyName(policy)
	if prio, ok := service["CPUSchedulingPriority"].(int32); ok {
		st.SchedulingPriority = int(prio)
	}
	return st
}

func policyName(p int32) string {
	switch p {
	case 1:
		return "SCHED_FIFO"
	case 2:
		return "SCHED_RR"
	case 3:
		return "SCHED_BATCH"
	case 5:
		return "SCHED_IDLE"
	default:
		return "SCHED_OTHER"
	}
}

func getStringProperty(props map[string]interface{}, key string) (string, bool) {
	if val, ok := props[key].(string); ok {
		return val, true
	}
	return "", false
}

func isNoSuchUnitErr(err error) bool {
	if err == nil {
		return false
	}
	// systemd returns org.freedesktop.systemd1.NoSuchUnit for missing units.
	return strings.Contains(err.Error(), "NoSuchUnit")
}
