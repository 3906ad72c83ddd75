//go:build linux

package systemdmanager

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Inspect queries systemd over the system bus. A missing unit is not an
// error; the returned status has LoadState "not-found".
func Inspect(ctx context.Context, name string) (*UnitStatus, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	unit := UnitName(name)
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	defer conn.Close()

	props, err := conn.GetUnitPropertiesContext(ctx, unit)
	if err != nil {
		if isNoSuchUnitErr(err) {
			return &UnitStatus{Name: unit, LoadState: "not-found"}, nil
		}
		return nil, fmt.Errorf("failed to get properties for %s: %w", unit, err)
	}
	if ls, _ := getStringProperty(props, "LoadState"); ls == "not-found" {
		return &UnitStatus{Name: unit, LoadState: ls}, nil
	}

	svc, err := conn.GetUnitTypePropertiesContext(ctx, unit, "Service")
	if err != nil {
		return nil, fmt.Errorf("failed to get service properties for %s: %w", unit, err)
	}
	st := statusFromProps(unit, props, svc)
	return &st, nil
}
