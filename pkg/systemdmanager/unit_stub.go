//go:build !linux

package systemdmanager

import "context"

func Inspect(context.Context, string) (*UnitStatus, error) { return nil, ErrUnsupported }
