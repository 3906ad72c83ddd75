//go:build !linux

package pulse

import (
	"errors"
	"fmt"
)

type cdevDriver struct {
	chip   string
	offset int
}

func newCdev(chip string, offset int, _ string) Driver {
	return &cdevDriver{chip: chip, offset: offset}
}

func (d *cdevDriver) String() string { return fmt.Sprintf("cdev:%s/%d", d.chip, d.offset) }
func (d *cdevDriver) Open() error    { return errors.New("gpio character device requires linux") }
func (d *cdevDriver) Set(bool) error { return errors.New("line not requested") }
func (d *cdevDriver) Close() error   { return errors.New("line not requested") }
