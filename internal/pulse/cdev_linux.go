//go:build linux

package pulse

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// cdevDriver drives one line through the GPIO character device uAPI.
type cdevDriver struct {
	chip     string
	offset   int
	consumer string
	line     *gpiocdev.Line
}

func newCdev(chip string, offset int, consumer string) Driver {
	return &cdevDriver{chip: chip, offset: offset, consumer: consumer}
}

func (d *cdevDriver) String() string { return fmt.Sprintf("cdev:%s/%d", d.chip, d.offset) }

func (d *cdevDriver) Open() error {
	l, err := gpiocdev.RequestLine(d.chip, d.offset,
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer(d.consumer),
	)
	if err != nil {
		return err
	}
	d.line = l
	return nil
}

func (d *cdevDriver) Set(high bool) error {
	v := 0
	if high {
		v = 1
	}
	return d.line.SetValue(v)
}

func (d *cdevDriver) Close() error {
	if d.line == nil {
		return errors.New("line not requested")
	}
	// Leave the output low before releasing the request.
	_ = d.line.SetValue(0)
	err := d.line.Close()
	d.line = nil
	return err
}
