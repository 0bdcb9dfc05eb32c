//go:build !linux
// +build !linux

package uart

import "github.com/juju/errors"

func NewFileUart() (Uarter, error) {
	return nil, errors.NotSupportedf("uart driver=file on this platform")
}
