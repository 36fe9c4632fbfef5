/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package kconfig

import (
	"bytes"
	"errors"
	"io"
	"os"

	"github.com/gravwell/gcfg"
)

const maxConfigSize int64 = 4 * 1024 * 1024

var (
	ErrConfigFileTooLarge = errors.New("kconfig: config file is too large")
	ErrFailedFileRead     = errors.New("kconfig: failed to read entire config file")
)

// LoadConfigFile opens p, verifies it is under the size ceiling, and
// decodes it into v via LoadConfigBytes.
func LoadConfigFile(v interface{}, p string) error {
	fin, err := os.Open(p)
	if err != nil {
		return err
	}
	defer fin.Close()

	fi, err := fin.Stat()
	if err != nil {
		return err
	}
	if fi.Size() > maxConfigSize {
		return ErrConfigFileTooLarge
	}

	bb := bytes.NewBuffer(nil)
	n, err := io.Copy(bb, fin)
	if err != nil {
		return err
	}
	if n != fi.Size() {
		return ErrFailedFileRead
	}
	return LoadConfigBytes(v, bb.Bytes())
}

// LoadConfigBytes parses the gcfg-format contents of b into v.
func LoadConfigBytes(v interface{}, b []byte) error {
	if int64(len(b)) > maxConfigSize {
		return ErrConfigFileTooLarge
	}
	return gcfg.ReadStringInto(v, string(b))
}
