/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package kconfig

import (
	"bufio"
	"errors"
	"os"
)

var ErrEmptyEnvFile = errors.New("kconfig: environment secret file is empty")

// LoadEnvVar overlays *cnd from the environment variable envName if
// set; otherwise, if envName+"_FILE" names a readable file, its first
// line is used. Either overlay takes precedence over a value already
// present in the config file, matching the ingest daemon's secret
// handling so operators can keep DSNs and admin secrets out of the ini
// file entirely.
func LoadEnvVar(cnd *string, envName string) error {
	if s, ok := os.LookupEnv(envName); ok {
		*cnd = s
		return nil
	}
	fp, ok := os.LookupEnv(envName + `_FILE`)
	if !ok {
		return nil
	}
	s, err := loadEnvFile(fp)
	if err != nil {
		return err
	}
	*cnd = s
	return nil
}

func loadEnvFile(nm string) (string, error) {
	fin, err := os.Open(nm)
	if err != nil {
		return ``, err
	}
	defer fin.Close()
	s := bufio.NewScanner(fin)
	s.Scan()
	if err := s.Err(); err != nil {
		return ``, err
	}
	r := s.Text()
	if r == `` {
		return ``, ErrEmptyEnvFile
	}
	return r, nil
}
