/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package kasversion holds the daemon's build identity, adapted from
// the ingester tree's version package.
package kasversion

import (
	"fmt"
	"io"
	"time"
)

const (
	MajorVersion int = 1
	MinorVersion int = 0
	PointVersion int = 0
)

var BuildDate = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Print writes the daemon's version and build date to wtr, in the
// same two-line shape the ingester commands print on -version.
func Print(wtr io.Writer) {
	fmt.Fprintf(wtr, "Version:\t%d.%d.%d\n", MajorVersion, MinorVersion, PointVersion)
	fmt.Fprintf(wtr, "BuildDate:\t%s\n", BuildDate.Format(`2006-01-02 15:04:05`))
}
