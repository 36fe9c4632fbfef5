/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package session

// Cause names why a session is winding down. Design notes: the source's
// two independent no_client/no_backend flags-with-cause-strings collapse
// into one closed-once shutdown channel carrying a single Cause, so any
// actor can observe termination with a single receive instead of
// re-checking two flags under the lock.
type Cause int

const (
	CauseNone Cause = iota
	CauseClient
	CauseBackend
	CauseShutdown
)

func (c Cause) String() string {
	switch c {
	case CauseClient:
		return "client"
	case CauseBackend:
		return "backend"
	case CauseShutdown:
		return "shutdown"
	default:
		return "none"
	}
}
