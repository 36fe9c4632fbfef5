/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package ticket

import (
	"fmt"
	"strconv"
	"strings"
)

// IssuerTicket is an externally-issued collaboration ticket presented
// by a federated user logging in, distinct from the internally-minted
// Ticket used for download/upload/screen-share grants. Its wire form
// is "name:email:host:port:key-id".
type IssuerTicket struct {
	Name  string
	Email string
	Host  string
	Port  uint16
	KeyID string
}

// ParseIssuerTicket parses the colon-delimited issuer ticket string
// presented by CONNECT's password/ticket field.
func ParseIssuerTicket(raw string) (IssuerTicket, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 5 {
		return IssuerTicket{}, fmt.Errorf("ticket: malformed issuer ticket (want 5 fields, got %d)", len(parts))
	}
	port, err := strconv.ParseUint(parts[3], 10, 16)
	if err != nil {
		return IssuerTicket{}, fmt.Errorf("ticket: malformed issuer ticket port: %w", err)
	}
	return IssuerTicket{
		Name:  parts[0],
		Email: parts[1],
		Host:  parts[2],
		Port:  uint16(port),
		KeyID: parts[4],
	}, nil
}

// TrustedKeyID reports whether keyID is trusted: the daemon-wide
// trusted set is checked first, then the workspace's own trusted set,
// per spec.md §4.4's two-tiered key-id check.
func TrustedKeyID(keyID string, daemonTrusted, workspaceTrusted map[string]struct{}) bool {
	if _, ok := daemonTrusted[keyID]; ok {
		return true
	}
	_, ok := workspaceTrusted[keyID]
	return ok
}
