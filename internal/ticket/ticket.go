/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package ticket implements ticket minting and consumption (TK):
// opaque BIN credentials bound to (workspace, user, login-type,
// nonce), single-use, stored and consumed through the database
// backend's ledger table.
package ticket

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/kasproject/kasd/internal/anp"
	"github.com/kasproject/kasd/internal/kdb"
)

// Type enumerates the four ticket kinds named in spec.md §6.
type Type uint32

const (
	TypeDownload Type = 1
	TypeUpload   Type = 2
	TypeScreenShareServer Type = 3
	TypeScreenShareClient Type = 4
)

const nonceSize = 16

// Ticket is the decoded cleartext shape of a minted ticket: (type,
// workspace-id, login-type, user-id, extension, nonce).
type Ticket struct {
	Type        Type
	WorkspaceID uint64
	LoginType   kdb.LoginType
	UserID      uint32
	Extension   []byte
	Nonce       [nonceSize]byte
}

// Mint builds a fresh ticket: generates a random nonce, encodes the
// cleartext as atoms, and inserts the resulting opaque bytes into the
// ledger table. The returned bytes are the BIN atom payload callers
// hand back to the client.
func Mint(ctx context.Context, procs kdb.Procedures, typ Type, workspaceID uint64, loginType kdb.LoginType, userID uint32, extension []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("ticket: generate nonce: %w", err)
	}
	raw := Encode(Ticket{
		Type:        typ,
		WorkspaceID: workspaceID,
		LoginType:   loginType,
		UserID:      userID,
		Extension:   extension,
		Nonce:       nonce,
	})
	if err := procs.InsertTicket(ctx, raw); err != nil {
		return nil, fmt.Errorf("ticket: insert: %w", err)
	}
	return raw, nil
}

// Encode serializes a Ticket's cleartext shape into the atom sequence
// stored as the ticket's opaque bytes.
func Encode(t Ticket) []byte {
	var out []byte
	out = anp.Encode(out, anp.U32(uint32(t.Type)))
	out = anp.Encode(out, anp.U64(t.WorkspaceID))
	out = anp.Encode(out, anp.U32(uint32(t.LoginType)))
	out = anp.Encode(out, anp.U32(t.UserID))
	out = anp.Encode(out, anp.Bin(t.Extension))
	out = anp.Encode(out, anp.Bin(t.Nonce[:]))
	return out
}

// Decode parses a ticket's opaque bytes back into its cleartext
// shape, failing with the codec's framing error if malformed.
func Decode(raw []byte) (Ticket, error) {
	atoms, err := anp.DecodeAll(raw)
	if err != nil {
		return Ticket{}, fmt.Errorf("ticket: decode: %w", err)
	}
	as := anp.Atoms(atoms)
	var t Ticket
	typ, err := as.U32(0)
	if err != nil {
		return Ticket{}, err
	}
	t.Type = Type(typ)
	if t.WorkspaceID, err = as.U64(1); err != nil {
		return Ticket{}, err
	}
	lt, err := as.U32(2)
	if err != nil {
		return Ticket{}, err
	}
	t.LoginType = kdb.LoginType(lt)
	if t.UserID, err = as.U32(3); err != nil {
		return Ticket{}, err
	}
	if t.Extension, err = as.Bin(4); err != nil {
		return Ticket{}, err
	}
	nonce, err := as.Bin(5)
	if err != nil {
		return Ticket{}, err
	}
	if len(nonce) != nonceSize {
		return Ticket{}, fmt.Errorf("ticket: nonce must be %d bytes, got %d", nonceSize, len(nonce))
	}
	copy(t.Nonce[:], nonce)
	return t, nil
}

// ErrExpiredOrConsumed is returned by Consume when the ticket was
// already used once or has passed its TTL (spec.md invariant I5).
var ErrExpiredOrConsumed = fmt.Errorf("ticket: expired or already consumed")

// Consume performs the single atomic read-and-delete against the
// ledger table. A second attempt against the same raw bytes always
// returns ErrExpiredOrConsumed.
func Consume(ctx context.Context, procs kdb.Procedures, raw []byte) (Ticket, error) {
	ok, err := procs.ConsumeTicket(ctx, raw)
	if err != nil {
		return Ticket{}, fmt.Errorf("ticket: consume: %w", err)
	}
	if !ok {
		return Ticket{}, ErrExpiredOrConsumed
	}
	return Decode(raw)
}
