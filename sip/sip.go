// Package sip implements the wire-level half of the server: lexing raw
// datagrams into header captures and formatting outbound messages back from
// stored header lines. Headers are kept as verbatim text, name prefix
// included, so whatever a peer sent can be echoed byte for byte.
package sip

import (
	"strconv"
	"time"
)

const (
	// RFC3261BranchMagicCookie prefixes every Via branch parameter.
	RFC3261BranchMagicCookie = "z9hG4bK"

	// UserAgent is the name the server advertises on messages it originates.
	UserAgent = "TinySIP"

	// DefaultMaxForwards is assumed when a request carries no Max-Forwards.
	DefaultMaxForwards = 70
)

// GenerateBranch returns a unique branch ID for a freshly minted Via.
func GenerateBranch() string {
	return RFC3261BranchMagicCookie + strconv.FormatInt(time.Now().UnixNano(), 16)
}
