// Package session implements session id/state, the CSRF token, and a
// Redis-backed session store — the "Misc" collaborators of spec §3.5,
// §3.6, §6.7, §6.8.
package session

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Id is a 128-bit session identifier, split into two 64-bit halves.
// The low half's lower 32 bits encode a cluster-node hash, matching
// session.Id's SetClusterNode/GetClusterHash split.
type Id [2]uint64

// NewId generates a random session id from a cryptographically secure
// source (the original uses a seeded mt19937_64 PRNG; crypto/rand is
// the idiomatic Go substitute for anything that ends up in a cookie).
func NewId() (Id, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return Id{}, fmt.Errorf("session: generating id: %w", err)
	}
	return Id{
		binary.BigEndian.Uint64(buf[0:8]),
		binary.BigEndian.Uint64(buf[8:16]),
	}, nil
}

// IsDefined reports whether id has been generated (as opposed to the
// zero value).
func (id Id) IsDefined() bool {
	return id[0] != 0 || id[1] != 0
}

// GetClusterHash returns the hash used to determine the cluster node
// by calculating its modulo — the low 32 bits of the second half, per
// the original's "truncating to 32 bit because that is what beng-lb's
// lb_session_get() function uses".
func (id Id) GetClusterHash() uint32 {
	return uint32(id[1])
}

// SetClusterNode rewrites id's cluster hash so that
// GetClusterHash() % clusterSize == clusterNode, without otherwise
// changing the id's randomness.
func (id Id) SetClusterNode(clusterSize, clusterNode uint32) Id {
	if clusterSize == 0 || clusterNode >= clusterSize {
		panic("session: invalid cluster size/node")
	}
	old := id.GetClusterHash()
	remainder := old % clusterSize
	newHash := old - remainder + clusterNode
	id[1] = (id[1] &^ 0xffffffff) | uint64(newHash)
	return id
}

// Format renders id as 32 lower-case hex characters (spec §6.8).
func (id Id) Format() string {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], id[0])
	binary.BigEndian.PutUint64(buf[8:16], id[1])
	return hex.EncodeToString(buf[:])
}

func (id Id) String() string { return id.Format() }

// ParseId parses the 32-hex-character format produced by Format.
func ParseId(s string) (Id, error) {
	if len(s) != 32 {
		return Id{}, fmt.Errorf("session: invalid id length %d", len(s))
	}
	var buf [16]byte
	if _, err := hex.Decode(buf[:], []byte(s)); err != nil {
		return Id{}, fmt.Errorf("session: invalid id: %w", err)
	}
	return Id{
		binary.BigEndian.Uint64(buf[0:8]),
		binary.BigEndian.Uint64(buf[8:16]),
	}, nil
}
