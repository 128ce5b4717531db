package modbustcp

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"sync/atomic"
)

// txnIDGenerator produces MBAP transaction identifiers for one connection.
//
// The counter starts at a cryptographically random offset so transaction IDs
// from successive connections do not collide in captures. IDs wrap naturally
// at 16 bits, which is fine since far fewer requests are ever in flight.
type txnIDGenerator struct {
	id atomic.Uint32
}

func newTxnIDGenerator() *txnIDGenerator {
	gen := &txnIDGenerator{}

	var buf [4]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err == nil {
		gen.id.Store(binary.LittleEndian.Uint32(buf[:]))
	}

	return gen
}

func (g *txnIDGenerator) nextID() uint16 {
	return uint16(g.id.Add(1))
}
