package target

import (
	"encoding/binary"
	"fmt"
)

// readUint64 performs exactly one fixed-size read of the debuggee's address
// space at addr. Every call is a fallible out-of-process round trip; a short
// read means the transport broke its contract and is reported as
// ErrShortRead rather than retried.
func readUint64(ch Channel, addr uint64) (uint64, error) {
	var buf [8]byte
	n, err := ch.ReadMemory(buf[:], addr)
	if err != nil {
		return 0, fmt.Errorf("read %d bytes at %#x: %w", len(buf), addr, err)
	}
	if n != len(buf) {
		return 0, fmt.Errorf("read at %#x returned %d bytes: %w", addr, n, ErrShortRead)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}
