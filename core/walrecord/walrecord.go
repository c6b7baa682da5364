// Package walrecord defines how state transitions are laid out in the stable log.
package walrecord

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/vadiminshakov/threepc/core/dto"
)

// Record is one state transition of one role instance.
type Record struct {
	Role  dto.Role
	ID    dto.ID
	State dto.State
	At    time.Time
}

// Key returns the WAL key of a role instance, e.g. "participant-3".
func Key(role dto.Role, id dto.ID) string {
	return fmt.Sprintf("%s-%s", role, id)
}

// Encode serializes a Record into bytes.
// Format: [ID(8 bytes)] [UnixNano(8 bytes)] [RoleLen(2 bytes)] [Role] [State]
func Encode(r Record) []byte {
	role := []byte(r.Role)
	buf := make([]byte, 8+8+2+len(role)+len(r.State))

	binary.BigEndian.PutUint64(buf[0:8], uint64(r.ID))
	binary.BigEndian.PutUint64(buf[8:16], uint64(r.At.UnixNano()))
	binary.BigEndian.PutUint16(buf[16:18], uint16(len(role)))
	copy(buf[18:18+len(role)], role)
	copy(buf[18+len(role):], r.State)

	return buf
}

// Decode deserializes bytes into a Record.
func Decode(data []byte) (Record, error) {
	if len(data) < 18 {
		return Record{}, fmt.Errorf("data too short for record header")
	}

	roleLen := int(binary.BigEndian.Uint16(data[16:18]))
	if len(data) < 18+roleLen {
		return Record{}, fmt.Errorf("data too short for role")
	}

	state, err := dto.ParseState(string(data[18+roleLen:]))
	if err != nil {
		return Record{}, err
	}

	return Record{
		ID:    dto.ID(binary.BigEndian.Uint64(data[0:8])),
		At:    time.Unix(0, int64(binary.BigEndian.Uint64(data[8:16]))),
		Role:  dto.Role(data[18 : 18+roleLen]),
		State: state,
	}, nil
}
