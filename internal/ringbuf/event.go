// Package ringbuf implements the distributed, lock-free input-event ring
// buffer of spec.md §4.9: N=16 independent single-producer-multi-consumer
// queues of fixed-size InputEvent records, with drop-on-full semantics
// and no dynamic allocation after init.
package ringbuf

import (
	"encoding/binary"

	"github.com/lavdgo/lavdgo/internal/errdom"
)

// Lane identifies the input device category a boost window is keyed by.
type Lane uint8

const (
	LaneNone Lane = iota
	LaneMouse
	LaneKeyboard
	LaneGamepad
)

// EventSize is the fixed, little-endian wire size of InputEvent: 8 + 4 +
// 2 + 2 + 4 + 1 + 3 bytes of padding = 24 bytes. This mirrors the
// kernel-ABI record layouts the teacher decodes by hand in
// internal/uapi (UblksrvIODesc, UblksrvIOCmd): a fixed-layout value type
// with an explicit byte image, decoded with a length-checked read
// instead of an unsafe cast.
const EventSize = 24

// InputEvent is a single input-hook observation, immutable after
// submission. struct InputEvent { u64 capture_ns; u32 device_id; u16
// type; u16 code; i32 value; u8 lane; u8 _pad[3]; } (spec.md §6(4)).
type InputEvent struct {
	CaptureNs uint64
	DeviceID  uint32
	Type      uint16
	Code      uint16
	Value     int32
	Lane      Lane
}

// Marshal encodes e into a fixed 24-byte little-endian record.
func (e InputEvent) Marshal() [EventSize]byte {
	var buf [EventSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], e.CaptureNs)
	binary.LittleEndian.PutUint32(buf[8:12], e.DeviceID)
	binary.LittleEndian.PutUint16(buf[12:14], e.Type)
	binary.LittleEndian.PutUint16(buf[14:16], e.Code)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(e.Value))
	buf[20] = byte(e.Lane)
	// buf[21:24] left zero: reserved padding.
	return buf
}

// UnmarshalEvent decodes a fixed 24-byte little-endian record produced by
// Marshal. It returns a length-checked error rather than reading past
// the end of a short buffer.
func UnmarshalEvent(data []byte) (InputEvent, error) {
	if len(data) < EventSize {
		return InputEvent{}, errdom.New(errdom.CodeInfrastructureFailure, "ringbuf", "short InputEvent record")
	}
	var e InputEvent
	e.CaptureNs = binary.LittleEndian.Uint64(data[0:8])
	e.DeviceID = binary.LittleEndian.Uint32(data[8:12])
	e.Type = binary.LittleEndian.Uint16(data[12:14])
	e.Code = binary.LittleEndian.Uint16(data[14:16])
	e.Value = int32(binary.LittleEndian.Uint32(data[16:20]))
	e.Lane = Lane(data[20])
	return e, nil
}
