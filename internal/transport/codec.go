package transport

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ChuLiYu/ptides-os/pkg/types"
)

// FrameSize value(8) + timestamp(8) + microstep(4)，big-endian
const FrameSize = 20

// ErrShortFrame 封包長度不是 FrameSize
var ErrShortFrame = errors.New("malformed event frame")

// Packet 網路上傳送的事件內容
type Packet struct {
	Value types.Value
	Tag   types.Tag
}

// Encode 序列化事件的數值與名義標籤
func Encode(ev types.Event) []byte {
	buf := make([]byte, FrameSize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(ev.Value))
	binary.BigEndian.PutUint64(buf[8:16], uint64(ev.Tag.Timestamp))
	binary.BigEndian.PutUint32(buf[16:20], ev.Tag.Microstep)
	return buf
}

// Decode 反序列化
func Decode(frame []byte) (Packet, error) {
	if len(frame) != FrameSize {
		return Packet{}, fmt.Errorf("%w: %d bytes, want %d", ErrShortFrame, len(frame), FrameSize)
	}
	return Packet{
		Value: types.Value(int64(binary.BigEndian.Uint64(frame[0:8]))),
		Tag: types.Tag{
			Timestamp: types.Timestamp(int64(binary.BigEndian.Uint64(frame[8:16]))),
			Microstep: binary.BigEndian.Uint32(frame[16:20]),
		},
	}, nil
}
