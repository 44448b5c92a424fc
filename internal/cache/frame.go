package cache

import (
	"encoding/binary"
	"errors"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// frameMagic 同时充当格式版本号，变更编码时递增。
var frameMagic = [8]byte{'R', 'S', 'Y', 'N', 'C', 'C', '0', '1'}

const headerSize = len(frameMagic) + 16 + 8 + 8

var errFrameFormat = errors.New("cache frame format mismatch")

// encodeHeader 返回帧头，payload 紧随其后写出，不再整体拷贝一份帧。
// 布局：magic | key(16) | payload 长度(8, BE) | xxhash64(key+payload)(8, BE) | payload。
func encodeHeader(id uuid.UUID, payload []byte) []byte {
	buf := make([]byte, headerSize)
	n := copy(buf, frameMagic[:])
	n += copy(buf[n:], id[:])
	binary.BigEndian.PutUint64(buf[n:], uint64(len(payload)))
	n += 8
	binary.BigEndian.PutUint64(buf[n:], checksum(id, payload))
	return buf
}

func decodeFrame(data []byte) (uuid.UUID, []byte, error) {
	if len(data) < headerSize {
		return uuid.Nil, nil, errFrameFormat
	}
	id, length, sum, err := decodeHeader(data[:headerSize])
	if err != nil {
		return uuid.Nil, nil, err
	}
	payload := data[headerSize:]
	if uint64(len(payload)) != length {
		return uuid.Nil, nil, errFrameFormat
	}
	if checksum(id, payload) != sum {
		return uuid.Nil, nil, errFrameFormat
	}
	return id, payload, nil
}

func decodeHeader(header []byte) (uuid.UUID, uint64, uint64, error) {
	if len(header) < headerSize {
		return uuid.Nil, 0, 0, errFrameFormat
	}
	var magic [8]byte
	copy(magic[:], header)
	if magic != frameMagic {
		return uuid.Nil, 0, 0, errFrameFormat
	}
	off := len(frameMagic)
	id, err := uuid.FromBytes(header[off : off+16])
	if err != nil || id == uuid.Nil {
		return uuid.Nil, 0, 0, errFrameFormat
	}
	off += 16
	length := binary.BigEndian.Uint64(header[off:])
	off += 8
	sum := binary.BigEndian.Uint64(header[off:])
	return id, length, sum, nil
}

func checksum(id uuid.UUID, payload []byte) uint64 {
	d := xxhash.New()
	_, _ = d.Write(id[:])
	_, _ = d.Write(payload)
	return d.Sum64()
}
