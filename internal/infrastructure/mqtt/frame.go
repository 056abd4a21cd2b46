package mqtt

import (
	"encoding/binary"
	"fmt"
)

// encodeFrame prefixes value with its routing key.
func encodeFrame(key string, value []byte) []byte {
	buf := make([]byte, 0, binary.MaxVarintLen64+len(key)+len(value))
	buf = binary.AppendUvarint(buf, uint64(len(key)))
	buf = append(buf, key...)
	return append(buf, value...)
}

// decodeFrame splits a frame produced by encodeFrame.
func decodeFrame(frame []byte) (string, []byte, error) {
	n, read := binary.Uvarint(frame)
	if read <= 0 {
		return "", nil, ErrMalformedFrame
	}
	rest := frame[read:]
	if uint64(len(rest)) < n {
		return "", nil, fmt.Errorf("%w: key length %d exceeds frame", ErrMalformedFrame, n)
	}
	return string(rest[:n]), rest[n:], nil
}
