package wire

import "encoding/binary"

// EncodeRequest builds the wire bytes for a request frame: magic, op,
// primary length+bytes, and (for OpReplace) secondary length+bytes. It is
// the client-side counterpart to DecodeRequest.
func EncodeRequest(req *Request) []byte {
	size := 9 + len(req.Primary)
	if req.Op == OpReplace {
		size += 4 + len(req.Secondary)
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	buf[4] = req.Op
	binary.LittleEndian.PutUint32(buf[5:9], uint32(len(req.Primary)))
	n := copy(buf[9:], req.Primary)
	offset := 9 + n
	if req.Op == OpReplace {
		binary.LittleEndian.PutUint32(buf[offset:offset+4], uint32(len(req.Secondary)))
		copy(buf[offset+4:], req.Secondary)
	}
	return buf
}
