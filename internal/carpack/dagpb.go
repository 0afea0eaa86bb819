package carpack

import "encoding/binary"

// Hand-rolled encoders for the two frozen protobuf schemas of UnixFS
// dag-pb nodes. Canonical dag-pb serializes Links (field 2) before Data
// (field 1), which is why PBNode below writes them in that order.

// encodePBLink encodes PBLink{Hash=1 bytes, Name=2 string, Tsize=3 varint}.
func encodePBLink(hash []byte, name string, tsize uint64) []byte {
	b := make([]byte, 0, len(hash)+len(name)+16)
	b = append(b, 0x0a)
	b = binary.AppendUvarint(b, uint64(len(hash)))
	b = append(b, hash...)
	b = append(b, 0x12)
	b = binary.AppendUvarint(b, uint64(len(name)))
	b = append(b, name...)
	b = append(b, 0x18)
	b = binary.AppendUvarint(b, tsize)
	return b
}

// encodePBNode encodes PBNode{Data=1 bytes, Links=2 repeated}, links first.
func encodePBNode(links [][]byte, data []byte) []byte {
	size := len(data) + 8
	for _, l := range links {
		size += len(l) + 8
	}
	b := make([]byte, 0, size)
	for _, l := range links {
		b = append(b, 0x12)
		b = binary.AppendUvarint(b, uint64(len(l)))
		b = append(b, l...)
	}
	b = append(b, 0x0a)
	b = binary.AppendUvarint(b, uint64(len(data)))
	b = append(b, data...)
	return b
}

// UnixFS Data message: Type=1 varint, Data=2 bytes, filesize=3 varint,
// blocksizes=4 repeated varint. Type values: 1 directory, 2 file.

func encodeUnixFSDirectory() []byte {
	return []byte{0x08, 0x01}
}

func encodeUnixFSFile(filesize uint64, blocksizes []uint64) []byte {
	b := make([]byte, 0, 4+10*len(blocksizes))
	b = append(b, 0x08, 0x02)
	b = append(b, 0x18)
	b = binary.AppendUvarint(b, filesize)
	for _, bs := range blocksizes {
		b = append(b, 0x20)
		b = binary.AppendUvarint(b, bs)
	}
	return b
}
