// Package carpack serializes a flat directory of files into a CARv1
// archive and derives the root content identifier. Files are chunked into
// raw leaves, multi-chunk files get a UnixFS file node, and the archive
// root is a UnixFS directory linking every file by name with no wrapping
// directory around it. The same names and bytes always produce the same
// rootCID.
package carpack

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/multiformats/go-varint"
)

// LeafChunkSize matches the 256 KiB default of the unixfs importer.
const LeafChunkSize = 256 * 1024

var ErrPacking = errors.New("packing error")

type Result struct {
	CarPath string
	RootCID string
}

type Packer struct{}

func NewPacker() *Packer {
	return &Packer{}
}

// fileEntry carries everything computed about one input file during the
// hashing pass, so the write pass only has to re-read the raw bytes.
type fileEntry struct {
	name      string
	path      string
	leaves    []cid.Cid
	leafSizes []uint64
	node      []byte // encoded dag-pb file node; nil when a single leaf is the file
	root      cid.Cid
	tsize     uint64
}

// Pack encodes folder into a CAR archive at outCarPath and returns the
// root CID. The input folder is left untouched. An empty folder is valid
// and yields the deterministic empty-directory root.
func (p *Packer) Pack(folder, outCarPath string) (Result, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return Result{}, fmt.Errorf("%w: reading %s: %v", ErrPacking, folder, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	files := make([]*fileEntry, 0, len(names))
	for _, name := range names {
		fe, err := hashFile(name, filepath.Join(folder, name))
		if err != nil {
			return Result{}, fmt.Errorf("%w: hashing %s: %v", ErrPacking, name, err)
		}
		files = append(files, fe)
	}

	dirNode, root, err := buildDirectory(files)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrPacking, err)
	}

	if err := writeCar(outCarPath, root, dirNode, files); err != nil {
		os.Remove(outCarPath)
		return Result{}, fmt.Errorf("%w: writing %s: %v", ErrPacking, outCarPath, err)
	}

	return Result{CarPath: outCarPath, RootCID: root.String()}, nil
}

// hashFile chunks one file into raw leaves and, when more than one leaf is
// needed, builds the UnixFS file node that ties them together.
func hashFile(name, path string) (*fileEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fe := &fileEntry{name: name, path: path}

	buf := make([]byte, LeafChunkSize)
	var total uint64
	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			leaf, err := rawLeafCID(buf[:n])
			if err != nil {
				return nil, err
			}
			fe.leaves = append(fe.leaves, leaf)
			fe.leafSizes = append(fe.leafSizes, uint64(n))
			total += uint64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	// An empty file is a single raw leaf over zero bytes.
	if len(fe.leaves) == 0 {
		leaf, err := rawLeafCID(nil)
		if err != nil {
			return nil, err
		}
		fe.leaves = append(fe.leaves, leaf)
		fe.leafSizes = append(fe.leafSizes, 0)
	}

	if len(fe.leaves) == 1 {
		fe.root = fe.leaves[0]
		fe.tsize = fe.leafSizes[0]
		return fe, nil
	}

	links := make([][]byte, len(fe.leaves))
	for i, leaf := range fe.leaves {
		links[i] = encodePBLink(leaf.Bytes(), "", fe.leafSizes[i])
	}
	fe.node = encodePBNode(links, encodeUnixFSFile(total, fe.leafSizes))

	root, err := dagPBCID(fe.node)
	if err != nil {
		return nil, err
	}
	fe.root = root
	fe.tsize = uint64(len(fe.node)) + total
	return fe, nil
}

func buildDirectory(files []*fileEntry) ([]byte, cid.Cid, error) {
	links := make([][]byte, len(files))
	for i, fe := range files {
		links[i] = encodePBLink(fe.root.Bytes(), fe.name, fe.tsize)
	}
	node := encodePBNode(links, encodeUnixFSDirectory())
	root, err := dagPBCID(node)
	if err != nil {
		return nil, cid.Undef, err
	}
	return node, root, nil
}

// writeCar streams the archive: header, root directory block, then per file
// the file node (if any) followed by its leaf blocks, re-read from disk
// with the same chunk boundaries as the hashing pass.
func writeCar(outCarPath string, root cid.Cid, dirNode []byte, files []*fileEntry) error {
	out, err := os.Create(outCarPath)
	if err != nil {
		return err
	}
	defer out.Close()

	header := encodeCarHeader(root)
	if _, err := out.Write(varint.ToUvarint(uint64(len(header)))); err != nil {
		return err
	}
	if _, err := out.Write(header); err != nil {
		return err
	}

	if err := writeBlock(out, root, dirNode); err != nil {
		return err
	}

	buf := make([]byte, LeafChunkSize)
	for _, fe := range files {
		if fe.node != nil {
			if err := writeBlock(out, fe.root, fe.node); err != nil {
				return err
			}
		}
		if err := writeLeafBlocks(out, fe, buf); err != nil {
			return err
		}
	}
	return out.Close()
}

func writeLeafBlocks(out io.Writer, fe *fileEntry, buf []byte) error {
	f, err := os.Open(fe.path)
	if err != nil {
		return err
	}
	defer f.Close()

	for i, leaf := range fe.leaves {
		n := int(fe.leafSizes[i])
		if _, err := io.ReadFull(f, buf[:n]); err != nil {
			return err
		}
		if err := writeBlock(out, leaf, buf[:n]); err != nil {
			return err
		}
	}
	return nil
}

func writeBlock(w io.Writer, c cid.Cid, data []byte) error {
	cb := c.Bytes()
	if _, err := w.Write(varint.ToUvarint(uint64(len(cb) + len(data)))); err != nil {
		return err
	}
	if _, err := w.Write(cb); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func rawLeafCID(data []byte) (cid.Cid, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

func dagPBCID(node []byte) (cid.Cid, error) {
	mh, err := multihash.Sum(node, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.DagProtobuf, mh), nil
}

// encodeCarHeader encodes the CARv1 header, the dag-cbor map
// {"roots": [root], "version": 1} with keys in canonical order.
func encodeCarHeader(root cid.Cid) []byte {
	var b bytes.Buffer
	b.WriteByte(0xa2) // map(2)

	b.WriteByte(0x65) // text(5)
	b.WriteString("roots")
	b.WriteByte(0x81)           // array(1)
	b.Write([]byte{0xd8, 0x2a}) // tag(42)
	// CIDs inside cbor carry the identity multibase prefix byte.
	cb := append([]byte{0x00}, root.Bytes()...)
	writeCborByteStringHeader(&b, len(cb))
	b.Write(cb)

	b.WriteByte(0x67) // text(7)
	b.WriteString("version")
	b.WriteByte(0x01) // uint 1

	return b.Bytes()
}

func writeCborByteStringHeader(b *bytes.Buffer, n int) {
	switch {
	case n < 24:
		b.WriteByte(0x40 | byte(n))
	case n < 256:
		b.WriteByte(0x58)
		b.WriteByte(byte(n))
	default:
		b.WriteByte(0x59)
		b.WriteByte(byte(n >> 8))
		b.WriteByte(byte(n))
	}
}
