package btree

import (
	"encoding/binary"
	"hash/crc32"
	"os"

	"github.com/lodestone-search/lodestone/pkg/errors"
)

// A base file is one of the two alternating root descriptors for a table.
// It records, for a single committed revision: the root block, the number of
// logical entries, the end of the allocated block range, and the freelist of
// blocks no longer reachable from any revision >= the recorded one. The
// whole file is covered by a trailing CRC so a torn write is detected and
// the other base used instead.
var baseMagic = []byte("LSTBASE\x01")

type freeBlock struct {
	blk     uint32
	freedAt uint64 // first revision the block is unreachable from
}

type baseInfo struct {
	blockSize  uint32
	compress   bool
	revision   uint64
	rootBlk    uint32
	nextBlk    uint32
	entryCount uint64
	freelist   []freeBlock
}

func (b *baseInfo) serialize() []byte {
	buf := make([]byte, 0, 64+12*len(b.freelist))
	buf = append(buf, baseMagic...)
	buf = binary.LittleEndian.AppendUint32(buf, b.blockSize)
	var cmp uint32
	if b.compress {
		cmp = 1
	}
	buf = binary.LittleEndian.AppendUint32(buf, cmp)
	buf = binary.LittleEndian.AppendUint64(buf, b.revision)
	buf = binary.LittleEndian.AppendUint32(buf, b.rootBlk)
	buf = binary.LittleEndian.AppendUint32(buf, b.nextBlk)
	buf = binary.LittleEndian.AppendUint64(buf, b.entryCount)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b.freelist)))
	for _, f := range b.freelist {
		buf = binary.LittleEndian.AppendUint32(buf, f.blk)
		buf = binary.LittleEndian.AppendUint64(buf, f.freedAt)
	}
	return binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
}

func parseBase(buf []byte) (*baseInfo, error) {
	if len(buf) < len(baseMagic)+36+4 {
		return nil, errors.New(errors.ErrDatabaseCorrupt, "base file too short")
	}
	if string(buf[:len(baseMagic)]) != string(baseMagic) {
		return nil, errors.New(errors.ErrDatabaseCorrupt, "base file bad magic")
	}
	body, sum := buf[:len(buf)-4], binary.LittleEndian.Uint32(buf[len(buf)-4:])
	if crc32.ChecksumIEEE(body) != sum {
		return nil, errors.New(errors.ErrDatabaseCorrupt, "base file checksum mismatch")
	}
	p := len(baseMagic)
	b := &baseInfo{}
	b.blockSize = binary.LittleEndian.Uint32(body[p:])
	p += 4
	b.compress = binary.LittleEndian.Uint32(body[p:]) != 0
	p += 4
	b.revision = binary.LittleEndian.Uint64(body[p:])
	p += 8
	b.rootBlk = binary.LittleEndian.Uint32(body[p:])
	p += 4
	b.nextBlk = binary.LittleEndian.Uint32(body[p:])
	p += 4
	b.entryCount = binary.LittleEndian.Uint64(body[p:])
	p += 8
	nfree := int(binary.LittleEndian.Uint32(body[p:]))
	p += 4
	if len(body)-p != 12*nfree {
		return nil, errors.New(errors.ErrDatabaseCorrupt, "base file freelist truncated")
	}
	for i := 0; i < nfree; i++ {
		b.freelist = append(b.freelist, freeBlock{
			blk:     binary.LittleEndian.Uint32(body[p:]),
			freedAt: binary.LittleEndian.Uint64(body[p+4:]),
		})
		p += 12
	}
	return b, nil
}

// writeBase replaces path with the serialized base, fsyncing before return.
func writeBase(path string, b *baseInfo) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return errors.Newf(errors.ErrDatabaseIO, "creating base %s: %v", path, err)
	}
	if _, err := f.Write(b.serialize()); err != nil {
		f.Close()
		return errors.Newf(errors.ErrDatabaseIO, "writing base %s: %v", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Newf(errors.ErrDatabaseIO, "syncing base %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		return errors.Newf(errors.ErrDatabaseIO, "closing base %s: %v", path, err)
	}
	return nil
}

// readBase loads and validates a base file; a missing file returns (nil, nil).
func readBase(path string) (*baseInfo, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Newf(errors.ErrDatabaseIO, "reading base %s: %v", path, err)
	}
	b, err := parseBase(buf)
	if err != nil {
		// A torn base is recoverable as long as the other one is intact.
		return nil, nil
	}
	return b, nil
}
