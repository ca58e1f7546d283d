// Slotted page layout shared by every relation fork. A page is a fixed-size
// byte array: header, growing line pointer array, free hole, item data packed
// against the special area at the end.
//
//	+--------+-------------+...free...+-----------+---------+
//	| header | lp1 lp2 ... |          | item data | special |
//	+--------+-------------+...free...+-----------+---------+
package page

import (
	"encoding/binary"
	"errors"

	"brin/pkg/common"
)

const (
	// Size is the byte size of a page.
	Size = 8192

	headerSize = 16
	lpSize     = 4

	lsnOffset     = 0
	flagsOffset   = 8
	lowerOffset   = 10
	upperOffset   = 12
	specialOffset = 14
)

var (
	ErrNoSpace     = errors.New("page: not enough free space")
	ErrBadOffset   = errors.New("page: offset out of bounds")
	ErrSlotIsUsed  = errors.New("page: target slot is used")
	ErrCorrupted   = errors.New("page: corrupted layout")
	ErrItemTooBig  = errors.New("page: item exceeds page capacity")
	ErrUnformatted = errors.New("page: page is not initialized")
)

type Page []byte

func New() Page {
	return make(Page, Size)
}

// Init formats p with an empty line pointer array and a special area of the
// given size at the end. The special size is rounded up to 8 bytes.
func Init(p Page, specialSize uint16) {
	for i := range p {
		p[i] = 0
	}
	specialSize = align(specialSize)
	p.SetLSN(0)
	p.setFlags(0)
	p.setLower(headerSize)
	p.setUpper(Size - specialSize)
	p.setSpecial(Size - specialSize)
}

func align(n uint16) uint16 { return (n + 7) &^ 7 }

// IsNew reports whether the page is all-zero, i.e. freshly extended and never
// formatted.
func (p Page) IsNew() bool { return p.upper() == 0 }

func (p Page) LSN() uint64       { return binary.LittleEndian.Uint64(p[lsnOffset:]) }
func (p Page) SetLSN(lsn uint64) { binary.LittleEndian.PutUint64(p[lsnOffset:], lsn) }

func (p Page) flags() uint16     { return binary.LittleEndian.Uint16(p[flagsOffset:]) }
func (p Page) setFlags(f uint16) { binary.LittleEndian.PutUint16(p[flagsOffset:], f) }

func (p Page) lower() uint16      { return binary.LittleEndian.Uint16(p[lowerOffset:]) }
func (p Page) setLower(v uint16)  { binary.LittleEndian.PutUint16(p[lowerOffset:], v) }
func (p Page) upper() uint16      { return binary.LittleEndian.Uint16(p[upperOffset:]) }
func (p Page) setUpper(v uint16)  { binary.LittleEndian.PutUint16(p[upperOffset:], v) }
func (p Page) special() uint16    { return binary.LittleEndian.Uint16(p[specialOffset:]) }
func (p Page) setSpecial(v uint16) { binary.LittleEndian.PutUint16(p[specialOffset:], v) }

// Special returns the special area at the end of the page.
func (p Page) Special() []byte { return p[p.special():] }

// Contents returns the area between the header and the special area. Used by
// pages that store a single raw struct (metapage) or a packed array (revmap)
// instead of line-pointed items.
func (p Page) Contents() []byte { return p[headerSize:p.special()] }

// MaxOffset returns the number of line pointer slots on the page.
func (p Page) MaxOffset() common.OffsetNumber {
	lower := p.lower()
	if lower <= headerSize {
		return 0
	}
	return common.OffsetNumber((lower - headerSize) / lpSize)
}

func (p Page) lpPos(off common.OffsetNumber) int {
	return headerSize + int(off-1)*lpSize
}

func (p Page) itemOff(off common.OffsetNumber) uint16 {
	return binary.LittleEndian.Uint16(p[p.lpPos(off):])
}

func (p Page) itemLen(off common.OffsetNumber) uint16 {
	return binary.LittleEndian.Uint16(p[p.lpPos(off)+2:])
}

func (p Page) setLP(off common.OffsetNumber, dataOff, dataLen uint16) {
	binary.LittleEndian.PutUint16(p[p.lpPos(off):], dataOff)
	binary.LittleEndian.PutUint16(p[p.lpPos(off)+2:], dataLen)
}

// IsUsed reports whether the slot holds a live item.
func (p Page) IsUsed(off common.OffsetNumber) bool {
	if off < common.FirstOffsetNumber || off > p.MaxOffset() {
		return false
	}
	return p.itemLen(off) != 0
}

// Item returns the bytes of the item at the given slot, or nil if the slot is
// unused or out of range. The returned slice aliases the page.
func (p Page) Item(off common.OffsetNumber) []byte {
	if !p.IsUsed(off) {
		return nil
	}
	start := p.itemOff(off)
	return p[start : start+p.itemLen(off)]
}

// ItemSize returns the stored length of the item at the given slot.
func (p Page) ItemSize(off common.OffsetNumber) uint16 {
	if !p.IsUsed(off) {
		return 0
	}
	return p.itemLen(off)
}

// FreeSpace returns the space available for a new item, accounting for the
// line pointer it would need. Zero if the hole cannot fit even the pointer.
func (p Page) FreeSpace() int {
	space := int(p.upper()) - int(p.lower())
	space -= lpSize
	if space < 0 {
		return 0
	}
	return space
}

// ExactFreeSpace returns the raw hole size with no line pointer reserved.
// Same-page updates reuse the old slot, so this is their budget.
func (p Page) ExactFreeSpace() int {
	space := int(p.upper()) - int(p.lower())
	if space < 0 {
		return 0
	}
	return space
}

// MaxItemSize is the largest item an empty page can hold.
func MaxItemSize(specialSize uint16) int {
	return (Size - headerSize - lpSize - int(align(specialSize))) &^ 7
}

// AddItem places item on the page and returns its slot. If target is
// InvalidOffsetNumber the first unused slot is reused, else a new one is
// appended. A non-invalid target addresses that exact slot; with overwrite
// set the slot may currently be unused (the same-page update path), without
// it the slot must be past the current array.
func (p Page) AddItem(item []byte, target common.OffsetNumber, overwrite bool) (common.OffsetNumber, error) {
	if p.IsNew() {
		return common.InvalidOffsetNumber, ErrUnformatted
	}
	size := uint16(len(item))
	if len(item) == 0 || int(size) > MaxItemSize(Size-p.special()) {
		return common.InvalidOffsetNumber, ErrItemTooBig
	}
	alloc := align(size)

	maxOff := p.MaxOffset()
	off := target
	needNewSlot := false
	switch {
	case target == common.InvalidOffsetNumber:
		off = maxOff + 1
		for i := common.FirstOffsetNumber; i <= maxOff; i++ {
			if !p.IsUsed(i) {
				off = i
				break
			}
		}
		needNewSlot = off > maxOff
	case target <= maxOff:
		if p.IsUsed(target) && !overwrite {
			return common.InvalidOffsetNumber, ErrSlotIsUsed
		}
	default:
		// target beyond the current array: grow it up to the target slot
		if target != maxOff+1 && !overwrite {
			return common.InvalidOffsetNumber, ErrBadOffset
		}
		needNewSlot = true
	}

	lower := p.lower()
	upper := p.upper()
	grow := 0
	if needNewSlot {
		grow = int(off-maxOff) * lpSize
	}
	if int(upper)-int(lower)-grow < int(alloc) {
		return common.InvalidOffsetNumber, ErrNoSpace
	}

	if needNewSlot {
		// zero any intermediate slots created by a far target
		for i := maxOff + 1; i < off; i++ {
			p.setLP(i, 0, 0)
		}
		p.setLower(lower + uint16(grow))
	}
	upper -= alloc
	copy(p[upper:], item)
	p.setUpper(upper)
	p.setLP(off, upper, size)
	return off, nil
}

// OverwriteItem replaces the item at a used slot, keeping the slot number.
// The old item's space is reclaimed first, so the caller must have checked
// that the page can absorb any growth; running out of space here loses the
// old item.
func (p Page) OverwriteItem(off common.OffsetNumber, item []byte) error {
	if !p.IsUsed(off) {
		return ErrBadOffset
	}
	p.setLP(off, 0, 0)
	p.compactData()
	_, err := p.AddItem(item, off, true)
	return err
}

// DeleteItemNoCompact removes the item at the given slot while preserving the
// numbering of every other slot. The data area is defragmented; trailing
// unused slots are trimmed from the array.
func (p Page) DeleteItemNoCompact(off common.OffsetNumber) {
	if !p.IsUsed(off) {
		return
	}
	p.setLP(off, 0, 0)
	p.compactData()

	maxOff := p.MaxOffset()
	for maxOff > 0 && !p.IsUsed(maxOff) {
		maxOff--
	}
	p.setLower(headerSize + uint16(maxOff)*lpSize)
}

// compactData repacks live items against the special area, keeping slot
// numbers stable.
func (p Page) compactData() {
	special := p.special()
	scratch := make([]byte, 0, special)
	type slot struct {
		off common.OffsetNumber
		len uint16
	}
	var slots []slot
	for i := common.FirstOffsetNumber; i <= p.MaxOffset(); i++ {
		if p.IsUsed(i) {
			slots = append(slots, slot{off: i, len: p.itemLen(i)})
			scratch = append(scratch, p.Item(i)...)
			pad := int(align(p.itemLen(i)) - p.itemLen(i))
			for j := 0; j < pad; j++ {
				scratch = append(scratch, 0)
			}
		}
	}
	upper := special
	pos := 0
	for _, s := range slots {
		alloc := align(s.len)
		upper -= alloc
		copy(p[upper:], scratch[pos:pos+int(alloc)])
		p.setLP(s.off, upper, s.len)
		pos += int(alloc)
	}
	p.setUpper(upper)
}
