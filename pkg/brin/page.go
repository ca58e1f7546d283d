package brin

import (
	"encoding/binary"
	"fmt"

	"brin/pkg/common"
	"brin/pkg/storage/page"
)

// Special area of every index page, 8 bytes at the page end:
// byte 0 flags, bytes 6..8 the page type tag.
const (
	specialSize = 8

	PageTypeMeta    uint16 = 0xF091
	PageTypeRevmap  uint16 = 0xF092
	PageTypeRegular uint16 = 0xF093

	// EvacuatePage marks a regular page being drained for revmap use; no
	// new tuples may be placed on it.
	EvacuatePage uint8 = 0x01
)

const (
	MetaMagic      uint32 = 0xA8109CFA
	CurrentVersion uint32 = 1

	metaBlock common.BlockNumber = 0
)

func pageType(p page.Page) uint16 {
	sp := p.Special()
	return binary.LittleEndian.Uint16(sp[specialSize-2:])
}

func setPageType(p page.Page, t uint16) {
	sp := p.Special()
	binary.LittleEndian.PutUint16(sp[specialSize-2:], t)
}

func pageFlags(p page.Page) uint8 { return p.Special()[0] }

func setPageFlags(p page.Page, f uint8) { p.Special()[0] = f }

func isRegularPage(p page.Page) bool { return pageType(p) == PageTypeRegular }
func isRevmapPage(p page.Page) bool  { return pageType(p) == PageTypeRevmap }
func isMetaPage(p page.Page) bool    { return pageType(p) == PageTypeMeta }

// initPage formats p as an index page of the given type.
func initPage(p page.Page, t uint16) {
	page.Init(p, specialSize)
	setPageType(p, t)
}

// maxItemSize is the largest tuple a regular page can hold. A page can carry
// a single item, unlike denser index types.
var maxItemSize = page.MaxItemSize(specialSize)

// pageFreeSpace returns the insertable free space of a regular page; zero
// for other page types and for pages under evacuation.
func pageFreeSpace(p page.Page) int {
	if !isRegularPage(p) || pageFlags(p)&EvacuatePage != 0 {
		return 0
	}
	return p.FreeSpace()
}

// Metapage contents, stored at the start of block 0's content area.
type metadata struct {
	Magic          uint32
	Version        uint32
	PagesPerRange  common.BlockNumber
	LastRevmapPage common.BlockNumber
}

func initMetaPage(p page.Page, pagesPerRange common.BlockNumber) {
	initPage(p, PageTypeMeta)
	md := metadata{
		Magic:         MetaMagic,
		Version:       CurrentVersion,
		PagesPerRange: pagesPerRange,
		// 0 is the metapage itself, i.e. no revmap page exists yet; the
		// first extension creates block 1.
		LastRevmapPage: 0,
	}
	writeMetadata(p, md)
}

func writeMetadata(p page.Page, md metadata) {
	c := p.Contents()
	binary.LittleEndian.PutUint32(c[0:], md.Magic)
	binary.LittleEndian.PutUint32(c[4:], md.Version)
	binary.LittleEndian.PutUint32(c[8:], md.PagesPerRange)
	binary.LittleEndian.PutUint32(c[12:], md.LastRevmapPage)
}

func readMetadata(p page.Page) (metadata, error) {
	if p.IsNew() || !isMetaPage(p) {
		return metadata{}, fmt.Errorf("%w: block 0 is not a metapage", ErrNotBrinIndex)
	}
	c := p.Contents()
	md := metadata{
		Magic:          binary.LittleEndian.Uint32(c[0:]),
		Version:        binary.LittleEndian.Uint32(c[4:]),
		PagesPerRange:  binary.LittleEndian.Uint32(c[8:]),
		LastRevmapPage: binary.LittleEndian.Uint32(c[12:]),
	}
	if md.Magic != MetaMagic {
		return metadata{}, fmt.Errorf("%w: bad magic %#x", ErrNotBrinIndex, md.Magic)
	}
	if md.Version != CurrentVersion {
		return metadata{}, fmt.Errorf("%w: unsupported version %d", ErrCorruptPage, md.Version)
	}
	return md, nil
}
