package brin

import (
	"bytes"
	"encoding/binary"

	"brin/pkg/common"

	"github.com/jiangxinmeng1/logstore/pkg/entry"
)

type walRecordType = entry.Type

const (
	ETCreateIndex walRecordType = iota + entry.ETCustomizedStart
	ETInsert
	ETUpdate
	ETSamepageUpdate
	ETRevmapExtend
	ETDesummarize
	ETInitPage
)

// walRecord is the logical payload of one log entry. Records carry enough
// state to redo the page change on a clean replay; physical page images are
// never logged.
type walRecord interface {
	Marshal() ([]byte, error)
	Unmarshal(buf []byte) error
}

type createIndexRecord struct {
	Version       uint32
	PagesPerRange common.BlockNumber
}

func (r *createIndexRecord) Marshal() ([]byte, error) {
	var w bytes.Buffer
	binary.Write(&w, binary.BigEndian, r.Version)
	binary.Write(&w, binary.BigEndian, r.PagesPerRange)
	return w.Bytes(), nil
}

func (r *createIndexRecord) Unmarshal(buf []byte) error {
	rd := bytes.NewBuffer(buf)
	if err := binary.Read(rd, binary.BigEndian, &r.Version); err != nil {
		return err
	}
	return binary.Read(rd, binary.BigEndian, &r.PagesPerRange)
}

// insertRecord covers both the plain insert and, when OldTid is valid, the
// cross-page update that retires the previous tuple.
type insertRecord struct {
	HeapBlk   common.BlockNumber
	RevmapBlk common.BlockNumber
	Tid       common.ItemPointer
	OldTid    common.ItemPointer
	Tuple     []byte
}

func (r *insertRecord) Marshal() ([]byte, error) {
	var w bytes.Buffer
	binary.Write(&w, binary.BigEndian, r.HeapBlk)
	binary.Write(&w, binary.BigEndian, r.RevmapBlk)
	if _, err := common.WriteItemPointer(r.Tid, &w); err != nil {
		return nil, err
	}
	if _, err := common.WriteItemPointer(r.OldTid, &w); err != nil {
		return nil, err
	}
	if _, err := common.WriteBytes(r.Tuple, &w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func (r *insertRecord) Unmarshal(buf []byte) error {
	rd := bytes.NewBuffer(buf)
	if err := binary.Read(rd, binary.BigEndian, &r.HeapBlk); err != nil {
		return err
	}
	if err := binary.Read(rd, binary.BigEndian, &r.RevmapBlk); err != nil {
		return err
	}
	var err error
	if r.Tid, _, err = common.ReadItemPointer(rd); err != nil {
		return err
	}
	if r.OldTid, _, err = common.ReadItemPointer(rd); err != nil {
		return err
	}
	r.Tuple, _, err = common.ReadBytes(rd)
	return err
}

type samepageUpdateRecord struct {
	Tid   common.ItemPointer
	Tuple []byte
}

func (r *samepageUpdateRecord) Marshal() ([]byte, error) {
	var w bytes.Buffer
	if _, err := common.WriteItemPointer(r.Tid, &w); err != nil {
		return nil, err
	}
	if _, err := common.WriteBytes(r.Tuple, &w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func (r *samepageUpdateRecord) Unmarshal(buf []byte) error {
	rd := bytes.NewBuffer(buf)
	var err error
	if r.Tid, _, err = common.ReadItemPointer(rd); err != nil {
		return err
	}
	r.Tuple, _, err = common.ReadBytes(rd)
	return err
}

type revmapExtendRecord struct {
	TargetBlk common.BlockNumber
}

func (r *revmapExtendRecord) Marshal() ([]byte, error) {
	var w bytes.Buffer
	binary.Write(&w, binary.BigEndian, r.TargetBlk)
	return w.Bytes(), nil
}

func (r *revmapExtendRecord) Unmarshal(buf []byte) error {
	return binary.Read(bytes.NewBuffer(buf), binary.BigEndian, &r.TargetBlk)
}

type desummarizeRecord struct {
	HeapBlk   common.BlockNumber
	RevmapBlk common.BlockNumber
	Tid       common.ItemPointer
}

func (r *desummarizeRecord) Marshal() ([]byte, error) {
	var w bytes.Buffer
	binary.Write(&w, binary.BigEndian, r.HeapBlk)
	binary.Write(&w, binary.BigEndian, r.RevmapBlk)
	if _, err := common.WriteItemPointer(r.Tid, &w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func (r *desummarizeRecord) Unmarshal(buf []byte) error {
	rd := bytes.NewBuffer(buf)
	if err := binary.Read(rd, binary.BigEndian, &r.HeapBlk); err != nil {
		return err
	}
	if err := binary.Read(rd, binary.BigEndian, &r.RevmapBlk); err != nil {
		return err
	}
	var err error
	r.Tid, _, err = common.ReadItemPointer(rd)
	return err
}

type initPageRecord struct {
	Blk      common.BlockNumber
	PageType uint16
}

func (r *initPageRecord) Marshal() ([]byte, error) {
	var w bytes.Buffer
	binary.Write(&w, binary.BigEndian, r.Blk)
	binary.Write(&w, binary.BigEndian, r.PageType)
	return w.Bytes(), nil
}

func (r *initPageRecord) Unmarshal(buf []byte) error {
	rd := bytes.NewBuffer(buf)
	if err := binary.Read(rd, binary.BigEndian, &r.Blk); err != nil {
		return err
	}
	return binary.Read(rd, binary.BigEndian, &r.PageType)
}
