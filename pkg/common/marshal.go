package common

import (
	"encoding/binary"
	"io"
)

func WriteString(str string, w io.Writer) (n int64, err error) {
	buf := []byte(str)
	if err = binary.Write(w, binary.BigEndian, uint16(len(buf))); err != nil {
		return
	}
	wn, err := w.Write(buf)
	return int64(wn + 2), err
}

func ReadString(r io.Reader) (str string, n int64, err error) {
	var size uint16
	if err = binary.Read(r, binary.BigEndian, &size); err != nil {
		return
	}
	buf := make([]byte, size)
	if _, err = io.ReadFull(r, buf); err != nil {
		return
	}
	return string(buf), int64(size) + 2, nil
}

func WriteBytes(buf []byte, w io.Writer) (n int64, err error) {
	if err = binary.Write(w, binary.BigEndian, uint32(len(buf))); err != nil {
		return
	}
	wn, err := w.Write(buf)
	return int64(wn + 4), err
}

func ReadBytes(r io.Reader) (buf []byte, n int64, err error) {
	var size uint32
	if err = binary.Read(r, binary.BigEndian, &size); err != nil {
		return
	}
	buf = make([]byte, size)
	if _, err = io.ReadFull(r, buf); err != nil {
		return
	}
	return buf, int64(size) + 4, nil
}

func WriteItemPointer(ip ItemPointer, w io.Writer) (n int64, err error) {
	if err = binary.Write(w, binary.BigEndian, ip.Block); err != nil {
		return
	}
	if err = binary.Write(w, binary.BigEndian, ip.Offset); err != nil {
		return
	}
	return 6, nil
}

func ReadItemPointer(r io.Reader) (ip ItemPointer, n int64, err error) {
	if err = binary.Read(r, binary.BigEndian, &ip.Block); err != nil {
		return
	}
	if err = binary.Read(r, binary.BigEndian, &ip.Offset); err != nil {
		return
	}
	return ip, 6, nil
}
