package wal

import (
	"testing"

	"github.com/jiangxinmeng1/logstore/pkg/entry"
	"github.com/stretchr/testify/assert"
)

func TestMemDriverAppendReplay(t *testing.T) {
	d := NewMemDriver()
	typ := entry.Type(entry.ETCustomizedStart)

	for i := 0; i < 5; i++ {
		lsn, err := d.Append(typ, []byte{byte(i)})
		assert.Nil(t, err)
		assert.Equal(t, uint64(i), lsn)
	}
	assert.Equal(t, uint64(5), d.Len())

	var seen []byte
	err := d.Replay(func(tp entry.Type, lsn uint64, payload []byte) error {
		assert.Equal(t, typ, tp)
		assert.Equal(t, uint64(len(seen)), lsn)
		seen = append(seen, payload[0])
		return nil
	})
	assert.Nil(t, err)
	assert.Equal(t, []byte{0, 1, 2, 3, 4}, seen)
}

func TestMemDriverPayloadCopied(t *testing.T) {
	d := NewMemDriver()
	buf := []byte{42}
	_, err := d.Append(entry.Type(entry.ETCustomizedStart), buf)
	assert.Nil(t, err)
	buf[0] = 7

	d.Replay(func(_ entry.Type, _ uint64, payload []byte) error {
		assert.Equal(t, byte(42), payload[0])
		return nil
	})
}

func TestMemDriverTruncateAt(t *testing.T) {
	d := NewMemDriver()
	for i := 0; i < 10; i++ {
		d.Append(entry.Type(entry.ETCustomizedStart), []byte{byte(i)})
	}
	d.TruncateAt(4)

	count := 0
	d.Replay(func(_ entry.Type, lsn uint64, _ []byte) error {
		assert.Less(t, lsn, uint64(4))
		count++
		return nil
	})
	assert.Equal(t, 4, count)
	// LSNs keep counting past the truncation point
	lsn, err := d.Append(entry.Type(entry.ETCustomizedStart), []byte{99})
	assert.Nil(t, err)
	assert.Equal(t, uint64(10), lsn)
}
