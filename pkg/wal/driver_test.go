package wal

import (
	"testing"

	"github.com/jiangxinmeng1/logstore/pkg/entry"
	"github.com/stretchr/testify/assert"
)

func TestDriverAppend(t *testing.T) {
	d, err := NewDriver(t.TempDir(), "wal", nil)
	assert.Nil(t, err)
	defer d.Close()

	typ := entry.Type(entry.ETCustomizedStart)
	lsn, err := d.Append(typ, []byte("first"))
	assert.Nil(t, err)
	assert.Equal(t, uint64(0), lsn)
	lsn, err = d.Append(typ, []byte("second"))
	assert.Nil(t, err)
	assert.Equal(t, uint64(1), lsn)
}
