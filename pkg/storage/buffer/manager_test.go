package buffer

import (
	"path/filepath"
	"sync"
	"testing"

	"brin/pkg/common"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
)

func TestExtendAndPin(t *testing.T) {
	dir := t.TempDir()
	mgr, err := Open(filepath.Join(dir, "rel"))
	assert.Nil(t, err)
	defer mgr.Close()

	assert.Equal(t, common.BlockNumber(0), mgr.BlockCount())
	_, err = mgr.Pin(0)
	assert.NotNil(t, err)

	buf, err := mgr.Extend()
	assert.Nil(t, err)
	assert.Equal(t, common.BlockNumber(0), buf.Block())
	assert.Equal(t, common.BlockNumber(1), mgr.BlockCount())
	assert.True(t, buf.Page().IsNew())
	mgr.Unpin(buf)

	again, err := mgr.Pin(0)
	assert.Nil(t, err)
	assert.Equal(t, buf, again)
	mgr.Unpin(again)
}

func TestFlushAndReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rel")
	mgr, err := Open(path)
	assert.Nil(t, err)

	buf, err := mgr.Extend()
	assert.Nil(t, err)
	buf.Lock()
	copy(buf.Page()[100:], "persisted")
	buf.MarkDirty()
	buf.Unlock()
	mgr.Unpin(buf)
	assert.Nil(t, mgr.Close())

	mgr, err = Open(path)
	assert.Nil(t, err)
	defer mgr.Close()
	assert.Equal(t, common.BlockNumber(1), mgr.BlockCount())
	buf, err = mgr.Pin(0)
	assert.Nil(t, err)
	assert.Equal(t, "persisted", string(buf.Page()[100:109]))
	assert.False(t, buf.IsDirty())
	mgr.Unpin(buf)
}

func TestConcurrentExtend(t *testing.T) {
	dir := t.TempDir()
	mgr, err := Open(filepath.Join(dir, "rel"))
	assert.Nil(t, err)
	defer mgr.Close()

	pool, err := ants.NewPool(8)
	assert.Nil(t, err)
	defer pool.Release()

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[common.BlockNumber]bool)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		err = pool.Submit(func() {
			defer wg.Done()
			buf, err := mgr.Extend()
			assert.Nil(t, err)
			mu.Lock()
			assert.False(t, seen[buf.Block()])
			seen[buf.Block()] = true
			mu.Unlock()
			mgr.Unpin(buf)
		})
		assert.Nil(t, err)
	}
	wg.Wait()
	assert.Equal(t, common.BlockNumber(32), mgr.BlockCount())
}
