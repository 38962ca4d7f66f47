package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLock(t *testing.T) *FileLock {
	t.Helper()
	db := filepath.Join(t.TempDir(), "screener.sqlite")
	return ForDB(db, zerolog.Nop())
}

func TestAcquireRelease(t *testing.T) {
	l := testLock(t)

	require.NoError(t, l.Acquire())
	raw, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Contains(t, string(raw), fmt.Sprintf("%d\t", os.Getpid()))

	l.Release()
	_, err = os.Stat(l.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestAcquireRefusedWhileHolderAlive(t *testing.T) {
	l := testLock(t)

	// Our own pid is trivially alive.
	body := fmt.Sprintf("%d\t123456\n", os.Getpid())
	require.NoError(t, os.WriteFile(l.Path(), []byte(body), 0o644))

	err := l.Acquire()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked by running process")
}

func TestStaleLockOverwritten(t *testing.T) {
	l := testLock(t)

	// Pid far above any plausible live process on a test machine.
	require.NoError(t, os.WriteFile(l.Path(), []byte("99999999\t1\n"), 0o644))
	require.NoError(t, l.Acquire())

	raw, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Contains(t, string(raw), fmt.Sprintf("%d\t", os.Getpid()))
	l.Release()
}

func TestMalformedLockFileIgnored(t *testing.T) {
	l := testLock(t)
	require.NoError(t, os.WriteFile(l.Path(), []byte("not a pid\n"), 0o644))
	require.NoError(t, l.Acquire())
	l.Release()
}

func TestReleaseWithoutAcquireIsNoop(t *testing.T) {
	l := testLock(t)
	l.Release()
	_, err := os.Stat(l.Path())
	assert.True(t, os.IsNotExist(err))
}
