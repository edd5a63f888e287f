package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/capsule/internal/storage/sqlite"
)

// newDiary creates a diary file holding one entry per content string.
func newDiary(t *testing.T, path string, contents ...string) {
	t.Helper()
	store, err := sqlite.NewStore(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	ctx := context.Background()
	require.NoError(t, store.CreateUser(ctx, "maria"))
	for _, c := range contents {
		_, err := store.SaveEntry(ctx, "maria", c, "reply")
		require.NoError(t, err)
	}
}

func entryCount(t *testing.T, path string) int {
	t.Helper()
	store, err := sqlite.NewStore(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	n, err := store.GetEntryCount(context.Background(), "maria")
	require.NoError(t, err)
	return n
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(Config{BackupDir: t.TempDir()})
	assert.Error(t, err)

	_, err = NewService(Config{DBPath: "diary.db"})
	assert.Error(t, err)

	dir := filepath.Join(t.TempDir(), "nested", "backups")
	_, err = NewService(Config{DBPath: "diary.db", BackupDir: dir})
	require.NoError(t, err)
	_, err = os.Stat(dir)
	assert.NoError(t, err, "backup directory should be created")
}

func TestBackupNow_SnapshotAndVerify(t *testing.T) {
	tmp := t.TempDir()
	dbPath := filepath.Join(tmp, "capsule.db")
	newDiary(t, dbPath, "first entry", "second entry")

	svc, err := NewService(Config{DBPath: dbPath, BackupDir: filepath.Join(tmp, "backups"), Verify: true})
	require.NoError(t, err)

	res, err := svc.BackupNow(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Positive(t, res.Size)
	assert.Contains(t, filepath.Base(res.Path), FilePrefix)

	assert.Equal(t, 2, entryCount(t, res.Path))

	list, err := svc.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, res.Path, list[0].Path)

	h, err := svc.Health()
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, 1, h.TotalBackups)
	assert.Positive(t, h.DiskSpaceUsed)
}

func TestBackupNow_MissingDiary(t *testing.T) {
	tmp := t.TempDir()
	svc, err := NewService(Config{DBPath: filepath.Join(tmp, "missing.db"), BackupDir: tmp})
	require.NoError(t, err)

	_, err = svc.BackupNow(context.Background())
	assert.Error(t, err)
}

func TestRestore_ReplacesDiary(t *testing.T) {
	tmp := t.TempDir()
	dbPath := filepath.Join(tmp, "capsule.db")
	newDiary(t, dbPath, "only entry")

	svc, err := NewService(Config{DBPath: dbPath, BackupDir: filepath.Join(tmp, "backups"), Verify: true})
	require.NoError(t, err)
	res, err := svc.BackupNow(context.Background())
	require.NoError(t, err)

	newDiary(t, dbPath, "written after the backup")
	require.Equal(t, 2, entryCount(t, dbPath))

	require.NoError(t, svc.Restore(context.Background(), res.Path))
	assert.Equal(t, 1, entryCount(t, dbPath))

	_, err = os.Stat(dbPath + ".pre-restore")
	assert.True(t, os.IsNotExist(err), "pre-restore copy should be cleaned up")
}

func TestRestore_RejectsNonDiary(t *testing.T) {
	tmp := t.TempDir()
	dbPath := filepath.Join(tmp, "capsule.db")
	newDiary(t, dbPath, "keep me")

	bogus := filepath.Join(tmp, "bogus.db")
	require.NoError(t, os.WriteFile(bogus, []byte("not a database"), 0o644))

	svc, err := NewService(Config{DBPath: dbPath, BackupDir: filepath.Join(tmp, "backups")})
	require.NoError(t, err)

	assert.Error(t, svc.Restore(context.Background(), bogus))
	assert.Equal(t, 1, entryCount(t, dbPath), "previous diary must survive a failed restore")
}
