package store

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestSQLite_InsertAndReadAll(t *testing.T) {
	s, err := NewSQLite(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	p := &Pasta{
		ID: 12345, Content: "encrypted-blob", Extension: "rs", Alias: "my-snippet", Readonly: true, Private: true,
		Editable: true, EncryptServer: true, EncryptedKey: "sealed", Created: 100, Expiration: 200,
		LastRead: 100, ReadCount: 1, BurnAfterReads: 2, Type: TypeText,
		File: &PastaFile{Name: "main.rs", Size: 2048},
	}
	require.NoError(t, s.Insert(t.Context(), p))

	pastas, err := s.ReadAll(t.Context())
	require.NoError(t, err)
	require.Len(t, pastas, 1)
	got := pastas[0]
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, p.Content, got.Content)
	assert.Equal(t, p.Extension, got.Extension)
	assert.True(t, got.Readonly)
	assert.True(t, got.Private)
	assert.True(t, got.Editable)
	assert.True(t, got.EncryptServer)
	assert.False(t, got.EncryptClient)
	assert.Equal(t, "sealed", got.EncryptedKey)
	assert.Equal(t, "my-snippet", got.Alias)
	assert.Equal(t, p.Created, got.Created)
	assert.Equal(t, p.Expiration, got.Expiration)
	assert.Equal(t, uint64(2), got.BurnAfterReads)
	require.NotNil(t, got.File)
	assert.Equal(t, "main.rs", got.File.Name)
	assert.Equal(t, uint64(2048), got.File.Size)
}

func TestSQLite_NoFileIsNil(t *testing.T) {
	s, err := NewSQLite(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Insert(t.Context(), &Pasta{ID: 1, Content: "text only", Created: 10, Type: TypeText}))
	pastas, err := s.ReadAll(t.Context())
	require.NoError(t, err)
	require.Len(t, pastas, 1)
	assert.Nil(t, pastas[0].File)
}

func TestSQLite_Update(t *testing.T) {
	s, err := NewSQLite(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	p := &Pasta{ID: 7, Content: "before", Created: 10, Type: TypeText}
	require.NoError(t, s.Insert(t.Context(), p))

	p.Content = "after"
	p.ReadCount = 5
	p.LastRead = 99
	require.NoError(t, s.Update(t.Context(), p))

	pastas, err := s.ReadAll(t.Context())
	require.NoError(t, err)
	require.Len(t, pastas, 1)
	assert.Equal(t, "after", pastas[0].Content)
	assert.Equal(t, uint64(5), pastas[0].ReadCount)
	assert.Equal(t, int64(99), pastas[0].LastRead)

	err = s.Update(t.Context(), &Pasta{ID: 404, Type: TypeText})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_Delete(t *testing.T) {
	s, err := NewSQLite(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Insert(t.Context(), &Pasta{ID: 1, Created: 10, Type: TypeText}))
	require.NoError(t, s.DeleteByID(t.Context(), 1))
	require.NoError(t, s.DeleteByID(t.Context(), 1), "deleting missing id is a no-op")

	pastas, err := s.ReadAll(t.Context())
	require.NoError(t, err)
	assert.Empty(t, pastas)
}

func TestSQLite_ReadAllOrderedByCreated(t *testing.T) {
	s, err := NewSQLite(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Insert(t.Context(), &Pasta{ID: 1, Created: 300, Type: TypeText}))
	require.NoError(t, s.Insert(t.Context(), &Pasta{ID: 2, Created: 100, Type: TypeText}))
	require.NoError(t, s.Insert(t.Context(), &Pasta{ID: 3, Created: 200, Type: TypeText}))

	pastas, err := s.ReadAll(t.Context())
	require.NoError(t, err)
	require.Len(t, pastas, 3)
	assert.Equal(t, []uint64{2, 3, 1}, []uint64{pastas[0].ID, pastas[1].ID, pastas[2].ID})
}

func TestSQLite_UpdateAllBulkReplace(t *testing.T) {
	s, err := NewSQLite(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Insert(t.Context(), &Pasta{ID: 1, Created: 10, Type: TypeText}))
	require.NoError(t, s.Insert(t.Context(), &Pasta{ID: 2, Created: 20, Type: TypeText}))

	require.NoError(t, s.UpdateAll(t.Context(), []*Pasta{{ID: 7, Created: 70, Type: TypeText}}))

	pastas, err := s.ReadAll(t.Context())
	require.NoError(t, err)
	require.Len(t, pastas, 1)
	assert.Equal(t, uint64(7), pastas[0].ID)
}

func TestSQLite_RecreatesDroppedTable(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSQLite(dir)
	require.NoError(t, err)
	defer s.Close()

	// drop the table behind the engine's back
	db, err := sql.Open("sqlite", filepath.Join(dir, "database.sqlite"))
	require.NoError(t, err)
	_, err = db.Exec("DROP TABLE pasta")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	pastas, err := s.ReadAll(t.Context())
	require.NoError(t, err, "missing table recreated and retried once")
	assert.Empty(t, pastas)
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSQLite(dir)
	require.NoError(t, err)
	require.NoError(t, s.Insert(t.Context(), &Pasta{ID: 5, Content: "persisted", Created: 10, Type: TypeText}))
	require.NoError(t, s.Close())

	s2, err := NewSQLite(dir)
	require.NoError(t, err)
	defer s2.Close()

	pastas, err := s2.ReadAll(t.Context())
	require.NoError(t, err)
	require.Len(t, pastas, 1)
	assert.Equal(t, "persisted", pastas[0].Content)
}

func TestSQLite_DuplicateInsertRejected(t *testing.T) {
	s, err := NewSQLite(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Insert(t.Context(), &Pasta{ID: 1, Created: 10, Type: TypeText}))
	err = s.Insert(t.Context(), &Pasta{ID: 1, Created: 20, Type: TypeText})
	assert.ErrorIs(t, err, ErrSaveRejected)
}
