package inventory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePart(t *testing.T, dir, name string, size int) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o600))
}

func TestBuild_OrdersPartsByNumericSuffix(t *testing.T) {
	dir := t.TempDir()
	// Deliberately created out of order; lexical order differs from numeric order too.
	writePart(t, dir, "archive.tar.10", 100)
	writePart(t, dir, "archive.tar.2", 200)
	writePart(t, dir, "archive.tar.1", 300)
	for i := 3; i <= 9; i++ {
		writePart(t, dir, "archive.tar."+string(rune('0'+i)), 50)
	}

	parts, err := Build(dir, "archive.tar")
	require.NoError(t, err)
	require.Len(t, parts, 10)

	for i, part := range parts {
		assert.Equal(t, int32(i+1), part.Number)
	}
	assert.Equal(t, int64(300), parts[0].SizeBytes)
	assert.Equal(t, int64(200), parts[1].SizeBytes)
	assert.Equal(t, int64(100), parts[9].SizeBytes)
}

func TestBuild_AcceptsLeadingZeroes(t *testing.T) {
	dir := t.TempDir()
	writePart(t, dir, "dump.sql.01", 10)
	writePart(t, dir, "dump.sql.02", 10)
	writePart(t, dir, "dump.sql.03", 10)

	parts, err := Build(dir, "dump.sql")
	require.NoError(t, err)
	require.Len(t, parts, 3)
	assert.Equal(t, int32(1), parts[0].Number)
	assert.Equal(t, filepath.Join(dir, "dump.sql.01"), parts[0].LocalPath)
}

func TestBuild_IgnoresNonPartFiles(t *testing.T) {
	dir := t.TempDir()
	writePart(t, dir, "archive.tar.1", 10)
	writePart(t, dir, "archive.tar.2", 10)
	writePart(t, dir, "archive.tar.bak", 10)
	writePart(t, dir, "notes.txt", 10)

	parts, err := Build(dir, "*")
	require.NoError(t, err)
	assert.Len(t, parts, 2)
}

func TestBuild_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]int
		wantErr error
	}{
		{
			name:    "empty directory",
			files:   map[string]int{},
			wantErr: ErrNoParts,
		},
		{
			name:    "no numeric suffixes",
			files:   map[string]int{"archive.tar.gz": 10},
			wantErr: ErrNoParts,
		},
		{
			name:    "gap in numbering",
			files:   map[string]int{"a.1": 10, "a.2": 10, "a.4": 10},
			wantErr: ErrPartGap,
		},
		{
			name:    "numbering does not start at one",
			files:   map[string]int{"a.2": 10, "a.3": 10},
			wantErr: ErrPartGap,
		},
		{
			name:    "duplicate part numbers with different zero padding",
			files:   map[string]int{"a.1": 10, "a.01": 10},
			wantErr: ErrDuplicatePart,
		},
		{
			name:    "empty part file",
			files:   map[string]int{"a.1": 10, "a.2": 0},
			wantErr: ErrEmptyPart,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, size := range tt.files {
				writePart(t, dir, name, size)
			}

			_, err := Build(dir, "*")
			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsInventoryError(err))
		})
	}
}

func TestBuild_MissingDirectory(t *testing.T) {
	_, err := Build(filepath.Join(t.TempDir(), "nope"), "*")
	require.Error(t, err)
	assert.False(t, IsInventoryError(err))
}

func TestTotalSize(t *testing.T) {
	parts := []Part{
		{Number: 1, SizeBytes: 1000},
		{Number: 2, SizeBytes: 1000},
		{Number: 3, SizeBytes: 500},
	}
	assert.Equal(t, int64(2500), TotalSize(parts))
}
