package fileassembler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/National-Digital-Twin/federator-go/internal/objectstore"
	"github.com/National-Digital-Twin/federator-go/internal/wire"
)

func checksumOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestAcceptAssemblesAndPublishesFile(t *testing.T) {
	tempDir := t.TempDir()
	publishDir := t.TempDir()

	store, err := objectstore.New(context.Background(), objectstore.Config{Kind: objectstore.KindLocal, LocalDir: publishDir})
	require.NoError(t, err)

	a, err := New(tempDir, store)
	require.NoError(t, err)

	content := []byte("hello world, this is a test file")
	sum := checksumOf(content)

	first := content[:10]
	second := content[10:]

	err = a.Accept(context.Background(), &wire.FileChunk{
		FileName: "report.txt", FileSequenceID: 1, ChunkIndex: 0, TotalChunks: 2,
		ChunkData: first, IsLastChunk: false, FileSize: int64(len(content)), FileChecksum: sum,
	})
	require.NoError(t, err)

	err = a.Accept(context.Background(), &wire.FileChunk{
		FileName: "report.txt", FileSequenceID: 1, ChunkIndex: 1, TotalChunks: 2,
		ChunkData: second, IsLastChunk: true, FileSize: int64(len(content)), FileChecksum: sum,
	})
	require.NoError(t, err)

	published, err := os.ReadFile(filepath.Join(publishDir, "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, content, published)

	_, statErr := os.Stat(filepath.Join(tempDir, partsSubdir, "report.txt.1.part"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestAcceptRejectsChecksumMismatch(t *testing.T) {
	tempDir := t.TempDir()
	publishDir := t.TempDir()

	store, err := objectstore.New(context.Background(), objectstore.Config{Kind: objectstore.KindLocal, LocalDir: publishDir})
	require.NoError(t, err)

	a, err := New(tempDir, store)
	require.NoError(t, err)

	content := []byte("corrupted content")

	err = a.Accept(context.Background(), &wire.FileChunk{
		FileName: "bad.txt", FileSequenceID: 2, ChunkIndex: 0, TotalChunks: 1,
		ChunkData: content, IsLastChunk: true, FileSize: int64(len(content)), FileChecksum: "0000000000000000000000000000000000000000000000000000000000000000",
	})
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(publishDir, "bad.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestAcceptRejectsSizeMismatch(t *testing.T) {
	tempDir := t.TempDir()
	publishDir := t.TempDir()

	store, err := objectstore.New(context.Background(), objectstore.Config{Kind: objectstore.KindLocal, LocalDir: publishDir})
	require.NoError(t, err)

	a, err := New(tempDir, store)
	require.NoError(t, err)

	content := []byte("short")

	err = a.Accept(context.Background(), &wire.FileChunk{
		FileName: "size.txt", FileSequenceID: 3, ChunkIndex: 0, TotalChunks: 1,
		ChunkData: content, IsLastChunk: true, FileSize: int64(len(content)) + 100, FileChecksum: checksumOf(content),
	})
	require.Error(t, err)
}
