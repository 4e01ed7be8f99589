// Package fileassembler implements the Chunked File Assembler: it
// collects FileChunk messages into a temp file per (fileName,
// fileSequenceID), verifies size and SHA-256 checksum on the last
// chunk, and publishes the result atomically to an objectstore.Store.
package fileassembler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/National-Digital-Twin/federator-go/internal/ferrors"
	"github.com/National-Digital-Twin/federator-go/internal/objectstore"
	"github.com/National-Digital-Twin/federator-go/internal/wire"
)

// partsSubdir holds in-progress assemblies, kept separate from the final
// published destination so a half-built file is never mistaken for a
// complete one.
const partsSubdir = ".parts"

type assemblyState struct {
	mu             sync.Mutex
	f              *os.File
	path           string
	receivedChunks int32
	totalChunks    int32
	bytesWritten   int64
}

// Assembler tracks in-flight assemblies and publishes completed files.
type Assembler struct {
	tempDir string
	store   objectstore.Store

	mu     sync.Mutex
	states map[string]*assemblyState
}

// New builds an Assembler. tempDir holds the .parts working directory.
func New(tempDir string, store objectstore.Store) (*Assembler, error) {
	dir := filepath.Join(tempDir, partsSubdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fileassembler: creating temp dir %s: %w", dir, err)
	}
	return &Assembler{tempDir: tempDir, store: store, states: make(map[string]*assemblyState)}, nil
}

func assemblyKey(fileName string, sequenceID int64) string {
	return fmt.Sprintf("%s#%d", fileName, sequenceID)
}

// Accept consumes one chunk. When IsLastChunk is set it verifies size and
// checksum, publishes the file to the object store, and removes the
// assembly's temp state; any failure surfaces as
// *ferrors.FileAssemblyError and the partial temp file is discarded.
func (a *Assembler) Accept(ctx context.Context, chunk *wire.FileChunk) error {
	key := assemblyKey(chunk.FileName, chunk.FileSequenceID)

	state, err := a.getOrCreate(key, chunk)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if _, err := state.f.Write(chunk.ChunkData); err != nil {
		a.discard(key, state)
		return &ferrors.FileAssemblyError{FileName: chunk.FileName, SequenceID: chunk.FileSequenceID, Reason: fmt.Sprintf("writing chunk %d: %v", chunk.ChunkIndex, err)}
	}
	state.bytesWritten += int64(len(chunk.ChunkData))
	state.receivedChunks++

	if !chunk.IsLastChunk {
		return nil
	}

	if state.bytesWritten != chunk.FileSize {
		a.discard(key, state)
		return &ferrors.FileAssemblyError{
			FileName:   chunk.FileName,
			SequenceID: chunk.FileSequenceID,
			Reason:     fmt.Sprintf("size mismatch: expected %d, received %d", chunk.FileSize, state.bytesWritten),
		}
	}

	sum, err := a.checksum(state.path)
	if err != nil {
		a.discard(key, state)
		return &ferrors.FileAssemblyError{FileName: chunk.FileName, SequenceID: chunk.FileSequenceID, Reason: err.Error()}
	}
	if sum != chunk.FileChecksum {
		a.discard(key, state)
		return &ferrors.FileAssemblyError{
			FileName:   chunk.FileName,
			SequenceID: chunk.FileSequenceID,
			Reason:     fmt.Sprintf("checksum mismatch: expected %s, computed %s", chunk.FileChecksum, sum),
		}
	}

	if err := state.f.Close(); err != nil {
		a.discard(key, state)
		return &ferrors.FileAssemblyError{FileName: chunk.FileName, SequenceID: chunk.FileSequenceID, Reason: fmt.Sprintf("closing temp file: %v", err)}
	}

	if err := a.publish(ctx, chunk.FileName, state); err != nil {
		a.discard(key, state)
		return &ferrors.FileAssemblyError{FileName: chunk.FileName, SequenceID: chunk.FileSequenceID, Reason: err.Error()}
	}

	a.mu.Lock()
	delete(a.states, key)
	a.mu.Unlock()
	os.Remove(state.path)
	return nil
}

func (a *Assembler) getOrCreate(key string, chunk *wire.FileChunk) (*assemblyState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if s, ok := a.states[key]; ok {
		return s, nil
	}

	path := filepath.Join(a.tempDir, partsSubdir, fmt.Sprintf("%s.%d.part", filepath.Base(chunk.FileName), chunk.FileSequenceID))
	f, err := os.Create(path)
	if err != nil {
		return nil, &ferrors.FileAssemblyError{FileName: chunk.FileName, SequenceID: chunk.FileSequenceID, Reason: fmt.Sprintf("creating temp file: %v", err)}
	}
	s := &assemblyState{f: f, path: path, totalChunks: chunk.TotalChunks}
	a.states[key] = s
	return s, nil
}

func (a *Assembler) checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("reopening for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("computing checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (a *Assembler) publish(ctx context.Context, fileName string, state *assemblyState) error {
	f, err := os.Open(state.path)
	if err != nil {
		return fmt.Errorf("reopening for publish: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("statting assembled file: %w", err)
	}

	if err := a.store.Put(ctx, fileName, f, info.Size()); err != nil {
		return fmt.Errorf("publishing to object store: %w", err)
	}
	return nil
}

func (a *Assembler) discard(key string, state *assemblyState) {
	state.f.Close()
	os.Remove(state.path)
	a.mu.Lock()
	delete(a.states, key)
	a.mu.Unlock()
}
