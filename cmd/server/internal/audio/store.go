package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ChunkStore is a job-scoped scratch directory for materialized audio.
//
// Layout is flat: {root}/scribeflow-{job}/
//   - chunks:   chunk_0000.wav, chunk_0001.wav, ...
//   - segments: segment_0000.wav, ...
type ChunkStore struct {
	dir string
}

// NewChunkStore creates {root}/scribeflow-{jobID}. Empty root means
// os.TempDir(); empty jobID gets a random uuid.
func NewChunkStore(root, jobID string) (*ChunkStore, error) {
	if root == "" {
		root = os.TempDir()
	}
	if jobID == "" {
		jobID = uuid.NewString()
	}
	dir := filepath.Join(root, "scribeflow-"+jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return &ChunkStore{dir: dir}, nil
}

// Dir returns the scratch directory.
func (s *ChunkStore) Dir() string { return s.dir }

// ChunkBasename returns e.g. "chunk_0015" for index 15.
func ChunkBasename(index int) string {
	return fmt.Sprintf("chunk_%04d", index)
}

// ChunkPath returns the WAV path of chunk index.
func (s *ChunkStore) ChunkPath(index int) string {
	return filepath.Join(s.dir, ChunkBasename(index)+".wav")
}

// SegmentPath returns the WAV path of speaker segment index.
func (s *ChunkStore) SegmentPath(index int) string {
	return filepath.Join(s.dir, fmt.Sprintf("segment_%04d.wav", index))
}

// Write encodes pcm to path, which must live inside the store.
func (s *ChunkStore) Write(path string, pcm *PCM) error {
	if err := s.ValidatePath(path); err != nil {
		return err
	}
	return WriteWAVFile(path, pcm)
}

// ValidatePath rejects paths outside the scratch directory, traversal
// sequences and symlinks.
func (s *ChunkStore) ValidatePath(path string) error {
	if strings.Contains(path, "..") {
		return fmt.Errorf("path contains dangerous characters '..'")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	absDir, err := filepath.Abs(s.dir)
	if err != nil {
		return fmt.Errorf("failed to resolve scratch directory: %w", err)
	}
	if absPath != absDir && !strings.HasPrefix(absPath, absDir+string(filepath.Separator)) {
		return fmt.Errorf("path %s is outside scratch directory (%s)", path, s.dir)
	}
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("symbolic links are not allowed")
	}
	return nil
}

// Cleanup removes the scratch directory and everything in it.
func (s *ChunkStore) Cleanup() error {
	return os.RemoveAll(s.dir)
}
