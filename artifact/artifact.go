// Package artifact implements the content-addressed blob store that backs
// the Agent Trace & Artifact Store: every payload is persisted under the
// lowercase hex SHA-256 of its bytes, deduplicated on disk, and sharded
// across 256 directories by the first two hex characters of the hash.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/singleflight"
)

// Sentinel errors for the ArtifactStore error taxonomy.
var (
	ErrStorageIO = errors.New("artifact storage I/O error")
	ErrNotFound  = errors.New("artifact not found")
	ErrCorrupted = errors.New("artifact content does not match its hash")
)

// Artifact is the descriptor returned by Store/StoreVideo and resolvable by
// hash thereafter. Only bytes determine identity: ArtifactType and
// ContentType are advisory tags attached at first-store time.
type Artifact struct {
	Hash         string
	ByteLen      int64
	ArtifactType string
	ContentType  string
	StoragePath  string
	Metadata     map[string]any
}

// VideoMetadata specializes artifact metadata for "video" artifacts. The
// TimebaseOffset plus a span's timestamps let a consumer seek from a span
// to the video frame it produced.
type VideoMetadata struct {
	Codec          string
	Container      string
	DurationMs     int64
	Width          int
	Height         int
	FPS            float64
	TimebaseOffset int64 // unix nanos; the UTC instant the video's t=0 corresponds to
	SpanID         string
}

// Store is the content-addressed blob store. It is safe for concurrent use.
type Store struct {
	root string

	mu    sync.RWMutex
	index map[string]*Artifact // sidecar metadata index: hash -> descriptor

	group singleflight.Group // collapses concurrent stores of the same hash
}

// Open creates (if necessary) the root directory and returns a Store
// rooted there. The metadata index starts empty; callers that reopen an
// existing artifact root should re-derive metadata from their EventLog's
// ArtifactRef events, since the sidecar index is kept in memory only.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, goerr.Wrap(ErrStorageIO, "failed to create artifact store root", goerr.V("root", root))
	}
	return &Store{
		root:  root,
		index: make(map[string]*Artifact),
	}, nil
}

// shardPath returns <root>/<hash[0:2]>/<hash>.
func (s *Store) shardPath(hash string) string {
	return filepath.Join(s.root, hash[:2], hash)
}

// Store persists data under its content hash, deduplicating identical
// payloads. If the hash already exists, the first call's ArtifactType,
// ContentType, and Metadata remain authoritative and are returned
// unchanged.
func (s *Store) Store(ctx context.Context, data []byte, artifactType, contentType string, metadata map[string]any) (*Artifact, error) {
	hash := computeHash(data)

	v, err, _ := s.group.Do(hash, func() (any, error) {
		return s.storeBytes(ctx, hash, data, artifactType, contentType, metadata)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Artifact), nil
}

func (s *Store) storeBytes(ctx context.Context, hash string, data []byte, artifactType, contentType string, metadata map[string]any) (*Artifact, error) {
	if existing, ok := s.lookup(hash); ok {
		return existing, nil
	}

	path := s.shardPath(hash)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, goerr.Wrap(ErrStorageIO, "failed to create shard directory", goerr.V("hash", hash))
	}

	if err := writeAtomic(path, data); err != nil {
		return nil, goerr.Wrap(ErrStorageIO, "failed to write artifact payload", goerr.V("hash", hash), goerr.V("path", path))
	}

	ctxlog.From(ctx).Debug("artifact stored", "hash", hash, "byte_len", len(data), "artifact_type", artifactType)

	a := &Artifact{
		Hash:         hash,
		ByteLen:      int64(len(data)),
		ArtifactType: artifactType,
		ContentType:  contentType,
		StoragePath:  path,
		Metadata:     metadata,
	}
	s.record(a)
	return a, nil
}

// StoreVideo streams r through the hasher so the payload is never fully
// buffered in memory, then persists it with the same deduplication
// semantics as Store. video.SpanID and the rest of VideoMetadata are
// attached to the resulting Artifact's Metadata map under the "video" key.
func (s *Store) StoreVideo(ctx context.Context, r io.Reader, video VideoMetadata) (*Artifact, error) {
	tmp, err := os.CreateTemp(s.root, "video-upload-*")
	if err != nil {
		return nil, goerr.Wrap(ErrStorageIO, "failed to create temp file for video upload")
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	closeErr := tmp.Close()
	if err != nil {
		return nil, goerr.Wrap(ErrStorageIO, "failed to stream video payload")
	}
	if closeErr != nil {
		return nil, goerr.Wrap(ErrStorageIO, "failed to close temp video file")
	}

	hash := hex.EncodeToString(hasher.Sum(nil))

	v, err, _ := s.group.Do(hash, func() (any, error) {
		return s.finalizeVideo(ctx, hash, tmpPath, size, video)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Artifact), nil
}

func (s *Store) finalizeVideo(ctx context.Context, hash, tmpPath string, size int64, video VideoMetadata) (*Artifact, error) {
	if existing, ok := s.lookup(hash); ok {
		return existing, nil
	}

	path := s.shardPath(hash)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, goerr.Wrap(ErrStorageIO, "failed to create shard directory", goerr.V("hash", hash))
	}

	if err := renameOrAcceptExisting(tmpPath, path); err != nil {
		return nil, goerr.Wrap(ErrStorageIO, "failed to finalize video artifact", goerr.V("hash", hash))
	}

	ctxlog.From(ctx).Debug("video artifact stored", "hash", hash, "byte_len", size, "span_id", video.SpanID)

	a := &Artifact{
		Hash:         hash,
		ByteLen:      size,
		ArtifactType: "video",
		ContentType:  fmt.Sprintf("video/%s", video.Container),
		StoragePath:  path,
		Metadata: map[string]any{
			"video": video,
		},
	}
	s.record(a)
	return a, nil
}

// Retrieve reads the payload for hash, recomputing and verifying the hash
// on read. A mismatch indicates on-disk corruption.
func (s *Store) Retrieve(ctx context.Context, hash string) ([]byte, error) {
	path := s.shardPath(hash)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, goerr.Wrap(ErrNotFound, "artifact not found", goerr.V("hash", hash))
		}
		return nil, goerr.Wrap(ErrStorageIO, "failed to read artifact", goerr.V("hash", hash))
	}

	if computeHash(data) != hash {
		ctxlog.From(ctx).Error("artifact hash mismatch on read", "hash", hash, "path", path)
		return nil, goerr.Wrap(ErrCorrupted, "artifact content does not match its hash", goerr.V("hash", hash))
	}

	return data, nil
}

// Exists reports whether hash is present on disk.
func (s *Store) Exists(_ context.Context, hash string) (bool, error) {
	_, err := os.Stat(s.shardPath(hash))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, goerr.Wrap(ErrStorageIO, "failed to stat artifact", goerr.V("hash", hash))
}

// Descriptor returns the in-memory metadata descriptor for hash, if known
// to this Store instance.
func (s *Store) Descriptor(hash string) (*Artifact, bool) {
	return s.lookup(hash)
}

func (s *Store) lookup(hash string) (*Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.index[hash]
	return a, ok
}

func (s *Store) record(a *Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[a.Hash]; !ok {
		s.index[a.Hash] = a
	}
}

func computeHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// writeAtomic writes data to a temp file in the same directory as path and
// renames it into place. A concurrent writer racing on the same hash loses
// the rename benignly: the target already exists with identical content,
// which is success, not failure.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	return renameOrAcceptExisting(tmpPath, path)
}

func renameOrAcceptExisting(tmpPath, path string) error {
	if err := os.Rename(tmpPath, path); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			// Another writer won the race to the same content-addressed
			// path; our temp file is now stale.
			_ = os.Remove(tmpPath)
			return nil
		}
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
