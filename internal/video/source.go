package video

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/andresmejia3/verity/internal/types"
)

// Source is a decodable video.
type Source interface {
	// Meta reports frame count, frame rate and dimensions.
	Meta(ctx context.Context) (Meta, error)
	// Frames decodes the requested frame numbers in ascending order.
	Frames(ctx context.Context, indices []int, fn FrameFunc) error
	Close() error
}

// FileSource decodes a video file on disk through ffprobe/ffmpeg.
type FileSource struct {
	Path string

	once    sync.Once
	meta    Meta
	metaErr error
	cleanup func() error
}

// OpenFile returns a Source for path after checking that it is a regular file.
func OpenFile(path string) (*FileSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrUnreadableMedia, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory, expected a video file", types.ErrUnreadableMedia, path)
	}
	return &FileSource{Path: path}, nil
}

// OpenReader spools a video byte stream to a temporary file. Close removes it.
func OpenReader(r io.Reader, dir string) (*FileSource, error) {
	tmp, err := os.CreateTemp(dir, "verity-*.video")
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("%w: failed to read video stream: %v", types.ErrUnreadableMedia, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, err
	}
	name := tmp.Name()
	return &FileSource{Path: name, cleanup: func() error { return os.Remove(name) }}, nil
}

// Meta probes the file once and caches the result for the lifetime of the source.
func (s *FileSource) Meta(ctx context.Context) (Meta, error) {
	s.once.Do(func() {
		s.meta, s.metaErr = Probe(ctx, s.Path)
	})
	return s.meta, s.metaErr
}

// Frames streams the requested frames through ffmpeg.
func (s *FileSource) Frames(ctx context.Context, indices []int, fn FrameFunc) error {
	meta, err := s.Meta(ctx)
	if err != nil {
		return err
	}
	return decodeFrames(ctx, s.Path, meta, indices, fn)
}

// Close releases the spool file, if any.
func (s *FileSource) Close() error {
	if s.cleanup == nil {
		return nil
	}
	return s.cleanup()
}
