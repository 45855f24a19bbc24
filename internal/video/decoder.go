package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/andresmejia3/verity/internal/types"
	"github.com/andresmejia3/verity/internal/utils"
	log "github.com/sirupsen/logrus"
)

// FrameFunc receives each decoded frame. Returning an error stops decoding.
type FrameFunc func(index int, img *image.RGBA) error

// selectFilter builds an ffmpeg select expression that keeps only the given frame numbers.
func selectFilter(indices []int) string {
	var b strings.Builder
	b.WriteString("select='")
	for i, idx := range indices {
		if i > 0 {
			b.WriteByte('+')
		}
		b.WriteString("eq(n\\,")
		b.WriteString(strconv.Itoa(idx))
		b.WriteByte(')')
	}
	b.WriteByte('\'')
	return b.String()
}

// frameFilter selects the requested frames and pins their size to meta, so every raw
// frame is exactly meta.Width x meta.Height even if autorotation and probing disagree.
func frameFilter(meta Meta, indices []int) string {
	return fmt.Sprintf("%s,scale=%d:%d", selectFilter(indices), meta.Width, meta.Height)
}

// NewFFmpegRawDecoder creates a decoder pipe that emits only the requested frames as raw RGBA
// at meta's displayed size. Indices must be sorted ascending; output order follows them.
func NewFFmpegRawDecoder(ctx context.Context, inputPath string, meta Meta, indices []int) *utils.SafeCommand {
	// -vsync 0 stops ffmpeg from duplicating frames to fill the gaps left by select
	return utils.NewSafeCommand(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error",
		"-i", inputPath,
		"-vf", frameFilter(meta, indices),
		"-vsync", "0",
		"-f", "rawvideo", "-pix_fmt", "rgba", "-")
}

// normalizeIndices sorts and de-duplicates frame numbers, dropping negatives.
func normalizeIndices(indices []int) []int {
	out := make([]int, 0, len(indices))
	for _, idx := range indices {
		if idx >= 0 {
			out = append(out, idx)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// readRawFrames reads consecutive width*height*4 RGBA frames from r and hands them to fn,
// labelled with the matching entry of indices. It returns how many frames were delivered.
// A short stream is not an error: the remaining indices are simply missing.
func readRawFrames(ctx context.Context, r io.Reader, width, height int, indices []int, fn FrameFunc) (int, error) {
	frameSize := width * height * 4
	delivered := 0
	for _, idx := range indices {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		// Every frame gets its own buffer: frames outlive this loop.
		buf := make([]byte, frameSize)
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				log.Warnf("Decoder ended after %d of %d sampled frames (first missing index %d)", delivered, len(indices), idx)
				return delivered, nil
			}
			return delivered, err
		}

		// Zero-Copy: Wrap the raw bytes in an image.RGBA struct
		img := &image.RGBA{
			Pix:    buf,
			Stride: width * 4,
			Rect:   image.Rect(0, 0, width, height),
		}
		if err := fn(idx, img); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}

// decodeFrames runs ffmpeg over path and streams the requested frames to fn.
func decodeFrames(ctx context.Context, path string, meta Meta, indices []int, fn FrameFunc) error {
	indices = normalizeIndices(indices)
	if len(indices) == 0 {
		return nil
	}
	if meta.Width <= 0 || meta.Height <= 0 {
		return fmt.Errorf("%w: unknown frame dimensions %dx%d", types.ErrUnreadableMedia, meta.Width, meta.Height)
	}

	// Create a cancellable context to ensure ffmpeg is killed if we return early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	decoder := NewFFmpegRawDecoder(ctx, path, meta, indices)
	out, err := decoder.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create decoder pipe: %w", err)
	}
	if err := decoder.Start(); err != nil {
		return fmt.Errorf("%w: failed to start ffmpeg: %v", types.ErrUnreadableMedia, err)
	}

	delivered, readErr := readRawFrames(ctx, out, meta.Width, meta.Height, indices, fn)
	if readErr != nil {
		cancel()
		_ = decoder.Wait()
		return readErr
	}

	// Drain anything ffmpeg still writes so Wait does not block on a full pipe.
	_, _ = io.Copy(io.Discard, out)
	if err := decoder.Wait(); err != nil {
		if delivered == 0 {
			return fmt.Errorf("%w: ffmpeg failed: %v: %s", types.ErrUnreadableMedia, err, decoder.Logs())
		}
		log.Warnf("ffmpeg exited with %v after %d frames: %s", err, delivered, decoder.Logs())
	}
	return nil
}
