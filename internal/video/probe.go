package video

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"github.com/andresmejia3/verity/internal/types"
	log "github.com/sirupsen/logrus"
)

// Meta describes the first video stream of a container.
// Width and Height are the displayed size, after rotation metadata is applied.
type Meta struct {
	TotalFrames int
	FPS         float64
	Width       int
	Height      int
	Rotation    int // degrees from the display matrix or rotate tag, normalized to [0, 360)
}

// Helper struct for structured JSON parsing
type ffprobeOutput struct {
	Streams []struct {
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		RFrameRate    string `json:"r_frame_rate"`
		AvgFrameRate  string `json:"avg_frame_rate"`
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
		Tags          struct {
			Rotate string `json:"rotate"`
		} `json:"tags"`
		SideData []struct {
			Rotation float64 `json:"rotation"`
		} `json:"side_data_list"`
	} `json:"streams"`
}

// Probe uses ffprobe to read the frame count, frame rate and dimensions of path.
// Any failure to read the container is reported as types.ErrUnreadableMedia.
func Probe(ctx context.Context, path string) (Meta, error) {
	// 0. Check dependency
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return Meta{}, fmt.Errorf("ffprobe not found: %w", err)
	}

	// 1. Fast Path: Check Container Metadata
	// This is instant but might return "N/A" or be inaccurate for VFR.
	out, err := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate,nb_frames:stream_tags=rotate:stream_side_data=rotation", "-of", "json", path).Output()
	if err != nil {
		return Meta{}, fmt.Errorf("%w: ffprobe failed on %s: %v", types.ErrUnreadableMedia, path, err)
	}
	meta, err := parseProbe(out)
	if err != nil {
		return Meta{}, fmt.Errorf("%w: %v", types.ErrUnreadableMedia, err)
	}
	if meta.TotalFrames > 0 {
		return meta, nil
	}

	// 2. Slow Path: Count Packets (Fallback)
	log.Debugf("Container metadata has no frame count for %s, counting packets", path)
	out, err = exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0", "-count_packets",
		"-show_entries", "stream=nb_read_packets", "-of", "json", path).Output()
	if err != nil {
		return Meta{}, fmt.Errorf("%w: ffprobe packet count failed: %v", types.ErrUnreadableMedia, err)
	}
	counted, err := parseProbe(out)
	if err != nil {
		return Meta{}, fmt.Errorf("%w: %v", types.ErrUnreadableMedia, err)
	}
	meta.TotalFrames = counted.TotalFrames
	return meta, nil
}

// parseProbe decodes ffprobe JSON. Unknown counts are left at zero.
func parseProbe(out []byte) (Meta, error) {
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return Meta{}, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}
	if len(res.Streams) == 0 {
		return Meta{}, fmt.Errorf("no video stream found")
	}
	s := res.Streams[0]

	meta := Meta{Width: s.Width, Height: s.Height}
	// ffmpeg autorotates on decode, so quarter turns swap the stored dimensions
	if r, err := strconv.Atoi(s.Tags.Rotate); err == nil {
		meta.Rotation = normalizeRotation(r)
	}
	for _, sd := range s.SideData {
		if sd.Rotation != 0 {
			meta.Rotation = normalizeRotation(int(math.Round(sd.Rotation)))
		}
	}
	if meta.Rotation == 90 || meta.Rotation == 270 {
		meta.Width, meta.Height = meta.Height, meta.Width
	}
	meta.FPS = parseFrameRate(s.RFrameRate)
	if meta.FPS == 0 {
		meta.FPS = parseFrameRate(s.AvgFrameRate)
	}
	if n, err := strconv.Atoi(s.NbFrames); err == nil && n > 0 {
		meta.TotalFrames = n
	} else if n, err := strconv.Atoi(s.NbReadPackets); err == nil && n > 0 {
		meta.TotalFrames = n
	}
	return meta, nil
}

func normalizeRotation(deg int) int {
	return ((deg % 360) + 360) % 360
}

// parseFrameRate turns ffprobe rationals like "30000/1001" into a float.
func parseFrameRate(rate string) float64 {
	num, den, found := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
