package classifier

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/verity/internal/types"
	"github.com/andresmejia3/verity/internal/utils" // Using the SafeCommand wrapper
	log "github.com/sirupsen/logrus"
)

const (
	statusOK    = 0
	statusError = 1
)

// Options configures the classifier process.
type Options struct {
	Python      string        // interpreter, default python3
	Script      string        // default python/classifier.py
	Model       string        // passed as --model when set
	Timeout     time.Duration // per request, 0 disables
	JPEGQuality int           // default 95
}

// PythonClassifier talks to a long-lived classifier process.
//
// Protocol (big endian): the request is [Length][Count]([FaceLen][JPEG])... on stdin.
// The response is [Length][Status][Body] on FD 3, where Body is the JSON Result
// for status 0 or [MsgLen][Msg] for status 1.
type PythonClassifier struct {
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	timeout time.Duration
	quality int
	mu      sync.Mutex
}

// NewPythonClassifier starts the classifier process.
func NewPythonClassifier(ctx context.Context, opts Options) (*PythonClassifier, error) {
	if opts.Python == "" {
		opts.Python = "python3"
	}
	if opts.Script == "" {
		opts.Script = "python/classifier.py"
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = 95
	}

	args := []string{"-u", opts.Script}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	py := utils.NewSafeCommand(ctx, opts.Python, args...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("classifier failed to start: %w", err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()
	log.Debugf("Classifier started (pid %d, script %s)", py.Process.Pid, opts.Script)

	return &PythonClassifier{
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		timeout:  opts.Timeout,
		quality:  opts.JPEGQuality,
	}, nil
}

// EncodeFaces builds the request payload: [Count] then [FaceLen][JPEG] per face.
func EncodeFaces(faces []*image.RGBA, quality int) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.BigEndian, uint32(len(faces))); err != nil {
		return nil, err
	}
	var img bytes.Buffer
	for i, f := range faces {
		img.Reset()
		if err := jpeg.Encode(&img, f, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("failed to encode face %d: %w", i, err)
		}
		if err := binary.Write(buf, binary.BigEndian, uint32(img.Len())); err != nil {
			return nil, err
		}
		buf.Write(img.Bytes())
	}
	return buf.Bytes(), nil
}

// DecodeResult parses a response body.
func DecodeResult(resp []byte) (Result, error) {
	if len(resp) == 0 {
		return Result{}, errors.New("empty response from classifier")
	}

	switch resp[0] {
	case statusOK:
		// Check if it's an error object (e.g. {"error": "..."})
		var errorResult types.ErrorResult
		if json.Unmarshal(resp[1:], &errorResult) == nil && errorResult.Error != "" {
			return Result{}, fmt.Errorf("python classifier error: %s", errorResult.Error)
		}
		var res Result
		if err := json.Unmarshal(resp[1:], &res); err != nil {
			return Result{}, fmt.Errorf("malformed classifier response: %w", err)
		}
		if res.Label != types.LabelReal && res.Label != types.LabelFake {
			return Result{}, fmt.Errorf("unknown label %d", res.Label)
		}
		return res, nil
	case statusError:
		if len(resp) < 5 {
			return Result{}, errors.New("truncated classifier error message")
		}
		msgLen := binary.BigEndian.Uint32(resp[1:5])
		if int(msgLen) > len(resp)-5 {
			return Result{}, errors.New("truncated classifier error message")
		}
		return Result{}, fmt.Errorf("python classifier error: %s", resp[5:5+msgLen])
	default:
		return Result{}, fmt.Errorf("unknown classifier status %d", resp[0])
	}
}

// Communicate sends one length-prefixed request and reads one length-prefixed response.
func (c *PythonClassifier) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(c.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := c.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(c.DataPipe, header); err != nil {
		return nil, err // This is where we catch an interpreter crash
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(c.DataPipe, respBody)
	return respBody, err
}

// Classify sends up to MaxFaces crops and waits for the verdict.
// Requests are serialized because the process handles one at a time.
func (c *PythonClassifier) Classify(ctx context.Context, faces []*image.RGBA) (Result, error) {
	if len(faces) == 0 {
		return Result{}, errors.New("no faces to classify")
	}
	if len(faces) > MaxFaces {
		faces = faces[:MaxFaces]
	}

	payload, err := EncodeFaces(faces, c.quality)
	if err != nil {
		return Result{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.setDeadline(ctx); err != nil {
		return Result{}, err
	}
	resp, err := c.Communicate(payload)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return Result{}, fmt.Errorf("classifier timed out: %w", err)
		}
		return Result{}, fmt.Errorf("classifier communication failed: %w", err)
	}
	return DecodeResult(resp)
}

// setDeadline bounds the next read by the timeout and the context deadline, whichever is sooner.
func (c *PythonClassifier) setDeadline(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, ok := c.DataPipe.(interface{ SetReadDeadline(time.Time) error })
	if !ok {
		return nil
	}

	var deadline time.Time
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	return p.SetReadDeadline(deadline)
}

// Logs returns whatever the process wrote to stderr.
func (c *PythonClassifier) Logs() string {
	return c.Cmd.Logs()
}

// Close shuts the process down by closing its stdin and waits for it to exit.
func (c *PythonClassifier) Close() error {
	c.Stdin.Close()
	c.DataPipe.Close()
	if c.Cmd == nil {
		return nil
	}
	return c.Cmd.Wait()
}
