package types

import "errors"

var (
	// ErrUnreadableMedia means the video could not be opened or decoded at all.
	ErrUnreadableMedia = errors.New("unreadable media")
	// ErrEmptyMedia means the video reports zero frames.
	ErrEmptyMedia = errors.New("video has no frames")
	// ErrNoFaceDetected means not even the center-crop fallback produced a face region.
	ErrNoFaceDetected = errors.New("no faces detected in video")
)
