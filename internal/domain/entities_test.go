package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionLifecycle(t *testing.T) {
	s := NewSession("abc", "https://facebook.com/reel/1")
	assert.Equal(t, SessionStatusExtracting, s.Status)
	assert.False(t, s.CreatedAt.IsZero())

	s.MarkReady("Clip")
	assert.Equal(t, SessionStatusReady, s.Status)
	assert.Equal(t, "Clip", s.Title)

	s.MarkDownloading("hd")
	assert.Equal(t, SessionStatusDownloading, s.Status)
	assert.Equal(t, "hd", s.FormatID)

	s.MarkDownloaded("/tmp/abc/Clip.mp4")
	assert.Equal(t, SessionStatusDownloaded, s.Status)
	assert.Equal(t, "/tmp/abc/Clip.mp4", s.FilePath)

	s.MarkFailed("boom")
	assert.Equal(t, SessionStatusFailed, s.Status)
	assert.Equal(t, "boom", s.Error)
	assert.False(t, s.UpdatedAt.Before(s.CreatedAt))
}
