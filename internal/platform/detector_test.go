package platform

import (
	"testing"

	apperrors "github.com/lk2023060901/vidgrab-bot/internal/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	d := NewDetector(nil)

	tests := []struct {
		name     string
		url      string
		platform string
		code     int
	}{
		{name: "youtube", url: "https://www.youtube.com/watch?v=abc", platform: "youtube"},
		{name: "short youtube", url: "https://youtu.be/abc", platform: "youtube"},
		{name: "tiktok", url: "https://vm.tiktok.com/ZMabc/", platform: "tiktok"},
		{name: "instagram upper case host", url: "https://WWW.INSTAGRAM.COM/reel/xyz", platform: "instagram"},
		{name: "surrounding spaces", url: "  https://youtube.com/shorts/x  ", platform: "youtube"},
		{name: "no scheme", url: "youtube.com/watch?v=abc", code: apperrors.ErrInvalidURL},
		{name: "no host", url: "https://", code: apperrors.ErrInvalidURL},
		{name: "garbage", url: "not a url", code: apperrors.ErrInvalidURL},
		{name: "empty", url: "", code: apperrors.ErrInvalidURL},
		{name: "unsupported host", url: "https://vimeo.com/123", code: apperrors.ErrUnsupportedPlatform},
		{name: "domain only in path", url: "https://example.com/youtube/abc", code: apperrors.ErrUnsupportedPlatform},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Detect(tt.url)
			if tt.code != 0 {
				assert.True(t, apperrors.Is(err, tt.code), "got %v", err)
				assert.Empty(t, got)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.platform, got)
		})
	}
}

func TestDetectFirstMatchWins(t *testing.T) {
	d := NewDetector([]string{"tube", "youtube"})

	got, err := d.Detect("https://youtube.com/watch?v=1")
	assert.NoError(t, err)
	assert.Equal(t, "tube", got)
}

func TestNewDetectorTrimsEntries(t *testing.T) {
	d := NewDetector([]string{" TikTok ", "", "vimeo"})
	assert.Equal(t, []string{"tiktok", "vimeo"}, d.Domains())
}
