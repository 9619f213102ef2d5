package downloader

import "fmt"

// DownloadError is returned for every failed download. Stderr holds the
// trimmed yt-dlp output when the process ran.
type DownloadError struct {
	Message  string
	Stderr   string
	ExitCode int
	Err      error
}

func (e *DownloadError) Error() string {
	switch {
	case e.Stderr != "":
		return fmt.Sprintf("download failed: %s", e.Stderr)
	case e.Err != nil:
		return fmt.Sprintf("download failed: %s: %v", e.Message, e.Err)
	default:
		return fmt.Sprintf("download failed: %s", e.Message)
	}
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

func newDownloadError(message string, err error) *DownloadError {
	return &DownloadError{Message: message, Err: err}
}
