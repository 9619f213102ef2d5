// Package downloader runs yt-dlp as a subprocess and reports the file it
// produced.
package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lk2023060901/vidgrab-bot/internal/pkg/logger"
	"github.com/lk2023060901/vidgrab-bot/internal/platform"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// maxStderr bounds the stderr tail kept in a DownloadError
const maxStderr = 1024

// Metadata is what yt-dlp reported about the video, best effort
type Metadata struct {
	Title    string
	Duration float64
	Width    int
	Height   int
	Ext      string
}

// Result describes a downloaded file
type Result struct {
	Path     string
	Size     int64
	Metadata Metadata

	// pattern matches everything yt-dlp wrote for this download
	pattern string
}

// Remove deletes the file and any fragments yt-dlp left next to it.
// Files that are already gone are not an error.
func (r *Result) Remove() error {
	files := []string{r.Path}
	if r.pattern != "" {
		matches, err := filepath.Glob(r.pattern)
		if err != nil {
			return err
		}
		files = append(files, matches...)
	}

	var errs []error
	for _, f := range files {
		if f == "" {
			continue
		}
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Downloader struct {
	config   *Config
	detector *platform.Detector
	logger   *logger.Logger
	now      func() time.Time
}

func New(config *Config, detector *platform.Detector, log *logger.Logger) (*Downloader, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Downloader{
		config:   config,
		detector: detector,
		logger:   log.Named("downloader"),
		now:      time.Now,
	}, nil
}

// Download fetches rawURL into outputDir. Cancelling ctx kills yt-dlp; any
// partial files are removed on failure.
func (d *Downloader) Download(ctx context.Context, rawURL, outputDir string) (*Result, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, newDownloadError("create output dir", err)
	}

	prefix := d.prefix()
	pattern := filepath.Join(outputDir, prefix+".*")
	args := d.args(rawURL, filepath.Join(outputDir, prefix+".%(ext)s"))

	if d.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
	}

	log := d.logger.WithContext(ctx)
	log.Debug("running yt-dlp", zap.String("binary", d.config.Binary), zap.Strings("args", args))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.config.Binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = d.config.WaitDelay

	if err := cmd.Run(); err != nil {
		d.cleanup(log, pattern)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, newDownloadError("interrupted", ctxErr)
		}

		derr := newDownloadError("yt-dlp failed", err)
		derr.Stderr = tail(strings.TrimSpace(stderr.String()), maxStderr)
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			derr.ExitCode = exitErr.ExitCode()
		}
		return nil, derr
	}

	meta := parseMetadata(stdout.Bytes())
	path, err := pickFile(outputDir, prefix, meta.Ext)
	if err != nil {
		d.cleanup(log, pattern)
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		d.cleanup(log, pattern)
		return nil, newDownloadError("stat output", err)
	}

	result := &Result{
		Path:     path,
		Size:     info.Size(),
		Metadata: meta,
		pattern:  pattern,
	}
	if result.Metadata.Ext == "" {
		result.Metadata.Ext = strings.TrimPrefix(filepath.Ext(path), ".")
	}

	log.Info("download finished",
		zap.String("path", path),
		zap.Int64("size", result.Size),
		zap.String("title", result.Metadata.Title),
	)
	return result, nil
}

// prefix is timestamped for ordering and carries a random suffix so two
// downloads started in the same instant never share files.
func (d *Downloader) prefix() string {
	return fmt.Sprintf("video_%d_%s", d.now().UnixNano(), uuid.NewString()[:8])
}

func (d *Downloader) args(rawURL, output string) []string {
	args := []string{
		rawURL,
		"-f", "best",
		"-o", output,
		"--no-warnings",
		"--no-playlist",
		"--merge-output-format", "mp4",
		"--print-json",
	}
	if cookie := d.cookieFile(rawURL); cookie != "" {
		args = append(args, "--cookies", cookie)
	}
	return args
}

func (d *Downloader) cookieFile(rawURL string) string {
	if d.detector == nil || len(d.config.Cookies) == 0 {
		return ""
	}
	p, err := d.detector.Detect(rawURL)
	if err != nil {
		return ""
	}
	return d.config.Cookies[platform.Normalize(p)]
}

// cleanup removes every file matching pattern; failures are only logged
func (d *Downloader) cleanup(log *logger.Logger, pattern string) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		log.Warn("glob partial files", zap.String("pattern", pattern), zap.Error(err))
		return
	}
	for _, f := range matches {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("remove partial file", zap.String("path", f), zap.Error(err))
			continue
		}
		log.Debug("removed partial file", zap.String("path", f))
	}
}

// pickFile returns the merged output among prefix.*: the reported
// extension first, then mp4, then the largest file that is not a format
// fragment (prefix.f137.mp4). In-progress files are never picked.
func pickFile(dir, prefix, ext string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+".*"))
	if err != nil {
		return "", newDownloadError("glob output", err)
	}

	var files []string
	for _, m := range matches {
		if strings.HasSuffix(m, ".part") || strings.HasSuffix(m, ".ytdl") {
			continue
		}
		files = append(files, m)
	}
	if len(files) == 0 {
		return "", newDownloadError("completed but file missing", nil)
	}

	for _, want := range []string{ext, "mp4"} {
		if want == "" {
			continue
		}
		if p := filepath.Join(dir, prefix+"."+want); slices.Contains(files, p) {
			return p, nil
		}
	}

	var whole []string
	for _, f := range files {
		if !strings.Contains(strings.TrimPrefix(filepath.Base(f), prefix+"."), ".") {
			whole = append(whole, f)
		}
	}
	if len(whole) > 0 {
		files = whole
	}
	return largest(files), nil
}

func largest(files []string) string {
	best, bestSize := files[0], int64(-1)
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		if info.Size() > bestSize {
			best, bestSize = f, info.Size()
		}
	}
	return best
}

// parseMetadata reads the last JSON line yt-dlp printed
func parseMetadata(out []byte) Metadata {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if !gjson.ValidBytes(line) {
			continue
		}
		res := gjson.ParseBytes(line)
		return Metadata{
			Title:    res.Get("title").String(),
			Duration: res.Get("duration").Float(),
			Width:    int(res.Get("width").Int()),
			Height:   int(res.Get("height").Int()),
			Ext:      res.Get("ext").String(),
		}
	}
	return Metadata{}
}

// tail keeps at most the last n bytes of s without splitting a rune
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}
