// Package downloader provides the yt-dlp backed extraction capability.
package downloader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/CostsmpRTR/facebook-video-downloader/internal/domain"
)

// Downloader configuration options.
type Config struct {
	YtDlpPath       string        // Path to yt-dlp binary
	FFmpegPath      string        // Path to ffmpeg binary (optional)
	ProbeTimeout    time.Duration // Maximum time for a metadata probe
	DownloadTimeout time.Duration // Maximum time for a download
}

// DefaultConfig returns the default downloader configuration.
func DefaultConfig() *Config {
	return &Config{
		YtDlpPath:       "yt-dlp",
		ProbeTimeout:    60 * time.Second,
		DownloadTimeout: 10 * time.Minute,
	}
}

// FetchOptions describes a download invocation.
type FetchOptions struct {
	Format         string // yt-dlp format selector, e.g. "123/best"
	OutputTemplate string // e.g. "<dir>/%(title)s.%(ext)s"
	Strategy       domain.ExtractionStrategy
}

// Downloader runs yt-dlp as a subprocess.
type Downloader struct {
	config *Config
	logger *slog.Logger
}

// New creates a new Downloader with the given configuration.
func New(config *Config, logger *slog.Logger) *Downloader {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{
		config: config,
		logger: logger,
	}
}

var (
	destinationRegex       = regexp.MustCompile(`\[download\] Destination: (.+)`)
	alreadyDownloadedRegex = regexp.MustCompile(`\[download\] (.+) has already been downloaded`)
	mergerRegex            = regexp.MustCompile(`\[Merger\] Merging formats into "(.+)"`)
	moveFileRegex          = regexp.MustCompile(`\[MoveFiles\] Moving file "(.+)" to "(.+)"`)
	ffmpegRegex            = regexp.MustCompile(`\[ffmpeg\] Destination: (.+)`)
)

// Probe retrieves the info document for url without downloading, using the
// strategy's request fingerprint.
func (d *Downloader) Probe(ctx context.Context, url string, strategy domain.ExtractionStrategy) (*domain.RawMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, d.config.ProbeTimeout)
	defer cancel()

	args := d.buildProbeArgs(url, strategy)
	cmd := exec.CommandContext(ctx, d.config.YtDlpPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, commandError(ctx, err, stderr.String())
	}

	var info domain.RawMetadata
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return nil, fmt.Errorf("failed to parse video info: %w", err)
	}

	return &info, nil
}

// Fetch downloads url with the given selector and returns the info document
// together with the path of the file that was written.
func (d *Downloader) Fetch(ctx context.Context, url string, opts FetchOptions) (*domain.RawMetadata, string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.config.DownloadTimeout)
	defer cancel()

	args := d.buildFetchArgs(url, opts)
	cmd := exec.CommandContext(ctx, d.config.YtDlpPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, "", fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, "", fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("failed to start yt-dlp: %w", err)
	}

	var (
		wg           sync.WaitGroup
		result       fetchOutput
		stderrOutput strings.Builder
	)
	wg.Add(2)

	go func() {
		defer wg.Done()
		result = parseFetchOutput(stdout)
	}()

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			stderrOutput.WriteString(scanner.Text())
			stderrOutput.WriteString("\n")
		}
	}()

	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return nil, "", commandError(ctx, err, stderrOutput.String())
	}

	filePath := result.filePath
	if filePath == "" && result.info != nil && result.info.Filename != "" {
		filePath = result.info.Filename
	}
	if filePath == "" || !fileExists(filePath) {
		filePath = newestFile(filepath.Dir(opts.OutputTemplate))
	}

	if filePath == "" {
		return nil, "", errors.New("could not determine downloaded file path")
	}

	if _, err := os.Stat(filePath); err != nil {
		return nil, "", fmt.Errorf("downloaded file not found: %w", err)
	}

	d.logger.Debug("yt-dlp download finished", "path", filePath, "format", opts.Format)

	return result.info, filePath, nil
}

// buildProbeArgs constructs the arguments for a metadata-only run.
func (d *Downloader) buildProbeArgs(url string, strategy domain.ExtractionStrategy) []string {
	args := []string{
		"--dump-single-json",
		"--skip-download",
		"--no-playlist",
		"--no-warnings",
		"--no-cache-dir",
		"--socket-timeout", "30",
		"-f", domain.BestFormat,
	}
	args = append(args, strategyArgs(strategy)...)
	return append(args, "--", url)
}

// buildFetchArgs constructs the arguments for a download run.
func (d *Downloader) buildFetchArgs(url string, opts FetchOptions) []string {
	format := opts.Format
	if format == "" {
		format = domain.BestFormat
	}

	args := []string{
		"--no-playlist",
		"--newline",
		"--print-json",
		"-f", format,
		"-o", opts.OutputTemplate,
		"--no-cache-dir",
		"--socket-timeout", "30",
		"--retries", "3",
	}
	args = append(args, strategyArgs(opts.Strategy)...)

	if d.config.FFmpegPath != "" {
		args = append([]string{"--ffmpeg-location", d.config.FFmpegPath}, args...)
	}

	return append(args, "--", url)
}

// strategyArgs renders a request fingerprint as yt-dlp flags. Map keys are
// sorted so the command line is deterministic.
func strategyArgs(strategy domain.ExtractionStrategy) []string {
	var args []string

	if strategy.UserAgent != "" {
		args = append(args, "--user-agent", strategy.UserAgent)
	}

	for _, name := range sortedKeys(strategy.Headers) {
		args = append(args, "--add-header", name+":"+strategy.Headers[name])
	}

	for _, extractor := range sortedKeys(strategy.ExtractorArgs) {
		args = append(args, "--extractor-args", extractor+":"+strategy.ExtractorArgs[extractor])
	}

	return args
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type fetchOutput struct {
	info     *domain.RawMetadata
	filePath string
}

// parseFetchOutput reads yt-dlp's stdout, keeping the JSON info document and
// the last reported output file. Later post-processing lines win.
func parseFetchOutput(r io.Reader) fetchOutput {
	var out fetchOutput

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "{") {
			var info domain.RawMetadata
			if err := json.Unmarshal([]byte(line), &info); err == nil {
				out.info = &info
			}
			continue
		}

		if m := destinationRegex.FindStringSubmatch(line); len(m) > 1 {
			out.filePath = strings.TrimSpace(m[1])
		}
		if m := alreadyDownloadedRegex.FindStringSubmatch(line); len(m) > 1 {
			out.filePath = strings.TrimSpace(m[1])
		}
		if m := mergerRegex.FindStringSubmatch(line); len(m) > 1 {
			out.filePath = strings.TrimSpace(m[1])
		}
		if m := ffmpegRegex.FindStringSubmatch(line); len(m) > 1 {
			out.filePath = strings.TrimSpace(m[1])
		}
		if m := moveFileRegex.FindStringSubmatch(line); len(m) > 2 {
			out.filePath = strings.TrimSpace(m[2])
		}
	}

	return out
}

// commandError turns a failed run into an error whose text is yt-dlp's own
// diagnostic, so callers can pattern-match it.
func commandError(ctx context.Context, err error, stderr string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.New("yt-dlp timed out")
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return errors.New("yt-dlp was canceled")
	}

	msg := strings.TrimSpace(stderr)
	if msg == "" {
		return fmt.Errorf("yt-dlp error: %w", err)
	}
	return errors.New(truncate(msg, 2000))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// newestFile returns the most recently modified regular file in dir, ignoring
// yt-dlp's partial downloads.
func newestFile(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	var newest string
	var newestTime time.Time
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".part") || strings.HasSuffix(entry.Name(), ".ytdl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestTime) {
			newest = filepath.Join(dir, entry.Name())
			newestTime = info.ModTime()
		}
	}
	return newest
}

// truncate shortens a string for error messages.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// CheckYtDlp verifies that yt-dlp is installed and accessible.
func (d *Downloader) CheckYtDlp() error {
	cmd := exec.Command(d.config.YtDlpPath, "--version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("yt-dlp not found or not executable: %w", err)
	}
	return nil
}
