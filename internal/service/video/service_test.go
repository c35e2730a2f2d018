package video

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CostsmpRTR/facebook-video-downloader/internal/domain"
	"github.com/CostsmpRTR/facebook-video-downloader/internal/infra/cache"
	"github.com/CostsmpRTR/facebook-video-downloader/internal/infra/fs"
	"github.com/CostsmpRTR/facebook-video-downloader/internal/service/downloader"
)

type fetchResult struct {
	fileName string
	err      error
}

// fakeExtractor succeeds on the succeedAt-th probe (1-based, 0 = never) and
// replays fetch results in order.
type fakeExtractor struct {
	succeedAt  int
	probeErr   error
	raw        *domain.RawMetadata
	fetches    []fetchResult
	probeCalls []domain.ExtractionStrategy
	fetchCalls []downloader.FetchOptions
}

func (f *fakeExtractor) Probe(ctx context.Context, url string, strategy domain.ExtractionStrategy) (*domain.RawMetadata, error) {
	f.probeCalls = append(f.probeCalls, strategy)
	if f.succeedAt > 0 && len(f.probeCalls) == f.succeedAt {
		return f.raw, nil
	}
	return nil, f.probeErr
}

func (f *fakeExtractor) Fetch(ctx context.Context, url string, opts downloader.FetchOptions) (*domain.RawMetadata, string, error) {
	f.fetchCalls = append(f.fetchCalls, opts)
	r := f.fetches[len(f.fetchCalls)-1]
	if r.err != nil {
		return nil, "", r.err
	}
	path := filepath.Join(filepath.Dir(opts.OutputTemplate), r.fileName)
	if err := os.WriteFile(path, []byte("video"), 0644); err != nil {
		return nil, "", err
	}
	return &domain.RawMetadata{Title: "Clip"}, path, nil
}

type memorySessions struct {
	saved   map[string]*domain.Session
	deleted []string
}

func (m *memorySessions) Save(ctx context.Context, s *domain.Session) error {
	copied := *s
	m.saved[s.ID] = &copied
	return nil
}

func (m *memorySessions) Delete(ctx context.Context, id string) error {
	delete(m.saved, id)
	m.deleted = append(m.deleted, id)
	return nil
}

type testEnv struct {
	svc      *Service
	ext      *fakeExtractor
	scratch  *fs.Scratch
	sessions *memorySessions
}

func newTestEnv(t *testing.T, ext *fakeExtractor) *testEnv {
	t.Helper()
	scratch, err := fs.NewScratch(filepath.Join(t.TempDir(), "downloads"), nil)
	require.NoError(t, err)

	sessions := &memorySessions{saved: map[string]*domain.Session{}}
	svc := NewService(Config{
		Extractor: ext,
		Scratch:   scratch,
		Sessions:  sessions,
		NewID:     func() string { return "session-1" },
	})
	return &testEnv{svc: svc, ext: ext, scratch: scratch, sessions: sessions}
}

func sampleRaw() *domain.RawMetadata {
	duration := 42.9
	return &domain.RawMetadata{
		Title:     "Sunset",
		Thumbnail: "https://scontent.fbcdn.net/thumb.jpg",
		Duration:  &duration,
		Formats: []domain.RawFormat{
			{FormatID: "hd", Width: 1280, Height: 720, Ext: "mp4", VCodec: "h264", Protocol: "https"},
		},
	}
}

func TestExtractRejectsOutOfScopeURLWithoutNetwork(t *testing.T) {
	env := newTestEnv(t, &fakeExtractor{succeedAt: 1, raw: sampleRaw()})

	for _, url := range []string{"https://youtube.com/watch?v=1", "", "not a url", "https://vimeo.com/1"} {
		_, err := env.svc.Extract(context.Background(), url)
		assert.ErrorIs(t, err, domain.ErrInvalidURL, url)
	}
	assert.Empty(t, env.ext.probeCalls)

	entries, err := os.ReadDir(env.scratch.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExtractStopsAtFirstSuccessfulStrategy(t *testing.T) {
	for k := 1; k <= 3; k++ {
		ext := &fakeExtractor{succeedAt: k, raw: sampleRaw(), probeErr: errors.New("HTTP Error 403")}
		env := newTestEnv(t, ext)

		info, err := env.svc.Extract(context.Background(), "https://www.facebook.com/watch?v=1")
		require.NoError(t, err)

		assert.Len(t, ext.probeCalls, k)
		assert.Equal(t, "session-1", info.DownloadID)
	}
}

func TestExtractTriesStrategiesInCatalogOrder(t *testing.T) {
	ext := &fakeExtractor{probeErr: errors.New("HTTP Error 500")}
	env := newTestEnv(t, ext)

	_, err := env.svc.Extract(context.Background(), "https://facebook.com/reel/1")
	require.Error(t, err)

	names := make([]string, 0, len(ext.probeCalls))
	for _, s := range ext.probeCalls {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"desktop", "generic", "mobile"}, names)
	assert.Equal(t, "skip=dash", ext.probeCalls[1].ExtractorArgs["facebook"])
}

func TestExtractBuildsVideoInfo(t *testing.T) {
	env := newTestEnv(t, &fakeExtractor{succeedAt: 1, raw: sampleRaw()})

	info, err := env.svc.Extract(context.Background(), "https://fb.watch/abc")
	require.NoError(t, err)

	assert.Equal(t, "Sunset", info.Title)
	assert.Equal(t, "https://scontent.fbcdn.net/thumb.jpg", info.ThumbnailURL)
	require.NotNil(t, info.Duration)
	assert.Equal(t, 42, *info.Duration)
	require.Len(t, info.Formats, 1)
	assert.Equal(t, "1280x720", info.Formats[0].Resolution)

	dir, err := env.scratch.Dir("session-1")
	require.NoError(t, err)
	assert.DirExists(t, dir)

	require.Contains(t, env.sessions.saved, "session-1")
	assert.Equal(t, domain.SessionStatusReady, env.sessions.saved["session-1"].Status)
}

func TestExtractDefaultsTitleAndDuration(t *testing.T) {
	env := newTestEnv(t, &fakeExtractor{succeedAt: 1, raw: &domain.RawMetadata{}})

	info, err := env.svc.Extract(context.Background(), "https://m.facebook.com/story.php?id=1")
	require.NoError(t, err)

	assert.Equal(t, domain.DefaultTitle, info.Title)
	assert.Nil(t, info.Duration)
	require.Len(t, info.Formats, 1)
	assert.Equal(t, domain.BestFormat, info.Formats[0].FormatID)
}

func TestExtractAllStrategiesFailWithParseError(t *testing.T) {
	ext := &fakeExtractor{probeErr: errors.New("ERROR: [facebook] 123: Cannot parse data")}
	env := newTestEnv(t, ext)

	_, err := env.svc.Extract(context.Background(), "https://facebook.com/reel/123")
	require.Error(t, err)

	var e *domain.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, domain.KindExtractionExhausted, e.Kind)
	assert.Equal(t, domain.FailureBlocked, e.Class)
	assert.Len(t, ext.probeCalls, 3)

	dir, err := env.scratch.Dir("session-1")
	require.NoError(t, err)
	assert.NoDirExists(t, dir)
	assert.Contains(t, env.sessions.deleted, "session-1")
}

func TestExtractClassifiesLastError(t *testing.T) {
	ext := &fakeExtractor{probeErr: errors.New("ERROR: Private video")}
	env := newTestEnv(t, ext)

	_, err := env.svc.Extract(context.Background(), "https://facebook.com/reel/123")

	var e *domain.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, domain.FailureRestricted, e.Class)
}

func TestExtractUsesMetadataCache(t *testing.T) {
	scratch, err := fs.NewScratch(t.TempDir(), nil)
	require.NoError(t, err)

	ext := &fakeExtractor{succeedAt: 1, raw: sampleRaw()}
	ids := []string{"a", "b"}
	svc := NewService(Config{
		Extractor: ext,
		Scratch:   scratch,
		Cache:     cache.NewMetadataCache(10*time.Minute, 5*time.Minute),
		NewID: func() string {
			id := ids[0]
			ids = ids[1:]
			return id
		},
	})

	first, err := svc.Extract(context.Background(), "https://facebook.com/reel/1")
	require.NoError(t, err)
	second, err := svc.Extract(context.Background(), "https://facebook.com/reel/1#t=3")
	require.NoError(t, err)

	assert.Len(t, ext.probeCalls, 1)
	assert.Equal(t, "a", first.DownloadID)
	assert.Equal(t, "b", second.DownloadID)
	assert.Equal(t, first.Formats, second.Formats)
}

func TestDownloadFormatUnavailableInvalidatesCachedMetadata(t *testing.T) {
	scratch, err := fs.NewScratch(t.TempDir(), nil)
	require.NoError(t, err)

	ext := &fakeExtractor{succeedAt: 1, raw: sampleRaw(), fetches: []fetchResult{
		{err: errors.New("ERROR: [facebook] 1: Requested format is not available")},
		{fileName: "Retry.mp4"},
	}}
	svc := NewService(Config{
		Extractor: ext,
		Scratch:   scratch,
		Cache:     cache.NewMetadataCache(10*time.Minute, 5*time.Minute),
		NewID:     func() string { return "a" },
	})

	ctx := context.Background()
	_, err = svc.Extract(ctx, "https://facebook.com/reel/1")
	require.NoError(t, err)
	_, err = svc.Download(ctx, "https://facebook.com/reel/1", "a", "hd")
	require.NoError(t, err)

	// The next extraction goes upstream again.
	ext.succeedAt = 2
	_, err = svc.Extract(ctx, "https://facebook.com/reel/1")
	require.NoError(t, err)
	assert.Len(t, ext.probeCalls, 2)
}

func TestFormatSelector(t *testing.T) {
	assert.Equal(t, "best", FormatSelector(""))
	assert.Equal(t, "best", FormatSelector("best"))
	assert.Equal(t, "999/best", FormatSelector("999"))
}

func TestDownloadSucceedsFirstTime(t *testing.T) {
	ext := &fakeExtractor{fetches: []fetchResult{{fileName: "Clip.mp4"}}}
	env := newTestEnv(t, ext)

	path, err := env.svc.Download(context.Background(), "https://facebook.com/reel/1", "abc", "hd")
	require.NoError(t, err)

	require.Len(t, ext.fetchCalls, 1)
	assert.Equal(t, "hd/best", ext.fetchCalls[0].Format)
	assert.Equal(t, filepath.Join(env.scratch.Root(), "abc", "%(title)s.%(ext)s"), ext.fetchCalls[0].OutputTemplate)
	assert.Equal(t, filepath.Join(env.scratch.Root(), "abc", "Clip.mp4"), path)
	assert.FileExists(t, path)
	assert.Equal(t, domain.SessionStatusDownloaded, env.sessions.saved["abc"].Status)
}

func TestDownloadRetriesOnceWhenFormatUnavailable(t *testing.T) {
	ext := &fakeExtractor{fetches: []fetchResult{
		{err: errors.New("ERROR: [facebook] 1: Requested format is not available")},
		{fileName: "Retry.mp4"},
	}}
	env := newTestEnv(t, ext)

	path, err := env.svc.Download(context.Background(), "https://facebook.com/reel/1", "abc", "999")
	require.NoError(t, err)

	require.Len(t, ext.fetchCalls, 2)
	assert.Equal(t, "999/best", ext.fetchCalls[0].Format)
	assert.Equal(t, "best", ext.fetchCalls[1].Format)
	assert.Equal(t, filepath.Join(env.scratch.Root(), "abc", "Retry.mp4"), path)
}

func TestDownloadRetryFailureIsTerminal(t *testing.T) {
	ext := &fakeExtractor{fetches: []fetchResult{
		{err: errors.New("Requested format is not available")},
		{err: errors.New("HTTP Error 403: Forbidden")},
	}}
	env := newTestEnv(t, ext)

	_, err := env.svc.Download(context.Background(), "https://facebook.com/reel/1", "abc", "999")

	var e *domain.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, domain.KindDownloadFailed, e.Kind)
	assert.Equal(t, "Could not download video in any available format: HTTP Error 403: Forbidden", e.Message)
	assert.Len(t, ext.fetchCalls, 2)
	assert.Equal(t, domain.SessionStatusFailed, env.sessions.saved["abc"].Status)
}

func TestDownloadOtherFailureIsNotRetried(t *testing.T) {
	ext := &fakeExtractor{fetches: []fetchResult{{err: errors.New("HTTP Error 404")}}}
	env := newTestEnv(t, ext)

	_, err := env.svc.Download(context.Background(), "https://facebook.com/reel/1", "abc", "")

	var e *domain.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "Download failed: HTTP Error 404", e.Message)
	require.Len(t, ext.fetchCalls, 1)
	assert.Equal(t, "best", ext.fetchCalls[0].Format)
}

func TestDownloadCreatesDirectoryLazily(t *testing.T) {
	ext := &fakeExtractor{fetches: []fetchResult{{fileName: "Clip.mp4"}}}
	env := newTestEnv(t, ext)

	dir, err := env.scratch.Dir("never-extracted")
	require.NoError(t, err)
	assert.NoDirExists(t, dir)

	_, err = env.svc.Download(context.Background(), "https://facebook.com/reel/1", "never-extracted", "best")
	require.NoError(t, err)
	assert.DirExists(t, dir)
}

func TestDownloadRejectsBadInput(t *testing.T) {
	ext := &fakeExtractor{}
	env := newTestEnv(t, ext)

	_, err := env.svc.Download(context.Background(), "https://example.com/v", "abc", "")
	assert.ErrorIs(t, err, domain.ErrInvalidURL)

	_, err = env.svc.Download(context.Background(), "https://facebook.com/reel/1", "../escape", "")
	assert.ErrorIs(t, err, fs.ErrInvalidSessionID)

	assert.Empty(t, ext.fetchCalls)
}

func TestCleanupRemovesSessionDirectory(t *testing.T) {
	ext := &fakeExtractor{fetches: []fetchResult{{fileName: "Clip.mp4"}}}
	env := newTestEnv(t, ext)

	path, err := env.svc.Download(context.Background(), "https://facebook.com/reel/1", "abc", "")
	require.NoError(t, err)

	env.svc.Cleanup(context.Background(), path)

	assert.NoFileExists(t, path)
	assert.NoDirExists(t, filepath.Dir(path))
	assert.DirExists(t, env.scratch.Root())
	assert.NotContains(t, env.sessions.saved, "abc")
}

func TestCleanupIgnoresPathsOutsideRoot(t *testing.T) {
	env := newTestEnv(t, &fakeExtractor{})

	outside := filepath.Join(t.TempDir(), "keep.mp4")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0644))

	env.svc.Cleanup(context.Background(), outside)
	assert.FileExists(t, outside)
}

func TestDiscard(t *testing.T) {
	env := newTestEnv(t, &fakeExtractor{succeedAt: 1, raw: sampleRaw()})

	info, err := env.svc.Extract(context.Background(), "https://facebook.com/reel/1")
	require.NoError(t, err)

	require.NoError(t, env.svc.Discard(context.Background(), info.DownloadID))
	dir, _ := env.scratch.Dir(info.DownloadID)
	assert.NoDirExists(t, dir)

	assert.ErrorIs(t, env.svc.Discard(context.Background(), ".."), fs.ErrInvalidSessionID)
}
