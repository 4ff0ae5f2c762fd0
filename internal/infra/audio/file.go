package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"voicecall/internal/recording"
)

var fileMIMETypes = map[string]string{
	".wav":  "audio/wav",
	".webm": "audio/webm",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
}

// FileMicrophone stands in for a capture device on headless hosts. Each
// recording cycle yields the oldest unprocessed audio file in dir, which is
// then renamed with a .processed suffix.
type FileMicrophone struct {
	dir    string
	logger *slog.Logger

	mu        sync.Mutex
	processed map[string]bool
}

func NewFileMicrophone(dir string, logger *slog.Logger) *FileMicrophone {
	return &FileMicrophone{
		dir:       dir,
		logger:    logger.With("component", "file_microphone"),
		processed: make(map[string]bool),
	}
}

func (f *FileMicrophone) Acquire(ctx context.Context) (recording.MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return nil, fmt.Errorf("creating audio dir: %w", err)
	}
	return &fileStream{track: &fileTrack{id: "file:" + f.dir}}, nil
}

func (f *FileMicrophone) NewCapture(_ recording.MediaStream) (recording.Capture, error) {
	return &fileCapture{mic: f, mime: "audio/wav"}, nil
}

// next returns the contents of the oldest unprocessed file, or nil when the
// directory holds none.
func (f *FileMicrophone) next() ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, "", fmt.Errorf("reading dir: %w", err)
	}

	type candidate struct {
		path string
		mod  int64
	}
	var files []candidate
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := fileMIMETypes[filepath.Ext(entry.Name())]; !ok {
			continue
		}
		path := filepath.Join(f.dir, entry.Name())
		if f.processed[path] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{path: path, mod: info.ModTime().UnixNano()})
	}
	if len(files) == 0 {
		return nil, "", nil
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].mod != files[j].mod {
			return files[i].mod < files[j].mod
		}
		return files[i].path < files[j].path
	})
	path := files[0].path

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading file %s: %w", path, err)
	}

	f.processed[path] = true
	if err := os.Rename(path, path+".processed"); err != nil {
		f.logger.Warn("marking file processed", "path", path, "error", err)
	}

	f.logger.Info("captured from file", "path", path, "bytes", len(data))
	return data, fileMIMETypes[filepath.Ext(path)], nil
}

type fileStream struct {
	track *fileTrack
}

func (s *fileStream) Tracks() []recording.Track {
	return []recording.Track{s.track}
}

type fileTrack struct {
	id string
}

func (t *fileTrack) ID() string { return t.id }
func (t *fileTrack) Stop()      {}

type fileCapture struct {
	mic     *FileMicrophone
	onChunk func([]byte)
	mime    string
}

func (c *fileCapture) Start(onChunk func([]byte)) error {
	c.onChunk = onChunk
	return nil
}

func (c *fileCapture) Finalize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, mime, err := c.mic.next()
	if err != nil {
		return err
	}
	if data != nil {
		c.mime = mime
		c.onChunk(data)
	}
	return nil
}

func (c *fileCapture) Abort() {}

func (c *fileCapture) MIMEType() string { return c.mime }
