package feed

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/greeter/internal/errors"
	"github.com/Iron-Ham/greeter/internal/logging"
	"github.com/Iron-Ham/greeter/internal/tracker"
)

// Follower tails a JSONL file, yielding batches as they are appended. It
// reads what is already in the file first. A truncated file is read again
// from the start; a removed or renamed file ends the feed.
type Follower struct {
	path     string
	file     *os.File
	reader   *bufio.Reader
	offset   int64
	partial  []byte
	overflow bool
	line     int
	watcher  *fsnotify.Watcher
	logger   *logging.Logger
}

// NewFollower opens path and starts watching it. The file must exist.
func NewFollower(path string, logger *logging.Logger) (*Follower, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feed: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		file.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	return &Follower{
		path:    path,
		file:    file,
		reader:  bufio.NewReader(file),
		watcher: watcher,
		logger:  logger.WithComponent("feed"),
	}, nil
}

// Next blocks until a complete line is available, ctx is done, or the file
// goes away (io.EOF). A line longer than maxLine is discarded and reported
// as a validation error once its terminator arrives.
func (f *Follower) Next(ctx context.Context) (tracker.Batch, error) {
	for {
		chunk, err := f.reader.ReadSlice('\n')
		f.offset += int64(len(chunk))
		if !f.overflow {
			f.partial = append(f.partial, chunk...)
			if len(f.partial) > maxLine+1 {
				f.partial, f.overflow = nil, true
			}
		}

		switch {
		case err == nil:
			f.line++
			if f.overflow {
				f.overflow = false
				return tracker.Batch{}, fmt.Errorf("%s line %d: %w", f.path, f.line,
					errors.NewValidationError(fmt.Sprintf("line exceeds %d bytes", maxLine)))
			}
			line := f.partial
			f.partial = nil
			if skippable(line) {
				continue
			}
			b, perr := ParseLine(line)
			if perr != nil {
				return tracker.Batch{}, fmt.Errorf("%s line %d: %w", f.path, f.line, perr)
			}
			return b, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case !errors.Is(err, io.EOF):
			return tracker.Batch{}, fmt.Errorf("read feed: %w", err)
		}

		if err := f.wait(ctx); err != nil {
			return tracker.Batch{}, err
		}
	}
}

// wait blocks for the next change to the file.
func (f *Follower) wait(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-f.watcher.Events:
			if !ok {
				return io.EOF
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				f.logger.Info("feed file went away", "path", f.path, "op", ev.Op.String())
				return io.EOF
			}
			if !ev.Has(fsnotify.Write) {
				continue
			}
			if err := f.checkTruncate(); err != nil {
				return err
			}
			return nil

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return io.EOF
			}
			return fmt.Errorf("watch %s: %w", f.path, err)
		}
	}
}

func (f *Follower) checkTruncate() error {
	info, err := f.file.Stat()
	if err != nil {
		return fmt.Errorf("stat feed: %w", err)
	}
	if info.Size() >= f.offset {
		return nil
	}
	f.logger.Warn("feed file truncated, rereading", "path", f.path, "size", info.Size(), "offset", f.offset)
	if _, err := f.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind feed: %w", err)
	}
	f.reader.Reset(f.file)
	f.offset = 0
	f.partial = nil
	f.overflow = false
	f.line = 0
	return nil
}

// Close stops watching and closes the file.
func (f *Follower) Close() error {
	werr := f.watcher.Close()
	ferr := f.file.Close()
	if werr != nil {
		return werr
	}
	return ferr
}
