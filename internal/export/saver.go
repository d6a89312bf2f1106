package export

import (
	"context"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"

	appLog "calreport/internal/log"
)

// Saver hands a finished document to its destination.
type Saver interface {
	Save(ctx context.Context, name string, data []byte) error
}

// SaverFunc adapts a function to Saver.
type SaverFunc func(ctx context.Context, name string, data []byte) error

func (f SaverFunc) Save(ctx context.Context, name string, data []byte) error {
	return f(ctx, name, data)
}

// FileSaver writes documents into Dir.
//
// Writes go through a temp file in the same directory followed by a rename,
// so a reader never observes a half-written report even when two exports
// overlap; the last rename wins.
type FileSaver struct {
	Dir string
}

func (s FileSaver) Save(_ context.Context, name string, data []byte) error {
	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return goerr.Wrap(err, "failed to create output directory", goerr.V("dir", dir))
	}

	tmp, err := os.CreateTemp(dir, ".calreport-*.tmp")
	if err != nil {
		return goerr.Wrap(err, "failed to create temp file", goerr.V("dir", dir))
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return goerr.Wrap(err, "failed to write report", goerr.V("path", tmpName))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return goerr.Wrap(err, "failed to sync report", goerr.V("path", tmpName))
	}
	if err := tmp.Close(); err != nil {
		return goerr.Wrap(err, "failed to close report", goerr.V("path", tmpName))
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return goerr.Wrap(err, "failed to chmod report", goerr.V("path", tmpName))
	}

	target := filepath.Join(dir, name)
	if err := os.Rename(tmpName, target); err != nil {
		return goerr.Wrap(err, "failed to move report into place", goerr.V("path", target))
	}

	appLog.Info("report saved", "path", target, "bytes", len(data))
	return nil
}
