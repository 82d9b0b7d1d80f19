package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mpapenbr/forza-session-recorder/log"
)

const FileExt = ".csv"

// CommitError is returned when a finished session could not be stored.
// The session data is lost unless the caller keeps a copy.
type CommitError struct {
	SessionID string
	Path      string
	Err       error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit session %s to %s: %v", e.SessionID, e.Path, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// Committer writes complete session files. A file at the destination path
// is never overwritten and never visible in a partially written state.
type Committer struct {
	folder string
	l      *log.Logger
	tracer trace.Tracer
}

func NewCommitter(folder string, l *log.Logger, tracer trace.Tracer) *Committer {
	return &Committer{folder: folder, l: l, tracer: tracer}
}

func (c *Committer) Path(id string) string {
	return filepath.Join(c.folder, id+FileExt)
}

// Commit stores data as the file for the session id.
// The data is written to a temporary file in the same folder which is synced
// and then linked to the destination. Linking fails if the destination
// exists, which gives us exclusive-create semantics for the complete file.
//
//nolint:whitespace // editor/linter issue
func (c *Committer) Commit(ctx context.Context, id string, data []byte) (
	string, error,
) {
	dest := c.Path(id)
	_, span := c.tracer.Start(ctx, "session.commit",
		trace.WithAttributes(
			attribute.String("session.id", id),
			attribute.Int("session.bytes", len(data))))
	defer span.End()

	err := c.commit(dest, data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return dest, &CommitError{SessionID: id, Path: dest, Err: err}
	}
	return dest, nil
}

func (c *Committer) commit(dest string, data []byte) error {
	tmpName := filepath.Join(c.folder,
		fmt.Sprintf(".%s.%s.tmp", filepath.Base(dest), uuid.NewString()))
	f, err := os.OpenFile(tmpName, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer os.Remove(tmpName)

	if _, err = f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return c.publish(tmpName, dest)
}

// publish makes the synced file at src visible at dest. dest must not exist.
func (c *Committer) publish(src, dest string) error {
	err := os.Link(src, dest)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrExist):
		return err
	default:
		// some file systems don't support hard links
		c.l.Debug("link failed, falling back to exclusive copy",
			log.String("dest", dest), log.ErrorField(err))
		if err = copyExclusive(src, dest); err != nil {
			return err
		}
	}
	c.syncFolder()
	return nil
}

func copyExclusive(src, dest string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(dest)
		}
	}()
	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	if err = out.Sync(); err != nil {
		return err
	}
	return out.Close()
}

// persists the directory entry. Not supported on every platform.
func (c *Committer) syncFolder() {
	d, err := os.Open(c.folder)
	if err != nil {
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		c.l.Debug("folder sync not supported", log.ErrorField(err))
	}
}
