package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mpapenbr/forza-session-recorder/log"
	"github.com/mpapenbr/forza-session-recorder/pkg/model"
	"github.com/mpapenbr/forza-session-recorder/pkg/session"
)

const PartExt = ".part"

// streamSink writes rows as they arrive into a hidden part file.
// Memory usage stays constant. A crash leaves a part file behind but never a
// partial session file.
type streamSink struct {
	committer  *Committer
	folder     string
	flushEvery int
	l          *log.Logger

	current *session.Session
	f       *os.File
	w       *csv.Writer
	record  []string
	pending int
}

var _ Sink = (*streamSink)(nil)

func (s *streamSink) partPath(id string) string {
	return filepath.Join(s.folder, "."+id+FileExt+PartExt)
}

func (s *streamSink) Open(sess *session.Session) error {
	if s.current != nil {
		return fmt.Errorf("%w: %s", ErrSessionOpen, s.current.ID)
	}
	f, err := os.OpenFile(s.partPath(sess.ID), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return &CommitError{SessionID: sess.ID, Path: s.committer.Path(sess.ID), Err: err}
	}
	s.f = f
	s.w = csv.NewWriter(f)
	if err := s.w.Write(model.Columns()); err != nil {
		s.discard()
		return err
	}
	s.current = sess
	s.record = make([]string, 0, model.NumColumns())
	s.pending = 0
	return nil
}

func (s *streamSink) Append(sample *model.Sample) error {
	if s.current == nil {
		return ErrNoSession
	}
	s.record = sample.AppendRecord(s.record[:0])
	if err := s.w.Write(s.record); err != nil {
		return err
	}
	s.current.Rows++
	s.pending++
	if s.pending >= s.flushEvery {
		s.pending = 0
		s.w.Flush()
		return s.w.Error()
	}
	return nil
}

func (s *streamSink) Commit(ctx context.Context) (string, error) {
	if s.current == nil {
		return "", ErrNoSession
	}
	sess := s.current
	dest := s.committer.Path(sess.ID)
	_, span := s.committer.tracer.Start(ctx, "session.commit",
		trace.WithAttributes(
			attribute.String("session.id", sess.ID),
			attribute.Int("session.rows", sess.Rows)))
	defer span.End()

	err := s.finish()
	if err == nil {
		err = s.committer.publish(s.partPath(sess.ID), dest)
	}
	s.discard()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return dest, &CommitError{SessionID: sess.ID, Path: dest, Err: err}
	}
	if err := sess.MarkCommitted(); err != nil {
		return dest, err
	}
	s.l.Debug("session committed",
		log.String("session", sess.ID), log.Int("rows", sess.Rows), log.String("path", dest))
	return dest, nil
}

func (s *streamSink) finish() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}
	if err := s.f.Sync(); err != nil {
		return err
	}
	return s.f.Close()
}

func (s *streamSink) Abort() {
	if s.current == nil {
		return
	}
	s.l.Debug("session aborted", log.String("session", s.current.ID))
	s.discard()
}

// discard closes and removes the part file and resets the sink.
func (s *streamSink) discard() {
	if s.f != nil {
		s.f.Close() // may already be closed by finish
		if err := os.Remove(s.f.Name()); err != nil && !os.IsNotExist(err) {
			s.l.Warn("could not remove part file",
				log.String("file", s.f.Name()), log.ErrorField(err))
		}
	}
	s.f = nil
	s.w = nil
	s.current = nil
}
