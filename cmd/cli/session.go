package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/beta-sketch/internal/autosave"
	"github.com/and161185/beta-sketch/internal/conflict"
	"github.com/and161185/beta-sketch/internal/drawing"
	"github.com/and161185/beta-sketch/internal/errs"
	"github.com/and161185/beta-sketch/internal/loader"
	"github.com/and161185/beta-sketch/internal/localstore"
	"github.com/and161185/beta-sketch/internal/model"
	"github.com/and161185/beta-sketch/internal/reconcile"
)

// backend is what an editing session needs from the authority.
type backend interface {
	loader.Fetcher
	autosave.Writer
}

// session is one interactive editing session on a single beta.
type session struct {
	id      uuid.UUID
	be      backend
	store   *localstore.Store
	eng     *autosave.Engine
	ld      *loader.Loader
	pending string
	log     *zap.Logger

	outMu sync.Mutex
	out   io.Writer
}

func newSession(id uuid.UUID, be backend, store *localstore.Store, pending string, out io.Writer, log *zap.Logger, opts ...autosave.Option) *session {
	return &session{
		id:      id,
		be:      be,
		store:   store,
		eng:     autosave.New(store, be, append([]autosave.Option{autosave.WithLogger(log.Named("autosave"))}, opts...)...),
		ld:      loader.New(be, store, log.Named("loader")),
		pending: pending,
		log:     log,
		out:     out,
	}
}

func (s *session) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func (s *session) printComparison(c conflict.Comparison) {
	row := func(name string, cand conflict.Candidate) {
		s.printf("  %-6s lines=%d shapes=%d brush=%d eraser=%d updated=%s\n",
			name, cand.Lines, cand.Shapes, cand.Brush, cand.Eraser, cand.UpdatedAt)
	}
	s.printf("conflict: the server copy changed since your last sync\n")
	row("local", c.Local)
	row("server", c.Server)
	if side := c.NewerSide(); side != "" {
		s.printf("  newer: %s\n", side)
	}
}

// run loads the document, settles any conflict, and then executes commands read from
// in until quit or EOF.
func (s *session) run(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)

	res, err := s.ld.Load(ctx, s.id)
	if err != nil {
		return err
	}
	s.printf("opened %s: %s\n", s.id, res.Strategy)
	if res.HasLocalUnsavedChanges {
		s.printf("you have unsaved local changes; they will be saved shortly\n")
	}

	if res.Strategy == reconcile.PromptUser {
		remote := *res.ServerData
		s.printComparison(conflict.Compare(s.store.Get(), remote))
		if err := conflict.SavePending(s.pending, s.id, remote); err != nil {
			s.log.Warn("save pending conflict", zap.Error(err))
		}
		choice, err := s.ask(sc)
		if err != nil {
			return err
		}
		s.eng.Bind(s.id)
		if err := s.resolve(ctx, remote, choice); err != nil {
			return err
		}
	} else {
		s.eng.Bind(s.id)
	}

	cancel := s.eng.OnStatus(s.onStatus)
	defer cancel()
	defer s.eng.Close()

	s.printf("type help for commands\n")
	for sc.Scan() {
		quit, err := s.exec(ctx, sc.Text())
		if err != nil {
			s.printf("error: %v\n", err)
		}
		if quit {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	s.flush(ctx)
	return nil
}

// ask reads lines until the user picks a side.
func (s *session) ask(sc *bufio.Scanner) (conflict.Choice, error) {
	for {
		s.printf("keep which copy? [local|server]: ")
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", err
			}
			return "", io.ErrUnexpectedEOF
		}
		c, err := conflict.ParseChoice(sc.Text())
		if err == nil {
			return c, nil
		}
		s.printf("%v\n", err)
	}
}

func (s *session) onStatus(st autosave.Status) {
	switch st {
	case autosave.StatusConflict:
		rec, ok := s.eng.Conflict()
		if !ok {
			s.printf("[autosave] conflict; run resolve local|server\n")
			return
		}
		s.printComparison(conflict.Compare(s.store.Get(), rec))
		if err := conflict.SavePending(s.pending, s.id, rec); err != nil {
			s.log.Warn("save pending conflict", zap.Error(err))
		}
		s.printf("run resolve local|server\n")
	case autosave.StatusError:
		s.printf("[autosave] error: %s\n", s.eng.ErrorMessage())
	case autosave.StatusIdle:
	default:
		s.printf("[autosave] %s\n", st)
	}
}

// resolve commits choice against remote and clears the pending file.
func (s *session) resolve(ctx context.Context, remote model.Record, choice conflict.Choice) error {
	if err := conflict.Resolve(s.store, s.eng, remote, choice); err != nil {
		return err
	}
	if err := conflict.ClearPending(s.pending); err != nil {
		s.log.Warn("clear pending conflict", zap.Error(err))
	}
	s.printf("kept %s copy\n", choice)
	if choice == conflict.ChoiceLocal {
		return s.eng.ForceSave(ctx)
	}
	return nil
}

// conflictRecord returns the remote side of the current conflict, fetching it when the
// engine only knows that a conflict happened.
func (s *session) conflictRecord(ctx context.Context) (model.Record, error) {
	if rec, ok := s.eng.Conflict(); ok {
		return rec, nil
	}
	return s.be.Fetch(ctx, s.id)
}

// flush pushes unsaved edits before the session ends. A write already in flight is
// waited out first; edits made while it ran are pushed after it.
func (s *session) flush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	for {
		if err := s.waitWrite(ctx); err != nil {
			s.printf("final save abandoned, edits kept locally: %v\n", err)
			return
		}
		if s.eng.Status() == autosave.StatusConflict || !s.eng.Dirty() {
			return
		}
		err := s.eng.ForceSave(ctx)
		if errors.Is(err, autosave.ErrBusy) {
			continue
		}
		if err != nil {
			s.printf("final save failed: %v\n", saveErr(err))
		}
		return
	}
}

const flushTimeout = 10 * time.Second

// waitWrite blocks while the engine has a write in flight.
func (s *session) waitWrite(ctx context.Context) error {
	if !s.eng.Saving() {
		return nil
	}
	s.printf("waiting for save in flight\n")
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for s.eng.Saving() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// saveErr adds a hint for failures the next tick may get past.
func saveErr(err error) error {
	if errs.Retryable(err) {
		return fmt.Errorf("%w (edits kept locally, will retry)", err)
	}
	return err
}

const sessionHelp = `commands:
  draw [brush|eraser] x,y [x,y ...] [color=#rrggbb] [width=n]
  hold x,y radius [color=#rrggbb]
  undo | redo | show | status | save
  resolve local|server
  quit
`

// exec runs one command line.
func (s *session) exec(ctx context.Context, line string) (quit bool, err error) {
	f := strings.Fields(line)
	if len(f) == 0 {
		return false, nil
	}
	switch strings.ToLower(f[0]) {
	case "help", "?":
		s.printf("%s", sessionHelp)
	case "quit", "exit", "q":
		return true, nil
	case "draw", "line":
		l, err := parseLine(f[1:])
		if err != nil {
			return false, err
		}
		return false, s.edit(s.store.Get().Document.AddLine(l))
	case "hold", "circle":
		c, err := parseHold(f[1:])
		if err != nil {
			return false, err
		}
		return false, s.edit(s.store.Get().Document.AddCircle(c))
	case "undo":
		if !s.store.Undo() {
			s.printf("nothing to undo\n")
		}
	case "redo":
		if !s.store.Redo() {
			s.printf("nothing to redo\n")
		}
	case "show":
		st := s.store.Get()
		stats := drawing.StatsOf(st.Document)
		s.printf("lines=%d shapes=%d points=%d modified=%s synced=%s\n",
			stats.Lines, stats.Shapes, stats.Points, st.LastModifiedLocally, st.LastSyncedWithServer)
	case "status":
		st := s.eng.Status()
		if msg := s.eng.ErrorMessage(); msg != "" {
			s.printf("%s: %s\n", st, msg)
		} else {
			s.printf("%s\n", st)
		}
		s.printf("baseline=%s dirty=%t\n", s.eng.Baseline(), s.eng.Dirty())
	case "save":
		err := s.eng.ForceSave(ctx)
		if errors.Is(err, autosave.ErrUnresolvedConflict) {
			return false, errors.New("resolve the conflict first")
		}
		if err != nil {
			return false, saveErr(err)
		}
		return false, nil
	case "resolve":
		if len(f) != 2 {
			return false, fmt.Errorf("%w: resolve local|server", errUsage)
		}
		choice, err := conflict.ParseChoice(f[1])
		if err != nil {
			return false, err
		}
		if s.eng.Status() != autosave.StatusConflict {
			return false, errors.New("no conflict to resolve")
		}
		rec, err := s.conflictRecord(ctx)
		if err != nil {
			return false, err
		}
		return false, s.resolve(ctx, rec, choice)
	default:
		return false, fmt.Errorf("unknown command %q (try help)", f[0])
	}
	return false, nil
}

func (s *session) edit(doc drawing.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	s.store.Edit(doc)
	return nil
}
