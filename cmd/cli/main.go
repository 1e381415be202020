// Command bs is the BetaSketch client: it annotates betas locally and keeps them in
// sync with the server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/beta-sketch/internal/autosave"
	"github.com/and161185/beta-sketch/internal/config"
	"github.com/and161185/beta-sketch/internal/conflict"
	"github.com/and161185/beta-sketch/internal/drawing"
	"github.com/and161185/beta-sketch/internal/localstore"
	"github.com/and161185/beta-sketch/internal/model"
	"github.com/and161185/beta-sketch/internal/reconcile"
	"github.com/and161185/beta-sketch/internal/remote"
	"github.com/and161185/beta-sketch/internal/rpc"
)

// ---- utils ----

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `bs CLI
Usage:
  bs [-addr HOST:PORT] [-cacert file | -insecure] [-dir path] [-v] <cmd> [args]

Commands:
  version
  register   -u <username> -p <password>
  login      -u <username> -p <password>           (saves token)
  new        -grade <grade>                        (creates a beta)
  list
  open       -id <uuid>                            (load and reconcile)
  show       [-raw]                                (local document)
  save                                             (push local edits now)
  resolve    -choice local|server                  (settle a pending conflict)
  session    -id <uuid>                            (interactive editor with autosave)
`)
	os.Exit(2)
}

func newLogger(verbose bool) *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func needID(s string) uuid.UUID {
	id, err := uuid.FromString(s)
	if err != nil || id == uuid.Nil {
		fmt.Fprintln(os.Stderr, "need a valid -id")
		os.Exit(1)
	}
	return id
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands and configures TLS/auth for RPC calls.
func main() {
	if _, err := config.LoadDotEnv(); err != nil {
		fail(err)
	}
	var cfg config.CLI
	cfg.RegisterFlags(flag.CommandLine)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	if err := cfg.Validate(); err != nil {
		fail(err)
	}
	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	logger := newLogger(cfg.Verbose)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &cli{cfg: cfg, log: logger}

	var err error
	switch cmd {
	case "version":
		fmt.Printf("bs %s (%s)\n", version, buildDate)
	case "register":
		err = app.register(ctx, args)
	case "login":
		err = app.login(ctx, args)
	case "new":
		err = app.create(ctx, args)
	case "list":
		err = app.list(ctx)
	case "open":
		err = app.open(ctx, args)
	case "show":
		err = app.show(args)
	case "save":
		err = app.save(ctx)
	case "resolve":
		err = app.resolve(ctx, args)
	case "session":
		err = app.session(ctx, args)
	default:
		usage()
	}
	if err != nil {
		fail(err)
	}
}

type cli struct {
	cfg config.CLI
	log *zap.Logger
}

func (c *cli) rpcTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 30*time.Second)
}

func credsArgs(name string, args []string) (user, pass string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	u := fs.String("u", "", "username")
	p := fs.String("p", "", "password")
	_ = fs.Parse(args)
	if *u == "" || *p == "" {
		fmt.Fprintln(os.Stderr, "need -u and -p")
		os.Exit(1)
	}
	return *u, *p
}

func (c *cli) register(ctx context.Context, args []string) error {
	u, p := credsArgs("register", args)
	cc, cl, err := dial(c.cfg.Server, c.cfg.CACert, c.cfg.Insecure, "")
	if err != nil {
		return err
	}
	defer cc.Close()

	ctx, cancel := c.rpcTimeout(ctx)
	defer cancel()
	resp, err := cl.Register(ctx, &rpc.RegisterRequest{Username: u, Password: p})
	if err != nil {
		return err
	}
	fmt.Println(resp.UserID)
	return nil
}

func (c *cli) login(ctx context.Context, args []string) error {
	u, p := credsArgs("login", args)
	cc, cl, err := dial(c.cfg.Server, c.cfg.CACert, c.cfg.Insecure, "")
	if err != nil {
		return err
	}
	defer cc.Close()

	ctx, cancel := c.rpcTimeout(ctx)
	defer cancel()
	resp, err := cl.Login(ctx, &rpc.LoginRequest{Username: u, Password: p})
	if err != nil {
		return err
	}
	tf := tokenFile{AccessToken: resp.AccessToken, ExpiresAt: tokenExpiry(resp), UserID: resp.UserID}
	if err := saveToken(c.cfg.Dir, tf); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

// authority dials with the saved token. The caller closes the returned func.
func (c *cli) authority() (*remote.Authority, func(), error) {
	token, err := loadToken(c.cfg.Dir)
	if err != nil {
		return nil, nil, err
	}
	cc, cl, err := dial(c.cfg.Server, c.cfg.CACert, c.cfg.Insecure, token)
	if err != nil {
		return nil, nil, err
	}
	return remote.New(cl, c.log.Named("remote")), func() { _ = cc.Close() }, nil
}

func (c *cli) openStore() (*localstore.Store, error) {
	return localstore.Open(statePath(c.cfg.Dir), localstore.WithLogger(c.log.Named("store")))
}

func (c *cli) create(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("new", flag.ExitOnError)
	grade := fs.String("grade", "", "difficulty grade, e.g. 6B+ or V4")
	_ = fs.Parse(args)

	auth, closeFn, err := c.authority()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := c.rpcTimeout(ctx)
	defer cancel()
	b, err := auth.Create(ctx, *grade)
	if err != nil {
		return err
	}
	printJSON(b)
	return nil
}

func (c *cli) list(ctx context.Context) error {
	auth, closeFn, err := c.authority()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := c.rpcTimeout(ctx)
	defer cancel()
	betas, err := auth.List(ctx)
	if err != nil {
		return err
	}
	printJSON(betas)
	return nil
}

type openReport struct {
	ID                     string          `json:"id"`
	Strategy               string          `json:"strategy"`
	HasLocalUnsavedChanges bool            `json:"hasLocalUnsavedChanges"`
	Stats                  drawing.Stats   `json:"stats"`
	Conflict               *comparisonJSON `json:"conflict,omitempty"`
}

type comparisonJSON struct {
	Local  candidateJSON `json:"local"`
	Server candidateJSON `json:"server"`
	Newer  string        `json:"newer,omitempty"`
}

type candidateJSON struct {
	drawing.Stats
	UpdatedAt string `json:"updatedAt"`
}

func toComparisonJSON(cmp conflict.Comparison) *comparisonJSON {
	return &comparisonJSON{
		Local:  candidateJSON{Stats: cmp.Local.Stats, UpdatedAt: cmp.Local.UpdatedAt.String()},
		Server: candidateJSON{Stats: cmp.Server.Stats, UpdatedAt: cmp.Server.UpdatedAt.String()},
		Newer:  string(cmp.NewerSide()),
	}
}

func (c *cli) open(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("open", flag.ExitOnError)
	idStr := fs.String("id", "", "beta id")
	_ = fs.Parse(args)
	id := needID(*idStr)

	auth, closeFn, err := c.authority()
	if err != nil {
		return err
	}
	defer closeFn()
	store, err := c.openStore()
	if err != nil {
		return err
	}

	ctx, cancel := c.rpcTimeout(ctx)
	defer cancel()
	s := newSession(id, auth, store, pendingPath(c.cfg.Dir), os.Stdout, c.log)
	res, err := s.ld.Load(ctx, id)
	if err != nil {
		return err
	}
	rep := openReport{
		ID:                     id.String(),
		Strategy:               res.Strategy.String(),
		HasLocalUnsavedChanges: res.HasLocalUnsavedChanges,
		Stats:                  drawing.StatsOf(res.Document),
	}
	if res.Strategy == reconcile.PromptUser {
		rep.Conflict = toComparisonJSON(conflict.Compare(store.Get(), *res.ServerData))
		if err := conflict.SavePending(pendingPath(c.cfg.Dir), id, *res.ServerData); err != nil {
			return err
		}
	}
	printJSON(rep)
	if rep.Conflict != nil {
		fmt.Fprintln(os.Stderr, "conflict pending: run bs resolve -choice local|server")
	}
	return nil
}

func (c *cli) show(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	raw := fs.Bool("raw", false, "print the document itself")
	_ = fs.Parse(args)

	store, err := c.openStore()
	if err != nil {
		return err
	}
	st := store.Get()
	if *raw {
		printJSON(st.Document)
		return nil
	}
	undo, redo := store.CanUndo()
	printJSON(map[string]any{
		"documentId":           st.DocumentID.String(),
		"lastModifiedLocally":  st.LastModifiedLocally,
		"lastSyncedWithServer": st.LastSyncedWithServer,
		"unsaved":              st.Unsaved(),
		"stats":                drawing.StatsOf(st.Document),
		"undo":                 undo,
		"redo":                 redo,
	})
	return nil
}

// saveOnce binds an engine to the store's document, forces one write and waits for it.
func (c *cli) saveOnce(ctx context.Context, store *localstore.Store, w autosave.Writer, before func(*autosave.Engine) error) error {
	id := store.Get().DocumentID
	if id == uuid.Nil {
		return errors.New("no local document (open one first)")
	}
	eng := autosave.New(store, w, autosave.WithLogger(c.log.Named("autosave")), autosave.WithInterval(time.Hour))
	eng.Bind(id)
	defer eng.Close()
	if before != nil {
		if err := before(eng); err != nil {
			return err
		}
	}
	err := eng.ForceSave(ctx)
	var ce *model.ConflictError
	if errors.As(err, &ce) {
		if perr := conflict.SavePending(pendingPath(c.cfg.Dir), id, ce.Current); perr != nil {
			return perr
		}
		printJSON(toComparisonJSON(conflict.Compare(store.Get(), ce.Current)))
		return fmt.Errorf("%w: run bs resolve -choice local|server", err)
	}
	return err
}

func (c *cli) save(ctx context.Context) error {
	auth, closeFn, err := c.authority()
	if err != nil {
		return err
	}
	defer closeFn()
	store, err := c.openStore()
	if err != nil {
		return err
	}
	if err := c.saveOnce(ctx, store, auth, nil); err != nil {
		return err
	}
	fmt.Println("saved", store.Get().LastSyncedWithServer)
	return nil
}

func (c *cli) resolve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	choiceStr := fs.String("choice", "", "local or server")
	_ = fs.Parse(args)
	choice, err := conflict.ParseChoice(*choiceStr)
	if err != nil {
		return err
	}

	path := pendingPath(c.cfg.Dir)
	p, ok, err := conflict.LoadPending(path)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("no pending conflict")
	}
	store, err := c.openStore()
	if err != nil {
		return err
	}
	if store.Get().DocumentID != p.DocumentID {
		_ = conflict.ClearPending(path)
		return errors.New("pending conflict belongs to another document; open it again")
	}

	switch choice {
	case conflict.ChoiceServer:
		if err := conflict.Resolve(store, nil, p.Record(), choice); err != nil {
			return err
		}
	default:
		auth, closeFn, err := c.authority()
		if err != nil {
			return err
		}
		defer closeFn()
		err = c.saveOnce(ctx, store, auth, func(eng *autosave.Engine) error {
			return conflict.Resolve(store, eng, p.Record(), choice)
		})
		if err != nil {
			return err
		}
	}
	if err := conflict.ClearPending(path); err != nil {
		return err
	}
	fmt.Println("kept", choice, "copy")
	return nil
}

func (c *cli) session(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("session", flag.ExitOnError)
	idStr := fs.String("id", "", "beta id")
	_ = fs.Parse(args)
	id := needID(*idStr)

	auth, closeFn, err := c.authority()
	if err != nil {
		return err
	}
	defer closeFn()
	store, err := c.openStore()
	if err != nil {
		return err
	}
	s := newSession(id, auth, store, pendingPath(c.cfg.Dir), os.Stdout, c.log,
		autosave.WithInterval(c.cfg.AutosaveInterval))
	return s.run(ctx, os.Stdin)
}

// ---- helpers ----

func fail(err error) {
	if s, ok := status.FromError(err); ok && s.Code() != codes.OK {
		fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
