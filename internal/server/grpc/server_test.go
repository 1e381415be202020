package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/and161185/beta-sketch/internal/drawing"
	"github.com/and161185/beta-sketch/internal/errs"
	"github.com/and161185/beta-sketch/internal/model"
	"github.com/and161185/beta-sketch/internal/rpc"
	"github.com/and161185/beta-sketch/internal/service"
)

// fakeAuth issues real JWTs for a fixed user so the bearer path is exercised.
type fakeAuth struct {
	key []byte
	id  uuid.UUID
	err error
}

func (f *fakeAuth) Register(context.Context, string, string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.id.String(), nil
}

func (f *fakeAuth) LoginWithIP(context.Context, string, string, string) (model.Tokens, model.User, error) {
	if f.err != nil {
		return model.Tokens{}, model.User{}, f.err
	}
	exp := time.Now().Add(time.Hour)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   f.id.String(),
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString(f.key)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return model.Tokens{AccessToken: tok, ExpiresAt: exp}, model.User{ID: f.id}, nil
}

// memBetas is an in-memory repository with the authority's conditional write.
type memBetas struct {
	mu   sync.Mutex
	rows map[uuid.UUID]model.Beta
	now  time.Time
}

func newMemBetas() *memBetas {
	return &memBetas{rows: map[uuid.UUID]model.Beta{}, now: time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)}
}

func (m *memBetas) Create(_ context.Context, b *model.Beta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(time.Second)
	b.CreatedAt, b.UpdatedAt = m.now, m.now
	m.rows[b.ID] = *b
	return nil
}

func (m *memBetas) Get(_ context.Context, id uuid.UUID) (*model.Beta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &b, nil
}

func (m *memBetas) ListByUser(_ context.Context, userID uuid.UUID) ([]model.BetaSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.BetaSummary
	for _, b := range m.rows {
		if b.UserID == userID {
			out = append(out, model.BetaSummary{ID: b.ID, Grade: b.Grade, UpdatedAt: b.UpdatedAt})
		}
	}
	return out, nil
}

func (m *memBetas) UpdateDrawing(_ context.Context, userID, id uuid.UUID, raw []byte, expected time.Time) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	switch {
	case !ok:
		return time.Time{}, errs.ErrNotFound
	case b.UserID != userID:
		return time.Time{}, errs.ErrPermission
	case !b.UpdatedAt.Equal(expected):
		return time.Time{}, errs.ErrVersionConflict
	}
	m.now = m.now.Add(time.Second)
	b.Drawing, b.UpdatedAt = raw, m.now
	m.rows[id] = b
	return m.now, nil
}

const bufSize = 1 << 20

var signKey = []byte("test-secret")

func startBufGRPC(t *testing.T, srv *Server) *rpc.Client {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(
		RecoverUnary(zaptest.NewLogger(t)),
		AuthUnary(signKey, rpc.FullMethod("Register"), rpc.FullMethod("Login")),
	))
	rpc.RegisterBetaSketchServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()
	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close(); gs.Stop(); _ = lis.Close() })
	return rpc.NewClient(cc)
}

func outgoing(token string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)
}

func login(t *testing.T, cl *rpc.Client) context.Context {
	t.Helper()
	resp, err := cl.Login(context.Background(), &rpc.LoginRequest{Username: "u", Password: "p"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)
	return outgoing(resp.AccessToken)
}

func code(err error) codes.Code { return status.Code(err) }

func lineJSON(id string) string {
	return fmt.Sprintf(`{"id":%q,"tool":"brush","points":[{"x":1.5,"y":99}],"color":"#fff","width":3}`, id)
}

func docJSON(lines ...string) json.RawMessage {
	body := "["
	for i, l := range lines {
		if i > 0 {
			body += ","
		}
		body += l
	}
	return json.RawMessage(`{"schemaVersion":1,"lines":` + body + `],"shapes":[]}`)
}

func newTestServer(t *testing.T, userID uuid.UUID) (*Server, *memBetas) {
	repo := newMemBetas()
	auth := &fakeAuth{key: signKey, id: userID}
	return New(auth, service.NewBetaService(repo, zaptest.NewLogger(t)), signKey, zaptest.NewLogger(t)), repo
}

func TestServer_E2E_DrawingLifecycle(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, uuid.Must(uuid.NewV4()))
	cl := startBufGRPC(t, srv)

	r, err := cl.Register(context.Background(), &rpc.RegisterRequest{Username: "u", Password: "p"})
	require.NoError(t, err)
	require.NotEmpty(t, r.UserID)

	ctx := login(t, cl)

	created, err := cl.CreateBeta(ctx, &rpc.CreateBetaRequest{Grade: "V5"})
	require.NoError(t, err)
	require.Equal(t, "V5", created.Beta.Grade)

	list, err := cl.ListBetas(ctx, &rpc.ListBetasRequest{})
	require.NoError(t, err)
	require.Len(t, list.Betas, 1)
	require.Equal(t, created.Beta.ID, list.Betas[0].ID)

	got, err := cl.GetBeta(ctx, &rpc.GetBetaRequest{ID: created.Beta.ID})
	require.NoError(t, err)
	doc, err := drawing.Parse(got.Drawing)
	require.NoError(t, err)
	require.Equal(t, drawing.NewEmpty(), doc)
	base := got.Beta.UpdatedAt

	saved, err := cl.SaveDrawing(ctx, &rpc.SaveDrawingRequest{
		ID: created.Beta.ID, Drawing: docJSON(lineJSON("a")), ExpectedUpdatedAt: base,
	})
	require.NoError(t, err)
	require.True(t, saved.UpdatedAt.After(base))

	got, err = cl.GetBeta(ctx, &rpc.GetBetaRequest{ID: created.Beta.ID})
	require.NoError(t, err)
	require.True(t, got.Beta.UpdatedAt.Equal(saved.UpdatedAt))
	doc, err = drawing.Parse(got.Drawing)
	require.NoError(t, err)
	require.Len(t, doc.Lines, 1)
	require.Equal(t, 1.5, doc.Lines[0].Points[0].X)

	// second writer on the stale baseline
	_, err = cl.SaveDrawing(ctx, &rpc.SaveDrawingRequest{
		ID: created.Beta.ID, Drawing: docJSON(), ExpectedUpdatedAt: base,
	})
	require.Equal(t, codes.FailedPrecondition, code(err))
}

func TestServer_E2E_ErrorCodes(t *testing.T) {
	t.Parallel()
	owner := uuid.Must(uuid.NewV4())
	srv, repo := newTestServer(t, owner)
	cl := startBufGRPC(t, srv)
	ctx := login(t, cl)

	_, err := cl.ListBetas(context.Background(), &rpc.ListBetasRequest{})
	require.Equal(t, codes.Unauthenticated, code(err))
	_, err = cl.ListBetas(outgoing("garbage"), &rpc.ListBetasRequest{})
	require.Equal(t, codes.Unauthenticated, code(err))

	_, err = cl.GetBeta(ctx, &rpc.GetBetaRequest{ID: "nope"})
	require.Equal(t, codes.InvalidArgument, code(err))
	_, err = cl.GetBeta(ctx, &rpc.GetBetaRequest{ID: uuid.Must(uuid.NewV4()).String()})
	require.Equal(t, codes.NotFound, code(err))

	foreign := &model.Beta{ID: uuid.Must(uuid.NewV4()), UserID: uuid.Must(uuid.NewV4()), Drawing: docJSON()}
	require.NoError(t, repo.Create(context.Background(), foreign))
	_, err = cl.GetBeta(ctx, &rpc.GetBetaRequest{ID: foreign.ID.String()})
	require.Equal(t, codes.PermissionDenied, code(err))
	_, err = cl.SaveDrawing(ctx, &rpc.SaveDrawingRequest{ID: foreign.ID.String(), Drawing: docJSON(), ExpectedUpdatedAt: foreign.UpdatedAt})
	require.Equal(t, codes.PermissionDenied, code(err))

	created, err := cl.CreateBeta(ctx, &rpc.CreateBetaRequest{Grade: "6A"})
	require.NoError(t, err)
	_, err = cl.SaveDrawing(ctx, &rpc.SaveDrawingRequest{
		ID:                created.Beta.ID,
		Drawing:           json.RawMessage(`{"schemaVersion":1,"lines":[{"id":"x","tool":"brush","points":[{"x":101,"y":0}],"color":"#fff","width":1}],"shapes":[]}`),
		ExpectedUpdatedAt: created.Beta.UpdatedAt,
	})
	require.Equal(t, codes.InvalidArgument, code(err))
	require.Contains(t, status.Convert(err).Message(), "lines[0].points[0].x")
}

func TestServer_AuthErrors(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, uuid.Must(uuid.NewV4()))
	cl := startBufGRPC(t, srv)
	auth := srv.auth.(*fakeAuth)

	auth.err = errs.ErrRateLimited
	_, err := cl.Login(context.Background(), &rpc.LoginRequest{Username: "u", Password: "p"})
	require.Equal(t, codes.ResourceExhausted, code(err))

	auth.err = errs.ErrUnauthorized
	_, err = cl.Login(context.Background(), &rpc.LoginRequest{Username: "u", Password: "x"})
	require.Equal(t, codes.Unauthenticated, code(err))

	auth.err = errs.ErrAlreadyExists
	_, err = cl.Register(context.Background(), &rpc.RegisterRequest{Username: "u", Password: "p"})
	require.Equal(t, codes.AlreadyExists, code(err))

	_, err = cl.Register(context.Background(), &rpc.RegisterRequest{})
	require.Equal(t, codes.InvalidArgument, code(err))
}

func TestServer_toStatus(t *testing.T) {
	t.Parallel()
	s := New(nil, nil, nil, zaptest.NewLogger(t))

	cases := []struct {
		err  error
		want codes.Code
	}{
		{&drawing.ValidationError{Field: "schemaVersion", Reason: "missing"}, codes.InvalidArgument},
		{fmt.Errorf("wrap: %w", errs.ErrValidation), codes.InvalidArgument},
		{errs.ErrNotFound, codes.NotFound},
		{errs.ErrPermission, codes.PermissionDenied},
		{&model.ConflictError{Current: model.Record{UpdatedAt: time.Now()}}, codes.FailedPrecondition},
		{errs.ErrVersionConflict, codes.FailedPrecondition},
		{errs.ErrRateLimited, codes.ResourceExhausted},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("db down"), codes.Internal},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, status.Code(s.toStatus("op", tc.err)), "%v", tc.err)
	}
	require.NotContains(t, status.Convert(s.toStatus("op", errors.New("secret dsn"))).Message(), "secret")
}

func Test_Handlers_Unauthenticated(t *testing.T) {
	t.Parallel()
	s := &Server{signKey: []byte("k")}
	ctx := context.Background()

	_, err := s.CreateBeta(ctx, &rpc.CreateBetaRequest{})
	require.Equal(t, codes.Unauthenticated, code(err))
	_, err = s.ListBetas(ctx, &rpc.ListBetasRequest{})
	require.Equal(t, codes.Unauthenticated, code(err))
	_, err = s.GetBeta(ctx, &rpc.GetBetaRequest{})
	require.Equal(t, codes.Unauthenticated, code(err))
	_, err = s.SaveDrawing(ctx, &rpc.SaveDrawingRequest{})
	require.Equal(t, codes.Unauthenticated, code(err))
}

func Test_SaveDrawing_BadID_WithAuth(t *testing.T) {
	t.Parallel()
	s := &Server{signKey: []byte("k")}
	ctx := WithCaller(context.Background(), uuid.Must(uuid.NewV4()))
	_, err := s.SaveDrawing(ctx, &rpc.SaveDrawingRequest{ID: "bad"})
	require.Equal(t, codes.InvalidArgument, code(err))
}

func Test_bearerTokenFromMD_MultipleHeaders_CaseInsensitive_Spaces(t *testing.T) {
	t.Parallel()
	md := metadata.New(nil)
	md.Append("authorization", "Basic foo")
	md.Append("authorization", "  bearer   tok.part.sig   ")
	ctx := metadata.NewIncomingContext(context.Background(), md)
	got, err := bearerTokenFromMD(ctx)
	if err != nil || got != "tok.part.sig" {
		t.Fatalf("got=%q err=%v", got, err)
	}
}

func Test_userIDFromCtx_NotBeforeInFuture(t *testing.T) {
	t.Parallel()
	key := []byte("k")
	s := &Server{signKey: key}
	nbf := time.Now().UTC().Add(10 * time.Minute)
	claims := jwt.RegisteredClaims{
		Subject:   uuid.Must(uuid.NewV4()).String(),
		IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
		NotBefore: jwt.NewNumericDate(nbf),
		ExpiresAt: jwt.NewNumericDate(nbf.Add(time.Hour)),
	}
	tok, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if _, err := s.userIDFromCtx(ctxWithAuth(tok)); err == nil {
		t.Fatalf("expected error for nbf in future")
	}
}

func Test_userIDFromCtx_PrefersContextValue(t *testing.T) {
	t.Parallel()
	s := &Server{signKey: []byte("k")}
	want := uuid.Must(uuid.NewV4())
	got, err := s.userIDFromCtx(WithCaller(ctxWithAuth("garbage"), want))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

type loopbackAddr struct{}

func (loopbackAddr) Network() string { return "tcp" }
func (loopbackAddr) String() string  { return "127.0.0.1:5555" }

func Test_remoteIP(t *testing.T) {
	t.Parallel()
	require.Equal(t, "", remoteIP(context.Background()))
	pctx := peer.NewContext(context.Background(), &peer.Peer{Addr: loopbackAddr{}})
	require.Equal(t, "127.0.0.1", remoteIP(pctx))
}
