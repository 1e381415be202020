// Package grpcserver exposes the BetaSketch gRPC API handlers.
package grpcserver

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/beta-sketch/internal/drawing"
	"github.com/and161185/beta-sketch/internal/errs"
	"github.com/and161185/beta-sketch/internal/model"
	"github.com/and161185/beta-sketch/internal/rpc"
	"github.com/and161185/beta-sketch/internal/service"
)

// Server wires services into gRPC handlers.
type Server struct {
	rpc.UnimplementedBetaSketchServer
	auth    service.AuthService
	betas   service.BetaService
	signKey []byte
	log     *zap.Logger
}

var _ rpc.BetaSketchServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(auth service.AuthService, betas service.BetaService, signKey []byte, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{auth: auth, betas: betas, signKey: signKey, log: log}
}

// toStatus maps domain errors onto gRPC codes. Unknown errors are logged and hidden.
func (s *Server) toStatus(op string, err error) error {
	var ve *drawing.ValidationError
	switch {
	case errors.As(err, &ve):
		return status.Errorf(codes.InvalidArgument, "%s: %s: %s", op, ve.Field, ve.Reason)
	case errors.Is(err, errs.ErrValidation):
		return status.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, errs.ErrPermission):
		return status.Error(codes.PermissionDenied, "permission denied")
	case errors.Is(err, errs.ErrVersionConflict):
		var ce *model.ConflictError
		if errors.As(err, &ce) {
			return status.Errorf(codes.FailedPrecondition, "version conflict: current %s",
				ce.Current.UpdatedAt.UTC().Format(time.RFC3339Nano))
		}
		return status.Error(codes.FailedPrecondition, "version conflict")
	case errors.Is(err, errs.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, "already exists")
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "bad credentials")
	case errors.Is(err, errs.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "rate limited")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		s.log.Error("internal error", zap.String("op", op), zap.Error(err))
		return status.Errorf(codes.Internal, "%s failed", op)
	}
}

// --- Auth ---

// Register creates a new user account.
func (s *Server) Register(ctx context.Context, req *rpc.RegisterRequest) (*rpc.RegisterResponse, error) {
	if req.Username == "" || req.Password == "" {
		return nil, status.Error(codes.InvalidArgument, "empty username/password")
	}
	userID, err := s.auth.Register(ctx, req.Username, req.Password)
	if err != nil {
		return nil, s.toStatus("register", err)
	}
	return &rpc.RegisterResponse{UserID: userID}, nil
}

func remoteIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// Login authenticates a user and returns an access token.
func (s *Server) Login(ctx context.Context, req *rpc.LoginRequest) (*rpc.LoginResponse, error) {
	tok, u, err := s.auth.LoginWithIP(ctx, req.Username, req.Password, remoteIP(ctx))
	if err != nil {
		return nil, s.toStatus("login", err)
	}
	return &rpc.LoginResponse{AccessToken: tok.AccessToken, ExpiresAt: tok.ExpiresAt, UserID: u.ID.String()}, nil
}

// --- Betas ---

func toRPCBeta(id uuid.UUID, grade string, updatedAt time.Time) rpc.Beta {
	return rpc.Beta{ID: id.String(), Grade: grade, UpdatedAt: updatedAt.UTC()}
}

// CreateBeta creates a beta holding an empty drawing.
func (s *Server) CreateBeta(ctx context.Context, req *rpc.CreateBetaRequest) (*rpc.CreateBetaResponse, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	b, err := s.betas.Create(ctx, userID, req.Grade)
	if err != nil {
		return nil, s.toStatus("create beta", err)
	}
	return &rpc.CreateBetaResponse{Beta: toRPCBeta(b.ID, b.Grade, b.UpdatedAt)}, nil
}

// ListBetas lists the caller's betas, most recently updated first.
func (s *Server) ListBetas(ctx context.Context, _ *rpc.ListBetasRequest) (*rpc.ListBetasResponse, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	list, err := s.betas.List(ctx, userID)
	if err != nil {
		return nil, s.toStatus("list betas", err)
	}
	out := &rpc.ListBetasResponse{Betas: make([]rpc.Beta, 0, len(list))}
	for _, b := range list {
		out.Betas = append(out.Betas, toRPCBeta(b.ID, b.Grade, b.UpdatedAt))
	}
	return out, nil
}

// GetBeta returns a beta with its drawing document.
func (s *Server) GetBeta(ctx context.Context, req *rpc.GetBetaRequest) (*rpc.GetBetaResponse, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	id, err := uuid.FromString(req.ID)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "bad id")
	}
	b, rec, err := s.betas.Get(ctx, userID, id)
	if err != nil {
		return nil, s.toStatus("get beta", err)
	}
	raw, err := drawing.Marshal(rec.Document)
	if err != nil {
		return nil, s.toStatus("get beta", err)
	}
	return &rpc.GetBetaResponse{Beta: toRPCBeta(b.ID, b.Grade, rec.UpdatedAt), Drawing: raw}, nil
}

// SaveDrawing performs the conditional write of a drawing.
func (s *Server) SaveDrawing(ctx context.Context, req *rpc.SaveDrawingRequest) (*rpc.SaveDrawingResponse, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	id, err := uuid.FromString(req.ID)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "bad id")
	}
	updatedAt, err := s.betas.SaveDrawing(ctx, userID, id, req.Drawing, req.ExpectedUpdatedAt)
	if err != nil {
		return nil, s.toStatus("save drawing", err)
	}
	return &rpc.SaveDrawingResponse{UpdatedAt: updatedAt.UTC()}, nil
}

// userIDFromCtx returns the caller set by AuthUnary, or verifies the bearer token itself.
func (s *Server) userIDFromCtx(ctx context.Context) (uuid.UUID, error) {
	if id, ok := CallerFromCtx(ctx); ok {
		return id, nil
	}
	tok, err := bearerTokenFromMD(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	return verifyAccessToken(tok, s.signKey)
}

// verifyAccessToken checks an HS256 JWT and returns its subject as UUID.
func verifyAccessToken(tok string, signKey []byte) (uuid.UUID, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return signKey, nil
	}, jwt.WithLeeway(30*time.Second))
	if err != nil || !parsed.Valid {
		return uuid.Nil, errors.New("invalid token")
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return uuid.Nil, errors.New("bad subject")
	}
	return id, nil
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}
