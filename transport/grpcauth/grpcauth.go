// Package grpcauth guards gRPC services with cauth access tokens.
//
// Tokens travel in the "authorization" metadata key, either bare or with a
// "Bearer " prefix. Generated services have fixed method sets, so only the
// guard half of the routing contract applies here.
package grpcauth

import (
	"context"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/MrEthical07/cauth"
	"github.com/MrEthical07/cauth/middleware"
)

// MetadataKey carries the access token.
const MetadataKey = "authorization"

// Guard authorizes calls by full method name.
type Guard struct {
	engine     *cauth.Engine
	methods    map[string][]string
	protectAll bool
}

type Option func(*Guard)

// WithProtectAll requires a valid token, with any configured role, on
// methods missing from the map.
func WithProtectAll() Option {
	return func(g *Guard) { g.protectAll = true }
}

// New guards the methods in the map with their role lists. An empty role
// list admits every configured role. Unlisted methods are public unless
// WithProtectAll is given.
func New(engine *cauth.Engine, methods map[string][]string, opts ...Option) *Guard {
	g := &Guard{engine: engine, methods: make(map[string][]string, len(methods))}
	for m, roles := range methods {
		g.methods[m] = append([]string(nil), roles...)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// IdentityFromContext returns the identity attached by a passing guard.
func IdentityFromContext(ctx context.Context) (cauth.Identity, bool) {
	return middleware.IdentityFromContext(ctx)
}

func (g *Guard) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := g.authorize(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func (g *Guard) Stream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := g.authorize(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &guardedStream{ServerStream: ss, ctx: ctx})
	}
}

func (g *Guard) authorize(ctx context.Context, method string) (context.Context, error) {
	roles, listed := g.methods[method]
	if !listed && !g.protectAll {
		return ctx, nil
	}
	if g.engine == nil {
		return nil, status.Error(codes.Internal, cauth.MessageServerError)
	}

	id, st := g.engine.Guard(cauth.WithClientIP(ctx, peerIP(ctx)), tokenFrom(ctx), roles...)
	switch st {
	case cauth.GuardAllowed:
		return middleware.ContextWithIdentity(ctx, id), nil
	case cauth.GuardForbidden:
		return nil, status.Error(codes.PermissionDenied, cauth.MessageForbiddenResource)
	default:
		return nil, status.Error(codes.Unauthenticated, cauth.MessageInvalidToken)
	}
}

type guardedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *guardedStream) Context() context.Context { return s.ctx }

func tokenFrom(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(MetadataKey)
	if len(values) == 0 {
		return ""
	}
	v := strings.TrimSpace(values[0])
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		v = strings.TrimSpace(v[7:])
	}
	return v
}

func peerIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String()
	}
	return host
}
