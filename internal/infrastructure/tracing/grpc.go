package tracing

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor traces unary calls with the same lifecycle as HTTP
// requests. The handler's error is returned unchanged.
func (m *Middleware) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		rc, ctx := m.beginGRPC(ctx, info.FullMethod)
		defer func() {
			recovered := recover()
			m.finish(rc, grpcOutcome(ctx, err, recovered))
			if recovered != nil {
				panic(recovered)
			}
		}()
		return handler(ctx, req)
	}
}

// StreamServerInterceptor traces streaming calls.
func (m *Middleware) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) (err error) {
		rc, ctx := m.beginGRPC(ss.Context(), info.FullMethod)
		defer func() {
			recovered := recover()
			m.finish(rc, grpcOutcome(ctx, err, recovered))
			if recovered != nil {
				panic(recovered)
			}
		}()
		return handler(srv, &tracedServerStream{ServerStream: ss, ctx: ctx})
	}
}

// UnaryClientInterceptor propagates the active span to the called service.
func (m *Middleware) UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		md, ok := metadata.FromOutgoingContext(ctx)
		if ok {
			md = md.Copy()
		} else {
			md = metadata.MD{}
		}
		m.safely("inject", func() { m.propagator.InjectMetadata(ctx, md) })
		return invoker(metadata.NewOutgoingContext(ctx, md), method, req, reply, cc, opts...)
	}
}

func (m *Middleware) beginGRPC(ctx context.Context, fullMethod string) (*RequestContext, context.Context) {
	rc := newRequestContext()
	md, _ := metadata.FromIncomingContext(ctx)
	m.safely("extract", func() {
		rc.parent = m.propagator.ExtractMetadata(md)
	})

	meta := &RequestMetadata{
		Protocol:  "grpc",
		Method:    http.MethodPost,
		Route:     fullMethod,
		Path:      fullMethod,
		Flavor:    "2.0",
		Scheme:    "grpc",
		Host:      firstValue(md, ":authority"),
		Target:    fullMethod,
		UserAgent: firstValue(md, "user-agent"),
		Header:    metadataHeader(md),
		RequestID: rc.id,
		Parent:    rc.parent,
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		meta.ClientIP = hostOnly(p.Addr.String())
	}

	ctx = m.start(ctx, rc, meta)
	if m.requestIDHeader != "" {
		_ = grpc.SetHeader(ctx, metadata.Pairs(m.requestIDHeader, rc.id.String()))
	}
	return rc, ctx
}

func grpcOutcome(ctx context.Context, err error, recovered interface{}) *Outcome {
	o := &Outcome{Status: http.StatusOK, Written: true, Err: err}
	switch {
	case recovered != nil:
		o.Aborted = true
		o.Panic = recovered
		o.Cause = fmt.Errorf("panic: %v", recovered)
		o.Status, o.Written = 0, false
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		o.Aborted = true
		o.Cause = err
		o.Status, o.Written = 0, false
	case err != nil:
		o.Status = HTTPStatusFromCode(status.Code(err))
	case ctx.Err() != nil:
		o.Aborted = true
		o.Cause = ctx.Err()
		o.Status, o.Written = 0, false
	}
	return o
}

// HTTPStatusFromCode maps a gRPC status code to the HTTP status reported on
// the root span.
func HTTPStatusFromCode(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.Canceled:
		return StatusClientClosedRequest
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func firstValue(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func metadataHeader(md metadata.MD) http.Header {
	h := make(http.Header, len(md))
	for k, vals := range md {
		for _, v := range vals {
			h.Add(k, v)
		}
	}
	return h
}

// tracedServerStream carries the traced context into stream handlers.
type tracedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tracedServerStream) Context() context.Context {
	return s.ctx
}
