package handler

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-discipline-placements/internal/domain"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/errors"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/logger"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "discipline.placements.v1.PlacementService"

const (
	actorIDKey   = "x-actor-id"
	actorRoleKey = "x-actor-role"
)

// PlacementServiceServer is the handler type registered for ServiceName.
type PlacementServiceServer interface {
	placementService()
}

// GRPCHandler implements PlacementService. Every method takes and returns a
// google.protobuf.Struct carrying the same JSON fields as the HTTP API.
type GRPCHandler struct {
	ops map[string]operation
	log *logger.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(svc Services, log *logger.Logger) *GRPCHandler {
	return &GRPCHandler{
		ops: svc.operations(),
		log: log.Component("grpc_handler"),
	}
}

func (h *GRPCHandler) placementService() {}

// ServiceDesc describes PlacementService with one unary method per
// operation.
func (h *GRPCHandler) ServiceDesc() *grpc.ServiceDesc {
	names := make([]string, 0, len(h.ops))
	for name := range h.ops {
		names = append(names, name)
	}
	sort.Strings(names)

	desc := &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*PlacementServiceServer)(nil),
		Metadata:    "discipline/placements/v1/placements.proto",
	}
	for _, name := range names {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: name,
			Handler:    h.method(name),
		})
	}
	return desc
}

// Register adds the service to s.
func (h *GRPCHandler) Register(s *grpc.Server) {
	s.RegisterService(h.ServiceDesc(), h)
}

func (h *GRPCHandler) method(name string) grpc.MethodHandler {
	full := "/" + ServiceName + "/" + name
	return func(_ any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		call := func(ctx context.Context, req any) (any, error) {
			return h.invoke(ctx, name, req.(*structpb.Struct))
		}
		if interceptor == nil {
			return call(ctx, in)
		}
		return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: h, FullMethod: full}, call)
	}
}

func (h *GRPCHandler) invoke(ctx context.Context, name string, in *structpb.Struct) (*structpb.Struct, error) {
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "malformed request")
	}
	out, err := h.ops[name](ctx, actorFromMetadata(ctx), raw)
	if err != nil {
		return nil, h.mapError(name, err)
	}
	return toStruct(out)
}

func actorFromMetadata(ctx context.Context) domain.Actor {
	md, _ := metadata.FromIncomingContext(ctx)
	first := func(key string) string {
		if v := md.Get(key); len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	return domain.Actor{ID: first(actorIDKey), Role: first(actorRoleKey)}
}

// toStruct converts a response through its JSON form so the wire shape
// matches the HTTP API.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	return out, nil
}

// mapError converts application errors into gRPC statuses. Invalid input
// carries the offending field as a BadRequest detail.
func (h *GRPCHandler) mapError(method string, err error) error {
	code := errors.CodeOf(err)
	if code == errors.ErrCodeInternal {
		h.log.Error().Err(err).Str("method", method).Msg("gRPC call failed")
		return status.Error(codes.Internal, "internal error")
	}

	msg := err.Error()
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	st := status.New(errors.GRPCCode(code), msg)
	info := &errdetails.ErrorInfo{Reason: string(code), Domain: ServiceName}
	if appErr != nil && appErr.Field != "" {
		info.Metadata = map[string]string{"field": appErr.Field}
		if detailed, derr := st.WithDetails(info, &errdetails.BadRequest{
			FieldViolations: []*errdetails.BadRequest_FieldViolation{{Field: appErr.Field, Description: msg}},
		}); derr == nil {
			return detailed.Err()
		}
	}
	if detailed, derr := st.WithDetails(info); derr == nil {
		return detailed.Err()
	}
	return st.Err()
}
