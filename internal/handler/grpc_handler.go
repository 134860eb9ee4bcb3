package handler

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-shift-reviews/internal/errors"
	"github.com/pesio-ai/be-shift-reviews/internal/logger"
	"github.com/pesio-ai/be-shift-reviews/internal/middleware"
)

// ReviewServiceName is the fully qualified gRPC service name.
const ReviewServiceName = "shiftreports.review.v1.ReviewService"

// ReviewServiceServer is the gRPC surface. Requests and responses are
// google.protobuf.Struct values shaped like the HTTP callable payloads.
type ReviewServiceServer interface {
	ReviewerApproveReport(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ReviewerRejectReport(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListForAssign(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListPendingReviews(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// GRPCHandler implements ReviewServiceServer.
type GRPCHandler struct {
	svc Services
	log *logger.Logger
}

// NewGRPCHandler creates a new gRPC handler.
func NewGRPCHandler(svc Services, log *logger.Logger) *GRPCHandler {
	return &GRPCHandler{svc: svc, log: log}
}

// Register adds the review service to s.
func (h *GRPCHandler) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&reviewServiceDesc, h)
}

func (h *GRPCHandler) ReviewerApproveReport(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	res, err := h.svc.Approvals.ApproveByToken(ctx, field(req, "reportId"), field(req, "token"))
	if err != nil {
		return nil, h.status(err, "ReviewerApproveReport")
	}
	return toStruct(res)
}

func (h *GRPCHandler) ReviewerRejectReport(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	res, err := h.svc.Approvals.RejectByToken(ctx, field(req, "reportId"), field(req, "token"), field(req, "comment"))
	if err != nil {
		return nil, h.status(err, "ReviewerRejectReport")
	}
	return toStruct(res)
}

func (h *GRPCHandler) ListForAssign(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var roles []string
	for _, v := range req.GetFields()["roles"].GetListValue().GetValues() {
		if s := v.GetStringValue(); s != "" {
			roles = append(roles, s)
		}
	}
	items, err := h.svc.Users.ListForAssign(ctx, middleware.ActorFromContext(ctx), roles)
	if err != nil {
		return nil, h.status(err, "ListForAssign")
	}
	return toStruct(map[string]any{"items": items})
}

func (h *GRPCHandler) ListPendingReviews(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	limit := int(req.GetFields()["limit"].GetNumberValue())
	entries, err := h.svc.Queue.ListPendingForReviewer(ctx, middleware.ActorFromContext(ctx), limit)
	if err != nil {
		return nil, h.status(err, "ListPendingReviews")
	}
	return toStruct(map[string]any{"items": entries})
}

// status converts err to a gRPC status. Coded errors carry their own status;
// anything else is logged and reported as internal.
func (h *GRPCHandler) status(err error, method string) error {
	if errors.CodeOf(err) == errors.ErrCodeInternal {
		h.log.Error().Err(err).Str("method", method).Msg("gRPC call failed")
		return errors.Internal(err, "internal error").GRPCStatus().Err()
	}
	var e *errors.Error
	if errors.As(err, &e) {
		return e.GRPCStatus().Err()
	}
	return err
}

func field(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

// toStruct converts a JSON-tagged value to a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Internal(err, "failed to encode response").GRPCStatus().Err()
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Internal(err, "failed to encode response").GRPCStatus().Err()
	}
	return structpb.NewStruct(m)
}

// ── Service descriptor ───────────────────────────────────────────────────────

func unaryHandler(method string, call func(ReviewServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ReviewServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ReviewServiceName + "/" + method,
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(ReviewServiceServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

var reviewServiceDesc = grpc.ServiceDesc{
	ServiceName: ReviewServiceName,
	HandlerType: (*ReviewServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("ReviewerApproveReport", ReviewServiceServer.ReviewerApproveReport),
		unaryHandler("ReviewerRejectReport", ReviewServiceServer.ReviewerRejectReport),
		unaryHandler("ListForAssign", ReviewServiceServer.ListForAssign),
		unaryHandler("ListPendingReviews", ReviewServiceServer.ListPendingReviews),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "shiftreports/review/v1/review.proto",
}
