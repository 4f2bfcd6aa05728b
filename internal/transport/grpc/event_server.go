package grpc

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"creditgate/internal/model"
	"creditgate/internal/repository"
	"creditgate/internal/service"
)

var ErrMissingServiceToken = errors.New("grpc: event service requires a service token")

// EventServer receives bus events on an internal listener when gRPC acts as the
// worker transport. It is never registered on the client-facing server, and every
// call must present the shared service token.
type EventServer struct {
	svc  service.PurchaseService
	srv  *grpc.Server
	addr string
	log  *zap.Logger
}

func NewEventServer(addr, serviceToken string, svc service.PurchaseService, log *zap.Logger) (*EventServer, error) {
	if serviceToken == "" {
		return nil, ErrMissingServiceToken
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &EventServer{
		svc:  svc,
		addr: addr,
		srv:  grpc.NewServer(grpc.ChainUnaryInterceptor(serviceTokenInterceptor(serviceToken))),
		log:  log,
	}
	s.srv.RegisterService(&eventServiceDesc, s)
	return s, nil
}

func (s *EventServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

func (s *EventServer) Serve(lis net.Listener) error {
	return serve(s.srv, lis, s.log)
}

func (s *EventServer) Stop(ctx context.Context) error {
	s.srv.GracefulStop()
	return nil
}

// Publish applies purchases.granted events. Account deletion arrives from the
// identity system over NATS only.
func (s *EventServer) Publish(ctx context.Context, req *EventRequest) (*EventResponse, error) {
	if req.Topic != repository.TopicPurchaseGranted {
		return &EventResponse{Success: false, ErrorMessage: "unsupported topic " + req.Topic}, nil
	}

	var event model.GrantedEvent
	err := json.Unmarshal(req.Payload, &event)
	if err == nil {
		err = s.svc.ApplyGrantedEvent(ctx, event)
	}
	if err != nil {
		s.log.Error("grpc: event handling failed", zap.String("topic", req.Topic), zap.Error(err))
		return &EventResponse{Success: false, ErrorMessage: err.Error()}, nil
	}
	return &EventResponse{Success: true}, nil
}

func serviceTokenInterceptor(token string) grpc.UnaryServerInterceptor {
	expected := []byte(token)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		presented := []byte(credentialFromContext(ctx))
		if len(presented) == 0 || subtle.ConstantTimeCompare(presented, expected) != 1 {
			return nil, status.Error(codes.Unauthenticated, "service token required")
		}
		return handler(ctx, req)
	}
}
