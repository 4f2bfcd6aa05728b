package grpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"creditgate/internal/identity"
	"creditgate/internal/model"
	"creditgate/internal/service"
)

type Server struct {
	svc  service.PurchaseService
	srv  *grpc.Server
	addr string
	log  *zap.Logger
}

func NewServer(addr string, svc service.PurchaseService, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{svc: svc, addr: addr, srv: grpc.NewServer(), log: log}
	s.srv.RegisterService(&purchaseServiceDesc, s)
	return s
}

func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	return serve(s.srv, lis, s.log)
}

func (s *Server) Stop(ctx context.Context) error {
	s.srv.GracefulStop()
	return nil
}

func (s *Server) VerifyPurchase(ctx context.Context, req *VerifyPurchaseRequest) (*model.VerifyResponse, error) {
	var payload map[string]any
	dec := json.NewDecoder(bytes.NewReader(req.Payload))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return &model.VerifyResponse{Status: model.StatusInvalid, Message: "payload must be a JSON object"}, nil
	}

	res, err := s.svc.Verify(ctx, credentialFromContext(ctx), payload)
	if err != nil {
		return nil, toStatus(err)
	}
	return &res, nil
}

func (s *Server) GetBalance(ctx context.Context, _ *GetBalanceRequest) (*model.BalanceResponse, error) {
	res, err := s.svc.Balance(ctx, credentialFromContext(ctx))
	if err != nil {
		return nil, toStatus(err)
	}
	return &res, nil
}

func credentialFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return ""
	}
	return identity.BearerToken(values[0])
}

func serve(srv *grpc.Server, lis net.Listener, log *zap.Logger) error {
	log.Info("grpc server listening", zap.String("addr", lis.Addr().String()))
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func toStatus(err error) error {
	rich := service.AsServiceError(err)
	switch service.HTTPStatus(err) {
	case http.StatusUnauthorized:
		return status.Error(codes.Unauthenticated, rich.Message)
	case http.StatusBadRequest:
		return status.Error(codes.InvalidArgument, rich.Message)
	case http.StatusServiceUnavailable:
		return status.Error(codes.Unavailable, rich.Message)
	default:
		return status.Error(codes.Internal, rich.Message)
	}
}
