package grpc

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"

	"creditgate/internal/model"
)

const (
	purchaseServiceName = "creditgate.v1.PurchaseService"
	eventServiceName    = "creditgate.v1.EventService"

	methodVerifyPurchase = "/" + purchaseServiceName + "/VerifyPurchase"
	methodGetBalance     = "/" + purchaseServiceName + "/GetBalance"
	methodPublish        = "/" + eventServiceName + "/Publish"
)

// VerifyPurchaseRequest carries the receipt exactly as the client sent it.
type VerifyPurchaseRequest struct {
	Payload json.RawMessage `json:"payload"`
}

type GetBalanceRequest struct{}

type EventRequest struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
}

type EventResponse struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type PurchaseServiceServer interface {
	VerifyPurchase(context.Context, *VerifyPurchaseRequest) (*model.VerifyResponse, error)
	GetBalance(context.Context, *GetBalanceRequest) (*model.BalanceResponse, error)
}

type EventServiceServer interface {
	Publish(context.Context, *EventRequest) (*EventResponse, error)
}

var purchaseServiceDesc = grpc.ServiceDesc{
	ServiceName: purchaseServiceName,
	HandlerType: (*PurchaseServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "VerifyPurchase", Handler: verifyPurchaseHandler},
		{MethodName: "GetBalance", Handler: getBalanceHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "creditgate/v1/purchase",
}

var eventServiceDesc = grpc.ServiceDesc{
	ServiceName: eventServiceName,
	HandlerType: (*EventServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: publishHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "creditgate/v1/event",
}

func verifyPurchaseHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(VerifyPurchaseRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PurchaseServiceServer).VerifyPurchase(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodVerifyPurchase}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PurchaseServiceServer).VerifyPurchase(ctx, req.(*VerifyPurchaseRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getBalanceHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetBalanceRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PurchaseServiceServer).GetBalance(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetBalance}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PurchaseServiceServer).GetBalance(ctx, req.(*GetBalanceRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func publishHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(EventRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EventServiceServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodPublish}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EventServiceServer).Publish(ctx, req.(*EventRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Client calls PurchaseService on a remote server.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) VerifyPurchase(ctx context.Context, in *VerifyPurchaseRequest, opts ...grpc.CallOption) (*model.VerifyResponse, error) {
	out := new(model.VerifyResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, methodVerifyPurchase, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetBalance(ctx context.Context, in *GetBalanceRequest, opts ...grpc.CallOption) (*model.BalanceResponse, error) {
	out := new(model.BalanceResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, methodGetBalance, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func publish(ctx context.Context, cc grpc.ClientConnInterface, in *EventRequest) (*EventResponse, error) {
	out := new(EventResponse)
	if err := cc.Invoke(ctx, methodPublish, in, out, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return out, nil
}
