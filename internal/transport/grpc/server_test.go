package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"creditgate/internal/model"
	"creditgate/internal/repository"
)

type mockService struct {
	mu         sync.Mutex
	credential string
	payload    map[string]any
	applied    []model.GrantedEvent
	deleted    []string
	err        error
}

func (m *mockService) Verify(_ context.Context, credential string, payload map[string]any) (model.VerifyResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credential, m.payload = credential, payload
	if m.err != nil {
		return model.VerifyResponse{}, m.err
	}
	return model.VerifyResponse{Status: model.StatusGranted, GrantedCredits: 10, CurrentCreditBalance: 10, EventID: "evt-1", PurchaseToken: "tok1"}, nil
}

func (m *mockService) Balance(_ context.Context, credential string) (model.BalanceResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credential = credential
	if m.err != nil {
		return model.BalanceResponse{}, m.err
	}
	return model.BalanceResponse{AccountID: "acct-a", CurrentCreditBalance: 10}, nil
}

func (m *mockService) Ledger(context.Context, string, int) ([]model.LedgerEvent, error) {
	return nil, nil
}

func (m *mockService) ApplyGrantedEvent(_ context.Context, event model.GrantedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied = append(m.applied, event)
	return m.err
}

func (m *mockService) DeleteAccount(_ context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, accountID)
	return m.err
}

func (m *mockService) appliedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.applied)
}

const testServiceToken = "internal-secret"

type servable interface {
	Serve(net.Listener) error
	Stop(context.Context) error
}

func dialServer(t *testing.T, srv servable) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func startServer(t *testing.T, svc *mockService) *grpc.ClientConn {
	t.Helper()
	return dialServer(t, NewServer("bufnet", svc, nil))
}

func startEventServer(t *testing.T, svc *mockService) *grpc.ClientConn {
	t.Helper()
	srv, err := NewEventServer("bufnet", testServiceToken, svc, nil)
	if err != nil {
		t.Fatalf("new event server: %v", err)
	}
	return dialServer(t, srv)
}

func withToken(token string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)
}

func TestServer_VerifyPurchase(t *testing.T) {
	svc := &mockService{}
	client := NewClient(startServer(t, svc))

	ctx := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer jwt-token")
	res, err := client.VerifyPurchase(ctx, &VerifyPurchaseRequest{
		Payload: json.RawMessage(`{"packageName":"com.app.x","productId":"credit_10","purchaseToken":"tok1","quantity":1}`),
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Status != model.StatusGranted || res.EventID != "evt-1" {
		t.Fatalf("unexpected response: %+v", res)
	}
	if svc.credential != "jwt-token" {
		t.Errorf("credential: %q", svc.credential)
	}
	if _, ok := svc.payload["quantity"].(json.Number); !ok {
		t.Errorf("quantity decoded as %T", svc.payload["quantity"])
	}
}

func TestServer_MalformedPayloadIsInvalid(t *testing.T) {
	client := NewClient(startServer(t, &mockService{}))

	res, err := client.VerifyPurchase(context.Background(), &VerifyPurchaseRequest{Payload: json.RawMessage(`[1,2]`)})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Status != model.StatusInvalid {
		t.Fatalf("status: %s", res.Status)
	}
}

func TestServer_ErrorCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"auth", goerrors.New("authentication required", goerrors.CategoryAuth).WithCode(http.StatusUnauthorized), codes.Unauthenticated},
		{"busy", goerrors.New("busy", goerrors.CategoryOperation).WithCode(http.StatusServiceUnavailable), codes.Unavailable},
		{"internal", goerrors.New("boom", goerrors.CategoryInternal).WithCode(http.StatusInternalServerError), codes.Internal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := NewClient(startServer(t, &mockService{err: tc.err}))
			_, err := client.GetBalance(context.Background(), &GetBalanceRequest{})
			if status.Code(err) != tc.want {
				t.Fatalf("code: got %v want %v (%v)", status.Code(err), tc.want, err)
			}
		})
	}
}

func TestServer_DoesNotExposeEventService(t *testing.T) {
	svc := &mockService{}
	conn := startServer(t, svc)

	payload := []byte(`{"account_id":"victim"}`)
	_, err := publish(withToken(testServiceToken), conn, &EventRequest{Topic: repository.TopicAccountDeleted, Payload: payload})
	if status.Code(err) != codes.Unimplemented {
		t.Fatalf("client-facing server must not serve Publish, got %v", err)
	}
	if len(svc.deleted) != 0 || svc.appliedCount() != 0 {
		t.Fatalf("service was reached: deleted=%v applied=%d", svc.deleted, svc.appliedCount())
	}
}

func TestEventServer_RefusesMissingOrWrongToken(t *testing.T) {
	svc := &mockService{}
	conn := startEventServer(t, svc)
	payload, _ := json.Marshal(model.GrantedEvent{AccountID: "acct-a", EventID: "evt-1", NewBalance: 50})

	for name, ctx := range map[string]context.Context{
		"no credential":    context.Background(),
		"wrong credential": withToken("guess"),
		"client jwt":       withToken("eyJhbGciOiJIUzI1NiJ9.e30.sig"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := publish(ctx, conn, &EventRequest{Topic: repository.TopicPurchaseGranted, Payload: payload})
			if status.Code(err) != codes.Unauthenticated {
				t.Fatalf("code: %v", err)
			}
		})
	}
	if svc.appliedCount() != 0 {
		t.Fatalf("unauthenticated events were applied: %d", svc.appliedCount())
	}
}

func TestEventServer_Publish(t *testing.T) {
	svc := &mockService{}
	conn := startEventServer(t, svc)

	payload, _ := json.Marshal(model.GrantedEvent{AccountID: "acct-a", EventID: "evt-1", NewBalance: 10})
	res, err := publish(withToken(testServiceToken), conn, &EventRequest{Topic: repository.TopicPurchaseGranted, Payload: payload})
	if err != nil || !res.Success {
		t.Fatalf("publish granted: %+v %v", res, err)
	}
	if svc.appliedCount() != 1 || svc.applied[0].EventID != "evt-1" {
		t.Fatalf("applied: %+v", svc.applied)
	}

	for _, topic := range []string{repository.TopicAccountDeleted, "unknown.topic"} {
		res, err = publish(withToken(testServiceToken), conn, &EventRequest{Topic: topic, Payload: []byte(`{"account_id":"acct-a"}`)})
		if err != nil || res.Success {
			t.Fatalf("%s must not be handled: %+v %v", topic, res, err)
		}
	}
	if len(svc.deleted) != 0 {
		t.Fatalf("account deletion must not be reachable over gRPC: %v", svc.deleted)
	}
}

func TestNewEventServer_RequiresToken(t *testing.T) {
	if _, err := NewEventServer(":0", "", &mockService{}, nil); !errors.Is(err, ErrMissingServiceToken) {
		t.Fatalf("expected ErrMissingServiceToken, got %v", err)
	}
}

func TestGrpcBus_DeliversToEventServer(t *testing.T) {
	svc := &mockService{}
	conn := startEventServer(t, svc)
	bus := NewGrpcBus(conn, testServiceToken, 4, nil)

	payload, _ := json.Marshal(model.GrantedEvent{AccountID: "acct-a", EventID: "evt-1", NewBalance: 10})
	if err := bus.Publish(repository.TopicPurchaseGranted, payload); err != nil {
		t.Fatalf("publish: %v", err)
	}
	bus.Close()

	if svc.appliedCount() != 1 {
		t.Fatalf("applied %d events", svc.appliedCount())
	}
	if err := bus.Publish(repository.TopicPurchaseGranted, payload); err == nil {
		t.Fatal("publish after close must fail")
	}
}

func TestGrpcBus_FullBufferRejects(t *testing.T) {
	blocked := make(chan struct{})
	bus := NewGrpcBus(blockingConn{release: blocked}, testServiceToken, 1, nil)
	defer func() {
		close(blocked)
		bus.Close()
	}()

	// first event is picked up by the delivery goroutine, the second fills the buffer
	deadline := time.Now().Add(time.Second)
	var err error
	for time.Now().Before(deadline) {
		if err = bus.Publish("t", nil); err != nil {
			break
		}
	}
	if err == nil {
		t.Fatal("expected ErrBusFull")
	}
}

type blockingConn struct {
	release chan struct{}
}

func (c blockingConn) Invoke(ctx context.Context, _ string, _ any, reply any, _ ...grpc.CallOption) error {
	select {
	case <-c.release:
	case <-ctx.Done():
	}
	if r, ok := reply.(*EventResponse); ok {
		r.Success = true
	}
	return nil
}

func (c blockingConn) NewStream(context.Context, *grpc.StreamDesc, string, ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, status.Error(codes.Unimplemented, "no streams")
}
