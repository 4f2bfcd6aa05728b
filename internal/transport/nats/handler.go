package nats

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"creditgate/internal/model"
	"creditgate/internal/repository"
	"creditgate/internal/service"
)

const queueGroup = "creditgate_group"

// VerifyCommand is the request body on the commands.verify subject.
type VerifyCommand struct {
	Credential string          `json:"credential"`
	Payload    json.RawMessage `json:"payload"`
}

// VerifyReply mirrors the HTTP contract; Code carries the HTTP-equivalent status.
type VerifyReply struct {
	model.VerifyResponse
	Code int `json:"code"`
}

type AccountDeleted struct {
	AccountID string `json:"account_id"`
}

// Handler subscribes to NATS command subjects and delegates to the purchase service.
type Handler struct {
	svc  service.PurchaseService
	nc   *nats.Conn
	log  *zap.Logger
	subs []*nats.Subscription
}

func NewHandler(svc service.PurchaseService, nc *nats.Conn, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, nc: nc, log: log}
}

// Start subscribes to command subjects and blocks until ctx is cancelled.
func (h *Handler) Start(ctx context.Context) error {
	s1, err := h.nc.QueueSubscribe(repository.TopicVerifyCommand, queueGroup, func(m *nats.Msg) {
		reply := h.handleVerify(ctx, m.Data)
		data, err := json.Marshal(reply)
		if err != nil {
			h.log.Error("nats: failed to encode verify reply", zap.Error(err))
			return
		}
		if err := m.Respond(data); err != nil {
			h.log.Warn("nats: failed to respond", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, s1)

	s2, err := h.nc.QueueSubscribe(repository.TopicAccountDeleted, queueGroup, func(m *nats.Msg) {
		h.handleAccountDeleted(ctx, m.Data)
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, s2)

	h.log.Info("NATS command handler is running")

	<-ctx.Done()
	h.log.Info("NATS command handler shutting down, draining subscriptions")

	for _, s := range h.subs {
		_ = s.Drain()
	}
	return nil
}

func (h *Handler) Stop(ctx context.Context) error {
	for _, s := range h.subs {
		_ = s.Unsubscribe()
	}
	return nil
}

func (h *Handler) handleVerify(ctx context.Context, data []byte) VerifyReply {
	var cmd VerifyCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return VerifyReply{
			VerifyResponse: model.VerifyResponse{Status: model.StatusInvalid, Message: "command must be a JSON object"},
			Code:           http.StatusOK,
		}
	}

	var payload map[string]any
	if err := decodeObject(cmd.Payload, &payload); err != nil {
		return VerifyReply{
			VerifyResponse: model.VerifyResponse{Status: model.StatusInvalid, Message: "payload must be a JSON object"},
			Code:           http.StatusOK,
		}
	}

	res, err := h.svc.Verify(ctx, cmd.Credential, payload)
	if err != nil {
		return VerifyReply{
			VerifyResponse: model.VerifyResponse{Status: model.StatusRejected, Message: service.AsServiceError(err).Message},
			Code:           service.HTTPStatus(err),
		}
	}
	return VerifyReply{VerifyResponse: res, Code: http.StatusOK}
}

func (h *Handler) handleAccountDeleted(ctx context.Context, data []byte) {
	var msg AccountDeleted
	if err := json.Unmarshal(data, &msg); err != nil {
		h.log.Error("nats: failed to unmarshal account deletion", zap.Error(err))
		return
	}
	if err := h.svc.DeleteAccount(ctx, msg.AccountID); err != nil {
		h.log.Error("nats: account deletion failed", zap.String("account_id", msg.AccountID), zap.Error(err))
	}
}

func decodeObject(raw json.RawMessage, dst *map[string]any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(dst)
}
