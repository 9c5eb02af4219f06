package lark

import (
	"context"
	"encoding/json"
	"fmt"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
)

// ChannelName identifies Lark deliveries in logs and outbox errors
const ChannelName = "lark"

type createMessageFunc func(ctx context.Context, receiveIDType string, body *larkim.CreateMessageReqBody) (*larkim.CreateMessageResp, error)

// Messenger implements port.NotificationDispatcher with Lark IM text messages
type Messenger struct {
	create createMessageFunc
	logger *zap.Logger
}

// NewMessenger sends through client's IM message API
func NewMessenger(client *lark.Client, logger *zap.Logger) *Messenger {
	im := client.Im.Message
	return &Messenger{
		create: func(ctx context.Context, receiveIDType string, body *larkim.CreateMessageReqBody) (*larkim.CreateMessageResp, error) {
			req := larkim.NewCreateMessageReqBuilder().
				ReceiveIdType(receiveIDType).
				Body(body).
				Build()
			return im.Create(ctx, req)
		},
		logger: logger,
	}
}

// Channel implements port.NotificationDispatcher
func (m *Messenger) Channel() string {
	return ChannelName
}

// Send delivers text to the recipient's open_id, falling back to the
// directory user ID when no open_id is known.
func (m *Messenger) Send(ctx context.Context, user port.Recipient, text string) error {
	if text == "" {
		return fmt.Errorf("content cannot be empty")
	}

	receiveIDType, receiveID := "open_id", user.LarkOpenID
	if receiveID == "" {
		receiveIDType, receiveID = "user_id", user.UserID
	}
	if receiveID == "" {
		return fmt.Errorf("recipient has no lark identity")
	}

	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("failed to marshal message content: %w", err)
	}

	body := larkim.NewCreateMessageReqBodyBuilder().
		ReceiveId(receiveID).
		MsgType("text").
		Content(string(content)).
		Build()

	resp, err := m.create(ctx, receiveIDType, body)
	if err != nil {
		m.logger.Error("Failed to send message",
			zap.String("receive_id", receiveID),
			zap.Error(err))
		return fmt.Errorf("failed to send message: %w", err)
	}

	if !resp.Success() {
		m.logger.Error("API returned failure",
			zap.String("receive_id", receiveID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}
	m.logger.Debug("Message sent",
		zap.String("message_id", messageID),
		zap.String("user_id", user.UserID))
	return nil
}

// Verify interface compliance
var _ port.NotificationDispatcher = (*Messenger)(nil)
