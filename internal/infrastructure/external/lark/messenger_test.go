package lark

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
)

type recordedCall struct {
	receiveIDType string
	body          *larkim.CreateMessageReqBody
}

func newTestMessenger(resp *larkim.CreateMessageResp, err error) (*Messenger, *[]recordedCall) {
	var calls []recordedCall
	m := &Messenger{
		create: func(ctx context.Context, receiveIDType string, body *larkim.CreateMessageReqBody) (*larkim.CreateMessageResp, error) {
			calls = append(calls, recordedCall{receiveIDType: receiveIDType, body: body})
			return resp, err
		},
		logger: zap.NewNop(),
	}
	return m, &calls
}

func okResponse() *larkim.CreateMessageResp {
	return &larkim.CreateMessageResp{
		Data: &larkim.CreateMessageRespData{MessageId: larkcore.StringPtr("om_1")},
	}
}

func TestMessenger_SendToOpenID(t *testing.T) {
	m, calls := newTestMessenger(okResponse(), nil)

	err := m.Send(context.Background(), port.Recipient{UserID: "mgr1", LarkOpenID: "ou_123"}, `Request "EXP-1" needs you`)
	require.NoError(t, err)
	require.Len(t, *calls, 1)

	call := (*calls)[0]
	assert.Equal(t, "open_id", call.receiveIDType)
	assert.Equal(t, "ou_123", *call.body.ReceiveId)
	assert.Equal(t, "text", *call.body.MsgType)

	var content map[string]string
	require.NoError(t, json.Unmarshal([]byte(*call.body.Content), &content))
	assert.Equal(t, `Request "EXP-1" needs you`, content["text"])
}

func TestMessenger_FallsBackToUserID(t *testing.T) {
	m, calls := newTestMessenger(okResponse(), nil)

	require.NoError(t, m.Send(context.Background(), port.Recipient{UserID: "mgr1"}, "hello"))
	assert.Equal(t, "user_id", (*calls)[0].receiveIDType)
	assert.Equal(t, "mgr1", *(*calls)[0].body.ReceiveId)
}

func TestMessenger_Errors(t *testing.T) {
	t.Run("api failure code", func(t *testing.T) {
		resp := &larkim.CreateMessageResp{CodeError: larkcore.CodeError{Code: 230001, Msg: "bot not in chat"}}
		m, _ := newTestMessenger(resp, nil)
		err := m.Send(context.Background(), port.Recipient{LarkOpenID: "ou_1"}, "hi")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "230001")
	})

	t.Run("transport error", func(t *testing.T) {
		m, _ := newTestMessenger(nil, errors.New("connection reset"))
		assert.Error(t, m.Send(context.Background(), port.Recipient{LarkOpenID: "ou_1"}, "hi"))
	})

	t.Run("no identity", func(t *testing.T) {
		m, calls := newTestMessenger(okResponse(), nil)
		assert.Error(t, m.Send(context.Background(), port.Recipient{}, "hi"))
		assert.Empty(t, *calls)
	})

	t.Run("empty text", func(t *testing.T) {
		m, _ := newTestMessenger(okResponse(), nil)
		assert.Error(t, m.Send(context.Background(), port.Recipient{LarkOpenID: "ou_1"}, ""))
	})
}

func TestMessenger_Channel(t *testing.T) {
	m, _ := newTestMessenger(okResponse(), nil)
	assert.Equal(t, ChannelName, m.Channel())
}
