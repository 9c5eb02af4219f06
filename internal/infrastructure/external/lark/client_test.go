package lark

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
)

func TestConfig_Enabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.False(t, Config{AppID: "cli_x"}.Enabled())
	assert.True(t, Config{AppID: "cli_x", AppSecret: "s"}.Enabled())
}

func TestMessenger_SendsThroughOpenAPI(t *testing.T) {
	var (
		mu       sync.Mutex
		idTypes  []string
		payloads []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(r.URL.Path, "tenant_access_token"):
			_, _ = io.WriteString(w, `{"code":0,"msg":"ok","tenant_access_token":"t-test","expire":7200}`)
		case strings.HasSuffix(r.URL.Path, "/im/v1/messages"):
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			idTypes = append(idTypes, r.URL.Query().Get("receive_id_type"))
			payloads = append(payloads, string(body))
			mu.Unlock()
			_, _ = io.WriteString(w, `{"code":0,"msg":"success","data":{"message_id":"om_1"}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewClient(Config{AppID: "cli_test", AppSecret: "secret", BaseURL: srv.URL})
	m := NewMessenger(client, zap.NewNop())

	err := m.Send(context.Background(), port.Recipient{UserID: "u1", LarkOpenID: "ou_1"}, "Request EXP-1 needs your approval")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, idTypes, 1)
	assert.Equal(t, "open_id", idTypes[0])
	assert.Contains(t, payloads[0], `"receive_id":"ou_1"`)
	assert.Contains(t, payloads[0], "EXP-1")
}
