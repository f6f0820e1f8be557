package rabbitmq

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RABBITMQ_URL이 없으면 건너뜀
func testClient(t *testing.T) *Client {
	t.Helper()
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		t.Skip("RABBITMQ_URL not set")
	}
	client, err := NewClient(url)
	if err != nil {
		t.Skipf("rabbitmq not available: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPublishJSON_RoundTrip(t *testing.T) {
	client := testClient(t)
	queue := "refund.test." + uuid.NewString()
	require.NoError(t, client.DeclareQueue(queue))
	t.Cleanup(func() { _, _ = client.chn.QueueDelete(queue, false, false, false) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.PublishJSON(ctx, queue, map[string]string{"refundId": "refund-1"}))

	var msg struct {
		RefundID string `json:"refundId"`
	}
	require.Eventually(t, func() bool {
		d, ok, err := client.chn.Get(queue, true)
		if err != nil || !ok {
			return false
		}
		assert.Equal(t, "application/json", d.ContentType)
		return json.Unmarshal(d.Body, &msg) == nil
	}, 3*time.Second, 50*time.Millisecond)
	assert.Equal(t, "refund-1", msg.RefundID)
}

func TestPublishJSON_UnmarshalableValue(t *testing.T) {
	client := testClient(t)
	err := client.PublishJSON(context.Background(), "refund.test.invalid", make(chan int))
	assert.Error(t, err)
}
