package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Client RabbitMQ 연결과 채널 하나를 보유
type Client struct {
	conn *amqp.Connection
	chn  *amqp.Channel

	mu       sync.Mutex
	declared map[string]bool
}

// NewClient 서버 연결 후 채널 개설
func NewClient(url string) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	chn, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	return &Client{
		conn:     conn,
		chn:      chn,
		declared: make(map[string]bool),
	}, nil
}

// Close 채널과 연결 종료
func (c *Client) Close() error {
	if err := c.chn.Close(); err != nil {
		return err
	}
	return c.conn.Close()
}

// DeclareQueue durable 큐 선언 (이미 선언한 큐는 생략)
func (c *Client) DeclareQueue(queueName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.declareLocked(queueName)
}

func (c *Client) declareLocked(queueName string) error {
	if c.declared[queueName] {
		return nil
	}
	_, err := c.chn.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return err
	}
	c.declared[queueName] = true
	return nil
}

// Publish 기본 exchange로 큐에 영속 메시지 발행
func (c *Client) Publish(ctx context.Context, queueName string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.declareLocked(queueName); err != nil {
		return err
	}
	return c.chn.PublishWithContext(
		ctx,
		"",        // exchange
		queueName, // routing key
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

// PublishJSON 값을 JSON으로 직렬화해 발행
func (c *Client) PublishJSON(ctx context.Context, queueName string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Publish(ctx, queueName, body)
}
