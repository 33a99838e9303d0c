// Copyright 2025 ChatRelay Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package chatrelay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chatrelay/chatrelay-go/cache"
	"github.com/chatrelay/chatrelay-go/monitor"
	"github.com/chatrelay/chatrelay-go/queue"
	"github.com/chatrelay/chatrelay-go/reliability"
	"github.com/chatrelay/chatrelay-go/verify"
)

// ChannelBreaker is the name under which the outbound messaging channel's
// circuit breaker is registered.
const ChannelBreaker = "whatsapp"

// SendFunc delivers a message payload to the outbound channel. The config ID
// identifies which channel configuration the message belongs to.
type SendFunc func(ctx context.Context, configID string, payload interface{}) error

// InteractionRecorder is notified after every delivery attempt so callers can
// persist an audit trail. Errors are logged, never propagated.
type InteractionRecorder func(ctx context.Context, configID, status string) error

// Client provides the main entry point for chatrelay-go. It owns the message
// queue, the circuit breaker registry, the verification code store, the
// response cache, and the health service, wired together so that outbound
// sends flow through the channel breaker.
type Client struct {
	queue    *queue.Queue
	breakers *reliability.Registry
	codes    *verify.Store
	cache    *cache.Cache
	send     SendFunc
	record   InteractionRecorder
	logger   *slog.Logger
	codeTTL  time.Duration
}

// ClientOptions configures the client
type ClientOptions struct {
	logger      *slog.Logger
	send        SendFunc
	record      InteractionRecorder
	queueOpts   []queue.Option
	breakerOpts []reliability.BreakerOption
	verifyOpts  []verify.StoreOption
	cacheOpts   []cache.Option
	codeTTL     time.Duration
}

// ClientOption configures the client
type ClientOption func(*ClientOptions)

// WithLogger sets the logger used by the client and every component it owns
func WithLogger(logger *slog.Logger) ClientOption {
	return func(o *ClientOptions) {
		o.logger = logger
	}
}

// WithSendFunc sets the outbound delivery function. Required.
func WithSendFunc(send SendFunc) ClientOption {
	return func(o *ClientOptions) {
		o.send = send
	}
}

// WithInteractionRecorder sets the recorder notified after each delivery attempt
func WithInteractionRecorder(record InteractionRecorder) ClientOption {
	return func(o *ClientOptions) {
		o.record = record
	}
}

// WithQueueOptions forwards options to the owned message queue
func WithQueueOptions(opts ...queue.Option) ClientOption {
	return func(o *ClientOptions) {
		o.queueOpts = append(o.queueOpts, opts...)
	}
}

// WithBreakerOptions forwards options to the channel circuit breaker
func WithBreakerOptions(opts ...reliability.BreakerOption) ClientOption {
	return func(o *ClientOptions) {
		o.breakerOpts = append(o.breakerOpts, opts...)
	}
}

// WithVerifyOptions forwards options to the verification code store
func WithVerifyOptions(opts ...verify.StoreOption) ClientOption {
	return func(o *ClientOptions) {
		o.verifyOpts = append(o.verifyOpts, opts...)
	}
}

// WithCacheOptions forwards options to the response cache
func WithCacheOptions(opts ...cache.Option) ClientOption {
	return func(o *ClientOptions) {
		o.cacheOpts = append(o.cacheOpts, opts...)
	}
}

// WithCodeTTL sets the verification code lifetime reported in outbound
// verification messages
func WithCodeTTL(ttl time.Duration) ClientOption {
	return func(o *ClientOptions) {
		o.codeTTL = ttl
		o.verifyOpts = append(o.verifyOpts, verify.WithCodeTTL(ttl))
	}
}

// NewClient creates a new chatrelay client. The send function is required;
// every other component gets sensible defaults.
func NewClient(opts ...ClientOption) (*Client, error) {
	options := &ClientOptions{
		logger:  slog.Default(),
		codeTTL: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.send == nil {
		return nil, fmt.Errorf("send function is required")
	}

	c := &Client{
		breakers: reliability.NewRegistry(),
		codes:    verify.NewStore(options.verifyOpts...),
		cache:    cache.New(options.cacheOpts...),
		send:     options.send,
		record:   options.record,
		logger:   options.logger,
		codeTTL:  options.codeTTL,
	}

	breakerOpts := append([]reliability.BreakerOption{
		reliability.WithStateChangeFunc(func(name string, from, to reliability.State, reason string) {
			c.logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
				"reason", reason)
		}),
	}, options.breakerOpts...)
	c.breakers.Register(ChannelBreaker, breakerOpts...)

	queueOpts := append([]queue.Option{queue.WithLogger(options.logger)}, options.queueOpts...)
	c.queue = queue.New(c.deliver, queueOpts...)

	return c, nil
}

// Start begins processing queued messages
func (c *Client) Start() error {
	return c.queue.Start()
}

// Close stops the queue loop and waits for in-flight handlers to finish
func (c *Client) Close() error {
	return c.queue.Stop()
}

// Send enqueues a message for delivery and returns its ID. It returns as
// soon as the message is accepted; delivery happens on the queue's schedule.
func (c *Client) Send(configID string, payload interface{}) string {
	return c.queue.Enqueue(configID, payload)
}

// RequestVerification issues a verification code for the phone number and
// enqueues the message that carries it, returning the message ID. The code
// itself is never returned to the caller.
func (c *Client) RequestVerification(configID, phoneNumber, userID string) (string, error) {
	code, err := c.codes.CreateCode(phoneNumber, userID, configID)
	if err != nil {
		return "", fmt.Errorf("failed to create verification code: %w", err)
	}
	return c.queue.Enqueue(configID, c.codes.Message(code)), nil
}

// VerifyCode checks a user-supplied code and returns the user ID it was
// issued for
func (c *Client) VerifyCode(phoneNumber, configID, supplied string) (string, error) {
	return c.codes.VerifyCode(phoneNumber, configID, supplied)
}

// Breakers exposes the circuit breaker registry
func (c *Client) Breakers() *reliability.Registry {
	return c.breakers
}

// Cache exposes the response cache
func (c *Client) Cache() *cache.Cache {
	return c.cache
}

// Codes exposes the verification code store
func (c *Client) Codes() *verify.Store {
	return c.codes
}

// Queue exposes the message queue
func (c *Client) Queue() *queue.Queue {
	return c.queue
}

// HealthService builds a health service over the client's components. The
// caller supplies the database pinger and interaction counter because the
// client itself never touches storage.
func (c *Client) HealthService(db monitor.Pinger, interactions monitor.InteractionCounter, opts ...monitor.ServiceOption) *monitor.Service {
	opts = append([]monitor.ServiceOption{monitor.WithServiceLogger(c.logger)}, opts...)
	return monitor.NewService(db, c.breakers, c.cache, c.queue, interactions, opts...)
}

// deliver is the queue handler. Every send goes through the channel breaker
// so a failing channel is backed off instead of hammered; a refused send
// counts as a failure and the queue retries it.
func (c *Client) deliver(ctx context.Context, msg *queue.Message) error {
	breaker, err := c.breakers.Get(ChannelBreaker)
	if err != nil {
		return err
	}

	err = breaker.Execute(ctx, func() error {
		return c.send(ctx, msg.ConfigID, msg.Payload)
	})

	status := "sent"
	if err != nil {
		status = "failed"
	}
	if c.record != nil {
		if recErr := c.record(ctx, msg.ConfigID, status); recErr != nil {
			c.logger.Error("failed to record interaction",
				"messageId", msg.ID,
				"error", recErr)
		}
	}
	return err
}
