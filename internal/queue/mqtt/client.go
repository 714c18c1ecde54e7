// Package mqtt is the MQTT transport built on the Eclipse Paho client.
//
// Only one subscribing process may run per topic namespace. The broker hands
// every message to every non-shared subscriber, so a second consumer would
// store each reading twice and send every alert twice.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	envConfig "github.com/BarkinBalci/telemetry-pipeline/internal/config"
	"github.com/BarkinBalci/telemetry-pipeline/internal/metrics"
	"github.com/BarkinBalci/telemetry-pipeline/internal/queue"
)

type subscription struct {
	ctx     context.Context
	handler queue.MessageHandler
}

// Client wraps a Paho connection. Subscriptions are remembered and renewed
// every time the connection comes back.
type Client struct {
	client paho.Client
	config envConfig.MQTT

	mu   sync.RWMutex
	subs map[string]subscription

	log *zap.Logger
}

// NewClient builds the client. It does not connect.
func NewClient(cfg envConfig.MQTT, log *zap.Logger) (*Client, error) {
	c := &Client{
		config: cfg,
		subs:   make(map[string]subscription),
		log:    log,
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.URL)
	opts.SetClientID(clientID(cfg.ClientIDPrefix))
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(cfg.ReconnectInterval)
	opts.SetMaxReconnectInterval(cfg.MaxReconnectInterval)
	// handlers run concurrently and may block for backpressure
	opts.SetOrderMatters(false)

	if needsTLS(cfg.URL) {
		tlsConfig, err := newTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
		log.Info("TLS configured for MQTT client")
	}

	opts.SetConnectionAttemptHandler(func(broker *url.URL, tlsCfg *tls.Config) *tls.Config {
		log.Info("Attempting to connect to MQTT broker", zap.String("broker", broker.Redacted()))
		return tlsCfg
	})
	opts.SetDefaultPublishHandler(func(_ paho.Client, msg paho.Message) {
		log.Warn("Received message on unexpected topic", zap.String("topic", msg.Topic()))
	})
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warn("Reconnecting to MQTT broker")
	})

	c.client = paho.NewClient(opts)
	return c, nil
}

// Connect starts connecting. When the broker is not reachable within the
// connect timeout the client keeps retrying in the background and nil is
// returned; subscriptions are applied once it gets through.
func (c *Client) Connect(ctx context.Context) error {
	c.log.Info("Connecting to MQTT broker",
		zap.String("url", c.config.URL),
		zap.Duration("retry_interval", c.config.ReconnectInterval))

	token := c.client.Connect()
	timer := time.NewTimer(c.config.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		c.log.Warn("MQTT broker not reachable yet, retrying in background")
		return nil
	}
}

// Subscribe registers handler for filters. Handlers receive a private copy
// of each payload.
func (c *Client) Subscribe(ctx context.Context, filters []string, handler queue.MessageHandler) error {
	c.mu.Lock()
	for _, f := range filters {
		c.subs[f] = subscription{ctx: ctx, handler: handler}
	}
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		c.log.Info("MQTT subscription deferred until connected", zap.Strings("filters", filters))
		return nil
	}
	return c.subscribe(filters)
}

// Unsubscribe stops delivery for filters
func (c *Client) Unsubscribe(filters ...string) error {
	c.mu.Lock()
	for _, f := range filters {
		delete(c.subs, f)
	}
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		return nil
	}
	token := c.client.Unsubscribe(filters...)
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return fmt.Errorf("failed to unsubscribe from %v: timed out", filters)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to unsubscribe from %v: %w", filters, err)
	}
	return nil
}

// Publish sends payload at the configured QoS
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	token := c.client.Publish(topic, c.config.QOS, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("failed to publish to %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		c.log.Error("Failed to publish MQTT message", zap.String("topic", topic), zap.Error(err))
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	c.log.Debug("Telemetry published to MQTT", zap.String("topic", topic), zap.Int("payload_bytes", len(payload)))
	return nil
}

func (c *Client) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Close disconnects after letting in-flight work finish for up to 250ms
func (c *Client) Close() {
	c.client.Disconnect(250)
	metrics.BrokerConnected.Set(0)
	c.log.Info("MQTT client disconnected")
}

func (c *Client) onConnect(_ paho.Client) {
	metrics.BrokerConnected.Set(1)
	c.log.Info("Connected to MQTT broker", zap.String("url", c.config.URL))

	c.mu.RLock()
	filters := make([]string, 0, len(c.subs))
	for f := range c.subs {
		filters = append(filters, f)
	}
	c.mu.RUnlock()

	if len(filters) == 0 {
		return
	}
	if err := c.subscribe(filters); err != nil {
		c.log.Error("Failed to resubscribe after connect", zap.Strings("filters", filters), zap.Error(err))
	}
}

func (c *Client) onConnectionLost(_ paho.Client, err error) {
	metrics.BrokerConnected.Set(0)
	c.log.Error("Lost connection to MQTT broker", zap.Error(err))
}

func (c *Client) subscribe(filters []string) error {
	request := make(map[string]byte, len(filters))
	for _, f := range filters {
		request[f] = c.config.QOS
	}

	token := c.client.SubscribeMultiple(request, c.deliver)
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return fmt.Errorf("failed to subscribe to %v: timed out", filters)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %v: %w", filters, err)
	}

	c.log.Info("Subscribed to MQTT topics", zap.Strings("filters", filters), zap.Uint8("qos", c.config.QOS))
	return nil
}

// deliver routes a Paho message to the handler of the first matching filter
func (c *Client) deliver(_ paho.Client, msg paho.Message) {
	c.mu.RLock()
	var sub subscription
	found := false
	for filter, s := range c.subs {
		if topicMatches(filter, msg.Topic()) {
			sub, found = s, true
			break
		}
	}
	c.mu.RUnlock()

	if !found {
		c.log.Warn("No handler for MQTT message", zap.String("topic", msg.Topic()))
		return
	}

	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())

	metrics.MessagesReceived.WithLabelValues("mqtt").Inc()
	sub.handler(sub.ctx, queue.Message{
		Topic:   msg.Topic(),
		Payload: payload,
		ID:      strconv.Itoa(int(msg.MessageID())),
	})
}

// topicMatches applies MQTT wildcard rules: + is one level, # is the rest
func topicMatches(filter, topic string) bool {
	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	for i, f := range fl {
		if f == "#" {
			return true
		}
		if i >= len(tl) {
			return false
		}
		if f != "+" && f != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}

func clientID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8])
}

func needsTLS(brokerURL string) bool {
	u := strings.ToLower(brokerURL)
	return strings.HasPrefix(u, "tls://") ||
		strings.HasPrefix(u, "ssl://") ||
		strings.HasPrefix(u, "mqtts://") ||
		strings.HasPrefix(u, "wss://") ||
		strings.Contains(u, ":8883")
}

func newTLSConfig(cfg envConfig.MQTT) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate file %s: %w", cfg.CACertFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA certificate from %s", cfg.CACertFile)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.ClientCertFile != "" && cfg.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate/key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	} else if cfg.ClientCertFile != "" || cfg.ClientKeyFile != "" {
		return nil, fmt.Errorf("client certificate and key must be configured together")
	}

	return tlsConfig, nil
}
