// Package mqtt wraps the shared broker connection used by MQTT-backed
// devices and sensors.
package mqtt

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"enviroctl/internal/config"
)

type Connection struct {
	client mqtt.Client
	logger *logrus.Logger

	subscriptions []subscription
}

type subscription struct {
	topic   string
	handler func(payload []byte)
}

func NewConnection(cfg config.MQTTConfig, logger *logrus.Logger) (*Connection, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is not configured")
	}

	c := &Connection{logger: logger}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(60 * time.Second)

	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetOnConnectHandler(c.onConnect)

	c.client = mqtt.NewClient(opts)

	return c, nil
}

func (c *Connection) Connect() error {
	c.logger.Info("Connecting to MQTT broker...")

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return nil
}

func (c *Connection) Disconnect() {
	c.client.Disconnect(250)
	c.logger.Info("Disconnected from MQTT broker")
}

// Subscribe registers a topic handler. Subscriptions are replayed on
// every (re)connect by the connect handler.
func (c *Connection) Subscribe(topic string, handler func(payload []byte)) {
	c.subscriptions = append(c.subscriptions, subscription{topic: topic, handler: handler})

	if c.client.IsConnected() {
		c.subscribe(subscription{topic: topic, handler: handler})
	}
}

func (c *Connection) Publish(topic, payload string) error {
	token := c.client.Publish(topic, 0, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, token.Error())
	}

	return nil
}

func (c *Connection) onConnect(_ mqtt.Client) {
	c.logger.Info("Connected to MQTT broker")

	for _, sub := range c.subscriptions {
		c.subscribe(sub)
	}
}

func (c *Connection) subscribe(sub subscription) {
	handler := sub.handler
	token := c.client.Subscribe(sub.topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})

	if token.Wait() && token.Error() != nil {
		c.logger.Errorf("Failed to subscribe to %s: %v", sub.topic, token.Error())
		return
	}

	c.logger.Infof("Subscribed to %s", sub.topic)
}

func (c *Connection) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warnf("MQTT connection lost: %v", err)
}
