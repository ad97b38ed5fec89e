package ingest

import (
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Subscriber получает измерения из MQTT. Последний сегмент топика
// (sfdd/samples/<platform>) подставляется как platform_id.
type Subscriber struct {
	client mqtt.Client
	topic  string
	qos    byte
	sink   Sink
	logger *zap.Logger
}

// NewSubscriber создает клиента MQTT
func NewSubscriber(broker, clientID, topic string, qos byte, sink Sink, logger *zap.Logger) *Subscriber {
	s := &Subscriber{
		topic:  topic,
		qos:    qos,
		sink:   sink,
		logger: logger.With(zap.String("component", "mqtt-subscriber"), zap.String("topic", topic)),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetOnConnectHandler(func(c mqtt.Client) {
			// после переподключения подписка восстанавливается
			if err := s.subscribe(c); err != nil {
				s.logger.Error("MQTT subscribe failed", zap.Error(err))
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.logger.Warn("MQTT connection lost", zap.Error(err))
		})
	s.client = mqtt.NewClient(opts)
	return s
}

// Connect подключается к брокеру и подписывается на топик
func (s *Subscriber) Connect() error {
	token := s.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	s.logger.Info("MQTT subscriber connected")
	return nil
}

func (s *Subscriber) subscribe(c mqtt.Client) error {
	token := c.Subscribe(s.topic, s.qos, s.onMessage)
	token.Wait()
	return token.Error()
}

func (s *Subscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	deliver(s.sink, s.logger, "mqtt", msg.Payload(), platformFromTopic(msg.Topic()))
}

// Close отписывается и отключается от брокера
func (s *Subscriber) Close() {
	if s.client.IsConnected() {
		s.client.Unsubscribe(s.topic).Wait()
	}
	s.client.Disconnect(250)
}

func platformFromTopic(topic string) string {
	if i := strings.LastIndex(topic, "/"); i >= 0 {
		return topic[i+1:]
	}
	return topic
}
