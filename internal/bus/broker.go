package bus

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"wgkex/internal/config"
	"wgkex/internal/fleet"
	"wgkex/internal/logger"
	"wgkex/internal/model"
)

// BrokerClient is the broker's pub/sub connection: it subscribes to
// worker-published metrics/status/data and publishes peer-install and
// Parker announcements.
type BrokerClient struct {
	client   mqtt.Client
	registry *fleet.Registry
	domains  *model.DomainTable
}

// NewBrokerClient connects to the configured MQTT broker and wires up its
// metrics/status/data subscriptions. Subscriptions are re-established on
// every successful (re)connect via OnConnect, so transparent reconnection
// requires no special handling here.
func NewBrokerClient(cfg config.MQTT, registry *fleet.Registry, domains *model.DomainTable) (*BrokerClient, error) {
	bc := &BrokerClient{registry: registry, domains: domains}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.URL()).
		SetClientID(fmt.Sprintf("wgkex-broker-%s", uuid.NewString())).
		SetKeepAlive(time.Duration(cfg.Keepalive) * time.Second).
		SetAutoReconnect(true).
		SetOnConnectHandler(bc.onConnect)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	bc.client = mqtt.NewClient(opts)
	if token := bc.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to mqtt broker: %w", token.Error())
	}
	return bc, nil
}

func (bc *BrokerClient) onConnect(client mqtt.Client) {
	subscribe := func(topic string, handler mqtt.MessageHandler) {
		if token := client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
			logger.L().Error("subscribing to topic", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}
	subscribe(topicMetricsFilter, bc.handleMetrics)
	subscribe(topicStatusFilter, bc.handleStatus)
	subscribe(topicDataFilter, bc.handleData)
}

func (bc *BrokerClient) handleMetrics(_ mqtt.Client, msg mqtt.Message) {
	domain, worker, metric, ok := ParseMetricsTopic(msg.Topic())
	if !ok {
		return
	}
	if _, err := bc.domains.ParseDomain(domain); err != nil {
		logger.L().Debug("dropping metric for unknown domain", zap.String("domain", domain))
		return
	}

	var value int64
	if err := json.Unmarshal(msg.Payload(), &value); err != nil {
		logger.L().Warn("malformed metric payload", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	bc.registry.UpdateMetric(model.WorkerId(worker), model.Domain(domain), metric, value)
}

func (bc *BrokerClient) handleStatus(_ mqtt.Client, msg mqtt.Message) {
	worker, ok := ParseStatusTopic(msg.Topic())
	if !ok {
		return
	}
	online := string(msg.Payload()) == "1"
	wasOnline := bc.registry.IsOnline(model.WorkerId(worker), "")
	if online == wasOnline {
		return
	}
	if online {
		bc.registry.SetOnline(model.WorkerId(worker))
	} else {
		bc.registry.SetOffline(model.WorkerId(worker))
	}
}

func (bc *BrokerClient) handleData(_ mqtt.Client, msg mqtt.Message) {
	worker, domain, ok := ParseDataTopic(msg.Topic())
	if !ok {
		return
	}
	if _, err := bc.domains.ParseDomain(domain); err != nil {
		logger.L().Debug("dropping endpoint data for unknown domain", zap.String("domain", domain))
		return
	}

	var ep fleet.WorkerEndpoint
	if err := json.Unmarshal(msg.Payload(), &ep); err != nil {
		logger.L().Warn("malformed endpoint payload", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	bc.registry.PutEndpoint(model.WorkerId(worker), model.Domain(domain), ep)
}

// PublishPeerInstall fans out pubkey for domain to every subscribed
// worker.
func (bc *BrokerClient) PublishPeerInstall(domain string, pubkey string) error {
	token := bc.client.Publish(PeerInstallTopic(domain), 1, false, pubkey)
	token.Wait()
	return token.Error()
}

// PublishParkerAnnouncement publishes a Parker prefix assignment.
func (bc *BrokerClient) PublishParkerAnnouncement(payload []byte) error {
	token := bc.client.Publish(ParkerAllTopic(), 1, false, payload)
	token.Wait()
	return token.Error()
}

// Close disconnects from the broker.
func (bc *BrokerClient) Close() {
	bc.client.Disconnect(250)
}
