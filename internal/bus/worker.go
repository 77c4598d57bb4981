package bus

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"wgkex/internal/config"
	"wgkex/internal/logger"
	"wgkex/internal/model"
	"wgkex/internal/queue"
)

// WorkerClient is a worker process's pub/sub connection: it publishes its
// own endpoint/status/metrics and feeds incoming peer-install requests
// into a dedup queue for the installer loop to drain.
type WorkerClient struct {
	client     mqtt.Client
	self       string
	domains    []model.Domain
	installQ   *queue.UniqueQueue
	endpointFn func(model.Domain) (any, error)
}

// SetEndpointSource registers the callback used to compute this worker's
// endpoint descriptor for a domain; it is read from the kernel, so
// workerapp supplies it after the netlink engine exists.
func (wc *WorkerClient) SetEndpointSource(fn func(model.Domain) (any, error)) {
	wc.endpointFn = fn
}

// NewWorkerClient connects to the configured MQTT broker with a last will
// that marks this worker offline on ungraceful disconnect, then
// subscribes to every configured domain's peer-install topic on every
// (re)connect.
func NewWorkerClient(cfg config.MQTT, self string, domains []model.Domain, installQ *queue.UniqueQueue) (*WorkerClient, error) {
	wc := &WorkerClient{self: self, domains: domains, installQ: installQ}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.URL()).
		SetClientID(fmt.Sprintf("wgkex-worker-%s", self)).
		SetKeepAlive(time.Duration(cfg.Keepalive) * time.Second).
		SetAutoReconnect(true).
		SetWill(WorkerStatusTopic(self), "0", 1, true).
		SetOnConnectHandler(wc.onConnect)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	wc.client = mqtt.NewClient(opts)
	if token := wc.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to mqtt broker: %w", token.Error())
	}
	return wc, nil
}

func (wc *WorkerClient) onConnect(client mqtt.Client) {
	for _, domain := range wc.domains {
		d := domain
		if wc.endpointFn != nil {
			data, err := wc.endpointFn(d)
			if err != nil {
				logger.L().Error("computing endpoint descriptor", zap.String("domain", string(d)), zap.Error(err))
			} else if err := wc.PublishEndpointData(d, data); err != nil {
				logger.L().Error("publishing endpoint descriptor", zap.String("domain", string(d)), zap.Error(err))
			}
		}

		topic := PeerInstallSubscription(string(d))
		if token := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			wc.handlePeerInstall(d, msg)
		}); token.Wait() && token.Error() != nil {
			logger.L().Error("subscribing to peer-install topic", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}

	if err := wc.PublishStatus(true); err != nil {
		logger.L().Error("publishing online status", zap.Error(err))
	}
}

func (wc *WorkerClient) handlePeerInstall(domain model.Domain, msg mqtt.Message) {
	key, err := model.ParsePublicKey(string(msg.Payload()))
	if err != nil {
		logger.L().Warn("dropping peer-install message with invalid public key", zap.Error(err))
		return
	}
	wc.installQ.Enqueue(queue.Item{Domain: domain, Pubkey: key})
}

// PublishEndpointData announces this worker's connection descriptor for
// domain.
func (wc *WorkerClient) PublishEndpointData(domain model.Domain, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding endpoint data: %w", err)
	}
	token := wc.client.Publish(WorkerDataTopic(wc.self, string(domain)), 1, true, payload)
	token.Wait()
	return token.Error()
}

// PublishStatus publishes this worker's liveness, retained.
func (wc *WorkerClient) PublishStatus(online bool) error {
	payload := "0"
	if online {
		payload = "1"
	}
	token := wc.client.Publish(WorkerStatusTopic(wc.self), 1, true, payload)
	token.Wait()
	return token.Error()
}

// PublishConnectedPeers publishes the periodic connected-peer count for
// domain, retained. A negative value self-evicts this worker from broker
// load calculations.
func (wc *WorkerClient) PublishConnectedPeers(domain model.Domain, count int64) error {
	token := wc.client.Publish(MetricsTopic(string(domain), wc.self), 1, true, strconv.FormatInt(count, 10))
	token.Wait()
	return token.Error()
}

// Shutdown publishes an explicit offline status before disconnecting.
func (wc *WorkerClient) Shutdown() {
	if err := wc.PublishStatus(false); err != nil {
		logger.L().Error("publishing offline status during shutdown", zap.Error(err))
	}
	wc.client.Disconnect(250)
}
