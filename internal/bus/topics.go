// Package bus wraps the Eclipse Paho MQTT client with the broker- and
// worker-side topic conventions this system uses for peer install,
// liveness, endpoint data, and metrics. No MQTT client appears anywhere
// in the example corpus this module was built from;
// github.com/eclipse/paho.mqtt.golang is adopted directly from the wider
// Go ecosystem because the pub/sub transport is central to this system and
// no in-pack alternative exists (recorded in DESIGN.md).
package bus

import "fmt"

// Broker-side subscriptions / worker-side publications.
const (
	topicMetricsFilter = "wireguard-metrics/+/+/+"
	topicStatusFilter  = "wireguard-worker/+/status"
	topicDataFilter    = "wireguard-worker/+/+/data"

	topicPeerInstallPattern = "wireguard/%s/%s" // domain, gateway ("all" or worker id)
	topicParkerAllPattern   = "parker/wireguard/all"

	topicWorkerStatusPattern  = "wireguard-worker/%s/status"
	topicWorkerDataPattern    = "wireguard-worker/%s/%s/data" // worker, domain
	topicMetricsPublishPattern = "wireguard-metrics/%s/%s/connected_peers" // domain, worker

	topicPeerInstallFilterPattern = "wireguard/%s/+" // domain, subscribed by worker
)

// PeerInstallTopic is where the broker publishes a raw public key for
// domain to fan out to every worker subscribed to that domain.
func PeerInstallTopic(domain string) string {
	return fmt.Sprintf(topicPeerInstallPattern, domain, "all")
}

// PeerInstallSubscription is the filter a worker subscribes to for a
// configured domain.
func PeerInstallSubscription(domain string) string {
	return fmt.Sprintf(topicPeerInstallFilterPattern, domain)
}

// ParkerAllTopic is where Parker-family prefix announcements are
// published.
func ParkerAllTopic() string {
	return topicParkerAllPattern
}

// WorkerStatusTopic is the retained liveness topic for worker.
func WorkerStatusTopic(worker string) string {
	return fmt.Sprintf(topicWorkerStatusPattern, worker)
}

// WorkerDataTopic is the retained endpoint-descriptor topic for
// worker/domain.
func WorkerDataTopic(worker, domain string) string {
	return fmt.Sprintf(topicWorkerDataPattern, worker, domain)
}

// MetricsTopic is the retained connected_peers topic for domain/worker.
func MetricsTopic(domain, worker string) string {
	return fmt.Sprintf(topicMetricsPublishPattern, domain, worker)
}

// ParseMetricsTopic extracts (domain, worker, metric) from a topic
// matching wireguard-metrics/+/+/+.
func ParseMetricsTopic(topic string) (domain, worker, metric string, ok bool) {
	parts := splitTopic(topic)
	if len(parts) != 4 || parts[0] != "wireguard-metrics" {
		return "", "", "", false
	}
	return parts[1], parts[2], parts[3], true
}

// ParseStatusTopic extracts worker from a topic matching
// wireguard-worker/+/status.
func ParseStatusTopic(topic string) (worker string, ok bool) {
	parts := splitTopic(topic)
	if len(parts) != 3 || parts[0] != "wireguard-worker" || parts[2] != "status" {
		return "", false
	}
	return parts[1], true
}

// ParseDataTopic extracts (worker, domain) from a topic matching
// wireguard-worker/+/+/data.
func ParseDataTopic(topic string) (worker, domain string, ok bool) {
	parts := splitTopic(topic)
	if len(parts) != 4 || parts[0] != "wireguard-worker" || parts[3] != "data" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

func splitTopic(topic string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(topic); i++ {
		if topic[i] == '/' {
			parts = append(parts, topic[start:i])
			start = i + 1
		}
	}
	parts = append(parts, topic[start:])
	return parts
}
