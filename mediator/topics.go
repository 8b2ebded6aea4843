// Package mediator bridges a local broker (devices) to a remote broker
// (cloud), turning local fire-and-forget topic traffic into RPC calls and
// vice versa.
package mediator

import "strings"

// AnnounceTopic is the single fixed topic devices publish their
// announcement to.
const AnnounceTopic = "devices/announce"

var statusBases = []string{"bucket", "pump", "wifi"}
var responseBases = []string{"bucket", "pump", "wifi", "config"}

// statusFilter returns the local subscription filter for one status base,
// e.g. "+/bucket/status".
func statusFilter(base string) string {
	return "+/" + base + "/status"
}

// responseFilter returns the local subscription filter for one response
// base, e.g. "+/bucket/response/+".
func responseFilter(base string) string {
	return "+/" + base + "/response/+"
}

// devicesGetTopic is the management topic for registry queries, scoped
// under cloudPrefix.
func devicesGetTopic(cloudPrefix string) string {
	return cloudPrefix + "/mediator/devices/get"
}

// devicesResponseTopic is where registry query responses are published.
func devicesResponseTopic(cloudPrefix, requestID string) string {
	return cloudPrefix + "/mediator/devices/response/" + requestID
}

// commandFilters returns the remote subscription filters for every command
// route the router dispatches as an RPC call.
func commandFilters(cloudPrefix string) []string {
	return []string{
		cloudPrefix + "/+/pump/run",
		cloudPrefix + "/+/bucket/get",
		cloudPrefix + "/+/wifi/get",
		cloudPrefix + "/+/pump/get",
		cloudPrefix + "/+/config/name",
	}
}

// responseTopicFor builds the upstream response topic for a dispatched
// command: <cloudPrefix>/<deviceId>/<base>/response/<requestId>.
func responseTopicFor(cloudPrefix, deviceID, base, requestID string) string {
	return cloudPrefix + "/" + deviceID + "/" + base + "/response/" + requestID
}

// splitSegments splits a topic into its slash-delimited segments.
func splitSegments(topic string) []string {
	return strings.Split(topic, "/")
}

// parseCommand extracts deviceId (segment 2, 0-indexed 1) and methodPath
// (segments 3+) from a remote command topic shaped
// "<cloudPrefix>/<deviceId>/<methodPath...>". The caller has already
// matched the topic against a cloudPrefix-scoped filter.
func parseCommand(topic string) (deviceID, methodPath string, ok bool) {
	segs := splitSegments(topic)
	if len(segs) < 3 {
		return "", "", false
	}
	return segs[1], strings.Join(segs[2:], "/"), true
}
