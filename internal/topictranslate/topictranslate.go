// Package topictranslate implements the stateless bidirectional topic
// mapping between the vendor cloud MQTT namespace and the local
// broker namespace (spec §4.9). Grounded on the teacher's
// pkg/topics.BuildTopic family — pure functions constructing topic
// strings from a fixed pattern — generalised from Home Assistant
// discovery patterns to the bridge's cloud/local pair.
package topictranslate

import "regexp"

var macPattern = regexp.MustCompile(`^[0-9A-Fa-f]{12}$`)

// ValidMAC reports whether mac is exactly 12 hexadecimal characters.
// Case is preserved by every function in this package; this only
// validates shape.
func ValidMAC(mac string) bool {
	return macPattern.MatchString(mac)
}

// CloudStateTopic builds the cloud-side topic the vendor publishes
// device state PUBLISHes to.
func CloudStateTopic(mac string) string {
	return mac + "/device/response/client/04"
}

// CloudCommandTopic builds the cloud-side topic commands are
// published to.
func CloudCommandTopic(mac string) string {
	return mac + "/client/request/data"
}

// LocalStateTopic builds the local broker topic device state is
// republished to.
func LocalStateTopic(mac string) string {
	return "fossibot/" + mac + "/state"
}

// LocalCommandTopic builds the local broker topic consumers publish
// commands to.
func LocalCommandTopic(mac string) string {
	return "fossibot/" + mac + "/command"
}

// LocalAvailabilityTopic builds the local broker topic availability
// is published to.
func LocalAvailabilityTopic(mac string) string {
	return "fossibot/" + mac + "/availability"
}

// ToLocalState maps a cloud-side state topic to its local equivalent.
// Recognises both `<MAC>/device/response/client/04` and
// `<MAC>/device/response/client/data`; returns ok=false for anything
// else, including malformed MACs.
func ToLocalState(cloudTopic string) (local string, mac string, ok bool) {
	m, rest, ok := splitFirst(cloudTopic)
	if !ok || !ValidMAC(m) {
		return "", "", false
	}
	if rest != "device/response/client/04" && rest != "device/response/client/data" {
		return "", "", false
	}
	return LocalStateTopic(m), m, true
}

// ToCloudCommand maps a local command topic
// (`fossibot/<MAC>/command`) to its cloud equivalent.
func ToCloudCommand(localTopic string) (cloud string, mac string, ok bool) {
	const prefix = "fossibot/"
	const suffix = "/command"
	if len(localTopic) <= len(prefix)+len(suffix) {
		return "", "", false
	}
	if localTopic[:len(prefix)] != prefix || localTopic[len(localTopic)-len(suffix):] != suffix {
		return "", "", false
	}
	m := localTopic[len(prefix) : len(localTopic)-len(suffix)]
	if !ValidMAC(m) {
		return "", "", false
	}
	return CloudCommandTopic(m), m, true
}

// splitFirst splits topic on its first '/' separator.
func splitFirst(topic string) (head, rest string, ok bool) {
	for i := 0; i < len(topic); i++ {
		if topic[i] == '/' {
			return topic[:i], topic[i+1:], true
		}
	}
	return "", "", false
}
