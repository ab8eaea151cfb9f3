package mqtt

// Topic layout for the Neewer control daemon.
//
//	neewer/system/status   - retained daemon online/offline status (LWT)
//	neewer/lights/status   - retained full status snapshot, updated on change
//	neewer/command         - inbound commands (target + levels or power)
const (
	topicPrefix = "neewer"

	// TopicSystemStatus carries daemon online/offline status, retained.
	TopicSystemStatus = topicPrefix + "/system/status"

	// TopicLightsStatus carries the full light status snapshot, retained.
	TopicLightsStatus = topicPrefix + "/lights/status"

	// TopicCommand receives inbound command payloads.
	TopicCommand = topicPrefix + "/command"
)
