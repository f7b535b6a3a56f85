package mqtt

import "fmt"

// TopicPrefix is the root of every radiolink topic.
const TopicPrefix = "radiolink"

// Topics provides builders for radiolink MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.Data("0013A20040A1E77E")
//	// Returns: "radiolink/data/0013A20040A1E77E"
type Topics struct{}

// Data returns the topic payloads received from a peer are published on.
//
// Example: radiolink/data/0013A20040A1E77E
func (Topics) Data(addr64 string) string {
	return fmt.Sprintf("%s/data/%s", TopicPrefix, addr64)
}

// Peer returns the retained topic holding a peer's registry record.
//
// Example: radiolink/peer/0013A20040A1E77E
func (Topics) Peer(addr64 string) string {
	return fmt.Sprintf("%s/peer/%s", TopicPrefix, addr64)
}

// CommandSend returns the topic send requests arrive on.
func (Topics) CommandSend() string {
	return TopicPrefix + "/command/send"
}

// CommandDiscover returns the topic discovery requests arrive on.
func (Topics) CommandDiscover() string {
	return TopicPrefix + "/command/discover"
}

// Response returns the topic the outcome of a command is published on.
//
// Example: radiolink/response/req-abc123
func (Topics) Response(requestID string) string {
	return fmt.Sprintf("%s/response/%s", TopicPrefix, requestID)
}

// Health returns the retained gateway health topic. It also carries the
// Last Will and Testament.
func (Topics) Health() string {
	return TopicPrefix + "/health"
}

// AllCommands matches every command topic.
//
// Pattern: radiolink/command/+
func (Topics) AllCommands() string {
	return TopicPrefix + "/command/+"
}

// AllData matches every peer data topic.
//
// Pattern: radiolink/data/+
func (Topics) AllData() string {
	return TopicPrefix + "/data/+"
}

// AllPeers matches every retained peer record.
//
// Pattern: radiolink/peer/+
func (Topics) AllPeers() string {
	return TopicPrefix + "/peer/+"
}
