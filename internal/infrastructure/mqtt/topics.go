package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes used by the history service.
const (
	// TopicPrefix is the root of every Gray Logic topic.
	TopicPrefix = "graylogic"

	// TopicPrefixHistory is the base for history status topics.
	TopicPrefixHistory = "graylogic/history"

	// TopicPrefixHistoryCommand is the base for history refresh requests.
	TopicPrefixHistoryCommand = "graylogic/command/history"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "graylogic/system"
)

// Topics provides builders for the MQTT topics the history service uses.
//
//	topics := mqtt.Topics{}
//	statusTopic := topics.HistoryStatus("res-electricity")
//	// Returns: "graylogic/history/res-electricity/status"
type Topics struct{}

// HistoryStatus returns the retained status topic of a channel.
//
// Example: graylogic/history/res-electricity/status
func (Topics) HistoryStatus(resourceID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixHistory, resourceID)
}

// HistoryCommand returns the topic that requests a refresh of a channel.
//
// Example: graylogic/command/history/res-electricity
func (Topics) HistoryCommand(resourceID string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixHistoryCommand, resourceID)
}

// AllHistoryCommands returns a pattern matching refresh requests for every
// channel.
//
// Pattern: graylogic/command/history/+
func (Topics) AllHistoryCommands() string {
	return TopicPrefixHistoryCommand + "/+"
}

// ParseHistoryCommand extracts the resource ID from a refresh topic.
// It reports false for topics outside the command prefix or with an empty
// or multi-level resource segment.
func (Topics) ParseHistoryCommand(topic string) (string, bool) {
	resourceID, ok := strings.CutPrefix(topic, TopicPrefixHistoryCommand+"/")
	if !ok || resourceID == "" || strings.Contains(resourceID, "/") {
		return "", false
	}
	return resourceID, true
}

// SystemStatus returns the system status topic.
//
// Example: graylogic/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}
