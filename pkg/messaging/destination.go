package messaging

import "strings"

// TopicTagSeparator delimits topic and tag in a composite destination.
const TopicTagSeparator = ":"

// WithTopicAndTag builds a composite destination. An empty tag yields the bare topic.
func WithTopicAndTag(topic, tag string) string {
	if tag == "" {
		return topic
	}
	return topic + TopicTagSeparator + tag
}

// ExtractTopic returns everything before the first separator.
func ExtractTopic(destination string) string {
	topic, _, _ := strings.Cut(destination, TopicTagSeparator)
	return topic
}

// ExtractTag returns everything after the first separator, or "" when there is none.
func ExtractTag(destination string) string {
	_, tag, _ := strings.Cut(destination, TopicTagSeparator)
	return tag
}
