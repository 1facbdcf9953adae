// Package notifications delivers pipeline lifecycle events via pluggable
// notifiers.
//
// The Kafka implementation publishes one JSON message per event to the topic
// configured in [events]; when events are disabled a no-op notifier is
// returned. Pipeline code depends only on the Service interface and treats
// delivery failures as warnings.
package notifications
