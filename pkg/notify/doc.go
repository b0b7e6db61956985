// Package notify forwards alerts and captured errors out of the process.
//
// A Sink receives Events. LogSink writes them to the structured log,
// MQTTSink publishes them as JSON to <topic_prefix>/<type> on an MQTT
// broker and NopSink drops them. New picks one from the notify section of
// the configuration file.
package notify
