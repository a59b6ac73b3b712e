package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics
var (
	MessagesConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_consumed_total",
			Help: "Total number of broker messages resolved, by outcome",
		},
		[]string{"outcome"}, // acked, rejected
	)

	MessageFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_message_failures_total",
			Help: "Total number of failed message processing attempts, by stage",
		},
		[]string{"stage"}, // parse, render, send
	)

	MessageProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_message_processing_duration_seconds",
			Help:    "Duration of one message from receipt to ack or reject",
			Buckets: prometheus.DefBuckets,
		},
	)

	BrokerResolveErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_broker_resolve_errors_total",
			Help: "Total number of failed ack or reject calls",
		},
		[]string{"op"}, // ack, reject
	)
)

// Mail metrics
var (
	MailSendTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_mail_send_total",
			Help: "Total number of mail send attempts, by result and error kind",
		},
		[]string{"result", "kind"},
	)

	MailSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_mail_send_duration_seconds",
			Help:    "Duration of SMTP send operations",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Audit metrics
var (
	AuditRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_audit_records_total",
			Help: "Total number of audit records written, by status and source",
		},
		[]string{"status", "source"},
	)

	AuditWriteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_audit_write_failures_total",
			Help: "Total number of audit writes that failed",
		},
	)
)

// Broker connection metrics
var (
	BrokerConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_broker_connected",
			Help: "1 when the consumer holds a live broker connection",
		},
	)

	BrokerReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_broker_reconnects_total",
			Help: "Total number of broker reconnect attempts, by result",
		},
		[]string{"result"}, // success, failure
	)
)

// API metrics
var (
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_api_request_duration_seconds",
			Help:    "Duration of API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
