package metrics

// GatewayMetrics are the series the development gateway records.
type GatewayMetrics struct {
	collector *MetricsCollector

	StreamsTotal    *Counter
	StreamsFailed   *Counter
	RateLimited     *Counter
	DeltasTotal     *Counter
	MessagesStored  *Counter
	Uploads         *Counter
	ActiveStreams   *Gauge
	ResponseLatency *Histogram
}

func NewGatewayMetrics(c *MetricsCollector) *GatewayMetrics {
	return &GatewayMetrics{
		collector:      c,
		StreamsTotal:   c.Counter("recruitbot_streams_total", "Total chat streams opened", ""),
		StreamsFailed:  c.Counter("recruitbot_streams_failed_total", "Chat streams that ended with an error frame", ""),
		RateLimited:    c.Counter("recruitbot_rate_limited_total", "Chat streams rejected by the per-owner rate limit", ""),
		DeltasTotal:    c.Counter("recruitbot_stream_deltas_total", "Text frames written to chat streams", ""),
		MessagesStored: c.Counter("recruitbot_messages_stored_total", "Messages persisted", ""),
		Uploads:        c.Counter("recruitbot_attachment_uploads_total", "Attachments uploaded", ""),
		ActiveStreams:  c.Gauge("recruitbot_active_streams", "Chat streams currently open", ""),
		ResponseLatency: c.Histogram("recruitbot_response_seconds", "Time to produce a full assistant reply", "",
			[]float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}),
	}
}

// Collector returns the underlying collector for rendering.
func (m *GatewayMetrics) Collector() *MetricsCollector { return m.collector }

// ResponderRequests returns the per-responder request counter.
func (m *GatewayMetrics) ResponderRequests(responder string) *Counter {
	return m.collector.Counter("recruitbot_responder_requests_total", "Responder invocations", `responder="`+responder+`"`)
}
