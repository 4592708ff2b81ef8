package telemetry

// Config selects the trace exporter target and how aggressively to
// sample. Values come from the daemon's telemetry configuration block.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// Endpoint is the OTLP/gRPC collector address, host:port.
	Endpoint string

	// Insecure disables TLS toward the collector; local collectors
	// usually run without it.
	Insecure bool

	// SampleRate keeps this fraction of traces, 0 through 1.
	SampleRate float64
}
