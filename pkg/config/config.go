package config

import (
	"net"
	"strconv"
)

// this holds the resolved configuration values from CLI
//
//nolint:lll // readablity
var (
	OutputFolder      string // folder receiving the session files
	Addr              string // host/ip to listen on for telemetry
	Port              int    // udp port to listen on for telemetry
	Verbose           bool   // log every received sample
	SinkMode          string // buffered or stream
	FlushEvery        int    // rows between flushes (stream sink)
	ExitOnEmpty       bool   // stop recording when an empty datagram is received
	CommitOnShutdown  bool   // store an open session on shutdown
	StatusAddr        string // listen addr for the status endpoint, empty disables it
	StatusTLSCert     string // path to TLS certificate for status endpoint
	StatusTLSKey      string // path to TLS key for status endpoint
	TraefikCerts      string // path to traefik acme storage file
	TraefikCertDomain string // the domain to lookup within the traefik certs
	NatsURL           string // NATS server url(s), empty disables notifications
	NatsSubjectPrefix string // prefix for NATS subjects
	NatsIndexBucket   string // name of the KV bucket for session events, empty disables it
	PositionInterval  string // interval for position updates via NATS
	WaitForServices   string // duration to wait for other services to be ready
	LogLevel          string // sets the log level (zap log level values)
	LogFormat         string // text vs json
	LogFilter         string // zapfilter rules, e.g. "info+:* debug+:ingest"
	EnableTelemetry   bool   // enable telemetry
	TelemetryEndpoint string // endpoint for telemetry ("stdout" prints to console)
	ProfilingPort     int    // port for profiling
)

// Config holds the effective settings of the record command.
// It is printed with --print-config.
type Config struct {
	OutputFolder     string `yaml:"folder"`
	Listen           string `yaml:"listen"`
	Sink             string `yaml:"sink"`
	FlushEvery       int    `yaml:"flushEvery"`
	ExitOnEmpty      bool   `yaml:"exitOnEmpty"`
	CommitOnShutdown bool   `yaml:"commitOnShutdown"`
	StatusAddr       string `yaml:"statusAddr,omitempty"`
	NatsURL          string `yaml:"natsUrl,omitempty"`
	NatsPrefix       string `yaml:"natsSubjectPrefix,omitempty"`
	LogLevel         string `yaml:"logLevel"`
	LogFormat        string `yaml:"logFormat"`
	Telemetry        bool   `yaml:"telemetry"`
}

// Current collects the resolved values into a Config.
func Current() Config {
	return Config{
		OutputFolder:     OutputFolder,
		Listen:           ListenAddr(),
		Sink:             SinkMode,
		FlushEvery:       FlushEvery,
		ExitOnEmpty:      ExitOnEmpty,
		CommitOnShutdown: CommitOnShutdown,
		StatusAddr:       StatusAddr,
		NatsURL:          NatsURL,
		NatsPrefix:       NatsSubjectPrefix,
		LogLevel:         LogLevel,
		LogFormat:        LogFormat,
		Telemetry:        EnableTelemetry,
	}
}

// ListenAddr is the udp address built from Addr and Port.
func ListenAddr() string {
	return net.JoinHostPort(Addr, strconv.Itoa(Port))
}
