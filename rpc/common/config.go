package common

import (
	"fmt"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Transport tuning
// --------------------------------------------------------------------------

// SocketConf holds socket buffer settings shared by tcp and unix transports.
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds tcp specific settings.
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// WSConf holds websocket specific settings.
type WSConf struct {
	// Path the websocket endpoint is served on
	WSPath string
	// PingIntervalSec is the interval of keep-alive pings on idle connections
	PingIntervalSec int
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerTransportConfig holds the transport settings of the server.
type ServerTransportConfig struct {
	Endpoint       string
	WorkersPerConn int
	BufferSize     int
	SocketConf
	TCPConf
	WSConf
}

// ServerConfig holds all configuration parameters of the reference server.
type ServerConfig struct {
	Transport ServerTransportConfig

	// timeout for writing responses and push events
	TimeoutSecond int64

	// Metrics
	MetricsEndpoint       string
	MetricsLogIntervalSec int

	// Dataset loaded at startup
	SeedFile string

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("RPC Server")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Workers / Connection", strconv.Itoa(c.Transport.WorkersPerConn))

	addSection("Data")
	if c.SeedFile == "" {
		addField("Seed File", "-")
	} else {
		addField("Seed File", c.SeedFile)
	}

	addSection("Metrics")
	if c.MetricsEndpoint == "" {
		addField("Endpoint", "disabled")
	} else {
		addField("Endpoint", c.MetricsEndpoint)
	}
	addField("Log Interval", fmt.Sprintf("%d sec", c.MetricsLogIntervalSec))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientTransportConfig holds the transport settings of the client.
type ClientTransportConfig struct {
	Endpoints              []string
	RetryCount             int
	ConnectionsPerEndpoint int
	SocketConf
	TCPConf
	WSConf
}

// ClientConfig holds all configuration parameters of an RPC client.
type ClientConfig struct {
	Transport     ClientTransportConfig
	TimeoutSecond int
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.Transport.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(max(1, c.Transport.ConnectionsPerEndpoint)))

	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
