package util

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ValentinKolb/dFront/lib/datafront"
	"github.com/ValentinKolb/dFront/rpc/client"
	"github.com/ValentinKolb/dFront/rpc/common"
	"github.com/ValentinKolb/dFront/rpc/serializer"
	"github.com/ValentinKolb/dFront/rpc/transport"
	"github.com/ValentinKolb/dFront/rpc/transport/tcp"
	"github.com/ValentinKolb/dFront/rpc/transport/unix"
	"github.com/ValentinKolb/dFront/rpc/transport/ws"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Logger = logger.GetLogger("cli")

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupRPCClientFlags adds common RPC connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of the client"))

	key = "transport-endpoints"
	cmd.PersistentFlags().String(key, "localhost:8080", WrapString("The address of the dFront server. Multiple endpoints can be specified as a comma-separated list"))

	key = "transport-conn-per-endpoint"
	cmd.PersistentFlags().Int(key, 1, WrapString("Simultaneous connections per endpoint (ignored for ws)"))

	key = "transport-retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times to retry a request"))

	key = "transport-write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the write buffer for the transport (in KB)"))

	key = "transport-read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the read buffer for the transport (in KB)"))

	key = "transport-tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY for the transport (only for tcp)"))

	key = "transport-tcp-keepalive"
	cmd.PersistentFlags().Int(key, 30, WrapString("The keepalive interval for the transport (in seconds, only for tcp)"))

	key = "transport-tcp-linger"
	cmd.PersistentFlags().Int(key, 0, WrapString("The linger time for the transport (in seconds, only for tcp)"))

	key = "transport-ws-path"
	cmd.PersistentFlags().String(key, ws.DefaultPath, WrapString("The path of the websocket endpoint (only for ws)"))

	key = "transport-ws-ping"
	cmd.PersistentFlags().Int(key, 15, WrapString("Ping interval of idle websocket connections (in seconds, only for ws)"))
}

// InitConfig loads .env files and binds environment variables with the
// DFRONT_ prefix
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dfront")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	return &common.ClientConfig{
		TimeoutSecond: viper.GetInt("timeout"),
		Transport: common.ClientTransportConfig{
			RetryCount:             viper.GetInt("transport-retries"),
			Endpoints:              strings.Split(viper.GetString("transport-endpoints"), ","),
			ConnectionsPerEndpoint: viper.GetInt("transport-conn-per-endpoint"),
			SocketConf: common.SocketConf{
				WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
				ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
			},
			TCPConf: common.TCPConf{
				TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
				TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
				TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
			},
			WSConf: common.WSConf{
				WSPath:          viper.GetString("transport-ws-path"),
				PingIntervalSec: viper.GetInt("transport-ws-ping"),
			},
		},
	}
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	switch viper.GetString("serializer") {
	case "json":
		return serializer.NewJSONSerializer(), nil
	case "gob":
		return serializer.NewGOBSerializer(), nil
	default:
		return nil, fmt.Errorf("invalid serializer %s", viper.GetString("serializer"))
	}
}

// GetTransport creates transport based on configuration
func GetTransport() (transport.IRPCClientTransport, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPClientTransport(), nil
	case "unix":
		return unix.NewUnixClientTransport(), nil
	case "ws":
		return ws.NewWSClientTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// InitLogging applies the configured log level
func InitLogging() error {
	return common.InitLoggers(viper.GetString("log-level"))
}

// NewDatafront binds the flags of cmd, connects to the server and returns a
// started datafront client
func NewDatafront(cmd *cobra.Command) (*datafront.Client, error) {
	if err := BindCommandFlags(cmd); err != nil {
		return nil, err
	}
	if err := InitLogging(); err != nil {
		return nil, err
	}

	config := GetClientConfig()

	s, err := GetSerializer()
	if err != nil {
		return nil, err
	}

	t, err := GetTransport()
	if err != nil {
		return nil, err
	}

	rpc, err := client.NewRPCTransport(*config, t, s)
	if err != nil {
		return nil, err
	}

	df := datafront.New(rpc, datafront.Config{
		SweepInterval:  datafront.DefaultConfig().SweepInterval,
		RequestTimeout: time.Duration(config.TimeoutSecond) * time.Second,
	})
	df.Start()
	return df, nil
}

// SignalContext returns a context canceled on SIGINT or SIGTERM
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// ParsePayload decodes a JSON command line argument. An empty argument is a
// nil payload.
func ParsePayload(arg string) (any, error) {
	if strings.TrimSpace(arg) == "" {
		return nil, nil
	}
	var payload any
	if err := json.Unmarshal([]byte(arg), &payload); err != nil {
		return nil, fmt.Errorf("payload must be valid JSON: %w", err)
	}
	return payload, nil
}

// PrintJSON writes v as indented JSON to stdout
func PrintJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

// Watch calls fn once and again after every signal on changed until ctx is
// done. fn returns false to stop watching.
func Watch(ctx context.Context, changed <-chan struct{}, fn func() bool) {
	if !fn() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-changed:
			if !fn() {
				return
			}
		}
	}
}
