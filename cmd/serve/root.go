package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	cmdUtil "github.com/ValentinKolb/dFront/cmd/util"
	"github.com/ValentinKolb/dFront/rpc/common"
	"github.com/ValentinKolb/dFront/rpc/server"
	"github.com/ValentinKolb/dFront/rpc/transport"
	"github.com/ValentinKolb/dFront/rpc/transport/tcp"
	"github.com/ValentinKolb/dFront/rpc/transport/unix"
	"github.com/ValentinKolb/dFront/rpc/transport/ws"
	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the dFront reference server",
		Long:    `Start the dFront reference server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DFRONT_<flag> (e.g. DFRONT_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the server will listen (e.g. localhost:8080, /tmp/dfront.sock, ...)"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout in seconds for writing responses and push events and for running actions"))

	key = "workers-per-conn"
	ServeCmd.PersistentFlags().Int(key, 16, cmdUtil.WrapString("Maximum number of requests processed concurrently per connection"))

	key = "buffer-size"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Size of the request read buffers in bytes (0 uses the default of the transport, ignored for ws)"))

	key = "ws-path"
	ServeCmd.PersistentFlags().String(key, ws.DefaultPath, cmdUtil.WrapString("The path of the websocket endpoint (only for ws)"))

	key = "seed"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("YAML file with the tables, singletons and query kinds the server starts with"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address of the Prometheus /metrics endpoint (e.g. localhost:9090). Empty disables it"))

	key = "metrics-log-interval"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Interval in seconds at which metrics are logged. 0 disables it"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.Transport = common.ServerTransportConfig{
		Endpoint:       viper.GetString("endpoint"),
		WorkersPerConn: viper.GetInt("workers-per-conn"),
		BufferSize:     viper.GetInt("buffer-size"),
		TCPConf:        common.TCPConf{TCPNoDelay: true, TCPLingerSec: -1},
		WSConf:         common.WSConf{WSPath: viper.GetString("ws-path")},
	}
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.SeedFile = viper.GetString("seed")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.MetricsLogIntervalSec = viper.GetInt("metrics-log-interval")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if serveCmdConfig.Transport.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}

	return cmdUtil.InitLogging()
}

// run starts the dFront server and, if configured, the metrics endpoint
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	// Parse the transport
	var t transport.IRPCServerTransport
	cfg := serveCmdConfig.Transport
	switch viper.GetString("transport") {
	case "tcp":
		t = tcp.NewTCPServerTransport(cfg.BufferSize, cfg.WorkersPerConn)
	case "unix":
		t = unix.NewUnixServerTransport(cfg.BufferSize, cfg.WorkersPerConn)
	case "ws":
		t = ws.NewWSServerTransport(cfg.WorkersPerConn)
	default:
		return fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}

	serv := server.NewRPCServer(*serveCmdConfig, t, s)

	ctx, stop := cmdUtil.SignalContext()
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(serv.Serve)

	var metricsServer *http.Server
	if serveCmdConfig.MetricsEndpoint != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
			metrics.WritePrometheus(w, true)
			serv.WriteMetrics(w)
		})
		metricsServer = &http.Server{Addr: serveCmdConfig.MetricsEndpoint, Handler: mux}
		g.Go(func() error {
			server.Logger.Infof("Serving metrics on http://%s/metrics", serveCmdConfig.MetricsEndpoint)
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	// shut everything down on a signal or on the first failure
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if metricsServer != nil {
			_ = metricsServer.Shutdown(shutdownCtx)
		}
		return serv.Close()
	})

	return g.Wait()
}
