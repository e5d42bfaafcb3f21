package tcp

import (
	"fmt"
	"net"

	"github.com/ValentinKolb/dFront/rpc/common"
	"github.com/ValentinKolb/dFront/rpc/transport"
	"github.com/ValentinKolb/dFront/rpc/transport/base"
)

const (
	DefaultBufferSize = 512 * 1024 // 512 KB
)

// serverConnector implements the IServerConnector interface for TCP sockets
type serverConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IServerConnector)
// --------------------------------------------------------------------------

func (c *serverConnector) GetName() string {
	return "tcp"
}

func (c *serverConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	listener, err := net.Listen("tcp", config.Transport.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create TCP socket: %v", err)
	}

	return listener, nil
}

func (c *serverConnector) UpgradeConnection(conn net.Conn, config common.ServerConfig) error {
	return upgrade(conn, config.Transport.SocketConf, config.Transport.TCPConf)
}

// --------------------------------------------------------------------------
// Server Transport Factory Method
// --------------------------------------------------------------------------

// NewTCPServerTransport creates a new TCP server transport. A bufferSize of 0
// selects DefaultBufferSize.
func NewTCPServerTransport(bufferSize, workersPerConn int) transport.IRPCServerTransport {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return base.NewBaseServerTransport(&serverConnector{}, bufferSize, workersPerConn)
}
