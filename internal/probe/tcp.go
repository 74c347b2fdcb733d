package probe

import (
	"context"
	"fmt"
	"net"
	"strings"
)

// defaultGatewayPort is dialled when the target names only a host, which is
// how the gateway placeholder expands.
const defaultGatewayPort = "80"

type tcpProber struct {
	address string
	dial    func(ctx context.Context, network, address string) (net.Conn, error)
}

func newTCPProber(spec *TCPSpec) Prober {
	return &tcpProber{
		address: withDefaultPort(spec.Address),
		dial:    (&net.Dialer{}).DialContext,
	}
}

func (p *tcpProber) Probe(ctx context.Context) error {
	conn, err := p.dial(ctx, "tcp", p.address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.address, err)
	}
	return conn.Close()
}

func withDefaultPort(address string) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(strings.Trim(address, "[]"), defaultGatewayPort)
}
