package someip

import "net"

// RoutingClient is the client identifier attached to every message the
// endpoint forwards to its host.
const RoutingClient uint16 = 0

// Metadata describes where a forwarded message came from.
type Metadata struct {
	// Destination is always the unspecified address for TCP client
	// endpoints.
	Destination net.IP
	// Client is the routing tag, RoutingClient.
	Client     uint16
	RemoteAddr net.IP
	RemotePort uint16
}

// Host receives the messages of an endpoint and owns its local port.
//
// Both methods are called from the endpoint's goroutines and must not block
// for long. The data slice passed to OnMessage is reused after the call
// returns.
type Host interface {
	// OnMessage is called once per received message, in stream order.
	OnMessage(data []byte, ep *Endpoint, meta Metadata)
	// ReleasePort is called once from Close, before the socket is closed,
	// with the port given by LocalPortOption. Endpoints using an ephemeral
	// local port never call it: the system owns that port.
	ReleasePort(port uint16, reliable bool)
}
