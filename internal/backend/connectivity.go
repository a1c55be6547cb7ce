package backend

import (
	"context"
	"net"
	"net/http"
	"time"
)

// Connectivity is the result of the two-step reachability check.
//
// Network-layer connectivity alone is not enough: a captive portal or a
// backend outage leaves the device "online" but unable to sync, so the
// server must be probed separately.
type Connectivity struct {
	HasNetwork      bool
	ServerReachable bool
}

// Online reports whether sync traffic can be attempted.
func (c Connectivity) Online() bool {
	return c.HasNetwork && c.ServerReachable
}

// NetProbe reports whether the device has any network connectivity.
// Injectable so platforms can supply their own notion of "has network";
// the default dials the backend host's TCP port.
type NetProbe func(ctx context.Context) bool

// CheckConnectivity verifies network connectivity and then server
// reachability with a HEAD request to the REST root.
//
// The probe deliberately avoids data queries: those can fail on auth or
// row policy even when the server is perfectly reachable. Any HTTP status
// at all, including 401/403, counts as reachable.
func (c *Client) CheckConnectivity(ctx context.Context, probe NetProbe) Connectivity {
	if probe == nil {
		probe = c.defaultNetProbe
	}
	if !probe(ctx) {
		return Connectivity{}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.BaseURL+"/rest/v1/", nil)
	if err != nil {
		return Connectivity{HasNetwork: true}
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Connectivity{HasNetwork: true}
	}
	resp.Body.Close()

	return Connectivity{HasNetwork: true, ServerReachable: true}
}

// defaultNetProbe dials the backend host to establish that some route to
// the network exists.
func (c *Client) defaultNetProbe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.BaseURL, nil)
	if err != nil {
		return false
	}

	host := req.URL.Host
	if req.URL.Port() == "" {
		if req.URL.Scheme == "http" {
			host += ":80"
		} else {
			host += ":443"
		}
	}

	d := net.Dialer{Timeout: 3 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
