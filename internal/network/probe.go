package network

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"
)

const defaultProbeTimeout = 3 * time.Second

// HealthProber derives Connected from the local interface table and
// Reachable from a GET against the backend's health endpoint.
type HealthProber struct {
	URL        string
	HTTPClient *http.Client
	Timeout    time.Duration

	// interfacesUp reports whether a usable interface exists. Replaced in
	// tests.
	interfacesUp func() bool
}

// NewHealthProber probes healthURL with the given client. A nil client
// uses http.DefaultClient.
func NewHealthProber(healthURL string, httpClient *http.Client) *HealthProber {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HealthProber{
		URL:          healthURL,
		HTTPClient:   httpClient,
		Timeout:      defaultProbeTimeout,
		interfacesUp: hasUsableInterface,
	}
}

// Probe implements Prober. Any HTTP answer below 500 counts as reachable.
func (p *HealthProber) Probe(ctx context.Context) Status {
	var st Status

	if p.interfacesUp() {
		st.Connected = Online
	} else {
		st.Connected = Offline
		st.Reachable = Offline
		return st
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		st.Reachable = Offline
		return st
	}

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		st.Reachable = Offline
		return st
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		st.Reachable = Offline
	} else {
		st.Reachable = Online
	}

	return st
}

func hasUsableInterface() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true
		}
	}

	return false
}
