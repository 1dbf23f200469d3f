package app

import (
	"net"
	"net/http"
	"time"
)

// newProbeHTTPClient returns an HTTP client tuned for many short requests
// fanned out across hosts. Per-request deadlines are applied by the fetcher,
// so the client-level timeout only guards against hangs.
func newProbeHTTPClient(concurrency int) *http.Client {
	perHost := concurrency
	if perHost < 2 {
		perHost = 2
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          0, // no global limit
		MaxIdleConnsPerHost:   perHost,
		MaxConnsPerHost:       0,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}
