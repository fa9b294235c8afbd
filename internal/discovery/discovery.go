// Package discovery advertises the control API on the local network over
// mDNS/DNS-SD.
package discovery

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/grandcat/zeroconf"
)

const (
	ServiceType = "_deskstream._tcp"
	Domain      = "local."
)

var ErrInvalidPort = errors.New("invalid advertised port")

// Options describes what to advertise.
type Options struct {
	// Instance is the DNS-SD instance name, hostname when empty.
	Instance string
	// Addr is the API listen address, e.g. ":8090" or "0.0.0.0:8090".
	Addr string
	// Text is published as key=value TXT records.
	Text   map[string]string
	Logger *slog.Logger
}

// register is swapped in tests to avoid touching the network.
var register = func(instance, service, domain string, port int, text []string) (shutdowner, error) {
	return zeroconf.Register(instance, service, domain, port, text, nil)
}

type shutdowner interface {
	Shutdown()
}

// Advertiser owns one mDNS registration.
type Advertiser struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	server shutdowner
}

// New validates opts and returns an idle Advertiser.
func New(opts Options) (*Advertiser, error) {
	if _, err := parsePort(opts.Addr); err != nil {
		return nil, err
	}
	if opts.Instance == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "deskstream"
		}
		opts.Instance = host
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Advertiser{opts: opts, logger: logger}, nil
}

// Start publishes the service. Calling it again while running is a no-op.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		return nil
	}

	port, _ := parsePort(a.opts.Addr)
	server, err := register(a.opts.Instance, ServiceType, Domain, port, txtRecords(a.opts.Text))
	if err != nil {
		return fmt.Errorf("register %s: %w", ServiceType, err)
	}
	a.server = server
	a.logger.Info("mDNS advertisement started", "instance", a.opts.Instance, "service", ServiceType, "port", port)
	return nil
}

// Stop withdraws the advertisement.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	server := a.server
	a.server = nil
	a.mu.Unlock()

	if server != nil {
		server.Shutdown()
		a.logger.Info("mDNS advertisement stopped")
	}
}

// parsePort extracts the port from a listen address.
func parsePort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidPort, addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPort, addr)
	}
	return port, nil
}

// txtRecords renders text sorted by key so the record set is stable.
func txtRecords(text map[string]string) []string {
	keys := make([]string, 0, len(text))
	for k := range text {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+text[k])
	}
	return out
}
