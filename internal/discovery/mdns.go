// ABOUTME: mDNS discovery for ingest servers
// ABOUTME: Advertises the WebSocket and RTP ingest endpoints and browses for them
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/log"
)

// ServiceType is the DNS-SD type of an ingest server.
const ServiceType = "_transcoder-ingest._tcp"

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	Path        string // WebSocket path, advertised in TXT
	RTPPort     int    // 0 when RTP ingest is off
}

// Manager handles mDNS operations
type Manager struct {
	config  Config
	ctx     context.Context
	cancel  context.CancelFunc
	servers chan *ServerInfo
	server  *mdns.Server
}

// ServerInfo describes a discovered ingest server
type ServerInfo struct {
	Name    string
	Host    string
	Port    int
	Path    string
	RTPPort int
}

// URL is the WebSocket endpoint of the server.
func (s *ServerInfo) URL() string {
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(s.Host, strconv.Itoa(s.Port)), s.Path)
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	if config.Path == "" {
		config.Path = "/ingest"
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		servers: make(chan *ServerInfo, 10),
	}
}

// TXT returns the TXT records advertised for this server.
func (m *Manager) TXT() []string {
	txt := []string{"path=" + m.config.Path}
	if m.config.RTPPort > 0 {
		txt = append(txt, "rtp="+strconv.Itoa(m.config.RTPPort))
	}
	return txt
}

// Advertise announces the ingest server until Stop is called.
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		m.TXT(),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}
	m.server = server

	log.Infof("Advertising mDNS service: %s on port %d (type: %s)", m.config.ServiceName, m.config.Port, ServiceType)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for ingest servers until Stop is called. Results arrive
// on Servers.
func (m *Manager) Browse() error {
	go m.browseLoop()
	return nil
}

// browseLoop continuously browses for servers
func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)
		done := make(chan struct{})

		go func() {
			defer close(done)
			for entry := range entries {
				server := parseEntry(entry)
				if server == nil {
					continue
				}
				log.Debugf("Discovered ingest server: %s at %s:%d", server.Name, server.Host, server.Port)

				select {
				case m.servers <- server:
				case <-m.ctx.Done():
				}
			}
		}()

		params := &mdns.QueryParam{
			Service:     ServiceType,
			Domain:      "local",
			Timeout:     3 * time.Second,
			Entries:     entries,
			DisableIPv6: true,
		}

		if err := mdns.Query(params); err != nil {
			log.Warnf("mDNS query failed: %v", err)
		}
		close(entries)
		<-done
	}
}

// Discover browses once and returns the first server found within timeout.
func Discover(ctx context.Context, timeout time.Duration) (*ServerInfo, error) {
	entries := make(chan *mdns.ServiceEntry, 10)
	found := make(chan *ServerInfo, 1)

	go func() {
		for entry := range entries {
			if s := parseEntry(entry); s != nil {
				select {
				case found <- s:
				default:
				}
			}
		}
	}()

	errc := make(chan error, 1)
	go func() {
		errc <- mdns.QueryContext(ctx, &mdns.QueryParam{
			Service:     ServiceType,
			Domain:      "local",
			Timeout:     timeout,
			Entries:     entries,
			DisableIPv6: true,
		})
		close(entries)
	}()

	select {
	case s := <-found:
		return s, nil
	case err := <-errc:
		select {
		case s := <-found:
			return s, nil
		default:
		}
		if err != nil {
			return nil, fmt.Errorf("mDNS query failed: %w", err)
		}
		return nil, fmt.Errorf("no ingest server found within %s", timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// parseEntry turns a service entry into a ServerInfo, or nil when the
// entry has no usable IPv4 address.
func parseEntry(entry *mdns.ServiceEntry) *ServerInfo {
	if entry.AddrV4 == nil {
		return nil
	}
	s := &ServerInfo{
		Name: strings.TrimSuffix(entry.Name, "."+ServiceType+".local."),
		Host: entry.AddrV4.String(),
		Port: entry.Port,
		Path: "/ingest",
	}
	for _, field := range entry.InfoFields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "path":
			s.Path = value
		case "rtp":
			if p, err := strconv.Atoi(value); err == nil {
				s.RTPPort = p
			}
		}
	}
	return s
}

// Servers returns the channel of discovered servers
func (m *Manager) Servers() <-chan *ServerInfo {
	return m.servers
}

// Stop stops the discovery manager
func (m *Manager) Stop() {
	m.cancel()
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
