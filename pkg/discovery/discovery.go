// Package discovery advertises a registry on the local network over mDNS
// and lets peers find one without knowing its address.
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"

	"tarun-kavipurapu/p2p-share/pkg/logger"
)

const (
	// ServiceType defines the mDNS service type for p2p-share registries
	ServiceType = "_p2p-share._tcp"
	// Domain is the local domain for mDNS
	Domain = "local."
)

// Registry describes one advertised registry.
type Registry struct {
	InstanceName string
	HostName     string
	Port         int
	IPs          []string
	Meta         map[string]string
}

// Endpoint returns host:port using the first advertised IPv4 address.
func (r *Registry) Endpoint() string {
	if len(r.IPs) == 0 {
		return ""
	}
	return net.JoinHostPort(r.IPs[0], strconv.Itoa(r.Port))
}

// Advertiser handles service broadcasting
type Advertiser struct {
	server *zeroconf.Server
}

func NewAdvertiser() *Advertiser {
	return &Advertiser{}
}

// Start begins broadcasting a registry listening on port.
func (a *Advertiser) Start(instanceName string, port int, meta map[string]string) error {
	if instanceName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			instanceName = "p2p-registry"
		} else {
			instanceName = fmt.Sprintf("p2p-registry-%s", hostname)
		}
	}

	txtRecords := make([]string, 0, len(meta))
	for k, v := range meta {
		txtRecords = append(txtRecords, fmt.Sprintf("%s=%s", k, v))
	}

	server, err := zeroconf.Register(instanceName, ServiceType, Domain, port, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}
	a.server = server
	return nil
}

// Stop stops broadcasting the service
func (a *Advertiser) Stop() {
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// Resolver handles service discovery
type Resolver struct {
	resolver *zeroconf.Resolver
}

func NewResolver() (*Resolver, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}
	return &Resolver{resolver: resolver}, nil
}

// Browse reports registries until ctx is done. Entries without an IPv4
// address are dropped: peers can only reach registries over IPv4.
func (r *Resolver) Browse(ctx context.Context) (<-chan *Registry, error) {
	entries := make(chan *zeroconf.ServiceEntry)
	results := make(chan *Registry, 10)

	if err := r.resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse services: %w", err)
	}

	go func() {
		defer close(results)

		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				reg := fromEntry(entry)
				if len(reg.IPs) == 0 {
					continue
				}
				logger.Sugar.Infof("[Discovery] found registry: instance=%s ips=%v port=%d", reg.InstanceName, reg.IPs, reg.Port)
				select {
				case results <- reg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return results, nil
}

func fromEntry(entry *zeroconf.ServiceEntry) *Registry {
	reg := &Registry{
		InstanceName: entry.Instance,
		HostName:     entry.HostName,
		Port:         entry.Port,
		IPs:          make([]string, 0, len(entry.AddrIPv4)),
		Meta:         parseTXT(entry.Text),
	}
	for _, ip := range entry.AddrIPv4 {
		reg.IPs = append(reg.IPs, ip.String())
	}
	return reg
}

func parseTXT(records []string) map[string]string {
	meta := make(map[string]string, len(records))
	for _, record := range records {
		parts := strings.SplitN(record, "=", 2)
		if len(parts) == 2 {
			meta[parts[0]] = parts[1]
		}
	}
	return meta
}
