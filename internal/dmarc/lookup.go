package dmarc

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	mdns "github.com/miekg/dns"
)

// defaultTimeout applies when resolv.conf cannot be read.
const defaultTimeout = 5 * time.Second

// fallbackNameserver is used when resolv.conf lists no servers.
const fallbackNameserver = "8.8.8.8:53"

// ednsBufferSize is the UDP payload size advertised with EDNS0.
const ednsBufferSize = 4096

// DNSLookuper queries a single nameserver with github.com/miekg/dns. It
// sends one UDP query per lookup and never retries; a truncated answer is
// repeated once over TCP.
type DNSLookuper struct {
	nameserver string
	client     *mdns.Client
	tcpClient  *mdns.Client
}

// NewDNSLookuper creates a lookuper for the given nameserver ("host:port").
// An empty nameserver or zero timeout takes the host's resolv.conf values.
func NewDNSLookuper(nameserver string, timeout time.Duration) *DNSLookuper {
	sysServer, sysTimeout := systemResolver()
	if nameserver == "" {
		nameserver = sysServer
	}
	if timeout == 0 {
		timeout = sysTimeout
	}
	if _, _, err := net.SplitHostPort(nameserver); err != nil {
		nameserver = net.JoinHostPort(nameserver, "53")
	}

	return &DNSLookuper{
		nameserver: nameserver,
		client:     &mdns.Client{Timeout: timeout},
		tcpClient:  &mdns.Client{Net: "tcp", Timeout: timeout},
	}
}

// Nameserver returns the server this lookuper queries.
func (l *DNSLookuper) Nameserver() string {
	return l.nameserver
}

// LookupTXT implements TXTLookuper.
func (l *DNSLookuper) LookupTXT(ctx context.Context, name string) ([]string, error) {
	m := new(mdns.Msg)
	m.SetQuestion(mdns.Fqdn(name), mdns.TypeTXT)
	m.RecursionDesired = true
	m.SetEdns0(ednsBufferSize, false)

	resp, _, err := l.client.ExchangeContext(ctx, m, l.nameserver)
	if resp != nil && resp.Truncated {
		resp, _, err = l.tcpClient.ExchangeContext(ctx, m, l.nameserver)
	}
	if err != nil {
		return nil, fmt.Errorf("dns query failed: %w", err)
	}

	switch resp.Rcode {
	case mdns.RcodeSuccess:
	case mdns.RcodeNameError:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("dns query for %s returned %s", name, mdns.RcodeToString[resp.Rcode])
	}

	var records []string
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*mdns.TXT); ok {
			records = append(records, strings.Join(txt.Txt, ""))
		}
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return records, nil
}

// systemResolver reads the first nameserver and timeout from resolv.conf.
func systemResolver() (string, time.Duration) {
	cfg, err := mdns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cfg.Servers) == 0 {
		return fallbackNameserver, defaultTimeout
	}
	timeout := defaultTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return net.JoinHostPort(cfg.Servers[0], cfg.Port), timeout
}
