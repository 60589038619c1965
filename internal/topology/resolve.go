package topology

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"
)

// ResolveContactPoint expands a contact point into one or more IP
// addresses. A literal IP, with or without a port, is returned unchanged. A
// hostname goes through the system resolver when resolverAddr is empty, and
// through direct DNS A/AAAA queries against resolverAddr otherwise; either
// way the resolved addresses come back without a port.
func ResolveContactPoint(ctx context.Context, contactPoint, resolverAddr string) ([]string, error) {
	host := contactPoint
	if h, _, err := net.SplitHostPort(contactPoint); err == nil {
		host = h
	}
	if net.ParseIP(host) != nil {
		return []string{contactPoint}, nil
	}
	if resolverAddr == "" {
		addrs, err := net.DefaultResolver.LookupHost(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("resolve contact point %s: %w", contactPoint, err)
		}
		return addrs, nil
	}
	return resolveViaDNS(ctx, host, resolverAddr)
}

func resolveViaDNS(ctx context.Context, host, resolverAddr string) ([]string, error) {
	fqdn := dns.Fqdn(host)
	client := new(dns.Client)

	var out []string
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(fqdn, qtype)
		resp, _, err := client.ExchangeContext(ctx, msg, resolverAddr)
		if err != nil {
			continue
		}
		for _, ans := range resp.Answer {
			switch rr := ans.(type) {
			case *dns.A:
				out = append(out, rr.A.String())
			case *dns.AAAA:
				out = append(out, rr.AAAA.String())
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no A/AAAA records for %s via %s", strings.TrimSuffix(fqdn, "."), resolverAddr)
	}
	return out, nil
}
