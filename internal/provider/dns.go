package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/NordCoder/Pulsewatch/internal/domain/monitor"
)

const defaultResolver = "1.1.1.1"

type dnsPayload struct {
	Hostname   string `json:"hostname"`
	Resolver   string `json:"resolver"`
	Port       int    `json:"port"`
	RecordType string `json:"recordType"`
	Transport  string `json:"transport"`
	Expected   string `json:"expected"`
	Timeout    int    `json:"timeout"`
}

// DNS resolves a record through a chosen resolver and reports the round trip.
type DNS struct {
	resolver string
}

// NewDNS uses resolver as the default server; an empty value means 1.1.1.1.
func NewDNS(resolver string) *DNS {
	if resolver == "" {
		resolver = defaultResolver
	}
	return &DNS{resolver: resolver}
}

func (d *DNS) Run(ctx context.Context, m *monitor.Monitor) (float64, error) {
	var p dnsPayload
	if err := m.Payload.Decode(&p); err != nil {
		return 0, err
	}
	if p.Hostname == "" {
		return 0, errors.New("hostname is required")
	}
	rt := strings.ToUpper(p.RecordType)
	if rt == "" {
		rt = "A"
	}
	qtype, ok := dns.StringToType[rt]
	if !ok {
		return 0, fmt.Errorf("unsupported record type %q", p.RecordType)
	}
	server := p.Resolver
	if server == "" {
		server = d.resolver
	}
	port := p.Port
	if port == 0 {
		port = 53
	}
	network := strings.ToLower(p.Transport)
	if network != "tcp" {
		network = "udp"
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(p.Hostname), qtype)
	msg.RecursionDesired = true

	c := &dns.Client{Net: network, Timeout: secondsOr(p.Timeout, 5*time.Second)}
	in, rtt, err := c.ExchangeContext(ctx, msg, net.JoinHostPort(server, strconv.Itoa(port)))
	if err != nil {
		return 0, err
	}
	if in.Rcode != dns.RcodeSuccess {
		return 0, fmt.Errorf("resolver answered %s", dns.RcodeToString[in.Rcode])
	}
	if len(in.Answer) == 0 {
		return 0, fmt.Errorf("no %s records for %s", rt, p.Hostname)
	}
	if p.Expected != "" && !answerContains(in.Answer, p.Expected) {
		return 0, fmt.Errorf("no %s record matches %q", rt, p.Expected)
	}
	return latencyValue(rtt), nil
}

func answerContains(rrs []dns.RR, want string) bool {
	for _, rr := range rrs {
		var v string
		switch r := rr.(type) {
		case *dns.A:
			v = r.A.String()
		case *dns.AAAA:
			v = r.AAAA.String()
		case *dns.CNAME:
			v = r.Target
		case *dns.MX:
			v = r.Mx
		case *dns.NS:
			v = r.Ns
		case *dns.TXT:
			v = strings.Join(r.Txt, "")
		default:
			v = rr.String()
		}
		if strings.Contains(strings.TrimSuffix(v, "."), strings.TrimSuffix(want, ".")) {
			return true
		}
	}
	return false
}
