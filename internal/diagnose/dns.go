package diagnose

import (
	"context"
	"fmt"
	"time"

	"github.com/miekg/dns"
)

// DNSAnswer is the outcome of one A query against one resolver.
type DNSAnswer struct {
	Resolver string
	Addrs    []string
	RTT      time.Duration
	Err      string
}

// Resolve queries every resolver for the A records of host.
func Resolve(ctx context.Context, host string, resolvers []string, timeout time.Duration) []DNSAnswer {
	client := &dns.Client{Timeout: timeout}
	answers := make([]DNSAnswer, 0, len(resolvers))

	for _, resolver := range resolvers {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(host), dns.TypeA)

		ans := DNSAnswer{Resolver: resolver}
		in, rtt, err := client.ExchangeContext(ctx, msg, resolver)
		ans.RTT = rtt
		switch {
		case err != nil:
			ans.Err = err.Error()
		case in.Rcode != dns.RcodeSuccess:
			ans.Err = fmt.Sprintf("rcode %s", dns.RcodeToString[in.Rcode])
		default:
			for _, rr := range in.Answer {
				if a, ok := rr.(*dns.A); ok {
					ans.Addrs = append(ans.Addrs, a.A.String())
				}
			}
			if len(ans.Addrs) == 0 {
				ans.Err = "no A records"
			}
		}
		answers = append(answers, ans)
	}

	return answers
}
