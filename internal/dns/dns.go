package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/miekg/dns"
)

const resolvConf = "/etc/resolv.conf"

type cacheEntry struct {
	domains   []string
	timestamp time.Time
}

type CachedDNSResolver struct {
	server       string
	timeout      time.Duration
	cacheTimeout time.Duration
	client       *dns.Client
	mutex        sync.RWMutex
	dnsCache     map[string]cacheEntry
	logger       *log.Logger
}

// NewCachedDNSResolver creates a resolver asking server (host:port). An empty
// server uses the first nameserver of /etc/resolv.conf.
func NewCachedDNSResolver(server string, connectTimeout, timeout time.Duration, cacheTimeout time.Duration, logger *log.Logger) (*CachedDNSResolver, error) {
	if server == "" {
		conf, err := dns.ClientConfigFromFile(resolvConf)
		if err != nil {
			return nil, fmt.Errorf("could not read %s: %w", resolvConf, err)
		}
		if len(conf.Servers) == 0 {
			return nil, fmt.Errorf("no nameserver configured in %s", resolvConf)
		}
		server = net.JoinHostPort(conf.Servers[0], conf.Port)
	}
	return &CachedDNSResolver{
		server:       server,
		timeout:      timeout,
		cacheTimeout: cacheTimeout,
		client: &dns.Client{
			DialTimeout: connectTimeout,
			Timeout:     timeout,
		},
		dnsCache: make(map[string]cacheEntry),
		logger:   logger,
	}, nil
}

// LookupNames performs a PTR lookup and caches the result to
// not hammer your DNS server.
func (r *CachedDNSResolver) LookupNames(ctx context.Context, ip string) ([]string, error) {
	r.logger.Debug("resolving", "ip", ip)
	if val, ok := r.getCacheEntry(ip); ok {
		return val, nil
	}

	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	m := new(dns.Msg)
	m.SetQuestion(arpa, dns.TypePTR)
	m.RecursionDesired = true

	in, _, err := r.client.ExchangeContext(ctx, m, r.server)
	if err != nil {
		// store dummy entry so we do not reresolve the ip
		r.updateCache(ip, []string{})
		return nil, err
	}
	if in.Rcode != dns.RcodeSuccess {
		r.updateCache(ip, []string{})
		return nil, fmt.Errorf("lookup %s: %s", arpa, dns.RcodeToString[in.Rcode])
	}

	var domains []string
	for _, a := range in.Answer {
		if ptr, ok := a.(*dns.PTR); ok {
			// remove trailing dot from domains
			domains = append(domains, strings.TrimSuffix(ptr.Ptr, "."))
		}
	}
	if len(domains) == 0 {
		r.updateCache(ip, []string{})
		return nil, errors.New("no PTR record")
	}
	r.updateCache(ip, domains)
	return domains, nil
}

func (r *CachedDNSResolver) updateCache(ip string, domains []string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	entry := cacheEntry{
		domains:   domains,
		timestamp: time.Now(),
	}
	r.dnsCache[ip] = entry
}

func (r *CachedDNSResolver) getCacheEntry(ip string) ([]string, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if val, ok := r.dnsCache[ip]; ok {
		// check if the cache expired
		if time.Now().Add(-1 * r.cacheTimeout).After(val.timestamp) {
			// cache expired, remove the entry
			r.logger.Debug("deleting stale DNS entry", "ip", ip, "stored", val.timestamp)
			delete(r.dnsCache, ip)
			return nil, false
		}
		return val.domains, true
	}
	return nil, false
}
