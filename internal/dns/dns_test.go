package dns

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/miekg/dns"
)

func TestGetCacheEntry(t *testing.T) {
	t.Parallel()

	// test expire
	logger := log.New(io.Discard)

	r, err := NewCachedDNSResolver("8.8.8.8:53", 1*time.Second, 10*time.Second, 1*time.Microsecond, logger)
	if err != nil {
		t.Fatal(err)
	}
	r.updateCache("1.1.1.1", []string{"asdf.com", "ghjkl.com"})
	time.Sleep(1 * time.Microsecond)
	res, ok := r.getCacheEntry("1.1.1.1")
	if ok || res != nil {
		t.Fatalf("cache not expired: %v", res)
	}

	r, err = NewCachedDNSResolver("8.8.8.8:53", 1*time.Second, 10*time.Second, 1*time.Hour, logger)
	if err != nil {
		t.Fatal(err)
	}
	r.updateCache("1.1.1.1", []string{"asdf.com", "ghjkl.com"})
	res, ok = r.getCacheEntry("1.1.1.1")
	if !ok {
		t.Fatal("cache expired and should not be")
	}
	if len(res) != 2 {
		t.Fatalf("wrong cache size returned: %d", len(res))
	}
	if res[0] != "asdf.com" || res[1] != "ghjkl.com" {
		t.Fatalf("wrong domains returned, got %v", res)
	}
}

// startServer runs a local nameserver answering PTR queries for 192.0.2.1
// and returns its address.
func startServer(t *testing.T) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	mux := dns.NewServeMux()
	mux.HandleFunc("in-addr.arpa.", func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		q := req.Question[0]
		if q.Qtype == dns.TypePTR && q.Name == "1.2.0.192.in-addr.arpa." {
			m.Answer = append(m.Answer, &dns.PTR{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 60},
				Ptr: "mail.example.com.",
			})
		} else {
			m.Rcode = dns.RcodeNameError
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	server := &dns.Server{
		PacketConn:        pc,
		Handler:           mux,
		NotifyStartedFunc: func() { close(started) },
	}
	go func() {
		_ = server.ActivateAndServe()
	}()
	<-started
	t.Cleanup(func() {
		_ = server.Shutdown()
	})
	return pc.LocalAddr().String()
}

func TestLookupNames(t *testing.T) {
	t.Parallel()

	addr := startServer(t)
	r, err := NewCachedDNSResolver(addr, 1*time.Second, 2*time.Second, 1*time.Hour, log.New(io.Discard))
	if err != nil {
		t.Fatal(err)
	}

	names, err := r.LookupNames(context.Background(), "192.0.2.1")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "mail.example.com" {
		t.Fatalf("wrong names returned: %v", names)
	}

	if _, ok := r.getCacheEntry("192.0.2.1"); !ok {
		t.Fatal("result was not cached")
	}

	if _, err := r.LookupNames(context.Background(), "192.0.2.99"); err == nil {
		t.Fatal("expected error for unknown address")
	}
	// negative answers are cached too
	if res, ok := r.getCacheEntry("192.0.2.99"); !ok || len(res) != 0 {
		t.Fatalf("negative answer not cached: %v %v", res, ok)
	}
}

func TestLookupNamesInvalidIP(t *testing.T) {
	t.Parallel()

	r, err := NewCachedDNSResolver("127.0.0.1:53", 1*time.Second, 1*time.Second, 1*time.Hour, log.New(io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.LookupNames(context.Background(), "not-an-ip"); err == nil {
		t.Fatal("expected error for invalid ip")
	}
}
