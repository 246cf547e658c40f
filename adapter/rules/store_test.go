package rules

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/forest33/dpipe/business/entity"
	"github.com/forest33/dpipe/pkg/logger"
)

func newTestStore() *Store {
	return New(logger.New(logger.Config{Level: "disabled"}))
}

func mustIP(t *testing.T, s string) uint32 {
	t.Helper()
	ip, err := entity.ParseIP(s)
	if err != nil {
		t.Fatal(err)
	}
	return ip
}

func TestBlockUnblock(t *testing.T) {
	s := newTestStore()

	ip := mustIP(t, "10.1.2.3")
	s.BlockIP(ip)
	if !s.IsIPBlocked(ip) {
		t.Fatal("IP not blocked")
	}
	s.UnblockIP(ip)
	if s.IsIPBlocked(ip) {
		t.Fatal("IP still blocked")
	}

	s.BlockApp(entity.AppYouTube)
	if !s.IsAppBlocked(entity.AppYouTube) {
		t.Fatal("app not blocked")
	}
	s.UnblockApp(entity.AppYouTube)
	if s.IsAppBlocked(entity.AppYouTube) {
		t.Fatal("app still blocked")
	}

	s.BlockPort(8080)
	if !s.IsPortBlocked(8080) {
		t.Fatal("port not blocked")
	}
	s.UnblockPort(8080)
	if s.IsPortBlocked(8080) {
		t.Fatal("port still blocked")
	}
}

func TestDomainWildcard(t *testing.T) {
	s := newTestStore()
	s.BlockDomain("*.example.com")
	s.BlockDomain("exact.org")

	cases := map[string]bool{
		"a.example.com":     true,
		"deep.a.example.com": true,
		"example.com":       true,
		"badexample.com":    false,
		"example.com.evil":  false,
		"exact.org":         true,
		"sub.exact.org":     false,
		"EXACT.ORG":         true,
	}
	for domain, want := range cases {
		if got := s.IsDomainBlocked(domain); got != want {
			t.Errorf("IsDomainBlocked(%q) = %v, want %v", domain, got, want)
		}
	}
}

func TestShouldBlockPriority(t *testing.T) {
	s := newTestStore()

	ip := mustIP(t, "192.168.0.1")
	s.BlockIP(ip)
	s.BlockPort(443)
	s.BlockApp(entity.AppYouTube)
	s.BlockDomain("www.youtube.com")

	// Everything matches: IP wins.
	reason, ok := s.ShouldBlock(ip, 443, entity.AppYouTube, "www.youtube.com")
	if !ok || reason.Kind != entity.BlockByIP {
		t.Fatalf("reason = %+v,%v, want IP", reason, ok)
	}

	// Without the IP rule the port wins.
	s.UnblockIP(ip)
	reason, ok = s.ShouldBlock(ip, 443, entity.AppYouTube, "www.youtube.com")
	if !ok || reason.Kind != entity.BlockByPort {
		t.Fatalf("reason = %+v,%v, want PORT", reason, ok)
	}

	s.UnblockPort(443)
	reason, ok = s.ShouldBlock(ip, 443, entity.AppYouTube, "www.youtube.com")
	if !ok || reason.Kind != entity.BlockByApp {
		t.Fatalf("reason = %+v,%v, want APP", reason, ok)
	}

	s.UnblockApp(entity.AppYouTube)
	reason, ok = s.ShouldBlock(ip, 443, entity.AppYouTube, "www.youtube.com")
	if !ok || reason.Kind != entity.BlockByDomain || reason.Detail != "www.youtube.com" {
		t.Fatalf("reason = %+v,%v, want DOMAIN www.youtube.com", reason, ok)
	}

	s.UnblockDomain("www.youtube.com")
	if _, ok = s.ShouldBlock(ip, 443, entity.AppYouTube, "www.youtube.com"); ok {
		t.Fatal("ShouldBlock matched with no rules")
	}
}

func TestSaveClearLoadRoundTrip(t *testing.T) {
	s := newTestStore()
	s.BlockIP(mustIP(t, "10.0.0.1"))
	s.BlockIP(mustIP(t, "172.16.5.9"))
	s.BlockApp(entity.AppTelegram)
	s.BlockApp(entity.AppNetflix)
	s.BlockDomain("tracker.example.net")
	s.BlockDomain("*.youtube.com")
	s.BlockPort(25)

	path := filepath.Join(t.TempDir(), "rules.txt")
	if err := s.Save(path); err != nil {
		t.Fatal(err)
	}

	ips := s.BlockedIPs()
	apps := s.BlockedApps()
	domains := s.BlockedDomains()
	ports := s.BlockedPorts()

	s.ClearAll()
	if st := s.Stats(); st != (entity.RuleStats{}) {
		t.Fatalf("stats after clear = %+v", st)
	}

	if err := s.Load(path); err != nil {
		t.Fatal(err)
	}

	if got := s.BlockedIPs(); !reflect.DeepEqual(got, ips) {
		t.Errorf("ips = %v, want %v", got, ips)
	}
	if got := s.BlockedApps(); !reflect.DeepEqual(got, apps) {
		t.Errorf("apps = %v, want %v", got, apps)
	}
	if got := s.BlockedDomains(); !reflect.DeepEqual(got, domains) {
		t.Errorf("domains = %v, want %v", got, domains)
	}
	if got := s.BlockedPorts(); !reflect.DeepEqual(got, ports) {
		t.Errorf("ports = %v, want %v", got, ports)
	}
}

func TestLoadSkipsBadLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.txt")
	content := `[BLOCKED_IPS]
10.0.0.1
not-an-ip

[BLOCKED_APPS]
Zoom
NoSuchApp

[UNKNOWN_SECTION]
whatever

[BLOCKED_PORTS]
8080
99999
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s := newTestStore()
	if err := s.Load(path); err != nil {
		t.Fatal(err)
	}

	if !s.IsIPBlocked(mustIP(t, "10.0.0.1")) {
		t.Error("valid IP not loaded")
	}
	if !s.IsAppBlocked(entity.AppZoom) {
		t.Error("valid app not loaded")
	}
	if !s.IsPortBlocked(8080) {
		t.Error("valid port not loaded")
	}
	st := s.Stats()
	if st.BlockedIPs != 1 || st.BlockedApps != 1 || st.BlockedPorts != 1 || st.BlockedDomains != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestReloadReplaces(t *testing.T) {
	s := newTestStore()
	s.BlockApp(entity.AppZoom)

	path := filepath.Join(t.TempDir(), "rules.txt")
	if err := os.WriteFile(path, []byte("[BLOCKED_APPS]\nDiscord\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(path); err != nil {
		t.Fatal(err)
	}

	if s.IsAppBlocked(entity.AppZoom) {
		t.Error("old rule survived reload")
	}
	if !s.IsAppBlocked(entity.AppDiscord) {
		t.Error("new rule missing after reload")
	}
}
