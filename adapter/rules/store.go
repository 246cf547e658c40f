// Package rules keeps the blocking rule sets and evaluates them for
// every packet on the fast path.
package rules

import (
	"strconv"
	"strings"
	"sync"

	"github.com/forest33/dpipe/business/entity"
	"github.com/forest33/dpipe/pkg/logger"
)

// Store holds four independent rule sets, each behind its own
// reader-writer lock. Fast path workers only take read locks and never
// block each other; writes happen at configuration time or from the
// rules-file watcher.
type Store struct {
	log *logger.Logger

	ipMu sync.RWMutex
	ips  map[uint32]struct{}

	appMu sync.RWMutex
	apps  map[entity.AppType]struct{}

	domainMu sync.RWMutex
	domains  map[string]struct{}
	patterns []string

	portMu sync.RWMutex
	ports  map[uint16]struct{}
}

func New(log *logger.Logger) *Store {
	return &Store{
		log:     log.Duplicate(log.With().Str("layer", "rules").Logger()),
		ips:     make(map[uint32]struct{}),
		apps:    make(map[entity.AppType]struct{}),
		domains: make(map[string]struct{}),
		ports:   make(map[uint16]struct{}),
	}
}

// BlockIP adds a source IP (wire order) to the blocked set.
func (s *Store) BlockIP(ip uint32) {
	s.ipMu.Lock()
	s.ips[ip] = struct{}{}
	s.ipMu.Unlock()
	s.log.Info().Str("ip", entity.IPToString(ip)).Msg("blocked IP")
}

// BlockIPString parses a dotted quad and blocks it.
func (s *Store) BlockIPString(ip string) error {
	v, err := entity.ParseIP(ip)
	if err != nil {
		return err
	}
	s.BlockIP(v)
	return nil
}

func (s *Store) UnblockIP(ip uint32) {
	s.ipMu.Lock()
	delete(s.ips, ip)
	s.ipMu.Unlock()
	s.log.Info().Str("ip", entity.IPToString(ip)).Msg("unblocked IP")
}

func (s *Store) IsIPBlocked(ip uint32) bool {
	s.ipMu.RLock()
	defer s.ipMu.RUnlock()
	_, ok := s.ips[ip]
	return ok
}

func (s *Store) BlockApp(app entity.AppType) {
	s.appMu.Lock()
	s.apps[app] = struct{}{}
	s.appMu.Unlock()
	s.log.Info().Str("app", app.String()).Msg("blocked app")
}

// BlockAppName resolves a label as printed in reports and blocks it.
func (s *Store) BlockAppName(name string) error {
	app, ok := entity.AppTypeFromName(name)
	if !ok {
		return entity.ErrUnknownApp
	}
	s.BlockApp(app)
	return nil
}

func (s *Store) UnblockApp(app entity.AppType) {
	s.appMu.Lock()
	delete(s.apps, app)
	s.appMu.Unlock()
	s.log.Info().Str("app", app.String()).Msg("unblocked app")
}

func (s *Store) IsAppBlocked(app entity.AppType) bool {
	s.appMu.RLock()
	defer s.appMu.RUnlock()
	_, ok := s.apps[app]
	return ok
}

// BlockDomain adds an exact domain, or a wildcard pattern when the
// value contains '*'.
func (s *Store) BlockDomain(domain string) {
	domain = strings.ToLower(domain)
	s.domainMu.Lock()
	if strings.ContainsRune(domain, '*') {
		s.patterns = append(s.patterns, domain)
	} else {
		s.domains[domain] = struct{}{}
	}
	s.domainMu.Unlock()
	s.log.Info().Str("domain", domain).Msg("blocked domain")
}

func (s *Store) UnblockDomain(domain string) {
	domain = strings.ToLower(domain)
	s.domainMu.Lock()
	if strings.ContainsRune(domain, '*') {
		for i, p := range s.patterns {
			if p == domain {
				s.patterns = append(s.patterns[:i], s.patterns[i+1:]...)
				break
			}
		}
	} else {
		delete(s.domains, domain)
	}
	s.domainMu.Unlock()
	s.log.Info().Str("domain", domain).Msg("unblocked domain")
}

// IsDomainBlocked checks exact membership, then the wildcard patterns
// in insertion order.
func (s *Store) IsDomainBlocked(domain string) bool {
	domain = strings.ToLower(domain)
	s.domainMu.RLock()
	defer s.domainMu.RUnlock()

	if _, ok := s.domains[domain]; ok {
		return true
	}
	for _, p := range s.patterns {
		if domainMatchesPattern(domain, p) {
			return true
		}
	}
	return false
}

// domainMatchesPattern handles *.example.com patterns: the domain
// matches when it ends in ".example.com" or equals the bare apex.
func domainMatchesPattern(domain, pattern string) bool {
	if len(pattern) < 2 || pattern[0] != '*' || pattern[1] != '.' {
		return false
	}
	suffix := pattern[1:] // .example.com
	if strings.HasSuffix(domain, suffix) {
		return true
	}
	return domain == pattern[2:]
}

func (s *Store) BlockPort(port uint16) {
	s.portMu.Lock()
	s.ports[port] = struct{}{}
	s.portMu.Unlock()
	s.log.Info().Uint16("port", port).Msg("blocked port")
}

func (s *Store) UnblockPort(port uint16) {
	s.portMu.Lock()
	delete(s.ports, port)
	s.portMu.Unlock()
}

func (s *Store) IsPortBlocked(port uint16) bool {
	s.portMu.RLock()
	defer s.portMu.RUnlock()
	_, ok := s.ports[port]
	return ok
}

// ShouldBlock evaluates the rule sets in fixed priority order:
// IP, then port, then application, then domain.
func (s *Store) ShouldBlock(srcIP uint32, dstPort uint16, app entity.AppType, domain string) (entity.BlockReason, bool) {
	if s.IsIPBlocked(srcIP) {
		return entity.BlockReason{Kind: entity.BlockByIP, Detail: entity.IPToString(srcIP)}, true
	}
	if s.IsPortBlocked(dstPort) {
		return entity.BlockReason{Kind: entity.BlockByPort, Detail: strconv.Itoa(int(dstPort))}, true
	}
	if s.IsAppBlocked(app) {
		return entity.BlockReason{Kind: entity.BlockByApp, Detail: app.String()}, true
	}
	if domain != "" && s.IsDomainBlocked(domain) {
		return entity.BlockReason{Kind: entity.BlockByDomain, Detail: domain}, true
	}
	return entity.BlockReason{}, false
}

// ClearAll empties every rule set.
func (s *Store) ClearAll() {
	s.ipMu.Lock()
	s.ips = make(map[uint32]struct{})
	s.ipMu.Unlock()

	s.appMu.Lock()
	s.apps = make(map[entity.AppType]struct{})
	s.appMu.Unlock()

	s.domainMu.Lock()
	s.domains = make(map[string]struct{})
	s.patterns = nil
	s.domainMu.Unlock()

	s.portMu.Lock()
	s.ports = make(map[uint16]struct{})
	s.portMu.Unlock()

	s.log.Info().Msg("all rules cleared")
}

// Stats sizes of the rule sets; wildcard patterns count as domains.
func (s *Store) Stats() entity.RuleStats {
	var st entity.RuleStats

	s.ipMu.RLock()
	st.BlockedIPs = len(s.ips)
	s.ipMu.RUnlock()

	s.appMu.RLock()
	st.BlockedApps = len(s.apps)
	s.appMu.RUnlock()

	s.domainMu.RLock()
	st.BlockedDomains = len(s.domains) + len(s.patterns)
	s.domainMu.RUnlock()

	s.portMu.RLock()
	st.BlockedPorts = len(s.ports)
	s.portMu.RUnlock()

	return st
}
