package rules

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/forest33/dpipe/business/entity"
)

// Section headers of the plain-text rules file.
const (
	sectionIPs     = "[BLOCKED_IPS]"
	sectionApps    = "[BLOCKED_APPS]"
	sectionDomains = "[BLOCKED_DOMAINS]"
	sectionPorts   = "[BLOCKED_PORTS]"
)

// ruleSet is the parsed content of a rules file before it is applied.
type ruleSet struct {
	ips      map[uint32]struct{}
	apps     map[entity.AppType]struct{}
	domains  map[string]struct{}
	patterns []string
	ports    map[uint16]struct{}
}

func newRuleSet() *ruleSet {
	return &ruleSet{
		ips:     make(map[uint32]struct{}),
		apps:    make(map[entity.AppType]struct{}),
		domains: make(map[string]struct{}),
		ports:   make(map[uint16]struct{}),
	}
}

// parseFile reads a rules file. Unknown sections are ignored; bad
// lines are reported through the callback and skipped.
func parseFile(path string, onBadLine func(line string, err error)) (*ruleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open rules file")
	}
	defer f.Close()

	rs := newRuleSet()
	section := ""

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") {
			section = line
			continue
		}

		switch section {
		case sectionIPs:
			ip, err := entity.ParseIP(line)
			if err != nil {
				onBadLine(line, err)
				continue
			}
			rs.ips[ip] = struct{}{}
		case sectionApps:
			app, ok := entity.AppTypeFromName(line)
			if !ok {
				onBadLine(line, entity.ErrUnknownApp)
				continue
			}
			rs.apps[app] = struct{}{}
		case sectionDomains:
			d := strings.ToLower(line)
			if strings.ContainsRune(d, '*') {
				rs.patterns = append(rs.patterns, d)
			} else {
				rs.domains[d] = struct{}{}
			}
		case sectionPorts:
			port, err := strconv.ParseUint(line, 10, 16)
			if err != nil {
				onBadLine(line, err)
				continue
			}
			rs.ports[uint16(port)] = struct{}{}
		}
	}

	return rs, scanner.Err()
}

// Load merges the rules file into the store.
func (s *Store) Load(path string) error {
	rs, err := parseFile(path, func(line string, err error) {
		s.log.Warn().Err(err).Str("line", line).Msg("skipping bad rules line")
	})
	if err != nil {
		return err
	}

	for ip := range rs.ips {
		s.BlockIP(ip)
	}
	for app := range rs.apps {
		s.BlockApp(app)
	}
	for d := range rs.domains {
		s.BlockDomain(d)
	}
	for _, p := range rs.patterns {
		s.BlockDomain(p)
	}
	for port := range rs.ports {
		s.BlockPort(port)
	}

	s.log.Info().Str("path", path).Msg("rules loaded")
	return nil
}

// Reload replaces the store contents with the file contents. Each set
// swaps under its own write lock, so readers always see either the old
// or the new set.
func (s *Store) Reload(path string) error {
	rs, err := parseFile(path, func(line string, err error) {
		s.log.Warn().Err(err).Str("line", line).Msg("skipping bad rules line")
	})
	if err != nil {
		return err
	}

	s.ipMu.Lock()
	s.ips = rs.ips
	s.ipMu.Unlock()

	s.appMu.Lock()
	s.apps = rs.apps
	s.appMu.Unlock()

	s.domainMu.Lock()
	s.domains = rs.domains
	s.patterns = rs.patterns
	s.domainMu.Unlock()

	s.portMu.Lock()
	s.ports = rs.ports
	s.portMu.Unlock()

	s.log.Info().Str("path", path).Msg("rules reloaded")
	return nil
}

// Save writes the current rule sets in the section format Load reads.
func (s *Store) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create rules file")
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	fmt.Fprintln(w, sectionIPs)
	for _, ip := range s.BlockedIPs() {
		fmt.Fprintln(w, ip)
	}

	fmt.Fprintf(w, "\n%s\n", sectionApps)
	for _, app := range s.BlockedApps() {
		fmt.Fprintln(w, app.String())
	}

	fmt.Fprintf(w, "\n%s\n", sectionDomains)
	for _, d := range s.BlockedDomains() {
		fmt.Fprintln(w, d)
	}

	fmt.Fprintf(w, "\n%s\n", sectionPorts)
	for _, p := range s.BlockedPorts() {
		fmt.Fprintln(w, strconv.Itoa(int(p)))
	}

	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "failed to write rules file")
	}

	s.log.Info().Str("path", path).Msg("rules saved")
	return nil
}

// BlockedIPs dotted-quad list, sorted for stable output.
func (s *Store) BlockedIPs() []string {
	s.ipMu.RLock()
	out := make([]string, 0, len(s.ips))
	for ip := range s.ips {
		out = append(out, entity.IPToString(ip))
	}
	s.ipMu.RUnlock()
	sort.Strings(out)
	return out
}

func (s *Store) BlockedApps() []entity.AppType {
	s.appMu.RLock()
	out := make([]entity.AppType, 0, len(s.apps))
	for app := range s.apps {
		out = append(out, app)
	}
	s.appMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// BlockedDomains exact domains followed by wildcard patterns.
func (s *Store) BlockedDomains() []string {
	s.domainMu.RLock()
	exact := make([]string, 0, len(s.domains))
	for d := range s.domains {
		exact = append(exact, d)
	}
	patterns := append([]string(nil), s.patterns...)
	s.domainMu.RUnlock()
	sort.Strings(exact)
	return append(exact, patterns...)
}

func (s *Store) BlockedPorts() []uint16 {
	s.portMu.RLock()
	out := make([]uint16, 0, len(s.ports))
	for p := range s.ports {
		out = append(out, p)
	}
	s.portMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
