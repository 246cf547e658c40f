package usecase

import (
	"fmt"
	"sort"
	"strings"

	"github.com/forest33/dpipe/business/entity"
)

const topDomainsCount = 20

type domainCount struct {
	domain string
	count  uint64
}

// GenerateReport renders the run statistics. Flow tables are scanned
// here, so the report must only be generated after Stop has joined the
// workers.
func (e *Engine) GenerateReport() string {
	s := e.stats.Snapshot()
	totalRead := s.TotalPackets + s.SkippedPackets

	var sb strings.Builder

	fmt.Fprintf(&sb, "\n=== DPI run %s ===\n", e.runID)

	sb.WriteString("\nPackets\n")
	fmt.Fprintf(&sb, "  total read:       %12d\n", totalRead)
	fmt.Fprintf(&sb, "  dispatched:       %12d\n", s.TotalPackets)
	fmt.Fprintf(&sb, "  skipped:          %12d\n", s.SkippedPackets)
	fmt.Fprintf(&sb, "  bytes:            %12d\n", s.TotalBytes)
	fmt.Fprintf(&sb, "  tcp:              %12d\n", s.TCPPackets)
	fmt.Fprintf(&sb, "  udp:              %12d\n", s.UDPPackets)

	sb.WriteString("\nFiltering\n")
	fmt.Fprintf(&sb, "  forwarded:        %12d\n", s.ForwardedPackets)
	fmt.Fprintf(&sb, "  dropped:          %12d\n", s.DroppedPackets)
	if s.TotalPackets > 0 {
		fmt.Fprintf(&sb, "  drop rate:        %11.2f%%\n", 100*float64(s.DroppedPackets)/float64(s.TotalPackets))
	}
	if s.WriteErrors > 0 {
		fmt.Fprintf(&sb, "  write errors:     %12d\n", s.WriteErrors)
	}

	sb.WriteString("\nLoad balancers\n")
	for i, b := range e.balancers {
		st := b.Stats()
		fmt.Fprintf(&sb, "  lb%-2d received:    %12d dispatched: %12d\n", i, st.Received, st.Dispatched)
	}

	sb.WriteString("\nFast paths\n")
	var blockedByKind [4]uint64
	for i, w := range e.workers {
		st := w.Stats()
		fmt.Fprintf(&sb, "  fp%-2d processed:   %12d forwarded:  %12d dropped: %10d flows: %8d\n",
			i, st.Processed, st.Forwarded, st.Dropped, st.ActiveFlows)
		for k := range st.BlockedByKind {
			blockedByKind[k] += st.BlockedByKind[k]
		}
	}

	sb.WriteString("\nBlocked flows by rule kind\n")
	for k, n := range blockedByKind {
		fmt.Fprintf(&sb, "  %-8s %12d\n", entity.BlockKind(k).String(), n)
	}

	rs := e.rules.Stats()
	sb.WriteString("\nRules\n")
	fmt.Fprintf(&sb, "  blocked IPs:      %12d\n", rs.BlockedIPs)
	fmt.Fprintf(&sb, "  blocked apps:     %12d\n", rs.BlockedApps)
	fmt.Fprintf(&sb, "  blocked domains:  %12d\n", rs.BlockedDomains)
	fmt.Fprintf(&sb, "  blocked ports:    %12d\n", rs.BlockedPorts)

	sb.WriteString(e.classificationReport())

	return sb.String()
}

// classificationReport aggregates app and domain distributions across
// the flow tables of every fast path.
func (e *Engine) classificationReport() string {
	appCounts := make(map[entity.AppType]uint64)
	domainCounts := make(map[string]uint64)
	var classified, unknown uint64

	for _, w := range e.workers {
		w.Table().ForEach(func(f *entity.Flow) {
			appCounts[f.App]++
			if f.App == entity.AppUnknown {
				unknown++
			} else {
				classified++
			}
			if f.SNI != "" {
				domainCounts[f.SNI]++
			}
		})
	}

	total := classified + unknown

	var sb strings.Builder
	sb.WriteString("\nClassification\n")
	fmt.Fprintf(&sb, "  flows:            %12d\n", total)
	if total > 0 {
		fmt.Fprintf(&sb, "  classified:       %12d (%.1f%%)\n", classified, 100*float64(classified)/float64(total))
		fmt.Fprintf(&sb, "  unidentified:     %12d (%.1f%%)\n", unknown, 100*float64(unknown)/float64(total))
	}

	if len(appCounts) > 0 {
		sb.WriteString("\nApplication distribution\n")
		type appCount struct {
			app   entity.AppType
			count uint64
		}
		apps := make([]appCount, 0, len(appCounts))
		for app, n := range appCounts {
			apps = append(apps, appCount{app, n})
		}
		sort.Slice(apps, func(i, j int) bool {
			if apps[i].count != apps[j].count {
				return apps[i].count > apps[j].count
			}
			return apps[i].app < apps[j].app
		})
		for _, ac := range apps {
			pct := 100 * float64(ac.count) / float64(total)
			bar := strings.Repeat("#", int(pct/5))
			fmt.Fprintf(&sb, "  %-12s %8d %5.1f%% %s\n", ac.app.String(), ac.count, pct, bar)
		}
	}

	if len(domainCounts) > 0 {
		fmt.Fprintf(&sb, "\nTop %d domains\n", topDomainsCount)
		domains := make([]domainCount, 0, len(domainCounts))
		for d, n := range domainCounts {
			domains = append(domains, domainCount{d, n})
		}
		sort.Slice(domains, func(i, j int) bool {
			if domains[i].count != domains[j].count {
				return domains[i].count > domains[j].count
			}
			return domains[i].domain < domains[j].domain
		})
		if len(domains) > topDomainsCount {
			domains = domains[:topDomainsCount]
		}
		for _, dc := range domains {
			fmt.Fprintf(&sb, "  %-40s %8d\n", dc.domain, dc.count)
		}
	}

	return sb.String()
}
