// Package harvest collects the public remote peers of the host's current
// network connections and writes them as a batch list for later lookup.
package harvest

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	gnet "github.com/shirou/gopsutil/v4/net"

	"repscan/internal/sanitize"
	"repscan/internal/targets"
)

// TimestampLayout names harvested list files.
const TimestampLayout = "20060102_150405"

// Lister returns the host's connections. gopsutil's ConnectionsWithContext
// is the production implementation.
type Lister func(ctx context.Context, kind string) ([]gnet.ConnectionStat, error)

// Collector gathers public peer addresses.
type Collector struct {
	list Lister
}

// NewCollector returns a Collector. A nil list uses gopsutil.
func NewCollector(list Lister) *Collector {
	if list == nil {
		list = gnet.ConnectionsWithContext
	}
	return &Collector{list: list}
}

// Collect returns the unique public remote addresses of current inet
// connections, sorted. Listening sockets and private, loopback and
// link-local peers are skipped.
func (c *Collector) Collect(ctx context.Context) ([]string, error) {
	conns, err := c.list(ctx, "inet")
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}

	seen := make(map[netip.Addr]struct{})
	for _, conn := range conns {
		if conn.Raddr.IP == "" {
			continue
		}
		addr, err := netip.ParseAddr(conn.Raddr.IP)
		if err != nil {
			continue
		}
		addr = addr.Unmap()
		if !sanitize.IsPublicAddr(addr) {
			continue
		}
		seen[addr] = struct{}{}
	}

	addrs := make([]netip.Addr, 0, len(seen))
	for a := range seen {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Less(addrs[j]) })

	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out, nil
}

// Save writes ips to dir as unique_ips_<timestamp>.txt and points the
// latest-file marker at it. It returns the list file's path.
func Save(dir string, ips []string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create harvest dir: %w", err)
	}

	name := "unique_ips_" + now.Format(TimestampLayout) + ".txt"
	path := filepath.Join(dir, name)

	var b strings.Builder
	for _, ip := range ips {
		b.WriteString(ip)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write harvest list: %w", err)
	}

	// Write the marker via rename so watchers never read a half-written name.
	marker := filepath.Join(dir, targets.MarkerFile)
	tmp := marker + ".tmp"
	if err := os.WriteFile(tmp, []byte(name+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write marker: %w", err)
	}
	if err := os.Rename(tmp, marker); err != nil {
		return "", fmt.Errorf("write marker: %w", err)
	}
	return path, nil
}
