// Package device classifies client devices for attendance actions.
package device

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"

	"factoryops/internal/models"
)

// Bucket is the coarse device class reported by dashboards.
type Bucket string

const (
	Desktop Bucket = "desktop"
	Mobile  Bucket = "mobile"
	Tablet  Bucket = "tablet"
	Other   Bucket = "other"
)

// Buckets lists every bucket in display order.
var Buckets = []Bucket{Desktop, Mobile, Tablet, Other}

// Classify buckets a user agent by substring. The checks run in order, so a
// UA naming "iPhone" without "Mobile" lands in Other.
func Classify(userAgent string) Bucket {
	switch {
	case strings.Contains(userAgent, "Mobile"):
		return Mobile
	case strings.Contains(userAgent, "Tablet"):
		return Tablet
	case strings.Contains(userAgent, "Windows"),
		strings.Contains(userAgent, "Macintosh"),
		strings.Contains(userAgent, "Linux"):
		return Desktop
	default:
		return Other
	}
}

// ClassifyStored buckets a stored device_info column. Unreadable snapshots
// are Other.
func ClassifyStored(raw string) Bucket {
	info, err := models.ParseDeviceInfo(raw)
	if err != nil {
		return Other
	}
	return Classify(info.UserAgent)
}

// Fingerprint hashes the stable parts of a device snapshot.
func Fingerprint(info models.DeviceInfo) string {
	sum := sha256.Sum256([]byte(info.UserAgent + "|" + info.Platform + "|" + info.ScreenResolution))
	return hex.EncodeToString(sum[:])
}

// Resolver is the part of *net.Resolver the classifier needs.
type Resolver interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Classifier decides whether a request comes from factory infrastructure,
// by client IP range or by a forward-confirmed reverse-DNS name inside one
// of the factory domains. The network lists can be replaced at runtime.
type Classifier struct {
	mu       sync.RWMutex
	prefixes []netip.Prefix
	suffixes []string
	resolver Resolver
}

// NewClassifier builds a classifier. resolver may be nil to disable reverse DNS.
func NewClassifier(cidrs, hostnameSuffixes []string, resolver Resolver) (*Classifier, error) {
	c := &Classifier{resolver: resolver}
	if err := c.Update(cidrs, hostnameSuffixes); err != nil {
		return nil, err
	}
	return c, nil
}

// Update swaps in new network lists. On error the previous lists stay active.
func (c *Classifier) Update(cidrs, hostnameSuffixes []string) error {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, raw := range cidrs {
		p, err := netip.ParsePrefix(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("parse cidr %q: %w", raw, err)
		}
		prefixes = append(prefixes, p.Masked())
	}
	suffixes := make([]string, 0, len(hostnameSuffixes))
	for _, s := range hostnameSuffixes {
		s = normalizeHost(s)
		if s != "" {
			suffixes = append(suffixes, s)
		}
	}

	c.mu.Lock()
	c.prefixes = prefixes
	c.suffixes = suffixes
	c.mu.Unlock()
	return nil
}

// IsFactory reports whether remoteAddr (host or host:port) belongs to the
// factory network.
func (c *Classifier) IsFactory(ctx context.Context, remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	c.mu.RLock()
	prefixes, suffixes := c.prefixes, c.suffixes
	c.mu.RUnlock()

	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	if len(suffixes) == 0 || c.resolver == nil {
		return false
	}

	names, err := c.resolver.LookupAddr(ctx, addr.String())
	if err != nil {
		return false
	}
	for _, name := range names {
		name = normalizeHost(name)
		if inDomains(name, suffixes) && c.resolvesTo(ctx, name, addr) {
			return true
		}
	}
	return false
}

// resolvesTo checks that the PTR name points back at addr, so a reverse
// zone alone cannot claim a factory name.
func (c *Classifier) resolvesTo(ctx context.Context, name string, addr netip.Addr) bool {
	ips, err := c.resolver.LookupIPAddr(ctx, name)
	if err != nil {
		return false
	}
	for _, ip := range ips {
		if a, ok := netip.AddrFromSlice(ip.IP); ok && a.Unmap() == addr {
			return true
		}
	}
	return false
}

// inDomains matches whole labels: "plant.local" covers "kiosk.plant.local"
// but not "attacker-plant.local".
func inDomains(name string, domains []string) bool {
	for _, d := range domains {
		if name == d || strings.HasSuffix(name, "."+d) {
			return true
		}
	}
	return false
}

func normalizeHost(s string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(s), "."))
}

// Snapshot completes a client-reported device snapshot. The factory flag is
// always taken from the server-side decision, and the user agent falls back
// to the request header.
func Snapshot(reported models.DeviceInfo, headerUA string, factory bool) models.DeviceInfo {
	info := reported
	if strings.TrimSpace(info.UserAgent) == "" {
		info.UserAgent = headerUA
	}
	bucket := Classify(info.UserAgent)
	info.IsMobile = bucket == Mobile
	info.IsTablet = bucket == Tablet
	info.IsDesktop = bucket == Desktop
	info.IsFactoryDevice = factory
	if info.Fingerprint == "" && info.UserAgent != "" {
		info.Fingerprint = Fingerprint(info)
	}
	return info
}
