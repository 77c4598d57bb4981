// Package jsonfile implements ipam.Allocator against a single local JSON
// file, mirroring the broker's development-mode allocator, grounded on
// original_source's Python JSONFileIPAM backend. It is meant for
// single-process deployments; concurrency safety comes from an in-process
// mutex plus atomic-on-rename writes, not from any form of distributed
// locking.
package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"sync"

	"wgkex/internal/ipam"
	"wgkex/internal/logger"
)

type fileFormat struct {
	ParentPrefix string            `json:"parent_prefix"`
	Ranges       map[string]string `json:"ranges"`
}

// Allocator is a file-backed ipam.Allocator.
type Allocator struct {
	path         string
	prefixLength int

	mu           sync.Mutex
	parentPrefix netip.Prefix
	ranges       map[string]string
}

// New loads (or initializes) the allocator state from path. parentPrefix is
// used when the file does not yet exist or omits a parent_prefix field.
// prefixLength is the length of prefix handed out per public key
// (configured via parker.prefixes.ipv6.length).
func New(path string, parentPrefix netip.Prefix, prefixLength int) (*Allocator, error) {
	a := &Allocator{path: path, prefixLength: prefixLength, ranges: map[string]string{}}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		a.parentPrefix = parentPrefix
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating ipam directory: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("reading ipam file %s: %w", path, err)
	default:
		var ff fileFormat
		if err := json.Unmarshal(data, &ff); err != nil {
			logger.L().Sugar().Warnf("ipam file %s is not valid JSON, starting fresh: %v", path, err)
			a.parentPrefix = parentPrefix
			break
		}
		a.ranges = ff.Ranges
		if a.ranges == nil {
			a.ranges = map[string]string{}
		}
		parsed, err := netip.ParsePrefix(ff.ParentPrefix)
		if err != nil {
			a.parentPrefix = parentPrefix
		} else {
			a.parentPrefix = parsed
		}
	}

	return a, nil
}

// GetOrAllocatePrefix implements ipam.Allocator.
func (a *Allocator) GetOrAllocatePrefix(ctx context.Context, pubkey string) (netip.Prefix, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.ranges[pubkey]; ok {
		p, err := netip.ParsePrefix(existing)
		if err == nil && a.parentPrefix.Overlaps(p) && p.Bits() == a.prefixLength {
			return p, nil
		}
	}

	used := make(map[netip.Prefix]struct{}, len(a.ranges))
	for _, rg := range a.ranges {
		p, err := netip.ParsePrefix(rg)
		if err == nil {
			used[p] = struct{}{}
		}
	}

	candidate, ok := nextFreeSubnet(a.parentPrefix, a.prefixLength, used)
	if !ok {
		logger.L().Sugar().Errorf("no IPv6 range available for public key %s", pubkey)
		return netip.Prefix{}, ipam.ErrAllocatorExhausted
	}

	a.ranges[pubkey] = candidate.String()
	if err := a.persist(); err != nil {
		return netip.Prefix{}, err
	}
	logger.L().Sugar().Infof("assigned %s to public key %s", candidate, pubkey)
	return candidate, nil
}

// UpdatePrefix is a no-op for this backend: the file format carries no
// per-key metadata beyond the assigned range.
func (a *Allocator) UpdatePrefix(ctx context.Context, pubkey string, selectedConcentrators []string) error {
	return nil
}

// ReleasePrefix is unimplemented; see ipam.Allocator.
func (a *Allocator) ReleasePrefix(ctx context.Context, pubkey string) error {
	return ipam.ErrNotSupported
}

func (a *Allocator) persist() error {
	ff := fileFormat{ParentPrefix: a.parentPrefix.String(), Ranges: a.ranges}
	data, err := json.Marshal(ff)
	if err != nil {
		return fmt.Errorf("encoding ipam file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(a.path), ".ipam-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp ipam file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp ipam file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp ipam file: %w", err)
	}
	if err := os.Rename(tmpPath, a.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming ipam file into place: %w", err)
	}
	return nil
}

// nextFreeSubnet walks parent's subnets of newPrefixLength in order,
// skipping the first (reserved, mirroring the Python allocator's
// next(prefixes) skip), and returns the first one not already in use.
func nextFreeSubnet(parent netip.Prefix, newPrefixLength int, used map[netip.Prefix]struct{}) (netip.Prefix, bool) {
	if newPrefixLength <= parent.Bits() || newPrefixLength > 128 {
		return netip.Prefix{}, false
	}

	base := parent.Masked().Addr()
	baseBytes := base.As16()
	subnetCount := uint64(1) << uint(newPrefixLength-parent.Bits())

	first := true
	for i := uint64(0); i < subnetCount; i++ {
		candidateBytes := baseBytes
		addSubnetIndex(&candidateBytes, i, newPrefixLength)
		addr := netip.AddrFrom16(candidateBytes)
		candidate := netip.PrefixFrom(addr, newPrefixLength)

		if first {
			first = false
			continue // skip the first subnet, mirroring next(prefixes)
		}
		if _, taken := used[candidate]; !taken {
			return candidate, true
		}
	}
	return netip.Prefix{}, false
}

// addSubnetIndex sets the bits of addrBytes between parent-length and
// newPrefixLength to represent subnet index i.
func addSubnetIndex(addrBytes *[16]byte, i uint64, newPrefixLength int) {
	// The subnet index occupies bits [newPrefixLength-bitsOfIndex, newPrefixLength).
	// Walk bits from the end of the prefix backwards, OR-ing in i's bits.
	bit := newPrefixLength - 1
	for v := i; v != 0; v >>= 1 {
		if v&1 == 1 {
			byteIdx := bit / 8
			bitIdx := 7 - (bit % 8)
			addrBytes[byteIdx] |= 1 << uint(bitIdx)
		}
		bit--
	}
}
