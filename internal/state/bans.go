package state

import (
	"net"
	"strings"
	"sync"
	"time"

	"parlance/pkg/protocol"
)

// BanList holds the server's exclusion rules. Expired bans are skipped at
// check time and swept lazily on mutation.
type BanList struct {
	mu   sync.RWMutex
	bans []protocol.BanInfo
}

// NewBanList returns an empty list.
func NewBanList() *BanList {
	return &BanList{}
}

// Add appends a ban. At least one of IP mask and username must be set; the
// creation time is stamped here when the caller left it zero.
func (b *BanList) Add(ban protocol.BanInfo) error {
	if ban.IPMask == "" && ban.Username == "" {
		return ErrInvalidBan
	}
	if ban.Created.IsZero() {
		ban.Created = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.sweepLocked()
	b.bans = append(b.bans, ban)
	return nil
}

// Remove drops bans matching the given ip mask and username exactly.
func (b *BanList) Remove(ipMask, username string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.bans[:0]
	for _, ban := range b.bans {
		if ban.IPMask == ipMask && strings.EqualFold(ban.Username, username) {
			continue
		}
		kept = append(kept, ban)
	}
	b.bans = kept
}

// List returns a copy of the current non-expired bans.
func (b *BanList) List() []protocol.BanInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]protocol.BanInfo, 0, len(b.bans))
	for _, ban := range b.bans {
		if ban.IsExpired() {
			continue
		}
		out = append(out, ban)
	}
	return out
}

// IsBanned reports whether an address or username matches a live ban.
func (b *BanList) IsBanned(addr, username string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ip := addr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		ip = host
	}

	for _, ban := range b.bans {
		if ban.IsExpired() {
			continue
		}
		if ban.Username != "" && username != "" && strings.EqualFold(ban.Username, username) {
			return true
		}
		if ban.IPMask != "" && ip != "" && matchIPMask(ban.IPMask, ip) {
			return true
		}
	}
	return false
}

// matchIPMask matches an ip against either a CIDR mask or a literal address.
func matchIPMask(mask, ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	if _, cidr, err := net.ParseCIDR(mask); err == nil {
		return cidr.Contains(parsed)
	}
	if exact := net.ParseIP(mask); exact != nil {
		return exact.Equal(parsed)
	}
	return false
}

// sweepLocked drops expired bans. Caller holds the write lock.
func (b *BanList) sweepLocked() {
	kept := b.bans[:0]
	for _, ban := range b.bans {
		if ban.IsExpired() {
			continue
		}
		kept = append(kept, ban)
	}
	b.bans = kept
}
