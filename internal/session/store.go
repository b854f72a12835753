// Package session holds the hub's ephemeral cache: driver sessions, last
// known vehicle locations, per-stop ETAs and active-trip snapshots. Each key
// family has its own TTL.
package session

import (
	"strings"
	"time"
)

// TTLs configures expiry per key family.
type TTLs struct {
	Session    time.Duration
	Location   time.Duration
	ETA        time.Duration
	ActiveTrip time.Duration
}

func DefaultTTLs() TTLs {
	return TTLs{
		Session:    time.Hour,
		Location:   300 * time.Second,
		ETA:        60 * time.Second,
		ActiveTrip: 24 * time.Hour,
	}
}

func etaKey(tripID, stopID, vehicleID string) string {
	return keyToken(tripID) + "." + keyToken(stopID) + "." + keyToken(vehicleID)
}

// keyToken makes s safe as one dot-separated token of a KV key.
func keyToken(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '=':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
