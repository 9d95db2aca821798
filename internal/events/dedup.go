package events

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Dedup suppresses repeat captures some firmwares emit for a single
// vehicle pass. Keys are bucketed to one second.
type Dedup struct {
	cache *lru.Cache[string, time.Time]
	ttl   time.Duration
}

func NewDedup(maxKeys int, ttl time.Duration) *Dedup {
	if maxKeys <= 0 {
		maxKeys = 4096
	}
	c, _ := lru.New[string, time.Time](maxKeys)
	return &Dedup{cache: c, ttl: ttl}
}

// IsDuplicate reports whether an identical capture was seen within the
// TTL, and records this one.
func (d *Dedup) IsDuplicate(ev NormalizedEvent) bool {
	key := fmt.Sprintf("%s|%s|%d", ev.CameraID, ev.PlateNumber, ev.Timestamp.Truncate(time.Second).Unix())

	if addedAt, ok := d.cache.Get(key); ok {
		if time.Since(addedAt) < d.ttl {
			return true
		}
	}
	d.cache.Add(key, time.Now())
	return false
}
