// SPDX-License-Identifier: AGPL-3.0-or-later
// bsc-core - BACnet Secure Connect datalink core
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// The source code is available at <https://github.com/bacnet-community/bsc-core>

package scnode

import (
	"time"

	"github.com/bacnet-community/bsc-core/internal/scaddr"
)

// cacheEntry is one address-resolution record (spec §3.7): a remote VMAC,
// its candidate URIs, and the moment the record was last refreshed.
type cacheEntry struct {
	used      bool
	vmac      scaddr.VMAC
	uris      []string
	refreshed time.Time
}

// resolutionCache is the Node's fixed-size address-resolution cache.
// Eviction reuses a free slot first, otherwise the entry with the largest
// elapsed time since its last refresh (spec §3.7). All methods assume the
// dispatch mutex is held.
type resolutionCache struct {
	entries   []cacheEntry
	freshness time.Duration
}

// defaultCacheSlots bounds the cache when no explicit size is configured.
const defaultCacheSlots = 16

func newResolutionCache(slots int, freshness time.Duration) *resolutionCache {
	if slots <= 0 {
		slots = defaultCacheSlots
	}
	return &resolutionCache{
		entries:   make([]cacheEntry, slots),
		freshness: freshness,
	}
}

// lookup returns the cached URIs for vmac. An expired entry is freed and
// reported as a miss (spec §4.6 "Cache policy").
func (c *resolutionCache) lookup(vmac scaddr.VMAC, now time.Time) ([]string, bool) {
	for i := range c.entries {
		e := &c.entries[i]
		if !e.used || e.vmac != vmac {
			continue
		}
		if now.Sub(e.refreshed) > c.freshness {
			*e = cacheEntry{}
			return nil, false
		}
		return e.uris, true
	}
	return nil, false
}

// refresh installs or updates the record for vmac, evicting the stalest
// entry when the cache is full.
func (c *resolutionCache) refresh(vmac scaddr.VMAC, uris []string, now time.Time) {
	slot := -1
	oldest := -1
	for i := range c.entries {
		e := &c.entries[i]
		if e.used && e.vmac == vmac {
			slot = i
			break
		}
		if !e.used {
			if slot == -1 {
				slot = i
			}
			continue
		}
		if oldest == -1 || e.refreshed.Before(c.entries[oldest].refreshed) {
			oldest = i
		}
	}
	if slot == -1 {
		slot = oldest
	}
	c.entries[slot] = cacheEntry{
		used:      true,
		vmac:      vmac,
		uris:      append([]string(nil), uris...),
		refreshed: now,
	}
}

// clear drops every record; used across a duplicate-VMAC restart, since the
// cache describes a network the node is about to rejoin under a new identity.
func (c *resolutionCache) clear() {
	for i := range c.entries {
		c.entries[i] = cacheEntry{}
	}
}
