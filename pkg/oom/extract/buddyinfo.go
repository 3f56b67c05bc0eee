package extract

import (
	"sort"
	"strconv"
	"strings"

	"github.com/leptonai/oomanalyzer/pkg/kernelconfig"
	"github.com/leptonai/oomanalyzer/pkg/oom/logblock"
)

// ZoneFreeAreas is the buddy allocator state of one memory zone, e.g.
//
//	Node 0 Normal: 847*4kB (UME) 652*8kB (UME) ... 0*4096kB = 51052kB
type ZoneFreeAreas struct {
	// FreeChunks[order][node] is the number of free chunks of 2^order pages.
	FreeChunks []map[int]int64 `json:"free_chunks"`
	// FreeChunksTotal[order] sums FreeChunks[order] over all nodes.
	FreeChunksTotal []int64 `json:"free_chunks_total"`
	// TotalFreeKBPerNode is the total printed after "=".
	TotalFreeKBPerNode map[int]int64 `json:"total_free_kb_per_node"`
}

// Orders returns the number of orders seen, orders are contiguous from 0.
func (z *ZoneFreeAreas) Orders() int { return len(z.FreeChunks) }

// Count returns the free chunks of an order on a node.
func (z *ZoneFreeAreas) Count(order, node int) (int64, bool) {
	if order < 0 || order >= len(z.FreeChunks) {
		return 0, false
	}
	v, ok := z.FreeChunks[order][node]
	return v, ok
}

// Nodes returns the nodes of the zone in ascending order.
func (z *ZoneFreeAreas) Nodes() []int {
	nodes := make([]int, 0, len(z.TotalFreeKBPerNode))
	for n := range z.TotalFreeKBPerNode {
		nodes = append(nodes, n)
	}
	sort.Ints(nodes)
	return nodes
}

// BuddyInfo holds the free areas of all zones.
type BuddyInfo struct {
	Zones map[string]*ZoneFreeAreas `json:"zones"`
	// MaxOrder is one more than the largest order, 11 means the largest
	// free block is 2^10 pages. Taken from the DMA zone.
	MaxOrder int `json:"max_order"`
}

// Empty reports whether no free area line was found.
func (bi *BuddyInfo) Empty() bool { return bi == nil || len(bi.Zones) == 0 }

// Zone returns the free areas of a zone.
func (bi *BuddyInfo) Zone(zone string) (*ZoneFreeAreas, bool) {
	if bi == nil {
		return nil, false
	}
	z, ok := bi.Zones[zone]
	return z, ok
}

// HasFreeChunks reports whether a node has at least one free chunk in a
// zone at fromOrder or any higher order below MaxOrder. known is false
// when the zone or the node is missing.
func (bi *BuddyInfo) HasFreeChunks(fromOrder int, zone string, node int) (found bool, known bool) {
	z, ok := bi.Zone(zone)
	if !ok {
		return false, false
	}
	if fromOrder < 0 {
		fromOrder = 0
	}
	for order := fromOrder; order < bi.MaxOrder; order++ {
		if order >= z.Orders() {
			break
		}
		n, ok := z.FreeChunks[order][node]
		if !ok {
			return false, false
		}
		if n > 0 {
			return true, true
		}
	}
	return false, true
}

// extractBuddyInfo reads the free area lines starting at the zoneinfo
// marker. Migration types such as "(UME)" are skipped.
func extractBuddyInfo(cfg *kernelconfig.Config, b *logblock.Block, msgs *Messages) *BuddyInfo {
	bi := &BuddyInfo{Zones: make(map[string]*ZoneFreeAreas)}

	start := b.Index(cfg.Markers().ZoneinfoStart, 0)
	if start < 0 {
		msgs.Add(SeverityDebug, "Zone info marker %q not found, scanning the whole block", cfg.Markers().ZoneinfoStart)
		start = 0
	}

	re := cfg.FreeChunks()
	var (
		iNode  = re.SubexpIndex("node")
		iZone  = re.SubexpIndex("zone")
		iUsage = re.SubexpIndex("zone_usage")
		iTotal = re.SubexpIndex("total_free_kb_per_node")
	)
	for i := start; i < b.Len(); i++ {
		m := re.FindStringSubmatch(b.Line(i))
		if m == nil {
			continue
		}
		node, err := strconv.Atoi(m[iNode])
		if err != nil {
			continue
		}
		zone := m[iZone]

		z, ok := bi.Zones[zone]
		if !ok {
			z = &ZoneFreeAreas{TotalFreeKBPerNode: make(map[int]int64)}
			bi.Zones[zone] = z
		}
		if total, err := strconv.ParseInt(m[iTotal], 10, 64); err == nil {
			z.TotalFreeKBPerNode[node] = total
		}

		order := -1
		for _, element := range strings.Split(m[iUsage], " ") {
			if element == "" || strings.HasPrefix(element, "(") {
				continue
			}
			order++
			for len(z.FreeChunks) <= order {
				z.FreeChunks = append(z.FreeChunks, make(map[int]int64))
				z.FreeChunksTotal = append(z.FreeChunksTotal, 0)
			}

			count, err := strconv.ParseInt(strings.TrimSpace(strings.SplitN(element, "*", 2)[0]), 10, 64)
			if err != nil {
				msgs.Add(SeverityError, "Failed to read free chunks %q of zone %s on node %d", element, zone, node)
				continue
			}
			z.FreeChunks[order][node] = count
			z.FreeChunksTotal[order] += count
		}
	}

	bi.MaxOrder = maxOrder(cfg, bi)
	return bi
}

// maxOrder counts the orders of the DMA zone, or of the first zone
// present in kernel zone order on systems without DMA.
func maxOrder(cfg *kernelconfig.Config, bi *BuddyInfo) int {
	if z, ok := bi.Zones["DMA"]; ok {
		return z.Orders()
	}
	for _, name := range cfg.ZoneTypes() {
		if z, ok := bi.Zones[name]; ok {
			return z.Orders()
		}
	}
	return 0
}
