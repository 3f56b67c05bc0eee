package analyzer

import (
	"strings"

	"github.com/leptonai/oomanalyzer/pkg/gfp"
	"github.com/leptonai/oomanalyzer/pkg/oom/extract"
)

const (
	notesTrigger = "trigger process"
	notesKilled  = "killed process"

	flagDMA   = "__GFP_DMA"
	flagDMA32 = "__GFP_DMA32"
	// ALLOC_HIGH, the caller may dip into the reserves
	flagHigh = "__GFP_HIGH"

	zoneDMA    = "DMA"
	zoneDMA32  = "DMA32"
	zoneNormal = "Normal"
)

var dists = []struct {
	substr string
	name   string
}{
	{".el7uek", "Oracle Linux 7 (Unbreakable Enterprise Kernel)"},
	{".el7", "RHEL 7/CentOS 7"},
	{".el6", "RHEL 6/CentOS 6"},
	{".el5", "RHEL 5/CentOS 5"},
	{"ARCH", "Arch Linux"},
	{"-generic", "Ubuntu"},
}

func (a *analysis) derive() {
	a.res.HardwareInfo = a.out.HardwareInfo
	a.res.CallTrace = a.out.CallTrace
	a.res.Processes = a.out.Processes
	a.res.BuddyInfo = a.out.BuddyInfo
	a.res.Watermarks = a.out.Watermarks
	a.res.System.PageSizeKB = a.out.PageSizeKB
	a.res.System.PageSizeGuessed = a.out.PageSizeGuessed
	a.initDetails()

	a.deriveGFP()
	a.deriveType()
	a.deriveNotes()
	a.derivePlatform()
	a.deriveMemory()
	a.deriveSwap()
	a.deriveSystem()
	a.deriveTrigger()
	a.deriveKilled()
	a.searchShortageNode()
	a.classify()
	a.checkFragmentation()
}

// initDetails copies the extracted fields, numeric ones converted.
func (a *analysis) initDetails() {
	d := make(map[string]any, len(a.out.Fields)+24)
	for _, name := range a.out.Fields.Names() {
		if n, ok := a.out.Int(name); ok {
			d[name] = n
			continue
		}
		d[name] = a.out.Fields.Display(name)
	}
	d["page_size_kb"] = a.out.PageSizeKB
	a.res.Details = d
}

func (a *analysis) num(name string) int64 {
	n, _ := a.out.Int(name)
	return n
}

func (a *analysis) numPtr(name string) *int64 {
	n, ok := a.out.Int(name)
	if !ok {
		return nil
	}
	return &n
}

// deriveGFP parses the mask and prefers the flags the kernel printed
// next to it over the ones decoded with the flag table.
func (a *analysis) deriveGFP() {
	t := &a.res.Trigger
	delete(a.res.Details, "trigger_proc_gfp_flags")

	raw, ok := a.out.Fields.Get("trigger_proc_gfp_mask")
	if !ok {
		return
	}
	mask, err := gfp.ParseMask(raw)
	if err != nil {
		a.res.Messages.Add(extract.SeverityError, "Failed to read GFP mask %q: %v", raw, err)
		return
	}
	t.GFPMaskDecimal = mask

	table := a.cfg.GFP()
	if printed, ok := a.out.Fields.Get("trigger_proc_gfp_flags"); ok {
		t.GFPFlags = gfp.SplitPrinted(printed)
		t.GFPFlagsPrinted = true

		encoded, err := table.Encode(t.GFPFlags...)
		switch {
		case err != nil:
			a.res.Messages.Add(extract.SeverityDebug, "Printed GFP flags %q cannot be encoded: %v", printed, err)
		case encoded != mask:
			a.res.Messages.Add(extract.SeverityDebug,
				"Printed GFP flags %q (0x%x) differ from the mask 0x%x, decoded as %q",
				printed, encoded, mask, gfp.Format(table.DecodeNames(mask)))
		}
		t.GFPMask = raw + " (" + printed + ")"
	} else {
		t.GFPFlags = table.DecodeNames(mask)
		t.GFPMask = raw + " (" + gfp.Format(t.GFPFlags) + ")"
	}
	a.res.Details["trigger_proc_gfp_mask"] = t.GFPMask
}

func (a *analysis) deriveType() {
	if v, ok := a.out.Fields.Get("trigger_proc_order"); ok && strings.TrimSpace(v) == "-1" {
		a.res.Type = TypeManual
		return
	}
	a.res.Type = TypeAutomatic
}

// deriveNotes marks the trigger and the killed process in the table,
// the killed mark wins when both are the same process.
func (a *analysis) deriveNotes() {
	pt := a.out.Processes
	if pid, ok := a.out.Int("trigger_proc_pid"); ok {
		pt.SetNotes(int(pid), notesTrigger)
	}
	if pid, ok := a.out.Int("killed_proc_pid"); ok {
		pt.SetNotes(int(pid), notesKilled)
	}
}

func (a *analysis) derivePlatform() {
	s := &a.res.System
	s.Platform = "unknown"
	if strings.Contains(s.KernelVersion, "x86_64") {
		s.Platform = "x86 64bit"
	}
	s.Dist = "unknown"
	for _, d := range dists {
		if strings.Contains(s.KernelVersion, d.substr) {
			s.Dist = d.name
			break
		}
	}
	a.res.Details["platform"] = s.Platform
	a.res.Details["dist"] = s.Dist
}

func (a *analysis) deriveMemory() {
	a.res.Memory = Memory{
		ActiveAnonPages:        a.num("active_anon_pages"),
		InactiveAnonPages:      a.num("inactive_anon_pages"),
		ActiveFilePages:        a.num("active_file_pages"),
		InactiveFilePages:      a.num("inactive_file_pages"),
		UnevictablePages:       a.num("unevictable_pages"),
		DirtyPages:             a.num("dirty_pages"),
		WritebackPages:         a.num("writeback_pages"),
		SlabReclaimablePages:   a.num("slab_reclaimable_pages"),
		SlabUnreclaimablePages: a.num("slab_unreclaimable_pages"),
		MappedPages:            a.num("mapped_pages"),
		ShmemPages:             a.num("shmem_pages"),
		PagetablesPages:        a.num("pagetables_pages"),
		FreePages:              a.num("free_pages"),
		PagecacheTotalPages:    a.num("pagecache_total_pages"),
		RAMPages:               a.num("ram_pages"),
		ReservedPages:          a.num("reserved_pages"),
	}
}

// deriveSwap computes SwapUsed = SwapTotal - SwapFree - SwapCache.
func (a *analysis) deriveSwap() {
	s := &a.res.Swap
	s.TotalKB = a.num("swap_total_kb")
	s.FreeKB = a.num("swap_free_kb")
	s.Active = s.TotalKB > 0
	if !s.Active {
		return
	}

	s.CacheKB = a.num("swap_cache_pages") * a.out.PageSizeKB
	s.UsedKB = s.TotalKB - s.FreeKB - s.CacheKB
	s.UsedPercent = percent(s.UsedKB, s.TotalKB)

	delete(a.res.Details, "swap_cache_pages")
	a.res.Details["swap_cache_kb"] = s.CacheKB
	a.res.Details["swap_used_kb"] = s.UsedKB
	a.res.Details["system_swap_used_percent"] = s.UsedPercent
}

func (a *analysis) deriveSystem() {
	s := &a.res.System
	ps := a.out.PageSizeKB

	s.TotalRAMKB = a.num("ram_pages") * ps
	s.TotalRAMSwapKB = s.TotalRAMKB
	if a.res.Swap.Active {
		s.TotalRAMSwapKB += a.res.Swap.TotalKB
	}
	s.TotalRAMUsedKB = a.out.Processes.TotalRSSPages() * ps
	s.UsedPercent = percent(s.TotalRAMUsedKB, s.TotalRAMKB)

	a.res.Details["system_total_ram_kb"] = s.TotalRAMKB
	a.res.Details["system_total_ramswap_kb"] = s.TotalRAMSwapKB
	a.res.Details["system_total_ram_used_kb"] = s.TotalRAMUsedKB
	a.res.Details["system_total_used_percent"] = s.UsedPercent
}

func (a *analysis) deriveTrigger() {
	t := &a.res.Trigger
	t.PID = a.num("trigger_proc_pid")
	t.Name = a.out.Fields.Display("trigger_proc_name")
	t.OOMScore = a.num("trigger_proc_oomscore")
	t.Nodemask = a.out.Fields.Display("trigger_proc_nodemask")

	order, ok := a.out.Int("trigger_proc_order")
	t.Order = order
	if ok && order >= 0 {
		t.RequestedPages = int64(1) << uint(order)
	}
	t.RequestedKB = t.RequestedPages * a.out.PageSizeKB

	table := a.cfg.GFP()
	switch {
	case table.Has(t.GFPMaskDecimal, flagDMA):
		t.Zone = zoneDMA
	case table.Has(t.GFPMaskDecimal, flagDMA32):
		t.Zone = zoneDMA32
	default:
		t.Zone = zoneNormal
	}

	a.res.Details["trigger_proc_requested_memory_pages"] = t.RequestedPages
	a.res.Details["trigger_proc_requested_memory_pages_kb"] = t.RequestedKB
	a.res.Details["trigger_proc_mem_zone"] = t.Zone
}

func (a *analysis) deriveKilled() {
	k := &a.res.Killed
	k.PID = a.num("killed_proc_pid")
	k.Name = a.out.Fields.Display("killed_proc_name")
	k.Score = a.numPtr("killed_proc_score")
	k.OOMScoreAdj = a.numPtr("killed_proc_oom_score_adj")
	k.PgtablesKB = a.numPtr("killed_proc_pgtables")
	k.TotalVMKB = a.num("killed_proc_total_vm_kb")
	k.AnonRSSKB = a.num("killed_proc_anon_rss_kb")
	k.FileRSSKB = a.num("killed_proc_file_rss_kb")
	k.ShmemRSSKB = a.num("killed_proc_shmem_rss_kb")
	k.TotalRSSKB = k.AnonRSSKB + k.FileRSSKB + k.ShmemRSSKB
	k.RSSPercent = percent(k.TotalRSSKB, a.res.System.TotalRAMKB)

	a.res.Details["killed_proc_total_rss_kb"] = k.TotalRSSKB
	a.res.Details["killed_proc_rss_percent"] = k.RSSPercent
}

// searchShortageNode finds the first node whose free memory in the
// trigger zone is below the min watermark.
func (a *analysis) searchShortageNode() {
	zone := a.res.Trigger.Zone
	a.res.Details["trigger_proc_numa_node"] = extract.NotFound

	if _, ok := a.out.Watermarks[zone]; !ok {
		a.res.Messages.Add(extract.SeverityDebug, "Missing watermark info for zone %s - skip memory analysis", zone)
		return
	}
	for _, node := range a.out.Watermarks.Nodes(zone) {
		wm, _ := a.out.Watermarks.Get(zone, node)
		if wm.Free < wm.Min {
			n := node
			a.res.Trigger.NUMANode = &n
			a.res.Details["trigger_proc_numa_node"] = int64(node)
			return
		}
	}
}

// classify re-does the checks of mm/page_alloc.c:__zone_watermark_ok()
// for the node short of memory.
func (a *analysis) classify() {
	res := a.res
	res.Classification = a.classification()
	res.Details["mem_alloc_failure"] = res.Classification.String()
}

func (a *analysis) classification() Classification {
	res := a.res
	debug := func(format string, args ...any) {
		res.Messages.Add(extract.SeverityDebug, format, args...)
	}

	if res.Type == TypeManual {
		debug("OOM triggered manually - skip memory analysis")
		return NotStarted
	}
	order, ok := a.out.Int("trigger_proc_order")
	if !ok {
		debug("Missing trigger_proc_order - skip memory analysis")
		return MissingData
	}
	costly := a.cfg.CostlyOrder()
	if order > int64(costly) {
		debug("high order requests should not trigger OOM - skip memory analysis")
		return SkippedHighOrder
	}
	if a.out.BuddyInfo.Empty() {
		debug("Missing buddyinfo - skip memory analysis")
		return MissingData
	}
	if len(a.out.Watermarks) == 0 {
		debug("Missing watermark information - skip memory analysis")
		return MissingData
	}

	zone := res.Trigger.Zone
	if res.Trigger.NUMANode == nil {
		debug("No node with memory shortage in zone %s - skip memory analysis", zone)
		return NotStarted
	}
	node := *res.Trigger.NUMANode

	wm, _ := a.out.Watermarks.Get(zone, node)
	zoneIdx := a.cfg.ZoneIndex(zone)
	if zoneIdx < 0 || zoneIdx >= len(wm.LowmemReserve) {
		debug("Missing lowmem_reserve of zone %s on node %d - skip memory analysis", zone, node)
		return MissingData
	}

	// calculated in kB, not in pages
	minKB := wm.Low
	if high, ok := a.cfg.GFP().Value(flagHigh); !ok {
		res.Messages.Add(extract.SeverityInternal, "GFP flag %s is not defined in configuration %q", flagHigh, a.cfg.ID())
	} else if high != 0 && res.Trigger.GFPMaskDecimal&high == high {
		minKB -= minKB / 2
	}

	// a high order request cannot go ahead below the watermark even if a
	// suitable chunk happened to be free
	if wm.Free <= minKB+wm.LowmemReserve[zoneIdx]*a.out.PageSizeKB {
		return FailedBelowLowWatermark
	}

	found, known := a.out.BuddyInfo.HasFreeChunks(int(order), zone, node)
	switch {
	case !known:
		debug("Missing free areas of zone %s on node %d - skip memory analysis", zone, node)
		return MissingData
	case !found:
		return FailedNoFreeChunks
	}
	return FailedUnknownReason
}

// checkFragmentation reports whether no chunk of
// PAGE_ALLOC_COSTLY_ORDER or higher is left in the trigger zone.
func (a *analysis) checkFragmentation() {
	zone := a.res.Trigger.Zone
	costly := a.cfg.CostlyOrder()
	a.res.Details["page_alloc_costly_order"] = int64(costly)

	z, ok := a.out.BuddyInfo.Zone(zone)
	if !ok {
		return
	}

	var nodes []int
	if a.res.Trigger.NUMANode != nil {
		nodes = []int{*a.res.Trigger.NUMANode}
	} else {
		nodes = z.Nodes()
	}

	anyKnown, anyFound := false, false
	for _, node := range nodes {
		found, known := a.out.BuddyInfo.HasFreeChunks(costly, zone, node)
		if !known {
			continue
		}
		anyKnown = true
		if found {
			anyFound = true
			break
		}
	}
	if !anyKnown {
		return
	}
	fragmented := !anyFound
	a.res.Fragmented = &fragmented
	a.res.Details["mem_fragmented"] = fragmented
}

// percent is the integer percentage of part in total, 0 when total is 0.
func percent(part, total int64) int64 {
	if total == 0 {
		return 0
	}
	return 100 * part / total
}
