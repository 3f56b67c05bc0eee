package analyzer

import (
	"encoding/json"
	"fmt"

	"github.com/leptonai/oomanalyzer/pkg/kernelconfig"
	"github.com/leptonai/oomanalyzer/pkg/oom/extract"
	"github.com/leptonai/oomanalyzer/pkg/oom/logblock"
)

// Classification explains why the page allocation that triggered the OOM
// killer failed.
type Classification int

const (
	// NotStarted means the analysis did not run, e.g. for a manual trigger
	// or when no node is short of memory.
	NotStarted Classification = iota
	// MissingData means the free areas or watermarks lack the zone, node
	// or order of the request.
	MissingData
	// FailedBelowLowWatermark means the free memory of the zone is at or
	// below the low watermark plus the lowmem reserve.
	FailedBelowLowWatermark
	// FailedNoFreeChunks means no free chunk of the requested order or
	// higher was left.
	FailedNoFreeChunks
	// FailedUnknownReason means neither of the above applies.
	FailedUnknownReason
	// SkippedHighOrder means the requested order is above
	// PAGE_ALLOC_COSTLY_ORDER, such requests do not invoke the OOM killer.
	SkippedHighOrder
)

var classificationNames = map[Classification]string{
	NotStarted:              "not_started",
	MissingData:             "missing_data",
	FailedBelowLowWatermark: "failed_below_low_watermark",
	FailedNoFreeChunks:      "failed_no_free_chunks",
	FailedUnknownReason:     "failed_unknown_reason",
	SkippedHighOrder:        "skipped_high_order_dont_trigger_oom",
}

func (c Classification) String() string {
	if s, ok := classificationNames[c]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%d)", int(c))
}

func (c Classification) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Classification) UnmarshalText(b []byte) error {
	for k, v := range classificationNames {
		if v == string(b) {
			*c = k
			return nil
		}
	}
	return fmt.Errorf("unknown classification %q", string(b))
}

// Type tells how the OOM killer was invoked.
type Type string

const (
	TypeUnknown Type = "unknown"
	// TypeAutomatic is an OOM caused by a failed allocation.
	TypeAutomatic Type = "automatic"
	// TypeManual is an OOM triggered with sysrq, reported with order -1.
	TypeManual Type = "manual"
)

// Trigger is the process whose allocation invoked the OOM killer.
type Trigger struct {
	PID      int64  `json:"pid"`
	Name     string `json:"name"`
	Order    int64  `json:"order"`
	OOMScore int64  `json:"oom_score_adj"`
	Nodemask string `json:"nodemask"`

	// GFPMask is the mask followed by its flags, "0x140dca (GFP_KERNEL | ...)".
	GFPMask        string   `json:"gfp_mask"`
	GFPMaskDecimal uint64   `json:"gfp_mask_decimal"`
	GFPFlags       []string `json:"gfp_flags"`
	// GFPFlagsPrinted is true when the flags are the ones printed by the
	// kernel rather than decoded with the flag table.
	GFPFlagsPrinted bool `json:"gfp_flags_printed"`

	RequestedPages int64  `json:"requested_pages"`
	RequestedKB    int64  `json:"requested_kb"`
	Zone           string `json:"zone"`
	// NUMANode is the first node of Zone with less free memory than the
	// min watermark, nil if there is none.
	NUMANode *int `json:"numa_node"`
}

// Killed is the process the OOM killer terminated.
type Killed struct {
	PID         int64  `json:"pid"`
	Name        string `json:"name"`
	Score       *int64 `json:"score,omitempty"`
	OOMScoreAdj *int64 `json:"oom_score_adj,omitempty"`
	PgtablesKB  *int64 `json:"pgtables_kb,omitempty"`
	TotalVMKB   int64  `json:"total_vm_kb"`
	AnonRSSKB   int64  `json:"anon_rss_kb"`
	FileRSSKB   int64  `json:"file_rss_kb"`
	ShmemRSSKB  int64  `json:"shmem_rss_kb"`
	TotalRSSKB  int64  `json:"total_rss_kb"`
	RSSPercent  int64  `json:"rss_percent"`
}

// Memory is the "Mem-Info:" summary, in pages.
type Memory struct {
	ActiveAnonPages        int64 `json:"active_anon_pages"`
	InactiveAnonPages      int64 `json:"inactive_anon_pages"`
	ActiveFilePages        int64 `json:"active_file_pages"`
	InactiveFilePages      int64 `json:"inactive_file_pages"`
	UnevictablePages       int64 `json:"unevictable_pages"`
	DirtyPages             int64 `json:"dirty_pages"`
	WritebackPages         int64 `json:"writeback_pages"`
	SlabReclaimablePages   int64 `json:"slab_reclaimable_pages"`
	SlabUnreclaimablePages int64 `json:"slab_unreclaimable_pages"`
	MappedPages            int64 `json:"mapped_pages"`
	ShmemPages             int64 `json:"shmem_pages"`
	PagetablesPages        int64 `json:"pagetables_pages"`
	FreePages              int64 `json:"free_pages"`
	PagecacheTotalPages    int64 `json:"pagecache_total_pages"`
	RAMPages               int64 `json:"ram_pages"`
	ReservedPages          int64 `json:"reserved_pages"`
}

// Swap is the swap space at the time of the OOM, in kB.
type Swap struct {
	Active      bool  `json:"active"`
	TotalKB     int64 `json:"total_kb"`
	FreeKB      int64 `json:"free_kb"`
	CacheKB     int64 `json:"cache_kb"`
	UsedKB      int64 `json:"used_kb"`
	UsedPercent int64 `json:"used_percent"`
}

// System describes the machine.
type System struct {
	KernelVersion   string `json:"kernel_version"`
	Platform        string `json:"platform"`
	Dist            string `json:"dist"`
	PageSizeKB      int64  `json:"page_size_kb"`
	PageSizeGuessed bool   `json:"page_size_guessed"`
	TotalRAMKB      int64  `json:"total_ram_kb"`
	TotalRAMSwapKB  int64  `json:"total_ramswap_kb"`
	// TotalRAMUsedKB sums the RSS of the process table. Threads are
	// listed as processes, so this is an upper bound.
	TotalRAMUsedKB int64 `json:"total_ram_used_kb"`
	UsedPercent    int64 `json:"used_percent"`
}

// Result is the outcome of one analysis. It is owned by the caller.
type Result struct {
	State  logblock.State     `json:"state"`
	Config *kernelconfig.Info `json:"config,omitempty"`

	Type           Type           `json:"type"`
	Classification Classification `json:"classification"`
	// Fragmented is true when no free chunk at or above
	// PAGE_ALLOC_COSTLY_ORDER is left in the trigger zone, nil if unknown.
	Fragmented *bool `json:"fragmented"`

	Trigger Trigger `json:"trigger"`
	Killed  Killed  `json:"killed"`
	Memory  Memory  `json:"memory"`
	Swap    Swap    `json:"swap"`
	System  System  `json:"system"`

	// Details holds every extracted and derived field by name. Numeric
	// fields are int64, fields without a match are extract.NotFound.
	Details map[string]any `json:"details,omitempty"`

	HardwareInfo string                `json:"hardware_info,omitempty"`
	CallTrace    string                `json:"call_trace,omitempty"`
	Processes    *extract.ProcessTable `json:"processes,omitempty"`
	BuddyInfo    *extract.BuddyInfo    `json:"buddy_info,omitempty"`
	Watermarks   extract.Watermarks    `json:"watermarks,omitempty"`

	Messages extract.Messages `json:"messages"`

	// Text is the normalized OOM block.
	Text string `json:"text,omitempty"`
}

// JSON encodes the result with indentation.
func (r *Result) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
