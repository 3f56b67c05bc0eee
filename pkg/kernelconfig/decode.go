package kernelconfig

import (
	"fmt"

	"github.com/leptonai/oomanalyzer/pkg/gfp"
)

// Decoded is a GFP mask decoded with the flag table of one configuration.
type Decoded struct {
	Config  string   `json:"config"`
	Mask    string   `json:"mask"`
	Decimal uint64   `json:"decimal"`
	Flags   []string `json:"flags"`
	// Unknown holds the bits no flag accounts for, e.g. "0x10000000".
	Unknown string `json:"unknown,omitempty"`
	// Warning is set when the kernel version did not select a release
	// and the fallback table was used.
	Warning string `json:"warning,omitempty"`
}

// DecodeGFP decodes a printed mask ("0x140dca"). The flag table is the one
// of configuration id if set, else the one selected for kernelVersion, else
// the newest release.
func (r *Registry) DecodeGFP(mask string, id string, kernelVersion string) (Decoded, error) {
	v, err := gfp.ParseMask(mask)
	if err != nil {
		return Decoded{}, err
	}

	var (
		c       *Config
		warning string
	)
	switch {
	case id != "":
		c, err = r.Get(id)
		if err != nil {
			return Decoded{}, err
		}
	case kernelVersion != "":
		var serr error
		c, serr = r.Select(kernelVersion)
		if serr != nil {
			warning = serr.Error()
		}
	default:
		c = r.configs[0]
	}

	flags, remaining := c.GFP().Decode(v)
	d := Decoded{
		Config:  c.ID(),
		Mask:    fmt.Sprintf("0x%x", v),
		Decimal: v,
		Flags:   flags,
		Warning: warning,
	}
	if remaining != 0 {
		d.Unknown = fmt.Sprintf("0x%x", remaining)
	}
	return d, nil
}
