package correction

import (
	"fmt"
	"path"
	"slices"
)

// Levels of the jet energy correction chain, in application order.
const (
	L1FastJet    = "L1FastJet"
	L2Relative   = "L2Relative"
	L3Absolute   = "L3Absolute"
	L2L3Residual = "L2L3Residual"
)

// JetAlgo is the jet collection suffix of every table name.
const JetAlgo = "AK4PFPuppi"

// Key identifies the payload and table prefix of one data-taking period.
type Key struct {
	Year    int
	Era     string
	IsData  bool
	Tag     string
	Name    string
	Version string
	Period  string
}

// Resolve maps a (year, era, is-data) selector to its correction payload.
func Resolve(year int, era string, isData bool) (Key, error) {
	k := Key{Year: year, Era: era, IsData: isData}
	switch year {
	case 2022:
		k.Version = "V2"
		if era == "C" || era == "D" {
			k.Tag, k.Name, k.Period = "2022_Summer22", "Summer22_22Sep2023", "CD"
		} else {
			k.Tag, k.Name, k.Period = "2022_Summer22EE", "Summer22EE_22Sep2023", era
		}
	case 2023:
		k.Version = "V1"
		if slices.Contains([]string{"Cv123", "Cv4", "C"}, era) {
			k.Tag, k.Name = "2023_Summer23", "Summer23Prompt23"
			if isData {
				k.Period = era
			}
		} else {
			k.Tag, k.Name, k.Period = "2023_Summer23BPix", "Summer23BPixPrompt23", era
		}
	case 2024:
		k.Version, k.Tag, k.Name = "V2", "2024_Winter24", "Winter24Prompt24"
		switch era {
		case "B", "C", "D", "BCD":
			k.Period = "BCD"
		case "E", "F", "G", "H", "I":
			k.Period = era
		default:
			return Key{}, fmt.Errorf("%w: %d era %q", ErrUnknownEra, year, era)
		}
	default:
		return Key{}, fmt.Errorf("%w: year %d", ErrUnknownEra, year)
	}
	return k, nil
}

// File returns the payload path relative to a payload root.
func (k Key) File() string { return path.Join("JEC", k.Tag, "jet_jerc.json.gz") }

// Prefix returns the table name prefix shared by every level.
func (k Key) Prefix() string {
	if k.IsData {
		return fmt.Sprintf("%s_Run%s_%s_DATA_", k.Name, k.Period, k.Version)
	}
	return fmt.Sprintf("%s_%s_MC_", k.Name, k.Version)
}

// Table returns the full table name of one correction level.
func (k Key) Table(level string) string { return k.Prefix() + level + "_" + JetAlgo }
