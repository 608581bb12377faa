// Package hist books the battery of histograms filled at every selection
// checkpoint and guarantees their names never collide.
package hist

import (
	"strconv"
	"strings"

	"github.com/spaolacci/murmur3"
)

// Mass is the variable name of the dijet invariant mass histograms.
const Mass = "mjj"

// Inclusive is the category code of histograms not split by category.
const Inclusive = 0

// Key is the logical identity of one battery histogram.
type Key struct {
	Variable   string
	Category   int
	Checkpoint string
	// Single marks a cut applied in isolation to the pre-cut state rather
	// than cumulatively.
	Single bool
}

// Name renders the histogram name of k:
//
//	<variable>[_PartonFlavour<category>][_cut_<checkpoint> | _single_<checkpoint>]
//
// The pre-cut state has an empty checkpoint and no suffix.
func (k Key) Name() string {
	var b strings.Builder
	b.WriteString(k.Variable)
	if k.Category != Inclusive {
		b.WriteString("_PartonFlavour")
		b.WriteString(strconv.Itoa(k.Category))
	}
	if k.Checkpoint != "" {
		if k.Single {
			b.WriteString("_single_")
		} else {
			b.WriteString("_cut_")
		}
		b.WriteString(k.Checkpoint)
	}
	return b.String()
}

// Name returns the name of the cumulative histogram of variable in category
// at checkpoint.
func Name(variable string, category int, checkpoint string) string {
	return Key{Variable: variable, Category: category, Checkpoint: checkpoint}.Name()
}

// Fingerprint is a stable 64-bit hash of a histogram name.
func Fingerprint(name string) uint64 {
	return murmur3.Sum64([]byte(name))
}
