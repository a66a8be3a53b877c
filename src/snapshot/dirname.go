package snapshot

import (
	"fmt"
	"strconv"
	"strings"
)

// Snapshot subdirectories are named <term_hex>_<index_hex>, each integer
// lowercase hex left-padded to hexWidth characters so that lexicographic
// ordering of names equals numeric ordering of (term, index).
const hexWidth = 16

// DirName returns the subdirectory name for a snapshot at it.
func DirName(it IdxTerm) string {
	return fmt.Sprintf("%0*x_%0*x", hexWidth, it.Term, hexWidth, it.Index)
}

// ParseDirName recovers the (index, term) pair from a snapshot directory
// name. Names that do not follow the layout report ok=false.
func ParseDirName(name string) (IdxTerm, bool) {
	termHex, indexHex, found := strings.Cut(name, "_")
	if !found || len(termHex) < hexWidth || len(indexHex) < hexWidth {
		return IdxTerm{}, false
	}

	term, err := parseHexField(termHex)
	if err != nil {
		return IdxTerm{}, false
	}
	index, err := parseHexField(indexHex)
	if err != nil {
		return IdxTerm{}, false
	}

	return IdxTerm{Index: index, Term: term}, true
}

func parseHexField(s string) (uint64, error) {
	// reject uppercase and signs; ParseUint alone would admit them
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return 0, fmt.Errorf("invalid hex rune %q", r)
		}
	}
	return strconv.ParseUint(s, 16, 64)
}
