// Copyright (C) 2021 Aung Maw
// Licensed under the GNU General Public License v3.0

package types

import "strconv"

// BlockHeight is a monotonically non-decreasing block counter. Height
// 0 means "no block committed" (spec §3).
type BlockHeight uint64

// IsGenesis reports whether h is the sentinel "no block committed"
// height.
func (h BlockHeight) IsGenesis() bool { return h == 0 }

func formatHeight(h BlockHeight) string {
	return strconv.FormatUint(uint64(h), 10)
}

// Epoch is a monotonically increasing epoch counter, starting at 0 at
// genesis.
type Epoch uint64
