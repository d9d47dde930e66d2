package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PayTable looks up cluster pays by symbol and size bucket.
type PayTable struct {
	buckets []int
	pays    map[Symbol][]decimal.Decimal
}

// NewPayTable builds a pay table from cfg.
func NewPayTable(cfg GameConfig) (*PayTable, error) {
	pt := &PayTable{
		buckets: append([]int(nil), cfg.SizeBuckets...),
		pays:    make(map[Symbol][]decimal.Decimal, len(cfg.Symbols)),
	}
	for _, s := range cfg.Symbols {
		if len(s.Pays) != len(pt.buckets) {
			return nil, fmt.Errorf("symbol %s: %d pays for %d buckets", s.Symbol, len(s.Pays), len(pt.buckets))
		}
		row := make([]decimal.Decimal, len(s.Pays))
		for i, p := range s.Pays {
			row[i] = decimal.NewFromFloat(p)
		}
		pt.pays[s.Symbol] = row
	}
	return pt, nil
}

// Bucket returns the bucket index for a cluster of size n, or -1 when n is
// below the smallest bucket.
func (pt *PayTable) Bucket(n int) int {
	idx := -1
	for i, lower := range pt.buckets {
		if n >= lower {
			idx = i
		}
	}
	return idx
}

// Multiplier returns the bet multiplier for a cluster of sym with size n.
func (pt *PayTable) Multiplier(sym Symbol, n int) decimal.Decimal {
	row, ok := pt.pays[sym]
	if !ok {
		return decimal.Zero
	}
	b := pt.Bucket(n)
	if b < 0 {
		return decimal.Zero
	}
	return row[b]
}

// Payout returns the win for c at the given bet. Scatter and unknown symbols
// never pay.
func (pt *PayTable) Payout(c Cluster, bet decimal.Decimal) decimal.Decimal {
	return pt.Multiplier(c.Symbol, c.Size).Mul(bet)
}
