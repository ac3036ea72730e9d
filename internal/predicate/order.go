package predicate

import (
	"cmp"
	"strings"

	"github.com/roach88/livesync/internal/ir"
)

// CompareRecords orders two records by the ORDER BY keys, breaking ties on
// record id (ascending, regardless of key direction). It returns a negative
// number when a sorts before b.
//
// Values of different kinds sort by kind rank:
// missing < null < bool < int < string < array < object.
func CompareRecords(order []OrderBy, a, b ir.Record) int {
	for _, key := range order {
		av, aok := a.Fields.Lookup(key.Field)
		bv, bok := b.Fields.Lookup(key.Field)
		c := compareSortValues(av, aok, bv, bok)
		if c == 0 {
			continue
		}
		if key.Desc {
			return -c
		}
		return c
	}
	return strings.Compare(string(a.ID), string(b.ID))
}

func kindRank(v ir.IRValue, present bool) int {
	if !present {
		return 0
	}
	switch ir.KindOf(v) {
	case ir.KindNull:
		return 1
	case ir.KindBool:
		return 2
	case ir.KindInt:
		return 3
	case ir.KindString:
		return 4
	case ir.KindArray:
		return 5
	default:
		return 6
	}
}

func compareSortValues(a ir.IRValue, aok bool, b ir.IRValue, bok bool) int {
	ra, rb := kindRank(a, aok), kindRank(b, bok)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	if c, ok := ir.Compare(a, b); ok {
		return c
	}
	if ab, isBool := a.(ir.IRBool); isBool {
		bb := b.(ir.IRBool)
		switch {
		case ab == bb:
			return 0
		case !bool(ab):
			return -1
		default:
			return 1
		}
	}
	if ra >= 5 {
		// Composite values order by their canonical encoding.
		ca, errA := ir.MarshalCanonical(a)
		cb, errB := ir.MarshalCanonical(b)
		if errA == nil && errB == nil {
			return strings.Compare(string(ca), string(cb))
		}
	}
	return 0
}
