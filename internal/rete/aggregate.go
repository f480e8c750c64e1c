package rete

import (
	"github.com/KSD-CO/rule-engine-go/internal/kb"
	"github.com/KSD-CO/rule-engine-go/internal/rerr"
	"github.com/KSD-CO/rule-engine-go/internal/value"
)

// aggregate reduces values per the Accumulate aggregator. It returns a nil
// *value.Value (not an error) when the aggregator has no defined result over
// an empty input — every aggregator except count fails an empty accumulate
// per spec §9 open question 4's resolution; callers drop the token.
func aggregate(agg kb.Aggregator, values []value.Value) (*value.Value, error) {
	if len(values) == 0 {
		if agg == kb.AggCount {
			v := value.NewInt(0)
			return &v, nil
		}
		return nil, nil
	}

	switch agg {
	case kb.AggCount:
		v := value.NewInt(int64(len(values)))
		return &v, nil

	case kb.AggFirst:
		v := values[0]
		return &v, nil

	case kb.AggLast:
		v := values[len(values)-1]
		return &v, nil

	case kb.AggSum, kb.AggAvg:
		var sum value.Value = value.NewInt(0)
		for _, v := range values {
			s, err := value.Arithmetic(sum, "+", v)
			if err != nil {
				return nil, err
			}
			sum = s
		}
		if agg == kb.AggSum {
			return &sum, nil
		}
		avg, err := value.Arithmetic(sum, "/", value.NewInt(int64(len(values))))
		if err != nil {
			return nil, err
		}
		return &avg, nil

	case kb.AggMin, kb.AggMax:
		best := values[0]
		for _, v := range values[1:] {
			op := value.OpGt
			if agg == kb.AggMin {
				op = value.OpLt
			}
			cmp, err := value.Compare(v, op, best)
			if err != nil {
				return nil, err
			}
			truthy, err := cmp.Truthy()
			if err != nil {
				return nil, err
			}
			if truthy {
				best = v
			}
		}
		return &best, nil

	default:
		return nil, rerr.Internal("unknown aggregator %q", agg)
	}
}
