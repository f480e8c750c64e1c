package backward

import (
	"github.com/KSD-CO/rule-engine-go/internal/kb"
	"github.com/KSD-CO/rule-engine-go/internal/rerr"
	"github.com/KSD-CO/rule-engine-go/internal/value"
)

// aggregate folds values per the named aggregator. Mirrors internal/rete's
// forward-chaining aggregator exactly, including the empty-set resolution
// of Open Question 4 (count → 0, every other aggregator fails the goal).
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
		return &values[0], nil
	case kb.AggLast:
		return &values[len(values)-1], nil
	case kb.AggSum, kb.AggAvg:
		acc := value.NewInt(0)
		for _, v := range values {
			var err error
			acc, err = value.Arithmetic(acc, "+", v)
			if err != nil {
				return nil, err
			}
		}
		if agg == kb.AggSum {
			return &acc, nil
		}
		avg, err := value.Arithmetic(acc, "/", value.NewInt(int64(len(values))))
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
