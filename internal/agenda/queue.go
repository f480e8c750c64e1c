package agenda

import (
	"container/heap"

	"github.com/KSD-CO/rule-engine-go/internal/rete"
)

// entry is one agenda-queue item: an activation plus the monotonic sequence
// number it was inserted with, used as the FIFO tie-breaker within a
// salience band (spec §3: equal-salience activations fire in assertion
// order).
type entry struct {
	activation rete.Activation
	seq        int64
}

// priorityQueue orders entries by descending salience, then ascending
// insertion sequence, implemented over container/heap per spec §4.G.
type priorityQueue []*entry

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	si := pq[i].activation.Rule.Attributes.Salience
	sj := pq[j].activation.Rule.Attributes.Salience
	if si != sj {
		return si > sj
	}
	return pq[i].seq < pq[j].seq
}

func (pq priorityQueue) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }

func (pq *priorityQueue) Push(x any) {
	*pq = append(*pq, x.(*entry))
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return e
}

// groupQueue wraps priorityQueue with the heap interface already satisfied
// and keeps a per-rule-name index of the queued entries;
// removeAllForActivationGroup scans the heap itself, not this index.
type groupQueue struct {
	pq     priorityQueue
	byRule map[string][]*entry
}

func newGroupQueue() *groupQueue {
	q := &groupQueue{byRule: make(map[string][]*entry)}
	heap.Init(&q.pq)
	return q
}

func (q *groupQueue) push(e *entry) {
	heap.Push(&q.pq, e)
	q.byRule[e.activation.Rule.Name] = append(q.byRule[e.activation.Rule.Name], e)
}

func (q *groupQueue) popBest() *entry {
	if q.pq.Len() == 0 {
		return nil
	}
	e := heap.Pop(&q.pq).(*entry)
	q.removeFromByRule(e)
	return e
}

func (q *groupQueue) removeFromByRule(e *entry) {
	list := q.byRule[e.activation.Rule.Name]
	for i, other := range list {
		if other == e {
			q.byRule[e.activation.Rule.Name] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// removeAllForActivationGroup removes every queued activation belonging to
// activationGroup, used once one of them fires (spec §3: only one
// activation per activation-group fires).
func (q *groupQueue) removeAllForActivationGroup(group string) {
	var kept priorityQueue
	for _, e := range q.pq {
		if e.activation.Rule.Attributes.ActivationGroup == group {
			q.removeFromByRule(e)
			continue
		}
		kept = append(kept, e)
	}
	q.pq = kept
	heap.Init(&q.pq)
}

func (q *groupQueue) len() int { return q.pq.Len() }
