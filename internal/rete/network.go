package rete

import (
	"fmt"
	"sort"
	"strings"

	"github.com/KSD-CO/rule-engine-go/internal/expr"
	"github.com/KSD-CO/rule-engine-go/internal/facts"
	"github.com/KSD-CO/rule-engine-go/internal/kb"
)

// Activation is one complete, consistent match of a rule's condition tree:
// the rule itself plus the token carrying the facts and bindings it matched
// against (spec §4.F / §4.G activation record).
type Activation struct {
	Rule  *kb.Rule
	Token Token
}

// ActivationDelta reports a change to the set of activations a rule chain
// currently satisfies, handed to the agenda so it can insert or remove the
// corresponding agenda entry.
type ActivationDelta struct {
	Activation Activation
	Added      bool
}

// Network is the compiled discrimination network for an entire knowledge
// base: one AlphaNode per distinct pattern shape (shared across every rule
// and branch that uses it) and one chain per DNF branch of every enabled
// rule's condition tree.
type Network struct {
	funcs      expr.Funcs
	alphaNodes map[string]*AlphaNode
	chains     []*chain
	rules      map[string]*kb.Rule
	prevTokens map[string]map[string]Token // chainID -> token signature -> token
}

// Build compiles a network from every enabled rule in kbase. funcs is the
// host function registry consulted by Test conditions and action
// expressions alike.
func Build(kbase *kb.KnowledgeBase, funcs expr.Funcs) *Network {
	n := &Network{
		funcs:      funcs,
		alphaNodes: make(map[string]*AlphaNode),
		rules:      make(map[string]*kb.Rule),
		prevTokens: make(map[string]map[string]Token),
	}
	for _, r := range kbase.All() {
		if !r.Attributes.Enabled {
			continue
		}
		n.rules[r.Name] = r
		for _, p := range collectPatterns(r.Condition) {
			n.ensureAlpha(p)
		}
		for i, branch := range flattenToBranches(r.Condition) {
			ch := &chain{ruleName: r.Name, branch: i, leaves: branch}
			ch.types = make(map[string]bool)
			for _, leaf := range branch {
				for _, t := range typesOf(leaf) {
					ch.types[t] = true
				}
			}
			n.chains = append(n.chains, ch)
		}
	}
	return n
}

func (n *Network) ensureAlpha(p kb.Pattern) *AlphaNode {
	key := alphaKey(p)
	if a, ok := n.alphaNodes[key]; ok {
		return a
	}
	a := newAlphaNode(p, n.funcs)
	n.alphaNodes[key] = a
	return a
}

func chainID(ch *chain) string {
	return fmt.Sprintf("%s#%d", ch.ruleName, ch.branch)
}

// Update drains wm's pending changes, propagates them through every alpha
// node they touch, re-evaluates every chain whose referenced types were
// touched, and returns the activation deltas (spec §4.F/§4.G): newly
// satisfied tokens are reported Added, previously satisfied tokens that no
// longer hold are reported removed.
func (n *Network) Update(wm *facts.WorkingMemory) ([]ActivationDelta, error) {
	changes := wm.DrainChanges()
	if len(changes) == 0 {
		return nil, nil
	}

	touched := make(map[string]bool)
	for _, ch := range changes {
		touched[ch.TypeName] = true
		for _, alpha := range n.alphaNodes {
			if alpha.pattern.TypeName != ch.TypeName {
				continue
			}
			switch ch.Kind {
			case facts.ChangeRetract:
				alpha.onRetract(ch.Handle, ch.TypeName)
			default:
				_, data, ok := wm.Get(ch.Handle)
				if !ok {
					alpha.onRetract(ch.Handle, ch.TypeName)
					continue
				}
				if err := alpha.onInsertOrUpdate(ch.Handle, ch.TypeName, data); err != nil {
					return nil, err
				}
			}
		}
	}

	var deltas []ActivationDelta
	for _, ch := range n.chains {
		dirty := false
		for t := range ch.types {
			if touched[t] {
				dirty = true
				break
			}
		}
		if !dirty {
			continue
		}
		id := chainID(ch)
		rule := n.rules[ch.ruleName]

		newTokens, err := ch.evaluate(n, wm)
		if err != nil {
			return nil, err
		}
		newSet := make(map[string]Token, len(newTokens))
		for _, tok := range newTokens {
			newSet[tokenSignature(tok)] = tok
		}
		oldSet := n.prevTokens[id]

		for sig, tok := range newSet {
			if _, existed := oldSet[sig]; !existed {
				deltas = append(deltas, ActivationDelta{Activation: Activation{Rule: rule, Token: tok}, Added: true})
			}
		}
		for sig, tok := range oldSet {
			if _, still := newSet[sig]; !still {
				deltas = append(deltas, ActivationDelta{Activation: Activation{Rule: rule, Token: tok}, Added: false})
			}
		}
		n.prevTokens[id] = newSet
	}
	return deltas, nil
}

// tokenSignature returns a stable key identifying a token's fact handles and
// bindings, used to diff successive evaluations of the same chain.
func tokenSignature(tok Token) string {
	var sb strings.Builder
	for _, h := range tok.Handles {
		fmt.Fprintf(&sb, "%d,", h)
	}
	keys := make([]string, 0, len(tok.Bindings))
	for k := range tok.Bindings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, _ := tok.Bindings.Get(k)
		fmt.Fprintf(&sb, "%s=%s;", k, v.String())
	}
	return sb.String()
}

// Rebuild discards all node memory and token history and recompiles the
// network from kbase, then re-seeds every alpha node from the facts already
// present in wm, used after a rule is added, removed, or (en/dis)abled
// (spec §4.D mutation invalidates derived structures, but live working
// memory must still be reflected immediately in the rebuilt network).
func (n *Network) Rebuild(kbase *kb.KnowledgeBase, wm *facts.WorkingMemory) error {
	fresh := Build(kbase, n.funcs)
	for _, alpha := range fresh.alphaNodes {
		for _, h := range wm.GetByType(alpha.pattern.TypeName) {
			_, data, ok := wm.Get(h)
			if !ok {
				continue
			}
			if err := alpha.onInsertOrUpdate(h, alpha.pattern.TypeName, data); err != nil {
				return err
			}
		}
	}
	for _, ch := range fresh.chains {
		id := chainID(ch)
		tokens, err := ch.evaluate(fresh, wm)
		if err != nil {
			return err
		}
		set := make(map[string]Token, len(tokens))
		for _, tok := range tokens {
			set[tokenSignature(tok)] = tok
		}
		fresh.prevTokens[id] = set
	}
	*n = *fresh
	return nil
}
