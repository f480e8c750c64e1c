package grl

import (
	"os"
	"regexp"
	"sort"

	"github.com/KSD-CO/rule-engine-go/internal/kb"
	"github.com/KSD-CO/rule-engine-go/internal/rerr"
	"github.com/KSD-CO/rule-engine-go/internal/rlog"
)

// moduleMarker records a `;; MODULE: NAME` comment's source line.
type moduleMarker struct {
	line int
	name string
}

var moduleMarkerPattern = regexp.MustCompile(`^\s*;;\s*MODULE:\s*(\S+)\s*$`)

// scanModuleMarkers finds every `;; MODULE: NAME` comment line in source,
// the file-layout convention spec §4.C uses to assign a rule to a module
// when it isn't already inside a defmodule block.
func scanModuleMarkers(source string) []moduleMarker {
	var markers []moduleMarker
	line := 1
	start := 0
	for i := 0; i <= len(source); i++ {
		if i == len(source) || source[i] == '\n' {
			text := source[start:i]
			if m := moduleMarkerPattern.FindStringSubmatch(text); m != nil {
				markers = append(markers, moduleMarker{line: line, name: m[1]})
			}
			line++
			start = i + 1
		}
	}
	return markers
}

// moduleForLine returns the name of the nearest marker at or before line,
// defaulting to "MAIN" when no marker precedes it.
func moduleForLine(markers []moduleMarker, line int) string {
	best := "MAIN"
	for _, m := range markers {
		if m.line <= line {
			best = m.name
		} else {
			break
		}
	}
	return best
}

// assignModules fills in each rule's Module field by comment proximity.
// markers is assumed sorted by line, which scanModuleMarkers guarantees by
// construction (a single forward pass over source).
func assignModules(source string, rules []RuleDecl) {
	markers := scanModuleMarkers(source)
	for i := range rules {
		rules[i].Module = moduleForLine(markers, rules[i].Line)
	}
}

// LoadFile reads a GRL file from disk and installs it into base and
// modules, returning the queries it declared.
func LoadFile(path string, base *kb.KnowledgeBase, modules *kb.ModuleManager) ([]QueryDecl, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rerr.Wrap(rerr.KindInternalError, err, "grl: read %s", path)
	}
	return LoadSource(string(data), base, modules)
}

// LoadSource parses a GRL document and installs its modules and rules into
// base and modules, returning the queries it declared for the host to
// register separately (queries aren't stored in the KnowledgeBase).
func LoadSource(source string, base *kb.KnowledgeBase, modules *kb.ModuleManager) ([]QueryDecl, error) {
	log := rlog.Get(rlog.CategoryGRL)

	res, err := Parse(source)
	if err != nil {
		log.Errorw("parse failed", "error", err)
		return nil, err
	}

	for _, md := range res.Modules {
		modules.CreateModule(md.Name)
	}
	// Rules may declare a module via comment marker without an explicit
	// defmodule block (spec §4.C); make sure every such module exists too.
	moduleNames := map[string]struct{}{}
	for _, rd := range res.Rules {
		moduleNames[rd.Module] = struct{}{}
	}
	for name := range moduleNames {
		modules.CreateModule(name)
	}

	for _, rd := range res.Rules {
		rule := &kb.Rule{
			Name:        rd.Name,
			Description: rd.Description,
			Module:      rd.Module,
			Attributes:  rd.Attrs,
			Condition:   rd.Condition,
			Actions:     rd.Actions,
		}
		if err := base.AddRule(rule); err != nil {
			log.Errorw("add rule failed", "rule", rd.Name, "error", err)
			return nil, err
		}
		log.Debugw("rule loaded", "rule", rd.Name, "module", rd.Module)
	}

	for _, md := range res.Modules {
		for _, ruleName := range md.Exports {
			if err := modules.Export(md.Name, ruleName); err != nil {
				return nil, err
			}
		}
	}
	for _, md := range res.Modules {
		for _, from := range md.Imports {
			if err := modules.ImportFrom(md.Name, from); err != nil {
				return nil, err
			}
		}
	}

	sort.Slice(res.Queries, func(i, j int) bool { return res.Queries[i].Line < res.Queries[j].Line })
	log.Infow("grl source loaded", "rules", len(res.Rules), "queries", len(res.Queries), "modules", len(res.Modules))
	return res.Queries, nil
}
