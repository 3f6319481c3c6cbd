package functions

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/moira-alert/moira/internal/graphite/eval"
	"github.com/moira-alert/moira/internal/moira"
)

func init() {
	eval.Register("alias", aliasFn)
	eval.Register("aliasByNode", aliasByNodeFn)
	eval.Register("aliasByMetric", aliasByMetricFn)
	eval.Register("aliasSub", aliasSubFn)
}

func aliasFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	if len(args) < 2 {
		return moira.Value{}, fmt.Errorf("alias: expected (series, newName)")
	}
	name := args[1].Str
	out := make([]*moira.Series, 0)
	for _, s := range args[0].AsSeries(rc.StartTime, rc.EndTime, 60) {
		cp := s.Clone()
		cp.Name = name
		out = append(out, cp)
	}
	return moira.SeriesValue(out), nil
}

// aliasByNodeFn renames each series to the dot-separated node(s) of its own
// name at the given 0-based (or negative, counted from the end) indices.
func aliasByNodeFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	if len(args) < 2 {
		return moira.Value{}, fmt.Errorf("aliasByNode: expected (series, node...)")
	}
	indices := make([]int, 0, len(args)-1)
	for _, a := range args[1:] {
		indices = append(indices, int(a.Number))
	}

	out := make([]*moira.Series, 0)
	for _, s := range args[0].AsSeries(rc.StartTime, rc.EndTime, 60) {
		nodes := strings.Split(s.Name, ".")
		parts := make([]string, 0, len(indices))
		for _, idx := range indices {
			i := idx
			if i < 0 {
				i += len(nodes)
			}
			if i >= 0 && i < len(nodes) {
				parts = append(parts, nodes[i])
			}
		}
		cp := s.Clone()
		cp.Name = strings.Join(parts, ".")
		out = append(out, cp)
	}
	return moira.SeriesValue(out), nil
}

func aliasByMetricFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	out := make([]*moira.Series, 0)
	for _, s := range args[0].AsSeries(rc.StartTime, rc.EndTime, 60) {
		nodes := strings.Split(s.Name, ".")
		cp := s.Clone()
		cp.Name = nodes[len(nodes)-1]
		out = append(out, cp)
	}
	return moira.SeriesValue(out), nil
}

func aliasSubFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	if len(args) < 3 {
		return moira.Value{}, fmt.Errorf("aliasSub: expected (series, search, replace)")
	}
	re, err := regexp.Compile(args[1].Str)
	if err != nil {
		return moira.Value{}, fmt.Errorf("aliasSub: %w", err)
	}
	replace := args[2].Str
	out := make([]*moira.Series, 0)
	for _, s := range args[0].AsSeries(rc.StartTime, rc.EndTime, 60) {
		cp := s.Clone()
		cp.Name = re.ReplaceAllString(s.Name, replace)
		out = append(out, cp)
	}
	return moira.SeriesValue(out), nil
}
