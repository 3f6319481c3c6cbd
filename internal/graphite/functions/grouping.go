package functions

import (
	"fmt"
	"sort"
	"strings"

	"github.com/moira-alert/moira/internal/graphite/eval"
	"github.com/moira-alert/moira/internal/moira"
)

func init() {
	eval.Register("group", groupFn)
	eval.Register("groupByNode", groupByNodeFn)
	eval.Register("mapSeries", mapSeriesFn)
	eval.Register("reduceSeries", reduceSeriesFn)
	eval.Register("sumSeriesWithWildcards", wildcardCombinerFn("sumSeriesWithWildcards", reduceSum))
	eval.Register("averageSeriesWithWildcards", wildcardCombinerFn("averageSeriesWithWildcards", reduceAvg))
	eval.Register("multiplySeriesWithWildcards", wildcardCombinerFn("multiplySeriesWithWildcards", func(vs []float64) float64 {
		acc := 1.0
		for _, v := range vs {
			acc *= v
		}
		return acc
	}))
}

// groupFn simply concatenates every argument's series into one flat list.
func groupFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	return moira.SeriesValue(allInputSeries(rc, args)), nil
}

func nodeKey(name string, indices []int) string {
	nodes := strings.Split(name, ".")
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
	return strings.Join(parts, ".")
}

// groupByNodeFn groups series by the node at the given index, combining each
// group's members with the named reduce function (default: sumSeries).
func groupByNodeFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	if len(args) < 2 {
		return moira.Value{}, fmt.Errorf("groupByNode: expected (series, node, [callback])")
	}
	node := int(args[1].Number)
	callback := "sumSeries"
	if len(args) > 2 {
		callback = args[2].Str
	}
	reduce := combinerReduceFor(callback)

	series := args[0].AsSeries(rc.StartTime, rc.EndTime, 60)
	groups := groupByKey(series, []int{node})

	out := make([]*moira.Series, 0, len(groups))
	for _, g := range groups {
		start, end, step, aligned := normalize(g.Series)
		count := int(safeDiv(end-start, step))
		values := zipRows(count, aligned, func(row []*float64) *float64 {
			var present []float64
			for _, v := range row {
				if v != nil {
					present = append(present, *v)
				}
			}
			if len(present) == 0 {
				return nil
			}
			r := reduce(present)
			return &r
		})
		out = append(out, &moira.Series{Name: g.Key, Start: start, End: end, Step: step, Values: values})
	}
	return moira.SeriesValue(out), nil
}

func combinerReduceFor(name string) func([]float64) float64 {
	switch name {
	case "averageSeries", "avg":
		return reduceAvg
	case "minSeries":
		return reduceMin
	case "maxSeries":
		return reduceMax
	case "stddevSeries":
		return reduceStddev
	default:
		return reduceSum
	}
}

func groupByKey(series []*moira.Series, indices []int) []moira.SeriesGroup {
	order := make([]string, 0)
	byKey := make(map[string][]*moira.Series)
	for _, s := range series {
		key := nodeKey(s.Name, indices)
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], s)
	}
	sort.Strings(order)
	groups := make([]moira.SeriesGroup, 0, len(order))
	for _, k := range order {
		groups = append(groups, moira.SeriesGroup{Key: k, Series: byKey[k]})
	}
	return groups
}

// mapSeriesFn groups the input series by the value(s) at the given node
// indices, yielding one SeriesGroup per distinct key — reduceSeries then
// applies a reduce function within each group (§4.D).
func mapSeriesFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	if len(args) < 2 {
		return moira.Value{}, fmt.Errorf("mapSeries: expected (series, node...)")
	}
	indices := make([]int, 0, len(args)-1)
	for _, a := range args[1:] {
		indices = append(indices, int(a.Number))
	}
	series := args[0].AsSeries(rc.StartTime, rc.EndTime, 60)
	return moira.SeriesGroupsValue(groupByKey(series, indices)), nil
}

// reduceSeriesFn applies reduceFunction to each mapSeries group, matching
// reduceMatchers against the node at reduceNode (relative to each member's
// own name) to pick out the positional arguments the reduce function's call
// expects — e.g. reduceSeries(mapSeries(M.*.{free,total},1),"asPercent",3,
// "free","total") calls asPercent(free_series, total_series) once per host.
func reduceSeriesFn(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
	if len(args) < 3 || args[0].Kind != moira.KindSeriesGroups {
		return moira.Value{}, fmt.Errorf("reduceSeries: expected (mapSeries(...), reduceFunction, reduceNode, matchers...)")
	}
	reduceFunc, ok := lookup(args[1].Str)
	if !ok {
		return moira.Value{}, fmt.Errorf("reduceSeries: unknown reduce function %q", args[1].Str)
	}
	reduceNode := int(args[2].Number)
	matchers := make([]string, 0, len(args)-3)
	for _, a := range args[3:] {
		matchers = append(matchers, a.Str)
	}

	out := make([]*moira.Series, 0, len(args[0].Groups))
	for _, group := range args[0].Groups {
		byMatcher := make(map[string]*moira.Series)
		for _, s := range group.Series {
			nodes := strings.Split(s.Name, ".")
			idx := reduceNode
			if idx < 0 {
				idx += len(nodes)
			}
			if idx < 0 || idx >= len(nodes) {
				continue
			}
			byMatcher[nodes[idx]] = s
		}

		callArgs := make([]moira.Value, 0, len(matchers))
		missing := false
		for _, m := range matchers {
			s, ok := byMatcher[m]
			if !ok {
				missing = true
				break
			}
			callArgs = append(callArgs, moira.SeriesValue([]*moira.Series{s}))
		}
		if missing || len(callArgs) == 0 {
			continue
		}

		result, err := reduceFunc(rc, callArgs, nil)
		if err != nil {
			return moira.Value{}, err
		}

		// Name the reduced series after the first matched member's own
		// name, with the node at reduceNode replaced by the reduce
		// function's name — e.g. "M.host1.mem.free" -> "M.host1.mem.asPercent".
		template := byMatcher[matchers[0]].Name
		nodes := strings.Split(template, ".")
		idx := reduceNode
		if idx < 0 {
			idx += len(nodes)
		}
		if idx >= 0 && idx < len(nodes) {
			nodes[idx] = args[1].Str
		}
		name := strings.Join(nodes, ".")

		for _, s := range result.AsSeries(rc.StartTime, rc.EndTime, 60) {
			cp := s.Clone()
			cp.Name = name
			out = append(out, cp)
		}
	}
	return moira.SeriesValue(out), nil
}

func wildcardCombinerFn(label string, reduce func([]float64) float64) eval.Fn {
	return func(rc *eval.RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error) {
		series := allInputSeries(rc, args)
		return combinerFn(label, reduce)(rc, []moira.Value{moira.SeriesValue(series)}, kwargs)
	}
}
