package backend

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/pprof/profile"
	"github.com/olekukonko/tablewriter"
)

// Filter restricts report rows by module (package path) and function name.
// Both fields accept glob wildcards; empty means "*".
type Filter struct {
	Module   string
	Function string
}

// AnyFilter matches every function.
var AnyFilter = Filter{Module: "*", Function: "*"}

func (f Filter) String() string {
	return orStar(f.Module) + "/" + orStar(f.Function)
}

func orStar(s string) string {
	if strings.TrimSpace(s) == "" {
		return "*"
	}
	return s
}

type funcMatcher struct {
	module   glob.Glob
	function glob.Glob
}

// Validate reports whether both patterns compile.
func (f Filter) Validate() error {
	_, err := f.compile()
	return err
}

func (f Filter) compile() (*funcMatcher, error) {
	mod, err := glob.Compile(orStar(f.Module))
	if err != nil {
		return nil, fmt.Errorf("%w: module pattern %q: %v", ErrBadFilter, f.Module, err)
	}
	fn, err := glob.Compile(orStar(f.Function))
	if err != nil {
		return nil, fmt.Errorf("%w: function pattern %q: %v", ErrBadFilter, f.Function, err)
	}
	return &funcMatcher{module: mod, function: fn}, nil
}

func (m *funcMatcher) match(module, function string) bool {
	return m.module.Match(module) && m.function.Match(function)
}

// SplitFuncName splits a Go symbol into package path and function part:
// "net/http.(*Server).Serve" -> "net/http", "(*Server).Serve".
func SplitFuncName(name string) (string, string) {
	slash := strings.LastIndexByte(name, '/')
	dot := strings.IndexByte(name[slash+1:], '.')
	if dot < 0 {
		return "", name
	}
	dot += slash + 1
	return name[:dot], name[dot+1:]
}

// Row is one function of a report.
type Row struct {
	Name     string
	Module   string
	Function string
	OwnCount int64
	CumCount int64
	OwnTime  time.Duration
	CumTime  time.Duration
}

// Summary is the analyzed form of a profile.
type Summary struct {
	Kind      Kind
	Scope     string
	Filter    Filter
	Sort      Sort
	Samples   int64
	TotalTime time.Duration
	Duration  time.Duration
	Rows      []Row
	Unscoped  bool
}

// Summarize aggregates prof per function, keeping samples within scope and
// rows matching filter, ordered by sortKey.
func Summarize(kind Kind, prof *profile.Profile, scope Scope, filter Filter, sortKey Sort) (*Summary, error) {
	m, err := filter.compile()
	if err != nil {
		return nil, err
	}
	caps := CapsOf(kind)
	sum := &Summary{Kind: kind, Scope: scope.Describe, Filter: filter, Sort: sortKey, Unscoped: !caps.Labels}
	if !caps.Labels {
		sum.Scope = "process-wide"
	}
	if prof == nil {
		return sum, nil
	}
	sum.Duration = time.Duration(prof.DurationNanos)

	countIdx, timeIdx := valueIndexes(prof)
	period := int64(0)
	if prof.PeriodType != nil && prof.PeriodType.Unit == "nanoseconds" {
		period = prof.Period
	}

	rows := make(map[string]*Row)
	for _, s := range prof.Sample {
		if caps.Labels && !scope.Matches(s.Label) {
			continue
		}
		count := valueAt(s, countIdx)
		var nanos int64
		if timeIdx >= 0 {
			nanos = valueAt(s, timeIdx)
		} else {
			nanos = count * period
		}
		sum.Samples += count
		sum.TotalTime += time.Duration(nanos)

		seen := make(map[string]struct{})
		for depth, loc := range s.Location {
			for li, line := range loc.Line {
				if line.Function == nil {
					continue
				}
				name := line.Function.Name
				mod, fn := SplitFuncName(name)
				if !m.match(mod, fn) {
					continue
				}
				r := rows[name]
				if r == nil {
					r = &Row{Name: name, Module: mod, Function: fn}
					rows[name] = r
				}
				if depth == 0 && li == 0 {
					r.OwnCount += count
					r.OwnTime += time.Duration(nanos)
				}
				if _, dup := seen[name]; !dup {
					seen[name] = struct{}{}
					r.CumCount += count
					r.CumTime += time.Duration(nanos)
				}
			}
		}
	}

	for _, r := range rows {
		sum.Rows = append(sum.Rows, *r)
	}
	sortRows(sum.Rows, sortKey)
	return sum, nil
}

func valueIndexes(prof *profile.Profile) (countIdx, timeIdx int) {
	countIdx, timeIdx = -1, -1
	for i, st := range prof.SampleType {
		switch st.Unit {
		case "count":
			if countIdx < 0 {
				countIdx = i
			}
		case "nanoseconds":
			if timeIdx < 0 {
				timeIdx = i
			}
		}
	}
	if countIdx < 0 && len(prof.SampleType) > 0 {
		countIdx = 0
	}
	return countIdx, timeIdx
}

func valueAt(s *profile.Sample, idx int) int64 {
	if idx < 0 || idx >= len(s.Value) {
		return 0
	}
	return s.Value[idx]
}

func sortRows(rows []Row, key Sort) {
	less := func(a, b Row) bool { return a.OwnTime > b.OwnTime }
	switch key {
	case SortCalls:
		less = func(a, b Row) bool { return a.OwnCount > b.OwnCount }
	case SortName:
		less = func(a, b Row) bool { return a.Name < b.Name }
	case SortAccumulated:
		less = func(a, b Row) bool { return a.CumTime > b.CumTime }
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if less(rows[i], rows[j]) {
			return true
		}
		if less(rows[j], rows[i]) {
			return false
		}
		return rows[i].Name < rows[j].Name
	})
}

const maxReportRows = 50

// Render formats the summary as the textual report stored in result files.
func (s *Summary) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "backend: %s\nscope: %s\nfilter: %s\nsort: %s\n", s.Kind, s.Scope, s.Filter, s.Sort)
	fmt.Fprintf(&b, "samples: %d  total: %s", s.Samples, s.TotalTime)
	if s.Duration > 0 {
		fmt.Fprintf(&b, "  duration: %s", s.Duration)
	}
	b.WriteString("\n\n")
	if len(s.Rows) == 0 {
		b.WriteString("no samples matched\n")
		return b.String()
	}

	table := tablewriter.NewWriter(&b)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	if s.Kind == KindWall {
		table.SetHeader([]string{"Function", "Accumulated", "Own", "Samples", "%"})
	} else {
		table.SetHeader([]string{"Function", "Calls", "Time", "Cum", "%"})
	}
	rows := s.Rows
	if len(rows) > maxReportRows {
		rows = rows[:maxReportRows]
	}
	for _, r := range rows {
		if s.Kind == KindWall {
			table.Append([]string{r.Name, r.CumTime.String(), r.OwnTime.String(), fmt.Sprint(r.CumCount), percent(r.CumTime, s.TotalTime)})
			continue
		}
		table.Append([]string{r.Name, fmt.Sprint(r.OwnCount), r.OwnTime.String(), r.CumTime.String(), percent(r.OwnTime, s.TotalTime)})
	}
	table.Render()
	if len(s.Rows) > maxReportRows {
		fmt.Fprintf(&b, "... %d more functions\n", len(s.Rows)-maxReportRows)
	}
	return b.String()
}

func percent(part, total time.Duration) string {
	if total <= 0 {
		return "0.00"
	}
	return fmt.Sprintf("%.2f", float64(part)*100/float64(total))
}
