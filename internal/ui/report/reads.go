package report

import (
	"encoding/json"
	"fmt"
	"io"
	"raafstore/internal/core/mode"
	"raafstore/internal/data/store"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type entityView struct {
	Kind   string `json:"kind" yaml:"kind"`
	Key    string `json:"key" yaml:"key"`
	Found  bool   `json:"found" yaml:"found"`
	Source string `json:"source" yaml:"source"`
	Entity any    `json:"entity,omitempty" yaml:"entity,omitempty"`
}

// Entity renders a mode read. Text output is YAML, the shape operators know from the tree.
func Entity(w io.Writer, res mode.Result, format Format) error {
	view := entityView{Found: res.Found, Source: string(res.Source), Entity: res.Entity}
	if res.Entity != nil {
		key := res.Entity.NaturalKey()
		view.Kind, view.Key = string(key.Kind), key.String()
	}
	if format == FormatJSON {
		return writeJSON(w, view)
	}
	if !res.Found {
		_, err := io.WriteString(w, warnStyle.Render("not found")+"\n")
		return err
	}
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("%s %s (from %s)", view.Kind, view.Key, view.Source)))

	// Round-trip through JSON so field names follow the json tags.
	raw, err := json.Marshal(res.Entity)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

func Dashboard(w io.Writer, rows []store.DashboardRow, format Format) error {
	if format == FormatJSON {
		return writeJSON(w, nonNil(rows))
	}
	t := newTable("CLIENT", "REQUISITION", "TITLE", "STATUS", "CANDIDATES", "ASSESSED", "PENDING", "RECOMMENDED", "AVG %")
	for _, r := range rows {
		t.Row(r.ClientCode, r.ReqID, r.Title, r.RequisitionStatus,
			strconv.Itoa(r.Candidates),
			strconv.Itoa(r.Assessed),
			strconv.Itoa(r.Pending),
			strconv.Itoa(r.Recommended),
			strconv.FormatFloat(r.AvgPercentage, 'f', 1, 64))
	}
	_, err := io.WriteString(w, t.Render()+"\n")
	return err
}

func Search(w io.Writer, rows []store.SearchRow, format Format) error {
	if format == FormatJSON {
		return writeJSON(w, nonNil(rows))
	}
	if len(rows) == 0 {
		_, err := io.WriteString(w, mutedStyle.Render("no matches")+"\n")
		return err
	}
	t := newTable("REQUISITION", "CANDIDATE", "STATUS", "RECOMMENDATION", "SCORE %")
	for _, r := range rows {
		t.Row(r.ReqID, r.DisplayName, string(r.Status), string(r.Recommendation), formatPercent(r.Percentage))
	}
	_, err := io.WriteString(w, t.Render()+"\n"+mutedStyle.Render(fmt.Sprintf("%d matches", len(rows)))+"\n")
	return err
}

func formatPercent(p *float64) string {
	if p == nil {
		return "-"
	}
	return strings.TrimSuffix(strconv.FormatFloat(*p, 'f', 1, 64), ".0")
}

func nonNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}
