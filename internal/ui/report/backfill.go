package report

import (
	"fmt"
	"io"
	"raafstore/internal/core/backfill"
	"raafstore/internal/core/entity"
	"strconv"
	"strings"
	"time"
)

// Backfill renders r as JSON or as a human summary.
func Backfill(w io.Writer, r *backfill.Report, format Format) error {
	if r == nil {
		return fmt.Errorf("no report to render")
	}
	if format == FormatJSON {
		return writeJSON(w, r)
	}
	_, err := io.WriteString(w, BackfillText(r))
	return err
}

func Verdict(r *backfill.Report) string {
	switch {
	case r.Cancelled:
		return "cancelled"
	case r.Err() != nil:
		if r.Mode == backfill.ModeVerify && r.Mismatched() {
			return "mismatch"
		}
		return "failed"
	}
	return "ok"
}

func BackfillText(r *backfill.Report) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("Backfill %s", r.Mode)))
	b.WriteString("\n")
	scope := r.Scope
	if scope == "" {
		scope = "all"
	}
	duration := r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond)
	b.WriteString(mutedStyle.Render(fmt.Sprintf("run %s  scope %s  took %s", r.RunID, scope, duration)))
	b.WriteString("\n\n")

	if r.Mode == backfill.ModeVerify {
		writeVerification(&b, r)
	} else {
		writeStats(&b, r)
	}
	if r.Mode == backfill.ModeDryRun {
		writePlan(&b, r)
	}
	writeArchived(&b, r)
	writeFailures(&b, r)

	b.WriteString(fmt.Sprintf("journal: %d acknowledged, %d pending\n", r.JournalAcked, r.JournalPending))
	verdict := Verdict(r)
	style := okStyle
	if verdict != "ok" {
		style = failStyle
	}
	b.WriteString(style.Render("result: " + verdict))
	b.WriteString("\n")
	return b.String()
}

func writeStats(b *strings.Builder, r *backfill.Report) {
	t := newTable("KIND", "SCANNED", "CREATED", "UPDATED", "UNCHANGED", "ARCHIVED", "FAILED")
	for _, s := range r.Stats {
		t.Row(string(s.Kind),
			strconv.Itoa(s.Scanned),
			strconv.Itoa(s.Created),
			strconv.Itoa(s.Updated),
			strconv.Itoa(s.Unchanged),
			strconv.Itoa(s.Archived),
			strconv.Itoa(s.Failed))
	}
	b.WriteString(t.Render())
	b.WriteString("\n")
}

func writeVerification(b *strings.Builder, r *backfill.Report) {
	t := newTable("KIND", "FILES", "STORE", "MISSING IN STORE", "MISSING IN FILES", "DRIFTED")
	for _, v := range r.Verification {
		t.Row(string(v.Kind),
			strconv.Itoa(v.FileCount),
			strconv.Itoa(v.StoreCount),
			strconv.Itoa(len(v.MissingInStore)),
			strconv.Itoa(len(v.MissingInFiles)),
			strconv.Itoa(len(v.Drifted)))
	}
	b.WriteString(t.Render())
	b.WriteString("\n")

	for _, v := range r.Verification {
		if !v.Mismatched() {
			continue
		}
		b.WriteString(warnStyle.Render(fmt.Sprintf("%s:", v.Kind)))
		b.WriteString("\n")
		writeKeys(b, "missing in store", v.MissingInStore)
		writeKeys(b, "missing in files", v.MissingInFiles)
		writeKeys(b, "drifted", v.Drifted)
	}
}

func writeKeys(b *strings.Builder, label string, keys []string) {
	for _, k := range keys {
		b.WriteString(fmt.Sprintf("  %s: %s\n", label, k))
	}
}

func writePlan(b *strings.Builder, r *backfill.Report) {
	if len(r.Plan) == 0 {
		b.WriteString(okStyle.Render("nothing to write"))
		b.WriteString("\n")
		return
	}
	t := newTable("ACTION", "KIND", "KEY")
	for _, item := range r.Plan {
		t.Row(string(item.Action), string(item.Kind), item.Key)
	}
	b.WriteString(t.Render())
	b.WriteString("\n")
}

func writeArchived(b *strings.Builder, r *backfill.Report) {
	if len(r.Archived) == 0 {
		return
	}
	b.WriteString(warnStyle.Render("archived:"))
	b.WriteString("\n")
	for _, kind := range entity.Kinds {
		for _, key := range r.Archived[string(kind)] {
			b.WriteString(fmt.Sprintf("  %s %s\n", kind, key))
		}
	}
}

func writeFailures(b *strings.Builder, r *backfill.Report) {
	if len(r.Failures) == 0 {
		return
	}
	b.WriteString(failStyle.Render(fmt.Sprintf("%d failures:", len(r.Failures))))
	b.WriteString("\n")
	for _, f := range r.Failures {
		where := f.Key
		if f.Path != "" {
			where = fmt.Sprintf("%s (%s)", f.Key, f.Path)
		}
		b.WriteString(fmt.Sprintf("  %s %s [%s] %s\n", f.Kind, where, f.Code, f.Error))
	}
}
