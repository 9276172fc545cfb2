package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"build-collector/src/collector"
	"build-collector/src/contracts"
)

const (
	maxJobWidth      = 40
	maxInstanceWidth = 48
	maxErrorWidth    = 60
)

// JobRow is one line of the jobs table.
type JobRow struct {
	Job        contracts.Job
	Builds     int
	LastStatus contracts.BuildStatus // empty when no build is stored
}

type column struct {
	title string
	width int
	cells []string
}

func newColumn(title string, maxWidth int, cells []string) column {
	w := VisualWidth(title)
	for _, c := range cells {
		if cw := VisualWidth(c); cw > w {
			w = cw
		}
	}
	if maxWidth > 0 && w > maxWidth {
		w = maxWidth
	}
	return column{title: title, width: w, cells: cells}
}

// renderTable lays out columns with a header row. style picks the style of a
// cell by row and column index.
func renderTable(s *StyleConfig, title string, cols []column, style func(row, col int) lipgloss.Style) string {
	var b strings.Builder

	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = s.HeaderStyle().Render(TruncateAndPad(c.title, c.width, false))
	}
	b.WriteString(strings.Join(header, "  "))

	rows := 0
	if len(cols) > 0 {
		rows = len(cols[0].cells)
	}
	for r := 0; r < rows; r++ {
		b.WriteString("\n")
		line := make([]string, len(cols))
		for i, c := range cols {
			line[i] = style(r, i).Render(TruncateAndPad(c.cells[r], c.width, true))
		}
		b.WriteString(strings.Join(line, "  "))
	}

	return lipgloss.JoinVertical(lipgloss.Left, s.TitleStyle().Render(title), s.BoxStyle().Render(b.String()))
}

// RenderJobs renders the jobs table.
func RenderJobs(s *StyleConfig, rows []JobRow) string {
	if len(rows) == 0 {
		return s.MutedStyle().Render("No jobs collected yet.")
	}

	n := len(rows)
	names, instances, enabled, builds, statuses := make([]string, n), make([]string, n), make([]string, n), make([]string, n), make([]string, n)
	for i, r := range rows {
		names[i] = r.Job.JobName
		instances[i] = r.Job.InstanceURL
		enabled[i] = yesNo(r.Job.Enabled)
		builds[i] = strconv.Itoa(r.Builds)
		statuses[i] = string(r.LastStatus)
		if statuses[i] == "" {
			statuses[i] = "-"
		}
	}

	cols := []column{
		newColumn("JOB", maxJobWidth, names),
		newColumn("INSTANCE", maxInstanceWidth, instances),
		newColumn("ENABLED", 0, enabled),
		newColumn("BUILDS", 0, builds),
		newColumn("LAST", 0, statuses),
	}

	enabledCount := 0
	for _, r := range rows {
		if r.Job.Enabled {
			enabledCount++
		}
	}
	title := fmt.Sprintf("Jobs (%d, %d enabled)", len(rows), enabledCount)

	return renderTable(s, title, cols, func(row, col int) lipgloss.Style {
		switch {
		case col == 4:
			return s.StatusStyle(rows[row].LastStatus)
		case !rows[row].Job.Enabled:
			return s.MutedStyle()
		default:
			return s.CellStyle()
		}
	})
}

// RenderReport renders a cycle report, one row per instance.
func RenderReport(s *StyleConfig, report *collector.CycleReport) string {
	n := len(report.Instances)
	instances, seen, newJobs, newBuilds, skipped, errs := make([]string, n), make([]string, n), make([]string, n), make([]string, n), make([]string, n), make([]string, n)
	for i, inst := range report.Instances {
		instances[i] = inst.InstanceURL
		seen[i] = strconv.Itoa(inst.JobsSeen)
		newJobs[i] = strconv.Itoa(inst.NewJobs)
		newBuilds[i] = strconv.Itoa(inst.NewBuilds)
		skipped[i] = strconv.Itoa(inst.SkippedBuilds)
		errs[i] = inst.Error
	}

	cols := []column{
		newColumn("INSTANCE", maxInstanceWidth, instances),
		newColumn("JOBS", 0, seen),
		newColumn("NEW JOBS", 0, newJobs),
		newColumn("NEW BUILDS", 0, newBuilds),
		newColumn("SKIPPED", 0, skipped),
		newColumn("ERROR", maxErrorWidth, errs),
	}

	totalJobs, totalBuilds := report.Totals()
	title := fmt.Sprintf("%s: %d new jobs, %d new builds", report.CollectorName, totalJobs, totalBuilds)
	if report.CleanedUp {
		title += " (cleanup ran)"
	}

	failed := s.StatusStyle(contracts.StatusFailure)
	return renderTable(s, title, cols, func(row, col int) lipgloss.Style {
		if report.Instances[row].Error != "" {
			return failed
		}
		return s.CellStyle()
	})
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
