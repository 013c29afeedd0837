package services

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fleamarket-scraper/models"
)

// RunReport collects stage outcomes for one pipeline run.
type RunReport struct {
	Started  time.Time
	Finished time.Time
	Stages   []models.StageResult
	LogFile  string
}

// NewRunReport starts a report at the given time.
func NewRunReport(started time.Time) *RunReport {
	return &RunReport{Started: started}
}

// Add appends a stage outcome.
func (r *RunReport) Add(stage models.StageResult) {
	r.Stages = append(r.Stages, stage)
}

// Finish stamps the end time.
func (r *RunReport) Finish(at time.Time) {
	r.Finished = at
}

// Success reports whether every stage whose failure is fatal succeeded.
func (r *RunReport) Success() bool {
	for _, s := range r.Stages {
		if s.Ran && s.Fatal && !s.Success {
			return false
		}
	}
	return true
}

// Totals sums the item counts of every stage that ran.
func (r *RunReport) Totals() models.RunStats {
	var total models.RunStats
	for _, s := range r.Stages {
		if s.Ran {
			total.Add(s.Stats)
		}
	}
	return total
}

func (r *RunReport) duration() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// WriteTo writes the plain-text summary.
func (r *RunReport) WriteTo(w io.Writer) (int64, error) {
	var b bytes.Buffer
	sep := strings.Repeat("=", 80)
	thin := strings.Repeat("-", 80)

	fmt.Fprintln(&b, sep)
	fmt.Fprintln(&b, "Flea market pipeline run report")
	fmt.Fprintln(&b, sep)
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "Started : %s\n", r.Started.Format("2006-01-02 15:04:05"))
	if !r.Finished.IsZero() {
		fmt.Fprintf(&b, "Finished: %s\n", r.Finished.Format("2006-01-02 15:04:05"))
	}
	d := r.duration()
	fmt.Fprintf(&b, "Duration: %.1fs (%.1fm)\n\n", d.Seconds(), d.Minutes())

	fmt.Fprintln(&b, thin)
	fmt.Fprintln(&b, "Stages")
	fmt.Fprintln(&b, thin)
	fmt.Fprintln(&b)

	for _, s := range r.Stages {
		fmt.Fprintf(&b, "[%s] %s\n", strings.ToUpper(s.Name), stageStatus(s))
		if !s.Ran {
			fmt.Fprintln(&b)
			continue
		}
		fmt.Fprintf(&b, "  duration : %.1fs\n", s.Duration.Seconds())
		fmt.Fprintf(&b, "  processed: %d | skipped: %d | failed: %d\n", s.Stats.Processed, s.Stats.Skipped, s.Stats.Failed)
		if s.Err != nil {
			fmt.Fprintf(&b, "  error    : %v\n", s.Err)
		}
		fmt.Fprintln(&b)
	}

	t := r.Totals()
	fmt.Fprintln(&b, sep)
	fmt.Fprintf(&b, "Result   : %s\n", map[bool]string{true: "SUCCESS", false: "FAILED"}[r.Success()])
	fmt.Fprintf(&b, "Totals   : processed %d | skipped %d | failed %d\n", t.Processed, t.Skipped, t.Failed)
	if r.LogFile != "" {
		fmt.Fprintf(&b, "Log file : %s\n", r.LogFile)
	}
	fmt.Fprintln(&b, sep)

	n, err := w.Write(b.Bytes())
	return int64(n), err
}

// Save writes the summary to path.
func (r *RunReport) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("report: create dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create %q: %w", path, err)
	}
	if _, err := r.WriteTo(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("report: write %q: %w", path, err)
	}
	return f.Close()
}

// Print writes a colored summary for the terminal.
func (r *RunReport) Print(w io.Writer) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  📊 FLEA MARKET PIPELINE SUMMARY\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	fmt.Fprintf(w, "\033[1;33m  Stages\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	for _, s := range r.Stages {
		color := "\033[1;32m"
		switch {
		case !s.Ran:
			color = "\033[0;37m"
		case !s.Success && s.Fatal:
			color = "\033[1;31m"
		case !s.Success:
			color = "\033[1;33m"
		}
		fmt.Fprintf(w, "  %-12s %s%-9s\033[0m %6.1fs  ✔ %-4d ↷ %-4d ✘ %d\n",
			s.Name, color, stageStatus(s), s.Duration.Seconds(),
			s.Stats.Processed, s.Stats.Skipped, s.Stats.Failed)
		if s.Err != nil {
			fmt.Fprintf(w, "  %12s \033[0;31m%s\033[0m\n", "", truncate(s.Err.Error(), 60))
		}
	}
	fmt.Fprintln(w)

	t := r.Totals()
	fmt.Fprintf(w, "\033[1;33m  Totals\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Processed : \033[1m%d\033[0m\n", t.Processed)
	fmt.Fprintf(w, "  Skipped   : \033[1m%d\033[0m\n", t.Skipped)
	fmt.Fprintf(w, "  Failed    : \033[1m%d\033[0m\n", t.Failed)
	fmt.Fprintf(w, "  Duration  : \033[1m%s\033[0m\n", r.duration().Round(time.Second))
	if r.Success() {
		fmt.Fprintf(w, "  Result    : \033[1;32mSUCCESS\033[0m\n")
	} else {
		fmt.Fprintf(w, "  Result    : \033[1;31mFAILED\033[0m\n")
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

func stageStatus(s models.StageResult) string {
	switch {
	case !s.Ran:
		return "skipped"
	case s.Success:
		return "ok"
	case s.Fatal:
		return "failed"
	default:
		return "warning"
	}
}

// truncate shortens s to max runes, marking the cut with "...".
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
