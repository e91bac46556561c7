package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"gopkg.in/yaml.v3"

	"github.com/ericfisherdev/prreviewer/internal/application"
	"github.com/ericfisherdev/prreviewer/internal/domain/model"
)

// Output formats accepted by --output.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// UI provides colored output for commands.
type UI struct {
	Verbose bool
	Out     io.Writer
	ErrOut  io.Writer
}

// NewUI creates a UI with default stdout/stderr writers.
func NewUI() *UI {
	return &UI{
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	}
}

var (
	infoPrefix    = color.New(color.FgHiBlue).Sprint("i")
	successPrefix = color.New(color.FgHiGreen).Sprint("✓")
	warningPrefix = color.New(color.FgHiYellow).Sprint("⚠")
	verbosePrefix = color.New(color.FgHiBlue).Sprint("  →")
	cyan          = color.New(color.FgHiCyan).SprintFunc()
	green         = color.New(color.FgHiGreen).SprintFunc()
	yellow        = color.New(color.FgHiYellow).SprintFunc()
	red           = color.New(color.FgHiRed).SprintFunc()
)

// StatusColor returns the execution status colored by outcome.
func StatusColor(status model.ExecutionStatus) string {
	s := string(status)
	switch status {
	case model.ExecutionRunning:
		return yellow(s)
	case model.ExecutionSucceeded:
		return green(s)
	case model.ExecutionAborted:
		return cyan(s)
	default:
		return red(s)
	}
}

func (u *UI) Info(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", infoPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Success(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", successPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Warning(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", warningPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) VerboseLog(format string, a ...any) {
	if u.Verbose {
		fmt.Fprintf(u.Out, "%s %s\n", verbosePrefix, fmt.Sprintf(format, a...))
	}
}

// Table creates a new tablewriter configured with consistent styling.
func (u *UI) Table(headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(u.Out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}

// Encode writes v as indented JSON or YAML.
func (u *UI) Encode(format string, v any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(u.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		// Round-trip through JSON so the YAML keys follow the json tags.
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(u.Out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(generic)
	default:
		return fmt.Errorf("unsupported output format %q (want table, json, or yaml)", format)
	}
}

// PrintStatus renders one execution in the requested format.
func (u *UI) PrintStatus(format string, report application.StatusReport) error {
	if format != FormatTable {
		return u.Encode(format, report)
	}

	table := u.Table([]string{"Field", "Value"})
	_ = table.Append([]string{"Execution", report.ExecutionARN})
	_ = table.Append([]string{"Status", StatusColor(report.Status)})
	_ = table.Append([]string{"State", string(report.State)})
	_ = table.Append([]string{"Started", formatTime(report.StartDate)})
	if report.StopDate != nil {
		_ = table.Append([]string{"Stopped", formatTime(*report.StopDate)})
	}
	if out, ok := report.Output.(*model.ExecutionOutput); ok {
		_ = table.Append([]string{"Pull request", fmt.Sprintf("%s/%s#%d", out.Owner, out.Repository, out.PullRequestNumber)})
		_ = table.Append([]string{"Posted", green(strconv.Itoa(out.Result.SuccessfulPosts))})
		_ = table.Append([]string{"Not posted", failedCount(out.Result.FailedPosts)})
	}
	if report.Error != "" {
		_ = table.Append([]string{"Error", red(report.Error)})
		_ = table.Append([]string{"Cause", report.Cause})
	}
	return table.Render()
}

// PrintReviews lists each file's review outcome.
func (u *UI) PrintReviews(reviews []model.ReviewResult) error {
	if len(reviews) == 0 {
		return nil
	}
	table := u.Table([]string{"File", "Review", "Detail"})
	for _, r := range reviews {
		detail := r.Error
		if r.Status == model.ReviewSucceeded {
			detail = r.Model
		}
		_ = table.Append([]string{r.File, reviewColor(r.Status), detail})
	}
	return table.Render()
}

// PrintList renders recent executions.
func (u *UI) PrintList(format string, reports []application.StatusReport) error {
	if format != FormatTable {
		return u.Encode(format, reports)
	}

	table := u.Table([]string{"Execution", "Status", "State", "Started", "Stopped"})
	for _, r := range reports {
		stopped := ""
		if r.StopDate != nil {
			stopped = formatTime(*r.StopDate)
		}
		_ = table.Append([]string{r.ExecutionARN, StatusColor(r.Status), string(r.State), formatTime(r.StartDate), stopped})
	}
	return table.Render()
}

func reviewColor(status model.ReviewStatus) string {
	s := string(status)
	switch status {
	case model.ReviewSucceeded:
		return green(s)
	case model.ReviewSkipped:
		return yellow(s)
	default:
		return red(s)
	}
}

func failedCount(n int) string {
	if n == 0 {
		return strconv.Itoa(n)
	}
	return yellow(strconv.Itoa(n))
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}
