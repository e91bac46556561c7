package httphandler

import (
	"bytes"
	"html/template"
	"net/http"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/ericfisherdev/prreviewer/internal/domain/model"
)

var (
	mdRenderer    goldmark.Markdown
	htmlSanitizer *bluemonday.Policy
)

func init() {
	mdRenderer = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)

	htmlSanitizer = bluemonday.UGCPolicy()
}

// RenderMarkdown converts model-written markdown to sanitized HTML.
// Returns empty string for empty input.
func RenderMarkdown(src string) string {
	if src == "" {
		return ""
	}

	var buf bytes.Buffer
	if err := mdRenderer.Convert([]byte(src), &buf); err != nil {
		return htmlSanitizer.Sanitize(src)
	}

	return htmlSanitizer.Sanitize(buf.String())
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Review {{.PR}}</title>
<style>
body{font-family:system-ui,sans-serif;max-width:960px;margin:2rem auto;padding:0 1rem;color:#1f2328}
.meta{color:#59636e}
section{border:1px solid #d1d9e0;border-radius:6px;margin:1rem 0;padding:0 1rem}
.succeeded h2{color:#1a7f37}.failed h2{color:#cf222e}.skipped h2{color:#9a6700}
pre{background:#f6f8fa;padding:.5rem;overflow:auto}
</style>
</head>
<body>
<h1>Review {{.PR}}</h1>
<p class="meta">Execution {{.ID}} &middot; {{.Status}} ({{.State}}) &middot; started {{.Started}}{{if .Stopped}} &middot; finished {{.Stopped}}{{end}}</p>
{{if .Outcome}}<p>Posted {{.Outcome.SuccessfulPosts}} comments, {{.Outcome.FailedPosts}} not posted.</p>{{end}}
{{if .Cause}}<p class="meta">{{.Error}}: {{.Cause}}</p>{{end}}
{{range .Files}}<section class="{{.Status}}">
<h2>{{.File}}</h2>
{{if .Body}}{{.Body}}{{else}}<p class="meta">{{.Status}}{{if .Reason}}: {{.Reason}}{{end}}</p>{{end}}
</section>
{{else}}<p class="meta">No file reviews recorded yet.</p>
{{end}}</body>
</html>
`))

type reportView struct {
	ID      string
	PR      string
	Status  model.ExecutionStatus
	State   model.WorkflowState
	Started string
	Stopped string
	Outcome *model.PostingOutcome
	Error   string
	Cause   string
	Files   []reportFile
}

type reportFile struct {
	File   string
	Status model.ReviewStatus
	Reason string
	Body   template.HTML
}

func newReportView(exec *model.Execution) reportView {
	view := reportView{
		ID:      exec.ID,
		PR:      exec.Request.String(),
		Status:  exec.Status,
		State:   exec.State,
		Started: exec.StartTime.UTC().Format(time.RFC3339),
		Outcome: exec.Outcome,
		Error:   exec.Error,
		Cause:   exec.Cause,
	}
	if exec.EndTime != nil {
		view.Stopped = exec.EndTime.UTC().Format(time.RFC3339)
	}

	for _, r := range exec.Reviews {
		view.Files = append(view.Files, reportFile{
			File:   r.File,
			Status: r.Status,
			Reason: r.Error,
			Body:   template.HTML(RenderMarkdown(r.Review)), //nolint:gosec // Sanitized by the UGC policy.
		})
	}
	return view
}

// Report renders an execution's per-file reviews as an HTML page.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	exec, err := h.gateway.Execution(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, r, "failed to load execution", err)
		return
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, newReportView(exec)); err != nil {
		h.logger.Error("failed to render report", "execution_id", exec.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
