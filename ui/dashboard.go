package ui

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gomarkdown/markdown"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"rapport/app"
	"rapport/internal"
	"rapport/models"
)

//go:embed templates/*.html
var templateFiles embed.FS

// Dashboard is the read side of the system: it renders recent sessions,
// transcripts and per-user progress from the analytics mirror.
type Dashboard struct {
	router    *gin.Engine
	practice  *app.PracticeService
	templates *template.Template
	logger    *internal.Logger
}

// NewDashboard creates the progress dashboard
func NewDashboard(practice *app.PracticeService, logger *internal.Logger) (*Dashboard, error) {
	funcMap := template.FuncMap{
		"formatTime": func(t time.Time) string {
			return t.Format("Jan 2 15:04")
		},
		"scoreClass": func(score *int) string {
			switch {
			case score == nil:
				return ""
			case *score >= 8:
				return "score-high"
			case *score >= 5:
				return "score-mid"
			default:
				return "score-low"
			}
		},
		"truncate": func(s string, n int) string {
			if len(s) <= n {
				return s
			}
			return s[:n] + "…"
		},
	}

	templates, err := template.New("").Funcs(funcMap).ParseFS(templateFiles, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	d := &Dashboard{
		router:    gin.Default(),
		practice:  practice,
		templates: templates,
		logger:    logger,
	}

	d.setupRoutes()

	return d, nil
}

func (d *Dashboard) setupRoutes() {
	d.router.GET("/", d.handleIndex)
	d.router.GET("/sessions/:id", d.handleSession)
	d.router.GET("/users/:id", d.handleUser)
	d.router.GET("/users/:id/export", d.handleExport)
}

// Router exposes the handler tree for the HTTP server and for tests.
func (d *Dashboard) Router() http.Handler {
	return d.router
}

func (d *Dashboard) handleIndex(c *gin.Context) {
	sessions, err := d.practice.RecentSessions(c.Request.Context(), 25)
	if err != nil {
		d.logger.Error("[Dashboard] failed to list recent sessions: %v", err)
		sessions = nil
	}

	leaders, err := d.practice.ProgressLeaders(c.Request.Context(), 10)
	if err != nil {
		d.logger.Error("[Dashboard] failed to list progress: %v", err)
		leaders = nil
	}

	d.renderTemplate(c, "dashboard.html", gin.H{
		"Title":    "Rapport - Practice Dashboard",
		"Sessions": sessions,
		"Leaders":  leaders,
	})
}

func (d *Dashboard) handleSession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.String(http.StatusBadRequest, "session id must be a UUID")
		return
	}

	sess, turns, err := d.practice.SessionDetail(c.Request.Context(), sessionID)
	if err != nil {
		c.String(http.StatusNotFound, "session not found")
		return
	}

	d.renderTemplate(c, "session.html", gin.H{
		"Title":    fmt.Sprintf("Session %s", shortID(sess.ID)),
		"Session":  sess,
		"Turns":    turns,
		"Feedback": renderFeedback(sess.FeedbackText()),
	})
}

func (d *Dashboard) handleUser(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.String(http.StatusBadRequest, "user id must be a UUID")
		return
	}

	sessions, err := d.practice.UserSessions(c.Request.Context(), userID, 50)
	if err != nil {
		d.logger.Error("[Dashboard] failed to list user sessions: %v", err)
		sessions = nil
	}

	summary, err := d.practice.Summary(c.Request.Context(), userID)
	if err != nil {
		d.logger.Error("[Dashboard] failed to build summary: %v", err)
		summary = &models.ProgressSummary{UserID: userID}
	}

	d.renderTemplate(c, "user.html", gin.H{
		"Title":    fmt.Sprintf("User %s", shortID(userID)),
		"UserID":   userID,
		"Sessions": sessions,
		"Summary":  summary,
	})
}

// handleExport streams the user's session history as an xlsx workbook.
func (d *Dashboard) handleExport(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.String(http.StatusBadRequest, "user id must be a UUID")
		return
	}

	sessions, err := d.practice.UserSessions(c.Request.Context(), userID, 500)
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to load sessions")
		return
	}

	summary, err := d.practice.Summary(c.Request.Context(), userID)
	if err != nil {
		d.logger.Error("[Dashboard] failed to build summary for export: %v", err)
		summary = nil
	}

	f, err := buildSessionWorkbook(sessions, summary)
	if err != nil {
		d.logger.Error("[Dashboard] failed to build workbook: %v", err)
		c.String(http.StatusInternalServerError, "failed to build workbook")
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="sessions-%s.xlsx"`, shortID(userID)))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := f.Write(c.Writer); err != nil {
		d.logger.Error("[Dashboard] failed to write workbook: %v", err)
	}
}

// buildSessionWorkbook lays the sessions out one per row on Sheet1, with an
// optional Summary sheet holding the aggregate statistics.
func buildSessionWorkbook(sessions []*models.Session, summary *models.ProgressSummary) (*excelize.File, error) {
	f := excelize.NewFile()

	sheet := "Sheet1"
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx == -1 {
		idx, err := f.NewSheet(sheet)
		if err != nil {
			return nil, err
		}
		f.SetActiveSheet(idx)
	}

	headers := []string{"Session ID", "Scenario", "State", "Started", "Ended", "Turns", "Score", "Feedback"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, err
		}
	}

	for r, sess := range sessions {
		rowIdx := r + 2
		endedAt := ""
		if sess.EndedAt != nil {
			endedAt = sess.EndedAt.Format(time.RFC3339)
		}
		score := ""
		if sess.Score != nil {
			score = fmt.Sprintf("%d", *sess.Score)
		}
		values := []interface{}{
			sess.ID.String(),
			sess.Scenario,
			string(sess.State),
			sess.StartedAt.Format(time.RFC3339),
			endedAt,
			sess.TurnCount,
			score,
			sess.FeedbackText(),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, rowIdx)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, err
			}
		}
	}

	if summary != nil {
		if err := addSummarySheet(f, summary); err != nil {
			return nil, err
		}
	}

	return f, nil
}

func addSummarySheet(f *excelize.File, summary *models.ProgressSummary) error {
	sheet := "Summary"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	rows := []struct {
		label string
		value interface{}
	}{
		{"User ID", summary.UserID.String()},
		{"Sessions", summary.SessionCount},
		{"Average Score", summary.AverageScore},
		{"Median Score", summary.MedianScore},
		{"Std Dev", summary.StdDev},
		{"Min Score", summary.MinScore},
		{"Max Score", summary.MaxScore},
		{"Trend Slope", summary.TrendSlope},
	}
	for r, row := range rows {
		labelCell, _ := excelize.CoordinatesToCellName(1, r+1)
		if err := f.SetCellValue(sheet, labelCell, row.label); err != nil {
			return err
		}
		valueCell, _ := excelize.CoordinatesToCellName(2, r+1)
		if err := f.SetCellValue(sheet, valueCell, row.value); err != nil {
			return err
		}
	}
	return nil
}

// renderFeedback converts the assessment markdown into HTML for the template.
// Feedback originates from our own inference layer, not from user input.
func renderFeedback(feedback string) template.HTML {
	if feedback == "" {
		return ""
	}
	return template.HTML(markdown.ToHTML([]byte(feedback), nil, nil))
}

// renderTemplate executes a template with the given data
func (d *Dashboard) renderTemplate(c *gin.Context, templateName string, data interface{}) {
	// Render to a buffer first to catch errors before writing the response
	var buf bytes.Buffer
	if err := d.templates.ExecuteTemplate(&buf, templateName, data); err != nil {
		d.logger.Error("[Dashboard] template error for %s: %v", templateName, err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Template rendering failed"})
		return
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Writer.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(c.Writer); err != nil {
		d.logger.Error("[Dashboard] error writing template response: %v", err)
	}
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
