package service

import (
	"bytes"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/pesio-ai/be-shift-reviews/internal/repository"
)

const emailDateLayout = "2 January 2006"

// reviewEmail carries the values rendered into a review request.
type reviewEmail struct {
	ReviewerName string
	ShiftDate    string
	SiteName     string
	Controllers  string
	Link         string
	SenderName   string
}

var reviewEmailHTML = htmltemplate.Must(htmltemplate.New("review_html").Parse(`<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>Shift Report Review</title>
    <style>
      body { font-family: 'Inter', 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; background: #f8fafc; color: #0f172a; margin: 0; padding: 0; }
      a { color: #137fec; }
      .wrapper { max-width: 640px; margin: 0 auto; padding: 32px 16px; }
      .card { background: #ffffff; border-radius: 16px; padding: 32px; }
      .btn { display: inline-block; padding: 14px 28px; border-radius: 999px; background: #137fec; color: #ffffff; font-weight: 600; text-decoration: none; }
      .meta { margin-top: 24px; border-top: 1px solid #e2e8f0; padding-top: 16px; font-size: 14px; color: #475569; }
      .footer { text-align: center; font-size: 12px; color: #94a3b8; margin-top: 24px; }
    </style>
  </head>
  <body>
    <div class="wrapper">
      <div class="card">
        <h1 style="font-size: 24px; margin-bottom: 16px;">Action Required: Shift Report Review</h1>
        <p>Hello {{.ReviewerName}},</p>
        <p>A new shift report for <strong>{{.ShiftDate}}</strong> has been submitted and is ready for your review.</p>
        <p>Please review the report details and take the appropriate action as soon as possible.</p>
        <table role="presentation" style="width:100%; margin: 24px 0;">
          <tr>
            <td style="padding: 12px 0; color: #475569; font-size: 14px;">
              <strong>Site:</strong> {{.SiteName}}<br />
              <strong>Shift Controllers:</strong> {{.Controllers}}<br />
              <strong>Shift Date:</strong> {{.ShiftDate}}
            </td>
          </tr>
        </table>
        <p style="margin: 32px 0; text-align: center;">
          <a class="btn" href="{{.Link}}" target="_blank" rel="noopener">Review Report</a>
        </p>
        <p>If the button above does not work, copy and paste the following link into your browser:<br /><span style="word-break: break-all;">{{.Link}}</span></p>
        <div class="meta">
          <p>This link is unique to you and will automatically expire once you complete your review.</p>
        </div>
        <p>Thank you for keeping our operations compliant and on schedule.</p>
        <p>Best regards,<br />{{.SenderName}}</p>
      </div>
      <div class="footer">
        This is an automated message. Please do not reply directly to this email.
      </div>
    </div>
  </body>
</html>
`))

var reviewEmailText = texttemplate.Must(texttemplate.New("review_text").Parse(`Hello {{.ReviewerName}},

A new shift report for {{.ShiftDate}} ({{.SiteName}}) has been submitted and is ready for your review.
Shift Controllers: {{.Controllers}}

Please review the report and take action using the secure link below:
{{.Link}}

If you have already completed this review, you can disregard this message.

Thank you for your prompt attention.
{{.SenderName}}
`))

// FormatShiftDate renders a report date for people. Unparseable values are
// returned as is; an empty value reads "this shift".
func FormatShiftDate(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "this shift"
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339, time.RFC3339Nano} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format(emailDateLayout)
		}
	}
	return value
}

// ReviewEmailSubject returns the subject line of a review request.
func ReviewEmailSubject(reportDate string) string {
	return "Action Required: Please Review the Shift Report for " + FormatShiftDate(reportDate)
}

func newReviewEmail(r *repository.Report, reviewerName, link, sender string) reviewEmail {
	e := reviewEmail{
		ReviewerName: strings.TrimSpace(reviewerName),
		ShiftDate:    FormatShiftDate(r.ReportDate),
		SiteName:     strings.TrimSpace(r.SiteName),
		Link:         link,
		SenderName:   sender,
	}
	if e.ReviewerName == "" {
		e.ReviewerName = "Team"
	}
	if e.SiteName == "" {
		e.SiteName = "the assigned site"
	}

	var names []string
	for _, c := range r.Controllers() {
		switch {
		case c.Name != "":
			names = append(names, c.Name)
		case c.UID != "":
			names = append(names, c.UID)
		}
	}
	if len(names) == 0 {
		e.Controllers = "Shift Controller"
	} else {
		e.Controllers = strings.Join(names, ", ")
	}
	return e
}

// RenderReviewEmail renders the HTML and plain-text bodies of a review
// request.
func RenderReviewEmail(r *repository.Report, reviewerName, link, sender string) (html, text string, err error) {
	data := newReviewEmail(r, reviewerName, link, sender)

	var hb, tb bytes.Buffer
	if err := reviewEmailHTML.Execute(&hb, data); err != nil {
		return "", "", err
	}
	if err := reviewEmailText.Execute(&tb, data); err != nil {
		return "", "", err
	}
	return hb.String(), tb.String(), nil
}
