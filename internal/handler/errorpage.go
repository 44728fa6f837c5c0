package handler

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/labstack/echo/v4"
)

var errorPage = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body style="font-family: sans-serif; padding: 40px; background: #1a1a2e; color: #eee;">
<h2>{{.Title}}</h2>
<p>{{.Message}}{{if .Detail}}<br><span style="color: #e94560;">{{.Detail}}</span>{{end}}</p>
</body>
</html>
`))

// errorView is rendered into errorPage.
type errorView struct {
	Title   string
	Message string
	Detail  string
}

// renderError writes a styled HTML error page with the given status.
func renderError(c echo.Context, status int, v errorView) error {
	var buf bytes.Buffer
	if err := errorPage.Execute(&buf, v); err != nil {
		return c.String(http.StatusInternalServerError, v.Title)
	}
	return c.HTMLBlob(status, buf.Bytes())
}
