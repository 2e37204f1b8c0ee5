package api

import (
	"embed"
	"html/template"

	"github.com/gin-gonic/gin"
)

//go:embed templates/error.html
var templatesFS embed.FS

// pageTemplates holds the HTML shown to attendees when a flow leg fails.
// Parsed once at startup; a broken template is a build defect, so Must.
var pageTemplates = template.Must(template.ParseFS(templatesFS, "templates/error.html"))

// renderErrorPage writes the error page with the given status. An empty
// message renders the generic not-found wording.
func renderErrorPage(c *gin.Context, status int, message string) {
	c.HTML(status, "error.html", gin.H{"Message": message})
	c.Abort()
}
