package relay

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/mbocsi/gorover/proto"
)

//go:embed templates/*.html
var templateFS embed.FS

var consoleTemplates = template.Must(template.New("").Funcs(template.FuncMap{
	"clock": func(t time.Time) string { return t.Local().Format("15:04:05") },
}).ParseFS(templateFS, "templates/*.html"))

type consolePage struct {
	Status   proto.StatusFrame
	Commands []proto.CommandSpec
}

// HandleConsole serves a small observer page that talks to /ws.
func (c *Coordinator) HandleConsole(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := consoleTemplates.ExecuteTemplate(w, "console", consolePage{
		Status:   c.Status(),
		Commands: proto.Commands(),
	})
	if err != nil {
		http.Error(w, "Template rendering error: "+err.Error(), http.StatusInternalServerError)
	}
}
