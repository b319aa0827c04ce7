package views

import (
	"embed"
	"errors"
	"html/template"
	"io"
	"io/fs"
	"time"

	"opensmartcity-bridge/internal/modules/weather/types"
)

//go:embed templates
var viewsFS embed.FS

var statusTmpl *template.Template

// loadTemplatesFromFS parses the page and partial templates under dir.
func loadTemplatesFromFS(fsys fs.FS, dir string) error {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return err
	}
	t, err := template.ParseFS(sub, "*.html", "partials/*.html")
	if err != nil {
		return err
	}
	statusTmpl = t
	return nil
}

// LoadTemplates parses the embedded templates. Call once at startup.
func LoadTemplates() error {
	return loadTemplatesFromFS(viewsFS, "templates")
}

type StatusPageData struct {
	ThingID   string
	Status    types.Status
	Detail    types.StatusDetail
	UpdatedAt time.Time
	Phase     string
	Channels  []types.ChannelState
}

func RenderStatusPage(w io.Writer, data *StatusPageData) error {
	if statusTmpl == nil {
		return errors.New("status template not loaded: call views.LoadTemplates during startup")
	}
	return statusTmpl.ExecuteTemplate(w, "status.html", data)
}
