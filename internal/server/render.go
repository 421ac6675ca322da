package server

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"

	"github.com/labstack/echo/v4"

	"heart-risk-predictor/internal/features"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// Renderer executes the embedded page templates for echo.
type Renderer struct {
	templates *template.Template
}

var templateFuncs = template.FuncMap{
	"percent": func(p float64) string { return fmt.Sprintf("%.1f%%", p*100) },
	"signed":  func(v float64) string { return fmt.Sprintf("%+.4f", v) },
	"step": func(f features.Field) string {
		if f.Kind == features.KindFloat {
			return "any"
		}
		return "1"
	},
}

func NewRenderer() (*Renderer, error) {
	t, err := template.New("").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Renderer{templates: t}, nil
}

func (r *Renderer) Render(w io.Writer, name string, data interface{}, _ echo.Context) error {
	return r.templates.ExecuteTemplate(w, name, data)
}

func staticFiles() fs.FS {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return sub
}
