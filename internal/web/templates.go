// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package web

import (
	"embed"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/samber/oops"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

// pageData carries everything the page templates render.
type pageData struct {
	Title     string
	Email     string
	CreatedAt string
	Error     string
	Notice    string
	CSRFToken string
}

// templates holds one parsed template per page, each combined with the
// shared layout.
type templates struct {
	pages map[string]*template.Template
}

func parseTemplates() (*templates, error) {
	pages := map[string]*template.Template{}
	for _, name := range []string{"login", "signup", "home", "profile"} {
		t, err := template.ParseFS(templatesFS,
			"templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, oops.In("web").Code("TEMPLATE_PARSE_FAILED").
				With("page", name).
				Wrap(err)
		}
		pages[name] = t
	}
	return &templates{pages: pages}, nil
}

// render writes a page. Template execution failures after the first
// byte cannot change the status code, so the error is only logged.
func (t *templates) render(w http.ResponseWriter, status int, page string, data pageData) {
	tmpl, ok := t.pages[page]
	if !ok {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.ExecuteTemplate(w, "layout.html", data); err != nil {
		slog.Error("template execution failed", "page", page, "error", err)
	}
}

// staticHandler serves the embedded assets under /static/.
func staticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		// Embedded FS layout is fixed at compile time.
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}
