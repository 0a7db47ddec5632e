package main

import (
	"net/http"

	"github.com/degremont/pcocc"
	"github.com/gorilla/mux"
)

// RegisterTemplateRoutes registers the template routes and handlers
func RegisterTemplateRoutes(prefix string, router *mux.Router, m *metricsContext) {
	router.Handle(prefix, m.mmw.HandlerFunc(ListTemplates, "templates.list")).Methods("GET")
	sub := router.PathPrefix(prefix).Subrouter()
	sub.Handle("/{templateName}", m.mmw.HandlerFunc(GetTemplate, "templates.get")).Methods("GET")
}

// ListTemplates returns the system templates, resolved
func ListTemplates(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	resolver := GetResolver(r)
	store := GetStore(r)

	templates := []*pcocc.Template{}
	for _, template := range store.Templates(pcocc.ScopeSystem) {
		resolved, err := resolver.Resolve(template.Name, pcocc.ScopeSystem)
		if err != nil {
			hr.JSONError(http.StatusInternalServerError, err)
			return
		}
		templates = append(templates, resolved)
	}
	hr.JSON(http.StatusOK, templates)
}

// GetTemplate resolves one template through its inheritance chain
func GetTemplate(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	vars := mux.Vars(r)
	resolver := GetResolver(r)

	resolved, err := resolver.Resolve(vars["templateName"], pcocc.ScopeSystem)
	if err != nil {
		code := http.StatusInternalServerError
		if pcocc.IsTemplateNotFound(err) {
			code = http.StatusNotFound
		}
		hr.JSONError(code, err)
		return
	}
	hr.JSON(http.StatusOK, resolved)
}
