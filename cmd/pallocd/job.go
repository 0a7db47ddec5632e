package main

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterJobRoutes registers the job routes and handlers
func RegisterJobRoutes(prefix string, router *mux.Router, m *metricsContext) {
	sub := router.PathPrefix(prefix).Subrouter()

	sub.Handle("/{jobID}", m.mmw.HandlerFunc(GetJob, "jobs.get")).Methods("GET")
}

// GetJob gets a job status
func GetJob(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	vars := mux.Vars(r)
	jobQueue := GetJobQueue(r)
	job, err := jobQueue.Job(vars["jobID"])
	if err != nil {
		hr.JSONError(http.StatusInternalServerError, err)
		return
	}
	hr.JSON(http.StatusOK, job)
}
