package main

import (
	"encoding/json"
	"net/http"

	"github.com/degremont/pcocc"
	"github.com/degremont/pcocc/pkg/jobqueue"
	"github.com/gorilla/mux"
)

// RegisterAllocationRoutes registers the allocation routes and handlers
func RegisterAllocationRoutes(prefix string, router *mux.Router, m *metricsContext) {
	router.Handle(prefix, m.mmw.HandlerFunc(ListAllocations, "allocations.list")).Methods("GET")
	router.Handle(prefix, m.mmw.HandlerFunc(CreateAllocation, "allocations.create")).Methods("POST")
	sub := router.PathPrefix(prefix).Subrouter()
	sub.Handle("/{allocationID}", m.mmw.HandlerFunc(GetAllocation, "allocations.get")).Methods("GET")
	sub.Handle("/{allocationID}", m.mmw.HandlerFunc(DestroyAllocation, "allocations.destroy")).Methods("DELETE")
}

// ListAllocations returns every persisted allocation record
func ListAllocations(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	ctx := GetContext(r)

	allocations := []*pcocc.Allocation{}
	err := ctx.ForEachAllocation(func(alloc *pcocc.Allocation) error {
		allocations = append(allocations, alloc)
		return nil
	})
	if err != nil {
		hr.JSONError(http.StatusInternalServerError, err)
		return
	}
	hr.JSON(http.StatusOK, allocations)
}

// GetAllocation returns one persisted allocation record
func GetAllocation(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	vars := mux.Vars(r)
	ctx := GetContext(r)

	alloc, err := ctx.Allocation(vars["allocationID"])
	if err != nil {
		code := http.StatusInternalServerError
		if ctx.IsKeyNotFound(err) {
			code = http.StatusNotFound
		}
		hr.JSONError(code, err)
		return
	}
	hr.JSON(http.StatusOK, alloc)
}

// CreateAllocation queues an instantiate job for a template
func CreateAllocation(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	jobQueue := GetJobQueue(r)
	resolver := GetResolver(r)

	spec := struct {
		Template string `json:"template"`
		Count    int    `json:"count"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		hr.JSONError(http.StatusBadRequest, err)
		return
	}
	if spec.Count < 1 {
		spec.Count = 1
	}

	// Fail fast on templates that will never resolve
	if _, err := resolver.Resolve(spec.Template, pcocc.ScopeSystem); err != nil {
		code := http.StatusBadRequest
		if pcocc.IsTemplateNotFound(err) {
			code = http.StatusNotFound
		}
		hr.JSONError(code, err)
		return
	}

	job := jobQueue.NewJob()
	job.Action = jobqueue.ActionInstantiate
	job.Template = spec.Template
	job.Count = spec.Count
	if err := job.Save(); err != nil {
		hr.JSONError(http.StatusInternalServerError, err)
		return
	}
	if _, err := jobQueue.AddTask(job); err != nil {
		hr.JSONError(http.StatusInternalServerError, err)
		return
	}

	hr.Header().Set("X-Job-ID", job.ID)
	hr.JSON(http.StatusAccepted, job)
}

// DestroyAllocation queues a teardown job for an allocation
func DestroyAllocation(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	vars := mux.Vars(r)
	ctx := GetContext(r)
	jobQueue := GetJobQueue(r)

	alloc, err := ctx.Allocation(vars["allocationID"])
	if err != nil {
		code := http.StatusInternalServerError
		if ctx.IsKeyNotFound(err) {
			code = http.StatusNotFound
		}
		hr.JSONError(code, err)
		return
	}

	job := jobQueue.NewJob()
	job.Action = jobqueue.ActionTeardown
	job.Allocation = alloc.ID
	if err := job.Save(); err != nil {
		hr.JSONError(http.StatusInternalServerError, err)
		return
	}
	if _, err := jobQueue.AddTask(job); err != nil {
		hr.JSONError(http.StatusInternalServerError, err)
		return
	}

	hr.JSON(http.StatusAccepted, job)
}
