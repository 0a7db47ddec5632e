package main

import (
	"net/http"

	"github.com/degremont/pcocc"
	"github.com/gorilla/mux"
)

// RegisterNetworkRoutes registers the network routes and handlers
func RegisterNetworkRoutes(prefix string, router *mux.Router, m *metricsContext) {
	router.Handle(prefix, m.mmw.HandlerFunc(ListNetworks, "networks.list")).Methods("GET")
	sub := router.PathPrefix(prefix).Subrouter()
	sub.Handle("/{networkName}", m.mmw.HandlerFunc(GetNetwork, "networks.get")).Methods("GET")
}

// ListNetworks returns the configured network definitions
func ListNetworks(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	store := GetStore(r)

	networks := []*pcocc.Network{}
	for _, network := range store.Networks() {
		networks = append(networks, network)
	}
	hr.JSON(http.StatusOK, networks)
}

// GetNetwork returns a single network definition
func GetNetwork(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	vars := mux.Vars(r)

	network, err := GetStore(r).Network(vars["networkName"])
	if err != nil {
		hr.JSONError(http.StatusNotFound, err)
		return
	}
	hr.JSON(http.StatusOK, network)
}
