package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/bakins/logrus-middleware"
	"github.com/bakins/net-http-recover"
	"github.com/degremont/pcocc"
	"github.com/degremont/pcocc/pkg/jobqueue"
	"github.com/gorilla/context"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	log "github.com/sirupsen/logrus"
	"github.com/tylerb/graceful"
)

const (
	storeKey    string = "pcoccStore"
	resolverKey string = "pcoccResolver"
	ctxKey      string = "pcoccContext"
	jQKey       string = "pcoccJobQueue"
)

type (
	// HTTPResponse is a wrapper for http.ResponseWriter which provides access
	// to several convenience methods
	HTTPResponse struct {
		http.ResponseWriter
	}

	// HTTPError contains information for http error responses
	HTTPError struct {
		Message string   `json:"message"`
		Code    int      `json:"code"`
		Stack   []string `json:"stack"`
	}
)

// Run starts the server
func Run(port uint, store *pcocc.ConfigStore, resolver *pcocc.Resolver, ctx *pcocc.Context, jobQueue *jobqueue.Client, m *metricsContext) *graceful.Server {
	router := mux.NewRouter()
	router.StrictSlash(true)

	// Common middleware applied to every request
	logrusMiddleware := logrusmiddleware.Middleware{
		Name: "pallocd",
	}
	commonMiddleware := alice.New(
		func(h http.Handler) http.Handler {
			return logrusMiddleware.Handler(h, "")
		},
		handlers.CompressHandler,
		func(h http.Handler) http.Handler {
			return recovery.Handler(os.Stderr, h, true)
		},
		func(h http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				context.Set(r, storeKey, store)
				context.Set(r, resolverKey, resolver)
				context.Set(r, ctxKey, ctx)
				context.Set(r, jQKey, jobQueue)
				h.ServeHTTP(w, r)
			})
		},
	)

	RegisterTemplateRoutes("/templates", router, m)
	RegisterNetworkRoutes("/networks", router, m)
	RegisterAllocationRoutes("/allocations", router, m)
	RegisterJobRoutes("/jobs", router, m)

	router.HandleFunc("/metrics",
		func(w http.ResponseWriter, r *http.Request) {
			hr := HTTPResponse{w}
			hr.JSON(http.StatusOK, m.sink)
		})

	server := &graceful.Server{
		Timeout: 5 * time.Second,
		Server: &http.Server{
			Addr:           fmt.Sprintf(":%d", port),
			Handler:        commonMiddleware.Then(router),
			MaxHeaderBytes: 1 << 20,
		},
	}
	go listenAndServe(server)
	return server
}

func listenAndServe(server *graceful.Server) {
	if err := server.ListenAndServe(); err != nil {
		// Ignore the error from closing the listener, which is involved in the
		// graceful shutdown
		if !strings.Contains(err.Error(), "use of closed network connection") {
			log.WithField("error", err).Fatal("server error")
		}
	}
}

// JSON writes appropriate headers and JSON body to the http response
func (hr *HTTPResponse) JSON(code int, obj interface{}) {
	hr.Header().Set("Content-Type", "application/json")
	hr.WriteHeader(code)
	encoder := json.NewEncoder(hr)
	if err := encoder.Encode(obj); err != nil {
		hr.JSONError(http.StatusInternalServerError, err)
	}
}

// JSONError prepares an HTTPError with a stack trace and writes it with
// HTTPResponse.JSON
func (hr *HTTPResponse) JSONError(code int, err error) {
	httpError := &HTTPError{
		Message: err.Error(),
		Code:    code,
		Stack:   make([]string, 0, 4),
	}
	for i := 1; ; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		httpError.Stack = append(httpError.Stack, fmt.Sprintf("%s:%d (0x%x)", file, line, pc))
	}
	hr.JSON(code, httpError)
}

// JSONMsg is a convenience method to write a JSON response with just a message
// string
func (hr *HTTPResponse) JSONMsg(code int, msg string) {
	msgObj := map[string]string{
		"message": msg,
	}
	hr.JSON(code, msgObj)
}

// GetStore retrieves the ConfigStore value for a request
func GetStore(r *http.Request) *pcocc.ConfigStore {
	if value := context.Get(r, storeKey); value != nil {
		return value.(*pcocc.ConfigStore)
	}
	return nil
}

// GetResolver retrieves the Resolver value for a request
func GetResolver(r *http.Request) *pcocc.Resolver {
	if value := context.Get(r, resolverKey); value != nil {
		return value.(*pcocc.Resolver)
	}
	return nil
}

// GetContext retrieves the pcocc.Context value for a request
func GetContext(r *http.Request) *pcocc.Context {
	if value := context.Get(r, ctxKey); value != nil {
		return value.(*pcocc.Context)
	}
	return nil
}

// GetJobQueue retrieves the jobqueue client for a request
func GetJobQueue(r *http.Request) *jobqueue.Client {
	if value := context.Get(r, jQKey); value != nil {
		return value.(*jobqueue.Client)
	}
	return nil
}
