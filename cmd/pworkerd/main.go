package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/armon/go-metrics"
	"github.com/bakins/go-metrics-map"
	"github.com/degremont/pcocc"
	"github.com/degremont/pcocc/pkg/jobqueue"
	"github.com/degremont/pcocc/pkg/kv"
	_ "github.com/degremont/pcocc/pkg/kv/consul"
	_ "github.com/degremont/pcocc/pkg/kv/etcd"
	"github.com/kr/beanstalk"
	logx "github.com/mistifyio/mistify-logrus-ext"
	flag "github.com/ogier/pflag"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

func main() {
	var port uint
	var kvAddr, bstalk, confDir, rsetPath, logLevel string

	// Command line flags
	flag.StringVarP(&bstalk, "beanstalk", "b", "127.0.0.1:11300", "address of beanstalkd server")
	flag.StringVarP(&logLevel, "log-level", "l", "warn", "log level")
	flag.StringVarP(&kvAddr, "kv", "k", "http://127.0.0.1:4001", "address of kv machine")
	flag.StringVarP(&confDir, "config", "c", pcocc.SystemConfigDir, "system configuration directory")
	flag.StringVarP(&rsetPath, "resource-sets", "r", "/etc/pcocc/resources.yaml", "resource set definitions")
	flag.UintVarP(&port, "http", "p", 7545, "http port to publish metrics. set to 0 to disable")
	flag.Parse()

	// Set up logger
	if err := logx.DefaultSetup(logLevel); err != nil {
		log.WithFields(log.Fields{
			"error": err,
			"level": logLevel,
		}).Fatal("unable to to set up logrus")
	}

	store, err := pcocc.LoadConfigDirs(confDir, "")
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
			"dir":   confDir,
		}).Fatal("unable to load configuration")
	}

	for name, cerr := range store.CheckTemplates() {
		log.WithFields(log.Fields{
			"template": name,
			"error":    cerr,
		}).Warning("template does not resolve")
	}

	rsets, err := loadResourceSets(rsetPath)
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
			"path":  rsetPath,
		}).Fatal("unable to load resource sets")
	}

	e, err := kv.New(kvAddr)
	if err != nil {
		log.WithFields(log.Fields{
			"addr":  kvAddr,
			"error": err,
			"func":  "kv.New",
		}).Fatal("unable to connect to kv")
	}

	ctx := pcocc.NewContext(e)
	allocator := pcocc.NewResourceAllocator()
	registry, err := pcocc.NewDriverRegistry(store, allocator, ctx)
	if err != nil {
		log.WithField("error", err).Fatal("unable to build driver registry")
	}
	lifecycle := pcocc.NewLifecycle(pcocc.NewResolver(store), registry, allocator, ctx, pcocc.NullAgenter{}, rsets)

	log.WithField("address", bstalk).Info("connection to beanstalk")
	jobQueue, err := jobqueue.NewClient(bstalk, e)
	if err != nil {
		log.WithFields(log.Fields{
			"error":   err,
			"address": bstalk,
		}).Fatal("failed to create jobQueue client")
	}

	// Instantiate tasks arrive on a second connection so the two consumers
	// never share a beanstalk session
	createQueue, err := jobqueue.NewClient(bstalk, e)
	if err != nil {
		log.WithFields(log.Fields{
			"error":   err,
			"address": bstalk,
		}).Fatal("failed to create jobQueue client")
	}

	// Set up metrics
	m := setupMetrics(port)

	go consume(createQueue, lifecycle, m, (*jobqueue.Client).NextInstantiateTask)
	consume(jobQueue, lifecycle, m, (*jobqueue.Client).NextTeardownTask)
}

func loadResourceSets(path string) (pcocc.StaticResourceSets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw := map[string]*pcocc.ResourceSet{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	for name, rset := range raw {
		rset.Name = name
	}
	return pcocc.StaticResourceSets(raw), nil
}

func consume(jobQueue *jobqueue.Client, lifecycle *pcocc.Lifecycle, m *metrics.Metrics, next func(*jobqueue.Client) (*jobqueue.Task, error)) {
	for {
		// Wait for and reserve a job
		task, err := next(jobQueue)
		if err != nil {
			if bCE, ok := err.(beanstalk.ConnError); ok {
				switch bCE {
				case beanstalk.ErrTimeout:
					// Empty queue, continue waiting
					continue
				case beanstalk.ErrDeadline:
					// We're just going to sleep to let the deadline'd job
					// expire and try to get another job
					m.IncrCounter([]string{"beanstalk", "error", "deadline"}, 1)
					log.Debug(beanstalk.ErrDeadline)
					time.Sleep(5 * time.Second)
					continue
				default:
					log.WithField("error", err).Fatal(err)
				}
			}

			log.WithFields(log.Fields{
				"task":  task,
				"error": err,
			}).Error("invalid task")

			if task != nil {
				if err := task.Delete(); err != nil {
					log.WithFields(log.Fields{
						"task":  task.ID,
						"error": err,
					}).Error("unable to delete")
				}
			}
			continue
		}

		logFields := log.Fields{
			"task": task.ID,
			"job":  task.JobID,
		}
		log.WithFields(logFields).Info("reserved task")

		err = processTask(task, lifecycle)
		status := jobqueue.JobStatusDone
		if err != nil {
			log.WithFields(logFields).WithField("error", err).Error(err)
			status = jobqueue.JobStatusError
			m.IncrCounter([]string{"jobs", "error"}, 1)
		} else {
			m.IncrCounter([]string{"jobs", "done"}, 1)
		}
		if task.Job != nil {
			_ = updateJobStatus(task, status, err)
		}

		log.WithFields(logFields).Info("removing task")
		if err := task.Delete(); err != nil {
			log.WithFields(log.Fields{
				"task":  task.ID,
				"error": err,
			}).Error("unable to delete")
		}
	}
}

func processTask(task *jobqueue.Task, lifecycle *pcocc.Lifecycle) error {
	job := task.Job
	job.Status = jobqueue.JobStatusWorking
	job.StartedAt = time.Now()
	_ = job.Save()

	switch job.Action {
	case jobqueue.ActionInstantiate:
		alloc, err := lifecycle.Instantiate(job.Template, pcocc.ScopeSystem, job.Count)
		if err != nil {
			return err
		}
		job.Allocation = alloc.ID
		return nil
	case jobqueue.ActionTeardown:
		if task.Allocation == nil {
			return fmt.Errorf("job %s: no such allocation", job.ID)
		}
		return lifecycle.Teardown(task.Allocation)
	}
	return fmt.Errorf("job %s: invalid action %q", job.ID, job.Action)
}

func updateJobStatus(task *jobqueue.Task, status string, e error) error {
	task.Job.Status = status
	if e != nil {
		task.Job.Error = e.Error()
	}
	task.Job.FinishedAt = time.Now()
	if err := task.Job.Save(); err != nil {
		log.WithFields(log.Fields{
			"task":  task.ID,
			"error": err,
		}).Error("unable to save job")
		return err
	}
	return nil
}

// setupMetrics creates the metric sink and starts an optional http server
func setupMetrics(port uint) *metrics.Metrics {
	ms := mapsink.New()
	conf := metrics.DefaultConfig("pworkerd")
	conf.EnableHostname = false
	m, _ := metrics.New(conf, ms)

	// Unless told not to, expose metrics via http
	if port != 0 {
		http.Handle("/metrics", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(ms)
		}))

		go func() {
			log.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", port), nil))
		}()
	}

	return m
}
