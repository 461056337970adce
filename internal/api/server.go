package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/vmfltlwms/rollout/internal/proxy"
	"github.com/vmfltlwms/rollout/internal/supervisor"
	"github.com/vmfltlwms/rollout/pkg/models"
	"go.uber.org/zap"
)

// ControllerInterface is the slice of the deployment controller the control
// surface drives.
type ControllerInterface interface {
	TriggerDeploy(ctx context.Context) error
	Abort() error
	State() (models.DeployState, *models.DeploymentPlan)
}

// Server exposes the minimal control surface over HTTP: deploy, status,
// restart, stop, start, abort, plus metrics and a health endpoint.
type Server struct {
	supervisor supervisor.SupervisorInterface
	controller ControllerInterface
	upstreams  *proxy.UpstreamSet
	events     *models.EventLog
	metricsH   http.Handler
	logger     *zap.SugaredLogger
	router     *mux.Router
	httpSrv    *http.Server
}

// NewServer wires the control surface to its collaborators.
func NewServer(
	sup supervisor.SupervisorInterface,
	controller ControllerInterface,
	upstreams *proxy.UpstreamSet,
	events *models.EventLog,
	metricsHandler http.Handler,
	logger *zap.SugaredLogger,
) *Server {
	s := &Server{
		supervisor: sup,
		controller: controller,
		upstreams:  upstreams,
		events:     events,
		metricsH:   metricsHandler,
		logger:     logger,
		router:     mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/status", s.getStatus).Methods("GET")
	s.router.HandleFunc("/deploy", s.postDeploy).Methods("POST")
	s.router.HandleFunc("/deploy/abort", s.postAbort).Methods("POST")
	s.router.HandleFunc("/workers/{index}/restart", s.postRestartWorker).Methods("POST")
	s.router.HandleFunc("/start", s.postStart).Methods("POST")
	s.router.HandleFunc("/stop", s.postStop).Methods("POST")
	s.router.HandleFunc("/healthz", s.getHealthz).Methods("GET")
	s.router.Handle("/metrics", s.metricsH).Methods("GET")
}

// Router returns the HTTP handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) writeJson(w http.ResponseWriter, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	class, code := classify(err)
	b, marshalErr := json.Marshal(&ErrorResponse{Error: err.Error(), Class: class})
	if marshalErr != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(b)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	state, plan := s.controller.State()
	resp := &StatusResponse{
		App:         s.supervisor.Spec().Name,
		Version:     s.supervisor.Version(),
		DeployState: state,
		Plan:        plan,
		Workers:     s.supervisor.Workers(),
		Upstreams:   s.upstreams.Snapshot(),
		Events:      s.events.List(),
	}
	s.writeJson(w, resp)
}

func (s *Server) postDeploy(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.TriggerDeploy(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJson(w, ok)
}

func (s *Server) postAbort(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Abort(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJson(w, ok)
}

func (s *Server) postRestartWorker(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		s.writeError(w, &models.ConfigError{Field: "index", Reason: "must be an integer"})
		return
	}
	if err := s.supervisor.Restart(index); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJson(w, ok)
}

func (s *Server) postStart(w http.ResponseWriter, r *http.Request) {
	if err := s.supervisor.Start(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJson(w, ok)
}

func (s *Server) postStop(w http.ResponseWriter, r *http.Request) {
	if err := s.supervisor.StopAll(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJson(w, ok)
}

func (s *Server) getHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, ok)
}

// Start begins serving the control API on addr. The returned error channel
// reports a listener failure after startup.
func (s *Server) Start(addr string) (<-chan error, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s.httpSrv = &http.Server{Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("control API listening on %s", addr)
		if serveErr := s.httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			errCh <- serveErr
		}
		close(errCh)
	}()
	return errCh, nil
}

// Shutdown stops the control API listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
