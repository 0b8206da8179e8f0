package apiserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	ghandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/is-app/dnsdesk/pkg/backend"
	"github.com/is-app/dnsdesk/pkg/version"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Port        int
	AuthSecret  []byte
	ReminderAge time.Duration
}

type apiServer struct {
	ctx context.Context
	log *logrus.Entry
	cfg Config
}

func NewAPIServer(ctx context.Context, log *logrus.Entry, cfg Config) *apiServer {
	if cfg.ReminderAge <= 0 {
		cfg.ReminderAge = backend.DefaultReminderAge
	}
	return &apiServer{
		ctx: ctx,
		log: log,
		cfg: cfg,
	}
}

func (a *apiServer) Router(b backend.Backend, purger *backend.Purger) http.Handler {
	router := mux.NewRouter().StrictSlash(true)
	router.Use(loggingMiddleware(a.log))
	h := newHandler(b, purger, a.cfg.ReminderAge)

	router.Path("/").HandlerFunc(h.root)
	router.Path("/healthz").HandlerFunc(h.healthz)

	// Every /v1 route needs a caller token signed by the host platform
	api := router.PathPrefix("/v1").Subrouter()
	api.Use(tokenAuthMiddleware(a.cfg.AuthSecret))

	api.Path("/records").Methods("GET").HandlerFunc(h.listRecords)
	api.Path("/records").Methods("POST").HandlerFunc(h.createRecord)
	api.Path("/records/{record}").Methods("GET").HandlerFunc(h.getRecord)
	api.Path("/records/{record}").Methods("DELETE").HandlerFunc(h.deleteRecord)
	api.Path("/records/{record}/approve").Methods("POST").HandlerFunc(h.approveRecord)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(adminOnlyMiddleware)
	admin.Path("/sweep").Methods("POST").HandlerFunc(h.sweep)
	admin.Path("/remind").Methods("POST").HandlerFunc(h.remind)
	admin.Path("/audit").Methods("GET").HandlerFunc(h.audit)

	// Note: this allows not found urls to be logged via the middleware
	// It **HAS** to be defined after all other paths are defined.
	router.NotFoundHandler = router.NewRoute().HandlerFunc(http.NotFound).GetHandler()

	return ghandlers.CORS(
		ghandlers.AllowedHeaders([]string{"Authorization", "Content-Type", requestIDHeader}),
		ghandlers.AllowedMethods([]string{"GET", "POST", "DELETE", "OPTIONS"}),
	)(router)
}

// Start serves the API and runs the purger until the server context is done.
func (a *apiServer) Start(b backend.Backend, purger *backend.Purger) error {
	logrus.Infof("Version: %s", version.Get())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Port),
		Handler:           a.Router(b, purger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		a.log.WithField("port", a.cfg.Port).Info("starting api server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Fatalf("listen: %s\n", err)
		}
	}()

	go purger.Start(a.ctx)

	<-a.ctx.Done()

	a.log.Info("shutting down the api server gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer func() {
		cancel()
	}()

	if err := srv.Shutdown(ctx); err != nil {
		a.log.WithError(err).Error("unable to shutdown the api server gracefully")
		return err
	}

	return nil
}
