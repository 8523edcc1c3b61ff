/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package watch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/projectbeskar/drsctl/internal/config"
	"github.com/projectbeskar/drsctl/internal/obs/metrics"
)

// Router serves /metrics, the health endpoints and /status
func (w *Watcher) Router() *mux.Router {
	router := mux.NewRouter()
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	w.health.Register(router)
	router.HandleFunc("/status", w.statusHandler).Methods(http.MethodGet)
	return router
}

type statusResponse struct {
	LastPass time.Time       `json:"lastPass"`
	Rules    []RuleStatus    `json:"rules"`
	Breakers []BreakerStatus `json:"breakers"`
}

func (w *Watcher) statusHandler(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	resp := statusResponse{LastPass: w.LastPass(), Rules: w.Statuses(), Breakers: w.Breakers()}
	if err := json.NewEncoder(rw).Encode(resp); err != nil {
		http.Error(rw, "failed to encode status", http.StatusInternalServerError)
	}
}

// Serve runs the watch loop and the HTTP endpoints until ctx is cancelled or
// the server fails
func (w *Watcher) Serve(ctx context.Context, addr string, updates <-chan *config.Config) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           w.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		w.log.Info("Serving metrics and health endpoints", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return w.Run(ctx, updates)
	})

	return g.Wait()
}
