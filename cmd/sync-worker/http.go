package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/slastra/whatnot-shipstation-integration/internal/services/syncer"
)

type workerHTTPOpts struct {
	httpAddr string
	onListen func(httpAddr string)

	syncer *syncer.Syncer
}

type runRequest struct {
	// Accounts limits the run to the named accounts. Empty means all
	// enabled accounts.
	Accounts []string `json:"accounts"`
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8083"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		out := map[string]any{"stats": opts.syncer.Stats()}
		if state, running := opts.syncer.State(); running {
			out["run"] = state
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	r.Post("/run/orders", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeRunRequest(w, r)
		if !ok {
			return
		}
		res, err := opts.syncer.RunOrderSync(r.Context(), req.Accounts, nil)
		writeRunResponse(w, res, err)
	})

	r.Post("/run/tracking", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeRunRequest(w, r)
		if !ok {
			return
		}
		res, err := opts.syncer.RunTrackingUpdate(r.Context(), req.Accounts, nil)
		writeRunResponse(w, res, err)
	})

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return ctx.Err()
}

func decodeRunRequest(w http.ResponseWriter, r *http.Request) (runRequest, bool) {
	var req runRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "bad request body")
			return req, false
		}
	}
	return req, true
}

// writeRunResponse renders the pipeline result, mapping the single-flight
// rejection to 409 so callers can tell "busy" apart from "failed".
func writeRunResponse(w http.ResponseWriter, res any, err error) {
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		if errors.Is(err, syncer.ErrSyncInProgress) {
			writeJSONError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = json.NewEncoder(w).Encode(res)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
