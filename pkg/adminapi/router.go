/*
Copyright 2026 The Loader Engine Authors.

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

package adminapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/signaldata/loaderengine/pkg/models"
	"github.com/signaldata/loaderengine/pkg/repository"
	"github.com/signaldata/loaderengine/pkg/validation"
)

// CORSOrigins lists the (out-of-scope) frontend origins allowed to
// call this boundary directly during local development; a real
// deployment normally fronts this router with the JWT/RBAC gateway
// instead.
type CORSOrigins []string

// NewRouter builds the chi mux exposing svc's operations as JSON over
// HTTP, for the (out-of-scope) admin gateway to call.
func NewRouter(svc *Service, allowedOrigins CORSOrigins) chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/loaders/{loaderCode}", func(r chi.Router) {
		r.Get("/", handleLookup(svc))
		r.Patch("/", handleUpdate(svc))
		r.Post("/pause", handlePause(svc))
		r.Post("/resume", handleResume(svc))
		r.Post("/adjust-timestamp", handleAdjustTimestamp(svc))
		r.Get("/history", handleQueryHistory(svc))
	})

	return r
}

func actorFrom(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return "unknown"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	if problem, ok := err.(*validation.RFC7807Problem); ok {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(problem.Status)
		_ = json.NewEncoder(w).Encode(problem)
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func handleLookup(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loader, err := svc.Lookup(r.Context(), chi.URLParam(r, "loaderCode"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, loader)
	}
}

func handleUpdate(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var update LoaderUpdate
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			writeError(w, validation.NewBadRequest("malformed update body: "+err.Error()))
			return
		}
		loader, err := svc.Update(r.Context(), chi.URLParam(r, "loaderCode"), update, actorFrom(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, loader)
	}
}

func handlePause(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Pause(r.Context(), chi.URLParam(r, "loaderCode"), actorFrom(r)); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleResume(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Resume(r.Context(), chi.URLParam(r, "loaderCode"), actorFrom(r)); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type adjustTimestampRequest struct {
	Timestamp *time.Time `json:"timestamp"`
}

func handleAdjustTimestamp(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body adjustTimestampRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, validation.NewBadRequest("malformed adjust-timestamp body: "+err.Error()))
			return
		}
		if err := svc.AdjustTimestamp(r.Context(), chi.URLParam(r, "loaderCode"), body.Timestamp, actorFrom(r)); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleQueryHistory(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := repository.HistoryFilter{LoaderCode: chi.URLParam(r, "loaderCode")}

		q := r.URL.Query()
		if status := q.Get("status"); status != "" {
			s := models.HistoryStatus(status)
			filter.Status = &s
		}
		if from := q.Get("fromTime"); from != "" {
			t, err := time.Parse(time.RFC3339, from)
			if err != nil {
				writeError(w, validation.NewBadRequest("invalid fromTime: "+err.Error()))
				return
			}
			filter.FromTime = &t
		}
		if to := q.Get("toTime"); to != "" {
			t, err := time.Parse(time.RFC3339, to)
			if err != nil {
				writeError(w, validation.NewBadRequest("invalid toTime: "+err.Error()))
				return
			}
			filter.ToTime = &t
		}
		if limit := q.Get("limit"); limit != "" {
			n, err := strconv.Atoi(limit)
			if err != nil {
				writeError(w, validation.NewBadRequest("invalid limit: "+err.Error()))
				return
			}
			filter.Limit = n
		}

		rows, err := svc.QueryHistory(r.Context(), filter)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)
	}
}
