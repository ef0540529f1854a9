// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"encoding/json"
	stdhttp "net/http"

	"github.com/gorilla/mux"

	"github.com/wneessen/livetrack/internal/logger"
)

const (
	contentTypeJSON    = "application/json"
	contentTypeGeoJSON = "application/geo+json"
)

func (s *Service) routes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(stdhttp.MethodGet)
	s.router.HandleFunc("/subjects/{subject}", s.handleSnapshot).Methods(stdhttp.MethodGet)
	s.router.HandleFunc("/subjects/{subject}/trail.geojson", s.handleTrail).Methods(stdhttp.MethodGet)
	if s.hub != nil {
		s.hub.Routes(s.router)
	}
}

func (s *Service) handleHealth(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
	status := s.session.Status()
	s.writeJSON(w, stdhttp.StatusOK, map[string]any{
		"subject": status.SubjectID,
		"running": status.Running,
		"state":   status.Sampler.State.String(),
	})
}

// handleSnapshot serves the track state of the local subject as JSON.
func (s *Service) handleSnapshot(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	if !s.isLocalSubject(r) {
		stdhttp.NotFound(w, r)
		return
	}
	s.writeJSON(w, stdhttp.StatusOK, s.session.Snapshot())
}

func (s *Service) handleTrail(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	if !s.isLocalSubject(r) {
		stdhttp.NotFound(w, r)
		return
	}
	data, err := s.session.Snapshot().GeoJSON()
	if err != nil {
		s.logger.Error("failed to encode trail", logger.Err(err))
		stdhttp.Error(w, stdhttp.StatusText(stdhttp.StatusInternalServerError), stdhttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeGeoJSON)
	_, _ = w.Write(data)
}

func (s *Service) isLocalSubject(r *stdhttp.Request) bool {
	return mux.Vars(r)["subject"] == s.session.SubjectID()
}

func (s *Service) writeJSON(w stdhttp.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", logger.Err(err))
	}
}
