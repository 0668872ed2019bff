// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api implements the public-facing HTTP server for the sample
// collector. It accepts transaction submissions, runs them through the probe
// admission pipeline, and exposes pending-state, on-demand harvest, and
// Prometheus metrics endpoints.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sampler/internal/collector/core"
	"sampler/plugin/probe"
)

// Server handles the HTTP requests for the sample collector service.
// It is configured with the admission pipeline, the partition registry, and
// the harvest scheduler.
type Server struct {
	pipeline  *probe.Pipeline
	registry  *core.Registry
	harvester *core.Harvester
}

// NewServer creates and configures a new API server.
func NewServer(pipeline *probe.Pipeline, registry *core.Registry, harvester *core.Harvester) *Server {
	return &Server{
		pipeline:  pipeline,
		registry:  registry,
		harvester: harvester,
	}
}

// RegisterRoutes sets up the HTTP routes for the server on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/sample", s.handleSample)
	mux.HandleFunc("/pending", s.handlePending)
	mux.HandleFunc("/harvest", s.handleHarvest)
	mux.Handle("/metrics", promhttp.Handler())
}

// sampleRequest is the optional JSON body for /sample. A request without a
// body submits a synthetic probe-origin transaction, which keeps load
// generators and curl demos trivial.
type sampleRequest struct {
	Name       string  `json:"name"`
	DurationMs int64   `json:"duration_ms"`
	Priority   float64 `json:"priority"`
	ResourceID string  `json:"resource_id"`
	MonitorID  string  `json:"monitor_id"`
	JobID      string  `json:"job_id"`
}

// handleSample is the main HTTP handler for submitting a transaction to the
// accumulator. It is designed to be as fast as possible.
func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	// 1. Identify the partition. The application name is the partition key for
	// the whole collector, so it is the one required parameter.
	app := r.URL.Query().Get("app")
	if app == "" {
		http.Error(w, "application name is required", http.StatusBadRequest)
		return
	}

	// 2. Build the transaction. An absent body means a synthetic probe sample;
	// an explicit body is taken verbatim, including an empty resource id,
	// which classifies the transaction as ambient traffic.
	req := sampleRequest{Name: "http-probe", ResourceID: "synthetic-http"}
	if r.Body != nil {
		var parsed sampleRequest
		switch err := json.NewDecoder(r.Body).Decode(&parsed); {
		case err == io.EOF:
			// no body; keep the synthetic defaults
		case err != nil:
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		default:
			req = parsed
		}
	}
	dur := time.Duration(req.DurationMs) * time.Millisecond
	tx := &probe.Transaction{
		AppName:    app,
		Name:       req.Name,
		StartedAt:  time.Now().Add(-dur),
		Duration:   dur,
		Priority:   req.Priority,
		ResourceID: req.ResourceID,
		MonitorID:  req.MonitorID,
		JobID:      req.JobID,
	}

	// 3. Ambient traffic bypasses the accumulator entirely; report that
	// explicitly so callers can tell a bypass from a capacity rejection.
	isProbe, err := probe.Classify(tx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !isProbe {
		s.writeStateHeaders(w)
		w.Header().Set("X-Sampler-Status", "Bypass")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// 4. Offer the transaction for admission. This is an extremely fast,
	// in-memory operation; a rejection means the pending set is at capacity
	// until the next harvest cycle frees it.
	admitted, err := s.pipeline.Offer(tx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeStateHeaders(w)
	if !admitted {
		w.Header().Set("X-Sampler-Status", "Rejected")
		// The next periodic harvest frees capacity; a one second retry hint
		// is conservative for the default cycle.
		w.Header().Set("Retry-After", "1")
		http.Error(w, "Too Many Samples", http.StatusTooManyRequests)
		return
	}

	// 5. Return a successful response with visibility headers.
	w.Header().Set("X-Sampler-Status", "Admitted")
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, "Admitted")
}

// handlePending reports the collector's live admission state.
func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	resp := struct {
		Pending    int64 `json:"pending"`
		Capacity   int64 `json:"capacity"`
		Partitions int   `json:"partitions"`
	}{
		Pending:    s.pipeline.Pending(),
		Capacity:   s.pipeline.Capacity(),
		Partitions: s.registry.Len(),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// handleHarvest triggers an immediate drain of one partition through the
// harvest scheduler and reports how many samples were removed.
func (s *Server) handleHarvest(w http.ResponseWriter, r *http.Request) {
	app := r.URL.Query().Get("app")
	if app == "" {
		http.Error(w, "application name is required", http.StatusBadRequest)
		return
	}
	n := s.harvester.HarvestNow(app)
	w.Header().Set("Content-Type", "application/json")
	resp := struct {
		App       string `json:"app"`
		Harvested int    `json:"harvested"`
	}{App: app, Harvested: n}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeStateHeaders attaches the capacity/pending visibility headers every
// /sample response carries.
func (s *Server) writeStateHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Sampler-Capacity", fmt.Sprintf("%d", s.pipeline.Capacity()))
	w.Header().Set("X-Sampler-Pending", fmt.Sprintf("%d", s.pipeline.Pending()))
}

// ListenAndServe starts the HTTP server on the specified address.
// It includes setup for graceful shutdown.
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	fmt.Printf("Sample collector API server listening on %s\n", addr)
	return httpServer.ListenAndServe()
}
