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

package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sampler"
	"sampler/internal/collector/core"
	"sampler/plugin/probe"
)

// newTestServer wires a server over a fresh accumulator so each test starts
// from an empty pending set.
func newTestServer(capacity int64) (*Server, *sampler.Accumulator, *core.Registry, *core.Harvester) {
	acc := sampler.New(capacity)
	reg := core.NewRegistry()
	pipeline := probe.NewPipeline(acc, reg, probe.PipelineOptions{})
	harvester := core.NewHarvester(acc, reg, nil, time.Hour, time.Hour, time.Hour)
	return NewServer(pipeline, reg, harvester), acc, reg, harvester
}

// TestServer_SampleEndpoint_Integration validates the end-to-end behavior of the /sample endpoint.
func TestServer_SampleEndpoint_Integration(t *testing.T) {
	// Create the server with a low capacity for testing purposes.
	const testCapacity = 3
	srv, acc, reg, _ := newTestServer(testCapacity)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	ts := httptest.NewServer(mux)
	defer ts.Close()

	client := ts.Client()

	// 1) Missing app should return 400
	resp, err := client.Post(ts.URL+"/sample", "application/json", nil)
	if err != nil {
		t.Fatalf("unexpected error calling /sample without app: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 400 for missing app, got %d, body=%s", resp.StatusCode, string(body))
	}

	// 2) Submissions up to capacity should be admitted with visibility headers
	app := "checkout"
	for i := 1; i <= testCapacity; i++ {
		resp, err = client.Post(ts.URL+"/sample?app="+app, "application/json", nil)
		if err != nil {
			t.Fatalf("unexpected error on submission %d: %v", i, err)
		}
		if resp.StatusCode != http.StatusAccepted {
			body, _ := io.ReadAll(resp.Body)
			t.Fatalf("expected 202 on submission %d, got %d, body=%s", i, resp.StatusCode, string(body))
		}
		if got := resp.Header.Get("X-Sampler-Status"); got != "Admitted" {
			t.Fatalf("expected X-Sampler-Status=Admitted, got %q", got)
		}
		if got := resp.Header.Get("X-Sampler-Capacity"); got != "3" {
			t.Fatalf("expected X-Sampler-Capacity=3, got %q", got)
		}
		resp.Body.Close()
	}

	// 3) The next submission should be rejected with 429 and appropriate headers
	resp, err = client.Post(ts.URL+"/sample?app="+app, "application/json", nil)
	if err != nil {
		t.Fatalf("unexpected error on overflow submission: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 429 on overflow submission, got %d, body=%s", resp.StatusCode, string(body))
	}
	if got := resp.Header.Get("X-Sampler-Status"); got != "Rejected" {
		t.Fatalf("expected X-Sampler-Status=Rejected, got %q", got)
	}
	if got := resp.Header.Get("Retry-After"); got != "1" {
		t.Fatalf("expected Retry-After=1, got %q", got)
	}
	if got := resp.Header.Get("X-Sampler-Pending"); got != "3" {
		t.Fatalf("expected X-Sampler-Pending=3 at capacity, got %q", got)
	}

	// 4) Verify the accumulator and registry reflect the 3 admissions.
	if acc.Pending() != 3 {
		t.Fatalf("expected pending=3 after three admissions, got %d", acc.Pending())
	}
	if reg.Admitted(app) != 3 {
		t.Fatalf("expected registry to count 3 admissions, got %d", reg.Admitted(app))
	}
}

// TestServer_SampleEndpoint_BypassAmbient ensures a body with an empty
// resource id classifies as ambient traffic and never touches the
// accumulator.
func TestServer_SampleEndpoint_BypassAmbient(t *testing.T) {
	srv, acc, reg, _ := newTestServer(4)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	ts := httptest.NewServer(mux)
	defer ts.Close()

	body := strings.NewReader(`{"name":"background-job","resource_id":""}`)
	resp, err := ts.Client().Post(ts.URL+"/sample?app=checkout", "application/json", body)
	if err != nil {
		t.Fatalf("unexpected error on ambient submission: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 for ambient traffic, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Sampler-Status"); got != "Bypass" {
		t.Fatalf("expected X-Sampler-Status=Bypass, got %q", got)
	}
	if acc.Pending() != 0 || reg.Len() != 0 {
		t.Fatalf("bypass must not touch accumulator or registry: pending=%d partitions=%d", acc.Pending(), reg.Len())
	}
}

// TestServer_SampleEndpoint_ExplicitBody checks that an explicit probe body is
// admitted and carried through to the pending set.
func TestServer_SampleEndpoint_ExplicitBody(t *testing.T) {
	srv, acc, _, _ := newTestServer(4)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	ts := httptest.NewServer(mux)
	defer ts.Close()

	body := strings.NewReader(`{"name":"place-order","duration_ms":120,"priority":2.5,"resource_id":"r-7","monitor_id":"m-1","job_id":"j-9"}`)
	resp, err := ts.Client().Post(ts.URL+"/sample?app=checkout", "application/json", body)
	if err != nil {
		t.Fatalf("unexpected error on explicit submission: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 202 for explicit probe body, got %d, body=%s", resp.StatusCode, string(b))
	}
	if acc.Pending() != 1 {
		t.Fatalf("expected 1 pending after explicit submission, got %d", acc.Pending())
	}

	// The admitted sample must surface with its fields intact on harvest.
	samples := acc.Harvest("checkout")
	if len(samples) != 1 {
		t.Fatalf("expected 1 harvested sample, got %d", len(samples))
	}
	tx, ok := samples[0].(*probe.Transaction)
	if !ok {
		t.Fatalf("expected a transaction, got %T", samples[0])
	}
	if tx.Name != "place-order" || tx.ResourceID != "r-7" || tx.MonitorID != "m-1" || tx.JobID != "j-9" {
		t.Fatalf("unexpected transaction fields: %+v", tx)
	}
	if tx.Duration != 120*time.Millisecond {
		t.Fatalf("expected 120ms duration, got %v", tx.Duration)
	}
	if !tx.IsCandidate() {
		t.Fatalf("admitted transaction must carry the candidate mark")
	}
}
