// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/RiverCluster/services/rivercluster/config"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/storage"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Clustering.ProfileLen = 20
	cfg.Clustering.Step = 1
	cfg.Clustering.SlopeWindow = 3
	cfg.Clustering.Workers = 2
	return cfg
}

func newTestServer(t *testing.T, withStore bool) *Server {
	t.Helper()
	var db *storage.DB
	if withStore {
		var err error
		db, err = storage.OpenInMemory()
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
	}
	return NewServer(testConfig(), db, nil)
}

func ptr[T any](v T) *T { return &v }

// rows builds a wavy profile of n nodes, one per metre.
func rows(id int64, n int, freq float64) []RowRequest {
	out := make([]RowRequest, n)
	for i := range out {
		d := float64(i)
		out[i] = RowRequest{
			ID:                 ptr(id),
			DistanceFromSource: ptr(d),
			DistanceFromOutlet: ptr(float64(n) - d),
			Elevation:          ptr(500 - 0.2*d - 2*math.Sin(d*freq)),
			DrainageArea:       ptr(1500 + 50*d),
		}
	}
	return out
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, false)
	w := do(t, s, http.MethodGet, "/v1/rivercluster/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, false, resp["storage"])
}

func TestCreateRun_StoresAndServesRecord(t *testing.T) {
	s := newTestServer(t, true)

	var body RunRequest
	body.Rows = append(body.Rows, rows(1, 40, 0.3)...)
	body.Rows = append(body.Rows, rows(2, 40, 0.31)...)
	body.Rows = append(body.Rows, rows(3, 40, 1.7)...)

	w := do(t, s, http.MethodPost, "/v1/rivercluster/runs", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RunID)
	assert.Len(t, resp.Labels, 3)
	assert.GreaterOrEqual(t, resp.Clusters, 1)
	assert.Len(t, resp.Colours, resp.Clusters)
	assert.Equal(t, "gap", resp.ThresholdSource)
	require.NotNil(t, resp.Tree)
	assert.Len(t, resp.Tree.Merges, 2)

	w = do(t, s, http.MethodGet, "/v1/rivercluster/runs/"+resp.RunID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rec storage.RunRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, resp.RunID, rec.ID)
	assert.Equal(t, "api", rec.Input)
	assert.Equal(t, resp.Clusters, rec.Clusters)

	w = do(t, s, http.MethodGet, "/v1/rivercluster/runs?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Runs  []storage.RunRecord `json:"runs"`
		Count int                 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
}

func TestCreateRun_MinCorrOverride(t *testing.T) {
	s := newTestServer(t, false)

	var body RunRequest
	body.Params.MinCorr = ptr(0.5)
	body.Rows = append(body.Rows, rows(1, 40, 0.3)...)
	body.Rows = append(body.Rows, rows(2, 40, 0.31)...)

	w := do(t, s, http.MethodPost, "/v1/rivercluster/runs", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "min_corr", resp.ThresholdSource)
	assert.InDelta(t, math.Acos(0.5), resp.Threshold, 1e-12)
	require.NotNil(t, resp.Params.MinCorr)
	assert.Equal(t, 0.5, *resp.Params.MinCorr)
}

func TestCreateRun_BadRequests(t *testing.T) {
	s := newTestServer(t, false)

	tests := []struct {
		name string
		body any
	}{
		{"no rows", RunRequest{}},
		{"missing elevation", map[string]any{"rows": []map[string]any{
			{"id": 1, "distance_from_source": 0, "distance_from_outlet": 1, "drainage_area": 10},
		}}},
		{"unknown method", RunRequest{Params: ParamsRequest{Method: ptr("furthest")}, Rows: rows(1, 5, 0.3)}},
		{"window too small", RunRequest{Params: ParamsRequest{SlopeWindow: ptr(2)}, Rows: rows(1, 5, 0.3)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, "/v1/rivercluster/runs", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestCreateRun_RejectsOutOfRangeNumbers(t *testing.T) {
	s := newTestServer(t, false)

	body := json.RawMessage(`{"rows":[{"id":1,"distance_from_source":0,"distance_from_outlet":1,"elevation":1e999,"drainage_area":10}]}`)
	w := do(t, s, http.MethodPost, "/v1/rivercluster/runs", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateRun_TooManyRows(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxRows = 10
	s := NewServer(cfg, nil, nil)

	w := do(t, s, http.MethodPost, "/v1/rivercluster/runs", RunRequest{Rows: rows(1, 11, 0.3)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestCreateRun_NothingToCluster(t *testing.T) {
	s := newTestServer(t, false)

	w := do(t, s, http.MethodPost, "/v1/rivercluster/runs", RunRequest{Rows: rows(1, 8, 0.3)})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "no profiles to cluster", resp.Error)
}

func TestRuns_WithoutStorage(t *testing.T) {
	s := newTestServer(t, false)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/v1/rivercluster/runs", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/v1/rivercluster/runs/abc", nil).Code)
}

func TestGetRun_NotFound(t *testing.T) {
	s := newTestServer(t, true)
	w := do(t, s, http.MethodGet, "/v1/rivercluster/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListRuns_InvalidLimit(t *testing.T) {
	s := newTestServer(t, true)
	w := do(t, s, http.MethodGet, "/v1/rivercluster/runs?limit=lots", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestToTable_OptionalColumns(t *testing.T) {
	r := rows(7, 3, 0.3)
	r[0].Node = ptr(int64(100))
	tbl := toTable(r)
	assert.False(t, tbl.Columns.Node)
	assert.False(t, tbl.Columns.StreamOrder)
	require.Equal(t, 1, tbl.Len())
	assert.Len(t, tbl.Profiles[0].Nodes, 3)
	assert.True(t, math.IsNaN(tbl.Profiles[0].Nodes[0].Slope))

	for i := range r {
		r[i].Node = ptr(int64(100 + i))
		r[i].StreamOrder = ptr(2)
	}
	tbl = toTable(r)
	assert.True(t, tbl.Columns.Node)
	assert.True(t, tbl.Columns.StreamOrder)
}

func TestCreateRun_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RunsPerSecond = 0.001
	cfg.Server.RunBurst = 1
	s := NewServer(cfg, nil, nil)

	body := RunRequest{Rows: rows(1, 8, 0.3)}
	assert.Equal(t, http.StatusUnprocessableEntity, do(t, s, http.MethodPost, "/v1/rivercluster/runs", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, s, http.MethodPost, "/v1/rivercluster/runs", body).Code)
}
