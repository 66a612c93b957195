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
	"errors"
	"net/http"
	"strconv"

	"github.com/AleutianAI/RiverCluster/services/rivercluster/distance"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/pipeline"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/storage"
	"github.com/gin-gonic/gin"
)

const defaultListLimit = 50

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"storage": s.store != nil,
	})
}

// handleCreateRun runs the pipeline on the rows of the request body.
//
// Responses:
//   - 200: RunResponse
//   - 400: malformed body or invalid parameters
//   - 413: more rows than the server accepts
//   - 422: nothing left to cluster, or degenerate profiles (ids listed)
//   - 500: any other failure
func (s *Server) handleCreateRun(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}
	if max := s.cfg.Server.MaxRows; len(req.Rows) > max {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error:   "too many rows",
			Details: "limit is " + strconv.Itoa(max),
		})
		return
	}

	params := req.Params.apply(s.cfg.Clustering)
	if err := params.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid parameters", Details: err.Error()})
		return
	}

	opts := []pipeline.Option{pipeline.WithLogger(s.logger), pipeline.WithInputName("api")}
	if s.store != nil {
		opts = append(opts, pipeline.WithStore(s.store))
	}
	p, err := pipeline.New(params, opts...)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid parameters", Details: err.Error()})
		return
	}

	table := toTable(req.Rows)
	if err := table.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid profile", Details: err.Error()})
		return
	}

	res, err := p.Run(c.Request.Context(), table)
	if err != nil {
		s.writeRunError(c, err)
		return
	}
	c.JSON(http.StatusOK, newRunResponse(res))
}

func (s *Server) writeRunError(c *gin.Context, err error) {
	var degenerate *distance.DegenerateProfileError
	switch {
	case errors.As(err, &degenerate):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "degenerate profiles",
			Details: err.Error(),
			IDs:     degenerate.SourceIDs,
		})
	case errors.Is(err, pipeline.ErrNoProfiles):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "no profiles to cluster", Details: err.Error()})
	default:
		s.logger.Error("Run failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "run failed", Details: err.Error()})
	}
}

func (s *Server) handleListRuns(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "storage disabled"})
		return
	}
	limit := defaultListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit", Details: v})
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("List runs failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "list runs failed", Details: err.Error()})
		return
	}
	if runs == nil {
		runs = []storage.RunRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

func (s *Server) handleGetRun(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "storage disabled"})
		return
	}
	id := c.Param("id")
	rec, err := s.store.GetRun(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "run not found", Details: id})
		return
	}
	if err != nil {
		s.logger.Error("Get run failed", "run_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "get run failed", Details: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}
