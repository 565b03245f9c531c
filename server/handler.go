package server

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/upcast/upcast/coordinator"
	"github.com/upcast/upcast/resp"
)

func (s *Server) createJob(c *gin.Context) {
	var req coordinator.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.Fail(c, resp.BadRequest("malformed job manifest", err.Error()))
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		resp.Fail(c, resp.BadRequest("invalid job manifest", errs))
		return
	}

	j, err := s.coord.SubmitJob(c.Request.Context(), &req)
	if err != nil {
		resp.Fail(c, resp.InternalServer("job submission failed", err.Error()))
		return
	}
	resp.WithStatusCode(c, 201, j)
}

func (s *Server) listJobs(c *gin.Context) {
	jobs, err := s.coord.ListJobs(c.Request.Context())
	if err != nil {
		resp.Fail(c, resp.InternalServer("list jobs failed", err.Error()))
		return
	}
	resp.Success(c, jobs)
}

func (s *Server) getJob(c *gin.Context) {
	status, err := s.coord.GetJobStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, coordinator.ErrNotFound) {
			resp.Fail(c, resp.NotFound("job not found"))
			return
		}
		resp.Fail(c, resp.InternalServer("job status failed", err.Error()))
		return
	}
	resp.Success(c, status)
}

// streamLog serves the job log as a line stream. For a running job the
// response stays open until the job goes terminal; ?offset=N restarts a
// finished stream from line N.
func (s *Server) streamLog(c *gin.Context) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	ch, cancel, err := s.coord.StreamJobLog(c.Request.Context(), c.Param("id"), offset)
	if err != nil {
		if errors.Is(err, coordinator.ErrNotFound) {
			resp.Fail(c, resp.NotFound("job not found"))
			return
		}
		resp.Fail(c, resp.InternalServer("log stream failed", err.Error()))
		return
	}
	defer cancel()

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case line, ok := <-ch:
			if !ok {
				return false
			}
			fmt.Fprintln(w, line)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (s *Server) cancelJob(c *gin.Context) {
	cancelled, err := s.coord.CancelJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, coordinator.ErrNotFound) {
			resp.Fail(c, resp.NotFound("job not found"))
			return
		}
		resp.Fail(c, resp.InternalServer("cancel failed", err.Error()))
		return
	}
	resp.Success(c, gin.H{"cancelled": cancelled})
}

func (s *Server) getMetrics(c *gin.Context) {
	m := s.collector.GetMetrics()
	if s.gate != nil {
		for k, v := range s.gate.GetMetrics() {
			m["gate_"+k] = v
		}
	}
	resp.Success(c, m)
}
