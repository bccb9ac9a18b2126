// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package api

import (
	"net/http"
	"strconv"

	"github.com/tomtom215/replaylog/internal/models"
	"github.com/tomtom215/replaylog/internal/validation"
)

// EventsRequest holds GET /events parameters. Limit 0 means everything.
type EventsRequest struct {
	Limit int `query:"limit" validate:"gte=0,lte=100000"`
}

// RangeRequest holds GET /events/range parameters.
type RangeRequest struct {
	Start string `query:"start" validate:"required,isodate"`
	End   string `query:"end" validate:"required,isodate"`
}

// DateRequest holds the {date} path parameter.
type DateRequest struct {
	Date string `query:"date" validate:"required,isodate"`
}

// StatsRequest holds GET /stats parameters.
type StatsRequest struct {
	Top int `query:"top" validate:"gte=0,lte=1000"`
}

// intParam returns def when the parameter is absent and -1 when it is not
// an integer, which then fails the gte=0 rule with a readable message.
func intParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return v
}

func validateRequest(req interface{}) *models.APIError {
	if verr := validation.ValidateStruct(req); verr != nil {
		return verr.ToAPIError()
	}
	return nil
}
