// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package services

import "context"

// Runner blocks until ctx is canceled or it fails. *websocket.Hub and
// *eventprocessor.Notifier satisfy it.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerService supervises a Runner under a fixed name.
type RunnerService struct {
	runner Runner
	name   string
}

// NewRunnerService creates the service.
func NewRunnerService(name string, runner Runner) *RunnerService {
	return &RunnerService{runner: runner, name: name}
}

// Serve implements suture.Service.
func (r *RunnerService) Serve(ctx context.Context) error {
	return r.runner.Run(ctx)
}

func (r *RunnerService) String() string {
	return r.name
}
