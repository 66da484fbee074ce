// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package procrunner_test

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diffeo/go-svcfleet/metadata"
	"github.com/diffeo/go-svcfleet/procrunner"
	"github.com/diffeo/go-svcfleet/svc"
)

type recordingProcess struct {
	started  bool
	stdout   []byte
	stderr   []byte
	failedRC int
	failedSig int
	failedCalled bool
	cleaned  bool
	result   interface{}
}

func (p *recordingProcess) ProcessStarted()         { p.started = true }
func (p *recordingProcess) StdoutData(data []byte)  { p.stdout = append(p.stdout, data...) }
func (p *recordingProcess) StderrData(data []byte)  { p.stderr = append(p.stderr, data...) }
func (p *recordingProcess) Failed(rc, sig int) {
	p.failedCalled = true
	p.failedRC = rc
	p.failedSig = sig
}
func (p *recordingProcess) Cleanup() { p.cleaned = true }
func (p *recordingProcess) Results() (interface{}, error) {
	p.result = "ok"
	return p.result, nil
}

func TestRunSuccessCapturesOutputAndResults(t *testing.T) {
	cmd := exec.Command("sh", "-c", "echo hello; echo world 1>&2")
	p := &recordingProcess{}
	parent := metadata.New("test", svc.NewTracker(), clock.NewMock())

	result, err := procrunner.Run(context.Background(), parent, clock.NewMock(), cmd, p, 0)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.True(t, p.started)
	assert.True(t, p.cleaned)
	assert.False(t, p.failedCalled)
	assert.Contains(t, string(p.stdout), "hello")
	assert.Contains(t, string(p.stderr), "world")
}

func TestRunNonZeroExitFails(t *testing.T) {
	cmd := exec.Command("sh", "-c", "echo boom 1>&2; exit 3")
	p := &recordingProcess{}
	parent := metadata.New("test", svc.NewTracker(), clock.NewMock())

	_, err := procrunner.Run(context.Background(), parent, clock.NewMock(), cmd, p, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed, return code 3")
	assert.True(t, p.failedCalled)
	assert.Equal(t, 3, p.failedRC)
	assert.True(t, p.cleaned, "Cleanup must run even on failure")
}

func TestRunTruncatesOutput(t *testing.T) {
	cmd := exec.Command("sh", "-c", "head -c 100 /dev/zero | tr '\\0' 'x'")
	p := &recordingProcess{}
	parent := metadata.New("test", svc.NewTracker(), clock.NewMock())

	_, err := procrunner.Run(context.Background(), parent, clock.NewMock(), cmd, p, 10)
	require.NoError(t, err)
	// The per-chunk hook still sees everything; boundedBuffer is what
	// truncates for the eventual error message, so assert indirectly
	// via a failing run instead.
	cmd2 := exec.Command("sh", "-c", "head -c 100 /dev/zero | tr '\\0' 'x' 1>&2; exit 1")
	_, err2 := procrunner.Run(context.Background(), parent, clock.NewMock(), cmd2, p, 10)
	require.Error(t, err2)
	assert.LessOrEqual(t, len(err2.Error()), len(cmd2.Args[0])+200)
}

func TestRunSpawnFailureWrapsError(t *testing.T) {
	cmd := exec.Command("/no/such/binary-xyz")
	p := &recordingProcess{}
	parent := metadata.New("test", svc.NewTracker(), clock.NewMock())

	_, err := procrunner.Run(context.Background(), parent, clock.NewMock(), cmd, p, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to start")
}

func TestRunAccruesRunTimer(t *testing.T) {
	cmd := exec.Command("sh", "-c", "true")
	p := &recordingProcess{}
	parent := metadata.New("test", svc.NewTracker(), clock.New())

	_, err := procrunner.Run(context.Background(), parent, clock.New(), cmd, p, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, parent.Timer("run").Elapsed(), time.Duration(0))
}
