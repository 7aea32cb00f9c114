package repo

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/miradorstack/mirador-aiops/internal/models"
)

type notFoundErr struct{}

func (notFoundErr) Error() string { return "No such container" }
func (notFoundErr) NotFound()     {}

type fakeDocker struct {
	listOpts   container.ListOptions
	containers []container.Summary
	logs       []byte
	logsErr    error
	restarted  []string
	restartErr error
}

func (f *fakeDocker) ContainerList(_ context.Context, opts container.ListOptions) ([]container.Summary, error) {
	f.listOpts = opts
	return f.containers, nil
}

func (f *fakeDocker) ContainerLogs(_ context.Context, _ string, _ container.LogsOptions) (io.ReadCloser, error) {
	if f.logsErr != nil {
		return nil, f.logsErr
	}
	return io.NopCloser(bytes.NewReader(f.logs)), nil
}

func (f *fakeDocker) ContainerRestart(_ context.Context, id string, _ container.StopOptions) error {
	f.restarted = append(f.restarted, id)
	return f.restartErr
}

func (f *fakeDocker) Close() error { return nil }

func containsKeyword(message string, keywords []string) bool {
	for _, k := range keywords {
		if bytes.Contains(bytes.ToLower([]byte(message)), []byte(k)) {
			return true
		}
	}
	return false
}

func multiplexed(t *testing.T, stdout, stderr string) []byte {
	t.Helper()
	var buf bytes.Buffer
	if _, err := stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(stdout)); err != nil {
		t.Fatalf("write stdout frame: %v", err)
	}
	if _, err := stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(stderr)); err != nil {
		t.Fatalf("write stderr frame: %v", err)
	}
	return buf.Bytes()
}

func TestDockerListResourcesFiltersByLabel(t *testing.T) {
	fake := &fakeDocker{containers: []container.Summary{
		{ID: "0123456789abcdef", Names: []string{"/web-1"}, State: "running", Labels: map[string]string{"Monitored": "true"}},
	}}
	backend := newDockerBackend(fake, time.Second, containsKeyword, nil)

	resources, err := backend.ListResources(context.Background(), models.Selector{TagKey: "Monitored", TagValue: "true", State: "running"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resources) != 1 || resources[0].ID != "web-1" {
		t.Fatalf("unexpected resources: %+v", resources)
	}
	if got := fake.listOpts.Filters.Get("label"); len(got) != 1 || got[0] != "Monitored=true" {
		t.Fatalf("unexpected label filter: %v", got)
	}
	if got := fake.listOpts.Filters.Get("status"); len(got) != 1 || got[0] != "running" {
		t.Fatalf("unexpected status filter: %v", got)
	}
}

func TestDockerFilterLogsKeepsMatchingLinesInOrder(t *testing.T) {
	stdout := "2024-05-01T12:01:00Z service started\n2024-05-01T12:03:00Z request failed: upstream\n"
	stderr := "2024-05-01T12:02:00Z ERROR disk full\n"
	fake := &fakeDocker{logs: multiplexed(t, stdout, stderr)}
	backend := newDockerBackend(fake, time.Second, containsKeyword, nil)

	lines, err := backend.FilterLogs(context.Background(), models.LogQuery{ResourceID: "web-1", Keywords: []string{"error", "failed"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 matching lines, got %+v", lines)
	}
	if lines[0].Message != "ERROR disk full" || lines[1].Message != "request failed: upstream" {
		t.Fatalf("unexpected order: %+v", lines)
	}
}

func TestDockerFilterLogsReadsPastLongLines(t *testing.T) {
	long := "2024-05-01T12:01:00Z ERROR dump " + strings.Repeat("x", 100*1024) + "\n"
	stdout := long + "2024-05-01T12:02:00Z request failed: upstream\n"
	fake := &fakeDocker{logs: multiplexed(t, stdout, "")}
	backend := newDockerBackend(fake, time.Second, containsKeyword, nil)

	lines, err := backend.FilterLogs(context.Background(), models.LogQuery{ResourceID: "web-1", Keywords: []string{"error", "failed"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 2 || lines[1].Message != "request failed: upstream" {
		t.Fatalf("expected both lines after a 100KiB line, got %d lines", len(lines))
	}
}

func TestDockerFilterLogsMissingContainer(t *testing.T) {
	backend := newDockerBackend(&fakeDocker{logsErr: notFoundErr{}}, time.Second, containsKeyword, nil)
	_, err := backend.FilterLogs(context.Background(), models.LogQuery{ResourceID: "ghost"})
	if !errors.Is(err, ErrLogSourceNotFound) {
		t.Fatalf("expected ErrLogSourceNotFound, got %v", err)
	}
}

func TestDockerRestart(t *testing.T) {
	fake := &fakeDocker{}
	backend := newDockerBackend(fake, time.Second, containsKeyword, nil)
	if err := backend.Restart(context.Background(), "web-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.restarted) != 1 || fake.restarted[0] != "web-1" {
		t.Fatalf("unexpected restarts: %v", fake.restarted)
	}

	fake.restartErr = errors.New("daemon unavailable")
	if err := backend.Restart(context.Background(), "web-1"); err == nil {
		t.Fatalf("expected restart error")
	}
}
