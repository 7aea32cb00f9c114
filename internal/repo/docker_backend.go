package repo

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/miradorstack/mirador-aiops/internal/models"
)

// maxLogLine caps a single container log line.
const maxLogLine = 1 << 20

type dockerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRestart(ctx context.Context, containerID string, options container.StopOptions) error
	Close() error
}

// KeywordMatcher reports whether a log message matches any keyword.
type KeywordMatcher func(message string, keywords []string) bool

// DockerBackend treats containers as compute instances: labels are tags, container
// logs are the log source and restart is the corrective action.
type DockerBackend struct {
	cli     dockerAPI
	match   KeywordMatcher
	timeout time.Duration
	logger  *slog.Logger
}

// NewDockerBackend connects to the daemon at host, or DOCKER_HOST when host is empty.
func NewDockerBackend(host string, timeout time.Duration, match KeywordMatcher, logger *slog.Logger) (*DockerBackend, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return newDockerBackend(cli, timeout, match, logger), nil
}

func newDockerBackend(cli dockerAPI, timeout time.Duration, match KeywordMatcher, logger *slog.Logger) *DockerBackend {
	if logger == nil {
		logger = slog.Default()
	}
	if match == nil {
		match = func(string, []string) bool { return true }
	}
	return &DockerBackend{cli: cli, match: match, timeout: timeout, logger: logger}
}

// ListResources lists containers labelled TagKey=TagValue in the requested state.
func (d *DockerBackend) ListResources(ctx context.Context, sel models.Selector) ([]models.Resource, error) {
	args := filters.NewArgs()
	if sel.TagKey != "" {
		args.Add("label", sel.TagKey+"="+sel.TagValue)
	}
	if sel.State != "" {
		args.Add("status", sel.State)
	}

	containers, err := d.cli.ContainerList(ctx, container.ListOptions{All: sel.State != "running", Filters: args})
	if err != nil {
		return nil, fmt.Errorf("docker list containers: %w", err)
	}

	resources := make([]models.Resource, 0, len(containers))
	for _, c := range containers {
		resources = append(resources, models.Resource{
			ID:    containerName(c),
			Name:  containerName(c),
			State: string(c.State),
			Tags:  c.Labels,
		})
	}
	return resources, nil
}

// FilterLogs reads container logs in [Start, End] and keeps the lines matching any keyword.
func (d *DockerBackend) FilterLogs(ctx context.Context, q models.LogQuery) ([]models.LogLine, error) {
	target := q.ResourceID
	if target == "" {
		target = q.Source
	}
	rc, err := d.cli.ContainerLogs(ctx, target, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
		Since:      strconv.FormatInt(q.Start.Unix(), 10),
		Until:      strconv.FormatInt(q.End.Unix(), 10),
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, fmt.Errorf("container %s: %w", target, ErrLogSourceNotFound)
		}
		return nil, fmt.Errorf("docker container logs: %w", err)
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return nil, fmt.Errorf("demux container logs: %w", err)
	}

	var lines []models.LogLine
	for _, buf := range []*bytes.Buffer{&stdout, &stderr} {
		scanner := bufio.NewScanner(buf)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLogLine)
		for scanner.Scan() {
			line := parseDockerLogLine(scanner.Text())
			if line.Message == "" || !d.match(line.Message, q.Keywords) {
				continue
			}
			lines = append(lines, line)
		}
		if err := scanner.Err(); err != nil {
			d.logger.Warn("container log scan stopped early", slog.String("container", target), slog.Any("error", err))
		}
	}
	sortLines(lines)
	return lines, nil
}

// Restart restarts the container with the daemon's default stop timeout.
func (d *DockerBackend) Restart(ctx context.Context, resourceID string) error {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	if err := d.cli.ContainerRestart(ctx, resourceID, container.StopOptions{}); err != nil {
		return fmt.Errorf("docker restart %s: %w", resourceID, err)
	}
	return nil
}

// Close releases the daemon connection.
func (d *DockerBackend) Close() error {
	return d.cli.Close()
}

func containerName(c container.Summary) string {
	for _, name := range c.Names {
		if trimmed := strings.TrimPrefix(name, "/"); trimmed != "" {
			return trimmed
		}
	}
	if len(c.ID) > 12 {
		return c.ID[:12]
	}
	return c.ID
}

func parseDockerLogLine(raw string) models.LogLine {
	raw = strings.TrimRight(raw, "\r")
	stamp, message, found := strings.Cut(raw, " ")
	if !found {
		return models.LogLine{Message: strings.TrimSpace(raw)}
	}
	ts, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return models.LogLine{Message: strings.TrimSpace(raw)}
	}
	return models.LogLine{Timestamp: ts.UTC(), Message: strings.TrimSpace(message)}
}

func sortLines(lines []models.LogLine) {
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].Timestamp.Before(lines[j].Timestamp) })
}
