package defra

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const (
	DefaultImage         = "sourcenetwork/defradb:latest"
	DefaultContainerName = "audiodoc-defra"
	DefaultPort          = "9181"
	containerPort        = "9181/tcp"
	containerDataDir     = "/data"
	ownerLabel           = "audiodoc.store"
)

// NodeState is the state of the local DefraDB container.
type NodeState string

const (
	NodeRunning  NodeState = "running"
	NodeStopped  NodeState = "stopped"
	NodeMissing  NodeState = "not_found"
	NodeStarting NodeState = "starting"
)

// NodeConfig configures a local DefraDB node.
type NodeConfig struct {
	ContainerName string
	Image         string
	DataPath      string // host directory bound to /data; empty keeps data in the container
	HostPort      string
	Logger        *slog.Logger
}

func (c *NodeConfig) applyDefaults() {
	if c.ContainerName == "" {
		c.ContainerName = DefaultContainerName
	}
	if c.Image == "" {
		c.Image = DefaultImage
	}
	if c.HostPort == "" {
		c.HostPort = DefaultPort
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Node runs the job store's DefraDB in a Docker container.
type Node struct {
	cli *client.Client
	cfg NodeConfig
}

// NewNode connects to the Docker daemon from the environment.
func NewNode(cfg NodeConfig) (*Node, error) {
	cfg.applyDefaults()
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Node{cli: cli, cfg: cfg}, nil
}

// Close closes the Docker client.
func (n *Node) Close() error {
	return n.cli.Close()
}

// URL returns the node's API URL on the host.
func (n *Node) URL() string {
	return "http://localhost:" + n.cfg.HostPort
}

// Start creates or restarts the container and waits for it to answer.
// A running container is left alone once its bindings check out.
func (n *Node) Start(ctx context.Context) error {
	if _, err := n.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker is not running: %w", err)
	}

	state, id, err := n.inspect(ctx)
	if err != nil {
		return err
	}

	switch state {
	case NodeRunning:
		return n.checkBindings(ctx, id)
	case NodeStopped:
		if err := n.checkBindings(ctx, id); err != nil {
			return err
		}
		n.cfg.Logger.Info("starting existing defra container", "name", n.cfg.ContainerName)
		if err := n.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
			return fmt.Errorf("failed to start existing container: %w", err)
		}
	case NodeMissing:
		if err := n.create(ctx); err != nil {
			return err
		}
	default:
		return fmt.Errorf("container in unexpected state: %s", state)
	}
	return n.WaitReady(ctx, 30*time.Second)
}

// Stop stops the container if it exists.
func (n *Node) Stop(ctx context.Context) error {
	state, id, err := n.inspect(ctx)
	if err != nil || state == NodeMissing {
		return err
	}
	timeout := 10
	if err := n.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

// Remove force-removes the container. Data under DataPath survives.
func (n *Node) Remove(ctx context.Context) error {
	state, id, err := n.inspect(ctx)
	if err != nil || state == NodeMissing {
		return err
	}
	if err := n.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// State reports the container state.
func (n *Node) State(ctx context.Context) (NodeState, error) {
	state, _, err := n.inspect(ctx)
	return state, err
}

// Logs returns the last tail lines of container output.
func (n *Node) Logs(ctx context.Context, tail string) (string, error) {
	state, id, err := n.inspect(ctx)
	if err != nil {
		return "", err
	}
	if state == NodeMissing {
		return "", fmt.Errorf("container %s not found", n.cfg.ContainerName)
	}

	rc, err := n.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true, Tail: tail})
	if err != nil {
		return "", fmt.Errorf("failed to get logs: %w", err)
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("failed to read logs: %w", err)
	}
	return string(b), nil
}

// WaitReady polls the health endpoint once a second until it answers or
// timeout elapses.
func (n *Node) WaitReady(ctx context.Context, timeout time.Duration) error {
	c := NewClient(n.URL())
	c.httpClient.Timeout = 2 * time.Second
	return retry.Do(
		func() error { return c.HealthCheck(ctx) },
		retry.Context(ctx),
		retry.Attempts(uint(max(timeout/time.Second, 1))),
		retry.Delay(time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

func (n *Node) create(ctx context.Context) error {
	if err := n.pull(ctx); err != nil {
		return err
	}

	cfg := &container.Config{
		Image: n.cfg.Image,
		Cmd: []string{
			"start",
			"--no-keyring",
			"--url", "0.0.0.0:9181",
			"--store", "badger",
			"--rootdir", containerDataDir,
		},
		Labels:       map[string]string{ownerLabel: "true"},
		ExposedPorts: nat.PortSet{containerPort: struct{}{}},
	}
	host := &container.HostConfig{
		PortBindings: nat.PortMap{
			containerPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: n.cfg.HostPort}},
		},
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
	}
	if n.cfg.DataPath != "" {
		host.Mounts = []mount.Mount{{Type: mount.TypeBind, Source: n.cfg.DataPath, Target: containerDataDir}}
	}

	n.cfg.Logger.Info("creating defra container", "name", n.cfg.ContainerName, "image", n.cfg.Image, "port", n.cfg.HostPort)
	resp, err := n.cli.ContainerCreate(ctx, cfg, host, nil, nil, n.cfg.ContainerName)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}
	if err := n.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = n.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return fmt.Errorf("failed to start container: %w", err)
	}
	return nil
}

// checkBindings fails when an existing container was created with a
// different port or data directory than configured.
func (n *Node) checkBindings(ctx context.Context, id string) error {
	info, err := n.cli.ContainerInspect(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to inspect container: %w", err)
	}
	if info.HostConfig != nil {
		bindings := info.HostConfig.PortBindings[containerPort]
		if len(bindings) == 0 || bindings[0].HostPort != n.cfg.HostPort {
			return fmt.Errorf("container %s is not bound to port %s; remove it with `audiodoc defra rm`", n.cfg.ContainerName, n.cfg.HostPort)
		}
	}
	if n.cfg.DataPath == "" {
		return nil
	}
	for _, m := range info.Mounts {
		if m.Destination == containerDataDir {
			if m.Source != n.cfg.DataPath {
				return fmt.Errorf("container %s mounts %s, expected %s", n.cfg.ContainerName, m.Source, n.cfg.DataPath)
			}
			return nil
		}
	}
	return fmt.Errorf("container %s has no data mount", n.cfg.ContainerName)
}

func (n *Node) inspect(ctx context.Context) (NodeState, string, error) {
	args := filters.NewArgs()
	args.Add("name", "^/"+n.cfg.ContainerName+"$")

	list, err := n.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return "", "", fmt.Errorf("failed to list containers: %w", err)
	}
	if len(list) == 0 {
		return NodeMissing, "", nil
	}

	c := list[0]
	switch c.State {
	case "running":
		return NodeRunning, c.ID, nil
	case "exited", "dead":
		return NodeStopped, c.ID, nil
	case "created", "restarting":
		return NodeStarting, c.ID, nil
	default:
		return NodeState(c.State), c.ID, nil
	}
}

func (n *Node) pull(ctx context.Context) error {
	if _, err := n.cli.ImageInspect(ctx, n.cfg.Image); err == nil {
		return nil
	}
	n.cfg.Logger.Info("pulling image", "image", n.cfg.Image)
	rc, err := n.cli.ImagePull(ctx, n.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}
