// Package testutil has helpers for tests that start real servers or
// Docker containers.
package testutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

// RequireDocker returns a Docker client, skipping the test in -short mode
// or when no daemon answers.
func RequireDocker(t *testing.T) *client.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Docker test in short mode")
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		t.Skipf("docker client unavailable: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		t.Skipf("docker is not running: %v", err)
	}
	t.Cleanup(func() { cli.Close() })
	return cli
}

// UniqueContainerName returns audiodoc-test-<prefix>-<test>-<random> and
// removes any container of that name when the test ends.
func UniqueContainerName(t *testing.T, cli *client.Client, prefix string) string {
	t.Helper()
	name := fmt.Sprintf("audiodoc-test-%s-%s-%s", prefix, sanitizeName(t.Name()), randString(4))
	t.Cleanup(func() { removeContainer(t, cli, name) })
	return name
}

func removeContainer(t *testing.T, cli *client.Client, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	containers, err := cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", "^/"+name+"$")),
	})
	if err != nil {
		t.Logf("failed to list containers for cleanup: %v", err)
		return
	}
	for _, c := range containers {
		if err := cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			t.Logf("failed to remove container %s: %v", name, err)
		}
	}
}

func randString(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// sanitizeName converts a test name to a valid container name component.
func sanitizeName(name string) string {
	result := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'):
			result = append(result, c)
		case c == '/' || c == '_' || c == '-':
			result = append(result, '-')
		}
	}
	if len(result) > 30 {
		result = result[:30]
	}
	return string(result)
}
