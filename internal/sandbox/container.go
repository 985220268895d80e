package sandbox

import (
	"bytes"
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// containerRunner launches one ephemeral container per request, piping the
// request JSON on stdin and reading the response between output markers on
// stdout. Used for ModeEphemeral groups where no resident daemon is kept warm.
type containerRunner struct {
	client      *client.Client
	image       string
	memoryMB    int64
	networkMode string
	workspace   string
}

func newContainerRunner(image, workspace string) (*containerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	if image == "" {
		image = "dotclaw/agent-runtime:latest"
	}
	return &containerRunner{
		client:      cli,
		image:       image,
		memoryMB:    1024 * 1024 * 1024,
		networkMode: "bridge",
		workspace:   workspace,
	}, nil
}

func (r *containerRunner) Close() error {
	return r.client.Close()
}

// run executes req in a fresh container and parses its Response from the
// region of stdout delimited by outputStartMarker/outputEndMarker, so the
// agent runtime's own logs can share stdout without corrupting the contract.
func (r *containerRunner) run(ctx context.Context, req Request) (Response, error) {
	payload, err := marshalRequest(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := r.client.ContainerCreate(ctx, &container.Config{
		Image:      r.image,
		Cmd:        []string{"/usr/local/bin/agent-run"},
		WorkingDir: "/workspace",
		OpenStdin:  true,
		StdinOnce:  true,
		Tty:        false,
	}, &container.HostConfig{
		Resources:   container.Resources{Memory: r.memoryMB},
		NetworkMode: container.NetworkMode(r.networkMode),
		Binds:       []string{fmt.Sprintf("%s:/workspace", r.workspace)},
		AutoRemove:  true,
	}, nil, nil, "")
	if err != nil {
		return Response{}, fmt.Errorf("create container: %w", err)
	}
	containerID := resp.ID

	attach, err := r.client.ContainerAttach(ctx, containerID, container.AttachOptions{
		Stream: true, Stdin: true,
	})
	if err != nil {
		return Response{}, fmt.Errorf("attach container: %w", err)
	}
	if _, err := attach.Conn.Write(payload); err != nil {
		attach.Close()
		return Response{}, fmt.Errorf("write request: %w", err)
	}
	attach.CloseWrite()

	if err := r.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		attach.Close()
		return Response{}, fmt.Errorf("start container: %w", err)
	}

	statusCh, errCh := r.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		attach.Close()
		return Response{}, fmt.Errorf("wait container: %w", err)
	case <-statusCh:
	case <-ctx.Done():
		_ = r.client.ContainerKill(ctx, containerID, "SIGKILL")
		attach.Close()
		return Response{}, ctx.Err()
	}
	attach.Close()

	out, err := r.client.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return Response{}, fmt.Errorf("get logs: %w", err)
	}
	defer out.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, out); err != nil {
		return Response{}, fmt.Errorf("demux logs: %w", err)
	}

	return parseMarkedResponse(stdoutBuf.Bytes())
}
