package executor

import (
	"fmt"
	"time"

	"github.com/ebetica/batch-shipyard/pkg/api"
	"github.com/ebetica/batch-shipyard/pkg/launch"
	"github.com/ebetica/batch-shipyard/pkg/util/context"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"
	"github.com/pkg/errors"
)

type docker struct {
	cli *client.Client
}

// NewDockerExecutor returns an Executor backed by the local docker daemon,
// configured from the usual DOCKER_* environment variables.
func NewDockerExecutor() (Executor, error) {
	cli, err := client.NewEnvClient()
	if err != nil {
		return nil, errors.Wrap(err, "cannot create docker client")
	}
	return docker{cli}, nil
}

func (d docker) Execute(ctx context.Context, spec launch.Spec) (ExitStatus, error) {
	cfg, hostCfg, err := d.configs(spec)
	if err != nil {
		return ExitStatus{}, api.LaunchError{TaskID: ctx.TaskID(), Err: err}
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, spec.Name)
	if err != nil {
		return ExitStatus{}, api.LaunchError{TaskID: ctx.TaskID(), Err: errors.Wrapf(err, "cannot create container for image %s", spec.Image)}
	}
	ctx.Logger().Tracef("created container %s for image %s", resp.ID, spec.Image)

	start := time.Now()
	if err := d.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		d.remove(ctx, resp.ID)
		return ExitStatus{}, api.LaunchError{TaskID: ctx.TaskID(), Err: errors.Wrapf(err, "cannot start container %s", resp.ID)}
	}

	code, err := d.cli.ContainerWait(ctx, resp.ID)
	if err != nil {
		return ExitStatus{}, errors.Wrapf(err, "cannot wait for container %s", resp.ID)
	}
	status := ExitStatus{Code: code, Duration: time.Since(start)}
	ctx.Logger().Debugf("container %s exited with code %d after %s", resp.ID, status.Code, status.Duration)

	if spec.AutoRemove {
		d.remove(ctx, resp.ID)
	}
	return status, nil
}

func (d docker) configs(spec launch.Spec) (*container.Config, *container.HostConfig, error) {
	cfg := &container.Config{
		Image:      spec.Image,
		Labels:     spec.Labels,
		Env:        spec.Env,
		Entrypoint: strslice.StrSlice(spec.Entrypoint),
		Cmd:        strslice.StrSlice(spec.Command),
		WorkingDir: spec.WorkDir,
	}
	hostCfg := &container.HostConfig{
		NetworkMode: container.NetworkMode(spec.NetworkMode),
		IpcMode:     container.IpcMode(spec.IPCMode),
	}

	for _, m := range spec.Mounts {
		hostCfg.Binds = append(hostCfg.Binds, fmt.Sprintf("%s:%s", m.Source, m.Target))
	}
	for _, dev := range spec.Devices {
		hostCfg.Resources.Devices = append(hostCfg.Resources.Devices, container.DeviceMapping{
			PathOnHost:        dev,
			PathInContainer:   dev,
			CgroupPermissions: "rwm",
		})
	}
	if spec.ShmSize != "" {
		size, err := units.RAMInBytes(spec.ShmSize)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "invalid shm size %s", spec.ShmSize)
		}
		hostCfg.ShmSize = size
	}
	if len(spec.Ports) > 0 {
		exposed, bindings, err := nat.ParsePortSpecs(spec.Ports)
		if err != nil {
			return nil, nil, errors.Wrap(err, "invalid port specification")
		}
		cfg.ExposedPorts = exposed
		hostCfg.PortBindings = bindings
	}
	// Raw run options have no API equivalent, they only apply to CLI based
	// execution paths.
	return cfg, hostCfg, nil
}

func (d docker) remove(ctx context.Context, id string) {
	if err := d.cli.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: true}); err != nil {
		ctx.Logger().WithError(err).Warnf("cannot remove container %s", id)
	}
}
