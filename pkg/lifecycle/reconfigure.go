package lifecycle

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/cuemby/tarantoolctl/pkg/errs"
	"github.com/cuemby/tarantoolctl/pkg/tasklog"
	"github.com/cuemby/tarantoolctl/pkg/types"
)

var acceptedConfigExtensions = []string{".tar.gz", ".tgz", ".lua"}

// validateConfigFilename rejects any extension other than .tar.gz, .tgz,
// or .lua before any side effect runs (§9 Open Question 4).
func validateConfigFilename(filename string) error {
	for _, ext := range acceptedConfigExtensions {
		if strings.HasSuffix(filename, ext) {
			return nil
		}
	}
	return errs.New(errs.Validation, "unsupported configuration file extension: "+path.Ext(filename))
}

// gunzip decompresses a gzip-wrapped tar archive.
func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errs.Wrap(errs.Validation, err, "open gzip archive")
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.Wrap(errs.Validation, err, "read gzip archive")
	}
	return out, nil
}

// Reconfigure deploys a new configuration bundle to every present
// container: it decompresses the gzipped tar archive, lays it down under
// a timestamped deploy directory, flips the /opt/tarantool symlink to
// point at it, and restarts the container (§4.F).
func (e *Engine) Reconfigure(ctx context.Context, groupID, filename string, data []byte) *types.Task {
	defer e.lockGroup(groupID)()
	task := tasklog.New(types.TaskUpdate, groupID)

	if err := validateConfigFilename(filename); err != nil {
		return task.Fail(err)
	}

	view, err := e.refresh(ctx, groupID)
	if err != nil {
		return task.Fail(err)
	}
	if view.Blueprint == nil || view.Allocation == nil {
		return task.Fail(errs.New(errs.NotFound, "group "+groupID+" does not exist"))
	}

	task.Step("decompressing configuration archive")
	tarBytes, err := gunzip(data)
	if err != nil {
		return task.Fail(err)
	}

	deployDir := path.Join(deployBase, isoNow())

	for _, instance := range []types.InstanceNum{types.Instance1, types.Instance2} {
		container, ok := view.Containers[instance]
		if !ok || container == nil {
			task.Step("instance " + string(instance) + " container absent, skipping reconfigure")
			continue
		}
		alloc, ok := view.Allocation.Instances[instance]
		if !ok {
			task.Step("instance " + string(instance) + " has no allocation, skipping reconfigure")
			continue
		}
		client, _, err := e.resolveHost(alloc.HostRef)
		if err != nil {
			return task.Fail(err)
		}

		task.Step("deploying configuration to instance " + string(instance))
		if code, err := client.Exec(ctx, container.ID, []string{"mkdir", "-p", deployDir}); err != nil {
			return task.Fail(errs.Wrap(errs.ExecFailed, err, "mkdir deploy dir on instance "+string(instance)))
		} else if code != 0 {
			return task.Fail(errs.New(errs.ExecFailed, fmt.Sprintf("mkdir exited %d on instance %s", code, instance)))
		}

		if err := client.PutArchive(ctx, container.ID, deployDir, tarBytes); err != nil {
			return task.Fail(errs.Wrap(errs.ExecFailed, err, "put archive on instance "+string(instance)))
		}

		if code, err := client.Exec(ctx, container.ID, []string{"ln", "-snf", deployDir, tarantoolSymlink}); err != nil {
			return task.Fail(errs.Wrap(errs.ExecFailed, err, "symlink on instance "+string(instance)))
		} else if code != 0 {
			return task.Fail(errs.New(errs.ExecFailed, fmt.Sprintf("symlink exited %d on instance %s", code, instance)))
		}

		if err := client.RestartContainer(ctx, container.ID, 10*time.Second); err != nil {
			return task.Fail(errs.Wrap(errs.ExecFailed, err, "restart instance "+string(instance)))
		}
	}

	if _, err := e.refresh(ctx, groupID); err != nil {
		return task.Fail(err)
	}
	return task.Succeed()
}

// isoNow returns the current UTC time formatted for a deploy directory
// name.
func isoNow() string {
	return time.Now().UTC().Format("20060102T150405Z")
}
