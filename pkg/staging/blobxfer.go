package staging

import (
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/ebetica/batch-shipyard/pkg/api"
	"github.com/ebetica/batch-shipyard/pkg/util/context"

	"github.com/pkg/errors"
)

const (
	envBlobxferBin = "SHIPYARD_BLOBXFER_BIN"
)

// blobxfer shells out to the blobxfer CLI. It always acts on the local node:
// remote resource staging is routed through the node agents, not through this
// transferer.
type blobxfer struct {
	bin string
}

// NewBlobxferTransferer returns a Transferer backed by the blobxfer CLI.
// The binary path is taken from SHIPYARD_BLOBXFER_BIN, defaulting to
// "blobxfer" on PATH.
func NewBlobxferTransferer() Transferer {
	bin := os.Getenv(envBlobxferBin)
	if bin == "" {
		bin = "blobxfer"
	}
	return blobxfer{bin: bin}
}

func (b blobxfer) Transfer(ctx context.Context, op Op) (Result, error) {
	args := buildArgs(op)
	ctx.Logger().Tracef("running %s %v", b.bin, args)

	start := time.Now()
	cmd := exec.CommandContext(ctx, b.bin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if _, isExit := err.(*exec.ExitError); isExit {
			// A nonzero exit is a transport-level failure worth retrying.
			return Result{}, api.TransientTransferError{Err: errors.Errorf("blobxfer: %s: %s", err, out)}
		}
		return Result{}, errors.Wrap(err, "cannot run blobxfer")
	}

	if op.FileMode != "" {
		mode, perr := parseFileMode(op.FileMode)
		if perr != nil {
			return Result{}, perr
		}
		if cerr := os.Chmod(op.Local, mode); cerr != nil {
			return Result{}, errors.Wrapf(cerr, "cannot chmod %s", op.Local)
		}
	}

	return Result{
		Op:       op,
		Duration: time.Since(start),
	}, nil
}

func buildArgs(op Op) []string {
	var args []string
	switch op.Direction {
	case DirectionEgress:
		args = append(args, "upload", "--local-path", op.Local)
	default:
		args = append(args, "download", "--local-path", op.Local)
	}
	if op.BlobSource != "" {
		args = append(args, "--storage-url", op.BlobSource)
	} else {
		args = append(args,
			"--storage-account-settings", op.StorageAccountSettings,
			"--remote-path", op.Container,
		)
	}
	for _, inc := range op.Include {
		args = append(args, "--include", inc)
	}
	args = append(args, op.ExtraOptions...)
	return args
}

func parseFileMode(s string) (os.FileMode, error) {
	mode, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, errors.Errorf("invalid file mode %s", s)
	}
	return os.FileMode(mode), nil
}
