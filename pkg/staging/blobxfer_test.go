package staging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ebetica/batch-shipyard/pkg/util/context"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildArgs(t *testing.T) {
	t.Run("ingress from container", func(t *testing.T) {
		args := buildArgs(Op{
			Direction:              DirectionIngress,
			StorageAccountSettings: "mystorage",
			Container:              "data",
			Include:                []string{"*.bin"},
			Local:                  "/mnt/batch/shared",
		})
		assert.Equal(t, []string{
			"download", "--local-path", "/mnt/batch/shared",
			"--storage-account-settings", "mystorage",
			"--remote-path", "data",
			"--include", "*.bin",
		}, args)
	})

	t.Run("egress with extra options", func(t *testing.T) {
		args := buildArgs(Op{
			Direction:              DirectionEgress,
			StorageAccountSettings: "mystorage",
			Container:              "results",
			Local:                  "/mnt/batch/tasks/job1/t0/wd",
			ExtraOptions:           []string{"--no-overwrite"},
		})
		assert.Equal(t, "upload", args[0])
		assert.Equal(t, "--no-overwrite", args[len(args)-1])
	})

	t.Run("blob source wins over container", func(t *testing.T) {
		args := buildArgs(Op{
			Direction:  DirectionIngress,
			BlobSource: "https://acct.blob.core.windows.net/c/run.sh",
			Local:      "run.sh",
		})
		assert.Contains(t, args, "--storage-url")
		assert.NotContains(t, args, "--remote-path")
	})
}

func TestTransferFileMode(t *testing.T) {
	// "true" stands in for the blobxfer binary, the transfer itself is a no-op.
	b := blobxfer{bin: "true"}

	t.Run("file mode applied", func(t *testing.T) {
		f := filepath.Join(t.TempDir(), "run.sh")
		require.NoError(t, os.WriteFile(f, []byte("#!/bin/sh\n"), 0o644))

		_, err := b.Transfer(context.Background(), Op{
			Direction:  DirectionIngress,
			BlobSource: "https://acct.blob.core.windows.net/c/run.sh",
			Local:      f,
			FileMode:   "0755",
		})
		require.NoError(t, err)
		info, err := os.Stat(f)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	})

	t.Run("invalid file mode fails the transfer", func(t *testing.T) {
		f := filepath.Join(t.TempDir(), "run.sh")
		require.NoError(t, os.WriteFile(f, []byte("#!/bin/sh\n"), 0o644))

		_, err := b.Transfer(context.Background(), Op{
			Direction:  DirectionIngress,
			BlobSource: "https://acct.blob.core.windows.net/c/run.sh",
			Local:      f,
			FileMode:   "rwxr-xr-x",
		})
		assert.Error(t, err)
	})
}

func TestParseFileMode(t *testing.T) {
	mode, err := parseFileMode("0755")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), mode)

	_, err = parseFileMode("rwxr-xr-x")
	assert.Error(t, err)
}
