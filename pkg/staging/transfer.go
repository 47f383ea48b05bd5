package staging

import (
	"time"

	"github.com/ebetica/batch-shipyard/pkg/pool"
	"github.com/ebetica/batch-shipyard/pkg/util/context"
)

// Direction of a transfer operation.
type Direction string

const (
	// DirectionIngress transfers objects from storage onto a node
	DirectionIngress Direction = "ingress"
	// DirectionEgress transfers files from a node into storage
	DirectionEgress Direction = "egress"
)

// Op is one concrete transfer operation handed to the blob transfer
// capability. Paths are fully expanded before an Op is built; the transfer
// layer never sees placeholders.
type Op struct {
	Direction Direction

	// StorageAccountSettings and Container select the remote side for
	// container-level transfers.
	StorageAccountSettings string
	Container              string

	// BlobSource selects a single remote blob, used for resource files.
	BlobSource string

	Include      []string
	ExtraOptions []string

	// Local is the destination path for ingress, the source path for egress.
	Local string

	// FileMode is applied to the staged file when non-empty.
	FileMode string

	// Node is the target node for resource-file staging; empty means the
	// local node.
	Node pool.NodeID
}

// Result reports a finished transfer.
type Result struct {
	Op       Op
	Files    int
	Duration time.Duration
}

// Transferer is the external blob/object transfer capability.
type Transferer interface {
	Transfer(ctx context.Context, op Op) (Result, error)
}
