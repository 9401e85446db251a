// Package history is the History Reporter: given a source
// layer, it walks that layer's descendant tree and fetches each node's image
// manifest to produce an ordered, read-only history report.
package history

import (
	"strings"

	"github.com/distribution-tools/gcsweep/internal/gcerrors"
	"github.com/distribution-tools/gcsweep/internal/graph"
	"github.com/distribution-tools/gcsweep/internal/registrydriver"
)

// ImageInfoSource is the subset of registrydriver.Driver the reporter needs.
type ImageInfoSource interface {
	GetImageInfo(id string) (*registrydriver.ImageInfo, error)
}

// Record is one node's history entry.
type Record struct {
	ID      string   `json:"id"`
	Command *string  `json:"command"`
	Size    int64    `json:"size"`
	Ref     int      `json:"ref"`
	Tags    []string `json:"tags"`
	Created string   `json:"created"`
}

// Run builds the induced subgraph reachable from source and emits one
// Record per node in topological (descendant-first) order. It is read-only
// and aborts on the first fetch failure.
func Run(g *graph.Graph, src ImageInfoSource, source string) ([]Record, error) {
	const op = "history.Run"

	if g.Node(source) == nil {
		return nil, gcerrors.New(gcerrors.KindGraph, op, "unknown layer "+source, nil)
	}

	tree := g.DFSTree(source)
	order, ok := tree.TopoSort(nil)
	if !ok {
		return nil, gcerrors.New(gcerrors.KindGraph, op, "descendant tree of "+source+" contains a cycle", nil)
	}

	records := make([]Record, 0, len(order))
	for _, id := range order {
		info, err := src.GetImageInfo(id)
		if err != nil {
			return nil, err
		}
		n := tree.Node(id)

		var cmd *string
		if len(info.ContainerConfig.Cmd) > 0 {
			joined := strings.Join(info.ContainerConfig.Cmd, " ")
			cmd = &joined
		}

		records = append(records, Record{
			ID:      id,
			Command: cmd,
			Size:    info.Size,
			Ref:     n.Ref,
			Tags:    n.Tags,
			Created: info.Created,
		})
	}
	return records, nil
}
