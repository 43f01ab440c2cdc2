package distill

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// FlowPrefix is the literal prefix of flow directory names. A flow directory
// is the prefix followed immediately by a positive base-10 integer with no
// leading zeros, e.g. "flow1", "flow2".
const FlowPrefix = "flow"

// Flow is one numbered unit of work under the output root, holding a single
// stage's checkpoint and artifacts.
type Flow struct {
	ID  int
	Dir string
}

// parseFlowID extracts the numeric suffix from a flow directory name.
// Returns 0 when the name does not match the naming pattern.
func parseFlowID(name string) int {
	if !strings.HasPrefix(name, FlowPrefix) {
		return 0
	}
	suffix := name[len(FlowPrefix):]
	if suffix == "" || (len(suffix) > 1 && suffix[0] == '0') {
		return 0
	}
	id, err := strconv.Atoi(suffix)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}

// NextFlowID returns one greater than the highest flow id currently present
// under root, or 1 if none exist. A missing root is not an error.
func NextFlowID(root string) int {
	entries, err := os.ReadDir(root)
	if err != nil {
		return 1
	}
	max := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if id := parseFlowID(entry.Name()); id > max {
			max = id
		}
	}
	return max + 1
}

// FlowDir returns the directory for the given flow id, creating it (and the
// output root) on first use.
func FlowDir(root string, id int) (string, error) {
	if id <= 0 {
		return "", fmt.Errorf("flow id must be positive, got %d", id)
	}
	dir := filepath.Join(root, fmt.Sprintf("%s%d", FlowPrefix, id))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create flow directory %s: %w", dir, err)
	}
	return dir, nil
}

// ListFlows returns all flow directories under root sorted by id ascending.
// A missing root yields an empty list.
func ListFlows(root string) []Flow {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var flows []Flow
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if id := parseFlowID(entry.Name()); id > 0 {
			flows = append(flows, Flow{ID: id, Dir: filepath.Join(root, entry.Name())})
		}
	}
	sort.Slice(flows, func(i, j int) bool { return flows[i].ID < flows[j].ID })
	return flows
}
