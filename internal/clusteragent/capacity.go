package clusteragent

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/prubach/kafka-slurm-agent/internal/model"
)

// Pinned sinfo/squeue format strings. These are isolated as named constants,
// not inlined into the command strings built elsewhere, so the column
// parsers below can be tested against exactly the layout the scheduler will
// actually produce.
const (
	sinfoGPUFormat    = "%G %.3D %.6t %P"
	sinfoCPUFormat    = "%C %.3D %.6t %P"
	squeueBacklogFmt  = "%j %R %u"
	squeueStatusFmt   = "%i %R"
	backlogNameSuffix = "_CLAG"
)

// parseIdleGPUs sums gpus_per_node * node_count across idle rows of
// `sinfo -o "%G %.3D %.6t %P"` restricted to partition. The GRES column
// looks like "gpu:4" or "gpu:a100:2" — the node-count-of-GPUs is always the
// last ':'-separated field.
func parseIdleGPUs(output, partition string) (int, error) {
	total := 0
	for _, row := range dataRows(output, 4) {
		gres, nodes, state, part := row[0], row[1], row[2], row[3]
		if part != partition || state != "idle" {
			continue
		}
		n, err := parseGRESCount(gres)
		if err != nil {
			continue // rows with no GRES (e.g. "(null)") simply contribute 0
		}
		count, err := strconv.Atoi(strings.TrimSpace(nodes))
		if err != nil {
			return 0, fmt.Errorf("clusteragent: bad node count %q: %w", nodes, err)
		}
		total += n * count
	}
	return total, nil
}

func parseGRESCount(gres string) (int, error) {
	fields := strings.Split(strings.TrimSpace(gres), ":")
	if len(fields) < 2 || fields[0] != "gpu" {
		return 0, fmt.Errorf("clusteragent: no gpu GRES in %q", gres)
	}
	n, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		return 0, fmt.Errorf("clusteragent: bad gpu count in %q: %w", gres, err)
	}
	return n, nil
}

// parseIdleCPUs sums the idle field (index 1 of the A/I/O/T tuple) across
// rows of `sinfo -o "%C %.3D %.6t %P"` in state idle or mix, restricted to
// partition.
func parseIdleCPUs(output, partition string) (int, error) {
	total := 0
	for _, row := range dataRows(output, 4) {
		cpus, state, part := row[0], row[2], row[3]
		if part != partition || (state != "idle" && state != "mix") {
			continue
		}
		tuple := strings.Split(strings.TrimSpace(cpus), "/")
		if len(tuple) != 4 {
			return 0, fmt.Errorf("clusteragent: malformed A/I/O/T tuple %q", cpus)
		}
		idle, err := strconv.Atoi(tuple[1])
		if err != nil {
			return 0, fmt.Errorf("clusteragent: bad idle count in %q: %w", cpus, err)
		}
		total += idle
	}
	return total, nil
}

// parseBacklog counts rows of `squeue -o "%j %R %u"` belonging to user,
// whose job name ends with the Cluster Agent's fixed suffix, and whose
// reason code begins with "(" but not "(launch" — i.e. genuinely waiting,
// not mid-launch.
func parseBacklog(output, user string) (int, error) {
	count := 0
	for _, row := range dataRows(output, 3) {
		name, reason, rowUser := row[0], row[1], row[2]
		if rowUser != user || !strings.HasSuffix(name, backlogNameSuffix) {
			continue
		}
		if strings.HasPrefix(reason, "(") && !strings.HasPrefix(reason, "(launch") {
			count++
		}
	}
	return count, nil
}

// parseSchedulerStatus inspects `squeue -o "%i %R"` for the first row whose
// job id matches backendID: a reason starting with "(" means WAITING,
// anything else means RUNNING. No match returns "" (null).
func parseSchedulerStatus(output, backendID string) model.Status {
	for _, row := range dataRows(output, 2) {
		if row[0] != backendID {
			continue
		}
		if strings.HasPrefix(row[1], "(") {
			return model.StatusWaiting
		}
		return model.StatusRunning
	}
	return ""
}

// dataRows splits output into whitespace-separated rows of exactly width
// fields, skipping the header line sinfo/squeue always prints first and any
// row that doesn't parse cleanly into width fields.
func dataRows(output string, width int) [][]string {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(lines) <= 1 {
		return nil
	}
	rows := make([][]string, 0, len(lines)-1)
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != width {
			continue
		}
		rows = append(rows, fields)
	}
	return rows
}
