package clusteragent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/prubach/kafka-slurm-agent/internal/model"
)

func TestParseIdleGPUs(t *testing.T) {
	cases := []struct {
		name      string
		output    string
		partition string
		want      int
	}{
		{
			name:      "sums across matching idle rows",
			partition: "gpu",
			output: "GRES  NODES STATE  PARTITION\n" +
				"gpu:4   2  idle  gpu\n" +
				"gpu:a100:2   3  idle  gpu\n" +
				"gpu:4   1  alloc  gpu\n" +
				"gpu:4   5  idle  batch\n",
			want: 4*2 + 2*3,
		},
		{
			name:      "no gpu nodes",
			partition: "gpu",
			output:    "GRES  NODES STATE  PARTITION\n(null)   2  idle  gpu\n",
			want:      0,
		},
		{
			name:      "empty output",
			partition: "gpu",
			output:    "GRES  NODES STATE  PARTITION\n",
			want:      0,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseIdleGPUs(tc.output, tc.partition)
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseIdleCPUs(t *testing.T) {
	cases := []struct {
		name      string
		output    string
		partition string
		want      int
	}{
		{
			name:      "sums idle field across idle and mix rows",
			partition: "batch",
			output: "CPUS(A/I/O/T)  NODES STATE  PARTITION\n" +
				"4/12/0/16   2  idle  batch\n" +
				"8/4/0/12    1  mix  batch\n" +
				"16/0/0/16   3  alloc  batch\n" +
				"4/8/0/12    1  idle  other\n",
			want: 12 + 4,
		},
		{
			name:      "no matching rows",
			partition: "batch",
			output:    "CPUS(A/I/O/T)  NODES STATE  PARTITION\n16/0/0/16  1  alloc  batch\n",
			want:      0,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseIdleCPUs(tc.output, tc.partition)
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseBacklog(t *testing.T) {
	cases := []struct {
		name   string
		output string
		user   string
		want   int
	}{
		{
			name: "counts waiting jobs for user with suffix",
			user: "alice",
			output: "NAME  REASON  USER\n" +
				"foo_CLAG  (Resources)  alice\n" +
				"bar_CLAG  (launch failed)  alice\n" +
				"baz_CLAG  (Priority)  bob\n" +
				"qux  (Resources)  alice\n",
			want: 1,
		},
		{
			name:   "no backlog",
			user:   "alice",
			output: "NAME  REASON  USER\nfoo_CLAG  None  alice\n",
			want:   0,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseBacklog(tc.output, tc.user)
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseSchedulerStatus(t *testing.T) {
	cases := []struct {
		name      string
		output    string
		backendID string
		want      model.Status
	}{
		{
			name:      "waiting when reason starts with paren",
			backendID: "1234",
			output:    "JOBID REASON\n1234 (Priority)\n",
			want:      model.StatusWaiting,
		},
		{
			name:      "running otherwise",
			backendID: "1234",
			output:    "JOBID REASON\n1234 None\n",
			want:      model.StatusRunning,
		},
		{
			name:      "null when no match",
			backendID: "9999",
			output:    "JOBID REASON\n1234 None\n",
			want:      "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := parseSchedulerStatus(tc.output, tc.backendID)
			assert.Equal(t, tc.want, got)
		})
	}
}
