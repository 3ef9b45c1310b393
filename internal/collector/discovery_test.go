package collector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/graphite-exporter/internal/metrics"
)

type staticDiscovery struct {
	targets []Target
	err     error
}

func (d *staticDiscovery) Discover(_ context.Context) ([]Target, error) {
	return d.targets, d.err
}

func ownName(t *testing.T) string {
	t.Helper()

	p, err := process.NewProcess(int32(os.Getpid()))
	require.NoError(t, err)

	name, err := p.Name()
	require.NoError(t, err)

	return name
}

func writeCgroup(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cgroup.procs"), []byte(content), 0o644))

	return dir
}

func TestNewDiscovery_NothingConfigured(t *testing.T) {
	assert.Nil(t, NewDiscovery(testLog(), Config{}))
}

func TestNameDiscovery_FindsOwnProcess(t *testing.T) {
	d := &nameDiscovery{names: []string{ownName(t)}}

	targets, err := d.Discover(context.Background())
	require.NoError(t, err)

	pids := make([]int32, 0, len(targets))
	for _, target := range targets {
		pids = append(pids, target.PID)
	}

	assert.Contains(t, pids, int32(os.Getpid()))
}

func TestCgroupDiscovery(t *testing.T) {
	pid := strconv.Itoa(os.Getpid())
	dir := writeCgroup(t, pid+"\n\nnot-a-pid\n")

	d := &cgroupDiscovery{log: testLog(), path: dir}

	targets, err := d.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, targets, 1)

	assert.Equal(t, int32(os.Getpid()), targets[0].PID)
	assert.Equal(t, ownName(t), targets[0].Name)
}

func TestCgroupDiscovery_MissingFile(t *testing.T) {
	d := &cgroupDiscovery{log: testLog(), path: "/nonexistent/cgroup"}

	_, err := d.Discover(context.Background())
	require.Error(t, err)
}

func TestCompositeDiscovery_Deduplicates(t *testing.T) {
	dir := writeCgroup(t, strconv.Itoa(os.Getpid())+"\n")

	d := NewDiscovery(testLog(), Config{
		ProcessNames: []string{ownName(t)},
		CgroupPath:   dir,
	})
	require.NotNil(t, d)

	targets, err := d.Discover(context.Background())
	require.NoError(t, err)

	count := 0

	for _, target := range targets {
		if target.PID == int32(os.Getpid()) {
			count++
		}
	}

	assert.Equal(t, 1, count)
}

func TestCompositeDiscovery_FailingSourceSkipped(t *testing.T) {
	d := NewDiscovery(testLog(), Config{CgroupPath: "/nonexistent/cgroup"})

	targets, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestCollector_SamplesTargets(t *testing.T) {
	reg := metrics.NewRegistry(testLog())
	c := NewWithSources(testLog(), reg, nil, &mockProcessInfo{}, fixedLoad)

	opened := 0
	disc := &staticDiscovery{targets: []Target{{PID: 42, Name: "geth"}}}

	c.Watch(disc, func(_ context.Context, pid int32) (ProcessInfo, error) {
		opened++

		return &mockProcessInfo{cpuValue: float64(pid)}, nil
	})

	c.Collect(context.Background())
	c.Collect(context.Background())

	// Processes are opened once and reused.
	assert.Equal(t, 1, opened)

	tags := []metrics.Tag{metrics.NewTag("process", "geth"), metrics.NewTag("pid", "42")}
	snap := reg.Snapshot()

	assert.Equal(t, 1000.0, find(t, snap, "target.memory.rss_bytes", tags...).Value)
	assert.Equal(t, 42.0, find(t, snap, "target.cpu.percent", tags...).Value)
	assert.Equal(t, 7.0, find(t, snap, "target.threads", tags...).Value)

	// Exited processes are forgotten and their series removed.
	disc.targets = nil
	c.Collect(context.Background())
	assert.Empty(t, c.watched)

	for _, e := range reg.Snapshot() {
		assert.NotContains(t, e.Metric.Tags, metrics.NewTag("pid", "42"))
	}

	// A process that comes back is reopened.
	disc.targets = []Target{{PID: 42, Name: "geth"}}
	c.Collect(context.Background())
	assert.Equal(t, 2, opened)
	assert.Equal(t, 42.0, find(t, reg.Snapshot(), "target.cpu.percent", tags...).Value)
}

func TestCollector_ShortLivedTargetsDoNotAccumulate(t *testing.T) {
	reg := metrics.NewRegistry(testLog())
	c := NewWithSources(testLog(), reg, nil, &mockProcessInfo{}, fixedLoad)

	disc := &staticDiscovery{}
	c.Watch(disc, func(context.Context, int32) (ProcessInfo, error) {
		return &mockProcessInfo{}, nil
	})

	c.Collect(context.Background())
	baseline := len(reg.Snapshot())

	for pid := int32(1000); pid < 1100; pid++ {
		disc.targets = []Target{{PID: 1, Name: "init"}, {PID: pid, Name: "job"}}
		c.Collect(context.Background())
	}

	disc.targets = []Target{{PID: 1, Name: "init"}}
	c.Collect(context.Background())

	// Only the survivor's three series remain on top of the baseline.
	assert.Len(t, reg.Snapshot(), baseline+3)
	assert.Len(t, c.watched, 1)
}

func TestCollector_TargetErrorsCounted(t *testing.T) {
	reg := metrics.NewRegistry(testLog())
	c := NewWithSources(testLog(), reg, nil, &mockProcessInfo{}, fixedLoad)

	c.Watch(
		&staticDiscovery{targets: []Target{{PID: 1, Name: "gone"}}},
		func(context.Context, int32) (ProcessInfo, error) {
			return nil, errors.New("no such process")
		},
	)

	c.Collect(context.Background())

	assert.Equal(t, 1.0, find(t, reg.Snapshot(), "collector.errors").Value)
	assert.Empty(t, c.watched)
}
