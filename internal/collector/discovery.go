package collector

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/sirupsen/logrus"
)

// Target is a process sampled alongside the agent itself.
type Target struct {
	PID  int32
	Name string
}

// Discovery finds processes to sample.
type Discovery interface {
	Discover(ctx context.Context) ([]Target, error)
}

// NewDiscovery combines process-name and cgroup discovery. It returns nil
// when cfg names no processes.
func NewDiscovery(log logrus.FieldLogger, cfg Config) Discovery {
	if len(cfg.ProcessNames) == 0 && cfg.CgroupPath == "" {
		return nil
	}

	return &compositeDiscovery{
		log:     log.WithField("component", "discovery"),
		process: &nameDiscovery{names: cfg.ProcessNames},
		cgroup:  &cgroupDiscovery{log: log, path: cfg.CgroupPath},
	}
}

type nameDiscovery struct {
	names []string
}

// Discover lists running processes whose name matches one of the
// configured names.
func (d *nameDiscovery) Discover(ctx context.Context) ([]Target, error) {
	if len(d.names) == 0 {
		return nil, nil
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	nameSet := make(map[string]struct{}, len(d.names))
	for _, n := range d.names {
		nameSet[n] = struct{}{}
	}

	targets := make([]Target, 0, 8)

	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue // Exited while listing.
		}

		if _, ok := nameSet[name]; ok {
			targets = append(targets, Target{PID: p.Pid, Name: name})
		}
	}

	return targets, nil
}

type cgroupDiscovery struct {
	log  logrus.FieldLogger
	path string
}

// Discover reads PIDs from the cgroup v2 cgroup.procs file.
func (d *cgroupDiscovery) Discover(ctx context.Context) ([]Target, error) {
	if d.path == "" {
		return nil, nil
	}

	procsPath := filepath.Join(d.path, "cgroup.procs")

	f, err := os.Open(procsPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", procsPath, err)
	}
	defer f.Close()

	targets := make([]Target, 0, 16)
	scanner := bufio.NewScanner(f)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		pid, err := strconv.ParseInt(line, 10, 32)
		if err != nil {
			d.log.WithField("line", line).Warn("Non-numeric line in cgroup.procs")

			continue
		}

		target := Target{PID: int32(pid)}

		if p, err := process.NewProcessWithContext(ctx, target.PID); err == nil {
			target.Name, _ = p.NameWithContext(ctx)
		}

		targets = append(targets, target)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", procsPath, err)
	}

	return targets, nil
}

type compositeDiscovery struct {
	log     logrus.FieldLogger
	process *nameDiscovery
	cgroup  *cgroupDiscovery
}

// Discover merges both sources, dropping duplicate PIDs. A failing source
// is logged and skipped.
func (d *compositeDiscovery) Discover(ctx context.Context) ([]Target, error) {
	seen := make(map[int32]struct{}, 16)
	result := make([]Target, 0, 16)

	merge := func(source string, targets []Target, err error) {
		if err != nil {
			d.log.WithError(err).WithField("source", source).Warn("Process discovery failed")
		}

		for _, t := range targets {
			if _, ok := seen[t.PID]; ok {
				continue
			}

			seen[t.PID] = struct{}{}
			result = append(result, t)
		}
	}

	targets, err := d.process.Discover(ctx)
	merge("name", targets, err)

	targets, err = d.cgroup.Discover(ctx)
	merge("cgroup", targets, err)

	d.log.WithField("count", len(result)).Debug("Discovered processes")

	return result, nil
}
