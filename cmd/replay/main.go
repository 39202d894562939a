// Command replay cross-checks the JSONL streams of a recorded episode: every
// trajectory received from the policy server must have been paid out action
// by action, in order, with exactly what reached the robot.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"policylink.ai/internal/config"
	"policylink.ai/internal/recorder"
	"policylink.ai/internal/state"
)

func main() {
	var (
		episodeDir = flag.String("episode", "", "episode directory to verify")
		cfgPath    = flag.String("config", "", "path to bridge.yaml for the layout (empty: defaults)")
	)
	flag.Parse()

	if *episodeDir == "" {
		fmt.Fprintln(os.Stderr, "missing -episode")
		os.Exit(2)
	}

	cfg, err := config.LoadBridge(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	layout, err := cfg.Layout.Layout()
	if err != nil {
		fmt.Fprintln(os.Stderr, "layout:", err)
		os.Exit(1)
	}

	received, err := readReceived(*episodeDir, layout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "actions_received:", err)
		os.Exit(1)
	}
	served, err := readServed(*episodeDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "served actions:", err)
		os.Exit(1)
	}
	toRobot, err := readToRobot(*episodeDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "action_to_robot:", err)
		os.Exit(1)
	}

	checked, err := verify(received, served, toRobot)
	if err != nil {
		fmt.Fprintln(os.Stderr, "verify:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d actions over %d inferences\n", checked, len(received))
}

type inference struct {
	step     uint64
	commands [][]float64
}

type servedAction struct {
	step       uint64
	queueIndex int
	cached     bool
	action     []float64
}

// readReceived flattens each recorded trajectory into per-timestep command
// vectors using the layout's command order, the same transform the bridge
// applied online.
func readReceived(dir string, l state.Layout) ([]inference, error) {
	var out []inference
	err := scanStream(dir, recorder.StreamActionsReceived, func(line []byte) error {
		var rec recorder.ActionsReceived
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		h := 0
		for _, rows := range rec.Actions {
			h = len(rows)
			break
		}
		commands := make([][]float64, h)
		for t := 0; t < h; t++ {
			limbs := make(map[state.Limb][]float64, len(rec.Actions))
			for name, rows := range rec.Actions {
				if len(rows) != h {
					return fmt.Errorf("step %d: limb %s has %d rows, want %d", rec.Step, name, len(rows), h)
				}
				limbs[state.Limb(name)] = rows[t]
			}
			cmd, err := state.Encode(l, limbs)
			if err != nil {
				return fmt.Errorf("step %d: %w", rec.Step, err)
			}
			commands[t] = cmd
		}
		out = append(out, inference{step: rec.Step, commands: commands})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].step < out[j].step })
	return out, nil
}

func readServed(dir string) ([]servedAction, error) {
	var out []servedAction
	err := scanStream(dir, recorder.StreamActionReturned, func(line []byte) error {
		var rec recorder.ActionReturned
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		out = append(out, servedAction{step: rec.Step, queueIndex: rec.QueueIndex, action: rec.Action})
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = scanStream(dir, recorder.StreamCachedAction, func(line []byte) error {
		var rec recorder.CachedAction
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		out = append(out, servedAction{step: rec.Step, queueIndex: rec.QueueIndex, cached: true, action: rec.Action})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].step < out[j].step })
	return out, nil
}

func readToRobot(dir string) (map[uint64][]float64, error) {
	out := map[uint64][]float64{}
	err := scanStream(dir, recorder.StreamActionToRobot, func(line []byte) error {
		var rec recorder.ActionToRobot
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		if _, dup := out[rec.Step]; dup {
			return fmt.Errorf("step %d recorded twice", rec.Step)
		}
		out[rec.Step] = rec.Action
		return nil
	})
	return out, err
}

func verify(received []inference, served []servedAction, toRobot map[uint64][]float64) (int, error) {
	if len(received) == 0 {
		return 0, fmt.Errorf("no inferences recorded")
	}

	// Each inference's commands must be served in order, queue_index
	// 0..H-1, starting at the inference step. The episode may end before
	// the last horizon drains.
	servedByStep := map[uint64]servedAction{}
	for _, s := range served {
		if _, dup := servedByStep[s.step]; dup {
			return 0, fmt.Errorf("step %d served twice", s.step)
		}
		servedByStep[s.step] = s
	}

	checked := 0
	for i, inf := range received {
		for qi := range inf.commands {
			step := inf.step + uint64(qi)
			s, ok := servedByStep[step]
			if !ok {
				if i == len(received)-1 {
					break // tail of the final horizon not reached
				}
				return 0, fmt.Errorf("inference at step %d: no action served at step %d", inf.step, step)
			}
			if s.queueIndex != qi {
				return 0, fmt.Errorf("step %d: queue_index %d, want %d", step, s.queueIndex, qi)
			}
			if (qi == 0) == s.cached {
				return 0, fmt.Errorf("step %d: queue_index %d in the wrong stream (cached=%v)", step, qi, s.cached)
			}
			if !equalVec(s.action, inf.commands[qi]) {
				return 0, fmt.Errorf("step %d: served action differs from received trajectory row %d", step, qi)
			}
			robot, ok := toRobot[step]
			if !ok {
				return 0, fmt.Errorf("step %d: served but never sent to robot", step)
			}
			if !equalVec(robot, s.action) {
				return 0, fmt.Errorf("step %d: action_to_robot differs from served action", step)
			}
			checked++
			delete(servedByStep, step)
			delete(toRobot, step)
		}
	}
	if len(servedByStep) != 0 {
		return 0, fmt.Errorf("%d served actions not covered by any inference", len(servedByStep))
	}
	if len(toRobot) != 0 {
		return 0, fmt.Errorf("%d robot commands not covered by any served action", len(toRobot))
	}
	return checked, nil
}

func equalVec(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// scanStream feeds every line of every rotated file in a stream directory to
// fn, in filename order.
func scanStream(episodeDir, stream string, fn func(line []byte) error) error {
	dir := filepath.Join(episodeDir, stream)
	ents, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl.zst") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		if err := scanFile(filepath.Join(dir, name), fn); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func scanFile(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		if err := fn(sc.Bytes()); err != nil {
			return err
		}
	}
	return sc.Err()
}
