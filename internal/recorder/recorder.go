// Package recorder appends structured diagnostic records at each stage of the
// control loop for offline correctness verification. JSONL records are
// written inline (cheap); camera frames go through a bounded background
// queue so persistence never stalls the inference path.
package recorder

import (
	"fmt"
	"log"
	"path/filepath"
	"time"
)

// Episode is a recorder scoped to one control episode, with an explicit
// open/close lifecycle. No shared global state; each component receives the
// episode it should record into.
type Episode struct {
	dir     string
	log     *log.Logger
	streams map[string]*JSONLZstdWriter
	frames  *frameQueue
}

type Options struct {
	// FrameQueue bounds the background frame persistence queue.
	// Zero means 16.
	FrameQueue int

	// DisableFrames skips frame persistence entirely.
	DisableFrames bool
}

// OpenEpisode creates writers under dir, one stream directory per event kind.
func OpenEpisode(dir string, logger *log.Logger, opts Options) (*Episode, error) {
	if dir == "" {
		return nil, fmt.Errorf("recorder: empty episode dir")
	}
	e := &Episode{
		dir:     dir,
		log:     logger,
		streams: map[string]*JSONLZstdWriter{},
	}
	for _, s := range []string{
		StreamObservationSent,
		StreamActionsReceived,
		StreamActionReturned,
		StreamCachedAction,
		StreamActionToRobot,
		StreamRobotActualState,
	} {
		e.streams[s] = NewEpisodeJSONLWriter(filepath.Join(dir, s), s)
	}
	if !opts.DisableFrames {
		depth := opts.FrameQueue
		if depth <= 0 {
			depth = 16
		}
		e.frames = newFrameQueue(filepath.Join(dir, "images"), depth, logger)
	}
	return e, nil
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func (e *Episode) write(stream string, v any) {
	if err := e.streams[stream].Write(v); err != nil && e.log != nil {
		e.log.Printf("recorder: %s: %v", stream, err)
	}
}

func (e *Episode) ObservationSent(step uint64, obs ObservationRecord) {
	e.write(StreamObservationSent, ObservationSent{Step: step, Timestamp: now(), Observation: obs})
}

func (e *Episode) ActionsReceived(step uint64, actions map[string][][]float64) {
	e.write(StreamActionsReceived, ActionsReceived{Step: step, Timestamp: now(), Actions: actions})
}

func (e *Episode) ActionReturned(step uint64, queueIndex int, action []float64) {
	e.write(StreamActionReturned, ActionReturned{Step: step, Timestamp: now(), QueueIndex: queueIndex, Action: action})
}

func (e *Episode) CachedAction(step uint64, queueIndex int, action []float64) {
	e.write(StreamCachedAction, CachedAction{Step: step, Timestamp: now(), QueueIndex: queueIndex, Action: action})
}

func (e *Episode) ActionToRobot(step uint64, action []float64) {
	e.write(StreamActionToRobot, ActionToRobot{Step: step, Timestamp: now(), Action: action})
}

func (e *Episode) RobotActualState(step uint64, jointPositions map[string][]float64, velocities, torques, fullState []float64, reward float64) {
	e.write(StreamRobotActualState, RobotActualState{
		Step:           step,
		Timestamp:      now(),
		JointPositions: jointPositions,
		Velocities:     velocities,
		Torques:        torques,
		FullState:      fullState,
		Reward:         reward,
	})
}

// SaveFrame enqueues an RGB frame for background persistence. Never blocks.
func (e *Episode) SaveFrame(step uint64, width, height int, rgb []byte) {
	if e.frames == nil {
		return
	}
	e.frames.enqueue(frameJob{step: step, width: width, height: height, rgb: rgb})
}

// DroppedFrames is the number of frames discarded because the queue was full.
func (e *Episode) DroppedFrames() uint64 {
	if e.frames == nil {
		return 0
	}
	return e.frames.droppedTotal()
}

// Close flushes all streams and drains the frame queue.
func (e *Episode) Close() error {
	if e.frames != nil {
		e.frames.close()
	}
	var first error
	for _, w := range e.streams {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
