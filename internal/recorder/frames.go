package recorder

import (
	"fmt"
	"image"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

type frameJob struct {
	step   uint64
	width  int
	height int
	rgb    []byte
}

// frameQueue persists frames on a single background worker behind a bounded
// channel. When the queue is full the oldest pending frame is dropped and
// counted; the control loop keeps stepping in real time either way.
type frameQueue struct {
	dir string
	log *log.Logger

	jobs    chan frameJob
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
}

func newFrameQueue(dir string, depth int, logger *log.Logger) *frameQueue {
	q := &frameQueue{
		dir:  dir,
		log:  logger,
		jobs: make(chan frameJob, depth),
		done: make(chan struct{}),
	}
	q.wg.Add(1)
	go q.worker()
	return q
}

func (q *frameQueue) enqueue(j frameJob) {
	select {
	case <-q.done:
		return
	default:
	}
	// Frames may share the caller's buffer; copy before handing off.
	cp := make([]byte, len(j.rgb))
	copy(cp, j.rgb)
	j.rgb = cp

	for {
		select {
		case q.jobs <- j:
			return
		default:
		}
		// Full: drop the oldest pending frame and retry.
		select {
		case old := <-q.jobs:
			n := q.dropped.Add(1)
			if q.log != nil {
				q.log.Printf("recorder: frame queue full, dropped frame step=%d (total dropped %d)", old.step, n)
			}
		default:
		}
	}
}

func (q *frameQueue) droppedTotal() uint64 { return q.dropped.Load() }

func (q *frameQueue) close() {
	q.once.Do(func() {
		close(q.done)
		close(q.jobs)
	})
	q.wg.Wait()
}

func (q *frameQueue) worker() {
	defer q.wg.Done()
	for j := range q.jobs {
		if err := q.writePNG(j); err != nil && q.log != nil {
			q.log.Printf("recorder: write frame step=%d: %v", j.step, err)
		}
	}
}

func (q *frameQueue) writePNG(j frameJob) error {
	if len(j.rgb) != j.width*j.height*3 {
		return fmt.Errorf("frame step=%d has %d bytes, want %d", j.step, len(j.rgb), j.width*j.height*3)
	}
	if err := os.MkdirAll(q.dir, 0o755); err != nil {
		return err
	}
	img := image.NewNRGBA(image.Rect(0, 0, j.width, j.height))
	for y := 0; y < j.height; y++ {
		for x := 0; x < j.width; x++ {
			si := (y*j.width + x) * 3
			di := img.PixOffset(x, y)
			img.Pix[di+0] = j.rgb[si+0]
			img.Pix[di+1] = j.rgb[si+1]
			img.Pix[di+2] = j.rgb[si+2]
			img.Pix[di+3] = 0xff
		}
	}
	f, err := os.Create(filepath.Join(q.dir, fmt.Sprintf("step_%06d.png", j.step)))
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
