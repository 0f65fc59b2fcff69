package tensor

import (
	"encoding/binary"
	"runtime"
	"sync"
)

type matVecTask struct {
	dst    []float32
	w      *Mat
	x      []float32
	rs, re int
	done   chan struct{}
}

type matVecPool struct {
	size      int
	tasks     chan matVecTask
	doneSlots chan chan struct{}
}

var (
	matVecWorkPool *matVecPool
	matVecPoolOnce sync.Once
)

func getMatVecPool() *matVecPool {
	matVecPoolOnce.Do(func() {
		matVecWorkPool = newMatVecPool()
	})
	return matVecWorkPool
}

func newMatVecPool() *matVecPool {
	size := runtime.GOMAXPROCS(0)
	if size < 1 {
		size = 1
	}
	p := &matVecPool{
		size:      size,
		tasks:     make(chan matVecTask, size*2),
		doneSlots: make(chan chan struct{}, size),
	}
	for i := 0; i < size; i++ {
		p.doneSlots <- make(chan struct{}, 1)
	}
	for i := 0; i < size; i++ {
		go func() {
			for task := range p.tasks {
				matVecRange(task.dst, task.w, task.x, task.rs, task.re)
				task.done <- struct{}{}
			}
		}()
	}
	return p
}

// MatVec computes dst = w * x, splitting rows across a worker pool.
func MatVec(dst []float32, w *Mat, x []float32) {
	if w.R == 0 || w.C == 0 {
		return
	}
	if len(dst) < w.R || len(x) < w.C {
		panic("matvec shape mismatch")
	}

	pool := getMatVecPool()
	workers := pool.size
	if workers > w.R {
		workers = w.R
	}
	if workers <= 1 || w.R*w.C < 32*1024 {
		matVecRange(dst, w, x, 0, w.R)
		return
	}

	chunk := (w.R + workers - 1) / workers
	done := <-pool.doneSlots

	active := 0
	for i := 0; i < workers; i++ {
		rs := i * chunk
		re := min(rs+chunk, w.R)
		if rs >= re {
			break
		}
		active++
		pool.tasks <- matVecTask{dst: dst, w: w, x: x, rs: rs, re: re, done: done}
	}
	for i := 0; i < active; i++ {
		<-done
	}
	pool.doneSlots <- done
}

func matVecRange(dst []float32, w *Mat, x []float32, rs, re int) {
	if w.DType == F16 {
		matVecRangeF16(dst, w, x, rs, re)
		return
	}
	for r := rs; r < re; r++ {
		row := w.Data[r*w.C : r*w.C+w.C]
		var sum float32
		for c := range row {
			sum += row[c] * x[c]
		}
		dst[r] = sum
	}
}

func matVecRangeF16(dst []float32, w *Mat, x []float32, rs, re int) {
	for r := rs; r < re; r++ {
		off := r * w.C * 2
		var sum float32
		for c := 0; c < w.C; c++ {
			sum += F16ToF32(binary.LittleEndian.Uint16(w.Raw[off+c*2:])) * x[c]
		}
		dst[r] = sum
	}
}
