package interpolation

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// DisplaySize returns the pixel dimensions that show a rows x cols slice
// with the given aspect ratio (pixel height over width). The slice is only
// ever stretched, never shrunk.
func DisplaySize(rows, cols int, ratio float64) (int, int) {
	if ratio <= 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return rows, cols
	}
	if ratio >= 1 {
		return int(math.Round(float64(rows) * ratio)), cols
	}
	return rows, int(math.Round(float64(cols) / ratio))
}

// Resample scales src to rows x cols with bilinear interpolation. The
// corner samples of src map onto the corners of the result.
func Resample(src *mat.Dense, rows, cols int) (*mat.Dense, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", rows, cols)
	}
	sr, sc := src.Dims()
	if sr == rows && sc == cols {
		return mat.DenseCopyOf(src), nil
	}

	dst := mat.NewDense(rows, cols, nil)
	rowScale := scaleFor(sr, rows)
	colScale := scaleFor(sc, cols)

	// Process rows in parallel
	numWorkers := runtime.NumCPU()
	if numWorkers > rows {
		numWorkers = rows
	}
	var wg sync.WaitGroup
	chunk := (rows + numWorkers - 1) / numWorkers
	for w := 0; w < numWorkers; w++ {
		start, end := w*chunk, (w+1)*chunk
		if end > rows {
			end = rows
		}
		if start >= end {
			break
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for r := start; r < end; r++ {
				y := float64(r) * rowScale
				y0 := int(math.Floor(y))
				y1 := min(y0+1, sr-1)
				fy := y - float64(y0)
				out := dst.RawRowView(r)
				for c := range out {
					x := float64(c) * colScale
					x0 := int(math.Floor(x))
					x1 := min(x0+1, sc-1)
					fx := x - float64(x0)

					top := src.At(y0, x0)*(1-fx) + src.At(y0, x1)*fx
					bottom := src.At(y1, x0)*(1-fx) + src.At(y1, x1)*fx
					out[c] = top*(1-fy) + bottom*fy
				}
			}
		}(start, end)
	}
	wg.Wait()
	return dst, nil
}

func scaleFor(src, dst int) float64 {
	if dst <= 1 || src <= 1 {
		return 0
	}
	return float64(src-1) / float64(dst-1)
}
