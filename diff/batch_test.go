package diff

import (
	"context"
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/hazyhaar/visreg/artifact"
)

func TestBatchCompare_Order(t *testing.T) {
	e := newEngine(t, 3)
	base := gradient(48, 48)
	same := clone(base)
	small := clone(base)
	fill(small, image.Rect(0, 0, 2, 2), color.NRGBA{R: 255, A: 255})
	big := clone(base)
	fill(big, image.Rect(0, 0, 24, 24), color.NRGBA{R: 255, A: 255})

	baseline := shot(t, "base", base)
	before := baseline.RasterData
	cmps := []*artifact.Screenshot{shot(t, "big", big), shot(t, "same", same), {ID: "broken", RasterData: "x"}, shot(t, "small", small)}
	results := e.BatchCompare(context.Background(), baseline, cmps, nil)

	if len(results) != 4 {
		t.Fatalf("len = %d", len(results))
	}
	if results[0].Diff.ComparisonID != "big" || results[0].Diff.Status != artifact.StatusFailed {
		t.Errorf("result 0 = %+v", results[0].Diff)
	}
	if results[1].Diff.ComparisonID != "same" || results[1].Diff.Status != artifact.StatusPassed {
		t.Errorf("result 1 = %+v", results[1].Diff)
	}
	if results[2].Success || results[2].Error.Code != artifact.CodeDecodeFailed {
		t.Errorf("result 2 = %+v", results[2])
	}
	if results[3].Diff.ComparisonID != "small" || results[3].Diff.Metrics.ChangedPixels != 4 {
		t.Errorf("result 3 = %+v", results[3].Diff)
	}
	if baseline.RasterData != before {
		t.Error("baseline mutated")
	}
}

func TestBatchCompare_Cancelled(t *testing.T) {
	e := newEngine(t, 2)
	s := shot(t, "s", gradient(16, 16))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := e.BatchCompare(ctx, s, []*artifact.Screenshot{s, s}, nil)
	for i, r := range results {
		if r.Success || r.Error.Code != artifact.CodeProcessing || r.Error.Details["skipped"] != true {
			t.Errorf("result %d = %+v", i, r)
		}
	}
}

func TestBatchCompare_BadBaseline(t *testing.T) {
	e := newEngine(t, 2)
	s := shot(t, "s", gradient(16, 16))
	results := e.BatchCompare(context.Background(), &artifact.Screenshot{ID: "b", RasterData: "nope"}, []*artifact.Screenshot{s, s, s}, nil)
	if len(results) != 3 {
		t.Fatalf("len = %d", len(results))
	}
	for _, r := range results {
		if r.Success || r.Error.Code != artifact.CodeDecodeFailed {
			t.Errorf("got %+v", r)
		}
	}
}

// WHAT: One pool shared by concurrent comparisons.
// WHY: Workers are stateless between tasks.
func TestPool_Concurrent(t *testing.T) {
	pool := NewPool(3)
	defer pool.Close()
	e := newEngine(t, 3, WithExecutor(pool))
	base := shot(t, "b", gradient(64, 64))
	mutImg := gradient(64, 64)
	fill(mutImg, image.Rect(10, 10, 20, 20), color.NRGBA{G: 255, A: 255})
	mut := shot(t, "m", mutImg)

	var wg sync.WaitGroup
	errs := make(chan string, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := e.Compare(base, mut, nil)
			if !res.Success || res.Diff.Metrics.ChangedPixels != 100 {
				errs <- "unexpected result"
			}
		}()
	}
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Error(msg)
	}
}

func TestRunChunk_RecoversPanic(t *testing.T) {
	f := &frame{base: gradient(4, 4), cmp: gradient(2, 2), w: 4, h: 4, opts: DefaultOptions()}
	var out chunkResult
	if err := runChunk(f, chunk{y0: 0, y1: 4}, &out); err == nil {
		t.Fatal("expected error from out-of-range read")
	}
	pool := NewPool(2)
	defer pool.Close()
	if _, err := pool.Execute(f, []chunk{{0, 2}, {2, 4}}); err == nil {
		t.Fatal("pool should surface chunk failure")
	}
}
