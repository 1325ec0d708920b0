package main

import "sync"

// runGroup tracks the daemon's long-running goroutines so shutdown can wait
// for all of them, not just the first one to return.
type runGroup struct {
	wg   sync.WaitGroup
	errs chan error
}

func newRunGroup() *runGroup {
	return &runGroup{errs: make(chan error)}
}

// Go starts fn and reports its result on Errors.
func (g *runGroup) Go(fn func() error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.errs <- fn()
	}()
}

// Errors yields each goroutine's return value as it exits.
func (g *runGroup) Errors() <-chan error { return g.errs }

// Wait blocks until every started goroutine has returned. Results not yet
// read from Errors are discarded.
func (g *runGroup) Wait() {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	for {
		select {
		case <-g.errs:
		case <-done:
			return
		}
	}
}
