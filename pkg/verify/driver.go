package verify

import (
	"context"

	"golang.org/x/sync/errgroup"

	"keelstore/pkg/concurrency/txnindex"
	"keelstore/pkg/memory"
	"keelstore/pkg/storage/tree"
	"keelstore/pkg/storage/volume"
)

// VolumeSet names one volume and the trees to verify within it.
type VolumeSet struct {
	Volume *volume.Volume
	Trees  []*tree.Tree
}

// CheckVolumes verifies several volumes concurrently, one IntegrityCheck
// per volume so that dedup bitsets and edge arrays stay run-local. Results
// arrive in input order.
func CheckVolumes(ctx context.Context, pool *memory.Pool, oracle *txnindex.Index,
	sink HoleSink, messages MessageSink, opts Options, sets []VolumeSet) ([]*IntegrityCheck, error) {
	checks := make([]*IntegrityCheck, len(sets))
	group, ctx := errgroup.WithContext(ctx)

	for i, set := range sets {
		i, set := i, set
		runOpts := opts
		prevStop := opts.ShouldStop
		runOpts.ShouldStop = func() bool {
			if ctx.Err() != nil {
				return true
			}
			return prevStop != nil && prevStop()
		}
		ic := New(pool, oracle, sink, messages, runOpts)
		checks[i] = ic
		group.Go(func() error {
			_, err := ic.CheckVolume(set.Volume, set.Trees)
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return checks, err
	}
	return checks, nil
}
