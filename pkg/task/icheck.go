package task

import (
	"fmt"
	"io"

	"keelstore/pkg/engine"
	"keelstore/pkg/errs"
	"keelstore/pkg/primitives"
	"keelstore/pkg/storage/tree"
	"keelstore/pkg/verify"
)

// icheckTemplate declares the integrity check's arguments:
//
//	trees=<selector>  volumes and trees to check
//	r  selector terms are regular expressions
//	u  do not freeze updates (the default freezes)
//	h  enqueue index-hole fixes
//	p  prune MVCC values
//	P  prune and clear the transaction index (requires trees=*)
//	v  verbose
//	c  CSV output
var icheckTemplate = Template{
	Args: []ArgSpec{
		{Name: "trees", Kind: KindString, Default: "*", Help: "Tree selector: Volumes/Trees to check"},
	},
	Flags: "ruhpPvc",
}

// IntegrityCheckTask drives the verifier over the selected trees.
type IntegrityCheckTask struct {
	Base
	engine *engine.Engine
	sink   verify.HoleSink

	selector       *TreeSelector
	suspendUpdates bool
	fixHoles       bool
	prune          bool
	pruneAndClear  bool
	csv            bool

	check *verify.IntegrityCheck
}

// NewIntegrityCheckTask parses icheck arguments. sink may be nil when hole
// fixing is not requested.
func NewIntegrityCheckTask(e *engine.Engine, sink verify.HoleSink, tokens []string, out io.Writer) (*IntegrityCheckTask, error) {
	parsed, err := icheckTemplate.Parse(tokens)
	if err != nil {
		return nil, err
	}
	selector, err := ParseSelector(parsed.String("trees"), parsed.IsFlag('r'))
	if err != nil {
		return nil, err
	}
	t := &IntegrityCheckTask{
		Base:           newBase("icheck", out, parsed.IsFlag('v')),
		engine:         e,
		sink:           sink,
		selector:       selector,
		suspendUpdates: !parsed.IsFlag('u'),
		fixHoles:       parsed.IsFlag('h'),
		prune:          parsed.IsFlag('p') || parsed.IsFlag('P'),
		pruneAndClear:  parsed.IsFlag('P'),
		csv:            parsed.IsFlag('c'),
	}
	return t, nil
}

// Check exposes the underlying verifier after Run, for counters and faults.
func (t *IntegrityCheckTask) Check() *verify.IntegrityCheck { return t.check }

// Run performs the integrity check.
func (t *IntegrityCheckTask) Run() error {
	if t.pruneAndClear && !t.selector.IsSelectAll() {
		t.PostMessage(verify.LogNormal, "The pruneAndClear (-P) flag requires all trees (trees=*) to be selected")
		return errs.New(errs.KindStateViolation, "pruneAndClear requires trees=*")
	}

	freeze := !t.engine.IsUpdateSuspended() && t.suspendUpdates
	if freeze {
		// Includes the settlement wait for in-flight operations.
		t.engine.SetUpdateSuspended(true)
		defer t.engine.SetUpdateSuspended(false)
	}
	if t.csv {
		t.PostMessage(verify.LogNormal, "Volume,Tree,Faults,"+verify.CSVHeaders)
	}
	startTimestamp := t.engine.NextTimestamp()

	t.check = verify.New(t.engine.Pool(), t.engine.TxnIndex(), t.sink,
		func(level verify.LogLevel, message string) { t.PostMessage(level, message) },
		verify.Options{
			Prune:      t.prune,
			FixHoles:   t.fixHoles,
			ShouldStop: t.Stopped,
		})

	v := t.engine.Volume()
	if t.selector.SelectsVolume(v.Name()) {
		if t.selector.SelectsWholeVolume(v.Name()) {
			t.checkWholeVolume()
		} else {
			t.checkSelectedTrees()
		}
	}

	faults := len(t.check.Faults())
	if t.csv {
		t.PostMessage(verify.LogNormal, fmt.Sprintf("\"*\",\"*\",%d,%s", faults, t.check.Counters().CSV()))
	} else {
		t.PostMessage(verify.LogNormal, "Total "+t.check.String())
	}

	if t.pruneAndClear {
		counters := t.check.Counters()
		if faults == 0 && counters.MvvPageCount == counters.PrunedPageCount && counters.PruningErrorCount == 0 {
			count := t.engine.TxnIndex().ResetMVVCounts(primitives.Version(startTimestamp))
			t.PostMessage(verify.LogNormal,
				fmt.Sprintf("%d aborted transactions were cleared by pruning", count))
		} else {
			t.PostMessage(verify.LogNormal, "PruneAndClear failed to remove all aborted MVVs")
		}
	}
	return nil
}

func (t *IntegrityCheckTask) checkWholeVolume() {
	v := t.engine.Volume()
	trees := make([]*tree.Tree, 0)
	if directory := t.engine.DirectoryTree(); directory != nil {
		trees = append(trees, directory)
	}
	trees = append(trees, t.engine.Trees()...)

	countersBefore := t.check.Counters()
	faultsBefore := len(t.check.Faults())
	if _, err := t.check.CheckVolume(v, trees); err != nil {
		t.PostMessage(verify.LogNormal, err.Error())
	}
	delta := countersBefore
	delta.Difference(t.check.Counters())
	faults := len(t.check.Faults()) - faultsBefore
	if t.csv {
		t.PostMessage(verify.LogNormal, fmt.Sprintf("%q,%q,%d,%s", v.Name(), "*", faults, delta.CSV()))
	} else {
		t.PostMessage(verify.LogVerbose,
			fmt.Sprintf("Volume %s Faults:%3d %s", v.Name(), faults, delta))
	}
}

func (t *IntegrityCheckTask) checkSelectedTrees() {
	v := t.engine.Volume()
	for _, tr := range t.engine.Trees() {
		if !t.selector.SelectsTree(v.Name(), tr.Name) {
			continue
		}
		countersBefore := t.check.Counters()
		faultsBefore := len(t.check.Faults())
		if _, err := t.check.CheckTree(tr); err != nil {
			t.PostMessage(verify.LogNormal, err.Error())
		}
		delta := countersBefore
		delta.Difference(t.check.Counters())
		faults := len(t.check.Faults()) - faultsBefore
		if t.csv {
			t.PostMessage(verify.LogNormal, fmt.Sprintf("%q,%q,%d,%s", v.Name(), tr.Name, faults, delta.CSV()))
		} else {
			t.PostMessage(verify.LogVerbose,
				fmt.Sprintf("  Tree %s:%s - Faults:%3d %s", v.Name(), tr.Name, faults, delta))
		}
	}
}
