package verify

import "fmt"

// Counters accumulate per-run, per-volume and per-tree statistics.
type Counters struct {
	IndexPageCount       int64
	DataPageCount        int64
	IndexBytesInUse      int64
	DataBytesInUse       int64
	LongRecordPageCount  int64
	LongRecordBytesInUse int64
	IndexHoleCount       int64
	MvvPageCount         int64
	MvvCount             int64
	MvvOverhead          int64
	MvvAntiValues        int64
	PruningErrorCount    int64
	PrunedPageCount      int64
	GarbagePageCount     int64
}

// Difference replaces c with other minus c, yielding the delta accumulated
// since c was snapshotted.
func (c *Counters) Difference(other Counters) {
	c.IndexPageCount = other.IndexPageCount - c.IndexPageCount
	c.DataPageCount = other.DataPageCount - c.DataPageCount
	c.IndexBytesInUse = other.IndexBytesInUse - c.IndexBytesInUse
	c.DataBytesInUse = other.DataBytesInUse - c.DataBytesInUse
	c.LongRecordPageCount = other.LongRecordPageCount - c.LongRecordPageCount
	c.LongRecordBytesInUse = other.LongRecordBytesInUse - c.LongRecordBytesInUse
	c.IndexHoleCount = other.IndexHoleCount - c.IndexHoleCount
	c.MvvPageCount = other.MvvPageCount - c.MvvPageCount
	c.MvvCount = other.MvvCount - c.MvvCount
	c.MvvOverhead = other.MvvOverhead - c.MvvOverhead
	c.MvvAntiValues = other.MvvAntiValues - c.MvvAntiValues
	c.PruningErrorCount = other.PruningErrorCount - c.PruningErrorCount
	c.PrunedPageCount = other.PrunedPageCount - c.PrunedPageCount
	c.GarbagePageCount = other.GarbagePageCount - c.GarbagePageCount
}

func (c Counters) String() string {
	return fmt.Sprintf("Index pages/bytes: %d / %d Data pages/bytes: %d / %d"+
		" LongRec pages/bytes: %d / %d  MVV pages/records/bytes/antivalues: "+
		"%d / %d / %d / %d  Holes %d Pages pruned %d",
		c.IndexPageCount, c.IndexBytesInUse, c.DataPageCount, c.DataBytesInUse,
		c.LongRecordPageCount, c.LongRecordBytesInUse, c.MvvPageCount,
		c.MvvCount, c.MvvOverhead, c.MvvAntiValues, c.IndexHoleCount, c.PrunedPageCount)
}

// CSVHeaders names the counter columns in CSV output order.
const CSVHeaders = "IndexPages,IndexBytes,DataPages,DataBytes,LongRecordPages," +
	"LongRecordBytes,MvvPages,MvvRecords,MvvOverhead,MvvAntiValues,IndexHoles,PrunedPages"

// CSV renders the counters in CSVHeaders order.
func (c Counters) CSV() string {
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d,%d,%d,%d,%d,%d,%d",
		c.IndexPageCount, c.IndexBytesInUse, c.DataPageCount, c.DataBytesInUse,
		c.LongRecordPageCount, c.LongRecordBytesInUse, c.MvvPageCount,
		c.MvvCount, c.MvvOverhead, c.MvvAntiValues, c.IndexHoleCount, c.PrunedPageCount)
}
