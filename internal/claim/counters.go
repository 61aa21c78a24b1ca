package claim

// Counters aggregates adjudication results for a single simulation run.
// It is owned and mutated only by the pipeline coordinator; the engine has
// no hidden statistics of its own.
type Counters struct {
	Processed    int64
	Approved     int64
	Rejected     int64
	ProcessingMS int64
}

// Observe folds one adjudication outcome into the counters.
func (ct *Counters) Observe(o Outcome) {
	ct.Processed++
	if o.Approved() {
		ct.Approved++
	} else {
		ct.Rejected++
	}
	ct.ProcessingMS += o.Elapsed.Milliseconds()
}

// MeanMS is the mean per-claim processing time in milliseconds.
func (ct *Counters) MeanMS() float64 {
	if ct.Processed == 0 {
		return 0
	}
	return float64(ct.ProcessingMS) / float64(ct.Processed)
}

// ApprovalPercent is the share of processed claims that were approved, 0-100.
func (ct *Counters) ApprovalPercent() float64 {
	if ct.Processed == 0 {
		return 0
	}
	return 100 * float64(ct.Approved) / float64(ct.Processed)
}
