package db

// Stats is the point-in-time counter/pool snapshot the periodic stats
// log reports alongside replication.Stats, dispatcher.Stats and
// registry.Manager.Stats.
type Stats struct {
	Queries     uint64
	Errors      uint64
	AvgQueryMs  uint64
	ActiveConns int32
	IdleConns   int32
	MaxConns    int32
}

// Stats reports the running query/error/latency counters and the pool's
// current occupancy.
func (p *Pool) Stats() Stats {
	q := p.queries.Load()
	var avg uint64
	if q > 0 {
		avg = p.totalMs.Load() / q
	}
	st := p.pool.Stat()
	return Stats{
		Queries:     q,
		Errors:      p.errors.Load(),
		AvgQueryMs:  avg,
		ActiveConns: st.AcquiredConns(),
		IdleConns:   st.IdleConns(),
		MaxConns:    st.MaxConns(),
	}
}
