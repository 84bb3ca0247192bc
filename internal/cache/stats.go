package cache

// Stats holds per-namespace counters (§4.2 item 5).
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

func (s *Stats) recordHit()  { s.Hits++ }
func (s *Stats) recordMiss() { s.Misses++ }
