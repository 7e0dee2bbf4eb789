// Package prof captures CPU and heap profiles for a single run.
//
//	s, err := prof.Start("cpu.prof", "heap.prof")
//	if err != nil {
//		return err
//	}
//	defer s.Stop()
//
// Either path may be empty to skip that profile. The files are read with
// go tool pprof.
package prof
