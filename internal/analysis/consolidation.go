package analysis

import (
	"context"
	"fmt"
	"time"
)

// RemovalImpact estimates what consolidating a set of hosts away would do
// to the rest of the fleet.
type RemovalImpact struct {
	RemovedHosts      []string `json:"removed_hosts"`
	RemainingHosts    int      `json:"remaining_hosts"`
	WorkloadPct       float64  `json:"workload_pct"`
	AddedPerHostPct   float64  `json:"added_per_host_pct"`
	InfraReductionPct float64  `json:"infra_reduction_pct"`
	Risk              string   `json:"risk"`
}

// AnalyzeRemoval computes the share of the fleet's CPU Ready workload the
// removed hosts carry over [from, to] and grades the consolidation risk.
// Removing every host is rejected.
func (f *Facade) AnalyzeRemoval(ctx context.Context, remove []string, from, to time.Time) (RemovalImpact, error) {
	if len(remove) == 0 {
		return RemovalImpact{}, fmt.Errorf("no hosts selected for removal")
	}
	hosts, err := f.store.ListHosts(ctx)
	if err != nil {
		return RemovalImpact{}, err
	}
	removed := make(map[string]bool, len(remove))
	for _, id := range remove {
		removed[id] = true
	}
	var totalWorkload, removedWorkload float64
	remaining := 0
	for _, h := range hosts {
		var sum float64
		for s, err := range f.store.SampleSeq(ctx, h.ID, from, to) {
			if err != nil {
				return RemovalImpact{}, err
			}
			sum += s.ReadyPct
		}
		totalWorkload += sum
		if removed[h.ID] {
			removedWorkload += sum
		} else {
			remaining++
		}
	}
	if remaining == 0 {
		return RemovalImpact{}, fmt.Errorf("cannot remove all hosts: no remaining infrastructure")
	}
	if totalWorkload == 0 {
		return RemovalImpact{}, fmt.Errorf("no samples in range")
	}

	workloadPct := removedWorkload / totalWorkload * 100
	impact := RemovalImpact{
		RemovedHosts:      remove,
		RemainingHosts:    remaining,
		WorkloadPct:       workloadPct,
		AddedPerHostPct:   workloadPct / float64(remaining),
		InfraReductionPct: float64(len(remove)) / float64(len(hosts)) * 100,
	}
	switch {
	case workloadPct > 20:
		impact.Risk = "high"
	case workloadPct > 10:
		impact.Risk = "moderate"
	default:
		impact.Risk = "low"
	}
	return impact, nil
}
