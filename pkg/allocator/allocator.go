// Package allocator chooses which container host a tarantool instance
// should be placed on.
package allocator

import (
	"sort"

	"github.com/cuemby/tarantoolctl/pkg/errs"
	"github.com/cuemby/tarantoolctl/pkg/log"
	"github.com/cuemby/tarantoolctl/pkg/metrics"
	"github.com/cuemby/tarantoolctl/pkg/types"
	"github.com/rs/zerolog"
)

// Allocator selects a host for a new instance out of a set of candidate
// hosts, honoring residual memory capacity and anti-affinity.
type Allocator struct {
	logger zerolog.Logger
}

// New creates an Allocator.
func New() *Allocator {
	return &Allocator{logger: log.WithComponent("allocator")}
}

// Allocate returns the address of a host with at least memsizeGiB residual
// memory, status passing, and not present in antiAffinity. Among qualifying
// hosts it prefers the one with the most residual memory; ties are broken
// by the lexicographically smallest address.
func (a *Allocator) Allocate(hosts []*types.Host, memsizeGiB float64, antiAffinity []string) (string, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.AllocationDuration)

	excluded := make(map[string]bool, len(antiAffinity))
	for _, addr := range antiAffinity {
		excluded[addr] = true
	}

	candidates := make([]*types.Host, 0, len(hosts))
	for _, h := range hosts {
		if h.Status != types.StatusPassing {
			continue
		}
		if excluded[h.Addr] {
			continue
		}
		if h.ResidualGiB() < memsizeGiB {
			continue
		}
		candidates = append(candidates, h)
	}

	if len(candidates) == 0 {
		a.logger.Warn().
			Float64("memsize_gib", memsizeGiB).
			Int("anti_affinity_count", len(antiAffinity)).
			Msg("no host satisfies allocation request")
		return "", errs.New(errs.Capacity, "no host with sufficient residual memory outside anti-affinity set")
	}

	sort.Slice(candidates, func(i, j int) bool {
		ri, rj := candidates[i].ResidualGiB(), candidates[j].ResidualGiB()
		if ri != rj {
			return ri > rj
		}
		return candidates[i].Addr < candidates[j].Addr
	})

	chosen := candidates[0]
	a.logger.Debug().
		Str("host", chosen.Addr).
		Float64("residual_gib", chosen.ResidualGiB()).
		Msg("allocated host")

	return chosen.Addr, nil
}

// AllocatePair allocates two distinct hosts for a replicated pair, the
// second call excluding whatever the first one chose in addition to the
// caller-supplied anti-affinity set.
func (a *Allocator) AllocatePair(hosts []*types.Host, memsizeGiB float64, antiAffinity []string) (first, second string, err error) {
	first, err = a.Allocate(hosts, memsizeGiB, antiAffinity)
	if err != nil {
		return "", "", err
	}

	second, err = a.Allocate(hosts, memsizeGiB, append(append([]string{}, antiAffinity...), first))
	if err != nil {
		return "", "", err
	}

	return first, second, nil
}
