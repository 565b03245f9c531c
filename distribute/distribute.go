package distribute

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/upcast/upcast/job"
)

var ErrNoAccounts = errors.New("distribute: no accounts to assign")

// Strategy maps a job's assets onto its accounts. The returned map is keyed
// by account id; slice order is the account's processing order.
type Strategy interface {
	Distribute(assets []job.Asset, accounts []job.AccountRef) (map[string][]job.Asset, error)
}

// ForMode returns the strategy for a job's distribution mode.
func ForMode(mode string) (Strategy, error) {
	switch mode {
	case "", job.DistributionPartition:
		return NewPartition(), nil
	case job.DistributionRound:
		return NewRound(), nil
	}
	return nil, fmt.Errorf("distribute: unknown mode %q", mode)
}

// Partition assigns each asset to exactly one account: contiguous slices of
// size len(assets)/len(accounts), with the first len(assets)%len(accounts)
// accounts taking one extra. Within each slice only the processing order is
// shuffled, never the membership, so accounts don't all hit the same
// upstream at once.
type Partition struct {
	rng *rand.Rand
}

// NewPartition creates the partition strategy. A seed may be supplied for
// deterministic slice ordering in tests.
func NewPartition(seed ...uint64) *Partition {
	if len(seed) > 0 {
		return &Partition{rng: rand.New(rand.NewPCG(seed[0], seed[0]))}
	}
	return &Partition{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

func (p *Partition) Distribute(assets []job.Asset, accounts []job.AccountRef) (map[string][]job.Asset, error) {
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}

	base := len(assets) / len(accounts)
	remainder := len(assets) % len(accounts)

	out := make(map[string][]job.Asset, len(accounts))
	cursor := 0
	for i, acct := range accounts {
		size := base
		if i < remainder {
			size++
		}
		slice := append([]job.Asset(nil), assets[cursor:cursor+size]...)
		cursor += size

		p.rng.Shuffle(len(slice), func(a, b int) {
			slice[a], slice[b] = slice[b], slice[a]
		})
		out[acct.ID] = slice
	}
	return out, nil
}

// Round gives every account the full asset list, each in its own shuffled
// order: each asset is attempted by every account in turn. Kept as an
// optional mode behind the same interface; partition is the default.
type Round struct {
	rng *rand.Rand
}

func NewRound(seed ...uint64) *Round {
	if len(seed) > 0 {
		return &Round{rng: rand.New(rand.NewPCG(seed[0], seed[0]))}
	}
	return &Round{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

func (r *Round) Distribute(assets []job.Asset, accounts []job.AccountRef) (map[string][]job.Asset, error) {
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}

	out := make(map[string][]job.Asset, len(accounts))
	for _, acct := range accounts {
		slice := append([]job.Asset(nil), assets...)
		r.rng.Shuffle(len(slice), func(a, b int) {
			slice[a], slice[b] = slice[b], slice[a]
		})
		out[acct.ID] = slice
	}
	return out, nil
}
