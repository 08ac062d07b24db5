package health

import (
	"context"
	"fmt"

	"github.com/hifzlab/tasmee/internal/quran/source"
)

// Pinger is the subset of a connection pool used for readiness probes.
// *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SourceChecker probes the canonical-text source by fetching the first ayah
// of surah 1. The file source answers from memory and the API source from its
// per-surah cache after the first hit, so the probe stays cheap.
func SourceChecker(src source.Source) Checker {
	return Checker{
		Name: "quran_source",
		Check: func(ctx context.Context) error {
			ayahs, err := src.Ayahs(ctx, 1, 1, 1)
			if err != nil {
				return err
			}
			if len(ayahs) == 0 {
				return fmt.Errorf("source returned no ayahs for 1:1")
			}
			return nil
		},
	}
}

// StoreChecker probes the results database with a pool ping.
func StoreChecker(p Pinger) Checker {
	return Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			return p.Ping(ctx)
		},
	}
}
