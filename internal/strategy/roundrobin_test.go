package strategy_test

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/tcp-router/internal/backend"
	"github.com/angeloszaimis/tcp-router/internal/registry"
	"github.com/angeloszaimis/tcp-router/internal/strategy"
)

var _ = Describe("Roundrobin", func() {
	var (
		strat strategy.Strategy
		snap  registry.Snapshot
	)

	BeforeEach(func() {
		strat = strategy.NewRoundRobinStrategy()
		snap = registry.Snapshot{
			Active:      backend.PortRange("127.0.0.1", 9001, 9003),
			Connections: map[backend.Address]int{},
		}
	})

	Describe("SelectBackend", func() {
		Context("with active backends", func() {
			It("should cycle through backends in order", func() {
				for _, want := range []int{9001, 9002, 9003, 9001} {
					selected, ok := strat.SelectBackend(snap)
					Expect(ok).To(BeTrue())
					Expect(selected.Port).To(Equal(want))
				}
			})

			It("should distribute load evenly", func() {
				counts := make(map[backend.Address]int)
				for i := 0; i < 300; i++ {
					selected, _ := strat.SelectBackend(snap)
					counts[selected]++
				}
				for _, addr := range snap.Active {
					Expect(counts[addr]).To(Equal(100))
				}
			})

			It("should be thread-safe", func() {
				var (
					wg     sync.WaitGroup
					mu     sync.Mutex
					counts = make(map[backend.Address]int)
				)
				for i := 0; i < 300; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						selected, _ := strat.SelectBackend(snap)
						mu.Lock()
						counts[selected]++
						mu.Unlock()
					}()
				}
				wg.Wait()

				for _, addr := range snap.Active {
					Expect(counts[addr]).To(Equal(100))
				}
			})
		})

		Context("with an empty active set", func() {
			It("should report unavailable", func() {
				_, ok := strat.SelectBackend(registry.Snapshot{})
				Expect(ok).To(BeFalse())
			})
		})

		Context("when the active set shrinks", func() {
			It("should keep returning members of the current snapshot", func() {
				strat.SelectBackend(snap)
				strat.SelectBackend(snap)

				smaller := registry.Snapshot{Active: snap.Active[:1]}
				selected, ok := strat.SelectBackend(smaller)
				Expect(ok).To(BeTrue())
				Expect(selected).To(Equal(snap.Active[0]))
			})
		})
	})
})
