package strategy_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/tcp-router/internal/backend"
	"github.com/angeloszaimis/tcp-router/internal/registry"
	"github.com/angeloszaimis/tcp-router/internal/strategy"
)

var _ = Describe("Table-Driven Strategy Tests", func() {
	DescribeTable("All strategies select from the active set",
		func(createStrat func() strategy.Strategy) {
			strat := createStrat()
			snap := registry.Snapshot{
				Active:      backend.PortRange("127.0.0.1", 9001, 9003),
				Connections: map[backend.Address]int{},
			}

			for i := 0; i < 20; i++ {
				selected, ok := strat.SelectBackend(snap)
				Expect(ok).To(BeTrue())
				Expect(snap.Active).To(ContainElement(selected))
			}
		},
		Entry("Round Robin", strategy.NewRoundRobinStrategy),
		Entry("Random", strategy.NewRandomStrategy),
		Entry("Least Connections", strategy.NewLeastConnStrategy),
	)

	DescribeTable("All strategies report unavailable on an empty active set",
		func(createStrat func() strategy.Strategy) {
			_, ok := createStrat().SelectBackend(registry.Snapshot{
				Connections: map[backend.Address]int{backend.New("127.0.0.1", 9001): 0},
			})
			Expect(ok).To(BeFalse())
		},
		Entry("Round Robin", strategy.NewRoundRobinStrategy),
		Entry("Random", strategy.NewRandomStrategy),
		Entry("Least Connections", strategy.NewLeastConnStrategy),
	)
})
