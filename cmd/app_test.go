package main

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/tcp-router/config"
)

var _ = Describe("createStrategy", func() {
	DescribeTable("known strategies",
		func(name string) {
			strat, err := createStrategy(name)
			Expect(err).NotTo(HaveOccurred())
			Expect(strat).NotTo(BeNil())
		},
		Entry("least-conn", config.StrategyLeastConn),
		Entry("round-robin", config.StrategyRoundRobin),
		Entry("random", config.StrategyRandom),
	)

	DescribeTable("unknown strategies",
		func(name string) {
			strat, err := createStrategy(name)
			Expect(err).To(HaveOccurred())
			Expect(strat).To(BeNil())
		},
		Entry("empty", ""),
		Entry("consistent hash", "consistent_hash"),
		Entry("mixed case", "Least-Conn"),
	)
})

var _ = Describe("newApp", func() {
	var cfg *config.Config

	BeforeEach(func() {
		cfg = testConfig("127.0.0.1:9001", "127.0.0.1:9002")
	})

	It("should wire the operator endpoint when metrics are enabled", func() {
		a, err := newApp(cfg, discardLogger())
		Expect(err).NotTo(HaveOccurred())
		Expect(a.operator).NotTo(BeNil())
		Expect(a.monitor.Candidates()).To(HaveLen(2))
	})

	It("should skip the operator endpoint when metrics are disabled", func() {
		cfg.Metrics.Enabled = false

		a, err := newApp(cfg, discardLogger())
		Expect(err).NotTo(HaveOccurred())
		Expect(a.operator).To(BeNil())
	})

	It("should probe the port range without a static list", func() {
		cfg.HealthCheck.Backends = nil

		a, err := newApp(cfg, discardLogger())
		Expect(err).NotTo(HaveOccurred())
		Expect(a.monitor.Candidates()).To(HaveLen(9))
	})

	It("should reject an unknown strategy", func() {
		cfg.Strategy.Type = "weighted-round-robin"

		_, err := newApp(cfg, discardLogger())
		Expect(err).To(HaveOccurred())
	})

	It("should fail to listen on a port already in use", func() {
		first, err := newApp(cfg, discardLogger())
		Expect(err).NotTo(HaveOccurred())
		Expect(first.listen(context.Background())).To(Succeed())
		defer first.router.Shutdown(context.Background())

		cfg.Server.Address = first.router.Addr().String()
		second, err := newApp(cfg, discardLogger())
		Expect(err).NotTo(HaveOccurred())
		Expect(second.listen(context.Background())).NotTo(Succeed())
	})
})

var _ = Describe("newLogger", func() {
	It("should log to stdout only by default", func() {
		cfg := testConfig()

		log, closeLog, err := newLogger(cfg)
		Expect(err).NotTo(HaveOccurred())
		defer closeLog()
		Expect(log).NotTo(BeNil())
	})

	It("should append to the configured log file", func() {
		cfg := testConfig()
		cfg.Logging.File = filepath.Join(GinkgoT().TempDir(), "router.log")

		log, closeLog, err := newLogger(cfg)
		Expect(err).NotTo(HaveOccurred())
		log.Info("Server is back up")
		closeLog()

		content, err := os.ReadFile(cfg.Logging.File)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(content)).To(ContainSubstring("Server is back up"))
	})

	It("should fail when the log file cannot be opened", func() {
		cfg := testConfig()
		cfg.Logging.File = filepath.Join(GinkgoT().TempDir(), "missing", "router.log")

		_, _, err := newLogger(cfg)
		Expect(err).To(HaveOccurred())
	})
})
