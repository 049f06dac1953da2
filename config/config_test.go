package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/pflag"

	"github.com/angeloszaimis/tcp-router/config"
	"github.com/angeloszaimis/tcp-router/internal/backend"
)

func validConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Address: ":8000", Environment: config.EnvDev},
		Router: config.RouterConfig{
			BufferSize:     1024,
			ConnectTimeout: "2s",
			IOTimeout:      "10s",
			Framing:        config.FramingSingleRead,
			MaxMessageSize: 1 << 20,
		},
		HealthCheck: config.HealthCheckConfig{
			Interval:    "5s",
			Timeout:     "1s",
			Host:        "127.0.0.1",
			PortRange:   config.PortRangeConfig{Start: 9001, End: 9009},
			Concurrency: 16,
		},
		Strategy: config.StrategyConfig{Type: config.StrategyLeastConn},
		Logging:  config.LoggingConfig{Level: config.LogLevelInfo},
		Metrics:  config.MetricsConfig{Enabled: true, Address: ":9100"},
	}
}

var _ = Describe("Config", func() {
	var tempDir string

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()
	})

	writeConfig := func(content string) string {
		path := filepath.Join(tempDir, "config.yaml")
		Expect(os.WriteFile(path, []byte(content), 0644)).To(Succeed())
		return path
	}

	Describe("Load", func() {
		Context("with valid config file", func() {
			var path string

			BeforeEach(func() {
				path = writeConfig(`
server:
  address: ":8100"
  environment: "prod"
  max_connections: 64

router:
  buffer_size: 2048
  framing: "eof"

health_check:
  interval: "10s"
  timeout: "500ms"
  backends:
    - "127.0.0.1:9001"
    - "127.0.0.1:9003"

strategy:
  type: "round-robin"

logging:
  level: "debug"
  file: "/tmp/router.log"
`)
			})

			It("should load configuration successfully", func() {
				cfg, err := config.Load(path, nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg).NotTo(BeNil())
				Expect(cfg.Server.Address).To(Equal(":8100"))
				Expect(cfg.Server.MaxConnections).To(Equal(64))
				Expect(cfg.Router.BufferSize).To(Equal(2048))
				Expect(cfg.Router.Framing).To(Equal(config.FramingEOF))
				Expect(cfg.Logging.File).To(Equal("/tmp/router.log"))
			})

			It("should parse strategy correctly", func() {
				cfg, err := config.Load(path, nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Strategy.Type).To(Equal(config.StrategyRoundRobin))
			})

			It("should parse health check durations", func() {
				cfg, err := config.Load(path, nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.HealthCheck.IntervalDuration()).To(Equal(10 * time.Second))
				Expect(cfg.HealthCheck.TimeoutDuration()).To(Equal(500 * time.Millisecond))
			})

			It("should keep defaults for keys the file omits", func() {
				cfg, err := config.Load(path, nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Router.ConnectTimeoutDuration()).To(Equal(2 * time.Second))
				Expect(cfg.Router.IOTimeoutDuration()).To(Equal(10 * time.Second))
				Expect(cfg.Metrics.Enabled).To(BeTrue())
				Expect(cfg.Metrics.Address).To(Equal(":9100"))
			})

			It("should use the static backend list as candidates", func() {
				cfg, err := config.Load(path, nil)
				Expect(err).NotTo(HaveOccurred())

				candidates, err := cfg.HealthCheck.Candidates()
				Expect(err).NotTo(HaveOccurred())
				Expect(candidates).To(Equal([]backend.Address{
					backend.New("127.0.0.1", 9001),
					backend.New("127.0.0.1", 9003),
				}))
			})

			It("should let flags override the file", func() {
				fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
				config.RegisterFlags(fs)
				Expect(fs.Parse([]string{"--strategy", "random", "--address", "127.0.0.1:8200"})).To(Succeed())

				cfg, err := config.Load(path, fs)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Strategy.Type).To(Equal(config.StrategyRandom))
				Expect(cfg.Server.Address).To(Equal("127.0.0.1:8200"))
			})
		})

		Context("without a config file", func() {
			It("should use defaults", func() {
				cfg, err := config.Load("", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Server.Address).To(Equal(":8000"))
				Expect(cfg.Strategy.Type).To(Equal(config.StrategyLeastConn))
				Expect(cfg.Router.BufferSize).To(Equal(1024))
				Expect(cfg.Router.Framing).To(Equal(config.FramingSingleRead))
				Expect(cfg.HealthCheck.IntervalDuration()).To(Equal(5 * time.Second))
				Expect(cfg.HealthCheck.TimeoutDuration()).To(Equal(time.Second))
				Expect(cfg.HealthCheck.PruneStale).To(BeFalse())
			})

			It("should probe the default port range", func() {
				cfg, err := config.Load("", nil)
				Expect(err).NotTo(HaveOccurred())

				candidates, err := cfg.HealthCheck.Candidates()
				Expect(err).NotTo(HaveOccurred())
				Expect(candidates).To(HaveLen(9))
				Expect(candidates[0]).To(Equal(backend.New("127.0.0.1", 9001)))
				Expect(candidates[8]).To(Equal(backend.New("127.0.0.1", 9009)))
			})

			It("should fail when an explicit path does not exist", func() {
				_, err := config.Load(filepath.Join(tempDir, "missing.yaml"), nil)
				Expect(err).To(HaveOccurred())
			})
		})

		Context("with environment variables", func() {
			It("should override defaults", func() {
				GinkgoT().Setenv("ROUTER_STRATEGY_TYPE", "random")
				GinkgoT().Setenv("ROUTER_HEALTH_CHECK_PORT_RANGE_END", "9003")
				GinkgoT().Setenv("ROUTER_SERVER_MAX_CONNECTIONS", "8")

				cfg, err := config.Load("", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Strategy.Type).To(Equal(config.StrategyRandom))
				Expect(cfg.HealthCheck.PortRange.End).To(Equal(9003))
				Expect(cfg.Server.MaxConnections).To(Equal(8))
			})

			It("should reject invalid values", func() {
				GinkgoT().Setenv("ROUTER_STRATEGY_TYPE", "consistent-hash")

				_, err := config.Load("", nil)
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Validate", func() {
		It("should accept the defaults", func() {
			Expect(validConfig().Validate()).To(Succeed())
		})

		DescribeTable("invalid configurations",
			func(mutate func(*config.Config)) {
				cfg := validConfig()
				mutate(&cfg)
				Expect(cfg.Validate()).NotTo(Succeed())
			},
			Entry("bad listen address", func(c *config.Config) { c.Server.Address = "invalid:host:port" }),
			Entry("unknown environment", func(c *config.Config) { c.Server.Environment = "qa" }),
			Entry("negative max connections", func(c *config.Config) { c.Server.MaxConnections = -1 }),
			Entry("zero buffer size", func(c *config.Config) { c.Router.BufferSize = 0 }),
			Entry("unparsable connect timeout", func(c *config.Config) { c.Router.ConnectTimeout = "soon" }),
			Entry("negative io timeout", func(c *config.Config) { c.Router.IOTimeout = "-1s" }),
			Entry("unknown framing", func(c *config.Config) { c.Router.Framing = "length-prefixed" }),
			Entry("probe timeout equal to interval", func(c *config.Config) { c.HealthCheck.Timeout = "5s" }),
			Entry("probe timeout above interval", func(c *config.Config) { c.HealthCheck.Timeout = "10s" }),
			Entry("inverted port range", func(c *config.Config) {
				c.HealthCheck.PortRange = config.PortRangeConfig{Start: 9009, End: 9001}
			}),
			Entry("port out of range", func(c *config.Config) { c.HealthCheck.PortRange.End = 70000 }),
			Entry("missing probe host", func(c *config.Config) { c.HealthCheck.Host = "" }),
			Entry("bad static backend", func(c *config.Config) {
				c.HealthCheck.Backends = []string{"127.0.0.1:9001", "localhost"}
			}),
			Entry("zero probe concurrency", func(c *config.Config) { c.HealthCheck.Concurrency = 0 }),
			Entry("unknown strategy", func(c *config.Config) { c.Strategy.Type = "weighted-round-robin" }),
			Entry("unknown log level", func(c *config.Config) { c.Logging.Level = "trace" }),
			Entry("metrics enabled without address", func(c *config.Config) { c.Metrics.Address = "" }),
		)

		It("should ignore the port range when static backends are set", func() {
			cfg := validConfig()
			cfg.HealthCheck.PortRange = config.PortRangeConfig{}
			cfg.HealthCheck.Host = ""
			cfg.HealthCheck.Backends = []string{"10.0.0.1:9001"}

			Expect(cfg.Validate()).To(Succeed())
		})

		It("should not require a metrics address when metrics are disabled", func() {
			cfg := validConfig()
			cfg.Metrics = config.MetricsConfig{Enabled: false}

			Expect(cfg.Validate()).To(Succeed())
		})
	})
})
