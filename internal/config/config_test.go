package config

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("when config file exists with valid content", func() {
			BeforeEach(func() {
				validConfig := `
server:
  http_port: "8080"
  metrics_port: "9090"

rate_limiter:
  default:
    limit: 100
    window_seconds: 60
  endpoints:
    pdp_evaluate:
      limit: 50
      window_seconds: 60

content_scanner:
  ml_enabled: true
  ml_threshold: 0.75

hydration:
  enabled: true
  tz: "America/New_York"
  poll_seconds: 30
  hour: 3
  minute: 15
  max_files_per_run: 250
  ocr_enabled: true
  service_user_id: 99

ule:
  embedding_provider: "bedrock"
  similarity_threshold: 0.65

regression:
  default_max_drop: 0.05
  default_min_threshold: 0.5

logging:
  level: "debug"
  format: "console"
`
				err := os.WriteFile(configFile, []byte(validConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should load configuration successfully", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg).NotTo(BeNil())

				Expect(cfg.Server.HTTPPort).To(Equal("8080"))
				Expect(cfg.Server.MetricsPort).To(Equal("9090"))

				Expect(cfg.RateLimiter.Default.Limit).To(Equal(100))
				Expect(cfg.RateLimiter.Endpoints["pdp_evaluate"].Limit).To(Equal(50))

				Expect(cfg.ContentScanner.MLEnabled).To(BeTrue())
				Expect(cfg.ContentScanner.MLThreshold).To(Equal(0.75))

				Expect(cfg.Hydration.TZ).To(Equal("America/New_York"))
				Expect(cfg.Hydration.Hour).To(Equal(3))
				Expect(cfg.Hydration.Minute).To(Equal(15))
				Expect(cfg.Hydration.MaxFilesPerRun).To(Equal(250))
				Expect(cfg.Hydration.OCREnabled).To(BeTrue())
				Expect(cfg.Hydration.ServiceUserID).To(Equal(99))

				Expect(cfg.ULE.EmbeddingProvider).To(Equal("bedrock"))
				Expect(cfg.ULE.SimilarityThreshold).To(Equal(0.65))

				Expect(cfg.Regression.DefaultMaxDrop).To(Equal(0.05))

				Expect(cfg.Logging.Level).To(Equal("debug"))
				Expect(cfg.Logging.Format).To(Equal("console"))
			})
		})

		Context("when config file has minimal content", func() {
			BeforeEach(func() {
				minimalConfig := `
server:
  http_port: "3000"
`
				err := os.WriteFile(configFile, []byte(minimalConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should load with defaults for missing values", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Server.HTTPPort).To(Equal("3000"))
				Expect(cfg.RateLimiter.Default.Limit).To(Equal(100))
				Expect(cfg.Hydration.TZ).To(Equal("UTC"))
				Expect(cfg.ULE.EmbeddingProvider).To(Equal("local"))
			})
		})

		Context("when config file does not exist", func() {
			It("should return an error", func() {
				_, err := Load("/nonexistent/config.yaml")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to read config file"))
			})
		})

		Context("when config file has invalid YAML", func() {
			BeforeEach(func() {
				invalidConfig := `
server:
  http_port: "8080"
  invalid_yaml: [
rate_limiter:
  default:
    limit: 1
`
				err := os.WriteFile(configFile, []byte(invalidConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})
	})

	Describe("validate", func() {
		var cfg *Config

		BeforeEach(func() {
			cfg = defaults()
		})

		Context("when config is valid", func() {
			It("should pass validation", func() {
				Expect(validate(cfg)).NotTo(HaveOccurred())
			})
		})

		Context("when rate limiter default window is zero", func() {
			BeforeEach(func() {
				cfg.RateLimiter.Default.WindowSeconds = 0
			})

			It("should return a validation error", func() {
				err := validate(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("window_seconds must be greater than 0"))
			})
		})

		Context("when hydration hour is out of range", func() {
			BeforeEach(func() {
				cfg.Hydration.Hour = 24
			})

			It("should return a validation error", func() {
				err := validate(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("hour must be between 0 and 23"))
			})
		})

		Context("when ule embedding provider is unsupported", func() {
			BeforeEach(func() {
				cfg.ULE.EmbeddingProvider = "openai"
			})

			It("should return a validation error", func() {
				err := validate(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("unsupported ule embedding_provider"))
			})
		})

		Context("when content scanner ml_threshold is out of range", func() {
			BeforeEach(func() {
				cfg.ContentScanner.MLThreshold = 1.5
			})

			It("should return a validation error", func() {
				err := validate(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("ml_threshold must be between 0.0 and 1.0"))
			})
		})
	})

	Describe("loadFromEnv", func() {
		var cfg *Config

		BeforeEach(func() {
			cfg = defaults()
			os.Clearenv()
		})

		Context("when environment variables are set", func() {
			BeforeEach(func() {
				os.Setenv("HTTP_PORT", "3000")
				os.Setenv("METRICS_PORT", "9999")
				os.Setenv("LOG_LEVEL", "debug")
				os.Setenv("HYDRATION_ENABLED", "false")
				os.Setenv("HYDRATION_HOUR", "5")
			})

			AfterEach(func() {
				os.Clearenv()
			})

			It("should load values from environment", func() {
				err := loadFromEnv(cfg)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Server.HTTPPort).To(Equal("3000"))
				Expect(cfg.Server.MetricsPort).To(Equal("9999"))
				Expect(cfg.Logging.Level).To(Equal("debug"))
				Expect(cfg.Hydration.Enabled).To(BeFalse())
				Expect(cfg.Hydration.Hour).To(Equal(5))
			})
		})

		Context("when an environment variable has an invalid value", func() {
			BeforeEach(func() {
				os.Setenv("HYDRATION_HOUR", "not-a-number")
			})

			AfterEach(func() {
				os.Clearenv()
			})

			It("should return an error", func() {
				err := loadFromEnv(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("HYDRATION_HOUR"))
			})
		})

		Context("when no environment variables are set", func() {
			It("should not modify config", func() {
				original := *cfg
				err := loadFromEnv(cfg)
				Expect(err).NotTo(HaveOccurred())
				Expect(*cfg).To(Equal(original))
			})
		})
	})
})
