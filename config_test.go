package apiclient_test

import (
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apiclient "github.com/JohnPlummer/jp-go-apiclient"
)

var _ = Describe("Config", func() {
	setenv := func(key, value string) {
		previous, had := os.LookupEnv(key)
		Expect(os.Setenv(key, value)).To(Succeed())
		DeferCleanup(func() {
			if had {
				_ = os.Setenv(key, previous)
			} else {
				_ = os.Unsetenv(key)
			}
		})
	}

	BeforeEach(func() {
		for _, key := range []string{apiclient.EnvBaseURL, apiclient.EnvTimeoutMS, apiclient.EnvRetries} {
			setenv(key, "")
		}
	})

	It("has sensible defaults", func() {
		cfg := apiclient.DefaultConfig()
		Expect(cfg.BaseURL).To(Equal("https://localhost:7192"))
		Expect(cfg.Timeout).To(Equal(10 * time.Second))
		Expect(cfg.Retries).To(Equal(3))
		Expect(cfg.BackoffBase).To(Equal(time.Second))
		Expect(cfg.CircuitBreaker).To(BeNil())
	})

	Describe("ConfigFromEnv", func() {
		It("falls back to defaults when nothing is set", func() {
			cfg, err := apiclient.ConfigFromEnv()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.BaseURL).To(Equal(apiclient.DefaultBaseURL))
			Expect(cfg.Timeout).To(Equal(apiclient.DefaultTimeout))
			Expect(cfg.Retries).To(Equal(apiclient.DefaultRetries))
		})

		It("reads the environment", func() {
			setenv(apiclient.EnvBaseURL, "http://weather.internal:8080")
			setenv(apiclient.EnvTimeoutMS, "2500")
			setenv(apiclient.EnvRetries, "0")

			cfg, err := apiclient.ConfigFromEnv()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.BaseURL).To(Equal("http://weather.internal:8080"))
			Expect(cfg.Timeout).To(Equal(2500 * time.Millisecond))
			Expect(cfg.Retries).To(Equal(0))
		})

		DescribeTable("rejects malformed values",
			func(key, value string) {
				setenv(key, value)
				_, err := apiclient.ConfigFromEnv()
				Expect(err).To(MatchError(ContainSubstring(key)))
			},
			Entry("non-numeric timeout", apiclient.EnvTimeoutMS, "soon"),
			Entry("zero timeout", apiclient.EnvTimeoutMS, "0"),
			Entry("negative retries", apiclient.EnvRetries, "-2"),
			Entry("non-numeric retries", apiclient.EnvRetries, "many"),
		)
	})

	Describe("options", func() {
		It("copies header maps so later edits do not leak in", func() {
			exec, err := apiclient.New(
				apiclient.WithHeader("X-Api-Key", "one"),
				apiclient.WithLogger(quietLogger()),
			)
			Expect(err).NotTo(HaveOccurred())

			headers := exec.Config().Headers
			headers["X-Api-Key"] = "two"
			Expect(exec.Config().Headers).To(HaveKeyWithValue("X-Api-Key", "one"))
		})

		It("applies options after WithConfig", func() {
			base := apiclient.DefaultConfig()
			base.Retries = 7

			exec, err := apiclient.New(
				apiclient.WithConfig(base),
				apiclient.WithTimeout(time.Second),
				apiclient.WithLogger(quietLogger()),
			)
			Expect(err).NotTo(HaveOccurred())
			Expect(exec.Config().Retries).To(Equal(7))
			Expect(exec.Config().Timeout).To(Equal(time.Second))
		})
	})
})
