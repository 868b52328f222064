package apiclient_test

import (
	"context"
	"errors"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apiclient "github.com/JohnPlummer/jp-go-apiclient"
)

// mockErrorClassifier for testing
type mockErrorClassifier struct {
	isRetryableFunc func(err error) bool
}

func (m *mockErrorClassifier) IsRetryable(err error) bool {
	return m.isRetryableFunc(err)
}

var _ = Describe("RetryWrapper", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		client *mockClient
		logger *slog.Logger
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		client = &mockClient{}
		logger = quietLogger()
	})

	AfterEach(func() {
		cancel()
	})

	Describe("NewRetryWrapper", func() {
		It("creates a wrapper with default config", func() {
			wrapper := apiclient.NewRetryWrapper[string, string](client)
			Expect(wrapper).NotTo(BeNil())
		})

		It("defaults to four attempts with a one second linear step", func() {
			config := apiclient.DefaultRetryConfig()
			Expect(config.MaxAttempts).To(Equal(4))
			Expect(config.Strategy).To(Equal(apiclient.RetryStrategyLinear))
			Expect(config.InitialDelay).To(Equal(time.Second))
		})
	})

	Describe("Execute", func() {
		Context("successful request", func() {
			It("returns response on first attempt", func() {
				client.executeFunc = func(ctx context.Context, req string) (string, error) {
					return "success", nil
				}

				wrapper := apiclient.NewRetryWrapper[string, string](
					client,
					apiclient.WithMaxAttempts(3),
					apiclient.WithLinearBackoff(time.Millisecond),
					apiclient.WithRetryLogger(logger),
				)

				resp, err := wrapper.Execute(ctx, "test")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp).To(Equal("success"))
				Expect(client.getCallCount()).To(Equal(1))

				stats := wrapper.GetRetryStats()
				Expect(stats.TotalAttempts).To(Equal(int64(1)))
				Expect(stats.TotalRetries).To(Equal(int64(0)))
				Expect(stats.TotalSuccesses).To(Equal(int64(1)))
				Expect(stats.TotalFailures).To(Equal(int64(0)))
			})
		})

		Context("transport errors", func() {
			It("retries and succeeds", func() {
				client.executeFunc = func(ctx context.Context, req string) (string, error) {
					if client.getCallCount() < 3 {
						return "", errors.New("connection reset by peer")
					}
					return "success", nil
				}

				wrapper := apiclient.NewRetryWrapper[string, string](
					client,
					apiclient.WithMaxAttempts(5),
					apiclient.WithLinearBackoff(time.Millisecond),
					apiclient.WithRetryLogger(logger),
				)

				resp, err := wrapper.Execute(ctx, "test")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp).To(Equal("success"))
				Expect(client.getCallCount()).To(Equal(3))

				stats := wrapper.GetRetryStats()
				Expect(stats.TotalAttempts).To(Equal(int64(3)))
				Expect(stats.TotalRetries).To(Equal(int64(2)))
				Expect(stats.TotalSuccesses).To(Equal(int64(1)))
			})

			It("exhausts attempts on a persistent error and returns the last error", func() {
				client.executeFunc = func(ctx context.Context, req string) (string, error) {
					return "", errors.New("connection refused")
				}

				wrapper := apiclient.NewRetryWrapper[string, string](
					client,
					apiclient.WithMaxAttempts(3),
					apiclient.WithLinearBackoff(time.Millisecond),
					apiclient.WithRetryLogger(logger),
				)

				resp, err := wrapper.Execute(ctx, "test")
				Expect(err).To(MatchError("connection refused"))
				Expect(resp).To(BeEmpty())
				Expect(client.getCallCount()).To(Equal(3))

				stats := wrapper.GetRetryStats()
				Expect(stats.TotalFailures).To(Equal(int64(1)))
				Expect(stats.LastError).To(HaveOccurred())
			})
		})

		Context("errors carrying an HTTP status", func() {
			DescribeTable("never retries",
				func(err error) {
					client.executeFunc = func(ctx context.Context, req string) (string, error) {
						return "", err
					}

					wrapper := apiclient.NewRetryWrapper[string, string](
						client,
						apiclient.WithMaxAttempts(5),
						apiclient.WithLinearBackoff(time.Millisecond),
						apiclient.WithRetryLogger(logger),
					)

					_, got := wrapper.Execute(ctx, "test")
					Expect(got).To(MatchError(err))
					Expect(client.getCallCount()).To(Equal(1))
				},
				Entry("404 APIError", apiclient.NewAPIError("not found", 404, "404")),
				Entry("500 APIError", apiclient.NewAPIError("boom", 500, "500")),
				Entry("503 StatusCodeError", apiclient.NewStatusCodeError(503, errors.New("service unavailable"))),
			)
		})

		Context("per-call attempt budget", func() {
			It("overrides MaxAttempts for one call", func() {
				client.executeFunc = func(ctx context.Context, req string) (string, error) {
					return "", errors.New("dial tcp: i/o timeout")
				}

				wrapper := apiclient.NewRetryWrapper[string, string](
					client,
					apiclient.WithMaxAttempts(5),
					apiclient.WithLinearBackoff(time.Millisecond),
					apiclient.WithRetryLogger(logger),
				)

				_, err := wrapper.ExecuteAttempts(ctx, "test", 2)
				Expect(err).To(HaveOccurred())
				Expect(client.getCallCount()).To(Equal(2))
			})

			It("rejects a non-positive budget without calling the client", func() {
				client.executeFunc = func(ctx context.Context, req string) (string, error) {
					return "success", nil
				}

				wrapper := apiclient.NewRetryWrapper[string, string](client, apiclient.WithRetryLogger(logger))

				_, err := wrapper.ExecuteAttempts(ctx, "test", 0)
				Expect(err).To(MatchError(ContainSubstring("max attempts must be positive")))
				Expect(client.getCallCount()).To(Equal(0))
			})
		})

		Context("custom classifier", func() {
			It("consults the classifier", func() {
				client.executeFunc = func(ctx context.Context, req string) (string, error) {
					return "", errors.New("fatal")
				}

				wrapper := apiclient.NewRetryWrapper[string, string](
					client,
					apiclient.WithMaxAttempts(5),
					apiclient.WithLinearBackoff(time.Millisecond),
					apiclient.WithErrorClassifier(&mockErrorClassifier{
						isRetryableFunc: func(err error) bool { return false },
					}),
					apiclient.WithRetryLogger(logger),
				)

				_, err := wrapper.Execute(ctx, "test")
				Expect(err).To(MatchError("fatal"))
				Expect(client.getCallCount()).To(Equal(1))
			})
		})

		Context("context cancellation", func() {
			It("returns immediately when context is already done", func() {
				canceledCtx, cancel := context.WithCancel(context.Background())
				cancel()

				client.executeFunc = func(ctx context.Context, req string) (string, error) {
					return "success", nil
				}

				wrapper := apiclient.NewRetryWrapper[string, string](client, apiclient.WithRetryLogger(logger))

				_, err := wrapper.Execute(canceledCtx, "test")
				Expect(err).To(Equal(context.Canceled))
				Expect(client.getCallCount()).To(Equal(0))
			})

			It("stops waiting for the next attempt when the context is canceled", func() {
				client.executeFunc = func(ctx context.Context, req string) (string, error) {
					cancel()
					return "", errors.New("connection reset")
				}

				wrapper := apiclient.NewRetryWrapper[string, string](
					client,
					apiclient.WithMaxAttempts(5),
					apiclient.WithLinearBackoff(time.Second),
					apiclient.WithRetryLogger(logger),
				)

				start := time.Now()
				_, err := wrapper.Execute(ctx, "test")
				Expect(err).To(Equal(context.Canceled))
				Expect(client.getCallCount()).To(Equal(1))
				Expect(time.Since(start)).To(BeNumerically("<", 500*time.Millisecond))
			})
		})
	})

	Describe("linear backoff", func() {
		DescribeTable("waits step*(k+1) after attempt k",
			func(attempt int, expected time.Duration) {
				Expect(apiclient.LinearDelay(time.Second, attempt)).To(Equal(expected))
			},
			Entry("after the first attempt", 0, 1000*time.Millisecond),
			Entry("after the second attempt", 1, 2000*time.Millisecond),
			Entry("after the third attempt", 2, 3000*time.Millisecond),
			Entry("after the tenth attempt", 9, 10000*time.Millisecond),
		)

		It("yields a growing sequence from the go-retry backoff", func() {
			backoff := apiclient.NewLinearBackoff(time.Second)
			for k := 0; k < 4; k++ {
				delay, stop := backoff.Next()
				Expect(stop).To(BeFalse())
				Expect(delay).To(Equal(time.Duration(k+1) * time.Second))
			}
		})

		It("sleeps the linear schedule between attempts", func() {
			client.executeFunc = func(ctx context.Context, req string) (string, error) {
				return "", errors.New("connection refused")
			}

			wrapper := apiclient.NewRetryWrapper[string, string](
				client,
				apiclient.WithMaxAttempts(3),
				apiclient.WithLinearBackoff(30*time.Millisecond),
				apiclient.WithRetryLogger(logger),
			)

			start := time.Now()
			_, err := wrapper.Execute(ctx, "test")
			elapsed := time.Since(start)

			Expect(err).To(HaveOccurred())
			// 30ms + 60ms, no jitter
			Expect(elapsed).To(BeNumerically(">=", 90*time.Millisecond))
			Expect(elapsed).To(BeNumerically("<", time.Second))
		})
	})

	Describe("other strategies", func() {
		strategies := map[string]apiclient.RetryOption{
			"exponential": apiclient.WithExponentialBackoff(5*time.Millisecond, 50*time.Millisecond),
			"constant":    apiclient.WithConstantBackoff(5 * time.Millisecond),
			"fibonacci":   apiclient.WithFibonacciBackoff(5*time.Millisecond, 50*time.Millisecond),
		}

		DescribeTable("retry until success",
			func(strategy string) {
				opt := strategies[strategy]
				Expect(opt).NotTo(BeNil())

				client.executeFunc = func(ctx context.Context, req string) (string, error) {
					if client.getCallCount() < 3 {
						return "", errors.New("connection reset")
					}
					return "success", nil
				}

				wrapper := apiclient.NewRetryWrapper[string, string](
					client,
					apiclient.WithMaxAttempts(3),
					opt,
					apiclient.WithRetryLogger(logger),
				)

				resp, err := wrapper.Execute(ctx, "test")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp).To(Equal("success"))
				Expect(client.getCallCount()).To(Equal(3))
			},
			Entry("exponential", "exponential"),
			Entry("constant", "constant"),
			Entry("fibonacci", "fibonacci"),
		)

		It("supports a custom exponential multiplier", func() {
			client.executeFunc = func(ctx context.Context, req string) (string, error) {
				if client.getCallCount() < 2 {
					return "", errors.New("connection reset")
				}
				return "success", nil
			}

			wrapper := apiclient.NewRetryWrapper[string, string](
				client,
				apiclient.WithMaxAttempts(2),
				apiclient.WithExponentialBackoff(5*time.Millisecond, 50*time.Millisecond),
				apiclient.WithMultiplier(1.5),
				apiclient.WithRetryLogger(logger),
			)

			_, err := wrapper.Execute(ctx, "test")
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
