package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"pepperfield.dev/soilguard/internal/engine"
	"pepperfield.dev/soilguard/internal/server"
	"pepperfield.dev/soilguard/pkg/wire"
)

var _ = Describe("Handler", func() {
	var (
		logger *slog.Logger
		eng    *engine.Engine
		ts     *httptest.Server
		base   time.Time
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))

		var err error
		eng, err = engine.New(&engine.Config{Logger: logger})
		Expect(err).NotTo(HaveOccurred())

		// No saver: the API works against the in-memory engine alone.
		handler, err := server.NewHandler(logger, eng, nil)
		Expect(err).NotTo(HaveOccurred())

		ts = httptest.NewServer(handler.Routes())
		base = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	})

	AfterEach(func() {
		ts.Close()
	})

	healthyPayload := func(fieldID string, offset time.Duration) wire.ReadingPayload {
		return wire.FromReading(engine.RawReading{
			FieldID:     fieldID,
			Timestamp:   base.Add(offset),
			Nitrogen:    180,
			Phosphorus:  30,
			Potassium:   220,
			PH:          6.2,
			Moisture:    65,
			Temperature: 27,
		})
	}

	postReading := func(payload wire.ReadingPayload) *http.Response {
		body, err := json.Marshal(payload)
		Expect(err).NotTo(HaveOccurred())

		resp, err := http.Post(ts.URL+"/api/v1/readings", "application/json", bytes.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decode := func(resp *http.Response, v any) {
		defer resp.Body.Close()
		Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
	}

	Describe("NewHandler", func() {
		It("should require a logger", func() {
			_, err := server.NewHandler(nil, eng, nil)
			Expect(err).To(HaveOccurred())
		})

		It("should require an engine", func() {
			_, err := server.NewHandler(logger, nil, nil)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("POST /api/v1/readings", func() {
		It("should score a valid reading and return the assessment", func() {
			resp := postReading(healthyPayload("field-1", 0))
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var out struct {
				Record         *engine.HealthScoreRecord `json:"record"`
				Recommendation *engine.Recommendation    `json:"recommendation"`
			}
			decode(resp, &out)
			Expect(out.Record.Score).To(Equal(100.0))
			Expect(out.Recommendation.Maintain).To(BeTrue())
		})

		It("should reject a reading missing a parameter with a categorized reason", func() {
			payload := healthyPayload("field-1", 0)
			payload.Nitrogen = nil

			resp := postReading(payload)
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))

			var out struct {
				Reason string `json:"reason"`
			}
			decode(resp, &out)
			Expect(out.Reason).To(Equal("missing_field"))
		})

		It("should reject a physically implausible reading", func() {
			payload := healthyPayload("field-1", 0)
			bad := 15.0
			payload.PH = &bad

			resp := postReading(payload)
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))

			var out struct {
				Reason string `json:"reason"`
			}
			decode(resp, &out)
			Expect(out.Reason).To(Equal("invalid_reading"))
		})

		It("should answer 409 for an out-of-order reading", func() {
			resp := postReading(healthyPayload("field-1", time.Hour))
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			resp.Body.Close()

			resp = postReading(healthyPayload("field-1", 0))
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))

			var out struct {
				Reason string `json:"reason"`
			}
			decode(resp, &out)
			Expect(out.Reason).To(Equal("out_of_order"))
		})

		It("should answer 500 on a failed save and accept the resubmission once", func() {
			saveErr := errors.New("connection refused")
			var calls int
			persisted, err := engine.New(&engine.Config{
				Logger: logger,
				Saver: func(_ context.Context, _ *engine.HealthScoreRecord, _ *engine.Recommendation) error {
					calls++
					if calls == 1 {
						return saveErr
					}
					return nil
				},
			})
			Expect(err).NotTo(HaveOccurred())

			handler, err := server.NewHandler(logger, persisted, nil)
			Expect(err).NotTo(HaveOccurred())
			srv := httptest.NewServer(handler.Routes())
			defer srv.Close()

			payload := healthyPayload("field-1", 0)
			body, err := json.Marshal(payload)
			Expect(err).NotTo(HaveOccurred())

			resp, err := http.Post(srv.URL+"/api/v1/readings", "application/json", bytes.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			resp.Body.Close()
			Expect(persisted.History("field-1", 10)).To(BeEmpty())

			// The client retries the identical reading.
			resp, err = http.Post(srv.URL+"/api/v1/readings", "application/json", bytes.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			resp.Body.Close()
			Expect(persisted.History("field-1", 10)).To(HaveLen(1))
		})

		It("should reject malformed JSON", func() {
			resp, err := http.Post(ts.URL+"/api/v1/readings", "application/json", bytes.NewReader([]byte("{nope")))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /api/v1/fields/{fieldID}/history", func() {
		BeforeEach(func() {
			for i := 0; i < 5; i++ {
				resp := postReading(healthyPayload("field-1", time.Duration(i)*time.Hour))
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				resp.Body.Close()
			}
		})

		It("should return the last n records chronologically", func() {
			resp, err := http.Get(ts.URL + "/api/v1/fields/field-1/history?n=3")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var out struct {
				FieldID string                     `json:"field_id"`
				Records []engine.HealthScoreRecord `json:"records"`
			}
			decode(resp, &out)
			Expect(out.FieldID).To(Equal("field-1"))
			Expect(out.Records).To(HaveLen(3))
			Expect(out.Records[2].Timestamp.After(out.Records[0].Timestamp)).To(BeTrue())
		})

		It("should default the window when n is omitted", func() {
			resp, err := http.Get(ts.URL + "/api/v1/fields/field-1/history")
			Expect(err).NotTo(HaveOccurred())

			var out struct {
				Records []engine.HealthScoreRecord `json:"records"`
			}
			decode(resp, &out)
			Expect(out.Records).To(HaveLen(5))
		})

		It("should return an empty list for an unknown field", func() {
			resp, err := http.Get(ts.URL + "/api/v1/fields/nope/history")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var out struct {
				Records []engine.HealthScoreRecord `json:"records"`
			}
			decode(resp, &out)
			Expect(out.Records).To(BeEmpty())
		})

		It("should reject a non-positive n", func() {
			resp, err := http.Get(ts.URL + "/api/v1/fields/field-1/history?n=0")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /api/v1/fields/{fieldID}/trend", func() {
		It("should report the trend as undefined below two records", func() {
			resp, err := http.Get(ts.URL + "/api/v1/fields/field-1/trend")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var out struct {
				Defined bool     `json:"defined"`
				Slope   *float64 `json:"slope"`
			}
			decode(resp, &out)
			Expect(out.Defined).To(BeFalse())
			Expect(out.Slope).To(BeNil())
		})

		It("should report the slope once enough records exist", func() {
			for i := 0; i < 3; i++ {
				resp := postReading(healthyPayload("field-1", time.Duration(i)*time.Hour))
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				resp.Body.Close()
			}

			resp, err := http.Get(ts.URL + "/api/v1/fields/field-1/trend")
			Expect(err).NotTo(HaveOccurred())

			var out struct {
				Defined bool     `json:"defined"`
				Slope   *float64 `json:"slope"`
			}
			decode(resp, &out)
			Expect(out.Defined).To(BeTrue())
			Expect(out.Slope).NotTo(BeNil())
			// Identical healthy readings score identically.
			Expect(*out.Slope).To(BeNumerically("~", 0, 1e-9))
		})
	})

	Describe("PUT /api/v1/fields/{fieldID}/stage", func() {
		putStage := func(fieldID, stage string) *http.Response {
			body := fmt.Sprintf(`{"stage": %q}`, stage)
			req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/fields/"+fieldID+"/stage", bytes.NewReader([]byte(body)))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", "application/json")

			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		It("should advance the stage", func() {
			resp := putStage("field-1", "vegetative")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
			Expect(eng.Stage("field-1")).To(Equal(engine.Vegetative))
		})

		It("should answer 409 for a backwards transition", func() {
			resp := putStage("field-1", "flowering")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()

			resp = putStage("field-1", "vegetative")
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))

			var out struct {
				Reason string `json:"reason"`
			}
			decode(resp, &out)
			Expect(out.Reason).To(Equal("stage_regression"))
		})

		It("should reject an unknown stage", func() {
			resp := putStage("field-1", "dormant")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
		})
	})

	Describe("GET /healthz", func() {
		It("should answer ok", func() {
			resp, err := http.Get(ts.URL + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("GET /metrics", func() {
		It("should expose the Prometheus registry", func() {
			resp, err := http.Get(ts.URL + "/metrics")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})
