package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	amqp "github.com/rabbitmq/amqp091-go"

	"pepperfield.dev/soilguard/internal/engine"
	"pepperfield.dev/soilguard/internal/server"
	"pepperfield.dev/soilguard/pkg/wire"
)

var _ = Describe("Soil Pipeline E2E", func() {
	// healthyReading builds a payload whose parameters sit inside the
	// optimal band of every growth stage.
	healthyReading := func(fieldID string, ts time.Time) wire.ReadingPayload {
		return wire.FromReading(engine.RawReading{
			FieldID:     fieldID,
			Timestamp:   ts,
			Nitrogen:    180,
			Phosphorus:  30,
			Potassium:   220,
			PH:          6.2,
			Moisture:    65,
			Temperature: 27,
		})
	}

	publishReading := func(ctx context.Context, payload wire.ReadingPayload) {
		body, err := json.Marshal(payload)
		Expect(err).NotTo(HaveOccurred())

		err = mqChannel.PublishWithContext(
			ctx,
			"",
			readingQueueName,
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				Body:         body,
				DeliveryMode: amqp.Persistent,
			},
		)
		Expect(err).NotTo(HaveOccurred())
	}

	postJSON := func(path string, payload any) *http.Response {
		body, err := json.Marshal(payload)
		Expect(err).NotTo(HaveOccurred())

		resp, err := httpClient.Post(httpBaseURL+path, "application/json", bytes.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	putJSON := func(path string, payload any) *http.Response {
		body, err := json.Marshal(payload)
		Expect(err).NotTo(HaveOccurred())

		req, err := http.NewRequest(http.MethodPut, httpBaseURL+path, bytes.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", "application/json")

		resp, err := httpClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	getHistory := func(fieldID string) []engine.HealthScoreRecord {
		resp, err := httpClient.Get(fmt.Sprintf("%s/api/v1/fields/%s/history", httpBaseURL, fieldID))
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var out struct {
			FieldID string                     `json:"field_id"`
			Records []engine.HealthScoreRecord `json:"records"`
		}
		Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
		Expect(out.FieldID).To(Equal(fieldID))
		return out.Records
	}

	Context("Reading Ingestion over RabbitMQ", func() {
		It("should score a published reading and expose it through the history API", func() {
			ctx := context.Background()
			fieldID := "e2e-field-001"

			publishReading(ctx, healthyReading(fieldID, time.Now()))

			testLogger.Info("published healthy reading", "field_id", fieldID)
			time.Sleep(3 * time.Second)

			records := getHistory(fieldID)
			Expect(records).To(HaveLen(1))
			Expect(records[0].FieldID).To(Equal(fieldID))
			Expect(records[0].Score).To(BeNumerically("~", 100.0, 1e-9))
			Expect(records[0].Stage).To(Equal(engine.PrePlanting))
		})

		It("should keep histories of different fields independent", func() {
			ctx := context.Background()

			publishReading(ctx, healthyReading("e2e-field-002a", time.Now()))
			publishReading(ctx, healthyReading("e2e-field-002b", time.Now()))

			time.Sleep(3 * time.Second)

			Expect(getHistory("e2e-field-002a")).To(HaveLen(1))
			Expect(getHistory("e2e-field-002b")).To(HaveLen(1))
		})

		It("should drop an out-of-order reading without touching history", func() {
			ctx := context.Background()
			fieldID := "e2e-field-003"
			now := time.Now()

			publishReading(ctx, healthyReading(fieldID, now))
			time.Sleep(3 * time.Second)

			// Strictly earlier than the reading already applied.
			publishReading(ctx, healthyReading(fieldID, now.Add(-1*time.Hour)))
			time.Sleep(3 * time.Second)

			records := getHistory(fieldID)
			Expect(records).To(HaveLen(1))
			Expect(records[0].Timestamp.Unix()).To(Equal(now.Unix()))
		})
	})

	Context("HTTP API", func() {
		It("should accept a reading posted directly to the API", func() {
			fieldID := "e2e-field-004"

			resp := postJSON("/api/v1/readings", healthyReading(fieldID, time.Now()))
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var out struct {
				Record         *engine.HealthScoreRecord `json:"record"`
				Recommendation *engine.Recommendation    `json:"recommendation"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
			Expect(out.Record).NotTo(BeNil())
			Expect(out.Record.Score).To(BeNumerically("~", 100.0, 1e-9))
			Expect(out.Recommendation).NotTo(BeNil())
			Expect(out.Recommendation.Maintain).To(BeTrue())
		})

		It("should score against the stage set through the API", func() {
			fieldID := "e2e-field-005"

			resp := putJSON(fmt.Sprintf("/api/v1/fields/%s/stage", fieldID), map[string]string{"stage": "vegetative"})
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			// Nitrogen midway into the vegetative deficient band; every
			// other parameter optimal.
			reading := healthyReading(fieldID, time.Now())
			nitrogen := 112.5
			reading.Nitrogen = &nitrogen

			ingestResp := postJSON("/api/v1/readings", reading)
			defer ingestResp.Body.Close()
			Expect(ingestResp.StatusCode).To(Equal(http.StatusCreated))

			var out struct {
				Record         *engine.HealthScoreRecord `json:"record"`
				Recommendation *engine.Recommendation    `json:"recommendation"`
			}
			Expect(json.NewDecoder(ingestResp.Body).Decode(&out)).To(Succeed())
			Expect(out.Record.Stage).To(Equal(engine.Vegetative))
			Expect(out.Record.Score).To(BeNumerically("<", 100.0))
			Expect(out.Recommendation.Maintain).To(BeFalse())
			Expect(out.Recommendation.Fertilizer).To(Equal("urea"))
		})

		It("should refuse a stage regression", func() {
			fieldID := "e2e-field-006"

			resp := putJSON(fmt.Sprintf("/api/v1/fields/%s/stage", fieldID), map[string]string{"stage": "flowering"})
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			regress := putJSON(fmt.Sprintf("/api/v1/fields/%s/stage", fieldID), map[string]string{"stage": "vegetative"})
			defer regress.Body.Close()
			Expect(regress.StatusCode).To(Equal(http.StatusConflict))

			var out struct {
				Reason string `json:"reason"`
			}
			Expect(json.NewDecoder(regress.Body).Decode(&out)).To(Succeed())
			Expect(out.Reason).To(Equal("stage_regression"))
		})

		It("should report a trend once a field has two scores", func() {
			fieldID := "e2e-field-007"
			now := time.Now()

			trendURL := fmt.Sprintf("%s/api/v1/fields/%s/trend", httpBaseURL, fieldID)

			resp := postJSON("/api/v1/readings", healthyReading(fieldID, now))
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			undefined, err := httpClient.Get(trendURL)
			Expect(err).NotTo(HaveOccurred())
			defer undefined.Body.Close()

			var trend struct {
				Defined bool     `json:"defined"`
				Slope   *float64 `json:"slope"`
			}
			Expect(json.NewDecoder(undefined.Body).Decode(&trend)).To(Succeed())
			Expect(trend.Defined).To(BeFalse())

			resp = postJSON("/api/v1/readings", healthyReading(fieldID, now.Add(time.Minute)))
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			defined, err := httpClient.Get(trendURL)
			Expect(err).NotTo(HaveOccurred())
			defer defined.Body.Close()

			Expect(json.NewDecoder(defined.Body).Decode(&trend)).To(Succeed())
			Expect(trend.Defined).To(BeTrue())
			Expect(trend.Slope).NotTo(BeNil())
			Expect(*trend.Slope).To(BeNumerically("~", 0.0, 1e-9))
		})
	})

	Context("Persistence", func() {
		It("should persist scored readings for warm-up replay", func() {
			ctx := context.Background()
			fieldID := "e2e-field-warm"

			resp := postJSON("/api/v1/readings", healthyReading(fieldID, time.Now()))
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			host, port, user, password, dbname, err := e2econtainersInfo(ctx)
			Expect(err).NotTo(HaveOccurred())

			db, err := server.NewDB(&server.DBConfig{
				Logger:   testLogger,
				Host:     host,
				Port:     port,
				User:     user,
				Password: password,
				DBName:   dbname,
				SSLMode:  "disable",
			})
			Expect(err).NotTo(HaveOccurred())
			defer func() {
				Expect(server.CloseDB(db, testLogger)).To(Succeed())
			}()

			store, err := server.NewStore(db, testLogger, nil)
			Expect(err).NotTo(HaveOccurred())

			records, err := store.WarmupRecords(ctx, 10)
			Expect(err).NotTo(HaveOccurred())

			var warmed []engine.HealthScoreRecord
			for _, rec := range records {
				if rec.FieldID == fieldID {
					warmed = append(warmed, rec)
				}
			}
			Expect(warmed).To(HaveLen(1))
			Expect(warmed[0].Score).To(BeNumerically("~", 100.0, 1e-9))
			Expect(warmed[0].Stage).To(Equal(engine.PrePlanting))
		})
	})
})
