package wire_test

import (
	"encoding/json"
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"pepperfield.dev/soilguard/internal/engine"
	"pepperfield.dev/soilguard/pkg/wire"
)

var _ = Describe("ReadingPayload", func() {
	var raw engine.RawReading

	BeforeEach(func() {
		raw = engine.RawReading{
			FieldID:     "field-1",
			Timestamp:   time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
			Nitrogen:    180,
			Phosphorus:  35,
			Potassium:   220,
			PH:          6.2,
			Moisture:    65,
			Temperature: 27,
		}
	})

	Describe("FromReading", func() {
		It("should carry every parameter and the Unix timestamp", func() {
			payload := wire.FromReading(raw)
			Expect(payload.FieldID).To(Equal("field-1"))
			Expect(payload.Timestamp).To(Equal(raw.Timestamp.Unix()))
			Expect(payload.Nitrogen).To(HaveValue(Equal(180.0)))
			Expect(payload.PH).To(HaveValue(Equal(6.2)))
		})

		It("should leave a NaN parameter absent", func() {
			raw.Potassium = math.NaN()

			payload := wire.FromReading(raw)
			Expect(payload.Potassium).To(BeNil())

			body, err := json.Marshal(payload)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring(`"potassium":null`))
		})
	})

	Describe("Reading", func() {
		It("should restore the raw reading", func() {
			got := wire.FromReading(raw).Reading()
			Expect(got).To(Equal(raw))
		})

		It("should mark an absent parameter as NaN", func() {
			var payload wire.ReadingPayload
			Expect(json.Unmarshal([]byte(`{"field_id":"field-1","timestamp":1748764800,"ph":6.2}`), &payload)).To(Succeed())

			got := payload.Reading()
			Expect(math.IsNaN(got.Nitrogen)).To(BeTrue())
			Expect(got.PH).To(Equal(6.2))
		})

		It("should leave a missing timestamp zero", func() {
			payload := wire.ReadingPayload{FieldID: "field-1"}
			Expect(payload.Reading().Timestamp.IsZero()).To(BeTrue())
		})

		It("should interpret the timestamp as Unix seconds UTC", func() {
			payload := wire.ReadingPayload{FieldID: "field-1", Timestamp: raw.Timestamp.Unix()}
			got := payload.Reading()
			Expect(got.Timestamp.Equal(raw.Timestamp)).To(BeTrue())
			Expect(got.Timestamp.Location()).To(Equal(time.UTC))
		})
	})
})
