package generator_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"pepperfield.dev/soilguard/internal/engine"
	"pepperfield.dev/soilguard/pkg/generator"
)

var _ = Describe("SoilSimulator", func() {
	var sim *generator.SoilSimulator

	BeforeEach(func() {
		field := generator.NewField()
		Expect(field).NotTo(BeNil())
		sim = generator.NewSoilSimulator(field)
	})

	Describe("NewField", func() {
		It("should populate the field identity", func() {
			field := generator.NewField()
			Expect(field.FieldID).NotTo(BeEmpty())
			Expect(field.Latitude).To(BeNumerically(">=", -90))
			Expect(field.Latitude).To(BeNumerically("<=", 90))
		})

		It("should generate unique field ids", func() {
			Expect(generator.NewField().FieldID).NotTo(Equal(generator.NewField().FieldID))
		})
	})

	Describe("Next", func() {
		It("should stamp readings with the field id and UTC time", func() {
			t := time.Date(2025, 6, 1, 8, 0, 0, 0, time.FixedZone("UTC+5", 5*3600))
			reading := sim.Next(t)
			Expect(reading.FieldID).To(Equal(sim.Field().FieldID))
			Expect(reading.Timestamp.Location()).To(Equal(time.UTC))
			Expect(reading.Timestamp.Equal(t)).To(BeTrue())
		})

		It("should stay inside the physical bounds", func() {
			t := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
			for i := 0; i < 200; i++ {
				reading := sim.Next(t.Add(time.Duration(i) * time.Minute))
				Expect(reading.Nitrogen).To(BeNumerically(">=", 0))
				Expect(reading.Nitrogen).To(BeNumerically("<=", 2000))
				Expect(reading.PH).To(BeNumerically(">=", 0))
				Expect(reading.PH).To(BeNumerically("<=", 14))
				Expect(reading.Moisture).To(BeNumerically(">=", 0))
				Expect(reading.Moisture).To(BeNumerically("<=", 100))
				Expect(reading.Temperature).To(BeNumerically(">=", -20))
				Expect(reading.Temperature).To(BeNumerically("<=", 60))
			}
		})

		It("should deplete nutrients once the crop is planted", func() {
			sim.Advance()
			Expect(sim.Stage()).To(Equal(engine.Vegetative))

			t := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
			readings := make([]engine.RawReading, 100)
			for i := range readings {
				readings[i] = sim.Next(t.Add(time.Duration(i) * time.Hour))
			}

			mean := func(rs []engine.RawReading) float64 {
				var sum float64
				for _, r := range rs {
					sum += r.Nitrogen
				}
				return sum / float64(len(rs))
			}

			// The per-reading draw-down dominates the noise over 100
			// readings.
			Expect(mean(readings[90:])).To(BeNumerically("<", mean(readings[:10])))
		})
	})

	Describe("Advance", func() {
		It("should walk the stages in lifecycle order", func() {
			Expect(sim.Stage()).To(Equal(engine.PrePlanting))
			sim.Advance()
			Expect(sim.Stage()).To(Equal(engine.Vegetative))
			sim.Advance()
			Expect(sim.Stage()).To(Equal(engine.Flowering))
			sim.Advance()
			Expect(sim.Stage()).To(Equal(engine.Maturity))
		})

		It("should stay at maturity once reached", func() {
			for i := 0; i < 10; i++ {
				sim.Advance()
			}
			Expect(sim.Stage()).To(Equal(engine.Maturity))
		})
	})
})
