package engine_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"pepperfield.dev/soilguard/internal/engine"
)

var _ = Describe("Scorer", func() {
	Describe("Weights", func() {
		It("should validate the default equal weighting", func() {
			Expect(engine.DefaultWeights().Validate()).To(Succeed())
		})

		It("should reject weights not summing to 1", func() {
			w := engine.DefaultWeights()
			w[engine.Nitrogen] = 0.5

			err := w.Validate()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("sum"))
		})

		It("should reject a missing parameter", func() {
			w := engine.DefaultWeights()
			delete(w, engine.Temperature)

			err := w.Validate()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("missing"))
		})

		It("should reject a negative weight", func() {
			w := engine.Weights{
				engine.Nitrogen:    0.5,
				engine.Phosphorus:  0.5,
				engine.Potassium:   0.5,
				engine.PH:          -0.5,
				engine.Moisture:    0,
				engine.Temperature: 0,
			}

			err := w.Validate()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("negative"))
		})

		It("should reject an unknown parameter", func() {
			w := engine.DefaultWeights()
			w["calcium"] = 0

			err := w.Validate()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("unknown parameter"))
		})
	})

	Describe("Score", func() {
		var scorer *engine.Scorer

		BeforeEach(func() {
			var err error
			scorer, err = engine.NewScorer(nil)
			Expect(err).NotTo(HaveOccurred())
		})

		allOptimal := func() []engine.DeficiencyResult {
			results := make([]engine.DeficiencyResult, 0, len(engine.Parameters))
			for _, p := range engine.Parameters {
				results = append(results, engine.DeficiencyResult{Parameter: p, Status: engine.StatusOptimal})
			}
			return results
		}

		It("should score a fully optimal assessment 100", func() {
			Expect(scorer.Score(allOptimal())).To(Equal(100.0))
		})

		It("should score a fully critical assessment 0", func() {
			results := allOptimal()
			for i := range results {
				results[i].Status = engine.StatusDeficient
				results[i].Severity = 1
			}
			Expect(scorer.Score(results)).To(BeNumerically("~", 0, 1e-9))
		})

		It("should weight severities into the composite", func() {
			results := allOptimal()
			results[0].Status = engine.StatusDeficient
			results[0].Severity = 0.6

			// One of six parameters at severity 0.6 costs a tenth.
			Expect(scorer.Score(results)).To(BeNumerically("~", 90, 1e-9))
		})

		It("should count excess and deficiency alike", func() {
			deficient := allOptimal()
			deficient[0].Status = engine.StatusDeficient
			deficient[0].Severity = 0.4

			excess := allOptimal()
			excess[0].Status = engine.StatusExcess
			excess[0].Severity = 0.4

			Expect(scorer.Score(excess)).To(Equal(scorer.Score(deficient)))
		})

		It("should honor custom weights", func() {
			custom := engine.Weights{
				engine.Nitrogen:    1,
				engine.Phosphorus:  0,
				engine.Potassium:   0,
				engine.PH:          0,
				engine.Moisture:    0,
				engine.Temperature: 0,
			}
			weighted, err := engine.NewScorer(custom)
			Expect(err).NotTo(HaveOccurred())

			results := allOptimal()
			results[0].Status = engine.StatusDeficient
			results[0].Severity = 0.25

			Expect(weighted.Score(results)).To(BeNumerically("~", 75, 1e-9))
		})

		It("should reject invalid weights at construction", func() {
			_, err := engine.NewScorer(engine.Weights{engine.Nitrogen: 1})
			Expect(err).To(HaveOccurred())
		})
	})
})
