package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

// mockRecognizer is a mock implementation of Recognizer
type mockRecognizer struct {
	observations []Observation
	err          error
	calls        int
	closed       bool
}

func (m *mockRecognizer) Recognize(ctx context.Context, img image.Image) ([]Observation, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.observations, nil
}

func (m *mockRecognizer) Close() error {
	m.closed = true
	return nil
}

func testPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("Scanner", func() {
	var (
		recognizer  *mockRecognizer
		scanner     *Scanner
		data        []byte
		contentType string
		result      *Result
		err         error
	)

	BeforeEach(func() {
		recognizer = &mockRecognizer{
			observations: []Observation{
				{Text: "Chipotle", Confidence: 0.9},
				{Text: "Total: $15.00", Confidence: 0.8},
			},
		}
		scanner = NewScanner(recognizer)
		data = testPNG()
		contentType = "image/png"
	})

	JustBeforeEach(func() {
		result, err = scanner.Scan(context.Background(), data, contentType)
	})

	When("the image decodes and recognition succeeds", func() {
		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should extract fields from the recognized lines", func() {
			Expect(*result.Merchant).To(Equal("Chipotle"))
			Expect(result.Amount.String()).To(Equal("15"))
		})
	})

	When("the bytes are not an image", func() {
		BeforeEach(func() {
			data = []byte("definitely not an image")
			contentType = "image/jpeg"
		})

		It("returns an invalid image error", func() {
			Expect(err).To(MatchError(ErrInvalidImage))
		})

		It("should not call the recognizer", func() {
			Expect(recognizer.calls).To(Equal(0))
		})
	})

	When("the upload is empty", func() {
		BeforeEach(func() {
			data = nil
		})

		It("returns an invalid image error", func() {
			Expect(err).To(MatchError(ErrInvalidImage))
		})
	})

	When("a HEIC upload is corrupt", func() {
		BeforeEach(func() {
			data = []byte("\x00\x00\x00\x18ftypheic\x00\x00\x00\x00garbage")
			contentType = "image/heic"
		})

		It("returns an invalid image error", func() {
			Expect(err).To(MatchError(ErrInvalidImage))
		})
	})

	When("the recognizer fails", func() {
		var recognizeErr error

		BeforeEach(func() {
			recognizeErr = errors.New("engine crashed")
			recognizer.err = recognizeErr
		})

		It("propagates the failure", func() {
			Expect(err).To(MatchError(recognizeErr))
			Expect(result).To(BeNil())
		})
	})

	When("no recognizer is configured", func() {
		BeforeEach(func() {
			scanner = NewScanner(Unavailable{})
		})

		It("returns the unavailable error", func() {
			Expect(err).To(MatchError(ErrRecognizerUnavailable))
		})
	})

	Describe("Close", func() {
		It("closes the recognizer", func() {
			Expect(scanner.Close()).To(Succeed())
			Expect(recognizer.closed).To(BeTrue())
		})
	})
})

var _ = Describe("Ollama", func() {
	var (
		server       *ghttp.Server
		ollama       *Ollama
		observations []Observation
		err          error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var newErr error
		ollama, newErr = NewOllama(server.URL(), "qwen2-vl:7b")
		Expect(newErr).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		img := image.NewRGBA(image.Rect(0, 0, 2, 2))
		observations, err = ollama.Recognize(context.Background(), img)
	})

	When("the API returns a line array", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
					Message: ollamaMessage{
						Role:    "assistant",
						Content: `[{"text": "Uber", "confidence": 0.95}, {"text": "Total $18.20", "confidence": 0.85}]`,
					},
					Done: true,
				}),
			))
		})

		It("should return the observations", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(observations).To(HaveLen(2))
			Expect(observations[0].Text).To(Equal("Uber"))
		})
	})

	When("inspecting the request", func() {
		var sent ollamaChatRequest

		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				func(w http.ResponseWriter, r *http.Request) {
					Expect(json.NewDecoder(r.Body).Decode(&sent)).To(Succeed())
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
					Message: ollamaMessage{Role: "assistant", Content: `[]`},
					Done:    true,
				}),
			))
		})

		It("sends the model, prompt and image without streaming", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(observations).To(BeEmpty())
			Expect(sent.Model).To(Equal("qwen2-vl:7b"))
			Expect(sent.Stream).To(BeFalse())
			Expect(sent.Messages).To(HaveLen(2))
			Expect(sent.Messages[0].Role).To(Equal("system"))
			Expect(sent.Messages[1].Content).To(Equal(linePrompt))
			Expect(sent.Messages[1].Images).To(HaveLen(1))
		})
	})

	When("the API returns an error status", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(ContainSubstring("status 500")))
		})
	})
})
