package scanning

import (
	"github.com/google/generative-ai-go/genai"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("candidateText", func() {
	It("joins the text parts of the first candidate", func() {
		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{
				{Content: &genai.Content{Parts: []genai.Part{
					genai.Text(`[{"text": "Hilton`),
					genai.ImageData("png", []byte{1}),
					genai.Text(` Hotel"}]`),
				}}},
				{Content: &genai.Content{Parts: []genai.Part{genai.Text("ignored")}}},
			},
		}

		text, ok := candidateText(resp)
		Expect(ok).To(BeTrue())
		Expect(text).To(Equal(`[{"text": "Hilton Hotel"}]`))
	})

	DescribeTable("reports an empty response",
		func(resp *genai.GenerateContentResponse) {
			_, ok := candidateText(resp)
			Expect(ok).To(BeFalse())
		},
		Entry("nil response", nil),
		Entry("no candidates", &genai.GenerateContentResponse{}),
		Entry("no content", &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}}),
		Entry("no parts", &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: &genai.Content{}}}}),
	)
})

var _ = Describe("NewGemini", func() {
	It("requires an API key", func() {
		g, err := NewGemini("", "")
		Expect(err).To(MatchError(ContainSubstring("api key is required")))
		Expect(g).To(BeNil())
	})
})
