package ai

import (
	"context"
	"fmt"
	"log"
	"strings"

	"sentinal/internal/model"
)

const (
	defaultSentiment = "Neutral"
	defaultSummary   = "No summary available."
	failedSummary    = "Could not analyze reply."
)

// Sentiments the classifier is asked to choose from.
var Sentiments = []string{"Interested", "Not Interested", "Neutral", "Needs Info"}

// ReplyClassifier labels reply text. With no provider every reply is neutral.
type ReplyClassifier struct {
	provider Provider
}

func NewReplyClassifier(p Provider) *ReplyClassifier {
	return &ReplyClassifier{provider: p}
}

func classifyPrompt(reply string) string {
	return fmt.Sprintf(`Analyze this email reply from a potential client:
"%s"

Provide a very brief summary and the sentiment (%s).
Return as a simple string format: "Sentiment: [Value] | Summary: [Brief Summary]"`,
		reply, strings.Join(Sentiments, ", "))
}

// Classify never fails. Provider errors are logged and replaced by a neutral result.
func (c *ReplyClassifier) Classify(ctx context.Context, text string) model.Classification {
	if c == nil || c.provider == nil {
		log.Printf("[AI] %v: no provider configured", model.ErrClassificationFailed)
		return model.Classification{Sentiment: defaultSentiment, Summary: failedSummary}
	}
	out, err := c.provider.Generate(ctx, classifyPrompt(text), GenerateOptions{})
	if err != nil {
		log.Printf("[AI] %v: %v", model.ErrClassificationFailed, err)
		return model.Classification{Sentiment: defaultSentiment, Summary: failedSummary}
	}
	return ParseClassification(out)
}

// ParseClassification reads "Sentiment: X | Summary: Y". Missing parts get defaults.
func ParseClassification(s string) model.Classification {
	parts := strings.SplitN(s, "|", 3)
	c := model.Classification{Sentiment: defaultSentiment, Summary: defaultSummary}
	if v := strings.TrimSpace(strings.Replace(parts[0], "Sentiment:", "", 1)); v != "" {
		c.Sentiment = v
	}
	if len(parts) > 1 {
		if v := strings.TrimSpace(strings.Replace(parts[1], "Summary:", "", 1)); v != "" {
			c.Summary = v
		}
	}
	return c
}
