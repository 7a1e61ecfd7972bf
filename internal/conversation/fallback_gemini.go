package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// FallbackResponder writes a free-form reply for initial messages that match
// no intent. It never changes the stage.
type FallbackResponder interface {
	Respond(ctx context.Context, message string) (string, error)
}

const fallbackSystemPrompt = `أنت مساعد حجز ذكي لاستراحة السلام في ليبيا. أنت تتحدث بأسلوب مهذب وودود ولكن محترف.
تساعد العملاء في حجز الاستراحة والاستعلام عن الحجوزات وإلغائها.

معلومات مهمة:
- سعر الحجز هو %d دينار ليبي لليوم الواحد
- يجب جمع اسم العميل ورقم هاتفه وبريده الإلكتروني لإتمام الحجز
- بعد تأكيد الحجز، يتم إرسال رمز تحقق من 4 أرقام عبر البريد الإلكتروني
- بعد التحقق، يحصل العميل على رمز سري من 6 أرقام للاستعلام عن الحجز أو إلغائه

إرشادات للرد:
- كن مختصراً ومباشراً، لا تكتب أكثر من 3 أسطر
- استخدم لغة عربية فصحى بسيطة
- إذا كان المستخدم يريد الحجز، اطلب منه أن يكتب "أريد حجز استراحة"
- إذا كان يستعلم عن حجز، اطلب منه أن يكتب "استعلام عن حجزي"
- إذا كان يريد إلغاء حجز، اطلب منه أن يكتب "إلغاء حجز"
- لا تؤكد أي حجز ولا تخترع رموزاً أو تواريخ متاحة`

// GeminiResponder answers unrecognized messages with Gemini.
type GeminiResponder struct {
	client  *genai.Client
	modelID string
	system  string
}

// NewGeminiResponder creates a Gemini-backed fallback responder.
func NewGeminiResponder(ctx context.Context, apiKey, modelID string, price int) (*GeminiResponder, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("conversation: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to create gemini client: %w", err)
	}

	return &GeminiResponder{
		client:  client,
		modelID: modelID,
		system:  fmt.Sprintf(fallbackSystemPrompt, price),
	}, nil
}

// Respond sends one message to Gemini and returns the text of the first candidate.
func (g *GeminiResponder) Respond(ctx context.Context, message string) (string, error) {
	model := g.client.GenerativeModel(g.modelID)
	model.SetTemperature(0.7)
	model.SetMaxOutputTokens(500)
	model.SystemInstruction = genai.NewUserContent(genai.Text(g.system))

	resp, err := model.GenerateContent(ctx, genai.Text(message))
	if err != nil {
		return "", fmt.Errorf("conversation: gemini completion failed: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", errors.New("conversation: gemini returned no candidates")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", errors.New("conversation: gemini returned empty content")
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return strings.TrimSpace(text.String()), nil
}

// Close releases the underlying client.
func (g *GeminiResponder) Close() error {
	if g == nil || g.client == nil {
		return nil
	}
	return g.client.Close()
}
