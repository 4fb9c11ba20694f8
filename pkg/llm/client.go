package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/clinical"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/shared/circuitbreaker"
	sharederrors "github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/shared/errors"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/shared/logging"
	sharedmath "github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/shared/math"
)

// Config selects and authenticates an LLM provider. It mirrors
// internal/config.LLMConfig's provider fields. NewClient passes
// ExtractorModel to the openai and anthropic providers for every call;
// IntentModel is carried but not read.
type Config struct {
	Provider         string
	OpenAIAPIKey     string
	AnthropicAPIKey  string
	AWSRegion        string
	BedrockModelID   string
	IntentModel      string
	ExtractorModel   string
	MaxMalformedJSON int
}

type client struct {
	completer        completer
	provider         string
	maxMalformedJSON int
	breakers         *circuitbreaker.Manager
	validate         *validator.Validate
	log              *logrus.Logger
}

// NewClient builds the Gateway for the configured provider. It validates
// the provider name up front and returns an error rather than a nil
// interface wrapping a nil pointer.
func NewClient(ctx context.Context, cfg Config, log *logrus.Logger) (Gateway, error) {
	var comp completer
	var err error

	switch cfg.Provider {
	case "openai":
		comp, err = newOpenAICompleter(cfg.OpenAIAPIKey, cfg.ExtractorModel)
	case "anthropic":
		comp, err = newAnthropicCompleter(cfg.AnthropicAPIKey, cfg.ExtractorModel)
	case "bedrock":
		comp, err = newBedrockCompleter(ctx, cfg.AWSRegion, cfg.BedrockModelID)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	maxRetries := cfg.MaxMalformedJSON
	if maxRetries <= 0 {
		maxRetries = 2
	}

	settings := gobreaker.Settings{
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &client{
		completer:        comp,
		provider:         cfg.Provider,
		maxMalformedJSON: maxRetries,
		breakers:         circuitbreaker.NewManager(settings),
		validate:         validator.New(),
		log:              log,
	}, nil
}

// callJSON runs name through the provider's breaker, retrying up to the
// configured budget when the response fails to parse as JSON or fails
// struct validation,
func callJSON[T any](ctx context.Context, c *client, name, systemPrompt, userPrompt string) (T, error) {
	var zero T
	fields := logging.LLMFields(name, c.provider, "")

	result, err := circuitbreaker.Execute(ctx, c.breakers, "llm:"+c.provider, "llm:"+name, func(ctx context.Context) (T, error) {
		var lastErr error
		for attempt := 0; attempt <= c.maxMalformedJSON; attempt++ {
			raw, callErr := c.completer.Complete(ctx, systemPrompt, userPrompt)
			if callErr != nil {
				return zero, callErr
			}

			var parsed T
			if jsonErr := json.Unmarshal([]byte(extractJSON(raw)), &parsed); jsonErr != nil {
				lastErr = jsonErr
				c.log.WithFields(fields.Error(jsonErr).ToLogrus()).Warn("llm returned malformed json, retrying")
				continue
			}
			if valErr := c.validate.Struct(parsed); valErr != nil {
				lastErr = valErr
				c.log.WithFields(fields.Error(valErr).ToLogrus()).Warn("llm response failed schema validation, retrying")
				continue
			}
			return parsed, nil
		}
		return zero, lastErr
	})
	if err != nil {
		return zero, &sharederrors.LLMUnavailable{Call: name, Cause: err}
	}
	return result, nil
}

// extractJSON trims prose a model sometimes wraps its JSON answer in,
// keeping only the outermost {...} span.
func extractJSON(raw string) string {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start == -1 || end == -1 || end < start {
		return raw
	}
	return raw[start: end+1]
}

// judgeConfidenceThreshold is the confidence below which IntentClassify
// asks a second, independently phrased judge before routing on the
// answer.
const judgeConfidenceThreshold = 0.5

func (c *client) IntentClassify(ctx context.Context, text string, state CompactState) (IntentResult, error) {
	stateJSON, _ := json.Marshal(state)
	system := "Você classifica mensagens de cuidadores em um dos intents: escala, clinico, operacional, finalizar, auxiliar, indefinido. Responda apenas em JSON: {\"intent\": string, \"confidence\": number}."
	user := fmt.Sprintf("Estado atual: %s\nMensagem: %s", stateJSON, text)
	result, err := callJSON[IntentResult](ctx, c, "intent_classify", system, user)
	if err != nil {
		return result, err
	}

	// Secondary judge: agreement averages the two confidences,
	// disagreement keeps whichever read was more certain. A judge
	// failure is ignored — the first classification stands.
	if result.Confidence < judgeConfidenceThreshold {
		judgeSystem := "Você revisa a classificação de intenção de uma mensagem de cuidador. Classifique de forma independente em um dos intents: escala, clinico, operacional, finalizar, auxiliar, indefinido. Responda apenas em JSON: {\"intent\": string, \"confidence\": number}."
		second, judgeErr := callJSON[IntentResult](ctx, c, "intent_judge", judgeSystem, user)
		if judgeErr == nil {
			if second.Intent == result.Intent {
				result.Confidence = sharedmath.Mean([]float64{result.Confidence, second.Confidence})
			} else if second.Confidence > result.Confidence {
				result = second
			}
		}
	}

	return result, nil
}

func (c *client) ConfirmationClassify(ctx context.Context, text string) (Confirmation, error) {
	system := "Classifique a resposta do cuidador como confirmação. Responda apenas em JSON: {\"confirmation\": \"yes\"|\"no\"|\"cancel\"|\"unclear\"}."
	user := fmt.Sprintf("Mensagem: %s", text)

	type wire struct {
		Confirmation Confirmation `json:"confirmation" validate:"required,oneof=yes no cancel unclear"`
	}
	result, err := callJSON[wire](ctx, c, "confirmation_classify", system, user)
	if err != nil {
		return "", err
	}
	return result.Confirmation, nil
}

func (c *client) OperationalNoteDetect(ctx context.Context, text string) (OperationalNoteResult, error) {
	system := "Detecte se a mensagem descreve um evento operacional urgente (suprimentos, infraestrutura, visitantes), não conteúdo clínico. Responda apenas em JSON: {\"isOperational\": bool, \"urgency\": \"low\"|\"normal\"|\"high\"}."
	user := fmt.Sprintf("Mensagem: %s", text)
	return callJSON[OperationalNoteResult](ctx, c, "operational_note_detect", system, user)
}

func (c *client) ClinicalExtract(ctx context.Context, text string) (ClinicalExtractResult, error) {
	system := "Extraia sinais vitais e nota clínica da mensagem. Responda apenas em JSON: " +
		`{"PA": "SSSxDDD"|null, "HR": int|null, "RR": int|null, "SatO2": int|null, "Temp": float|null, "respiratoryMode": string|null, "clinicalNote": string|null, "warnings": [string]}`
	user := fmt.Sprintf("Mensagem: %s", text)

	wire, err := callJSON[clinicalExtractWire](ctx, c, "clinical_extract", system, user)
	if err != nil {
		return ClinicalExtractResult{}, err
	}

	raw := clinical.RawExtraction{}
	if wire.PA != nil {
		raw.PA = *wire.PA
	}
	raw.HR = wire.HR
	raw.RR = wire.RR
	raw.SatO2 = wire.SatO2
	raw.Temp = wire.Temp
	if wire.RespiratoryMode != nil {
		raw.RespiratoryMode = *wire.RespiratoryMode
	}
	if wire.ClinicalNote != nil {
		raw.ClinicalNote = *wire.ClinicalNote
	}

	return ClinicalExtractResult{Raw: raw, Warnings: wire.Warnings}, nil
}

func (c *client) FinalizationTopicExtract(ctx context.Context, text string, alreadyCollected FinalizationTopicsResult) (FinalizationTopicsResult, error) {
	collectedJSON, _ := json.Marshal(alreadyCollected)
	system := "Extraia os tópicos de finalização de plantão ainda não preenchidos (alimentacao, evacuacoes, sono, humor, medicacoes, atividades, adicional_clinico, adicional_administrativo). Nunca invente valores; deixe em branco o que não foi mencionado. Responda apenas em JSON com essas 8 chaves."
	user := fmt.Sprintf("Já coletado: %s\nMensagem: %s", collectedJSON, text)
	return callJSON[FinalizationTopicsResult](ctx, c, "finalization_topic_extract", system, user)
}

func (c *client) GenerateReply(ctx context.Context, state CompactState, outcomeCode, languageHint string) (string, error) {
	stateJSON, _ := json.Marshal(state)
	system := "Você gera a resposta final (em português do Brasil) para um cuidador de home care, com base no estado da sessão e no código de resultado do subgrafo. Nunca mencione finalizar o plantão se finishReminderSent for falso. Nunca peça sinais vitais já presentes no estado. Nunca invente dados. Responda apenas em JSON: {\"reply\": string}."
	user := fmt.Sprintf("Estado: %s\nCódigo de resultado: %s\nIdioma: %s", stateJSON, outcomeCode, languageHint)

	type wire struct {
		Reply string `json:"reply" validate:"required"`
	}
	result, err := callJSON[wire](ctx, c, "generate_reply", system, user)
	if err != nil {
		return "", err
	}
	return result.Reply, nil
}
