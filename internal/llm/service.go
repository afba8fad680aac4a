package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

const composeSystemPrompt = `Você é um assistente especializado no Plano Diretor (PDUS) e na Lei de Uso e Ocupação do Solo (LUOS) de Porto Alegre.
Responda em português, de forma objetiva, usando somente os trechos fornecidos.
Não informe valores numéricos de parâmetros construtivos (alturas, coeficientes, recuos, taxas); eles são apresentados separadamente.
Se os trechos não responderem à pergunta, diga que não encontrou a informação.`

// maxPassageChars bounds each passage sent as context.
const maxPassageChars = 1500

type Service struct {
	client *Client
	logger *logrus.Logger
}

func NewService(client *Client, logger *logrus.Logger) *Service {
	return &Service{
		client: client,
		logger: logger,
	}
}

// Name identifies the provider and model.
func (s *Service) Name() string {
	return fmt.Sprintf("%s:%s", s.client.Provider(), s.client.Model())
}

// Compose writes contextual prose for question grounded on passages.
func (s *Service) Compose(ctx context.Context, question string, passages []Passage) (string, error) {
	if len(passages) == 0 {
		return "", fmt.Errorf("no passages to compose from")
	}

	var b strings.Builder
	for i, p := range passages {
		content := p.Content
		if len(content) > maxPassageChars {
			content = truncateRunes(content, maxPassageChars)
		}
		fmt.Fprintf(&b, "[%d] (%s)\n%s\n\n", i+1, p.Source, content)
	}
	fmt.Fprintf(&b, "Pergunta: %s", question)

	resp, err := s.client.CompleteWithRetry(ctx, ChatRequest{
		System:   composeSystemPrompt,
		Messages: []Message{{Role: "user", Content: b.String()}},
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"provider": s.client.Provider(),
			"error":    err.Error(),
		}).Warn("LLM composition failed")
		return "", err
	}

	s.logger.WithFields(logrus.Fields{
		"provider":      s.client.Provider(),
		"input_tokens":  resp.InputTokens,
		"output_tokens": resp.OutputTokens,
	}).Debug("LLM composition completed")
	return strings.TrimSpace(resp.Text), nil
}

// Ping issues a minimal request to verify credentials and reachability.
func (s *Service) Ping(ctx context.Context) error {
	_, err := s.client.Complete(ctx, ChatRequest{
		Messages:  []Message{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	})
	return err
}

// truncateRunes cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8Start(s[n]) {
		n--
	}
	return s[:n] + "…"
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
