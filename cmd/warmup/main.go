// Command warmup answers the most common questions through the pipeline so their
// answers are cached before traffic arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/chatpd/orchestrator/internal/app"
	"github.com/chatpd/orchestrator/internal/config"
	"github.com/chatpd/orchestrator/internal/services"
	"github.com/chatpd/orchestrator/pkg/utils"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Question is one warm-up entry. Higher priority questions run first.
type Question struct {
	Text     string `yaml:"text"`
	Priority int    `yaml:"priority"`
}

var DefaultQuestions = []Question{
	// Construction parameters by neighborhood
	{Text: "Qual a altura máxima no bairro Centro Histórico?", Priority: 10},
	{Text: "Qual a altura máxima no bairro Petrópolis?", Priority: 10},
	{Text: "Qual o coeficiente de aproveitamento no bairro Moinhos de Vento?", Priority: 9},
	{Text: "Qual a altura máxima no bairro Cidade Baixa?", Priority: 9},
	{Text: "Quais são os parâmetros construtivos do bairro Bom Fim?", Priority: 8},
	{Text: "Qual a taxa de ocupação no bairro Menino Deus?", Priority: 8},
	{Text: "Qual a altura máxima no bairro Tristeza?", Priority: 7},

	// Zones
	{Text: "Quais bairros estão na ZOT 07?", Priority: 7},
	{Text: "Qual a altura máxima da ZOT 08.1?", Priority: 6},

	// Articles
	{Text: "O que diz o art. 1º da LUOS?", Priority: 6},
	{Text: "O que diz o art. 81 da LUOS?", Priority: 5},

	// Concepts
	{Text: "O que é outorga onerosa do direito de construir?", Priority: 5},
	{Text: "O que é coeficiente de aproveitamento?", Priority: 5},
	{Text: "O que são as Zonas de Ordenamento Territorial?", Priority: 4},
	{Text: "O que é o regime urbanístico?", Priority: 4},
	{Text: "O que são áreas de interesse cultural?", Priority: 3},
}

var (
	dryRun       = flag.Bool("dry-run", false, "Print the questions without answering them")
	verbose      = flag.Bool("verbose", false, "Enable verbose logging")
	limit        = flag.Int("limit", 0, "Limit number of questions (0 = all)")
	delay        = flag.Duration("delay", 500*time.Millisecond, "Delay between questions")
	questionFile = flag.String("file", "", "YAML file with a list of {text, priority} questions")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Debug("No .env file found")
	}

	logger := utils.GetLogger()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	questions := DefaultQuestions
	if *questionFile != "" {
		loaded, err := LoadQuestions(*questionFile)
		if err != nil {
			logger.WithError(err).Fatal("Failed to load questions")
		}
		questions = loaded
	}
	questions = Prioritize(questions, *limit)

	if *dryRun {
		for i, q := range questions {
			fmt.Printf("%2d. [%d] %s\n", i+1, q.Priority, q.Text)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	if !cfg.Cache.Enabled || cfg.Cache.Backend == "memory" {
		logger.Warn("Cache is disabled or in-process, warm-up answers will not outlive this run")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize pipeline")
	}
	defer application.Close()

	w := NewWarmer(application.Orchestrator, *delay, logger)
	report := w.Run(ctx, questions)
	logger.WithFields(logrus.Fields{
		"answered":   report.Answered,
		"cached":     report.Cached,
		"uncachable": report.Uncachable,
		"failed":     report.Failed,
	}).Info("Warm-up completed")
}

// LoadQuestions reads a YAML question list.
func LoadQuestions(path string) ([]Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var questions []Question
	if err := yaml.Unmarshal(data, &questions); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("%s has no questions", path)
	}
	return questions, nil
}

// Prioritize returns the questions sorted by descending priority, keeping file
// order among equals, cut to limit when limit > 0.
func Prioritize(questions []Question, limit int) []Question {
	out := make([]Question, len(questions))
	copy(out, questions)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// Answerer is the part of the orchestrator the warmer uses.
type Answerer interface {
	Answer(ctx context.Context, query string, opts services.Options) (*services.Result, error)
}

type Warmer struct {
	answerer Answerer
	delay    time.Duration
	logger   *logrus.Logger
}

// Report counts warm-up outcomes. Cached counts questions that were already cached.
type Report struct {
	Answered   int
	Cached     int
	Uncachable int
	Failed     int
}

func NewWarmer(answerer Answerer, delay time.Duration, logger *logrus.Logger) *Warmer {
	return &Warmer{answerer: answerer, delay: delay, logger: logger}
}

// Run answers each question in order, stopping early when ctx is done.
func (w *Warmer) Run(ctx context.Context, questions []Question) Report {
	var report Report
	for i, q := range questions {
		if ctx.Err() != nil {
			break
		}

		entry := w.logger.WithFields(logrus.Fields{
			"question": q.Text,
			"priority": q.Priority,
			"progress": fmt.Sprintf("%d/%d", i+1, len(questions)),
		})

		result, err := w.answerer.Answer(ctx, q.Text, services.Options{})
		switch {
		case err != nil:
			report.Failed++
			entry.WithError(err).Error("Failed to answer question")
		case result.CacheHit:
			report.Cached++
			entry.Debug("Already cached")
		case !result.Answer.Mode.Cacheable() || len(result.Issues) > 0:
			report.Uncachable++
			entry.WithFields(logrus.Fields{
				"mode":   result.Answer.Mode,
				"issues": len(result.Issues),
			}).Warn("Answer was not cached")
		default:
			report.Answered++
			entry.WithFields(logrus.Fields{
				"mode":       result.Answer.Mode,
				"confidence": result.Answer.Confidence,
			}).Info("Question answered")
		}

		if w.delay > 0 && i < len(questions)-1 {
			select {
			case <-ctx.Done():
			case <-time.After(w.delay):
			}
		}
	}
	return report
}
