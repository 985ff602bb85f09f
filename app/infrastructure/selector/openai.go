package selector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sirupsen/logrus"

	"github.com/mark47B/gh-context-cache/app/domain/entity"
	"github.com/mark47B/gh-context-cache/app/domain/repository"
	"github.com/mark47B/gh-context-cache/app/infrastructure/metrics"
)

const (
	DefaultModel = "gpt-4o-mini"
	// maxListedPaths bounds the prompt size for very large trees.
	maxListedPaths = 2000
)

var errEmptyCompletion = errors.New("no response from model")

const systemPrompt = `You pick the files of a GitHub repository that best answer a question about it.
Reply with a JSON array of file paths taken verbatim from the list you are given, most relevant first.
Reply with the array only.`

type OpenAIConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	MaxFiles int
}

// OpenAISelector asks a chat model to choose files from the tree.
type OpenAISelector struct {
	client   openai.Client
	model    string
	maxFiles int
	log      logrus.FieldLogger
}

var _ repository.FileSelector = (*OpenAISelector)(nil)

func NewOpenAISelector(cfg OpenAIConfig, log logrus.FieldLogger) *OpenAISelector {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxFiles := cfg.MaxFiles
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &OpenAISelector{
		client:   openai.NewClient(opts...),
		model:    model,
		maxFiles: maxFiles,
		log:      log.WithField("component", "openai_selector"),
	}
}

func (s *OpenAISelector) SelectFiles(ctx context.Context, repo *entity.RepoMetadata, tree []entity.TreeEntry, query string) ([]string, error) {
	requestID := uuid.NewString()
	log := s.log.WithFields(logrus.Fields{"request_id": requestID, "model": s.model})

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(buildPrompt(repo, tree, query, s.maxFiles)),
		},
	}

	completion, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		metrics.SourceFetches.WithLabelValues("selection", "error").Inc()
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		metrics.SourceFetches.WithLabelValues("selection", "error").Inc()
		return nil, errEmptyCompletion
	}

	paths, err := parsePaths(completion.Choices[0].Message.Content)
	if err != nil {
		metrics.SourceFetches.WithLabelValues("selection", "error").Inc()
		return nil, err
	}
	metrics.SourceFetches.WithLabelValues("selection", "ok").Inc()

	selected := entity.KeepBlobs(paths, tree, s.maxFiles)
	log.WithFields(logrus.Fields{"proposed": len(paths), "selected": len(selected)}).
		Debug("[OpenAISelector] files selected")
	return selected, nil
}

func buildPrompt(repo *entity.RepoMetadata, tree []entity.TreeEntry, query string, maxFiles int) string {
	var b strings.Builder
	if repo != nil {
		fmt.Fprintf(&b, "Repository: %s\n", repo.FullName)
		if repo.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", repo.Description)
		}
		if repo.Language != "" {
			fmt.Fprintf(&b, "Primary language: %s\n", repo.Language)
		}
	}
	fmt.Fprintf(&b, "Question: %s\n", strings.TrimSpace(query))
	fmt.Fprintf(&b, "Pick at most %d files.\n\nFiles:\n", maxFiles)

	listed := 0
	for _, e := range tree {
		if !e.IsBlob() {
			continue
		}
		if listed == maxListedPaths {
			b.WriteString("...\n")
			break
		}
		b.WriteString(e.Path)
		b.WriteByte('\n')
		listed++
	}
	return b.String()
}

// parsePaths extracts the JSON array from a model reply, tolerating code fences and prose around it.
func parsePaths(content string) ([]string, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("model reply has no JSON array: %q", truncate(content, 120))
	}
	var paths []string
	if err := json.Unmarshal([]byte(content[start:end+1]), &paths); err != nil {
		return nil, fmt.Errorf("decode model reply: %w", err)
	}
	return paths, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
