package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/caselex/precedent-engine/internal/core/domain"
	"github.com/caselex/precedent-engine/internal/core/ports"
)

const (
	defaultMaxInflight      = 16
	defaultRetrievalTimeout = 3 * time.Second
	defaultSynthesisTimeout = 45 * time.Second

	deltaChunkRunes = 80
)

// AskConfig bounds a single question end to end. Retrieval and synthesis
// run under independent deadlines so a slow generator cannot eat the
// retrieval budget and vice versa.
type AskConfig struct {
	MaxInflight      int
	RetrievalTimeout time.Duration
	SynthesisTimeout time.Duration
	RerankTopK       int
}

func (c *AskConfig) normalize() {
	if c.MaxInflight <= 0 {
		c.MaxInflight = defaultMaxInflight
	}
	if c.RetrievalTimeout <= 0 {
		c.RetrievalTimeout = defaultRetrievalTimeout
	}
	if c.SynthesisTimeout <= 0 {
		c.SynthesisTimeout = defaultSynthesisTimeout
	}
	if c.RerankTopK <= 0 {
		c.RerankTopK = defaultRerankTopK
	}
}

// AskUseCase orchestrates a question through retrieval, reranking and
// synthesis, streaming stage transitions and verified text to the sink.
// Admission is non-blocking: when MaxInflight questions are already in
// flight the call fails immediately instead of queueing.
type AskUseCase struct {
	retriever   *RetrieveUseCase
	synthesizer *SynthesizeUseCase
	answers     ports.AnswerStore
	cfg         AskConfig
	logger      *slog.Logger
	inflight    chan struct{}
}

func NewAskUseCase(retriever *RetrieveUseCase, synthesizer *SynthesizeUseCase, answers ports.AnswerStore, cfg AskConfig, logger *slog.Logger) *AskUseCase {
	cfg.normalize()
	if logger == nil {
		logger = slog.Default()
	}
	return &AskUseCase{
		retriever:   retriever,
		synthesizer: synthesizer,
		answers:     answers,
		cfg:         cfg,
		logger:      logger,
		inflight:    make(chan struct{}, cfg.MaxInflight),
	}
}

// Ask answers a question against the workspace corpus. The sink receives
// stage events, text deltas and the final answer event; it may be nil when
// the caller only wants the returned answer. A stage deadline produces a
// refusal answer, not an error; errors are reserved for invalid input,
// overload and infrastructure failures.
func (uc *AskUseCase) Ask(ctx context.Context, req domain.AskRequest, sink func(domain.AskEvent)) (*domain.Answer, error) {
	req.WorkspaceID = strings.TrimSpace(req.WorkspaceID)
	req.Question = strings.TrimSpace(req.Question)
	if req.WorkspaceID == "" || req.Question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ask", fmt.Errorf("workspace and question are required"))
	}

	select {
	case uc.inflight <- struct{}{}:
		defer func() { <-uc.inflight }()
	default:
		return nil, domain.WrapError(domain.ErrOverloaded, "ask", fmt.Errorf("inflight limit %d reached", cap(uc.inflight)))
	}

	if strings.TrimSpace(req.SessionID) == "" {
		req.SessionID = uuid.NewString()
	}
	session, err := uc.answers.EnsureSession(ctx, req.WorkspaceID, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("ensure session: %w", err)
	}

	emit := safeSink(sink)
	emit(domain.AskEvent{Type: domain.AskEventStage, Stage: domain.StateRetrieving})

	ranked, err := uc.retrieveStage(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ask canceled: %w", ctx.Err())
		}
		if isStageTimeout(err) {
			uc.logger.Warn("ask_stage_timeout", "stage", "retrieval", "workspace_id", req.WorkspaceID)
			return uc.finish(ctx, req, session, refusalAnswer(domain.RefusalRetrievalTimeout), emit)
		}
		return nil, fmt.Errorf("retrieve evidence: %w", err)
	}

	answer, err := uc.synthesizeStage(ctx, req.Question, ranked, emit)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ask canceled: %w", ctx.Err())
		}
		if isStageTimeout(err) {
			uc.logger.Warn("ask_stage_timeout", "stage", "synthesis", "workspace_id", req.WorkspaceID)
			return uc.finish(ctx, req, session, refusalAnswer(domain.RefusalSynthesisTimeout), emit)
		}
		return nil, err
	}
	return uc.finish(ctx, req, session, answer, emit)
}

// GetSession returns a session and its answers, newest first.
func (uc *AskUseCase) GetSession(ctx context.Context, sessionID string) (*domain.QASession, []domain.Answer, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, nil, domain.WrapError(domain.ErrInvalidInput, "get session", fmt.Errorf("session id is required"))
	}
	session, err := uc.answers.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("get session: %w", err)
	}
	answers, err := uc.answers.ListAnswers(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("list answers: %w", err)
	}
	return session, answers, nil
}

func (uc *AskUseCase) retrieveStage(ctx context.Context, req domain.AskRequest) ([]domain.RankedPassage, error) {
	retrievalCtx, cancel := context.WithTimeout(ctx, uc.cfg.RetrievalTimeout)
	defer cancel()
	candidates, err := uc.retriever.Retrieve(retrievalCtx, req.WorkspaceID, req.Question)
	if err != nil {
		return nil, err
	}
	return rerankCandidates(candidates, uc.cfg.RerankTopK), nil
}

func (uc *AskUseCase) synthesizeStage(ctx context.Context, question string, ranked []domain.RankedPassage, emit func(domain.AskEvent)) (*domain.Answer, error) {
	synthesisCtx, cancel := context.WithTimeout(ctx, uc.cfg.SynthesisTimeout)
	defer cancel()
	return uc.synthesizer.Synthesize(synthesisCtx, question, ranked, emit)
}

// finish stamps identity onto the answer, persists it and streams the
// terminal stage, the text deltas and the answer event in that order.
func (uc *AskUseCase) finish(ctx context.Context, req domain.AskRequest, session *domain.QASession, answer *domain.Answer, emit func(domain.AskEvent)) (*domain.Answer, error) {
	answer.ID = uuid.NewString()
	answer.SessionID = session.ID
	answer.WorkspaceID = req.WorkspaceID
	answer.Question = req.Question
	answer.CreatedAt = time.Now().UTC()

	if err := uc.answers.SaveAnswer(ctx, answer); err != nil {
		return nil, fmt.Errorf("save answer: %w", err)
	}

	terminal := domain.StateRefused
	if answer.Grounded {
		terminal = domain.StateGrounded
	}
	emit(domain.AskEvent{Type: domain.AskEventStage, Stage: terminal})
	for _, chunk := range chunkRunes(answer.Text, deltaChunkRunes) {
		emit(domain.AskEvent{Type: domain.AskEventDelta, Delta: chunk})
	}
	emit(domain.AskEvent{Type: domain.AskEventAnswer, Answer: answer})
	return answer, nil
}

func isStageTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func safeSink(sink func(domain.AskEvent)) func(domain.AskEvent) {
	if sink == nil {
		return func(domain.AskEvent) {}
	}
	return sink
}

func chunkRunes(text string, size int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	chunks := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
