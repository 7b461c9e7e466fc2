package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"

	types "github.com/quillbase/quillbase-backend/internal/domain"
	"github.com/quillbase/quillbase-backend/internal/embed"
	"github.com/quillbase/quillbase-backend/internal/pkg/dbctx"
	"github.com/quillbase/quillbase-backend/internal/platform/logger"
	"github.com/quillbase/quillbase-backend/internal/vector"
	"github.com/quillbase/quillbase-backend/internal/vector/memory"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

// ---------------- fakes ----------------

type fakeLLM struct {
	generateText func(system, user string) (string, error)
	generateJSON func(system, user string) (map[string]any, error)
	jsonCalls    int
}

func (f *fakeLLM) Embed(_ context.Context, _ []string) ([][]float32, error) {
	return nil, errors.New("not used")
}

func (f *fakeLLM) GenerateText(_ context.Context, system, user string) (string, error) {
	if f.generateText == nil {
		return "", errors.New("no text handler")
	}
	return f.generateText(system, user)
}

func (f *fakeLLM) GenerateJSON(_ context.Context, system, user, _ string, _ map[string]any) (map[string]any, error) {
	f.jsonCalls++
	if f.generateJSON == nil {
		return nil, errors.New("no json handler")
	}
	return f.generateJSON(system, user)
}

type stubChatbotRepo struct {
	bots map[uuid.UUID]*types.Chatbot
}

func (r *stubChatbotRepo) Create(_ dbctx.Context, bot *types.Chatbot) error {
	r.bots[bot.ID] = bot
	return nil
}

func (r *stubChatbotRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*types.Chatbot, error) {
	return r.bots[id], nil
}

func (r *stubChatbotRepo) List(_ dbctx.Context) ([]*types.Chatbot, error) { return nil, nil }

func (r *stubChatbotRepo) UpdateFields(_ dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	bot, ok := r.bots[id]
	if !ok {
		return fmt.Errorf("chatbot %s not found", id)
	}
	if v, ok := updates["status"]; ok {
		bot.Status = v.(string)
	}
	return nil
}

func (r *stubChatbotRepo) Delete(_ dbctx.Context, _ uuid.UUID) error { return nil }

type stubChunkRepo struct {
	rows map[string]*types.KnowledgeChunk
}

func (r *stubChunkRepo) CreateMany(_ dbctx.Context, rows []*types.KnowledgeChunk) (int64, error) {
	for _, row := range rows {
		r.rows[row.ChunkID] = row
	}
	return int64(len(rows)), nil
}

func (r *stubChunkRepo) GetByID(_ dbctx.Context, chunkID string) (*types.KnowledgeChunk, error) {
	return r.rows[chunkID], nil
}

func (r *stubChunkRepo) GetLiveByChunkIDs(_ dbctx.Context, chatbotID uuid.UUID, ids []string) ([]*types.KnowledgeChunk, error) {
	var out []*types.KnowledgeChunk
	for _, id := range ids {
		row, ok := r.rows[id]
		if ok && row.ChatbotID == chatbotID && row.DeletedAt == nil {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *stubChunkRepo) ListActiveBySource(_ dbctx.Context, _ uuid.UUID) ([]*types.KnowledgeChunk, error) {
	return nil, nil
}

func (r *stubChunkRepo) SoftDeleteActiveBySource(_ dbctx.Context, _ uuid.UUID) ([]string, error) {
	return nil, nil
}

func (r *stubChunkRepo) HardDelete(_ dbctx.Context, _ string) error { return nil }

func (r *stubChunkRepo) CountLiveBySource(_ dbctx.Context, _ uuid.UUID) (int64, error) {
	return 0, nil
}

type stubConversationRepo struct {
	mu       sync.Mutex
	convs    map[uuid.UUID]*types.Conversation
	messages map[uuid.UUID][]*types.ChatMessage
}

func newStubConversationRepo() *stubConversationRepo {
	return &stubConversationRepo{
		convs:    map[uuid.UUID]*types.Conversation{},
		messages: map[uuid.UUID][]*types.ChatMessage{},
	}
}

func (r *stubConversationRepo) Create(_ dbctx.Context, conv *types.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.convs[conv.ID] = conv
	return nil
}

func (r *stubConversationRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*types.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.convs[id], nil
}

func (r *stubConversationRepo) AppendMessage(_ dbctx.Context, msg *types.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[msg.ConversationID] = append(r.messages[msg.ConversationID], msg)
	return nil
}

func (r *stubConversationRepo) ListMessages(_ dbctx.Context, conversationID uuid.UUID, limit int) ([]*types.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// ---------------- fixture ----------------

type chatEnv struct {
	bot      *types.Chatbot
	chunks   *stubChunkRepo
	convs    *stubConversationRepo
	store    *memory.Store
	embedder *embed.DeterministicProvider
	llm      *fakeLLM
	svc      ChatService
}

func newChatEnv(t *testing.T, llm *fakeLLM) *chatEnv {
	t.Helper()
	return newChatEnvWithConfig(t, llm, ChatConfig{})
}

func newChatEnvWithConfig(t *testing.T, llm *fakeLLM, cfg ChatConfig) *chatEnv {
	t.Helper()
	bot := &types.Chatbot{
		ID:     uuid.New(),
		Name:   "docs-bot",
		Status: types.ChatbotStatusActive,
	}
	env := &chatEnv{
		bot:      bot,
		chunks:   &stubChunkRepo{rows: map[string]*types.KnowledgeChunk{}},
		convs:    newStubConversationRepo(),
		store:    memory.NewStore(),
		embedder: embed.NewDeterministicProvider(),
		llm:      llm,
	}
	svc, err := NewChatService(
		newTestLogger(t),
		&stubChatbotRepo{bots: map[uuid.UUID]*types.Chatbot{bot.ID: bot}},
		env.chunks,
		env.convs,
		env.embedder,
		env.store,
		llm,
		cfg,
	)
	if err != nil {
		t.Fatalf("NewChatService: %v", err)
	}
	env.svc = svc
	return env
}

// seedChunk inserts a live manifest row and its vector into the store.
func (env *chatEnv) seedChunk(t *testing.T, i int, text string) *types.KnowledgeChunk {
	t.Helper()
	chunk := &types.KnowledgeChunk{
		ChunkID:        fmt.Sprintf("chunk-%d", i),
		ChatbotID:      env.bot.ID,
		SourceID:       uuid.New(),
		SourceType:     types.ChunkSourceTypeText,
		Title:          fmt.Sprintf("Doc %d", i),
		SourceRevision: "rev-1",
		StartOffset:    0,
		EndOffset:      len(text),
		Text:           text,
	}
	env.chunks.rows[chunk.ChunkID] = chunk

	vec, err := env.embedder.Embed(context.Background(), text)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	err = env.store.Upsert(context.Background(), env.bot.ID.String(), []vector.Vector{{
		ID:     chunk.ChunkID,
		Values: vec,
		Metadata: vector.ChunkMetadata{
			ChatbotID:      chunk.ChatbotID.String(),
			ChunkID:        chunk.ChunkID,
			SourceID:       chunk.SourceID.String(),
			SourceType:     chunk.SourceType,
			SourceRevision: chunk.SourceRevision,
			StartOffset:    chunk.StartOffset,
			EndOffset:      chunk.EndOffset,
		},
	}})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	return chunk
}

func identityRerank(n int) func(string, string) (string, error) {
	return func(string, string) (string, error) {
		out := ""
		for i := 1; i <= n; i++ {
			if i > 1 {
				out += ","
			}
			out += fmt.Sprintf("%d", i)
		}
		return out, nil
	}
}

// allowedIDsFromPrompt pulls the whitelist line out of the answer prompt.
func allowedIDsFromPrompt(user string) []string {
	const marker = "Allowed chunk ids: "
	start := strings.Index(user, marker)
	if start < 0 {
		return nil
	}
	rest := user[start+len(marker):]
	if end := strings.Index(rest, "\n"); end >= 0 {
		rest = rest[:end]
	}
	var ids []string
	for _, part := range strings.Split(rest, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, part)
		}
	}
	return ids
}

// ---------------- tests ----------------

func TestAskRefusesBelowRelevanceFloor(t *testing.T) {
	llm := &fakeLLM{generateText: identityRerank(6)}
	env := newChatEnv(t, llm)
	dbc := dbctx.Context{Ctx: context.Background()}

	for i := 0; i < 6; i++ {
		env.seedChunk(t, i, fmt.Sprintf("Shipping policy paragraph %d about freight and customs.", i))
	}

	// Deterministic embeddings of unrelated texts are near-orthogonal, so
	// the top similarity lands well under the floor.
	resp, err := env.svc.Ask(dbc, env.bot.ID, nil, "completely unrelated question about quantum chromodynamics")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !resp.Unknown {
		t.Fatal("expected unknown=true below the relevance floor")
	}
	if len(resp.Claims) != 0 || len(resp.Sources) != 0 {
		t.Fatalf("refusal must carry no claims/sources, got %d/%d", len(resp.Claims), len(resp.Sources))
	}
	if resp.Reason == "" || resp.DebugID == "" {
		t.Fatal("refusal must carry a reason and debug id")
	}
	if llm.jsonCalls != 0 {
		t.Fatalf("answer call invoked %d times on the refusal path, want 0", llm.jsonCalls)
	}

	// Both turns are persisted even on refusal.
	convID, err := uuid.Parse(resp.ConversationID)
	if err != nil {
		t.Fatalf("conversation id: %v", err)
	}
	msgs, err := env.convs.ListMessages(dbc, convID, 0)
	if err != nil || len(msgs) != 2 {
		t.Fatalf("messages = %d (%v), want 2", len(msgs), err)
	}
	if msgs[0].Role != types.MessageRoleUser || msgs[1].Role != types.MessageRoleAssistant {
		t.Fatalf("unexpected roles %s/%s", msgs[0].Role, msgs[1].Role)
	}
}

func TestAskReturnsCitedSources(t *testing.T) {
	question := "What is the shipping policy for international orders?"

	llm := &fakeLLM{generateText: identityRerank(6)}
	llm.generateJSON = func(_, user string) (map[string]any, error) {
		// Cite the first two ids the prompt actually whitelisted.
		allowed := allowedIDsFromPrompt(user)
		if len(allowed) < 2 {
			return nil, fmt.Errorf("prompt whitelisted %d ids, need 2", len(allowed))
		}
		return map[string]any{
			"claims": []any{
				map[string]any{
					"text":                 "International orders ship within 5 business days.",
					"supporting_chunk_ids": []any{allowed[0]},
				},
				map[string]any{
					"text":                 "Customs fees are the buyer's responsibility.",
					"supporting_chunk_ids": []any{allowed[1]},
				},
			},
			"unknown": false,
			"reason":  "",
		}, nil
	}

	env := newChatEnv(t, llm)
	dbc := dbctx.Context{Ctx: context.Background()}

	// The first chunk repeats the question text, guaranteeing a top score
	// above the floor with the deterministic embedder.
	env.seedChunk(t, 0, question)
	for i := 1; i < 6; i++ {
		env.seedChunk(t, i, fmt.Sprintf("Shipping policy detail %d: carriers, timelines and customs.", i))
	}

	resp, err := env.svc.Ask(dbc, env.bot.ID, nil, question)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if resp.Unknown {
		t.Fatalf("expected an answer, got refusal: %s", resp.Reason)
	}
	if len(resp.Claims) != 2 {
		t.Fatalf("claims = %d, want 2", len(resp.Claims))
	}
	if len(resp.Sources) != 2 {
		t.Fatalf("sources = %d, want 2", len(resp.Sources))
	}

	cited := map[string]bool{}
	for _, claim := range resp.Claims {
		for _, id := range claim.SupportingChunkIDs {
			cited[id] = true
		}
	}
	for _, src := range resp.Sources {
		if !cited[src.ChunkID] {
			t.Fatalf("source %s was never cited by a claim", src.ChunkID)
		}
		if src.EndOffset <= src.StartOffset {
			t.Fatalf("source %s has invalid offsets %d-%d", src.ChunkID, src.StartOffset, src.EndOffset)
		}
	}
}

func TestAskRejectsCitationsOutsideWhitelist(t *testing.T) {
	question := "What is the refund policy?"

	llm := &fakeLLM{generateText: identityRerank(6)}
	llm.generateJSON = func(_, _ string) (map[string]any, error) {
		return map[string]any{
			"claims": []any{
				map[string]any{
					"text":                 "Refunds are processed in 3 days.",
					"supporting_chunk_ids": []any{"forged-chunk-id"},
				},
			},
			"unknown": false,
			"reason":  "",
		}, nil
	}

	env := newChatEnv(t, llm)
	dbc := dbctx.Context{Ctx: context.Background()}

	env.seedChunk(t, 0, question)
	for i := 1; i < 6; i++ {
		env.seedChunk(t, i, fmt.Sprintf("Refund policy clause %d covering returns and credit.", i))
	}

	resp, err := env.svc.Ask(dbc, env.bot.ID, nil, question)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !resp.Unknown {
		t.Fatal("a foreign citation must convert the answer to a refusal")
	}
	if len(resp.Sources) != 0 {
		t.Fatalf("refusal sources = %d, want 0", len(resp.Sources))
	}
}

func TestAskRefusesBelowMinimumCandidates(t *testing.T) {
	question := "What does the single document say?"

	llm := &fakeLLM{generateText: identityRerank(1)}
	env := newChatEnv(t, llm)
	dbc := dbctx.Context{Ctx: context.Background()}

	// One candidate is below the two-chunk minimum even when relevant.
	env.seedChunk(t, 0, question)

	resp, err := env.svc.Ask(dbc, env.bot.ID, nil, question)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !resp.Unknown {
		t.Fatal("expected refusal under the minimum candidate gate")
	}
	if llm.jsonCalls != 0 {
		t.Fatalf("answer call invoked %d times, want 0", llm.jsonCalls)
	}
}

func TestAskRefusesWhenContextBudgetAdmitsNothing(t *testing.T) {
	question := "How long does standard shipping take within the EU?"

	llm := &fakeLLM{generateText: identityRerank(2)}
	env := newChatEnvWithConfig(t, llm, ChatConfig{MaxContextChars: 40})
	dbc := dbctx.Context{Ctx: context.Background()}

	env.seedChunk(t, 0, question)
	env.seedChunk(t, 1, "Express shipping upgrades are available at checkout for a fee.")

	// Every candidate block exceeds the budget, so the whitelist is empty
	// and the answer call must be skipped outright.
	resp, err := env.svc.Ask(dbc, env.bot.ID, nil, question)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !resp.Unknown {
		t.Fatal("expected refusal when no chunk fits the context budget")
	}
	if !resp.ContextTruncated {
		t.Fatal("expected context_truncated on the refusal")
	}
	if llm.jsonCalls != 0 {
		t.Fatalf("answer call invoked %d times, want 0", llm.jsonCalls)
	}
}

func TestAskRerankFailureKeepsSimilarityOrder(t *testing.T) {
	question := "How are support tickets triaged?"

	var firstID string
	llm := &fakeLLM{
		generateText: func(string, string) (string, error) {
			return "", errors.New("rerank backend down")
		},
	}
	llm.generateJSON = func(_, _ string) (map[string]any, error) {
		return map[string]any{
			"claims": []any{
				map[string]any{
					"text":                 "Tickets are triaged by severity first.",
					"supporting_chunk_ids": []any{firstID},
				},
			},
			"unknown": false,
			"reason":  "",
		}, nil
	}

	env := newChatEnv(t, llm)
	dbc := dbctx.Context{Ctx: context.Background()}

	first := env.seedChunk(t, 0, question)
	firstID = first.ChunkID
	for i := 1; i < 4; i++ {
		env.seedChunk(t, i, fmt.Sprintf("Support process step %d for triage and escalation.", i))
	}

	resp, err := env.svc.Ask(dbc, env.bot.ID, nil, question)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if resp.Unknown {
		t.Fatalf("rerank failure must not refuse: %s", resp.Reason)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].ChunkID != firstID {
		t.Fatalf("expected the top similarity hit %s to survive, got %+v", firstID, resp.Sources)
	}
}

func TestAskPropagatesAnswerGenerationFailure(t *testing.T) {
	question := "What are the data retention rules?"

	llm := &fakeLLM{generateText: identityRerank(4)}
	llm.generateJSON = func(_, _ string) (map[string]any, error) {
		return nil, errors.New("provider outage")
	}

	env := newChatEnv(t, llm)
	dbc := dbctx.Context{Ctx: context.Background()}

	env.seedChunk(t, 0, question)
	for i := 1; i < 4; i++ {
		env.seedChunk(t, i, fmt.Sprintf("Retention rule %d for backups and logs.", i))
	}

	if _, err := env.svc.Ask(dbc, env.bot.ID, nil, question); err == nil {
		t.Fatal("answer-generation infrastructure failure must propagate as an error")
	}
}

func TestParseRankList(t *testing.T) {
	cases := []struct {
		name string
		in   string
		n    int
		want []int
		ok   bool
	}{
		{"full permutation", "3, 1, 2", 3, []int{2, 0, 1}, true},
		{"partial list keeps tail order", "2", 3, []int{1, 0, 2}, true},
		{"duplicates skipped", "1,1,2", 2, []int{0, 1}, true},
		{"out of range skipped", "9,2,1", 2, []int{1, 0}, true},
		{"garbage rejected", "first, second", 2, nil, false},
		{"empty rejected", "", 2, nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := parseRankList(tc.in, tc.n)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if !ok {
				return
			}
			if len(got) != len(tc.want) {
				t.Fatalf("order = %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("order = %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestSnippetCutsOnRuneBoundary(t *testing.T) {
	s := strings.Repeat("é", 10)
	got := snippet(s, 5)
	if !utf8.ValidString(got) {
		t.Fatalf("snippet produced invalid UTF-8: %q", got)
	}
	if got != strings.Repeat("é", 2)+"..." {
		t.Fatalf("snippet = %q, want two runes plus ellipsis", got)
	}
	if short := snippet("abc", 5); short != "abc" {
		t.Fatalf("short input must pass through, got %q", short)
	}
}
