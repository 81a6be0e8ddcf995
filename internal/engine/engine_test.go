package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ragchat/internal/ai"
	"ragchat/internal/index"
	"ragchat/internal/model"
)

const testDim = 4

type fakeEmbedder struct {
	fail  bool
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string, _ ai.EmbedMode) ([][]float32, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("embedding service unavailable")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		h := fnv.New32a()
		h.Write([]byte(t))
		sum := h.Sum32()
		vec := make([]float32, testDim)
		for j := range vec {
			vec[j] = float32((sum>>(8*uint(j)))&0xff) / 255
		}
		out[i] = vec
	}
	return out, nil
}

type fakeCompleter struct {
	answer   string
	messages []ai.ChatMessage
}

func (f *fakeCompleter) Complete(_ context.Context, messages []ai.ChatMessage, _ float64, _ int) (string, error) {
	f.messages = messages
	if f.answer == "" {
		return "canned answer", nil
	}
	return f.answer, nil
}

type fakeDocStore struct {
	docs []model.Document
}

func (f *fakeDocStore) Create(doc *model.Document) error {
	f.docs = append(f.docs, *doc)
	return nil
}

func (f *fakeDocStore) DeleteByDocID(docID string, ownerID uint) error {
	kept := f.docs[:0]
	for _, d := range f.docs {
		if d.DocID == docID && d.OwnerID == ownerID {
			continue
		}
		kept = append(kept, d)
	}
	f.docs = kept
	return nil
}

func (f *fakeDocStore) ListByOwnerID(ownerID uint) ([]model.Document, error) {
	var out []model.Document
	for _, d := range f.docs {
		if d.OwnerID == ownerID {
			out = append(out, d)
		}
	}
	return out, nil
}

type fakeConvStore struct {
	messages map[string][]model.Message
}

func (f *fakeConvStore) RecentMessages(_ context.Context, conversationID string, limit int) ([]model.Message, error) {
	msgs := f.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (f *fakeConvStore) AppendTurn(_ context.Context, conversationID, question, answer string) error {
	if f.messages == nil {
		f.messages = make(map[string][]model.Message)
	}
	f.messages[conversationID] = append(f.messages[conversationID],
		model.Message{ConversationID: conversationID, Role: model.RoleUser, Content: question},
		model.Message{ConversationID: conversationID, Role: model.RoleAssistant, Content: answer},
	)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeEmbedder, *fakeCompleter, *fakeDocStore, *fakeConvStore, string) {
	t.Helper()
	dir := t.TempDir()
	emb := &fakeEmbedder{}
	comp := &fakeCompleter{}
	docs := &fakeDocStore{}
	convs := &fakeConvStore{}
	eng := New(index.NewFlat(testDim), emb, comp, docs, convs, Options{IndexDir: dir})
	return eng, emb, comp, docs, convs, dir
}

func TestEngine_IngestAndQuery(t *testing.T) {
	eng, _, comp, docs, _, dir := newTestEngine(t)
	ctx := context.Background()

	result, err := eng.Ingest(ctx, "Alice likes apples. Bob likes bananas.", "fruit.txt", 1)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if result.ChunksCreated != 1 {
		t.Errorf("Expected 1 chunk, got %d", result.ChunksCreated)
	}
	if result.DocID == "" {
		t.Error("Expected a generated doc id")
	}
	if len(docs.docs) != 1 || docs.docs[0].ChunksCount != 1 {
		t.Errorf("Document summary not recorded: %+v", docs.docs)
	}
	if _, err := os.Stat(filepath.Join(dir, "vectors.bin")); err != nil {
		t.Errorf("Index not persisted after ingest: %v", err)
	}

	answer, err := eng.Query(ctx, "What does Alice like?", 1, 1)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if answer.Answer != "canned answer" {
		t.Errorf("Unexpected answer: %q", answer.Answer)
	}
	if len(answer.Sources) != 1 {
		t.Fatalf("Expected 1 source, got %d", len(answer.Sources))
	}
	if !strings.Contains(answer.Sources[0].TextPreview, "apples") {
		t.Errorf("Source preview missing content: %q", answer.Sources[0].TextPreview)
	}
	if answer.Sources[0].Filename != "fruit.txt" {
		t.Errorf("Source filename mismatch: %q", answer.Sources[0].Filename)
	}

	// prompt carries the system instruction and labeled context
	if len(comp.messages) != 2 {
		t.Fatalf("Expected system+user messages, got %d", len(comp.messages))
	}
	if comp.messages[0].Role != "system" {
		t.Errorf("First message role %q", comp.messages[0].Role)
	}
	if !strings.Contains(comp.messages[1].Content, "Context 1:") {
		t.Errorf("User message missing context block: %q", comp.messages[1].Content)
	}
	if !strings.Contains(comp.messages[1].Content, "What does Alice like?") {
		t.Errorf("User message missing question: %q", comp.messages[1].Content)
	}
}

func TestEngine_IngestEmptyDocument(t *testing.T) {
	eng, emb, _, docs, _, dir := newTestEngine(t)

	_, err := eng.Ingest(context.Background(), "   \n\t ", "empty.txt", 1)
	if !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("Expected ErrEmptyDocument, got %v", err)
	}
	if emb.calls != 0 {
		t.Error("Embedder must not be called for an empty document")
	}
	if len(docs.docs) != 0 {
		t.Error("No summary row may be recorded for an empty document")
	}
	if _, err := os.Stat(filepath.Join(dir, "vectors.bin")); !os.IsNotExist(err) {
		t.Error("Index must not be persisted for an empty document")
	}
}

func TestEngine_IngestEmbeddingFailure(t *testing.T) {
	eng, emb, _, docs, _, dir := newTestEngine(t)
	emb.fail = true

	_, err := eng.Ingest(context.Background(), "some real content here", "doc.txt", 1)
	if err == nil {
		t.Fatal("Expected error from failed embedding")
	}
	if len(docs.docs) != 0 {
		t.Error("Partial document recorded despite embedding failure")
	}
	if _, statErr := os.Stat(filepath.Join(dir, "vectors.bin")); !os.IsNotExist(statErr) {
		t.Error("Index persisted despite embedding failure")
	}
}

func TestEngine_SourcePreviewTruncated(t *testing.T) {
	eng, _, _, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	long := strings.Repeat("verylongword ", 60) // one chunk, well over 200 chars
	if _, err := eng.Ingest(ctx, long, "long.txt", 1); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	result, err := eng.Query(ctx, "anything", 1, 1)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	preview := result.Sources[0].TextPreview
	if !strings.HasSuffix(preview, "...") {
		t.Errorf("Expected truncated preview, got %q", preview)
	}
	if got := len([]rune(strings.TrimSuffix(preview, "..."))); got != sourcePreviewChars {
		t.Errorf("Expected %d preview chars, got %d", sourcePreviewChars, got)
	}
}

func TestEngine_QueryWithHistory(t *testing.T) {
	eng, _, comp, _, convs, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.Ingest(ctx, "The capital of France is Paris.", "geo.txt", 1); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	convs.messages = map[string][]model.Message{"conv-1": nil}
	for i := 0; i < 8; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		convs.messages["conv-1"] = append(convs.messages["conv-1"], model.Message{
			ConversationID: "conv-1",
			Role:           role,
			Content:        fmt.Sprintf("history %d", i),
		})
	}

	result, err := eng.QueryWithHistory(ctx, "And its capital?", "conv-1", 1, 1)
	if err != nil {
		t.Fatalf("QueryWithHistory failed: %v", err)
	}
	if result.Answer != "canned answer" {
		t.Errorf("Unexpected answer: %q", result.Answer)
	}

	// system + 5 most recent history messages + user turn
	if len(comp.messages) != 7 {
		t.Fatalf("Expected 7 prompt messages, got %d", len(comp.messages))
	}
	if comp.messages[1].Content != "history 3" {
		t.Errorf("History window starts at %q, expected 'history 3'", comp.messages[1].Content)
	}
	if comp.messages[5].Content != "history 7" {
		t.Errorf("History window ends at %q, expected 'history 7'", comp.messages[5].Content)
	}
	if !strings.Contains(comp.messages[6].Content, "And its capital?") {
		t.Errorf("Final user turn missing question: %q", comp.messages[6].Content)
	}

	// both turn messages appended in role order
	msgs := convs.messages["conv-1"]
	if len(msgs) != 10 {
		t.Fatalf("Expected 10 stored messages, got %d", len(msgs))
	}
	if msgs[8].Role != model.RoleUser || msgs[8].Content != "And its capital?" {
		t.Errorf("User turn not appended first: %+v", msgs[8])
	}
	if msgs[9].Role != model.RoleAssistant || msgs[9].Content != "canned answer" {
		t.Errorf("Assistant turn not appended second: %+v", msgs[9])
	}
}

func TestEngine_DeleteDocument(t *testing.T) {
	eng, _, _, docs, _, dir := newTestEngine(t)
	ctx := context.Background()

	// deleting from an empty engine is a negative result, not an error,
	// and must not touch disk
	ok, err := eng.DeleteDocument(ctx, "never-ingested", 1)
	if err != nil {
		t.Fatalf("DeleteDocument failed: %v", err)
	}
	if ok {
		t.Error("Expected false for unknown document")
	}
	if _, statErr := os.Stat(filepath.Join(dir, "vectors.bin")); !os.IsNotExist(statErr) {
		t.Error("No persistence write may happen when nothing was deleted")
	}

	ingested, err := eng.Ingest(ctx, "content to be removed later", "gone.txt", 1)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	// wrong owner must not delete
	ok, err = eng.DeleteDocument(ctx, ingested.DocID, 2)
	if err != nil || ok {
		t.Fatalf("Wrong owner delete: ok=%v err=%v", ok, err)
	}

	ok, err = eng.DeleteDocument(ctx, ingested.DocID, 1)
	if err != nil {
		t.Fatalf("DeleteDocument failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected true for existing document")
	}
	if len(docs.docs) != 0 {
		t.Errorf("Summary row not removed: %+v", docs.docs)
	}

	remaining, err := eng.ListDocuments(1)
	if err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("Expected no documents, got %d", len(remaining))
	}
}

func TestEngine_ZeroOverlapChunking(t *testing.T) {
	dir := t.TempDir()
	eng := New(index.NewFlat(testDim), &fakeEmbedder{}, &fakeCompleter{}, &fakeDocStore{}, &fakeConvStore{}, Options{
		IndexDir:     dir,
		ChunkSize:    4,
		ChunkOverlap: 0,
	})

	// 8 words with no overlap cut into exactly two disjoint windows
	result, err := eng.Ingest(context.Background(), "one two three four five six seven eight", "words.txt", 1)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if result.ChunksCreated != 2 {
		t.Errorf("Expected 2 chunks, got %d", result.ChunksCreated)
	}
}

func TestEngine_OwnerScoping(t *testing.T) {
	eng, _, _, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.Ingest(ctx, "owner one confidential notes", "one.txt", 1); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if _, err := eng.Ingest(ctx, "owner two private records", "two.txt", 2); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	result, err := eng.Query(ctx, "notes", 5, 1)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(result.Sources) != 1 {
		t.Fatalf("Expected exactly owner 1's chunk, got %d sources", len(result.Sources))
	}
	if result.Sources[0].Filename != "one.txt" {
		t.Errorf("Owner 1 query leaked %q", result.Sources[0].Filename)
	}
}
