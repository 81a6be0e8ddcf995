// Package engine orchestrates retrieval-augmented answering: chunking and
// indexing of ingested documents, owner-scoped nearest-neighbor search, and
// prompt assembly with optional conversation history.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"ragchat/internal/ai"
	"ragchat/internal/chunker"
	"ragchat/internal/index"
	"ragchat/internal/model"
)

var (
	ErrEmptyDocument = errors.New("document produced no usable chunks")
	ErrEmptyQuestion = errors.New("question is empty")
)

const (
	systemInstruction = "You are a helpful assistant that answers questions based on the provided context. Be concise and accurate."

	answerPromptFormat = "Based on the following context, answer the question. " +
		"If you cannot answer based on the context, say so.\n\nContext:\n%s\n\nQuestion: %s\n\nAnswer:"

	sourcePreviewChars = 200
)

type Embedder interface {
	Embed(ctx context.Context, texts []string, mode ai.EmbedMode) ([][]float32, error)
}

type Completer interface {
	Complete(ctx context.Context, messages []ai.ChatMessage, temperature float64, maxTokens int) (string, error)
}

// DocumentStore records document summaries; the chunk contents themselves
// live in the vector index.
type DocumentStore interface {
	Create(doc *model.Document) error
	DeleteByDocID(docID string, ownerID uint) error
	ListByOwnerID(ownerID uint) ([]model.Document, error)
}

// ConversationStore reads and appends conversation turns. AppendTurn must
// persist the user message before the assistant message.
type ConversationStore interface {
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	AppendTurn(ctx context.Context, conversationID, question, answer string) error
}

type Options struct {
	IndexDir  string
	ChunkSize int
	// ChunkOverlap zero means no overlap; negative values select the
	// default.
	ChunkOverlap int
	DefaultTopK         int
	HistoryLoadLimit    int
	HistoryContextLimit int
	Temperature         float64
	MaxTokens           int
}

func (o *Options) applyDefaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = chunker.DefaultChunkSize
	}
	if o.ChunkOverlap < 0 {
		o.ChunkOverlap = chunker.DefaultOverlap
	}
	if o.DefaultTopK <= 0 {
		o.DefaultTopK = 3
	}
	if o.HistoryLoadLimit <= 0 {
		o.HistoryLoadLimit = 10
	}
	if o.HistoryContextLimit <= 0 {
		o.HistoryContextLimit = 5
	}
	if o.Temperature <= 0 {
		o.Temperature = 0.3
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 500
	}
}

// Engine composes the chunker, vector index and external clients. Index
// mutations and their persistence run under mu so the on-disk copy always
// reflects the order of in-memory mutations; embedding calls happen before
// the lock is taken.
type Engine struct {
	mu        sync.Mutex
	idx       *index.Flat
	embedder  Embedder
	completer Completer
	docs      DocumentStore
	convs     ConversationStore
	opts      Options
}

func New(idx *index.Flat, embedder Embedder, completer Completer, docs DocumentStore, convs ConversationStore, opts Options) *Engine {
	opts.applyDefaults()
	return &Engine{
		idx:       idx,
		embedder:  embedder,
		completer: completer,
		docs:      docs,
		convs:     convs,
		opts:      opts,
	}
}

type IngestResult struct {
	DocID         string `json:"doc_id"`
	Filename      string `json:"filename"`
	ChunksCreated int    `json:"chunks_created"`
}

type Source struct {
	Filename    string `json:"filename"`
	ChunkID     int    `json:"chunk_id"`
	TextPreview string `json:"text_preview"`
}

type QueryResult struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// Ingest chunks text, embeds all chunks in one batch, inserts them into the
// index, persists the index and records the document summary. A failure
// before the insert leaves the index untouched; a failure after it rolls the
// new rows back, so a document is either fully ingested or absent.
func (e *Engine) Ingest(ctx context.Context, text, filename string, ownerID uint) (*IngestResult, error) {
	chunks, err := chunker.Split(text, e.opts.ChunkSize, e.opts.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, ErrEmptyDocument
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := e.embedder.Embed(ctx, texts, ai.ModeDocument)
	if err != nil {
		return nil, fmt.Errorf("embed document failed: %w", err)
	}

	docID := uuid.NewString()
	metas := make([]index.ChunkMeta, len(chunks))
	for i, c := range chunks {
		metas[i] = index.ChunkMeta{
			Filename: filename,
			DocID:    docID,
			ChunkID:  c.Ordinal,
			OwnerID:  ownerID,
			Text:     c.Text,
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.idx.Insert(vecs, metas); err != nil {
		return nil, err
	}
	if err := e.idx.Save(e.opts.IndexDir); err != nil {
		e.idx.DeleteWhere(matchDoc(docID, ownerID))
		return nil, fmt.Errorf("persist index failed: %w", err)
	}
	if e.docs != nil {
		doc := &model.Document{
			DocID:       docID,
			OwnerID:     ownerID,
			Filename:    filename,
			ChunksCount: len(chunks),
		}
		if err := e.docs.Create(doc); err != nil {
			e.idx.DeleteWhere(matchDoc(docID, ownerID))
			if saveErr := e.idx.Save(e.opts.IndexDir); saveErr != nil {
				return nil, fmt.Errorf("record document failed: %v; rollback persist failed: %w", err, saveErr)
			}
			return nil, fmt.Errorf("record document failed: %w", err)
		}
	}

	return &IngestResult{
		DocID:         docID,
		Filename:      filename,
		ChunksCreated: len(chunks),
	}, nil
}

// Query retrieves the topK chunks nearest to the question, scoped to ownerID
// when it is non-zero, and asks the completion model to answer from them.
func (e *Engine) Query(ctx context.Context, question string, topK int, ownerID uint) (*QueryResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	contextBlock, sources, err := e.retrieve(ctx, question, topK, ownerID)
	if err != nil {
		return nil, err
	}

	messages := []ai.ChatMessage{
		{Role: "system", Content: systemInstruction},
		{Role: model.RoleUser, Content: fmt.Sprintf(answerPromptFormat, contextBlock, question)},
	}
	answer, err := e.completer.Complete(ctx, messages, e.opts.Temperature, e.opts.MaxTokens)
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	return &QueryResult{Answer: strings.TrimSpace(answer), Sources: sources}, nil
}

// QueryWithHistory is Query with bounded conversation history folded into
// the prompt. After answering it appends the question and answer to the
// conversation as two ordered messages.
func (e *Engine) QueryWithHistory(ctx context.Context, question, conversationID string, ownerID uint, topK int) (*QueryResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	history, err := e.convs.RecentMessages(ctx, conversationID, e.opts.HistoryLoadLimit)
	if err != nil {
		return nil, fmt.Errorf("load conversation history failed: %w", err)
	}
	if n := len(history) - e.opts.HistoryContextLimit; n > 0 {
		history = history[n:]
	}

	contextBlock, sources, err := e.retrieve(ctx, question, topK, ownerID)
	if err != nil {
		return nil, err
	}

	messages := make([]ai.ChatMessage, 0, len(history)+2)
	messages = append(messages, ai.ChatMessage{Role: "system", Content: systemInstruction})
	for _, m := range history {
		messages = append(messages, ai.ChatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, ai.ChatMessage{
		Role:    model.RoleUser,
		Content: fmt.Sprintf(answerPromptFormat, contextBlock, question),
	})

	answer, err := e.completer.Complete(ctx, messages, e.opts.Temperature, e.opts.MaxTokens)
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}
	answer = strings.TrimSpace(answer)

	if err := e.convs.AppendTurn(ctx, conversationID, question, answer); err != nil {
		return nil, fmt.Errorf("record conversation turn failed: %w", err)
	}

	return &QueryResult{Answer: answer, Sources: sources}, nil
}

// DeleteDocument removes every indexed chunk of (docID, ownerID). It returns
// false when nothing matched; the index is then untouched and nothing is
// written to disk. On success the rebuilt index is persisted before the
// summary row is removed and success reported.
func (e *Engine) DeleteDocument(ctx context.Context, docID string, ownerID uint) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	removed := e.idx.DeleteWhere(matchDoc(docID, ownerID))
	if removed == 0 {
		return false, nil
	}
	if err := e.idx.Save(e.opts.IndexDir); err != nil {
		return false, fmt.Errorf("persist rebuilt index failed: %w", err)
	}
	if e.docs != nil {
		if err := e.docs.DeleteByDocID(docID, ownerID); err != nil {
			return false, fmt.Errorf("delete document summary failed: %w", err)
		}
	}
	return true, nil
}

func (e *Engine) ListDocuments(ownerID uint) ([]model.Document, error) {
	return e.docs.ListByOwnerID(ownerID)
}

// SaveIndex persists the current index state; called on shutdown.
func (e *Engine) SaveIndex() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.idx.Save(e.opts.IndexDir)
}

// retrieve embeds the question, searches the index and formats the context
// block and source list. When ownerID is non-zero the scan only considers
// that owner's rows, so one user's query can never surface another's chunks.
func (e *Engine) retrieve(ctx context.Context, question string, topK int, ownerID uint) (string, []Source, error) {
	if topK <= 0 {
		topK = e.opts.DefaultTopK
	}

	vecs, err := e.embedder.Embed(ctx, []string{question}, ai.ModeQuery)
	if err != nil {
		return "", nil, fmt.Errorf("embed question failed: %w", err)
	}
	if len(vecs) != 1 {
		return "", nil, fmt.Errorf("expected 1 query embedding, got %d", len(vecs))
	}

	var keep func(index.ChunkMeta) bool
	if ownerID != 0 {
		keep = func(m index.ChunkMeta) bool { return m.OwnerID == ownerID }
	}
	hits, err := e.idx.SearchFiltered(vecs[0], topK, keep)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	sources := make([]Source, 0, len(hits))
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Context %d: %s", i+1, h.Meta.Text)
		sources = append(sources, Source{
			Filename:    h.Meta.Filename,
			ChunkID:     h.Meta.ChunkID,
			TextPreview: preview(h.Meta.Text),
		})
	}
	return b.String(), sources, nil
}

func matchDoc(docID string, ownerID uint) func(index.ChunkMeta) bool {
	return func(m index.ChunkMeta) bool {
		return m.DocID == docID && m.OwnerID == ownerID
	}
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= sourcePreviewChars {
		return text
	}
	return string(runes[:sourcePreviewChars]) + "..."
}
