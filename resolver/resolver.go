// Package resolver turns chat messages into Bursar operations.
//
// Each turn picks an intent (pattern table first, then the understanding
// model), extracts typed parameters, and either asks for the fields that
// are still missing or runs the operation. Half-finished requests live in
// an entitymem.Store keyed by conversation id until they complete, are
// cancelled, or expire.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/directory"
	"github.com/xraph/bursar/entitymem"
	"github.com/xraph/bursar/understanding"
)

// lowConfidence is the model confidence under which a field is
// re-extracted with its regex.
const lowConfidence = 0.5

// Message is one user turn.
type Message struct {
	ConversationID string               `json:"conversation_id"`
	SchoolID       string               `json:"school_id"`
	UserID         string               `json:"user_id,omitempty"`
	Text           string               `json:"text"`
	History        []understanding.Turn `json:"history,omitempty"`
}

// Resolver handles conversational turns against one Bursar engine.
type Resolver struct {
	b        *bursar.Bursar
	memory   entitymem.Store
	model    understanding.Client
	students directory.Students
	classes  directory.Classes
	terms    directory.Terms
	logger   *slog.Logger
	now      func() time.Time

	// Turns of one conversation run one at a time.
	locks [64]sync.Mutex
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithUnderstanding sets the model consulted when no pattern matches.
func WithUnderstanding(c understanding.Client) Option {
	return func(r *Resolver) { r.model = c }
}

// WithDirectory sets the student, class and term lookups used to resolve
// names. Any of them may be nil.
func WithDirectory(students directory.Students, classes directory.Classes, terms directory.Terms) Option {
	return func(r *Resolver) {
		r.students = students
		r.classes = classes
		r.terms = terms
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithClock sets the clock used for current-term defaults.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// New creates a Resolver. Without WithUnderstanding only the pattern
// table and regex extraction are used.
func New(b *bursar.Bursar, memory entitymem.Store, opts ...Option) *Resolver {
	r := &Resolver{
		b:      b,
		memory: memory,
		model:  understanding.Nop{},
		logger: b.Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) lock(conversationID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(conversationID))
	return &r.locks[h.Sum32()%uint32(len(r.locks))]
}

// Handle processes one message. Errors are returned only for missing scope
// and entity memory failures; engine errors become guided replies.
func (r *Resolver) Handle(ctx context.Context, msg Message) (*Reply, error) {
	if msg.SchoolID == "" {
		if s, ok := bursar.ScopeFrom(ctx); ok {
			msg.SchoolID, msg.UserID = s.SchoolID, s.UserID
		}
	}
	if msg.SchoolID == "" {
		return nil, bursar.ErrMissingScope
	}
	if strings.TrimSpace(msg.ConversationID) == "" {
		return nil, bursar.Invalid("conversation_id", "is required")
	}

	mu := r.lock(msg.ConversationID)
	mu.Lock()
	defer mu.Unlock()

	reply, err := r.handle(ctx, msg)
	if err != nil {
		return nil, err
	}
	reply.ConversationID = msg.ConversationID
	if reply.MissingFields == nil {
		reply.MissingFields = []Field{}
	}
	r.b.Plugins().EmitConversationTurn(ctx, msg.ConversationID, string(reply.Intent), reply.ActionTaken)
	return reply, nil
}

func (r *Resolver) handle(ctx context.Context, msg Message) (*Reply, error) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return helpReply("What would you like to do?"), nil
	}

	pending, err := r.memory.Get(ctx, msg.ConversationID)
	if err != nil && !errors.Is(err, entitymem.ErrNotFound) {
		return nil, fmt.Errorf("resolver: load pending request: %w", err)
	}

	intent := detect(text)
	switch intent {
	case IntentCancel:
		if pending == nil {
			return &Reply{Intent: IntentCancel, Text: "There is nothing in progress to cancel."}, nil
		}
		if err := r.memory.Clear(ctx, msg.ConversationID); err != nil {
			return nil, fmt.Errorf("resolver: clear pending request: %w", err)
		}
		return &Reply{Intent: IntentCancel, Text: "Okay, I've dropped that. What next?"}, nil
	case IntentHelp:
		return helpReply("Here is what I can help with."), nil
	}

	var (
		req        Request
		continuing bool
		result     *understanding.Result
	)
	switch {
	case intent != "":
		req, _ = NewRequest(intent)
		if pending != nil && Intent(pending.Intent) == intent {
			if prev, err := restore(pending); err == nil {
				req, continuing = prev, true
			}
		}
	default:
		result = r.understand(ctx, msg)
		if pending != nil {
			prev, err := restore(pending)
			if err != nil {
				r.logger.Warn("resolver: dropping unreadable pending request",
					"conversation_id", msg.ConversationID,
					"intent", pending.Intent,
					"error", err,
				)
				break
			}
			req, continuing = prev, true
		} else if result != nil {
			if in, ok := knownIntent(result.Intent); ok {
				req, _ = NewRequest(in)
			}
		}
	}
	if req == nil {
		return helpReply("Sorry, I didn't understand that."), nil
	}

	before := req.Missing()
	raw := r.extractRaw(req, text, result)
	params := parse(raw, r.b.Currency(), r.logger)
	req.Merge(params)

	if continuing {
		if m := req.Missing(); len(m) == 1 && m[0].freeText() && raw[m[0]] == "" && containsField(before, m[0]) {
			req.Merge(parse(map[Field]string{m[0]: text}, r.b.Currency(), r.logger))
		}
	}

	if missing := req.Missing(); len(missing) > 0 {
		if err := r.save(ctx, msg.ConversationID, req); err != nil {
			return nil, err
		}
		return promptReply(req, missing, ""), nil
	}

	if err := r.memory.Clear(ctx, msg.ConversationID); err != nil {
		return nil, fmt.Errorf("resolver: clear pending request: %w", err)
	}
	reply, err := r.execute(ctx, msg, req)
	if err != nil {
		var need *needInput
		if errors.As(err, &need) {
			req.clear(need.field)
			if err := r.save(ctx, msg.ConversationID, req); err != nil {
				return nil, err
			}
			return &Reply{
				Intent:        req.Intent(),
				Text:          need.text,
				Blocks:        need.blocks,
				Data:          req,
				MissingFields: []Field{need.field},
			}, nil
		}
		return r.guided(req, err), nil
	}
	return reply, nil
}

// understand asks the model once. Failures degrade to pattern and regex
// handling.
func (r *Resolver) understand(ctx context.Context, msg Message) *understanding.Result {
	res, err := r.model.Understand(ctx, msg.Text, msg.History)
	switch {
	case errors.Is(err, understanding.ErrUnavailable):
		return nil
	case err != nil:
		r.logger.Warn("resolver: understanding failed, using patterns only",
			"conversation_id", msg.ConversationID,
			"error", err,
		)
		return nil
	}
	return res
}

// extractRaw collects the string value of every field the request reads:
// model entities first, regex for anything missing, malformed or
// low-confidence.
func (r *Resolver) extractRaw(req Request, text string, result *understanding.Result) map[Field]string {
	raw := make(map[Field]string)
	fields := req.Fields()
	if result != nil {
		for _, f := range fields {
			v, ok := result.Entity(string(f))
			if !ok {
				continue
			}
			if c, ok := result.Confidence[string(f)]; ok && c < lowConfidence {
				r.logger.Debug("resolver: low-confidence entity", "field", f, "value", v, "confidence", c)
				continue
			}
			raw[f] = v
		}
	}

	r.correctPeriod(raw)

	for _, f := range fields {
		if shapeOK(f, raw[f], r.b.Currency()) {
			continue
		}
		delete(raw, f)
		if v := extract(f, text); v != "" {
			raw[f] = v
		}
	}
	if raw[FieldYear] == "" && containsField(fields, FieldYear) && !containsField(fields, FieldAmount) {
		if v := bareYear(text); v != "" {
			raw[FieldYear] = v
		}
	}
	r.correctPeriod(raw)
	return raw
}

func (r *Resolver) correctPeriod(raw map[Field]string) {
	y, t := raw[FieldYear], raw[FieldTerm]
	if y == "" && t == "" {
		return
	}
	cy, ct, swapped := ShapeCorrect(y, t)
	switch {
	case swapped:
		r.logger.Info("resolver: swapped year and term", "year", cy, "term", ct)
	case (y != "" && !yearShape.MatchString(y)) || (t != "" && !termShape.MatchString(t)):
		r.logger.Warn("resolver: low-confidence year/term", "year", y, "term", t)
	}
	if cy != "" {
		raw[FieldYear] = cy
	}
	if ct != "" {
		raw[FieldTerm] = ct
	}
}

func (r *Resolver) save(ctx context.Context, conversationID string, req Request) error {
	missing := req.Missing()
	names := make([]string, len(missing))
	for i, f := range missing {
		names[i] = string(f)
	}
	p, err := entitymem.NewPartial(string(req.Intent()), req, names)
	if err != nil {
		return fmt.Errorf("resolver: encode pending request: %w", err)
	}
	if err := r.memory.Set(ctx, conversationID, p); err != nil {
		return fmt.Errorf("resolver: save pending request: %w", err)
	}
	return nil
}

func restore(p *entitymem.Partial) (Request, error) {
	req, err := NewRequest(Intent(p.Intent))
	if err != nil {
		return nil, err
	}
	if err := p.Decode(req); err != nil {
		return nil, err
	}
	return req, nil
}

func containsField(fields []Field, f Field) bool {
	for _, x := range fields {
		if x == f {
			return true
		}
	}
	return false
}
