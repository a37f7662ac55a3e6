package usecase

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signato/signato/internal/adapter/memory"
	"github.com/signato/signato/internal/compose"
	"github.com/signato/signato/internal/domain"
	"github.com/signato/signato/internal/expiry"
	"github.com/signato/signato/internal/lock"
	"github.com/signato/signato/internal/ports"
	"github.com/signato/signato/internal/token"
)

const issuerID = "issuer-1"

type env struct {
	docs       *memory.DocumentRepository
	recipients *memory.RecipientRepository
	fields     *memory.FieldRepository
	auditLog   *memory.AuditRepository
	store      *memory.ArtifactStore
	publisher  *memory.ChannelPublisher
	clock      *memory.Clock
	locks      *lock.Keyed
	runner     *compose.Runner
	issuer     *IssuerUseCase
	signing    *SigningUseCase
}

func newEnv(t *testing.T) *env {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	clock := memory.NewClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	recipients := memory.NewRecipientRepository()
	docs := memory.NewDocumentRepository(recipients)
	fields := memory.NewFieldRepository()
	auditLog := memory.NewAuditRepository()
	store := memory.NewArtifactStore()
	publisher := memory.NewChannelPublisher()
	locks := lock.NewKeyed()
	inspector := memory.NewInspector(2)

	composer := compose.NewComposer(docs, recipients, fields, auditLog, store, inspector, memory.NewRenderer(), publisher, locks, clock, log)
	runner := compose.NewRunner(composer, docs, compose.RunnerConfig{
		Workers:     2,
		MaxAttempts: 5,
		BaseBackoff: 5 * time.Millisecond,
		JobTimeout:  time.Second,
	}, log)
	runner.Start()
	t.Cleanup(runner.Stop)

	guard := token.NewGuard(recipients, clock)

	return &env{
		docs:       docs,
		recipients: recipients,
		fields:     fields,
		auditLog:   auditLog,
		store:      store,
		publisher:  publisher,
		clock:      clock,
		locks:      locks,
		runner:     runner,
		issuer:     NewIssuerUseCase(docs, recipients, fields, auditLog, store, inspector, publisher, runner, locks, clock, 72*time.Hour, log),
		signing:    NewSigningUseCase(docs, recipients, fields, auditLog, store, publisher, runner, guard, locks, clock, log),
	}
}

func (e *env) createDraft(t *testing.T) *domain.Document {
	t.Helper()
	doc, err := e.issuer.CreateDocument(context.Background(), CreateDocumentRequest{
		IssuerID: issuerID,
		Title:    "Lease Agreement",
		PDF:      []byte("%PDF-1.7 test source"),
	})
	require.NoError(t, err)
	return doc
}

func (e *env) waitStatus(t *testing.T, documentID string, want domain.DocumentStatus) *domain.Document {
	t.Helper()
	require.Eventually(t, func() bool {
		doc, err := e.docs.FindByID(context.Background(), documentID)
		return err == nil && doc.Status == want
	}, 2*time.Second, 10*time.Millisecond)
	doc, err := e.docs.FindByID(context.Background(), documentID)
	require.NoError(t, err)
	return doc
}

func (e *env) auditActions(t *testing.T, documentID string) []domain.AuditAction {
	t.Helper()
	entries, err := e.auditLog.ListByDocument(context.Background(), documentID)
	require.NoError(t, err)
	actions := make([]domain.AuditAction, 0, len(entries))
	for i, entry := range entries {
		require.Equal(t, int64(i+1), entry.Seq, "audit sequence must be gap-free")
		actions = append(actions, entry.Action)
	}
	return actions
}

func (e *env) eventTypes() []ports.EventType {
	var types []ports.EventType
	for _, ev := range e.publisher.Events() {
		types = append(types, ev.Type)
	}
	return types
}

func textValue(s string) domain.FieldValue {
	return domain.FieldValue{Kind: domain.FieldTypeText, Text: s}
}

func TestWorkflowHappyPath(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	doc := e.createDraft(t)

	rec, err := e.issuer.AddRecipient(ctx, doc.ID, issuerID, "alice@example.com", 1)
	require.NoError(t, err)

	defs, err := e.issuer.DefineFields(ctx, doc.ID, issuerID, []FieldSpec{
		{Type: domain.FieldTypeSignature, Page: 0, X: 0.1, Y: 0.8, Width: 0.3, Height: 0.05, Required: true, RecipientID: rec.ID},
		{Type: domain.FieldTypeDate, Page: 1, X: 0.5, Y: 0.8, Width: 0.2, Height: 0.03, Required: true, RecipientID: rec.ID},
	})
	require.NoError(t, err)
	require.Len(t, defs, 2)

	sent, err := e.issuer.Send(ctx, doc.ID, issuerID)
	require.NoError(t, err)
	require.Len(t, sent.Links, 1)
	assert.Equal(t, domain.DocumentStatusPending, sent.Document.Status)
	tok := sent.Links[0].Token
	require.NotEmpty(t, tok)

	err = e.signing.SubmitField(ctx, SubmitFieldRequest{
		Token:   tok,
		FieldID: defs[0].ID,
		Value:   domain.FieldValue{Kind: domain.FieldTypeSignature},
		Image:   []byte("signature strokes"),
	})
	require.NoError(t, err)

	err = e.signing.SubmitField(ctx, SubmitFieldRequest{
		Token:   tok,
		FieldID: defs[1].ID,
		Value:   domain.FieldValue{Kind: domain.FieldTypeDate, Date: "2026-03-01"},
	})
	require.NoError(t, err)

	require.NoError(t, e.signing.CompleteSigning(ctx, tok, ""))

	final := e.waitStatus(t, doc.ID, domain.DocumentStatusCompleted)
	require.NotEmpty(t, final.FinalRef)

	artifact, err := e.store.Get(ctx, final.FinalRef)
	require.NoError(t, err)
	assert.NotEmpty(t, artifact)

	assert.Equal(t, []domain.AuditAction{
		domain.AuditActionCreated,
		domain.AuditActionSent,
		domain.AuditActionFieldFilled,
		domain.AuditActionFieldFilled,
		domain.AuditActionRecipientCompleted,
		domain.AuditActionComposed,
	}, e.auditActions(t, doc.ID))

	// the final Composed entry carries the artifact fingerprint
	entries, err := e.auditLog.ListByDocument(ctx, doc.ID)
	require.NoError(t, err)
	composed := entries[len(entries)-1]
	assert.NotEmpty(t, composed.Metadata["fingerprint"])
	assert.Equal(t, final.FinalRef, composed.Metadata["final_ref"])
	assert.Equal(t, domain.ActorSystem, composed.Actor)

	// completion revokes the outstanding link
	_, err = e.signing.GetView(ctx, tok, "")
	assert.ErrorIs(t, err, domain.ErrTokenRevoked)

	types := e.eventTypes()
	assert.Contains(t, types, ports.EventDocumentSent)
	assert.Contains(t, types, ports.EventDocumentCompleted)

	status, err := e.issuer.GetStatus(ctx, doc.ID, issuerID)
	require.NoError(t, err)
	require.NotNil(t, status.Composition)
	assert.Equal(t, ports.JobStateDone, status.Composition.State)
	assert.Equal(t, 1, status.Composition.Attempts)
}

func TestSendValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	t.Run("no recipients", func(t *testing.T) {
		doc := e.createDraft(t)
		_, err := e.issuer.Send(ctx, doc.ID, issuerID)
		assert.ErrorIs(t, err, domain.ErrNoRecipients)
	})

	t.Run("unassigned field", func(t *testing.T) {
		doc := e.createDraft(t)
		_, err := e.issuer.AddRecipient(ctx, doc.ID, issuerID, "a@example.com", 1)
		require.NoError(t, err)
		_, err = e.issuer.DefineFields(ctx, doc.ID, issuerID, []FieldSpec{
			{Type: domain.FieldTypeText, Page: 0, X: 0.1, Y: 0.1, Width: 0.2, Height: 0.05, Required: true},
		})
		require.NoError(t, err)
		_, err = e.issuer.Send(ctx, doc.ID, issuerID)
		assert.ErrorIs(t, err, domain.ErrUnknownRecipient)
	})

	t.Run("no required fields", func(t *testing.T) {
		doc := e.createDraft(t)
		rec, err := e.issuer.AddRecipient(ctx, doc.ID, issuerID, "a@example.com", 1)
		require.NoError(t, err)
		_, err = e.issuer.DefineFields(ctx, doc.ID, issuerID, []FieldSpec{
			{Type: domain.FieldTypeText, Page: 0, X: 0.1, Y: 0.1, Width: 0.2, Height: 0.05, RecipientID: rec.ID},
		})
		require.NoError(t, err)
		_, err = e.issuer.Send(ctx, doc.ID, issuerID)
		assert.ErrorIs(t, err, domain.ErrNoRequiredFields)
	})

	t.Run("double send", func(t *testing.T) {
		doc := e.createDraft(t)
		rec, err := e.issuer.AddRecipient(ctx, doc.ID, issuerID, "a@example.com", 1)
		require.NoError(t, err)
		_, err = e.issuer.DefineFields(ctx, doc.ID, issuerID, []FieldSpec{
			{Type: domain.FieldTypeText, Page: 0, X: 0.1, Y: 0.1, Width: 0.2, Height: 0.05, Required: true, RecipientID: rec.ID},
		})
		require.NoError(t, err)
		_, err = e.issuer.Send(ctx, doc.ID, issuerID)
		require.NoError(t, err)
		_, err = e.issuer.Send(ctx, doc.ID, issuerID)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})
}

func TestDefineFieldsValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	doc := e.createDraft(t)

	cases := []struct {
		name string
		spec FieldSpec
		want error
	}{
		{
			name: "geometry past page edge",
			spec: FieldSpec{Type: domain.FieldTypeText, Page: 0, X: 0.9, Y: 0.1, Width: 0.3, Height: 0.05},
			want: domain.ErrInvalidGeometry,
		},
		{
			name: "zero size",
			spec: FieldSpec{Type: domain.FieldTypeText, Page: 0, X: 0.1, Y: 0.1, Width: 0, Height: 0.05},
			want: domain.ErrInvalidGeometry,
		},
		{
			name: "page out of range",
			spec: FieldSpec{Type: domain.FieldTypeText, Page: 9, X: 0.1, Y: 0.1, Width: 0.2, Height: 0.05},
			want: domain.ErrPageOutOfRange,
		},
		{
			name: "unknown recipient",
			spec: FieldSpec{Type: domain.FieldTypeText, Page: 0, X: 0.1, Y: 0.1, Width: 0.2, Height: 0.05, RecipientID: "ghost"},
			want: domain.ErrUnknownRecipient,
		},
		{
			name: "unknown type",
			spec: FieldSpec{Type: "STAMP", Page: 0, X: 0.1, Y: 0.1, Width: 0.2, Height: 0.05},
			want: domain.ErrInvalidFieldValue,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.issuer.DefineFields(ctx, doc.ID, issuerID, []FieldSpec{tc.spec})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDraftOnlyEditing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	doc := e.createDraft(t)

	rec, err := e.issuer.AddRecipient(ctx, doc.ID, issuerID, "a@example.com", 1)
	require.NoError(t, err)
	_, err = e.issuer.DefineFields(ctx, doc.ID, issuerID, []FieldSpec{
		{Type: domain.FieldTypeText, Page: 0, X: 0.1, Y: 0.1, Width: 0.2, Height: 0.05, Required: true, RecipientID: rec.ID},
	})
	require.NoError(t, err)
	_, err = e.issuer.Send(ctx, doc.ID, issuerID)
	require.NoError(t, err)

	_, err = e.issuer.DefineFields(ctx, doc.ID, issuerID, []FieldSpec{
		{Type: domain.FieldTypeText, Page: 0, X: 0.4, Y: 0.4, Width: 0.2, Height: 0.05, RecipientID: rec.ID},
	})
	assert.ErrorIs(t, err, domain.ErrDocumentNotEditable)

	_, err = e.issuer.AddRecipient(ctx, doc.ID, issuerID, "b@example.com", 2)
	assert.ErrorIs(t, err, domain.ErrDocumentNotEditable)
}

// sendWithTiers sets up a pending document with one required text field per
// recipient and returns tokens keyed by email
func sendWithTiers(t *testing.T, e *env, tiers map[string]int) (string, map[string]string, map[string]string) {
	t.Helper()
	ctx := context.Background()
	doc := e.createDraft(t)

	fieldByEmail := make(map[string]string, len(tiers))
	for email, order := range tiers {
		rec, err := e.issuer.AddRecipient(ctx, doc.ID, issuerID, email, order)
		require.NoError(t, err)
		defs, err := e.issuer.DefineFields(ctx, doc.ID, issuerID, []FieldSpec{
			{Type: domain.FieldTypeText, Page: 0, X: 0.1, Y: 0.1, Width: 0.2, Height: 0.05, Required: true, RecipientID: rec.ID},
		})
		require.NoError(t, err)
		fieldByEmail[email] = defs[0].ID
	}

	sent, err := e.issuer.Send(ctx, doc.ID, issuerID)
	require.NoError(t, err)

	tokenByEmail := make(map[string]string, len(sent.Links))
	for _, link := range sent.Links {
		tokenByEmail[link.Email] = link.Token
	}
	return doc.ID, tokenByEmail, fieldByEmail
}

func signAndComplete(t *testing.T, e *env, tok, fieldID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.signing.SubmitField(ctx, SubmitFieldRequest{Token: tok, FieldID: fieldID, Value: textValue("agreed")}))
	require.NoError(t, e.signing.CompleteSigning(ctx, tok, ""))
}

func TestSigningOrderTiers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	docID, tokens, fields := sendWithTiers(t, e, map[string]int{
		"first-a@example.com": 1,
		"first-b@example.com": 1,
		"second@example.com":  2,
	})

	// tier 2 is locked until every tier 1 recipient completes
	err := e.signing.SubmitField(ctx, SubmitFieldRequest{
		Token:   tokens["second@example.com"],
		FieldID: fields["second@example.com"],
		Value:   textValue("too early"),
	})
	assert.ErrorIs(t, err, domain.ErrOutOfOrder)
	assert.Contains(t, e.auditActions(t, docID), domain.AuditActionAccessDenied)

	signAndComplete(t, e, tokens["first-a@example.com"], fields["first-a@example.com"])

	// one of two parallel members is not enough
	err = e.signing.CompleteSigning(ctx, tokens["second@example.com"], "")
	assert.ErrorIs(t, err, domain.ErrOutOfOrder)

	signAndComplete(t, e, tokens["first-b@example.com"], fields["first-b@example.com"])
	signAndComplete(t, e, tokens["second@example.com"], fields["second@example.com"])

	e.waitStatus(t, docID, domain.DocumentStatusCompleted)
}

func TestCompleteSigningRequiresFields(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, tokens, fields := sendWithTiers(t, e, map[string]int{"solo@example.com": 1})
	tok := tokens["solo@example.com"]

	err := e.signing.CompleteSigning(ctx, tok, "")
	assert.ErrorIs(t, err, domain.ErrIncompleteFields)

	signAndComplete(t, e, tok, fields["solo@example.com"])
}

func TestCompleteSigningIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	docID, tokens, fields := sendWithTiers(t, e, map[string]int{
		"first@example.com":  1,
		"second@example.com": 2,
	})

	signAndComplete(t, e, tokens["first@example.com"], fields["first@example.com"])
	require.NoError(t, e.signing.CompleteSigning(ctx, tokens["first@example.com"], ""))

	completed := 0
	for _, action := range e.auditActions(t, docID) {
		if action == domain.AuditActionRecipientCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
}

func TestSubmitFieldValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, tokens, fields := sendWithTiers(t, e, map[string]int{"solo@example.com": 1})
	tok := tokens["solo@example.com"]
	fieldID := fields["solo@example.com"]

	err := e.signing.SubmitField(ctx, SubmitFieldRequest{
		Token:   tok,
		FieldID: fieldID,
		Value:   domain.FieldValue{Kind: domain.FieldTypeDate, Date: "2026-03-01"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidFieldValue)

	err = e.signing.SubmitField(ctx, SubmitFieldRequest{
		Token:   tok,
		FieldID: "no-such-field",
		Value:   textValue("x"),
	})
	assert.ErrorIs(t, err, domain.ErrUnknownField)
}

func TestSubmitFieldOverwrites(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	docID, tokens, fields := sendWithTiers(t, e, map[string]int{"solo@example.com": 1})
	tok := tokens["solo@example.com"]
	fieldID := fields["solo@example.com"]

	require.NoError(t, e.signing.SubmitField(ctx, SubmitFieldRequest{Token: tok, FieldID: fieldID, Value: textValue("first")}))
	require.NoError(t, e.signing.SubmitField(ctx, SubmitFieldRequest{Token: tok, FieldID: fieldID, Value: textValue("second")}))

	assigns, err := e.fields.ListAssignments(ctx, docID)
	require.NoError(t, err)
	require.Len(t, assigns, 1)
	assert.Equal(t, "second", assigns[0].Value.Text)
}

func TestGetViewMarksViewedOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	docID, tokens, _ := sendWithTiers(t, e, map[string]int{"solo@example.com": 1})
	tok := tokens["solo@example.com"]

	view, err := e.signing.GetView(ctx, tok, "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, view.TierUnlocked)
	require.Len(t, view.Fields, 1)

	_, err = e.signing.GetView(ctx, tok, "203.0.113.7")
	require.NoError(t, err)

	viewed := 0
	for _, action := range e.auditActions(t, docID) {
		if action == domain.AuditActionViewed {
			viewed++
		}
	}
	assert.Equal(t, 1, viewed)
}

func TestTokenRotation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	docID, tokens, _ := sendWithTiers(t, e, map[string]int{"solo@example.com": 1})
	oldTok := tokens["solo@example.com"]

	recs, err := e.recipients.ListByDocument(ctx, docID)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	newTok, err := e.issuer.RotateToken(ctx, docID, issuerID, recs[0].ID)
	require.NoError(t, err)
	require.NotEqual(t, oldTok, newTok)

	// rotation is atomic: the old token dies the instant the new one exists
	_, err = e.signing.GetView(ctx, oldTok, "")
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)

	_, err = e.signing.GetView(ctx, newTok, "")
	require.NoError(t, err)

	assert.Contains(t, e.auditActions(t, docID), domain.AuditActionTokenRotated)
}

func TestRotationInvalidatesInFlightSubmission(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	docID, tokens, fields := sendWithTiers(t, e, map[string]int{"solo@example.com": 1})
	oldTok := tokens["solo@example.com"]
	fieldID := fields["solo@example.com"]

	recs, err := e.recipients.ListByDocument(ctx, docID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	rec := recs[0]

	// hold the document lock so the submission passes the pre-lock guard
	// and parks waiting for it
	unlock := e.locks.Lock(docID)

	done := make(chan error, 1)
	go func() {
		done <- e.signing.SubmitField(ctx, SubmitFieldRequest{
			Token:   oldTok,
			FieldID: fieldID,
			Value:   textValue("stale write"),
		})
	}()
	time.Sleep(50 * time.Millisecond)

	// swap in a fresh token while the submission is parked, the same state
	// change a rotation applies under the lock
	_, digest, err := token.Mint()
	require.NoError(t, err)
	now := e.clock.Now()
	rec.SetToken(digest, now.Add(time.Hour), now)
	require.NoError(t, e.recipients.Update(ctx, rec))
	unlock()

	// the parked submission must lose: its token died before it could write
	assert.ErrorIs(t, <-done, domain.ErrTokenInvalid)

	assigns, err := e.fields.ListAssignments(ctx, docID)
	require.NoError(t, err)
	assert.Empty(t, assigns, "a rotated-out token must not land a write")
}

func TestSweptDocumentReportsTokenExpired(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	log := logrus.New()
	log.SetOutput(io.Discard)

	deadline := e.clock.Now().Add(48 * time.Hour)
	doc, err := e.issuer.CreateDocument(ctx, CreateDocumentRequest{
		IssuerID:  issuerID,
		Title:     "Time-boxed Offer",
		PDF:       []byte("%PDF-1.7 test source"),
		ExpiresAt: &deadline,
	})
	require.NoError(t, err)

	rec, err := e.issuer.AddRecipient(ctx, doc.ID, issuerID, "slow@example.com", 1)
	require.NoError(t, err)
	defs, err := e.issuer.DefineFields(ctx, doc.ID, issuerID, []FieldSpec{
		{Type: domain.FieldTypeText, Page: 0, X: 0.1, Y: 0.1, Width: 0.2, Height: 0.05, Required: true, RecipientID: rec.ID},
	})
	require.NoError(t, err)
	sent, err := e.issuer.Send(ctx, doc.ID, issuerID)
	require.NoError(t, err)
	tok := sent.Links[0].Token

	// past both the document deadline and the token TTL
	e.clock.Advance(80 * time.Hour)

	sweeper := expiry.NewSweeper(e.docs, e.recipients, e.auditLog, e.publisher, e.locks, e.clock, expiry.SweeperConfig{}, log)
	sweeper.Sweep(ctx)

	swept, err := e.docs.FindByID(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, domain.DocumentStatusExpired, swept.Status)

	// the sweep revoked the token, but the recipient sees the expiry
	err = e.signing.SubmitField(ctx, SubmitFieldRequest{Token: tok, FieldID: defs[0].ID, Value: textValue("late")})
	assert.ErrorIs(t, err, domain.ErrTokenExpired)
}

func TestConcurrentSubmissionsAcrossTiers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tierOne := []string{"first-a@example.com", "first-b@example.com"}
	docID, tokens, fields := sendWithTiers(t, e, map[string]int{
		"first-a@example.com": 1,
		"first-b@example.com": 1,
		"second@example.com":  2,
	})

	const lateAttempts = 4
	var wg sync.WaitGroup
	fillErrs := make(chan error, len(tierOne))
	lateErrs := make(chan error, lateAttempts)

	for _, email := range tierOne {
		wg.Add(1)
		go func(email string) {
			defer wg.Done()
			fillErrs <- e.signing.SubmitField(ctx, SubmitFieldRequest{
				Token:   tokens[email],
				FieldID: fields[email],
				Value:   textValue("signed by " + email),
			})
		}(email)
	}
	for i := 0; i < lateAttempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lateErrs <- e.signing.SubmitField(ctx, SubmitFieldRequest{
				Token:   tokens["second@example.com"],
				FieldID: fields["second@example.com"],
				Value:   textValue("too early"),
			})
		}()
	}
	wg.Wait()
	close(fillErrs)
	close(lateErrs)

	for err := range fillErrs {
		assert.NoError(t, err)
	}
	for err := range lateErrs {
		assert.ErrorIs(t, err, domain.ErrOutOfOrder)
	}

	// auditActions asserts the sequence is gap-free under the interleaving
	actions := e.auditActions(t, docID)
	fills, denies := 0, 0
	for _, a := range actions {
		switch a {
		case domain.AuditActionFieldFilled:
			fills++
		case domain.AuditActionAccessDenied:
			denies++
		}
	}
	assert.Equal(t, len(tierOne), fills)
	assert.Equal(t, lateAttempts, denies)
	assert.Len(t, actions, 2+fills+denies) // Created, Sent, then the race

	// completions from the unlocked tier race each other without losing one
	compErrs := make(chan error, len(tierOne))
	for _, email := range tierOne {
		wg.Add(1)
		go func(email string) {
			defer wg.Done()
			compErrs <- e.signing.CompleteSigning(ctx, tokens[email], "")
		}(email)
	}
	wg.Wait()
	close(compErrs)
	for err := range compErrs {
		assert.NoError(t, err)
	}

	completed := 0
	for _, a := range e.auditActions(t, docID) {
		if a == domain.AuditActionRecipientCompleted {
			completed++
		}
	}
	assert.Equal(t, len(tierOne), completed)

	// tier 2 unlocks only now
	require.NoError(t, e.signing.SubmitField(ctx, SubmitFieldRequest{
		Token:   tokens["second@example.com"],
		FieldID: fields["second@example.com"],
		Value:   textValue("on time"),
	}))
}

func TestTokenExpiry(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	docID, tokens, _ := sendWithTiers(t, e, map[string]int{"solo@example.com": 1})
	tok := tokens["solo@example.com"]

	e.clock.Advance(73 * time.Hour)

	_, err := e.signing.GetView(ctx, tok, "")
	assert.ErrorIs(t, err, domain.ErrTokenExpired)

	actions := e.auditActions(t, docID)
	assert.Equal(t, domain.AuditActionAccessDenied, actions[len(actions)-1])

	// rotation is the recovery path for an expired token
	recs, err := e.recipients.ListByDocument(ctx, docID)
	require.NoError(t, err)
	newTok, err := e.issuer.RotateToken(ctx, docID, issuerID, recs[0].ID)
	require.NoError(t, err)
	_, err = e.signing.GetView(ctx, newTok, "")
	require.NoError(t, err)
}

func TestCancelRevokesTokens(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	docID, tokens, _ := sendWithTiers(t, e, map[string]int{"solo@example.com": 1})
	tok := tokens["solo@example.com"]

	require.NoError(t, e.issuer.Cancel(ctx, docID, issuerID))

	doc, err := e.docs.FindByID(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusCancelled, doc.Status)

	_, err = e.signing.GetView(ctx, tok, "")
	assert.ErrorIs(t, err, domain.ErrTokenRevoked)

	assert.Contains(t, e.auditActions(t, docID), domain.AuditActionCancelled)
	assert.Contains(t, e.eventTypes(), ports.EventDocumentCancelled)

	// terminal states accept no further transitions
	err = e.issuer.Cancel(ctx, docID, issuerID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestDeclineCancelsDocument(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	docID, tokens, _ := sendWithTiers(t, e, map[string]int{
		"a@example.com": 1,
		"b@example.com": 1,
	})

	require.NoError(t, e.signing.Decline(ctx, tokens["a@example.com"], "wrong terms", ""))

	doc, err := e.docs.FindByID(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusCancelled, doc.Status)

	// the co-signer's link dies with the document
	_, err = e.signing.GetView(ctx, tokens["b@example.com"], "")
	assert.ErrorIs(t, err, domain.ErrTokenRevoked)

	actions := e.auditActions(t, docID)
	assert.Contains(t, actions, domain.AuditActionDeclined)
	assert.Equal(t, domain.AuditActionCancelled, actions[len(actions)-1])
}

func TestDiscardDraft(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	doc := e.createDraft(t)
	require.NoError(t, e.issuer.DiscardDraft(ctx, doc.ID, issuerID))
	_, err := e.docs.FindByID(ctx, doc.ID)
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)

	docID, _, _ := sendWithTiers(t, e, map[string]int{"solo@example.com": 1})
	err = e.issuer.DiscardDraft(ctx, docID, issuerID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestIssuerIsolation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	doc := e.createDraft(t)

	_, err := e.issuer.GetStatus(ctx, doc.ID, "someone-else")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)

	_, err = e.issuer.GetAuditTrail(ctx, doc.ID, "someone-else")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)

	err = e.issuer.Cancel(ctx, doc.ID, "someone-else")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestUnknownTokenLeavesNoTrace(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	docID, _, _ := sendWithTiers(t, e, map[string]int{"solo@example.com": 1})
	before := len(e.auditActions(t, docID))

	_, err := e.signing.GetView(ctx, "forged-token", "")
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)

	assert.Len(t, e.auditActions(t, docID), before)
}
